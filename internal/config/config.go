package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	KB       KBConfig       `yaml:"kb" mapstructure:"kb"`
	Cleaning CleaningConfig `yaml:"cleaning" mapstructure:"cleaning"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Cleanup  CleanupConfig  `yaml:"cleanup" mapstructure:"cleanup"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DataConfig configures on-disk batch artifact storage.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LLMConfig selects and configures the rewrite provider.
type LLMConfig struct {
	Provider        string          `yaml:"provider" mapstructure:"provider"`
	Prompt          string          `yaml:"prompt" mapstructure:"prompt"`
	DelaySeconds    float64         `yaml:"delay_seconds" mapstructure:"delay_seconds"`
	MaxRetries      int             `yaml:"max_retries" mapstructure:"max_retries"`
	OutageThreshold int             `yaml:"outage_threshold" mapstructure:"outage_threshold"`
	GPTBots         GPTBotsConfig   `yaml:"gptbots" mapstructure:"gptbots"`
	Anthropic       AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
}

// GPTBotsConfig holds GPTBots conversation API settings.
type GPTBotsConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	UserID  string `yaml:"user_id" mapstructure:"user_id"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// KBConfig holds knowledge-base API settings.
type KBConfig struct {
	Key                string  `yaml:"key" mapstructure:"key"`
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	DefaultKB          string  `yaml:"default_kb" mapstructure:"default_kb"`
	ChunkToken         int     `yaml:"chunk_token" mapstructure:"chunk_token"`
	ChunkSeparator     string  `yaml:"chunk_separator" mapstructure:"chunk_separator"`
	UploadDelaySeconds float64 `yaml:"upload_delay_seconds" mapstructure:"upload_delay_seconds"`
}

// CleaningConfig configures email cleaning behavior.
type CleaningConfig struct {
	RulesPath       string `yaml:"rules_path" mapstructure:"rules_path"`
	MinContentBytes int    `yaml:"min_content_bytes" mapstructure:"min_content_bytes"`
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	SkipIfExists bool `yaml:"skip_if_exists" mapstructure:"skip_if_exists"`
}

// CleanupConfig configures the stale-batch janitor.
type CleanupConfig struct {
	MinFiles int `yaml:"min_files" mapstructure:"min_files"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EMLPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "emlpipe.db")
	v.SetDefault("data.dir", "eml_process")
	v.SetDefault("llm.provider", "gptbots")
	v.SetDefault("llm.prompt", "Rewrite the following email as a concise knowledge-base article. Keep all factual details.")
	v.SetDefault("llm.delay_seconds", 1.0)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.outage_threshold", 5)
	v.SetDefault("llm.gptbots.base_url", "https://api.gptbots.ai")
	v.SetDefault("llm.gptbots.user_id", "emlpipe")
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.anthropic.max_tokens", 4096)
	v.SetDefault("kb.base_url", "https://api.gptbots.ai")
	v.SetDefault("kb.chunk_token", 600)
	v.SetDefault("kb.upload_delay_seconds", 2.0)
	v.SetDefault("pipeline.skip_if_exists", true)
	v.SetDefault("cleanup.min_files", 100)
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode
// ("process", "upload", "serve"). Collects all problems into one error.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch c.Store.Driver {
	case "sqlite":
		check(c.Store.Path != "", "store.path is required for the sqlite driver")
	case "postgres":
		check(c.Store.DatabaseURL != "", "store.database_url is required for the postgres driver")
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	check(c.Data.Dir != "", "data.dir is required")

	checkProcessing := func() {
		switch c.LLM.Provider {
		case "gptbots":
			check(c.LLM.GPTBots.Key != "", "llm.gptbots.key is required")
		case "anthropic":
			check(c.LLM.Anthropic.Key != "", "llm.anthropic.key is required")
		default:
			problems = append(problems, fmt.Sprintf("llm.provider must be gptbots or anthropic, got %q", c.LLM.Provider))
		}
		check(c.KB.Key != "", "kb.key is required")
		check(c.LLM.OutageThreshold >= 1, "llm.outage_threshold must be >= 1")
	}

	switch mode {
	case "upload":
		// Upload needs only store and data config.
	case "process":
		checkProcessing()
	case "serve":
		checkProcessing()
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Server.MaxUploadMB >= 1, "server.max_upload_mb must be >= 1")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
