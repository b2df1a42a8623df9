package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/artifact"
	"github.com/relayhq/emlpipe/internal/email"
	"github.com/relayhq/emlpipe/internal/pipeline"
	"github.com/relayhq/emlpipe/internal/store"
	"github.com/relayhq/emlpipe/pkg/kbapi"
)

// pipelineEnv holds the initialized store, clients and pipeline shared by
// the serve/upload/process commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "emlpipe.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, LLM and knowledge base clients, and builds
// the Pipeline. Upload mode skips the LLM and KB clients since only the
// dedup screen runs. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var rewriter pipeline.Rewriter
	var kbClient kbapi.Client
	if mode != "upload" {
		rewriter, err = pipeline.NewRewriter(cfg.LLM)
		if err != nil {
			_ = st.Close()
			return nil, err
		}

		var kbOpts []kbapi.Option
		if cfg.KB.BaseURL != "" {
			kbOpts = append(kbOpts, kbapi.WithBaseURL(cfg.KB.BaseURL))
		}
		if cfg.KB.UploadDelaySeconds > 0 {
			kbOpts = append(kbOpts, kbapi.WithRateLimit(1/cfg.KB.UploadDelaySeconds))
		}
		kbClient = kbapi.NewClient(cfg.KB.Key, kbOpts...)
	}

	rules := email.DefaultRules()
	if cfg.Cleaning.RulesPath != "" {
		rules, err = email.LoadRules(cfg.Cleaning.RulesPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load cleaning rules")
		}
		zap.L().Info("cleaning rules loaded", zap.String("path", cfg.Cleaning.RulesPath))
	}

	layout := artifact.NewLayout(cfg.Data.Dir)
	p := pipeline.New(cfg, st, layout, rewriter, kbClient, rules, pipeline.NewProgressTracker())

	return &pipelineEnv{Store: st, Pipeline: p}, nil
}
