package email

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules controls which lines cleaning strips from an email body. Technical
// header lines matching a prefix are removed along with their indented
// continuation lines.
type Rules struct {
	StripPrefixes   []string `yaml:"strip_prefixes"`
	MinContentBytes int      `yaml:"min_content_bytes"`
}

// DefaultRules strips the transport headers that leak into forwarded bodies.
func DefaultRules() Rules {
	return Rules{
		StripPrefixes: []string{"Received:", "Message-ID:", "Return-Path:", "X-"},
	}
}

// LoadRules reads a rules file. Prefixes in the file replace the defaults
// only when present.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "email: read rules %s", path)
	}
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, eris.Wrapf(err, "email: parse rules %s", path)
	}
	if len(rules.StripPrefixes) == 0 {
		rules.StripPrefixes = DefaultRules().StripPrefixes
	}
	return rules, nil
}

var blankRunRe = regexp.MustCompile(`\n\s*\n\s*\n`)

// Clean strips technical header lines and collapses runs of blank lines.
// A stripped line swallows the indented continuation lines that follow it.
func (r Rules) Clean(content string) string {
	if content == "" {
		return ""
	}

	content = blankRunRe.ReplaceAllString(content, "\n\n")

	var cleaned []string
	skipping := false
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)

		if r.matches(line) {
			skipping = true
			continue
		}
		if skipping && line != "" && !strings.HasPrefix(raw, " ") {
			skipping = false
		}
		if !skipping {
			cleaned = append(cleaned, line)
		}
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func (r Rules) matches(line string) bool {
	for _, p := range r.StripPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
