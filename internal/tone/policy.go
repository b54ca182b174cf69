package tone

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// Term is one banned or soft-banned word in the tone policy.
type Term struct {
	Word       string `yaml:"word"`
	Severity   string `yaml:"severity"` // hard|fail blocks, soft|warn advises
	Suggestion string `yaml:"suggestion"`
	Category   string `yaml:"category"`
}

// Policy is the full banned-term list.
type Policy struct {
	Terms []Term `yaml:"terms"`
}

// LoadPolicy reads a tone policy from a YAML file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "tone: read policy %s", path)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, eris.Wrap(err, "tone: parse policy")
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects empty words and unknown severities.
func (p Policy) Validate() error {
	for _, t := range p.Terms {
		if strings.TrimSpace(t.Word) == "" {
			return eris.New("tone: policy term with empty word")
		}
		if _, ok := normalizeSeverity(t.Severity); !ok {
			return eris.Errorf("tone: term %q has unknown severity %q", t.Word, t.Severity)
		}
	}
	return nil
}

// normalizeSeverity maps a policy severity label onto the flag severity. Both
// the hard/soft and fail/warn vocabularies are accepted.
func normalizeSeverity(s string) (model.ToneSeverity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hard", "fail":
		return model.ToneSeverityFail, true
	case "soft", "warn", "":
		return model.ToneSeverityWarn, true
	default:
		return "", false
	}
}

// compile builds the single case-insensitive word-boundary expression
// covering the full term list, plus a lookup from lowercased word to term.
func (p Policy) compile() (*regexp.Regexp, map[string]Term) {
	if len(p.Terms) == 0 {
		return nil, nil
	}
	lookup := make(map[string]Term, len(p.Terms))
	parts := make([]string, 0, len(p.Terms))
	for _, t := range p.Terms {
		word := strings.ToLower(strings.TrimSpace(t.Word))
		if word == "" {
			continue
		}
		if _, dup := lookup[word]; dup {
			continue
		}
		lookup[word] = t
		parts = append(parts, regexp.QuoteMeta(word))
	}
	if len(parts) == 0 {
		return nil, nil
	}
	re := regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)
	return re, lookup
}
