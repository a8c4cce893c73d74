package budget

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brightgems/openai-api-server/internal/tokenizer"
)

const (
	// DefaultContextLimit applies to models no rule matches.
	DefaultContextLimit = 4000
	// FloorTokens is returned when the prompt alone overflows the context
	// window; the upstream rejects non-positive max_tokens outright.
	FloorTokens = 512
)

type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
	MatchContains MatchKind = "contains"
)

type Rule struct {
	Match   MatchKind `yaml:"match"`
	Pattern string    `yaml:"pattern"`
	Limit   int       `yaml:"limit"`
}

func (r Rule) matches(model string) bool {
	switch r.Match {
	case MatchExact:
		return model == r.Pattern
	case MatchPrefix:
		return strings.HasPrefix(model, r.Pattern)
	case MatchContains:
		return strings.Contains(model, r.Pattern)
	}
	return false
}

// DefaultRules is evaluated top to bottom; the first match wins, so more
// specific rules come first.
var DefaultRules = []Rule{
	{Match: MatchExact, Pattern: "gpt-4-1106-preview", Limit: 4000},
	{Match: MatchContains, Pattern: "32k", Limit: 32000},
	{Match: MatchContains, Pattern: "16k", Limit: 16000},
	{Match: MatchPrefix, Pattern: "gpt-4", Limit: 8000},
}

type Policy struct {
	rules   []Rule
	counter tokenizer.Counter
}

func NewPolicy(counter tokenizer.Counter, rules []Rule) *Policy {
	if rules == nil {
		rules = DefaultRules
	}
	return &Policy{rules: append([]Rule(nil), rules...), counter: counter}
}

func (p *Policy) ContextLimit(model string) int {
	for _, r := range p.rules {
		if r.matches(model) {
			return r.Limit
		}
	}
	return DefaultContextLimit
}

// MaxOutputTokens bounds the completion so that prompt plus answer fit the
// model's context window, never exceeding requested and never going below 1.
func (p *Policy) MaxOutputTokens(model, promptText string, requested int) int {
	remaining := p.ContextLimit(model) - p.counter.Count(promptText)
	switch {
	case remaining <= 0:
		return FloorTokens
	case remaining > requested:
		return requested
	default:
		return remaining
	}
}

// LoadRules reads an ordered rule list from a YAML file:
//
//	- match: contains
//	  pattern: 32k
//	  limit: 32000
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model limits: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("decode model limits: %w", err)
	}
	for i, r := range rules {
		switch r.Match {
		case MatchExact, MatchPrefix, MatchContains:
		default:
			return nil, fmt.Errorf("model limits rule %d: unknown match %q", i, r.Match)
		}
		if r.Pattern == "" || r.Limit <= 0 {
			return nil, fmt.Errorf("model limits rule %d: pattern and positive limit required", i)
		}
	}
	return rules, nil
}
