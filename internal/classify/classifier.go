package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cortexhub/cortex-dispatch/internal/config"
)

// Confidence tiers for classification results
type Confidence string

const (
	ConfidenceExact    Confidence = "exact"
	ConfidencePattern  Confidence = "pattern"
	ConfidenceFallback Confidence = "fallback"
)

// Priority below which a match is considered exact rather than pattern
const exactPriorityCeiling = 20

// Rule is one classifier rule. Rules are immutable after load; any one
// of Patterns matching is sufficient.
type Rule struct {
	ID       string
	Patterns []string
	Target   RouteTarget
	Priority int
	Enabled  bool

	compiled []*regexp.Regexp
}

// Result is the outcome of classifying one query. Produced fresh per
// query and never persisted.
type Result struct {
	Intent         string
	Target         RouteTarget
	Confidence     Confidence
	MatchedPattern string
}

// Classifier matches raw text against an ordered rule table. It is
// pure over the loaded table: safe for concurrent use, identical input
// yields identical output.
type Classifier struct {
	rules []Rule
}

// NewClassifier compiles and orders a rule table. Rules are sorted by
// ascending priority; equal priorities keep declaration order, which
// callers may rely on as stable.
func NewClassifier(rules []Rule) (*Classifier, error) {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		compiled := make([]*regexp.Regexp, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("rule %s: bad pattern %q: %w", r.ID, p, err)
			}
			compiled = append(compiled, re)
		}
		r.compiled = compiled
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return &Classifier{rules: out}, nil
}

// Classify evaluates rules in ascending priority order; the first
// matching pattern wins. Empty input and misses both resolve to the
// agent target at fallback confidence. A miss is never an error.
func (c *Classifier) Classify(query string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return fallbackResult()
	}

	for _, rule := range c.rules {
		for i, re := range rule.compiled {
			if re.MatchString(query) {
				conf := ConfidencePattern
				if rule.Priority < exactPriorityCeiling {
					conf = ConfidenceExact
				}
				return Result{
					Intent:         rule.ID,
					Target:         rule.Target,
					Confidence:     conf,
					MatchedPattern: rule.Patterns[i],
				}
			}
		}
	}
	return fallbackResult()
}

// Rules returns the loaded table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return c.rules
}

func fallbackResult() Result {
	return Result{
		Intent:     "general",
		Target:     Agent(),
		Confidence: ConfidenceFallback,
	}
}

// FromConfig builds a classifier from config rules, falling back to
// the built-in table when none are declared.
func FromConfig(rules []config.ClassifierRuleConfig) (*Classifier, error) {
	if len(rules) == 0 {
		return NewClassifier(DefaultRules())
	}
	table := make([]Rule, 0, len(rules))
	for _, rc := range rules {
		target, err := targetFromConfig(rc)
		if err != nil {
			return nil, err
		}
		table = append(table, Rule{
			ID:       rc.ID,
			Patterns: rc.Patterns,
			Target:   target,
			Priority: rc.Priority,
			Enabled:  !rc.Disabled,
		})
	}
	return NewClassifier(table)
}

func targetFromConfig(rc config.ClassifierRuleConfig) (RouteTarget, error) {
	switch rc.Target {
	case "workflow":
		if rc.Workflow == "" {
			return RouteTarget{}, fmt.Errorf("rule %s: workflow target needs workflow id", rc.ID)
		}
		return Workflow(rc.Workflow), nil
	case "tool":
		if rc.Tool == "" {
			return RouteTarget{}, fmt.Errorf("rule %s: tool target needs tool id", rc.ID)
		}
		return Tool(rc.Tool), nil
	case "doc":
		return DocCommand(), nil
	case "slash":
		return SlashCommand(rc.Command), nil
	case "agent", "":
		return Agent(), nil
	default:
		return RouteTarget{}, fmt.Errorf("rule %s: unknown target %q", rc.ID, rc.Target)
	}
}
