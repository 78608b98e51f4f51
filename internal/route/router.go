package route

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/cortexhub/cortex-dispatch/internal/config"
)

// DecisionType describes what kind of destination a decision names
type DecisionType string

const (
	TypeWorkflow DecisionType = "workflow"
	TypeSubagent DecisionType = "subagent"
	TypeSkill    DecisionType = "skill"
	TypeGeneral  DecisionType = "general"
)

// Rule is one declarative routing rule: a destination scored by
// weighted keyword matching. Priority 1 is strongest.
type Rule struct {
	ID       string
	Category string
	Keywords []string
	Priority int
	Type     DecisionType
	Workflow string
	Tool     string
	Enabled  bool
}

// Decision is the router's answer. Confidence is always in [0,1] and
// the router always produces a decision; "general" is the floor.
type Decision struct {
	DestinationID   string
	Category        string
	Confidence      float64
	MatchedKeywords []string
	Type            DecisionType
	WorkflowID      string
	ToolID          string
}

type compiledRule struct {
	rule     Rule
	patterns []*regexp.Regexp
}

// Router scores every enabled rule and returns the best one. The
// compiled table is cached; Invalidate rebuilds and swaps it so reads
// never observe a half-built table.
type Router struct {
	mu       sync.RWMutex
	source   []Rule
	compiled []compiledRule
	logger   *slog.Logger
}

// NewRouter compiles the given rules, or the built-in table when nil.
func NewRouter(rules []Rule, logger *slog.Logger) (*Router, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	r := &Router{source: rules, logger: logger}
	compiled, err := compile(rules)
	if err != nil {
		return nil, err
	}
	r.compiled = compiled
	return r, nil
}

// FromConfig builds a router from config rules, falling back to the
// built-in table when none are declared.
func FromConfig(rules []config.RouterRuleConfig, logger *slog.Logger) (*Router, error) {
	return NewRouter(TableFromConfig(rules), logger)
}

// TableFromConfig converts config rules to the router's rule table.
// An empty declaration selects the built-in defaults.
func TableFromConfig(rules []config.RouterRuleConfig) []Rule {
	if len(rules) == 0 {
		return nil
	}
	table := make([]Rule, 0, len(rules))
	for _, rc := range rules {
		table = append(table, Rule{
			ID:       rc.ID,
			Category: rc.Category,
			Keywords: rc.Keywords,
			Priority: rc.Priority,
			Type:     DecisionType(rc.Type),
			Workflow: rc.Workflow,
			Tool:     rc.Tool,
			Enabled:  !rc.Disabled,
		})
	}
	return table
}

func compile(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.Priority < 1 {
			return nil, fmt.Errorf("rule %s: priority must be >= 1", rule.ID)
		}
		patterns := make([]*regexp.Regexp, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			re, err := regexp.Compile(keywordPattern(kw))
			if err != nil {
				return nil, fmt.Errorf("rule %s: keyword %q: %w", rule.ID, kw, err)
			}
			patterns = append(patterns, re)
		}
		compiled = append(compiled, compiledRule{rule: rule, patterns: patterns})
	}
	return compiled, nil
}

// keywordPattern anchors ASCII keywords on word boundaries; CJK
// keywords match as plain substrings since \b has no meaning there.
func keywordPattern(kw string) string {
	quoted := regexp.QuoteMeta(kw)
	if isASCIIWord(kw) {
		return `(?i)\b` + quoted + `\b`
	}
	return `(?i)` + quoted
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return s != ""
}

// Route scores every enabled rule against the query and returns the
// best decision. Score is (matched/total) x (1/priority); confidence
// is min(score*2, 1.0) above the 0.3 threshold, else the 0.5 floor.
// No match at all yields a synthetic "general" decision, never an
// error.
func (r *Router) Route(query string) Decision {
	r.mu.RLock()
	compiled := r.compiled
	r.mu.RUnlock()

	type scored struct {
		rule    Rule
		score   float64
		matched []string
	}

	best := make([]scored, 0, len(compiled))
	for _, cr := range compiled {
		var matched []string
		for i, re := range cr.patterns {
			if re.MatchString(query) {
				matched = append(matched, cr.rule.Keywords[i])
			}
		}
		if len(matched) == 0 {
			continue
		}
		score := float64(len(matched)) / float64(len(cr.rule.Keywords)) *
			(1.0 / float64(cr.rule.Priority))
		best = append(best, scored{rule: cr.rule, score: score, matched: matched})
	}

	if len(best) == 0 {
		return generalDecision()
	}

	sort.SliceStable(best, func(i, j int) bool {
		return best[i].score > best[j].score
	})
	top := best[0]

	confidence := 0.5
	if top.score > 0.3 {
		confidence = top.score * 2
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	if r.logger != nil {
		r.logger.Debug("routing decision",
			"destination", top.rule.ID,
			"score", top.score,
			"matched", len(top.matched))
	}

	return Decision{
		DestinationID:   top.rule.ID,
		Category:        top.rule.Category,
		Confidence:      confidence,
		MatchedKeywords: top.matched,
		Type:            top.rule.Type,
		WorkflowID:      top.rule.Workflow,
		ToolID:          top.rule.Tool,
	}
}

func generalDecision() Decision {
	return Decision{
		DestinationID: "general",
		Category:      "general",
		Confidence:    0.5,
		Type:          TypeGeneral,
	}
}

// Invalidate recompiles the rule table and swaps it in atomically.
// Callers must not assume hot reload without triggering this.
func (r *Router) Invalidate() error {
	r.mu.RLock()
	source := r.source
	r.mu.RUnlock()

	compiled, err := compile(source)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.compiled = compiled
	r.mu.Unlock()
	return nil
}

// Replace swaps in a new rule source and recompiles.
func (r *Router) Replace(rules []Rule) error {
	compiled, err := compile(rules)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.source = rules
	r.compiled = compiled
	r.mu.Unlock()
	return nil
}

// Rules returns the current rule source.
func (r *Router) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}
