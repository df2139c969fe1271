package rules

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"time"
)

// Rule is one configured event: a message pattern and the script to run
// when a journal message matches it.
type Rule struct {
	Name    string
	Pattern string
	// Delay is the next-watch delay. Zero means the rule always fires.
	Delay  time.Duration
	Script string
	// Timeout bounds script execution. Zero means fire and forget.
	Timeout time.Duration
}

// PatternError reports a rule whose pattern does not compile.
type PatternError struct {
	Rule string
	Err  error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("compiling message pattern of event %q: %v", e.Rule, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// RuleSet matches text against every rule at once. It is immutable after
// Compile and safe for concurrent use.
type RuleSet struct {
	rules    []Rule
	patterns []*regexp.Regexp
	// any is the alternation of all patterns. When it does not match,
	// none of the individual patterns can.
	any *regexp.Regexp
}

// Compile builds a RuleSet. Rule indices follow the order of rules.
func Compile(rules []Rule) (*RuleSet, error) {
	set := &RuleSet{
		rules:    make([]Rule, len(rules)),
		patterns: make([]*regexp.Regexp, len(rules)),
	}
	copy(set.rules, rules)

	parsed := make([]*syntax.Regexp, len(rules))
	for i, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, &PatternError{Rule: rule.Name, Err: err}
		}
		set.patterns[i] = re
		// regexp.Compile accepted it, so parsing cannot fail.
		parsed[i], _ = syntax.Parse(rule.Pattern, syntax.Perl)
	}
	set.any = alternate(parsed)
	return set, nil
}

// alternate compiles the union of the parsed patterns. Joining pattern text
// is unsafe: a trailing \Q in one pattern would quote the next. It returns
// nil when there is nothing to gain or the union does not compile, for
// instance with duplicate capture names.
func alternate(parsed []*syntax.Regexp) *regexp.Regexp {
	if len(parsed) < 2 {
		return nil
	}
	union := &syntax.Regexp{Op: syntax.OpAlternate, Sub: parsed}
	re, err := regexp.Compile(union.String())
	if err != nil {
		return nil
	}
	return re
}

// Match returns the ascending indices of all rules whose pattern matches text.
func (s *RuleSet) Match(text string) []int {
	if s.any != nil && !s.any.MatchString(text) {
		return nil
	}
	var matched []int
	for i, re := range s.patterns {
		if re.MatchString(text) {
			matched = append(matched, i)
		}
	}
	return matched
}

// Rule returns the rule at index i.
func (s *RuleSet) Rule(i int) Rule { return s.rules[i] }

// Rules returns a copy of all rules in index order.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s *RuleSet) Len() int { return len(s.rules) }
