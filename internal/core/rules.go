package core

import "time"

// RuleEngine evaluates conditional visibility rules against records.
//
// Unlike a filter chain, a rule has one logic operator that reduces all of
// its conditions uniformly: AND requires every condition, OR requires any.
type RuleEngine struct {
	ev *evaluator
}

// NewRuleEngine creates an engine that types conditions by fields.
func NewRuleEngine(fields []Field) *RuleEngine {
	return &RuleEngine{ev: newEvaluator(fields)}
}

// WithClock sets the clock used by relative date operators.
func (e *RuleEngine) WithClock(now func() time.Time) *RuleEngine {
	e.ev.now = now
	return e
}

// Matches reports whether a record satisfies a rule's conditions. A rule
// with no conditions always matches.
func (e *RuleEngine) Matches(rule ConditionalRule, r Record) bool {
	if len(rule.Conditions) == 0 {
		return true
	}

	if rule.Logic == LogicOr {
		for _, c := range rule.Conditions {
			if e.ev.eval(c.predicate(), r) {
				return true
			}
		}
		return false
	}

	for _, c := range rule.Conditions {
		if !e.ev.eval(c.predicate(), r) {
			return false
		}
	}
	return true
}

// Visible returns the visibility a rule assigns to its targets for a record.
func (e *RuleEngine) Visible(rule ConditionalRule, r Record) bool {
	matches := e.Matches(rule, r)
	if rule.Action == ActionHide {
		return !matches
	}
	return matches
}

// Visibility evaluates rules in declaration order and returns the resulting
// visibility per element id. Disabled rules are skipped and leave their
// targets untouched. When several rules target one element the last wins.
func (e *RuleEngine) Visibility(rules []ConditionalRule, r Record) map[string]bool {
	out := make(map[string]bool)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		visible := e.Visible(rule, r)
		for _, id := range rule.AffectedElements {
			out[id] = visible
		}
	}
	return out
}

// RuleMatches evaluates one rule against a record.
func RuleMatches(rule ConditionalRule, r Record, fields []Field) bool {
	return NewRuleEngine(fields).Matches(rule, r)
}

func (c Condition) predicate() predicate {
	return predicate{field: c.Field, op: c.Operator, value: c.Value, second: c.SecondValue}
}
