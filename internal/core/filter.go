package core

import (
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

// operatorSets lists the operators valid for each field type. Image fields
// use the text set.
var operatorSets = map[FieldType][]Operator{
	FieldText: {
		OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpRegex, OpIn, OpNotIn, OpIsEmpty, OpIsNotEmpty,
	},
	FieldNumber: {
		OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan,
		OpLessThanOrEqual, OpBetween, OpNotBetween, OpIsEmpty, OpIsNotEmpty,
	},
	FieldDate: {
		OpEquals, OpBefore, OpAfter, OpBetween, OpNotBetween, OpIsToday,
		OpThisWeek, OpThisMonth, OpThisYear, OpIsEmpty, OpIsNotEmpty,
	},
	FieldBoolean: {
		OpIsTrue, OpIsFalse, OpEquals, OpIsEmpty, OpIsNotEmpty,
	},
	FieldArray: {
		OpArrayContains, OpArrayNotContains, OpArrayIsEmpty, OpArrayIsNotEmpty,
		OpIsEmpty, OpIsNotEmpty,
	},
}

// OperatorsFor returns the operators valid for a field type.
func OperatorsFor(t FieldType) []Operator {
	if t == FieldImage || !t.Valid() {
		t = FieldText
	}
	return slices.Clone(operatorSets[t])
}

// ValidOperator reports whether op applies to fields of type t.
func ValidOperator(t FieldType, op Operator) bool {
	return slices.Contains(OperatorsFor(t), op)
}

// predicate is the shared shape of a filter and a rule condition.
type predicate struct {
	field  string
	op     Operator
	value  any
	second any
}

// evaluator applies predicates to records. It caches compiled regexes;
// patterns that fail to compile are cached as nil and never match.
type evaluator struct {
	fields map[string]Field
	now    func() time.Time

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func newEvaluator(fields []Field) *evaluator {
	return &evaluator{
		fields:   IndexFields(fields),
		now:      time.Now,
		patterns: make(map[string]*regexp.Regexp),
	}
}

func (e *evaluator) fieldType(name string) FieldType {
	if f, ok := e.fields[name]; ok {
		return f.Type
	}
	return FieldText
}

func (e *evaluator) eval(p predicate, r Record) bool {
	cell := r[p.field]

	switch p.op {
	case OpIsEmpty:
		return IsEmpty(cell)
	case OpIsNotEmpty:
		return !IsEmpty(cell)
	}

	switch e.fieldType(p.field) {
	case FieldNumber:
		return evalNumber(p, cell)
	case FieldDate:
		return evalDate(p, cell, e.now())
	case FieldBoolean:
		return evalBool(p, cell)
	case FieldArray:
		return evalArray(p, cell)
	default:
		return e.evalText(p, cell)
	}
}

func (e *evaluator) evalText(p predicate, cell any) bool {
	s := strings.ToLower(Stringify(cell))
	v := strings.ToLower(Stringify(p.value))

	switch p.op {
	case OpEquals:
		return s == v
	case OpNotEquals:
		return s != v
	case OpContains:
		return strings.Contains(s, v)
	case OpNotContains:
		return !strings.Contains(s, v)
	case OpStartsWith:
		return strings.HasPrefix(s, v)
	case OpEndsWith:
		return strings.HasSuffix(s, v)
	case OpIn:
		return slices.Contains(valueList(p.value), s)
	case OpNotIn:
		return !slices.Contains(valueList(p.value), s)
	case OpRegex:
		re := e.compile(Stringify(p.value))
		return re != nil && re.MatchString(Stringify(cell))
	}
	return false
}

// compile returns the cached case-insensitive regex for pattern, or nil if
// it does not compile.
func (e *evaluator) compile(pattern string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.patterns[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	e.patterns[pattern] = re
	return re
}

// valueList splits an "in" operand into lowercase members. It accepts a
// list or a comma-separated string.
func valueList(v any) []string {
	var items []string
	if list, ok := ToSlice(v); ok {
		for _, item := range list {
			items = append(items, Stringify(item))
		}
	} else {
		items = strings.Split(Stringify(v), ",")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.ToLower(strings.TrimSpace(item)))
	}
	return out
}

func evalNumber(p predicate, cell any) bool {
	n, ok := ToFloat(cell)
	if !ok {
		return false
	}
	v, ok := ToFloat(p.value)
	if !ok {
		return false
	}

	switch p.op {
	case OpEquals:
		return n == v
	case OpNotEquals:
		return n != v
	case OpGreaterThan:
		return n > v
	case OpGreaterThanOrEqual:
		return n >= v
	case OpLessThan:
		return n < v
	case OpLessThanOrEqual:
		return n <= v
	case OpBetween, OpNotBetween:
		hi, ok := ToFloat(p.second)
		if !ok {
			return false
		}
		in := n >= v && n <= hi
		if p.op == OpNotBetween {
			return !in
		}
		return in
	}
	return false
}

// dayNumber maps a time to a comparable calendar day, ignoring time of day
// and zone.
func dayNumber(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func evalDate(p predicate, cell any, now time.Time) bool {
	t, ok := ToTime(cell)
	if !ok {
		return false
	}
	day := dayNumber(t)

	switch p.op {
	case OpIsToday:
		return day == dayNumber(now)
	case OpThisWeek:
		y1, w1 := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).ISOWeek()
		y2, w2 := now.ISOWeek()
		return y1 == y2 && w1 == w2
	case OpThisMonth:
		return t.Year() == now.Year() && t.Month() == now.Month()
	case OpThisYear:
		return t.Year() == now.Year()
	}

	v, ok := ToTime(p.value)
	if !ok {
		return false
	}
	ref := dayNumber(v)

	switch p.op {
	case OpEquals:
		return day == ref
	case OpBefore:
		return day < ref
	case OpAfter:
		return day > ref
	case OpBetween, OpNotBetween:
		hi, ok := ToTime(p.second)
		if !ok {
			return false
		}
		in := day >= ref && day <= dayNumber(hi)
		if p.op == OpNotBetween {
			return !in
		}
		return in
	}
	return false
}

func evalBool(p predicate, cell any) bool {
	b, ok := ToBool(cell)
	if !ok {
		return false
	}
	switch p.op {
	case OpIsTrue:
		return b
	case OpIsFalse:
		return !b
	case OpEquals:
		v, ok := ToBool(p.value)
		return ok && b == v
	}
	return false
}

func evalArray(p predicate, cell any) bool {
	items, _ := ToSlice(cell)

	switch p.op {
	case OpArrayIsEmpty:
		return len(items) == 0
	case OpArrayIsNotEmpty:
		return len(items) > 0
	case OpArrayContains, OpArrayNotContains:
		want := strings.ToLower(Stringify(p.value))
		found := false
		for _, item := range items {
			if strings.ToLower(Stringify(item)) == want {
				found = true
				break
			}
		}
		if p.op == OpArrayNotContains {
			return !found
		}
		return found
	}
	return false
}

// FilterChain is an ordered filter set. Each filter's Logic connects it to
// the next one and the chain is folded left to right with no precedence:
// [A AND, B OR, C] evaluates as (A && B) || C.
type FilterChain struct {
	filters []Filter
	ev      *evaluator
}

// NewFilterChain builds a chain over the given fields. Filters on unknown
// fields use text semantics.
func NewFilterChain(filters []Filter, fields []Field) *FilterChain {
	return &FilterChain{
		filters: slices.Clone(filters),
		ev:      newEvaluator(fields),
	}
}

// WithClock sets the clock used by relative date operators.
func (c *FilterChain) WithClock(now func() time.Time) *FilterChain {
	c.ev.now = now
	return c
}

// Len returns the number of filters in the chain.
func (c *FilterChain) Len() int {
	return len(c.filters)
}

// Include reports whether a record passes the chain. An empty chain
// includes every record.
func (c *FilterChain) Include(r Record) bool {
	if len(c.filters) == 0 {
		return true
	}

	result := c.ev.eval(c.filters[0].predicate(), r)
	for i := 1; i < len(c.filters); i++ {
		next := c.ev.eval(c.filters[i].predicate(), r)
		if c.filters[i-1].Logic == LogicOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

// Apply returns the records that pass the chain, in input order.
func (c *FilterChain) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if c.Include(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f Filter) predicate() predicate {
	return predicate{field: f.Field, op: f.Operator, value: f.Value, second: f.SecondValue}
}

// FilterRecords returns the records that pass filters.
func FilterRecords(records []Record, filters []Filter, fields []Field) []Record {
	return NewFilterChain(filters, fields).Apply(records)
}
