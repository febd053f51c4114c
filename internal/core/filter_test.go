package core

import (
	"slices"
	"testing"
	"time"
)

var testFields = []Field{
	{Name: "name", Type: FieldText},
	{Name: "age", Type: FieldNumber},
	{Name: "joined", Type: FieldDate},
	{Name: "active", Type: FieldBoolean},
	{Name: "tags", Type: FieldArray},
	{Name: "photo", Type: FieldImage},
}

// fixedNow is a Wednesday.
var fixedNow = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

func TestFilterOperators(t *testing.T) {
	record := Record{
		"name":   "Alice Smith",
		"age":    "34",
		"joined": "2024-06-10",
		"active": "yes",
		"tags":   []any{"Go", "rust"},
		"photo":  "https://cdn/a.png",
		"blank":  "",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		// text
		{"text equals ignores case", Filter{Field: "name", Operator: OpEquals, Value: "alice smith"}, true},
		{"text notEquals", Filter{Field: "name", Operator: OpNotEquals, Value: "bob"}, true},
		{"text contains", Filter{Field: "name", Operator: OpContains, Value: "SMI"}, true},
		{"text notContains", Filter{Field: "name", Operator: OpNotContains, Value: "smi"}, false},
		{"text startsWith", Filter{Field: "name", Operator: OpStartsWith, Value: "ali"}, true},
		{"text endsWith", Filter{Field: "name", Operator: OpEndsWith, Value: "ith"}, true},
		{"text regex", Filter{Field: "name", Operator: OpRegex, Value: "^AL.*h$"}, true},
		{"invalid regex never matches", Filter{Field: "name", Operator: OpRegex, Value: "("}, false},
		{"text in comma list", Filter{Field: "name", Operator: OpIn, Value: "bob, alice smith"}, true},
		{"text in list value", Filter{Field: "name", Operator: OpIn, Value: []any{"bob"}}, false},
		{"text notIn", Filter{Field: "name", Operator: OpNotIn, Value: "bob,carol"}, true},
		{"image uses text semantics", Filter{Field: "photo", Operator: OpEndsWith, Value: ".png"}, true},
		{"unknown field uses text semantics", Filter{Field: "city", Operator: OpEquals, Value: ""}, true},

		// emptiness
		{"isEmpty on blank", Filter{Field: "blank", Operator: OpIsEmpty}, true},
		{"isEmpty on missing", Filter{Field: "missing", Operator: OpIsEmpty}, true},
		{"isNotEmpty", Filter{Field: "age", Operator: OpIsNotEmpty}, true},

		// number
		{"number equals", Filter{Field: "age", Operator: OpEquals, Value: 34}, true},
		{"number greaterThan", Filter{Field: "age", Operator: OpGreaterThan, Value: "30"}, true},
		{"number greaterThanOrEqual", Filter{Field: "age", Operator: OpGreaterThanOrEqual, Value: 34}, true},
		{"number lessThan", Filter{Field: "age", Operator: OpLessThan, Value: 34}, false},
		{"number lessThanOrEqual", Filter{Field: "age", Operator: OpLessThanOrEqual, Value: 34}, true},
		{"number between inclusive", Filter{Field: "age", Operator: OpBetween, Value: 30, SecondValue: 34}, true},
		{"number notBetween", Filter{Field: "age", Operator: OpNotBetween, Value: 10, SecondValue: 20}, true},
		{"number with bad operand", Filter{Field: "age", Operator: OpEquals, Value: "abc"}, false},
		{"number between missing bound", Filter{Field: "age", Operator: OpBetween, Value: 1}, false},

		// date
		{"date equals", Filter{Field: "joined", Operator: OpEquals, Value: "06/10/2024"}, true},
		{"date before", Filter{Field: "joined", Operator: OpBefore, Value: "2024-06-11"}, true},
		{"date after", Filter{Field: "joined", Operator: OpAfter, Value: "2024-06-11"}, false},
		{"date between", Filter{Field: "joined", Operator: OpBetween, Value: "2024-06-01", SecondValue: "2024-06-30"}, true},
		{"date notBetween", Filter{Field: "joined", Operator: OpNotBetween, Value: "2024-06-01", SecondValue: "2024-06-30"}, false},
		{"date isToday", Filter{Field: "joined", Operator: OpIsToday}, false},
		{"date thisWeek", Filter{Field: "joined", Operator: OpThisWeek}, true},
		{"date thisMonth", Filter{Field: "joined", Operator: OpThisMonth}, true},
		{"date thisYear", Filter{Field: "joined", Operator: OpThisYear}, true},

		// boolean
		{"boolean isTrue", Filter{Field: "active", Operator: OpIsTrue}, true},
		{"boolean isFalse", Filter{Field: "active", Operator: OpIsFalse}, false},
		{"boolean equals", Filter{Field: "active", Operator: OpEquals, Value: "true"}, true},

		// array
		{"array contains ignores case", Filter{Field: "tags", Operator: OpArrayContains, Value: "go"}, true},
		{"array notContains", Filter{Field: "tags", Operator: OpArrayNotContains, Value: "java"}, true},
		{"array isEmpty", Filter{Field: "tags", Operator: OpArrayIsEmpty}, false},
		{"array isNotEmpty", Filter{Field: "tags", Operator: OpArrayIsNotEmpty}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewFilterChain([]Filter{tt.filter}, testFields).WithClock(func() time.Time { return fixedNow })
			if got := chain.Include(record); got != tt.want {
				t.Errorf("Include() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterChain_LeftFold(t *testing.T) {
	// [A AND, B OR, C] must evaluate as (A && B) || C, not A && (B || C).
	filters := []Filter{
		{ID: "a", Field: "age", Operator: OpGreaterThan, Value: 30, Logic: LogicAnd},
		{ID: "b", Field: "name", Operator: OpContains, Value: "a", Logic: LogicOr},
		{ID: "c", Field: "active", Operator: OpIsTrue},
	}

	tests := []struct {
		name   string
		record Record
		want   bool
	}{
		{"A and B", Record{"age": 40, "name": "Ana", "active": false}, true},
		{"only C", Record{"age": 20, "name": "Bob", "active": true}, true},
		{"only A", Record{"age": 40, "name": "Bob", "active": false}, false},
		{"B and C without A", Record{"age": 20, "name": "Ana", "active": true}, true},
		{"nothing", Record{"age": 20, "name": "Bob", "active": false}, false},
	}

	chain := NewFilterChain(filters, testFields)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chain.Include(tt.record); got != tt.want {
				t.Errorf("Include() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterChain_LastLogicIgnored(t *testing.T) {
	filters := []Filter{
		{Field: "age", Operator: OpGreaterThan, Value: 30, Logic: LogicOr},
	}
	chain := NewFilterChain(filters, testFields)
	if chain.Include(Record{"age": 10}) {
		t.Error("single filter with OR connector included a failing record")
	}
}

func TestFilterChain_Empty(t *testing.T) {
	records := []Record{{"a": 1}, {"a": 2}}
	got := FilterRecords(records, nil, nil)
	if len(got) != 2 {
		t.Errorf("empty chain kept %d records, want 2", len(got))
	}
}

func TestFilterRecords_KeepsOrder(t *testing.T) {
	records := []Record{
		{"age": 50}, {"age": 10}, {"age": 40}, {"age": 60},
	}
	got := FilterRecords(records, []Filter{{Field: "age", Operator: OpGreaterThan, Value: 30}}, testFields)

	var ages []int
	for _, r := range got {
		ages = append(ages, r["age"].(int))
	}
	if want := []int{50, 40, 60}; !slices.Equal(ages, want) {
		t.Errorf("ages = %v, want %v", ages, want)
	}
}

func TestOperatorsFor(t *testing.T) {
	if !slices.Equal(OperatorsFor(FieldImage), OperatorsFor(FieldText)) {
		t.Error("image operators differ from text operators")
	}
	if ValidOperator(FieldNumber, OpContains) {
		t.Error("contains should not apply to numbers")
	}
	if !ValidOperator(FieldDate, OpThisWeek) {
		t.Error("thisWeek should apply to dates")
	}
	if !ValidOperator(FieldArray, OpIsEmpty) {
		t.Error("isEmpty should apply to arrays")
	}
}
