package core

import (
	"math"
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ToFloat Tests
// ----------------------------------------------------------------------------

func TestToFloat(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{name: "integer string", input: "123", want: 123, wantOK: true},
		{name: "negative decimal", input: "-45.5", want: -45.5, wantOK: true},
		{name: "leading decimal point", input: ".99", want: 0.99, wantOK: true},
		{name: "scientific notation", input: "1e3", want: 1000, wantOK: true},
		{name: "currency with thousands", input: "$1,234.50", want: 1234.5, wantOK: true},
		{name: "euro", input: "€99", want: 99, wantOK: true},
		{name: "accounting negative", input: "(45.00)", want: -45, wantOK: true},
		{name: "surrounding whitespace", input: "  42  ", want: 42, wantOK: true},
		{name: "float64", input: 2.5, want: 2.5, wantOK: true},
		{name: "int", input: 7, want: 7, wantOK: true},
		{name: "uint8", input: uint8(3), want: 3, wantOK: true},
		{name: "empty string", input: "", wantOK: false},
		{name: "letters", input: "abc", wantOK: false},
		{name: "NaN string", input: "NaN", wantOK: false},
		{name: "infinite float", input: math.Inf(1), wantOK: false},
		{name: "bool", input: true, wantOK: false},
		{name: "nil", input: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToFloat(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ToFloat(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToTime Tests
// ----------------------------------------------------------------------------

func TestToTime(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string // 2006-01-02
		wantOK bool
	}{
		{name: "ISO date", input: "2024-03-15", want: "2024-03-15", wantOK: true},
		{name: "RFC3339", input: "2024-03-15T10:30:00Z", want: "2024-03-15", wantOK: true},
		{name: "datetime with space", input: "2024-03-15 10:30:00", want: "2024-03-15", wantOK: true},
		{name: "US date", input: "3/15/2024", want: "2024-03-15", wantOK: true},
		{name: "US padded", input: "03/15/2024", want: "2024-03-15", wantOK: true},
		{name: "month name", input: "Mar 15, 2024", want: "2024-03-15", wantOK: true},
		{name: "day month year", input: "15 Mar 2024", want: "2024-03-15", wantOK: true},
		{name: "compact", input: "20240315", want: "2024-03-15", wantOK: true},
		{name: "time value", input: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), want: "2023-01-02", wantOK: true},
		{name: "zero time", input: time.Time{}, wantOK: false},
		{name: "garbage", input: "not a date", wantOK: false},
		{name: "empty", input: "", wantOK: false},
		{name: "number", input: 42, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToTime(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToTime(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got.Format("2006-01-02") != tt.want {
				t.Errorf("ToTime(%v) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestToTime_TwoDigitYear(t *testing.T) {
	got, ok := ToTime("1/2/99")
	if !ok {
		t.Fatal("ToTime(1/2/99) failed")
	}
	if got.Year() != 1999 {
		t.Errorf("year = %d, want 1999", got.Year())
	}

	got, ok = ToTime("1/2/05")
	if !ok {
		t.Fatal("ToTime(1/2/05) failed")
	}
	if got.Year() != 2005 {
		t.Errorf("year = %d, want 2005", got.Year())
	}
}

// ----------------------------------------------------------------------------
// ToBool Tests
// ----------------------------------------------------------------------------

func TestToBool(t *testing.T) {
	tests := []struct {
		input  any
		want   bool
		wantOK bool
	}{
		{input: true, want: true, wantOK: true},
		{input: "TRUE", want: true, wantOK: true},
		{input: "Yes", want: true, wantOK: true},
		{input: "y", want: true, wantOK: true},
		{input: "1", want: true, wantOK: true},
		{input: "false", want: false, wantOK: true},
		{input: " no ", want: false, wantOK: true},
		{input: "f", want: false, wantOK: true},
		{input: 1, want: true, wantOK: true},
		{input: 0.0, want: false, wantOK: true},
		{input: 2, wantOK: false},
		{input: "maybe", wantOK: false},
		{input: nil, wantOK: false},
	}

	for _, tt := range tests {
		got, ok := ToBool(tt.input)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ToBool(%#v) = %v, %v, want %v, %v", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

// ----------------------------------------------------------------------------
// ToSlice / IsEmpty Tests
// ----------------------------------------------------------------------------

func TestToSlice(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantLen int
		wantOK  bool
	}{
		{name: "any slice", input: []any{"a", 1}, wantLen: 2, wantOK: true},
		{name: "string slice", input: []string{"a", "b", "c"}, wantLen: 3, wantOK: true},
		{name: "int slice", input: []int{1, 2}, wantLen: 2, wantOK: true},
		{name: "empty slice", input: []any{}, wantLen: 0, wantOK: true},
		{name: "bytes are not a list", input: []byte("ab"), wantOK: false},
		{name: "comma string is not a list", input: "a,b", wantOK: false},
		{name: "nil", input: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToSlice(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToSlice ok = %v, want %v", ok, tt.wantOK)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		input any
		want  bool
	}{
		{nil, true},
		{"", true},
		{"   ", true},
		{[]any{}, true},
		{[]string{}, true},
		{"x", false},
		{0, false},
		{false, false},
		{[]any{""}, false},
	}

	for _, tt := range tests {
		if got := IsEmpty(tt.input); got != tt.want {
			t.Errorf("IsEmpty(%#v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple string unchanged", input: "hello", want: "hello"},
		{name: "empty string", input: "", want: ""},
		{name: "surrounded by whitespace", input: "  hello  ", want: "hello"},
		{name: "Excel formula with quotes", input: `="hello"`, want: "hello"},
		{name: "Excel formula number as text", input: `="12345"`, want: "12345"},
		{name: "surrounding quotes", input: `"quoted"`, want: "quoted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
