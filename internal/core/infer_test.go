package core

import (
	"testing"
	"time"
)

func TestInferFieldType(t *testing.T) {
	tests := []struct {
		name    string
		samples []any
		want    FieldType
	}{
		{name: "no samples", samples: nil, want: FieldText},
		{name: "only empties", samples: []any{"", nil, "  "}, want: FieldText},
		{name: "boolean strings", samples: []any{"true", "FALSE", " True "}, want: FieldBoolean},
		{name: "boolean values", samples: []any{true, false}, want: FieldBoolean},
		{name: "numeric strings", samples: []any{"1", "2.5", "-3"}, want: FieldNumber},
		{name: "zero and one are numbers", samples: []any{"1", "0"}, want: FieldNumber},
		{name: "numeric values", samples: []any{1.0, 2, int64(3)}, want: FieldNumber},
		{name: "empties ignored", samples: []any{"1", "", nil, "2"}, want: FieldNumber},
		{name: "currency is text", samples: []any{"$1,200"}, want: FieldText},
		{name: "ISO dates", samples: []any{"2024-01-15", "2023-12-01T10:00:00Z"}, want: FieldDate},
		{name: "US dates", samples: []any{"1/2/2024", "12/31/99"}, want: FieldDate},
		{name: "time values", samples: []any{time.Now()}, want: FieldDate},
		{name: "image urls", samples: []any{"https://example.com/a", "http://cdn/x"}, want: FieldImage},
		{name: "image paths", samples: []any{"photo.PNG", "img/b.jpg?size=2"}, want: FieldImage},
		{name: "arrays", samples: []any{[]any{"a"}, []string{"b", "c"}}, want: FieldArray},
		{name: "mixed number and text", samples: []any{"1", "abc"}, want: FieldText},
		{name: "mixed date and number", samples: []any{"2024-01-01", "5"}, want: FieldText},
		{name: "plain text", samples: []any{"Alice", "Bob"}, want: FieldText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferFieldType(tt.samples); got != tt.want {
				t.Errorf("InferFieldType(%v) = %s, want %s", tt.samples, got, tt.want)
			}
		})
	}
}

func TestDeriveColumns(t *testing.T) {
	records := []Record{
		{"name": "Ana", "age": "31", "photo": "https://x/a.png"},
		{"name": "Bo", "age": "", "photo": "https://x/b.png"},
		{"name": "Cy", "age": "27"},
	}

	cols := DeriveColumns([]string{"name", "age", "photo"}, records)
	if len(cols) != 3 {
		t.Fatalf("got %d columns, want 3", len(cols))
	}

	tests := []struct {
		col      Column
		name     string
		typ      FieldType
		nonEmpty int
		empty    int
	}{
		{cols[0], "name", FieldText, 3, 0},
		{cols[1], "age", FieldNumber, 2, 1},
		{cols[2], "photo", FieldImage, 2, 1},
	}
	for _, tt := range tests {
		if tt.col.Name != tt.name || tt.col.Type != tt.typ {
			t.Errorf("column = %s/%s, want %s/%s", tt.col.Name, tt.col.Type, tt.name, tt.typ)
		}
		if tt.col.NonEmpty != tt.nonEmpty || tt.col.Empty != tt.empty {
			t.Errorf("%s: NonEmpty/Empty = %d/%d, want %d/%d",
				tt.name, tt.col.NonEmpty, tt.col.Empty, tt.nonEmpty, tt.empty)
		}
	}
}

func TestDeriveColumns_SampleCap(t *testing.T) {
	records := make([]Record, SampleSize+20)
	for i := range records {
		records[i] = Record{"n": i}
	}
	cols := DeriveColumns([]string{"n"}, records)
	if got := len(cols[0].Samples); got != SampleSize {
		t.Errorf("samples = %d, want %d", got, SampleSize)
	}
	if cols[0].NonEmpty != SampleSize+20 {
		t.Errorf("NonEmpty = %d, want %d", cols[0].NonEmpty, SampleSize+20)
	}
}
