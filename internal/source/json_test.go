package source

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

func TestLoadJSON(t *testing.T) {
	input := `[
		{"name": "Ana", "score": 9.5, "vip": true, "tags": ["a", "b"]},
		{"score": 7, "name": "Bo", "city": "Oslo"}
	]`

	ds, err := LoadJSON(context.Background(), "rows.json", strings.NewReader(input), Options{})
	if err != nil {
		t.Fatalf("LoadJSON() error = %v", err)
	}

	if got, want := columnNames(ds), []string{"name", "score", "vip", "tags", "city"}; !slices.Equal(got, want) {
		t.Errorf("columns = %v, want %v", got, want)
	}

	types := map[string]core.FieldType{}
	for _, c := range ds.Columns {
		types[c.Name] = c.Type
	}
	want := map[string]core.FieldType{
		"name":  core.FieldText,
		"score": core.FieldNumber,
		"vip":   core.FieldBoolean,
		"tags":  core.FieldArray,
	}
	for name, typ := range want {
		if types[name] != typ {
			t.Errorf("column %s type = %s, want %s", name, types[name], typ)
		}
	}

	if got := ds.Records[0]["score"]; got != "9.5" {
		t.Errorf("score = %#v, want literal \"9.5\"", got)
	}
	if _, ok := ds.Records[0]["city"]; ok {
		t.Error("missing key should stay absent in the record")
	}
}

func TestLoadJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"empty array", "[]"},
		{"object not array", `{"a": 1}`},
		{"array of scalars", `[1, 2]`},
		{"truncated", `[{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadJSON(context.Background(), "rows.json", strings.NewReader(tt.input), Options{})
			var perr *core.ParseError
			if !errors.As(err, &perr) {
				t.Errorf("error = %v, want *core.ParseError", err)
			}
		})
	}
}
