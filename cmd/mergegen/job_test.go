package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

func TestParseJob(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "file source", yaml: "source: {file: a.csv}\ntemplate: t.json\n"},
		{name: "query source", yaml: "source: {query: select 1}\ntemplate: t.json\n"},
		{name: "no source", yaml: "template: t.json\n", wantErr: "file or a query"},
		{name: "both sources", yaml: "source: {file: a.csv, query: select 1}\ntemplate: t.json\n", wantErr: "not both"},
		{name: "no template", yaml: "source: {file: a.csv}\n", wantErr: "template is required"},
		{name: "bad generation", yaml: "source: {file: a.csv}\ntemplate: t.json\ngeneration: [1]\n", wantErr: "generation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ParseJob() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseJob() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseJob_Defaults(t *testing.T) {
	job, err := ParseJob([]byte(`
source:
  file: data/people.csv
template: t.json
generation:
  format: svg
  filenamePattern: "{{name}}"
`))
	if err != nil {
		t.Fatal(err)
	}
	if job.Source.Name != "people.csv" {
		t.Errorf("source name = %q, want people.csv", job.Source.Name)
	}
	if job.Output != "output" {
		t.Errorf("output = %q, want output", job.Output)
	}
	// omitted keys keep the defaults
	want := core.DefaultGenerationConfig()
	want.Format = core.FormatSVG
	want.FilenamePattern = "{{name}}"
	if job.Config.Format != want.Format || job.Config.Resolution != want.Resolution ||
		job.Config.Quality != want.Quality || job.Config.CreateArchive != want.CreateArchive ||
		job.Config.FilenamePattern != want.FilenamePattern {
		t.Errorf("config = %+v, want %+v", job.Config, want)
	}
}

func TestJobSession(t *testing.T) {
	job, err := ParseJob([]byte(`
source: {file: a.csv}
template: t.json
filters:
  - {id: f1, field: age, operator: between, value: 18, secondValue: 65}
sorts:
  - {field: name}
  - {field: age, direction: desc, priority: 1}
rules:
  - id: r1
    name: Hide minors
    enabled: true
    logicOperator: AND
    conditions:
      - {field: age, operator: lessThan, value: 18}
    action: hide
    affectedElements: [photo]
`))
	if err != nil {
		t.Fatal(err)
	}
	filters, sorts, rules, err := job.Session()
	if err != nil {
		t.Fatal(err)
	}

	if len(filters) != 1 || filters[0].Operator != core.OpBetween || filters[0].SecondValue != float64(65) {
		t.Errorf("filters = %+v", filters)
	}
	if len(sorts) != 2 || sorts[0].Direction != core.SortAsc || sorts[1].Direction != core.SortDesc {
		t.Errorf("sorts = %+v", sorts)
	}
	if len(rules) != 1 || rules[0].Action != core.ActionHide || rules[0].AffectedElements[0] != "photo" {
		t.Errorf("rules = %+v", rules)
	}
}

const badge = `{"id":"t","name":"Badge","width":200,"height":100,"elements":[
 {"id":"greeting","kind":"text","visible":true,
  "geometry":{"x":10,"y":10,"width":180,"height":30,"opacity":1},
  "text":{"text":"Hi {{name}}","fontSize":14}}]}`

func TestRunJob(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("people.csv", "name,age\nAna,29\nBo,35\nCy,41\n")
	write("badge.json", badge)
	write("job.yaml", `
source: {file: people.csv}
template: badge.json
filters:
  - {field: age, operator: greaterThan, value: 30}
generation:
  recordSelection: {mode: filtered}
  format: svg
  filenamePattern: "{{name}}"
  createArchive: false
output: out
`)

	job, err := LoadJob(filepath.Join(dir, "job.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	final, err := runJob(context.Background(), job, logger)
	if err != nil {
		t.Fatalf("runJob() error = %v", err)
	}
	if final.Status != core.StatusCompleted || final.SuccessCount != 2 {
		t.Fatalf("final = %+v", final)
	}

	for _, name := range []string{"Bo.svg", "Cy.svg"} {
		if _, err := os.Stat(filepath.Join(final.Location, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(final.Location, "Ana.svg")); err == nil {
		t.Error("filtered record Ana was generated")
	}
}

func TestLoadTemplate_Inline(t *testing.T) {
	job, err := ParseJob([]byte(`
source: {file: a.csv}
template:
  id: t
  name: Inline
  width: 100
  height: 50
  elements:
    - id: box
      kind: shape
      visible: true
      geometry: {x: 0, y: 0, width: 10, height: 10, opacity: 1}
      shape: {shape: rect, fill: "#ff0000"}
`))
	if err != nil {
		t.Fatal(err)
	}
	tmpl, err := job.LoadTemplate()
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.Name != "Inline" || len(tmpl.Elements) != 1 || tmpl.Elements[0].Shape == nil {
		t.Errorf("template = %+v", tmpl)
	}
}
