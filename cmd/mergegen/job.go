package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// Job is a batch generation described in YAML.
//
//	source:
//	  file: people.csv
//	template: badge.json
//	filters:
//	  - {field: age, operator: greaterThan, value: 30}
//	sorts:
//	  - {field: name, direction: asc}
//	generation:
//	  format: pdf
//	  filenamePattern: "{{name}}"
//	output: ./out
//
// Filters, sorts, rules and inline templates use the same shape as the HTTP
// API.
type Job struct {
	Source     SourceSpec       `yaml:"source"`
	Template   yaml.Node        `yaml:"template"`
	Filters    []map[string]any `yaml:"filters"`
	Sorts      []map[string]any `yaml:"sorts"`
	Rules      []map[string]any `yaml:"rules"`
	Generation yaml.Node        `yaml:"generation"`
	Output     string           `yaml:"output"`

	// Config is generation decoded over core.DefaultGenerationConfig.
	Config core.GenerationConfig `yaml:"-"`

	dir string
}

// SourceSpec names a file or a SQL query. Database falls back to
// DATABASE_URL.
type SourceSpec struct {
	File     string `yaml:"file"`
	Sheet    string `yaml:"sheet"`
	Query    string `yaml:"query"`
	Name     string `yaml:"name"`
	Database string `yaml:"database"`
}

// LoadJob reads and checks a job file. Relative paths in the job resolve
// against the file's directory.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	job.dir = filepath.Dir(path)
	return job, nil
}

// ParseJob decodes a job and fills defaults.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	switch {
	case job.Source.File == "" && job.Source.Query == "":
		return nil, errors.New("source needs a file or a query")
	case job.Source.File != "" && job.Source.Query != "":
		return nil, errors.New("source takes a file or a query, not both")
	}
	if job.Template.IsZero() {
		return nil, errors.New("template is required")
	}
	if job.Source.Name == "" {
		job.Source.Name = "query"
		if job.Source.File != "" {
			job.Source.Name = filepath.Base(job.Source.File)
		}
	}
	if job.Output == "" {
		job.Output = "output"
	}

	job.Config = core.DefaultGenerationConfig()
	if !job.Generation.IsZero() {
		if err := job.Generation.Decode(&job.Config); err != nil {
			return nil, fmt.Errorf("generation: %w", err)
		}
	}
	return &job, nil
}

func (j *Job) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(j.dir, p)
}

// LoadTemplate returns the inline template or reads the JSON file it names.
func (j *Job) LoadTemplate() (core.Template, error) {
	var t core.Template
	if j.Template.Kind == yaml.ScalarNode {
		data, err := os.ReadFile(j.path(j.Template.Value))
		if err != nil {
			return t, fmt.Errorf("template: %w", err)
		}
		if err := json.Unmarshal(data, &t); err != nil {
			return t, fmt.Errorf("template %s: %w", j.Template.Value, err)
		}
		return t, nil
	}

	var raw map[string]any
	if err := j.Template.Decode(&raw); err != nil {
		return t, fmt.Errorf("template: %w", err)
	}
	if err := convert(raw, &t); err != nil {
		return t, fmt.Errorf("template: %w", err)
	}
	return t, nil
}

// Session converts filters, sorts and rules to their core types.
func (j *Job) Session() ([]core.Filter, []core.SortKey, []core.ConditionalRule, error) {
	var (
		filters []core.Filter
		sorts   []core.SortKey
		rules   []core.ConditionalRule
	)
	if err := convert(j.Filters, &filters); err != nil {
		return nil, nil, nil, fmt.Errorf("filters: %w", err)
	}
	if err := convert(j.Sorts, &sorts); err != nil {
		return nil, nil, nil, fmt.Errorf("sorts: %w", err)
	}
	if err := convert(j.Rules, &rules); err != nil {
		return nil, nil, nil, fmt.Errorf("rules: %w", err)
	}
	for i := range sorts {
		if sorts[i].Direction == "" {
			sorts[i].Direction = core.SortAsc
		}
	}
	return filters, sorts, rules, nil
}

// convert moves YAML-decoded values into types that carry JSON tags.
func convert(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
