package core

// validation.go computes advisory issues for the current merge setup.
//
// Validation is independent of the pipeline and never blocks a run. Issues
// with severity error are a recommended gate for the UI, not an enforced one.
// Checks cover:
//  1. Data source: missing or empty
//  2. Fields: high empty ratio, unused, values outside validation bounds
//  3. Template: bindings and placeholders that name no field
//  4. Filters and sorts: unknown fields, operators invalid for the type
//  5. Rules: no conditions, no targets, unknown target elements

import (
	"fmt"
	"slices"
)

// Severity ranks a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// EmptyRatioThreshold is the empty-value ratio above which a field is
// reported.
const EmptyRatioThreshold = 0.5

// maxValueIssues caps value-level issues per field.
const maxValueIssues = 5

// Issue codes.
const (
	IssueNoDataSource      = "no_data_source"
	IssueEmptyDataSource   = "empty_data_source"
	IssueHighEmptyRatio    = "high_empty_ratio"
	IssueUnusedField       = "unused_field"
	IssueInvalidValue      = "invalid_value"
	IssueNoTemplate        = "no_template"
	IssueUnknownBinding    = "unknown_binding"
	IssueUnknownFilter     = "unknown_filter_field"
	IssueInvalidOperator   = "invalid_operator"
	IssueUnknownSort       = "unknown_sort_field"
	IssueEmptyRule         = "empty_rule"
	IssueTargetlessRule    = "targetless_rule"
	IssueUnknownRuleTarget = "unknown_rule_target"
)

// ValidationIssue is one advisory finding.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
	RuleID   string   `json:"ruleId,omitempty"`
	Record   *int     `json:"record,omitempty"`
}

func (i ValidationIssue) Error() string {
	return fmt.Sprintf("%s: %s", i.Severity, i.Message)
}

// ValidationInput is the state validated by Validate.
type ValidationInput struct {
	Source   *DataSource
	Fields   []Field
	Template *Template
	Filters  []Filter
	Sorts    []SortKey
	Rules    []ConditionalRule
}

// Validate returns all issues for the input, errors first.
func Validate(in ValidationInput) []ValidationIssue {
	var issues []ValidationIssue
	add := func(i ValidationIssue) { issues = append(issues, i) }

	switch {
	case in.Source == nil:
		add(ValidationIssue{Severity: SeverityError, Code: IssueNoDataSource, Message: "No data source is connected"})
	case len(in.Source.Records) == 0:
		add(ValidationIssue{Severity: SeverityError, Code: IssueEmptyDataSource, Message: "The data source has no records"})
	}

	if in.Template == nil {
		add(ValidationIssue{Severity: SeverityWarning, Code: IssueNoTemplate, Message: "No template is loaded"})
	}

	fields := IndexFields(in.Fields)

	if in.Source != nil {
		for _, c := range in.Source.Columns {
			if c.NonEmpty+c.Empty > 0 && c.EmptyRatio() > EmptyRatioThreshold {
				add(ValidationIssue{
					Severity: SeverityWarning,
					Code:     IssueHighEmptyRatio,
					Field:    c.Name,
					Message:  fmt.Sprintf("Field %q is empty in %.0f%% of records", c.Name, c.EmptyRatio()*100),
				})
			}
		}
		issues = append(issues, valueIssues(in.Source.Records, in.Fields)...)
	}

	if in.Template != nil {
		used := in.Template.Bindings()
		placeholders := in.Template.Placeholders()

		for _, f := range in.Fields {
			if used[f.Name] == 0 && !slices.Contains(placeholders, f.Name) {
				add(ValidationIssue{
					Severity: SeverityInfo,
					Code:     IssueUnusedField,
					Field:    f.Name,
					Message:  fmt.Sprintf("Field %q is not used by the template", f.Name),
				})
			}
		}

		for _, el := range in.Template.Elements {
			if el.FieldBinding != "" && len(fields) > 0 {
				if _, ok := fields[el.FieldBinding]; !ok {
					add(ValidationIssue{
						Severity: SeverityWarning,
						Code:     IssueUnknownBinding,
						Field:    el.FieldBinding,
						Message:  fmt.Sprintf("Element %q is bound to unknown field %q", el.ID, el.FieldBinding),
					})
				}
			}
		}
		for _, name := range placeholders {
			if _, ok := fields[name]; !ok && name != "index" && len(fields) > 0 {
				add(ValidationIssue{
					Severity: SeverityWarning,
					Code:     IssueUnknownBinding,
					Field:    name,
					Message:  fmt.Sprintf("Placeholder {{%s}} names no field and will be left as is", name),
				})
			}
		}
	}

	for _, f := range in.Filters {
		field, ok := fields[f.Field]
		if !ok {
			add(ValidationIssue{
				Severity: SeverityWarning,
				Code:     IssueUnknownFilter,
				Field:    f.Field,
				Message:  fmt.Sprintf("Filter %q uses unknown field %q", f.ID, f.Field),
			})
			continue
		}
		if !ValidOperator(field.Type, f.Operator) {
			add(ValidationIssue{
				Severity: SeverityWarning,
				Code:     IssueInvalidOperator,
				Field:    f.Field,
				Message:  fmt.Sprintf("Operator %q does not apply to %s field %q", f.Operator, field.Type, f.Field),
			})
		}
	}

	for _, s := range in.Sorts {
		if _, ok := fields[s.Field]; !ok {
			add(ValidationIssue{
				Severity: SeverityWarning,
				Code:     IssueUnknownSort,
				Field:    s.Field,
				Message:  fmt.Sprintf("Sort uses unknown field %q", s.Field),
			})
		}
	}

	var ids map[string]bool
	if in.Template != nil {
		ids = in.Template.ElementIDs()
	}
	for _, r := range in.Rules {
		if !r.Enabled {
			continue
		}
		if len(r.Conditions) == 0 {
			add(ValidationIssue{
				Severity: SeverityWarning,
				Code:     IssueEmptyRule,
				RuleID:   r.ID,
				Message:  fmt.Sprintf("Rule %q has no conditions and always matches", r.Name),
			})
		}
		if len(r.AffectedElements) == 0 {
			add(ValidationIssue{
				Severity: SeverityWarning,
				Code:     IssueTargetlessRule,
				RuleID:   r.ID,
				Message:  fmt.Sprintf("Rule %q does not target any element", r.Name),
			})
		}
		for _, id := range r.AffectedElements {
			if ids != nil && !ids[id] {
				add(ValidationIssue{
					Severity: SeverityWarning,
					Code:     IssueUnknownRuleTarget,
					RuleID:   r.ID,
					Message:  fmt.Sprintf("Rule %q targets unknown element %q", r.Name, id),
				})
			}
		}
	}

	slices.SortStableFunc(issues, func(a, b ValidationIssue) int {
		return severityRank(a.Severity) - severityRank(b.Severity)
	})
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	}
	return 2
}

// valueIssues checks record values against field validation bounds,
// reporting at most maxValueIssues per field.
func valueIssues(records []Record, fields []Field) []ValidationIssue {
	var issues []ValidationIssue
	for _, f := range fields {
		if f.Validation == (FieldValidation{}) {
			continue
		}
		reported := 0
		for i, r := range records {
			err := CheckValue(f, r[f.Name])
			if err == nil {
				continue
			}
			idx := i
			issues = append(issues, ValidationIssue{
				Severity: SeverityError,
				Code:     IssueInvalidValue,
				Field:    f.Name,
				Record:   &idx,
				Message:  fmt.Sprintf("Record %d: %v", i+1, err),
			})
			reported++
			if reported >= maxValueIssues {
				break
			}
		}
	}
	return issues
}
