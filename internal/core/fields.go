package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// FieldsFromColumns derives one field per column. Fields in prev whose name
// and type are unchanged keep their format, validation and favorite flag.
func FieldsFromColumns(cols []Column, prev []Field) []Field {
	old := IndexFields(prev)
	fields := make([]Field, len(cols))
	for i, c := range cols {
		f := Field{Name: c.Name, Type: c.Type}
		if p, ok := old[c.Name]; ok && p.Type == c.Type {
			f.Format = p.Format
			f.Validation = p.Validation
			f.Favorite = p.Favorite
		}
		if f.Type == FieldImage && f.Format.ImageFit == "" {
			f.Format.ImageFit = FitContain
		}
		fields[i] = f
	}
	return fields
}

// IndexFields maps fields by name.
func IndexFields(fields []Field) map[string]Field {
	idx := make(map[string]Field, len(fields))
	for _, f := range fields {
		idx[f.Name] = f
	}
	return idx
}

// CountUsage sets each field's UsageCount to the number of template
// elements bound to it.
func CountUsage(fields []Field, t *Template) []Field {
	counts := map[string]int{}
	if t != nil {
		counts = t.Bindings()
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.UsageCount = counts[f.Name]
		out[i] = f
	}
	return out
}

// CheckValue validates one value against a field's validation bounds.
// It returns nil for a value that passes.
func CheckValue(f Field, v any) error {
	rules := f.Validation
	if IsEmpty(v) {
		if rules.Required {
			return fmt.Errorf("%s: required field is empty", f.Name)
		}
		return nil
	}

	if f.Type == FieldNumber && (rules.Min != nil || rules.Max != nil) {
		n, ok := ToFloat(v)
		if !ok {
			return fmt.Errorf("%s: invalid number %q", f.Name, Stringify(v))
		}
		if rules.Min != nil && n < *rules.Min {
			return fmt.Errorf("%s: %v is below minimum %v", f.Name, n, *rules.Min)
		}
		if rules.Max != nil && n > *rules.Max {
			return fmt.Errorf("%s: %v is above maximum %v", f.Name, n, *rules.Max)
		}
	}

	s := Stringify(v)
	n := utf8.RuneCountInString(s)
	if rules.MinLength > 0 && n < rules.MinLength {
		return fmt.Errorf("%s: length %d is shorter than %d", f.Name, n, rules.MinLength)
	}
	if rules.MaxLength > 0 && n > rules.MaxLength {
		return fmt.Errorf("%s: length %d is longer than %d", f.Name, n, rules.MaxLength)
	}
	if rules.Pattern != "" {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil {
			return fmt.Errorf("%s: invalid pattern: %w", f.Name, err)
		}
		if !re.MatchString(strings.TrimSpace(s)) {
			return fmt.Errorf("%s: %q does not match pattern", f.Name, s)
		}
	}
	return nil
}
