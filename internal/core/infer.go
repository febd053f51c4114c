package core

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SampleSize is the number of non-empty values kept per column for inference.
const SampleSize = 100

var (
	isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}`)
	usDatePrefix  = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}`)
	imageSuffix   = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|svg|bmp)$`)
)

// InferFieldType classifies sample values into a field type.
//
// Empty samples are dropped first; nothing left means text. The remaining
// samples must all satisfy a rule for it to apply, tested in order:
// boolean, number, date, image, array. Anything else is text.
//
// A column of numeric strings that are also image references is classified
// as number because that test runs first.
func InferFieldType(samples []any) FieldType {
	values := make([]any, 0, len(samples))
	for _, s := range samples {
		if !IsEmpty(s) {
			values = append(values, s)
		}
	}
	if len(values) == 0 {
		return FieldText
	}

	switch {
	case all(values, isBooleanSample):
		return FieldBoolean
	case all(values, isNumberSample):
		return FieldNumber
	case all(values, isDateSample):
		return FieldDate
	case all(values, isImageSample):
		return FieldImage
	case all(values, isArraySample):
		return FieldArray
	}
	return FieldText
}

func all(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

func isBooleanSample(v any) bool {
	switch x := v.(type) {
	case bool:
		return true
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "true" || s == "false"
	}
	return false
}

// isNumberSample is deliberately stricter than ToFloat: "$1,200" is text.
func isNumberSample(v any) bool {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	if _, ok := v.(bool); ok {
		return false
	}
	_, ok := ToFloat(v)
	return ok
}

func isDateSample(v any) bool {
	switch x := v.(type) {
	case time.Time:
		return true
	case string:
		s := strings.TrimSpace(x)
		return isoDatePrefix.MatchString(s) || usDatePrefix.MatchString(s)
	}
	return false
}

func isImageSample(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return imageSuffix.MatchString(s)
}

func isArraySample(v any) bool {
	_, ok := ToSlice(v)
	return ok
}

// DeriveColumns builds columns for the given headers, counting empty values
// and inferring each column's type from its first SampleSize non-empty values.
func DeriveColumns(headers []string, records []Record) []Column {
	cols := make([]Column, len(headers))
	for i, h := range headers {
		col := Column{Name: h}
		for _, r := range records {
			v := r[h]
			if IsEmpty(v) {
				col.Empty++
				continue
			}
			col.NonEmpty++
			if len(col.Samples) < SampleSize {
				col.Samples = append(col.Samples, v)
			}
		}
		col.Type = InferFieldType(col.Samples)
		cols[i] = col
	}
	return cols
}
