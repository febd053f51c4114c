package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultArraySeparator joins list values when a field has no separator.
const DefaultArraySeparator = ", "

// Stringify renders a record value as plain text.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	if items, ok := ToSlice(v); ok {
		return joinValues(items, DefaultArraySeparator)
	}
	return fmt.Sprint(v)
}

func joinValues(items []any, sep string) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = Stringify(item)
	}
	return strings.Join(parts, sep)
}

// FormatValue renders a value using the field's format options. Values that
// cannot be coerced to the field's type fall back to Stringify.
func FormatValue(v any, f Field) string {
	if IsEmpty(v) {
		return ""
	}
	format := f.Format

	var s string
	switch f.Type {
	case FieldNumber:
		n, ok := ToFloat(v)
		if !ok {
			s = Stringify(v)
			break
		}
		s = FormatNumber(n, format.Number)
	case FieldDate:
		t, ok := ToTime(v)
		if !ok || format.DateFormat == "" {
			s = Stringify(v)
			break
		}
		s = t.Format(DateLayout(format.DateFormat))
	case FieldArray:
		items, ok := ToSlice(v)
		if !ok {
			s = Stringify(v)
			break
		}
		sep := format.ArraySeparator
		if sep == "" {
			sep = DefaultArraySeparator
		}
		s = joinValues(items, sep)
	default:
		s = Stringify(v)
	}

	return applyOverflow(applyTransform(s, format.TextTransform), format)
}

// FormatNumber renders n with fixed decimals, separators and affixes.
func FormatNumber(n float64, nf NumberFormat) string {
	var s string
	if nf.Decimals != nil {
		s = strconv.FormatFloat(n, 'f', *nf.Decimals, 64)
	} else {
		s = strconv.FormatFloat(n, 'f', -1, 64)
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, hasFrac := strings.Cut(s, ".")

	if nf.ThousandsSep != "" && len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteString(nf.ThousandsSep)
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}

	s = intPart
	if hasFrac {
		sep := nf.DecimalSep
		if sep == "" {
			sep = "."
		}
		s += sep + frac
	}
	if neg && n != 0 && !isNegativeZero(s) {
		s = "-" + s
	}
	return nf.Prefix + s + nf.Suffix
}

func isNegativeZero(s string) bool {
	return strings.Trim(s, "0.,") == ""
}

func applyTransform(s string, t TextTransform) string {
	switch t {
	case TransformUppercase:
		return strings.ToUpper(s)
	case TransformLowercase:
		return strings.ToLower(s)
	case TransformCapitalize:
		var b strings.Builder
		prevSpace := true
		for _, r := range s {
			if prevSpace {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(r)
			}
			prevSpace = unicode.IsSpace(r)
		}
		return b.String()
	}
	return s
}

func applyOverflow(s string, f FieldFormat) string {
	if f.MaxLength <= 0 || utf8.RuneCountInString(s) <= f.MaxLength {
		return s
	}
	runes := []rune(s)
	switch f.Overflow {
	case OverflowTruncate:
		return string(runes[:f.MaxLength])
	case OverflowEllipsis:
		if f.MaxLength <= 1 {
			return "…"
		}
		return string(runes[:f.MaxLength-1]) + "…"
	}
	return s
}

// dateTokens converts display tokens to Go reference layout. Longer tokens
// come first so the replacer prefers them.
var dateTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MMMM", "January",
	"MMM", "Jan",
	"MM", "01",
	"M", "1",
	"DD", "02",
	"D", "2",
	"dddd", "Monday",
	"ddd", "Mon",
	"HH", "15",
	"hh", "03",
	"mm", "04",
	"ss", "05",
	"A", "PM",
)

// DateLayout converts a token pattern such as "DD/MM/YYYY" to a Go layout.
func DateLayout(pattern string) string {
	return dateTokens.Replace(pattern)
}

// percent rounds cur/total to a whole percentage in [0,100].
func percent(cur, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(cur) / float64(total) * 100))
	return max(0, min(100, p))
}
