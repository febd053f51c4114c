package core

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
)

// DefaultFilenamePattern is used when a config has no filename pattern.
const DefaultFilenamePattern = "record_{{index}}"

var tokenRegex = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ExpandFilename expands {{token}} placeholders in pattern. {{index}} becomes
// index+1; any other token becomes the stringified record value when the key
// is present. Unknown tokens are left verbatim.
func ExpandFilename(pattern string, r Record, index int) string {
	return tokenRegex.ReplaceAllStringFunc(pattern, func(tok string) string {
		key := tokenRegex.FindStringSubmatch(tok)[1]
		if key == "index" {
			return fmt.Sprint(index + 1)
		}
		if v, ok := r[key]; ok {
			return Stringify(v)
		}
		return tok
	})
}

// OutputFilename expands pattern, strips characters that are unsafe in file
// names and appends the extension of format.
func OutputFilename(pattern string, r Record, index int, format OutputFormat) string {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultFilenamePattern
	}
	name := sanitizeFilename(ExpandFilename(pattern, r, index))
	if name == "" {
		name = sanitizeFilename(ExpandFilename(DefaultFilenamePattern, r, index))
	}
	return name + format.Extension()
}

func sanitizeFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.Trim(strings.TrimSpace(s), ".")
}

// nameSet deduplicates output names within a run: the second "a.png"
// becomes "a (2).png".
type nameSet map[string]int

func (n nameSet) unique(name string) string {
	count := n[name]
	n[name] = count + 1
	if count == 0 {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := fmt.Sprintf("%s (%d)%s", base, count+1, ext)
	// A literal "a (2).png" may already exist.
	for n[candidate] > 0 {
		count++
		candidate = fmt.Sprintf("%s (%d)%s", base, count+1, ext)
	}
	n[candidate] = 1
	return candidate
}
