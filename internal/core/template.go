package core

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// ElementKind discriminates the payload of an Element.
type ElementKind string

const (
	KindText  ElementKind = "text"
	KindImage ElementKind = "image"
	KindShape ElementKind = "shape"
)

// Geometry is an element's box and transform.
type Geometry struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	ScaleX   float64 `json:"scaleX,omitempty"`
	ScaleY   float64 `json:"scaleY,omitempty"`
	Rotation float64 `json:"rotation,omitempty"` // degrees, clockwise
	Opacity  float64 `json:"opacity"`
}

// Scaled returns the element size after scale factors. A zero scale means 1.
func (g Geometry) Scaled() (w, h float64) {
	sx, sy := g.ScaleX, g.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	return g.Width * sx, g.Height * sy
}

// TextContent is the payload of a text element.
type TextContent struct {
	Text       string  `json:"text"`
	FontSize   float64 `json:"fontSize"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontWeight string  `json:"fontWeight,omitempty"`
	Color      string  `json:"color,omitempty"`
	Align      string  `json:"align,omitempty"` // left, center, right
}

// ImageContent is the payload of an image element. Resolved is set per
// record by the pipeline and never serialized.
type ImageContent struct {
	Source   string         `json:"source"`
	Fit      ImageFit       `json:"fit,omitempty"`
	Resolved *ResolvedImage `json:"-"`
}

// ResolvedImage is a loaded image resource.
type ResolvedImage struct {
	Ref         string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// ShapeContent is the payload of a shape element.
type ShapeContent struct {
	Shape        string  `json:"shape"` // rect, ellipse, line
	Fill         string  `json:"fill,omitempty"`
	Stroke       string  `json:"stroke,omitempty"`
	StrokeWidth  float64 `json:"strokeWidth,omitempty"`
	CornerRadius float64 `json:"cornerRadius,omitempty"`
}

// Element is one node of a template. Exactly one payload matching Kind is
// set.
type Element struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Kind         ElementKind   `json:"kind"`
	Geometry     Geometry      `json:"geometry"`
	Visible      bool          `json:"visible"`
	FieldBinding string        `json:"fieldBinding,omitempty"`
	Grayscale    bool          `json:"grayscale,omitempty"`
	Text         *TextContent  `json:"text,omitempty"`
	Image        *ImageContent `json:"image,omitempty"`
	Shape        *ShapeContent `json:"shape,omitempty"`
}

// Template is the visual element graph rendered once per record.
type Template struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	Background string    `json:"background,omitempty"`
	Elements   []Element `json:"elements"`
}

// Validate checks template dimensions, element id uniqueness and that every
// element carries exactly the payload its kind requires.
func (t Template) Validate() error {
	var errs []error
	if t.Width <= 0 || t.Height <= 0 {
		errs = append(errs, fmt.Errorf("dimensions %vx%v must be positive", t.Width, t.Height))
	}

	seen := make(map[string]bool, len(t.Elements))
	for i, el := range t.Elements {
		if el.ID == "" {
			errs = append(errs, fmt.Errorf("element %d has no id", i))
		} else if seen[el.ID] {
			errs = append(errs, fmt.Errorf("duplicate element id %q", el.ID))
		}
		seen[el.ID] = true

		payloads := 0
		for _, set := range []bool{el.Text != nil, el.Image != nil, el.Shape != nil} {
			if set {
				payloads++
			}
		}
		var ok bool
		switch el.Kind {
		case KindText:
			ok = el.Text != nil
		case KindImage:
			ok = el.Image != nil
		case KindShape:
			ok = el.Shape != nil
		default:
			errs = append(errs, fmt.Errorf("element %q has unknown kind %q", el.ID, el.Kind))
			continue
		}
		if !ok || payloads != 1 {
			errs = append(errs, fmt.Errorf("element %q of kind %s must carry exactly one %s payload", el.ID, el.Kind, el.Kind))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, errors.Join(errs...))
	}
	return nil
}

// Clone returns a deep copy.
func (t Template) Clone() Template {
	out := t
	out.Elements = make([]Element, len(t.Elements))
	for i, el := range t.Elements {
		if el.Text != nil {
			text := *el.Text
			el.Text = &text
		}
		if el.Image != nil {
			img := *el.Image
			el.Image = &img
		}
		if el.Shape != nil {
			shape := *el.Shape
			el.Shape = &shape
		}
		out.Elements[i] = el
	}
	return out
}

// ElementIDs returns the set of element ids.
func (t Template) ElementIDs() map[string]bool {
	ids := make(map[string]bool, len(t.Elements))
	for _, el := range t.Elements {
		ids[el.ID] = true
	}
	return ids
}

// Bindings counts elements per bound field name.
func (t Template) Bindings() map[string]int {
	counts := make(map[string]int)
	for _, el := range t.Elements {
		if el.FieldBinding != "" {
			counts[el.FieldBinding]++
		}
	}
	return counts
}

// Placeholders returns the distinct {{token}} names used in text elements.
func (t Template) Placeholders() []string {
	seen := make(map[string]bool)
	var out []string
	for _, el := range t.Elements {
		if el.Text == nil {
			continue
		}
		for _, m := range tokenRegex.FindAllStringSubmatch(el.Text.Text, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				out = append(out, m[1])
			}
		}
	}
	return out
}

// Fingerprint returns a stable hash of the serialized template.
func (t Template) Fingerprint() string {
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(binary.BigEndian.AppendUint64(nil, xxh3.Hash(data)))
}

// Patch changes one element of a snapshot. Nil fields are left unchanged.
type Patch struct {
	ElementID string
	Text      *string
	Visible   *bool
	Image     *ResolvedImage
}

// PatchSet is an ordered list of patches. Later patches win.
type PatchSet []Patch

// Apply returns a fresh copy of t with patches applied. t is not modified,
// so per-record state never leaks into the next record.
func (t Template) Apply(patches PatchSet) Template {
	out := t.Clone()
	if len(patches) == 0 {
		return out
	}

	index := make(map[string]int, len(out.Elements))
	for i, el := range out.Elements {
		index[el.ID] = i
	}

	for _, p := range patches {
		i, ok := index[p.ElementID]
		if !ok {
			continue
		}
		el := &out.Elements[i]
		if p.Visible != nil {
			el.Visible = *p.Visible
		}
		if p.Text != nil && el.Text != nil {
			el.Text.Text = *p.Text
		}
		if p.Image != nil && el.Image != nil {
			el.Image.Resolved = p.Image
		}
	}
	return out
}

// TextPatches substitutes record values into text elements. An explicit
// field binding replaces the text wholesale with the formatted bound value;
// otherwise every {{key}} placeholder for a key present in the record is
// replaced. Unknown placeholders stay as they are.
func TextPatches(t Template, r Record, fields map[string]Field) PatchSet {
	var patches PatchSet
	for _, el := range t.Elements {
		if el.Kind != KindText || el.Text == nil {
			continue
		}

		var text string
		switch {
		case el.FieldBinding != "":
			text = formatBound(r[el.FieldBinding], el.FieldBinding, fields)
		case strings.Contains(el.Text.Text, "{{"):
			text = substitute(el.Text.Text, r, fields)
			if text == el.Text.Text {
				continue
			}
		default:
			continue
		}
		patches = append(patches, Patch{ElementID: el.ID, Text: &text})
	}
	return patches
}

func substitute(s string, r Record, fields map[string]Field) string {
	return tokenRegex.ReplaceAllStringFunc(s, func(tok string) string {
		key := tokenRegex.FindStringSubmatch(tok)[1]
		v, ok := r[key]
		if !ok {
			return tok
		}
		return formatBound(v, key, fields)
	})
}

func formatBound(v any, name string, fields map[string]Field) string {
	if f, ok := fields[name]; ok {
		return FormatValue(v, f)
	}
	return Stringify(v)
}

// VisibilityPatches converts rule visibility into patches.
func VisibilityPatches(visibility map[string]bool) PatchSet {
	patches := make(PatchSet, 0, len(visibility))
	for id, visible := range visibility {
		patches = append(patches, Patch{ElementID: id, Visible: &visible})
	}
	return patches
}
