package render

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// renderSVG writes t as a standalone SVG document. Images are embedded as
// data URIs so the file has no external references.
func renderSVG(t core.Template) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s">`,
		num(t.Width), num(t.Height), num(t.Width), num(t.Height))
	b.WriteString(`<defs><filter id="grayscale"><feColorMatrix type="saturate" values="0"/></filter></defs>`)

	bg, err := parseColor(t.Background, defaultBackground)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="%s"/>`, cssColor(bg))

	for _, el := range t.Elements {
		if !el.Visible {
			continue
		}
		if err := svgElement(&b, el); err != nil {
			return nil, fmt.Errorf("element %s: %w", el.ID, err)
		}
	}
	b.WriteString(`</svg>`)
	return b.Bytes(), nil
}

func svgElement(b *bytes.Buffer, el core.Element) error {
	g := el.Geometry
	w, h := g.Scaled()

	fmt.Fprintf(b, `<g id="%s" transform="translate(%s %s)`, attr(el.ID), num(g.X), num(g.Y))
	if g.Rotation != 0 {
		fmt.Fprintf(b, ` rotate(%s %s %s)`, num(g.Rotation), num(w/2), num(h/2))
	}
	b.WriteByte('"')
	if op := opacity(g.Opacity); op < 1 {
		fmt.Fprintf(b, ` opacity="%s"`, num(op))
	}
	if el.Grayscale {
		b.WriteString(` filter="url(#grayscale)"`)
	}
	b.WriteByte('>')

	var err error
	switch el.Kind {
	case core.KindText:
		err = svgText(b, el.Text, w)
	case core.KindImage:
		svgImage(b, el.Image, w, h)
	case core.KindShape:
		err = svgShape(b, el.Shape, w, h)
	default:
		err = fmt.Errorf("unknown kind %q", el.Kind)
	}
	b.WriteString(`</g>`)
	return err
}

func svgText(b *bytes.Buffer, tc *core.TextContent, w float64) error {
	size := tc.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	fg, err := parseColor(tc.Color, defaultText)
	if err != nil {
		return err
	}

	anchor, x := "start", 0.0
	switch tc.Align {
	case "center":
		anchor, x = "middle", w/2
	case "right":
		anchor, x = "end", w
	}

	fmt.Fprintf(b, `<text font-size="%s" fill="%s" text-anchor="%s"`, num(size), cssColor(fg), anchor)
	if tc.FontFamily != "" {
		fmt.Fprintf(b, ` font-family="%s"`, attr(tc.FontFamily))
	}
	if tc.FontWeight != "" {
		fmt.Fprintf(b, ` font-weight="%s"`, attr(tc.FontWeight))
	}
	b.WriteByte('>')
	for i, line := range strings.Split(tc.Text, "\n") {
		dy := size * 1.2
		if i == 0 {
			dy = size
		}
		fmt.Fprintf(b, `<tspan x="%s" dy="%s">`, num(x), num(dy))
		if err := xml.EscapeText(b, []byte(line)); err != nil {
			return err
		}
		b.WriteString(`</tspan>`)
	}
	b.WriteString(`</text>`)
	return nil
}

func svgImage(b *bytes.Buffer, ic *core.ImageContent, w, h float64) {
	if ic.Resolved == nil || len(ic.Resolved.Data) == 0 {
		fmt.Fprintf(b, `<rect width="%s" height="%s" fill="%s"/>`, num(w), num(h), cssColor(placeholderFill))
		fmt.Fprintf(b, `<path d="M0 0L%s %sM0 %sL%s 0" stroke="%s"/>`, num(w), num(h), num(h), num(w), cssColor(placeholderLine))
		return
	}

	aspect := "xMidYMid meet"
	switch ic.Fit {
	case core.FitCover:
		aspect = "xMidYMid slice"
	case core.FitFill:
		aspect = "none"
	}
	ct := ic.Resolved.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	fmt.Fprintf(b, `<image width="%s" height="%s" preserveAspectRatio="%s" href="data:%s;base64,%s"/>`,
		num(w), num(h), aspect, attr(ct), base64.StdEncoding.EncodeToString(ic.Resolved.Data))
}

func svgShape(b *bytes.Buffer, sc *core.ShapeContent, w, h float64) error {
	fill, err := parseColor(sc.Fill, color.RGBA{})
	if err != nil {
		return err
	}
	stroke, err := parseColor(sc.Stroke, color.RGBA{})
	if err != nil {
		return err
	}
	paint := fmt.Sprintf(`fill="%s" stroke="%s" stroke-width="%s"`, svgPaint(fill), svgPaint(stroke), num(sc.StrokeWidth))

	switch sc.Shape {
	case "ellipse", "circle":
		fmt.Fprintf(b, `<ellipse cx="%s" cy="%s" rx="%s" ry="%s" %s/>`, num(w/2), num(h/2), num(w/2), num(h/2), paint)
	case "line":
		fmt.Fprintf(b, `<line x1="0" y1="0" x2="%s" y2="%s" %s/>`, num(w), num(h), paint)
	default:
		fmt.Fprintf(b, `<rect width="%s" height="%s" rx="%s" %s/>`, num(w), num(h), num(sc.CornerRadius), paint)
	}
	return nil
}

func svgPaint(c color.RGBA) string {
	if c.A == 0 {
		return "none"
	}
	return cssColor(c)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func attr(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
