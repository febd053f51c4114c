package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // image decoders
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/HugoSmits86/nativewebp"
	"github.com/fogleman/gg"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

var (
	defaultText       = color.RGBA{0, 0, 0, 255}
	defaultBackground = color.RGBA{255, 255, 255, 255}
	placeholderFill   = color.RGBA{230, 230, 230, 255}
	placeholderLine   = color.RGBA{170, 170, 170, 255}
)

const defaultFontSize = 16

// rasterize draws t onto an RGBA canvas scaled by scale.
func rasterize(t core.Template, scale float64) (*image.RGBA, error) {
	w := int(math.Ceil(t.Width * scale))
	h := int(math.Ceil(t.Height * scale))
	if w <= 0 || h <= 0 || w*h > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, w, h)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	bg, err := parseColor(t.Background, defaultBackground)
	if err != nil {
		return nil, err
	}
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(premultiply(bg)), image.Point{}, draw.Src)

	for _, el := range t.Elements {
		if !el.Visible {
			continue
		}
		layer, err := drawElement(el, scale)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", el.ID, err)
		}
		if layer == nil {
			continue
		}
		if el.Grayscale {
			toGray(layer)
		}
		composite(canvas, layer, el.Geometry, scale)
	}
	return canvas, nil
}

// drawElement renders an element's content into its own layer. The layer
// is later mapped onto the element box.
func drawElement(el core.Element, scale float64) (*image.RGBA, error) {
	bw, bh := el.Geometry.Scaled()
	pw, ph := int(math.Ceil(bw*scale)), int(math.Ceil(bh*scale))
	if pw <= 0 || ph <= 0 {
		return nil, nil
	}

	switch el.Kind {
	case core.KindText:
		return drawText(el.Text, bw, bh, scale)
	case core.KindImage:
		return drawImage(el.Image, pw, ph)
	case core.KindShape:
		return drawShape(el.Shape, pw, ph, scale)
	}
	return nil, fmt.Errorf("unknown kind %q", el.Kind)
}

// composite maps layer onto the element box of g, rotating clockwise about
// the box center and applying the element opacity.
func composite(dst *image.RGBA, layer *image.RGBA, g core.Geometry, scale float64) {
	bw, bh := g.Scaled()
	lw, lh := float64(layer.Bounds().Dx()), float64(layer.Bounds().Dy())
	sx, sy := bw*scale/lw, bh*scale/lh
	cx, cy := (g.X+bw/2)*scale, (g.Y+bh/2)*scale

	sin, cos := math.Sincos(g.Rotation * math.Pi / 180)
	m := f64.Aff3{
		cos * sx, -sin * sy, cx - cos*sx*lw/2 + sin*sy*lh/2,
		sin * sx, cos * sy, cy - sin*sx*lw/2 - cos*sy*lh/2,
	}

	var opts *draw.Options
	if op := opacity(g.Opacity); op < 1 {
		opts = &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: uint8(math.Round(op * 255))})}
	}
	draw.BiLinear.Transform(dst, m, layer, layer.Bounds(), draw.Over, opts)
}

// opacity treats an unset (zero) opacity as fully opaque.
func opacity(v float64) float64 {
	if v <= 0 || v > 1 {
		return 1
	}
	return v
}

func drawText(tc *core.TextContent, bw, bh, scale float64) (*image.RGBA, error) {
	size := tc.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()

	// Lay the text out at the face's native size, then let composite scale
	// the layer up to the requested font size.
	k := size * scale / float64(lineHeight)
	lw := max(int(math.Ceil(bw*scale/k)), 1)
	lh := max(int(math.Ceil(bh*scale/k)), 1)

	fg, err := parseColor(tc.Color, defaultText)
	if err != nil {
		return nil, err
	}

	layer := image.NewRGBA(image.Rect(0, 0, lw, lh))
	d := &font.Drawer{Dst: layer, Src: image.NewUniform(premultiply(fg)), Face: face}

	bold := strings.EqualFold(tc.FontWeight, "bold") || tc.FontWeight == "700"
	ascent := face.Metrics().Ascent.Ceil()
	for i, line := range wrapLines(d, tc.Text, lw) {
		y := ascent + i*lineHeight
		if y-ascent >= lh {
			break
		}
		width := d.MeasureString(line).Ceil()
		x := 0
		switch tc.Align {
		case "center":
			x = (lw - width) / 2
		case "right":
			x = lw - width
		}
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
		if bold {
			d.Dot = fixed.P(x+1, y)
			d.DrawString(line)
		}
	}
	return layer, nil
}

// wrapLines splits text on newlines and wraps words to width pixels. A word
// wider than the line is kept whole.
func wrapLines(d *font.Drawer, text string, width int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		cur := words[0]
		for _, w := range words[1:] {
			if d.MeasureString(cur+" "+w).Ceil() > width {
				lines = append(lines, cur)
				cur = w
				continue
			}
			cur += " " + w
		}
		lines = append(lines, cur)
	}
	return lines
}

func drawImage(ic *core.ImageContent, pw, ph int) (*image.RGBA, error) {
	layer := image.NewRGBA(image.Rect(0, 0, pw, ph))
	if ic.Resolved == nil || len(ic.Resolved.Data) == 0 {
		drawPlaceholder(layer)
		return layer, nil
	}

	src, _, err := image.Decode(bytes.NewReader(ic.Resolved.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", ic.Resolved.Ref, err)
	}
	draw.CatmullRom.Scale(layer, fitRect(src.Bounds(), layer.Bounds(), ic.Fit), src, src.Bounds(), draw.Over, nil)
	return layer, nil
}

// fitRect places an image of size src inside box according to fit.
func fitRect(src, box image.Rectangle, fit core.ImageFit) image.Rectangle {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	bw, bh := float64(box.Dx()), float64(box.Dy())
	if sw == 0 || sh == 0 {
		return box
	}

	var w, h float64
	switch fit {
	case core.FitFill:
		return box
	case core.FitNone:
		w, h = sw, sh
	case core.FitCover:
		k := math.Max(bw/sw, bh/sh)
		w, h = sw*k, sh*k
	default:
		k := math.Min(bw/sw, bh/sh)
		w, h = sw*k, sh*k
	}
	x := (bw - w) / 2
	y := (bh - h) / 2
	return image.Rect(int(math.Round(x)), int(math.Round(y)), int(math.Round(x+w)), int(math.Round(y+h)))
}

func drawPlaceholder(layer *image.RGBA) {
	b := layer.Bounds()
	draw.Draw(layer, b, image.NewUniform(placeholderFill), image.Point{}, draw.Src)
	w, h := b.Dx(), b.Dy()
	for x := range w {
		y1 := x * h / w
		layer.SetRGBA(x, y1, placeholderLine)
		layer.SetRGBA(x, h-1-y1, placeholderLine)
	}
}

func drawShape(sc *core.ShapeContent, pw, ph int, scale float64) (*image.RGBA, error) {
	fill, err := parseColor(sc.Fill, color.RGBA{})
	if err != nil {
		return nil, err
	}
	stroke, err := parseColor(sc.Stroke, color.RGBA{})
	if err != nil {
		return nil, err
	}
	sw := sc.StrokeWidth * scale
	if sc.Stroke != "" && sw <= 0 {
		sw = scale
	}

	layer := image.NewRGBA(image.Rect(0, 0, pw, ph))
	dc := gg.NewContextForRGBA(layer)
	w, h := float64(pw), float64(ph)

	if sc.Shape == "line" {
		if stroke.A > 0 {
			dc.DrawLine(0, 0, w, h)
			dc.SetLineWidth(math.Max(sw, 1))
			dc.SetColor(premultiply(stroke))
			dc.Stroke()
		}
		return layer, nil
	}

	// path traces the outline inset by d so strokes stay inside the box.
	path := func(d float64) {
		switch sc.Shape {
		case "ellipse", "circle":
			dc.DrawEllipse(w/2, h/2, math.Max(w/2-d, 0), math.Max(h/2-d, 0))
		default:
			r := math.Min(sc.CornerRadius*scale, math.Min(w, h)/2) - d
			if r <= 0 {
				dc.DrawRectangle(d, d, w-2*d, h-2*d)
				return
			}
			dc.DrawRoundedRectangle(d, d, w-2*d, h-2*d, r)
		}
	}

	if fill.A > 0 {
		path(0)
		dc.SetColor(premultiply(fill))
		dc.Fill()
	}
	if stroke.A > 0 && sw > 0 {
		path(sw / 2)
		dc.SetLineWidth(sw)
		dc.SetColor(premultiply(stroke))
		dc.Stroke()
	}
	return layer, nil
}

// toGray desaturates a premultiplied layer in place, keeping alpha.
func toGray(img *image.RGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
		y := uint8(math.Round(0.299*r + 0.587*g + 0.114*b))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = y, y, y
	}
}

func encodeRaster(img image.Image, format core.OutputFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case core.FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case core.FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case core.FormatWEBP:
		if err := nativewebp.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, format)
	}
	return buf.Bytes(), nil
}
