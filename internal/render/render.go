// Package render is the built-in drawing surface for templates.
//
// Template units are points (1/72 inch). Raster output (PNG, JPEG and
// lossless WebP) is scaled by resolution/72. PDF pages keep the template
// size in points and embed a JPEG rendering. SVG output is resolution
// independent.
package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// MaxPixels caps the raster size of one page.
const MaxPixels = 40_000_000

// ErrTooLarge is returned when a page would exceed MaxPixels.
var ErrTooLarge = errors.New("page too large to render")

// Supports reports whether the built-in surface can produce f.
func Supports(f core.OutputFormat) bool {
	switch f {
	case core.FormatPNG, core.FormatJPEG, core.FormatPDF, core.FormatSVG, core.FormatWEBP:
		return true
	}
	return false
}

// Surface renders one template snapshot at a time. It is not safe for
// concurrent use; a run owns its surface.
type Surface struct {
	width, height float64
	current       core.Template
	loaded        bool
}

// NewSurface is a core.SurfaceFactory for the built-in surface.
func NewSurface(t core.Template) (core.Surface, error) {
	if t.Width <= 0 || t.Height <= 0 {
		return nil, fmt.Errorf("surface: invalid size %vx%v", t.Width, t.Height)
	}
	return &Surface{width: t.Width, height: t.Height}, nil
}

// Load replaces the drawn snapshot.
func (s *Surface) Load(t core.Template) error {
	if t.Width != s.width || t.Height != s.height {
		return fmt.Errorf("surface: snapshot size %vx%v does not match %vx%v", t.Width, t.Height, s.width, s.height)
	}
	s.current = t
	s.loaded = true
	return nil
}

// Dimensions returns the page size in points.
func (s *Surface) Dimensions() (float64, float64) {
	return s.width, s.height
}

// Render draws the loaded snapshot in the requested format.
func (s *Surface) Render(ctx context.Context, opts core.RenderOptions) ([]byte, error) {
	if !s.loaded {
		return nil, errors.New("surface: nothing loaded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch opts.Format {
	case core.FormatSVG:
		return renderSVG(s.current)
	case core.FormatPNG, core.FormatJPEG, core.FormatWEBP:
		img, err := rasterize(s.current, scaleFor(opts.Resolution))
		if err != nil {
			return nil, err
		}
		return encodeRaster(img, opts.Format, opts.Quality)
	case core.FormatPDF:
		img, err := rasterize(s.current, scaleFor(opts.Resolution))
		if err != nil {
			return nil, err
		}
		jpg, err := encodeRaster(img, core.FormatJPEG, opts.Quality)
		if err != nil {
			return nil, err
		}
		return writePDF(jpg, s.width, s.height)
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, opts.Format)
}

func scaleFor(dpi int) float64 {
	if dpi <= 0 {
		dpi = 72
	}
	return float64(dpi) / 72
}
