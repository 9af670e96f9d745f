package pipeline

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	guideBlurRadius = 6
	guideOpacity    = 0.25
)

type ComposeOptions struct {
	// Background fills the canvas behind the pieces. Nil leaves it transparent.
	Background color.Color
	// Guide draws a faint, blurred copy of the solved image under the pieces.
	Guide bool
}

// ParseBackground accepts "", "transparent" or a #rrggbb hex color.
func ParseBackground(raw string) (color.Color, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "transparent") {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "#") {
		raw = "#" + raw
	}
	c, err := colorful.Hex(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid background color %q: %w", raw, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// Compose draws every piece at its current position on a canvas the size of
// the assembled image. Pieces dragged outside the canvas are clipped.
func Compose(data puzzle.ShareableData, opts ComposeOptions) (*image.NRGBA, error) {
	if len(data.Pieces) == 0 {
		return nil, errors.New("puzzle has no pieces")
	}

	first := data.Pieces[0]
	fw := first.Width * float64(data.Config.Columns)
	fh := first.Height * float64(data.Config.Rows)
	if !(fw >= 1 && fh >= 1 && fw <= puzzle.MaxCanvasSide && fh <= puzzle.MaxCanvasSide) {
		return nil, fmt.Errorf("invalid canvas size %gx%g, limit is %d on either side", fw, fh, puzzle.MaxCanvasSide)
	}
	width := int(math.Round(fw))
	height := int(math.Round(fh))

	var bg color.Color = color.Transparent
	if opts.Background != nil {
		bg = opts.Background
	}
	canvas := imaging.New(width, height, bg)

	tiles := make([]image.Image, len(data.Pieces))
	for i, p := range data.Pieces {
		tile, err := puzzle.DecodeTile(p.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("piece %d: %w", p.ID, err)
		}
		tiles[i] = tile
	}

	if opts.Guide {
		solved := imaging.New(width, height, color.Transparent)
		for i, p := range data.Pieces {
			solved = imaging.Overlay(solved, tiles[i], roundPoint(p.CorrectX, p.CorrectY), 1.0)
		}
		guide := adjust.Brightness(blur.Gaussian(solved, guideBlurRadius), 0.2)
		canvas = imaging.Overlay(canvas, guide, image.Point{}, guideOpacity)
	}

	for i, p := range data.Pieces {
		canvas = imaging.Overlay(canvas, tiles[i], roundPoint(p.X, p.Y), 1.0)
	}
	return canvas, nil
}

func roundPoint(x, y float64) image.Point {
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}
