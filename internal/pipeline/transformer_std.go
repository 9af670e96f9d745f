package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type stdlibTransformer struct{}

func (t stdlibTransformer) Transform(ctx context.Context, img image.Image, opts RenderOptions) ([]byte, string, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, "", 0, 0, ctx.Err()
	default:
	}

	out := imaging.Clone(img)
	if caption := strings.TrimSpace(opts.Caption); caption != "" {
		out = drawCaption(out, caption)
	}

	format := normalizeOutputFormat(opts.Format)
	data, err := encodeImage(out, format, opts.Quality)
	if err != nil {
		return nil, "", 0, 0, err
	}

	bounds := out.Bounds()
	return data, format, bounds.Dx(), bounds.Dy(), nil
}

// drawCaption writes text on a translucent band along the bottom edge.
func drawCaption(dst *image.NRGBA, text string) *image.NRGBA {
	const pad = 6

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := metrics.Height.Ceil()

	bounds := dst.Bounds()
	bandTop := bounds.Max.Y - lineHeight - 2*pad
	if bandTop < bounds.Min.Y {
		bandTop = bounds.Min.Y
	}
	band := image.Rect(bounds.Min.X, bandTop, bounds.Max.X, bounds.Max.Y)
	draw.Draw(dst, band, image.NewUniform(color.NRGBA{A: 140}), image.Point{}, draw.Over)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	width := drawer.MeasureString(text).Ceil()
	x := bounds.Min.X + (bounds.Dx()-width)/2
	x = clamp(x, bounds.Min.X+pad, bounds.Max.X)
	drawer.Dot = fixed.P(x, clamp(bandTop+pad+ascent, bounds.Min.Y+ascent, bounds.Max.Y))
	drawer.DrawString(text)
	return dst
}

func encodeImage(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = 85
		}
		// jpeg has no alpha; flatten clipped areas onto white.
		flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.White)
		flat = imaging.Overlay(flat, img, image.Point{}, 1.0)
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "webp":
		return nil, errors.New("webp export requires govips build tag")
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
