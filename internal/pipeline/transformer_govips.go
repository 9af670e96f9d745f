//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, src image.Image, opts RenderOptions) ([]byte, string, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, "", 0, 0, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, "", 0, 0, fmt.Errorf("stage canvas: %w", err)
	}

	img, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("load canvas: %w", err)
	}
	defer img.Close()

	if caption := strings.TrimSpace(opts.Caption); caption != "" {
		if err := applyGovipsCaption(img, caption); err != nil {
			return nil, "", 0, 0, err
		}
	}

	format := normalizeOutputFormat(opts.Format)
	if format == "jpeg" {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return nil, "", 0, 0, fmt.Errorf("flatten canvas: %w", err)
		}
	}
	data, err := exportGovipsImage(img, format, opts.Quality)
	if err != nil {
		return nil, "", 0, 0, err
	}

	return data, format, img.Width(), img.Height(), nil
}

func applyGovipsCaption(img *vips.ImageRef, text string) error {
	label := &vips.LabelParams{
		Text:      text,
		Font:      "sans 16",
		Opacity:   0.9,
		Color:     vips.Color{R: 255, G: 255, B: 255},
		Alignment: vips.AlignCenter,
	}
	label.Width.SetInt(max(1, img.Width()-12))
	label.Height.SetInt(max(1, img.Height()-12))
	label.OffsetX.SetInt(6)
	label.OffsetY.SetInt(max(0, img.Height()-28))

	if err := img.Label(label); err != nil {
		return fmt.Errorf("apply caption: %w", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, format string, quality int) ([]byte, error) {
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "png":
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
