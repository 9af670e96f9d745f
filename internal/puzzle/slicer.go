package puzzle

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/disintegration/imaging"
)

const pngDataURLPrefix = "data:image/png;base64,"

type ImageLoader interface {
	LoadImage(ctx context.Context, ref string) (image.Image, error)
}

type TileRenderer interface {
	RenderTile(src image.Image, rect image.Rectangle) (string, error)
}

// LoadError reports a source image that could not be fetched or decoded.
type LoadError struct {
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load image %q: %v", e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type Slicer struct {
	loader    ImageLoader
	renderer  TileRenderer
	releaser  Releaser
	randFloat func() float64
}

type SlicerOption func(*Slicer)

func WithTileRenderer(r TileRenderer) SlicerOption {
	return func(s *Slicer) { s.renderer = r }
}

func WithReleaser(r Releaser) SlicerOption {
	return func(s *Slicer) { s.releaser = r }
}

// WithRandom replaces the uniform [0,1) source used for scattered placement.
func WithRandom(fn func() float64) SlicerOption {
	return func(s *Slicer) { s.randFloat = fn }
}

func NewSlicer(loader ImageLoader, opts ...SlicerOption) *Slicer {
	s := &Slicer{
		loader:    loader,
		renderer:  PNGTileRenderer{},
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slicer) Slice(ctx context.Context, ref string, cfg Config) (*PieceSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if s.loader == nil {
		return nil, &LoadError{Ref: ref, Err: errors.New("no image loader configured")}
	}

	img, err := s.loader.LoadImage(ctx, ref)
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.SliceImage(img, cfg)
}

func (s *Slicer) SliceImage(img image.Image, cfg Config) (*PieceSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, errors.New("source image has invalid dimensions")
	}
	if bounds.Dx() > MaxCanvasSide || bounds.Dy() > MaxCanvasSide {
		return nil, fmt.Errorf("source image is %dx%d, limit is %d on either side", bounds.Dx(), bounds.Dy(), MaxCanvasSide)
	}
	if bounds.Dx() < cfg.Columns || bounds.Dy() < cfg.Rows {
		return nil, fmt.Errorf("%w: a %dx%d image cannot be cut into %d columns and %d rows",
			ErrGridTooFine, bounds.Dx(), bounds.Dy(), cfg.Columns, cfg.Rows)
	}

	imgW := float64(bounds.Dx())
	imgH := float64(bounds.Dy())
	tileW := imgW / float64(cfg.Columns)
	tileH := imgH / float64(cfg.Rows)

	pieces := make([]Piece, 0, cfg.TileCount())
	for row := 0; row < cfg.Rows; row++ {
		for col := 0; col < cfg.Columns; col++ {
			rect := image.Rect(
				bounds.Min.X+int(math.Round(float64(col)*tileW)),
				bounds.Min.Y+int(math.Round(float64(row)*tileH)),
				bounds.Min.X+int(math.Round(float64(col+1)*tileW)),
				bounds.Min.Y+int(math.Round(float64(row+1)*tileH)),
			)
			url, err := s.renderer.RenderTile(img, rect)
			if err != nil {
				NewPieceSet(pieces, s.releaser).Release()
				return nil, fmt.Errorf("render tile row=%d col=%d: %w", row, col, err)
			}

			correctX := float64(col) * tileW
			correctY := float64(row) * tileH
			pieces = append(pieces, Piece{
				ID:       row*cfg.Columns + col,
				X:        correctX,
				Y:        correctY,
				Width:    tileW,
				Height:   tileH,
				CorrectX: correctX,
				CorrectY: correctY,
				ImageURL: url,
			})
		}
	}

	s.place(pieces, cfg.Difficulty, imgW, imgH)
	return NewPieceSet(pieces, s.releaser), nil
}

// Scatter re-applies the initial placement rule to a set that has no source image
// to slice again, such as one restored from a share link.
func (s *Slicer) Scatter(set *PieceSet, cfg Config) {
	if set.Released() || set.Len() == 0 {
		return
	}
	first := set.pieces[0]
	imgW := first.Width * float64(cfg.Columns)
	imgH := first.Height * float64(cfg.Rows)
	s.place(set.pieces, cfg.Difficulty, imgW, imgH)
}

// Medium and hard scatter identically; only easy starts solved.
func (s *Slicer) place(pieces []Piece, difficulty Difficulty, imgW, imgH float64) {
	for i := range pieces {
		p := &pieces[i]
		switch difficulty {
		case DifficultyEasy:
			p.X, p.Y = p.CorrectX, p.CorrectY
		default:
			p.X = s.randFloat() * (imgW - p.Width)
			p.Y = s.randFloat() * (imgH - p.Height)
		}
	}
}

// PNGTileRenderer crops a tile and keeps it inline as a PNG data URL.
type PNGTileRenderer struct{}

func (PNGTileRenderer) RenderTile(src image.Image, rect image.Rectangle) (string, error) {
	if rect.Empty() {
		return "", fmt.Errorf("empty tile rectangle %v", rect)
	}
	tile := imaging.Crop(src, rect)

	var buf bytes.Buffer
	if err := png.Encode(&buf, tile); err != nil {
		return "", fmt.Errorf("encode tile: %w", err)
	}
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeTile turns a tile data URL back into pixels.
func DecodeTile(imageURL string) (image.Image, error) {
	data, err := DataURLBytes(imageURL)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return img, nil
}

// DataURLBytes extracts the payload of a base64 data URL.
func DataURLBytes(dataURL string) ([]byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}
	return data, nil
}
