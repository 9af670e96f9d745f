package puzzle

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"
)

type staticLoader struct {
	img image.Image
	err error
}

func (l staticLoader) LoadImage(_ context.Context, _ string) (image.Image, error) {
	return l.img, l.err
}

type countingReleaser struct {
	released []string
}

func (r *countingReleaser) ReleaseTile(imageURL string) {
	r.released = append(r.released, imageURL)
}

func buildTestImage(t *testing.T, w, h int) image.Image {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func newTestSlicer(t *testing.T, w, h int, opts ...SlicerOption) *Slicer {
	t.Helper()
	return NewSlicer(staticLoader{img: buildTestImage(t, w, h)}, opts...)
}

func fixedRandom(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(WithClock(func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	t.Cleanup(codec.Close)
	return codec
}

func gridPieces(rows, cols int, size float64) []Piece {
	pieces := make([]Piece, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x := float64(col) * size
			y := float64(row) * size
			pieces = append(pieces, Piece{
				ID:       row*cols + col,
				X:        x,
				Y:        y,
				Width:    size,
				Height:   size,
				CorrectX: x,
				CorrectY: y,
				ImageURL: "data:image/png;base64,AAAA",
			})
		}
	}
	return pieces
}
