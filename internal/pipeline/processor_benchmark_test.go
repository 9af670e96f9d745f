package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

func BenchmarkSlice1080p(b *testing.B) {
	src, err := png.Decode(bytes.NewReader(buildTestPNG(b, 1920, 1080)))
	if err != nil {
		b.Fatalf("decode: %v", err)
	}
	slicer := puzzle.NewSlicer(nil)
	cfg := puzzle.Config{Rows: 4, Columns: 4, Difficulty: puzzle.DifficultyMedium}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		set, err := slicer.SliceImage(src, cfg)
		if err != nil {
			b.Fatalf("slice: %v", err)
		}
		set.Release()
	}
}

func BenchmarkCapture(b *testing.B) {
	src, err := png.Decode(bytes.NewReader(buildTestPNG(b, 960, 540)))
	if err != nil {
		b.Fatalf("decode: %v", err)
	}
	cfg := puzzle.Config{Rows: 3, Columns: 3, Difficulty: puzzle.DifficultyMedium}
	set, err := puzzle.NewSlicer(nil).SliceImage(src, cfg)
	if err != nil {
		b.Fatalf("slice: %v", err)
	}
	codec, err := puzzle.NewCodec()
	if err != nil {
		b.Fatalf("codec: %v", err)
	}
	defer codec.Close()
	token, err := codec.Encode(set.Pieces(), cfg, puzzle.ModeDrag)
	if err != nil {
		b.Fatalf("encode: %v", err)
	}

	processor, err := NewLocalProcessor(codec, b.TempDir())
	if err != nil {
		b.Fatalf("new local processor: %v", err)
	}
	processor.emitter = discardEmitter{}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := CaptureRequest{JobID: fmt.Sprintf("bench-%d", i), Token: token}
		if _, err := processor.Capture(context.Background(), req); err != nil {
			b.Fatalf("capture: %v", err)
		}
	}
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, req CaptureRequest, data []byte, format string, width, height int) (Output, error) {
	return Output{
		JobID:   req.JobID,
		Format:  normalizeOutputFormat(format),
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}
