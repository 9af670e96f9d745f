package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

var ErrInvalidToken = errors.New("invalid share token")

// CaptureRequest asks for an image of a puzzle as it currently lies, with every
// piece drawn at its current position.
type CaptureRequest struct {
	JobID   string
	Token   string
	Format  string
	Quality int
	Caption string

	// Background is a #rrggbb color; empty keeps the canvas transparent.
	Background string
	Guide      bool
}

type Output struct {
	JobID   string `json:"job_id"`
	Format  string `json:"format"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Success bool   `json:"success"`
}

type Result struct {
	Output Output
	Pieces int
	Solved bool
}

type Emitter interface {
	Emit(ctx context.Context, req CaptureRequest, data []byte, format string, width, height int) (Output, error)
}

type Processor struct {
	codec       *puzzle.Codec
	transformer Transformer
	emitter     Emitter
}

func NewLocalProcessor(codec *puzzle.Codec, outputDir string) (*Processor, error) {
	return newProcessor(codec, LocalFileEmitter{OutputDir: outputDir})
}

func NewObjectStoreProcessor(codec *puzzle.Codec, emitter ObjectStoreEmitter) (*Processor, error) {
	return newProcessor(codec, emitter)
}

func newProcessor(codec *puzzle.Codec, emitter Emitter) (*Processor, error) {
	if codec == nil {
		return nil, errors.New("share codec is required")
	}
	transformer, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	return &Processor{
		codec:       codec,
		transformer: transformer,
		emitter:     emitter,
	}, nil
}

func (p *Processor) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	data, err := p.codec.DecodeDetailed(req.Token)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	background, err := ParseBackground(req.Background)
	if err != nil {
		return Result{}, err
	}
	canvas, err := Compose(data, ComposeOptions{Background: background, Guide: req.Guide})
	if err != nil {
		return Result{}, fmt.Errorf("compose stage: %w", err)
	}

	encoded, format, width, height, err := p.transformer.Transform(ctx, canvas, RenderOptions{
		Format:  req.Format,
		Quality: req.Quality,
		Caption: req.Caption,
	})
	if err != nil {
		return Result{}, fmt.Errorf("transform stage: %w", err)
	}

	written, err := p.emitter.Emit(ctx, req, encoded, format, width, height)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{
		Output: written,
		Pieces: len(data.Pieces),
		Solved: puzzle.IsSolved(data.Pieces, puzzle.SolvedTolerance),
	}, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req CaptureRequest, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(req.JobID) == "" {
		return Output{}, errors.New("capture job id is required")
	}

	if err := os.MkdirAll(e.OutputDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := fmt.Sprintf("%s.%s", sanitizePathToken(req.JobID), normalizeOutputFormat(format))
	fullPath := filepath.Join(e.OutputDir, filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		JobID:   req.JobID,
		Format:  normalizeOutputFormat(format),
		Path:    fullPath,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
