package pipeline

import (
	"context"
	"image"
	"strings"
)

// RenderOptions control how a composed puzzle canvas is encoded.
type RenderOptions struct {
	Format  string
	Quality int
	Caption string
}

// RuntimeConfig tunes the native image runtime when one is compiled in.
type RuntimeConfig struct {
	CacheMemMB  int
	Concurrency int
}

func (c RuntimeConfig) cacheMemBytes() int {
	if c.CacheMemMB <= 0 {
		return 128 << 20
	}
	return c.CacheMemMB << 20
}

type Transformer interface {
	Transform(ctx context.Context, img image.Image, opts RenderOptions) (data []byte, format string, width, height int, err error)
}

func normalizeOutputFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return "jpeg"
	case "webp":
		return "webp"
	default:
		return "png"
	}
}

// SupportedFormat reports whether a capture format is accepted on input. An
// empty format means png.
func SupportedFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png", "jpg", "jpeg", "webp":
		return true
	default:
		return false
	}
}
