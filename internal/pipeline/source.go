package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const defaultMaxSourceBytes = 25 << 20

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Source struct {
	Type string
	Key  string
}

// ParseSourceRef accepts a data URL, an s3://object-key reference, or a local path
// (optionally prefixed with file://).
func ParseSourceRef(ref string) (Source, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return Source{}, errors.New("source ref is required")
	case strings.HasPrefix(ref, "data:"):
		return Source{Type: domain.SourceTypeInline, Key: ref}, nil
	case strings.HasPrefix(ref, "s3://"):
		key := strings.TrimPrefix(ref, "s3://")
		if key == "" {
			return Source{}, errors.New("s3 source ref is missing an object key")
		}
		return Source{Type: domain.SourceTypeObject, Key: key}, nil
	default:
		return Source{Type: domain.SourceTypeLocalFile, Key: strings.TrimPrefix(ref, "file://")}, nil
	}
}

func (s Source) Ref() string {
	switch s.Type {
	case domain.SourceTypeObject:
		return "s3://" + s.Key
	default:
		return s.Key
	}
}

type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]byte, error)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	if !strings.EqualFold(src.Type, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, src.Type)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(src.Key)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", src.Key, err)
	}
	return data, nil
}

type InlineFetcher struct{}

func (InlineFetcher) Fetch(_ context.Context, src Source) ([]byte, error) {
	if !strings.EqualFold(src.Type, domain.SourceTypeInline) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, src.Type)
	}
	if strings.HasPrefix(src.Key, "data:") {
		return puzzle.DataURLBytes(src.Key)
	}
	data, err := base64.StdEncoding.DecodeString(src.Key)
	if err != nil {
		return nil, fmt.Errorf("decode inline image: %w", err)
	}
	return data, nil
}

// SourceLoader fetches and decodes source images for the slicer.
type SourceLoader struct {
	fetchers map[string]Fetcher
	maxBytes int
}

func NewSourceLoader(maxBytes int, object Fetcher) *SourceLoader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxSourceBytes
	}
	fetchers := map[string]Fetcher{
		domain.SourceTypeLocalFile: LocalFileFetcher{},
		domain.SourceTypeInline:    InlineFetcher{},
	}
	if object != nil {
		fetchers[domain.SourceTypeObject] = object
	}
	return &SourceLoader{fetchers: fetchers, maxBytes: maxBytes}
}

func (l *SourceLoader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	src, err := ParseSourceRef(ref)
	if err != nil {
		return nil, err
	}
	fetcher, ok := l.fetchers[src.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, src.Type)
	}

	data, err := fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetch stage: %w", err)
	}
	if len(data) > l.maxBytes {
		return nil, fmt.Errorf("source image is %d bytes, limit is %d", len(data), l.maxBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return img, nil
}
