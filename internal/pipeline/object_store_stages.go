package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
)

type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(src.Type, domain.SourceTypeObject) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, src.Type)
	}
	return f.Storage.ReadObject(ctx, src.Key)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req CaptureRequest, data []byte, format string, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(req.JobID) == "" {
		return Output{}, errors.New("capture job id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		fmt.Sprintf("%s.%s", sanitizePathToken(req.JobID), normalizeOutputFormat(format)),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, data, contentTypeForFormat(format)); err != nil {
		return Output{}, err
	}

	return Output{
		JobID:   req.JobID,
		Format:  normalizeOutputFormat(format),
		Path:    "s3://" + objectKey,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "captures"
	}
	return prefix
}

func contentTypeForFormat(format string) string {
	switch normalizeOutputFormat(strings.ToLower(strings.TrimSpace(format))) {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
