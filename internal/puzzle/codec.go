package puzzle

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DefaultMaxTokenBytes bounds both the token and its decompressed payload.
const DefaultMaxTokenBytes = 32 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ShareableData is the full state carried by a share link.
type ShareableData struct {
	Config    Config  `json:"config"`
	Pieces    []Piece `json:"pieces"`
	Mode      Mode    `json:"mode"`
	Timestamp int64   `json:"timestamp"`
}

// DecodeError describes why a share token was rejected. Decode itself only
// reports success; DecodeDetailed exposes the reason for logging.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode share token (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Codec struct {
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	now      func() time.Time
	maxBytes int
}

type CodecOption func(*Codec)

func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

func WithMaxTokenBytes(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func NewCodec(opts ...CodecOption) (*Codec, error) {
	c := &Codec{
		now:      time.Now,
		maxBytes: DefaultMaxTokenBytes,
	}
	for _, opt := range opts {
		opt(c)
	}

	enc, err := zstd.NewWriter(
		nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(
		nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxMemory(uint64(c.maxBytes)),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	c.enc = enc
	c.dec = dec
	return c, nil
}

func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode snapshots the pieces with the current time and returns a token made of
// URL-safe base64 only, so it can be used as a query value as is.
func (c *Codec) Encode(pieces []Piece, cfg Config, mode Mode) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid config: %w", err)
	}
	snapshot := ShareableData{
		Config:    cfg,
		Pieces:    make([]Piece, len(pieces)),
		Mode:      mode,
		Timestamp: c.now().UnixMilli(),
	}
	copy(snapshot.Pieces, pieces)

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal share data: %w", err)
	}
	compressed := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	return base64.RawURLEncoding.EncodeToString(compressed), nil
}

// Decode never fails loudly: any malformed or incomplete token yields false.
func (c *Codec) Decode(token string) (ShareableData, bool) {
	data, err := c.DecodeDetailed(token)
	if err != nil {
		return ShareableData{}, false
	}
	return data, true
}

func (c *Codec) DecodeDetailed(token string) (data ShareableData, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = ShareableData{}
			err = &DecodeError{Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return ShareableData{}, &DecodeError{Stage: "text", Err: errors.New("empty token")}
	}
	if len(token) > c.maxBytes {
		return ShareableData{}, &DecodeError{Stage: "text", Err: errors.New("token too large")}
	}

	raw, err := decodeBase64(token)
	if err != nil {
		return ShareableData{}, &DecodeError{Stage: "base64", Err: err}
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		raw, err = c.dec.DecodeAll(raw, nil)
		if err != nil {
			return ShareableData{}, &DecodeError{Stage: "zstd", Err: err}
		}
	}

	var wire struct {
		Config    *Config `json:"config"`
		Pieces    []Piece `json:"pieces"`
		Mode      *string `json:"mode"`
		Timestamp int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ShareableData{}, &DecodeError{Stage: "json", Err: err}
	}

	out, err := validateWire(wire.Config, wire.Pieces, wire.Mode)
	if err != nil {
		return ShareableData{}, &DecodeError{Stage: "validate", Err: err}
	}
	out.Timestamp = wire.Timestamp
	return out, nil
}

func validateWire(cfg *Config, pieces []Piece, mode *string) (ShareableData, error) {
	if cfg == nil {
		return ShareableData{}, errors.New("config is missing")
	}
	if err := cfg.Validate(); err != nil {
		return ShareableData{}, err
	}
	if pieces == nil {
		return ShareableData{}, errors.New("pieces are missing")
	}
	if mode == nil {
		return ShareableData{}, errors.New("mode is missing")
	}
	m, err := ParseMode(*mode)
	if err != nil {
		return ShareableData{}, err
	}

	want := cfg.TileCount()
	if len(pieces) != want {
		return ShareableData{}, fmt.Errorf("expected %d pieces, got %d", want, len(pieces))
	}
	if want > 0 {
		w, h := pieces[0].Width, pieces[0].Height
		if w*float64(cfg.Columns) > MaxCanvasSide || h*float64(cfg.Rows) > MaxCanvasSide {
			return ShareableData{}, fmt.Errorf("assembled image exceeds %d pixels on a side", MaxCanvasSide)
		}
	}
	seen := make(map[int]struct{}, len(pieces))
	for _, p := range pieces {
		if p.ID < 0 || p.ID >= want {
			return ShareableData{}, fmt.Errorf("piece id %d out of range", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return ShareableData{}, fmt.Errorf("duplicate piece id %d", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Width <= 0 || p.Height <= 0 {
			return ShareableData{}, fmt.Errorf("piece %d has invalid dimensions", p.ID)
		}
		if p.Width != pieces[0].Width || p.Height != pieces[0].Height {
			return ShareableData{}, fmt.Errorf("piece %d differs in size from piece %d", p.ID, pieces[0].ID)
		}
	}

	return ShareableData{Config: *cfg, Pieces: pieces, Mode: m}, nil
}

// Tokens from older encoders are padded standard base64 of plain JSON.
func decodeBase64(token string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(token)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
