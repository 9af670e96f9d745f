package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

func TestSourceLoaderFeedsSlicer(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 240, 120), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	slicer := puzzle.NewSlicer(NewSourceLoader(0, nil))
	set, err := slicer.Slice(context.Background(), "file://"+inputPath, puzzle.Config{
		Rows: 2, Columns: 4, Difficulty: puzzle.DifficultyEasy,
	})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	defer set.Release()

	if set.Len() != 8 {
		t.Fatalf("expected 8 pieces, got %d", set.Len())
	}
	last, _ := set.Piece(7)
	if last.Width != 60 || last.Height != 60 || last.CorrectX != 180 || last.CorrectY != 60 {
		t.Fatalf("unexpected geometry for last piece: %+v", last)
	}
}

func TestSourceLoaderInlineAndLimits(t *testing.T) {
	raw := buildTestPNG(t, 10, 10)
	loader := NewSourceLoader(0, nil)

	img, err := loader.LoadImage(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("load inline: %v", err)
	}
	if img.Bounds().Dx() != 10 {
		t.Fatalf("expected width 10, got %d", img.Bounds().Dx())
	}

	small := NewSourceLoader(16, nil)
	if _, err := small.LoadImage(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Fatal("expected size limit error")
	}

	if _, err := loader.LoadImage(context.Background(), "s3://uploads/a.png"); !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source type without object storage, got %v", err)
	}
}

func TestParseSourceRef(t *testing.T) {
	cases := []struct {
		ref      string
		wantType string
		wantKey  string
	}{
		{ref: "s3://uploads/cat.jpg", wantType: domain.SourceTypeObject, wantKey: "uploads/cat.jpg"},
		{ref: "file:///tmp/cat.jpg", wantType: domain.SourceTypeLocalFile, wantKey: "/tmp/cat.jpg"},
		{ref: "./cat.jpg", wantType: domain.SourceTypeLocalFile, wantKey: "./cat.jpg"},
		{ref: "data:image/png;base64,AAAA", wantType: domain.SourceTypeInline, wantKey: "data:image/png;base64,AAAA"},
	}
	for _, tc := range cases {
		src, err := ParseSourceRef(tc.ref)
		if err != nil {
			t.Fatalf("%s: %v", tc.ref, err)
		}
		if src.Type != tc.wantType || src.Key != tc.wantKey {
			t.Fatalf("%s: expected %s/%s, got %s/%s", tc.ref, tc.wantType, tc.wantKey, src.Type, src.Key)
		}
	}
	if _, err := ParseSourceRef("s3://"); err == nil {
		t.Fatal("expected error for empty object key")
	}
}

func TestLocalProcessorCapturesSolvedPuzzle(t *testing.T) {
	srcBytes := buildTestPNG(t, 90, 60)
	src, err := png.Decode(bytes.NewReader(srcBytes))
	if err != nil {
		t.Fatalf("decode source: %v", err)
	}

	slicer := puzzle.NewSlicer(nil)
	set, err := slicer.SliceImage(src, puzzle.Config{Rows: 2, Columns: 3, Difficulty: puzzle.DifficultyEasy})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	codec := newTestCodec(t)
	token, err := codec.Encode(set.Pieces(), puzzle.Config{Rows: 2, Columns: 3, Difficulty: puzzle.DifficultyEasy}, puzzle.ModeDrag)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "out")
	processor, err := NewLocalProcessor(codec, outputDir)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Capture(context.Background(), CaptureRequest{JobID: "cap/1", Token: token})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !result.Solved || result.Pieces != 6 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Output.Format != "png" || filepath.Base(result.Output.Path) != "cap_1.png" {
		t.Fatalf("unexpected output: %+v", result.Output)
	}

	out := readImage(t, result.Output.Path)
	if out.Bounds().Dx() != 90 || out.Bounds().Dy() != 60 {
		t.Fatalf("expected 90x60 capture, got %v", out.Bounds())
	}
	for _, pt := range []image.Point{{5, 5}, {45, 30}, {85, 55}} {
		if !sameRGB(out.At(pt.X, pt.Y), src.At(pt.X, pt.Y)) {
			t.Fatalf("pixel %v differs from source", pt)
		}
	}
}

func TestCaptureDrawsPiecesWhereTheyLie(t *testing.T) {
	codec := newTestCodec(t)
	red := solidTile(t, 10, 10, color.NRGBA{R: 255, A: 255})
	blue := solidTile(t, 10, 10, color.NRGBA{B: 255, A: 255})
	pieces := []puzzle.Piece{
		{ID: 0, X: 10, Y: 0, Width: 10, Height: 10, CorrectX: 0, CorrectY: 0, ImageURL: red},
		{ID: 1, X: 0, Y: 0, Width: 10, Height: 10, CorrectX: 10, CorrectY: 0, ImageURL: blue},
	}
	token, err := codec.Encode(pieces, puzzle.Config{Rows: 1, Columns: 2, Difficulty: puzzle.DifficultyHard}, puzzle.ModeClick)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	processor, err := NewLocalProcessor(codec, t.TempDir())
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	result, err := processor.Capture(context.Background(), CaptureRequest{JobID: "swapped", Token: token, Format: "jpg", Quality: 95})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if result.Solved {
		t.Fatal("expected swapped puzzle to be reported unsolved")
	}
	if result.Output.Format != "jpeg" {
		t.Fatalf("expected jpeg output, got %s", result.Output.Format)
	}

	out := readImage(t, result.Output.Path)
	r, _, b, _ := out.At(5, 5).RGBA()
	if b>>8 < 200 || r>>8 > 60 {
		t.Fatalf("expected blue at the left slot, got r=%d b=%d", r>>8, b>>8)
	}
}

func TestCaptureRejectsBadToken(t *testing.T) {
	processor, err := NewLocalProcessor(newTestCodec(t), t.TempDir())
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	_, err = processor.Capture(context.Background(), CaptureRequest{JobID: "bad", Token: "not-a-token"})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCaptionChangesOutput(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 120, 60))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	plain, _, _, _, err := stdlibTransformer{}.Transform(context.Background(), img, RenderOptions{})
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	captioned, _, w, h, err := stdlibTransformer{}.Transform(context.Background(), img, RenderOptions{Caption: "solved in 12 moves"})
	if err != nil {
		t.Fatalf("captioned: %v", err)
	}
	if w != 120 || h != 60 {
		t.Fatalf("expected caption to keep dimensions, got %dx%d", w, h)
	}
	if bytes.Equal(plain, captioned) {
		t.Fatal("expected caption to change the encoded image")
	}
}

type memoryObjectStore struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memoryObjectStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memoryObjectStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func TestObjectStoreStages(t *testing.T) {
	store := &memoryObjectStore{}
	if err := store.WriteObject(context.Background(), "uploads/p.png", buildTestPNG(t, 30, 30), "image/png"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	loader := NewSourceLoader(0, ObjectStoreFetcher{Storage: store})
	img, err := loader.LoadImage(context.Background(), "s3://uploads/p.png")
	if err != nil {
		t.Fatalf("load from object store: %v", err)
	}
	if img.Bounds().Dx() != 30 {
		t.Fatalf("expected width 30, got %d", img.Bounds().Dx())
	}

	emitter := ObjectStoreEmitter{Storage: store}
	out, err := emitter.Emit(context.Background(), CaptureRequest{JobID: "job-9"}, []byte("img"), "jpg", 3, 4)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if out.Path != "s3://captures/job-9.jpeg" {
		t.Fatalf("unexpected path %s", out.Path)
	}
	if store.types["captures/job-9.jpeg"] != "image/jpeg" {
		t.Fatalf("unexpected content type %q", store.types["captures/job-9.jpeg"])
	}
}

func newTestCodec(t *testing.T) *puzzle.Codec {
	t.Helper()
	codec, err := puzzle.NewCodec()
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	t.Cleanup(codec.Close)
	return codec
}

func buildTestPNG(t testing.TB, w, h int) []byte {
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

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func solidTile(t *testing.T, w, h int, c color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode tile: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func readImage(t *testing.T, path string) image.Image {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}
	return img
}

func sameRGB(a, b color.Color) bool {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	return ar>>8 == br>>8 && ag>>8 == bg>>8 && ab>>8 == bb>>8
}

func TestParseBackground(t *testing.T) {
	c, err := ParseBackground("#ff8000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, g, b, a := c.RGBA()
	if r>>8 != 0xff || g>>8 != 0x80 || b>>8 != 0 || a>>8 != 0xff {
		t.Fatalf("unexpected color %v", c)
	}
	if c, err := ParseBackground("transparent"); err != nil || c != nil {
		t.Fatalf("expected transparent to yield nil color, got %v %v", c, err)
	}
	if _, err := ParseBackground("#zzz"); err == nil {
		t.Fatal("expected invalid hex error")
	}
}

func TestComposeBackgroundAndGuide(t *testing.T) {
	tile := solidTile(t, 10, 10, color.NRGBA{G: 255, A: 255})
	data := puzzle.ShareableData{
		Config: puzzle.Config{Rows: 1, Columns: 2, Difficulty: puzzle.DifficultyEasy},
		Pieces: []puzzle.Piece{
			{ID: 0, X: 0, Y: 0, Width: 10, Height: 10, CorrectX: 0, CorrectY: 0, ImageURL: tile},
			{ID: 1, X: 0, Y: 0, Width: 10, Height: 10, CorrectX: 10, CorrectY: 0, ImageURL: tile},
		},
	}

	plain, err := Compose(data, ComposeOptions{Background: color.White})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if got := plain.NRGBAAt(15, 5); got != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("expected white in the empty slot, got %v", got)
	}

	guided, err := Compose(data, ComposeOptions{Background: color.White, Guide: true})
	if err != nil {
		t.Fatalf("compose with guide: %v", err)
	}
	if got := guided.NRGBAAt(15, 5); got.R == 255 && got.B == 255 {
		t.Fatalf("expected guide to tint the empty slot, got %v", got)
	}
	if got := guided.NRGBAAt(5, 5); got != (color.NRGBA{G: 255, A: 255}) {
		t.Fatalf("expected placed piece to cover the guide, got %v", got)
	}
}

func TestComposeRejectsOversizedCanvas(t *testing.T) {
	tile := solidTile(t, 10, 10, color.NRGBA{R: 255, A: 255})
	data := puzzle.ShareableData{
		Config: puzzle.Config{Rows: 1, Columns: 1, Difficulty: puzzle.DifficultyEasy},
		Pieces: []puzzle.Piece{{ID: 0, Width: 1e9, Height: 1e9, ImageURL: tile}},
	}
	if _, err := Compose(data, ComposeOptions{}); err == nil {
		t.Fatal("expected oversized canvas to be rejected")
	}

	data.Pieces[0].Width, data.Pieces[0].Height = 0.2, 0.2
	if _, err := Compose(data, ComposeOptions{}); err == nil {
		t.Fatal("expected sub-pixel canvas to be rejected")
	}
}
