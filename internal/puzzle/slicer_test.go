package puzzle

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
)

func TestSliceProducesEveryPieceOnce(t *testing.T) {
	slicer := newTestSlicer(t, 200, 150)
	set, err := slicer.Slice(context.Background(), "mem://test", Config{Rows: 3, Columns: 4, Difficulty: DifficultyHard})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	defer set.Release()

	pieces := set.Pieces()
	if len(pieces) != 12 {
		t.Fatalf("expected 12 pieces, got %d", len(pieces))
	}
	seen := make(map[int]bool)
	for _, p := range pieces {
		if p.ID < 0 || p.ID >= 12 {
			t.Fatalf("piece id %d out of range", p.ID)
		}
		if seen[p.ID] {
			t.Fatalf("piece id %d appears twice", p.ID)
		}
		seen[p.ID] = true
		if p.ImageURL == "" {
			t.Fatalf("piece %d has no tile", p.ID)
		}
	}
}

func TestSliceHomePositionsWithFractionalTiles(t *testing.T) {
	slicer := newTestSlicer(t, 100, 70, WithRandom(fixedRandom(0.5)))
	cfg := Config{Rows: 3, Columns: 3, Difficulty: DifficultyMedium}
	set, err := slicer.Slice(context.Background(), "mem://test", cfg)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	defer set.Release()

	tileW := 100.0 / 3
	tileH := 70.0 / 3
	for _, p := range set.Pieces() {
		wantX := float64(p.ID%cfg.Columns) * tileW
		wantY := float64(p.ID/cfg.Columns) * tileH
		if math.Abs(p.CorrectX-wantX) > 1e-9 || math.Abs(p.CorrectY-wantY) > 1e-9 {
			t.Fatalf("piece %d: expected home (%v,%v), got (%v,%v)", p.ID, wantX, wantY, p.CorrectX, p.CorrectY)
		}
		if p.Width != tileW || p.Height != tileH {
			t.Fatalf("piece %d: expected size %vx%v, got %vx%v", p.ID, tileW, tileH, p.Width, p.Height)
		}
	}
}

func TestSliceEasyStartsSolved(t *testing.T) {
	slicer := newTestSlicer(t, 90, 60)
	set, err := slicer.Slice(context.Background(), "mem://test", Config{Rows: 2, Columns: 3, Difficulty: DifficultyEasy})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	defer set.Release()

	for _, p := range set.Pieces() {
		if p.X != p.CorrectX || p.Y != p.CorrectY {
			t.Fatalf("piece %d: expected to start home, got (%v,%v)", p.ID, p.X, p.Y)
		}
	}
	if !IsSolved(set.Pieces(), SolvedTolerance) {
		t.Fatal("expected easy puzzle to start solved")
	}
}

func TestSliceScatterStaysInsideImage(t *testing.T) {
	slicer := newTestSlicer(t, 120, 80, WithRandom(fixedRandom(0, 0.999, 0.25, 0.75)))
	set, err := slicer.Slice(context.Background(), "mem://test", Config{Rows: 2, Columns: 2, Difficulty: DifficultyHard})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	defer set.Release()

	for _, p := range set.Pieces() {
		if p.X < 0 || p.X > 120-p.Width {
			t.Fatalf("piece %d: x=%v outside [0,%v]", p.ID, p.X, 120-p.Width)
		}
		if p.Y < 0 || p.Y > 80-p.Height {
			t.Fatalf("piece %d: y=%v outside [0,%v]", p.ID, p.Y, 80-p.Height)
		}
	}
	first := set.Pieces()[0]
	if first.X != 0 || first.Y != 0.999*(80-first.Height) {
		t.Fatalf("expected placement from random source, got (%v,%v)", first.X, first.Y)
	}
}

func TestSliceLoadError(t *testing.T) {
	cause := errors.New("decode failed")
	slicer := NewSlicer(staticLoader{err: cause})

	set, err := slicer.Slice(context.Background(), "broken.png", DefaultConfig())
	if set != nil {
		t.Fatal("expected no pieces on load failure")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if loadErr.Ref != "broken.png" || !errors.Is(err, cause) {
		t.Fatalf("unexpected load error: %v", loadErr)
	}
}

func TestSliceRejectsInvalidConfig(t *testing.T) {
	slicer := newTestSlicer(t, 10, 10)
	if _, err := slicer.Slice(context.Background(), "mem://test", Config{Rows: 0, Columns: 2, Difficulty: DifficultyEasy}); err == nil {
		t.Fatal("expected error for zero rows")
	}
	if _, err := slicer.Slice(context.Background(), "mem://test", Config{Rows: 2, Columns: 2, Difficulty: "extreme"}); err == nil {
		t.Fatal("expected error for unknown difficulty")
	}
}

func TestConfigValidateBoundsGrid(t *testing.T) {
	tests := map[string]struct {
		cfg Config
		ok  bool
	}{
		"largest grid":  {cfg: Config{Rows: MaxGridSide, Columns: MaxGridSide, Difficulty: DifficultyEasy}, ok: true},
		"too many rows": {cfg: Config{Rows: MaxGridSide + 1, Columns: 1, Difficulty: DifficultyEasy}},
		"too many cols": {cfg: Config{Rows: 1, Columns: MaxGridSide + 1, Difficulty: DifficultyEasy}},
		"overflowing":   {cfg: Config{Rows: 1 << 31, Columns: 1 << 31, Difficulty: DifficultyEasy}},
	}
	for name, tc := range tests {
		if err := tc.cfg.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%s: expected ok=%t, got %v", name, tc.ok, err)
		}
	}
}

func TestSliceImageRejectsHugeGridWithoutAllocating(t *testing.T) {
	slicer := NewSlicer(nil)
	set, err := slicer.SliceImage(buildTestImage(t, 4, 4), Config{Rows: 1 << 31, Columns: 1 << 31, Difficulty: DifficultyHard})
	if err == nil || set != nil {
		t.Fatalf("expected config error, got set=%v err=%v", set, err)
	}
}

func TestSliceRejectsGridFinerThanImage(t *testing.T) {
	releaser := &countingReleaser{}
	slicer := newTestSlicer(t, 4, 6, WithReleaser(releaser))

	set, err := slicer.Slice(context.Background(), "mem://small", Config{Rows: 2, Columns: 8, Difficulty: DifficultyEasy})
	if !errors.Is(err, ErrGridTooFine) {
		t.Fatalf("expected ErrGridTooFine, got %v", err)
	}
	if set != nil || len(releaser.released) != 0 {
		t.Fatal("expected nothing rendered for a grid finer than the image")
	}

	set, err = slicer.Slice(context.Background(), "mem://small", Config{Rows: 6, Columns: 4, Difficulty: DifficultyEasy})
	if err != nil {
		t.Fatalf("expected one-pixel tiles to be allowed, got %v", err)
	}
	set.Release()
}

func TestSliceRejectsOversizedImage(t *testing.T) {
	slicer := newTestSlicer(t, MaxCanvasSide+1, 1)
	if _, err := slicer.Slice(context.Background(), "mem://wide", Config{Rows: 1, Columns: 1, Difficulty: DifficultyEasy}); err == nil {
		t.Fatal("expected oversized source to be rejected")
	}
}

type failingRenderer struct {
	failAt int
	calls  int
}

func (r *failingRenderer) RenderTile(_ image.Image, _ image.Rectangle) (string, error) {
	r.calls++
	if r.calls == r.failAt {
		return "", errors.New("canvas unavailable")
	}
	return "blob:tile", nil
}

func TestSliceRenderFailureReleasesRenderedTiles(t *testing.T) {
	releaser := &countingReleaser{}
	slicer := newTestSlicer(t, 40, 40,
		WithTileRenderer(&failingRenderer{failAt: 3}),
		WithReleaser(releaser),
	)

	set, err := slicer.Slice(context.Background(), "mem://test", Config{Rows: 2, Columns: 2, Difficulty: DifficultyEasy})
	if err == nil {
		t.Fatal("expected render error")
	}
	if set != nil {
		t.Fatal("expected no partial set")
	}
	if len(releaser.released) != 2 {
		t.Fatalf("expected 2 released tiles, got %d", len(releaser.released))
	}
}

func TestSliceTileHoldsSourcePixels(t *testing.T) {
	src := buildTestImage(t, 300, 300)
	slicer := NewSlicer(staticLoader{img: src})
	set, err := slicer.Slice(context.Background(), "mem://test", Config{Rows: 3, Columns: 3, Difficulty: DifficultyEasy})
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	defer set.Release()

	center, ok := set.Piece(4)
	if !ok {
		t.Fatal("expected piece 4")
	}
	tile, err := DecodeTile(center.ImageURL)
	if err != nil {
		t.Fatalf("decode tile: %v", err)
	}
	if got := tile.Bounds(); got.Dx() != 100 || got.Dy() != 100 {
		t.Fatalf("expected 100x100 tile, got %v", got)
	}

	r1, g1, b1, a1 := tile.At(tile.Bounds().Min.X, tile.Bounds().Min.Y).RGBA()
	r2, g2, b2, a2 := src.At(100, 100).RGBA()
	if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
		t.Fatalf("tile origin pixel differs from source (100,100)")
	}
}

func TestScatterKeepsHomes(t *testing.T) {
	slicer := NewSlicer(nil, WithRandom(fixedRandom(0.9, 0.1)))
	set := NewPieceSet(gridPieces(2, 2, 50), nil)

	slicer.Scatter(set, Config{Rows: 2, Columns: 2, Difficulty: DifficultyMedium})

	for _, p := range set.Pieces() {
		if p.CorrectX != float64(p.ID%2)*50 || p.CorrectY != float64(p.ID/2)*50 {
			t.Fatalf("piece %d: home moved to (%v,%v)", p.ID, p.CorrectX, p.CorrectY)
		}
		if p.X != 45 || p.Y != 5 {
			t.Fatalf("piece %d: expected (45,5), got (%v,%v)", p.ID, p.X, p.Y)
		}
	}
}

func TestPieceSetReleaseIsIdempotent(t *testing.T) {
	releaser := &countingReleaser{}
	set := NewPieceSet(gridPieces(1, 3, 10), releaser)

	set.Release()
	set.Release()

	if len(releaser.released) != 3 {
		t.Fatalf("expected 3 releases, got %d", len(releaser.released))
	}
	if len(set.Pieces()) != 0 {
		t.Fatal("expected released set to expose no pieces")
	}
	if _, ok := set.Piece(0); ok {
		t.Fatal("expected released set to forget pieces")
	}
}

func TestDataURLBytesRejectsMalformedInput(t *testing.T) {
	for _, in := range []string{"", "blob:abc", "data:image/png,raw", "data:image/png;base64"} {
		if _, err := DataURLBytes(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
