package domain

import (
	"testing"

	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

func TestCreatePuzzleRequestValidate(t *testing.T) {
	valid := CreatePuzzleRequest{Source: "s3://uploads/abc/source"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}
	if valid.PuzzleConfig() != puzzle.DefaultConfig() {
		t.Fatalf("expected default config, got %+v", valid.PuzzleConfig())
	}
	if valid.PuzzleMode() != puzzle.ModeDrag {
		t.Fatal("expected drag mode by default")
	}

	if err := (CreatePuzzleRequest{}).Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	badConfig := CreatePuzzleRequest{
		Source: "./cat.png",
		Config: &puzzle.Config{Rows: 0, Columns: 3, Difficulty: puzzle.DifficultyEasy},
	}
	if err := badConfig.Validate(); err == nil {
		t.Fatal("expected validation error for zero rows")
	}

	badMode := CreatePuzzleRequest{Source: "./cat.png", Mode: "hover"}
	if err := badMode.Validate(); err == nil {
		t.Fatal("expected validation error for unknown mode")
	}

	badHook := CreatePuzzleRequest{Source: "./cat.png", WebhookURL: "ftp://example.com"}
	if err := badHook.Validate(); err == nil {
		t.Fatal("expected validation error for non-http webhook")
	}
}

func TestPointerEventValidate(t *testing.T) {
	for _, typ := range []string{"down", "MOVE", "up", "leave"} {
		if err := (PointerEvent{Type: typ}).Validate(); err != nil {
			t.Fatalf("expected %q to be valid, got %v", typ, err)
		}
	}
	if err := (PointerEvent{Type: "wheel"}).Validate(); err == nil {
		t.Fatal("expected unsupported pointer type error")
	}
}

func TestCreateCaptureRequestValidate(t *testing.T) {
	if err := (CreateCaptureRequest{Format: "jpg", Quality: 80}).Validate(); err != nil {
		t.Fatalf("expected valid capture request, got %v", err)
	}
	if err := (CreateCaptureRequest{Format: "gif"}).Validate(); err == nil {
		t.Fatal("expected unsupported format error")
	}
	if err := (CreateCaptureRequest{Quality: 101}).Validate(); err == nil {
		t.Fatal("expected quality range error")
	}
}
