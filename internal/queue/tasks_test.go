package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestCapturePuzzleTaskRoundTrip(t *testing.T) {
	payload := CapturePuzzlePayload{
		JobID:       "cap-123",
		SessionID:   "pz-9",
		Token:       "KLUv_QBYAQAA",
		Format:      "jpeg",
		Quality:     80,
		Caption:     "done",
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewCapturePuzzleTask(payload)
	if err != nil {
		t.Fatalf("NewCapturePuzzleTask returned error: %v", err)
	}
	if task.Type() != TypeCapturePuzzle {
		t.Fatalf("expected task type %q, got %q", TypeCapturePuzzle, task.Type())
	}

	parsed, err := ParseCapturePuzzlePayload(task)
	if err != nil {
		t.Fatalf("ParseCapturePuzzlePayload returned error: %v", err)
	}
	if parsed.JobID != payload.JobID || parsed.Token != payload.Token || parsed.Quality != 80 {
		t.Fatalf("unexpected parsed payload: %+v", parsed)
	}
}

func TestParseCapturePuzzlePayloadRejectsIncomplete(t *testing.T) {
	if _, err := ParseCapturePuzzlePayload(asynq.NewTask(TypeCapturePuzzle, []byte(`{"job_id":"x"}`))); err == nil {
		t.Fatal("expected error for payload without token")
	}
	if _, err := ParseCapturePuzzlePayload(asynq.NewTask(TypeCapturePuzzle, []byte(`not json`))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if _, err := NewCapturePuzzleTask(CapturePuzzlePayload{}); err == nil {
		t.Fatal("expected error for payload without job_id")
	}
}
