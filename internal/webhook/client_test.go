package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, EventPuzzleSolved, map[string]any{"session_id": "pz-1"})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if gotEvt != EventPuzzleSolved {
		t.Fatalf("expected event header %s, got %q", EventPuzzleSolved, gotEvt)
	}
	if !Verify("test-secret", gotTS, gotSig, gotBody) {
		t.Fatal("expected signature to verify against the delivered body")
	}
	if Verify("other-secret", gotTS, gotSig, gotBody) {
		t.Fatal("expected signature check to fail with the wrong secret")
	}

	var envelope struct {
		ID    string         `json:"id"`
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Event != EventPuzzleSolved || envelope.ID == "" || envelope.Data["session_id"] != "pz-1" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestSendRetriesServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer flaky.Close()

	client := NewClient(Config{
		SigningSecret:  "s",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	if err := client.Send(context.Background(), flaky.URL, EventCaptureCompleted, nil); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}

	var rejected atomic.Int32
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rejected.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()

	if err := client.Send(context.Background(), gone.URL, EventCaptureFailed, nil); err == nil {
		t.Fatal("expected error for rejected delivery")
	}
	if rejected.Load() != 1 {
		t.Fatalf("expected a single attempt for 410, got %d", rejected.Load())
	}
}
