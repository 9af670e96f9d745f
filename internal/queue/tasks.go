package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeCapturePuzzle = "puzzle:capture"

type CapturePuzzlePayload struct {
	JobID       string    `json:"job_id"`
	SessionID   string    `json:"session_id"`
	Token       string    `json:"token"`
	Format      string    `json:"format,omitempty"`
	Quality     int       `json:"quality,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	Background  string    `json:"background,omitempty"`
	Guide       bool      `json:"guide,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewCapturePuzzleTask(payload CapturePuzzlePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.JobID) == "" {
		return nil, errors.New("capture payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal capture payload: %w", err)
	}
	return asynq.NewTask(TypeCapturePuzzle, body), nil
}

func ParseCapturePuzzlePayload(task *asynq.Task) (CapturePuzzlePayload, error) {
	var payload CapturePuzzlePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CapturePuzzlePayload{}, fmt.Errorf("unmarshal capture payload: %w", err)
	}
	if payload.JobID == "" || payload.Token == "" {
		return CapturePuzzlePayload{}, errors.New("capture payload is missing job_id or token")
	}
	return payload, nil
}
