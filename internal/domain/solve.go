package domain

import "time"

// SolveRecord is announced when a player completes a puzzle.
type SolveRecord struct {
	SessionID string    `json:"session_id"`
	Rows      int       `json:"rows"`
	Columns   int       `json:"columns"`
	Moves     int       `json:"moves"`
	ElapsedMS int64     `json:"elapsed_ms"`
	SolvedAt  time.Time `json:"solved_at"`
}
