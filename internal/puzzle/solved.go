package puzzle

import "math"

// SolvedTolerance is how far, per axis and in pixels, a piece may sit from its home
// position and still count as placed. It does not scale with tile size.
const SolvedTolerance = 20.0

func IsSolved(pieces []Piece, tolerance float64) bool {
	if len(pieces) == 0 {
		return false
	}
	for _, p := range pieces {
		if math.Abs(p.X-p.CorrectX) >= tolerance || math.Abs(p.Y-p.CorrectY) >= tolerance {
			return false
		}
	}
	return true
}

// SolveTracker turns repeated solved checks into a single "just solved" event.
type SolveTracker struct {
	tolerance float64
	solved    bool
}

func NewSolveTracker(tolerance float64) *SolveTracker {
	return &SolveTracker{tolerance: tolerance}
}

func (t *SolveTracker) Solved() bool {
	return t.solved
}

// Observe reports true only on the not-solved to solved transition.
func (t *SolveTracker) Observe(pieces []Piece) bool {
	now := IsSolved(pieces, t.tolerance)
	was := t.solved
	t.solved = now
	return now && !was
}

// Sync records the current state without reporting a transition, for sets that
// arrive already placed rather than being solved by the player.
func (t *SolveTracker) Sync(pieces []Piece) {
	t.solved = IsSolved(pieces, t.tolerance)
}

func (t *SolveTracker) Reset() {
	t.solved = false
}
