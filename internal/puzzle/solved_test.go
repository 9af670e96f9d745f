package puzzle

import "testing"

func TestIsSolvedToleranceBoundary(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float64
		want   bool
	}{
		{name: "home", want: true},
		{name: "just inside x", dx: SolvedTolerance - 1, want: true},
		{name: "at tolerance x", dx: SolvedTolerance, want: false},
		{name: "at negative tolerance y", dy: -SolvedTolerance, want: false},
		{name: "just inside both", dx: -(SolvedTolerance - 1), dy: SolvedTolerance - 1, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pieces := gridPieces(2, 2, 100)
			pieces[3].X += tc.dx
			pieces[3].Y += tc.dy
			if got := IsSolved(pieces, SolvedTolerance); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIsSolvedEmptySet(t *testing.T) {
	if IsSolved(nil, SolvedTolerance) {
		t.Fatal("expected empty set not to count as solved")
	}
}

func TestSolveTrackerFiresOncePerSolve(t *testing.T) {
	tracker := NewSolveTracker(SolvedTolerance)
	solved := gridPieces(1, 2, 50)
	scrambled := gridPieces(1, 2, 50)
	scrambled[0].X = 200

	if tracker.Observe(scrambled) {
		t.Fatal("expected no event while scrambled")
	}
	if !tracker.Observe(solved) {
		t.Fatal("expected event on first solve")
	}
	if tracker.Observe(solved) {
		t.Fatal("expected no repeat event while still solved")
	}

	tracker.Reset()
	if !tracker.Observe(solved) {
		t.Fatal("expected event again after reset")
	}

	if tracker.Observe(scrambled) {
		t.Fatal("expected no event when unsolved")
	}
	if !tracker.Observe(solved) {
		t.Fatal("expected event after re-solving")
	}
}

func TestSolveTrackerSyncDoesNotFire(t *testing.T) {
	tracker := NewSolveTracker(SolvedTolerance)
	tracker.Sync(gridPieces(1, 2, 50))
	if !tracker.Solved() {
		t.Fatal("expected synced state to be solved")
	}
	if tracker.Observe(gridPieces(1, 2, 50)) {
		t.Fatal("expected no event for a set that started solved")
	}
}
