package puzzle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

var (
	ErrNoSource   = errors.New("puzzle has no source image")
	ErrNotReady   = errors.New("puzzle is not ready")
	ErrStaleSlice = errors.New("slice result superseded by a newer request")
)

// SolvedHook runs once each time the player completes the puzzle.
type SolvedHook func(snapshot Snapshot)

// Session is one open puzzle. It is single-writer: callers serialise access.
type Session struct {
	id         string
	config     Config
	source     string
	set        *PieceSet
	controller *Controller
	tracker    *SolveTracker
	onSolved   SolvedHook

	status     Status
	loadErr    error
	generation uint64
	moves      int
	solvedAt   time.Time
	createdAt  time.Time
	updatedAt  time.Time
	now        func() time.Time
}

type Snapshot struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Config     Config     `json:"config"`
	Mode       Mode       `json:"mode"`
	Pieces     []Piece    `json:"pieces"`
	SelectedID *int       `json:"selected_id,omitempty"`
	DraggingID *int       `json:"dragging_id,omitempty"`
	Solved     bool       `json:"solved"`
	SolvedAt   *time.Time `json:"solved_at,omitempty"`
	Moves      int        `json:"moves"`
	Restored   bool       `json:"restored"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type SessionOption func(*Session)

func WithSolvedHook(hook SolvedHook) SessionOption {
	return func(s *Session) { s.onSolved = hook }
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(id string, cfg Config, mode Mode, opts ...SessionOption) *Session {
	s := &Session{
		id:      id,
		config:  cfg,
		tracker: NewSolveTracker(SolvedTolerance),
		status:  StatusIdle,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.controller = NewController(mode, s.handleCommit)
	s.createdAt = s.now().UTC()
	s.updatedAt = s.createdAt
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Config() Config {
	return s.config
}

func (s *Session) Source() string {
	return s.source
}

func (s *Session) Status() Status {
	return s.status
}

func (s *Session) Pieces() []Piece {
	return s.set.Pieces()
}

// BeginLoad starts a new slice request. Results of earlier requests are dropped
// by ApplySlice once this one has begun.
func (s *Session) BeginLoad(source string, cfg Config) (uint64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("invalid config: %w", err)
	}
	if source == "" {
		return 0, ErrNoSource
	}
	s.generation++
	s.source = source
	s.config = cfg
	s.status = StatusLoading
	s.loadErr = nil
	s.touch()
	return s.generation, nil
}

// ApplySlice installs the result of the request numbered gen. A superseded result
// is released and reported with ErrStaleSlice.
func (s *Session) ApplySlice(gen uint64, set *PieceSet, sliceErr error) error {
	if gen != s.generation {
		set.Release()
		return ErrStaleSlice
	}
	if sliceErr != nil {
		set.Release()
		s.status = StatusFailed
		s.loadErr = sliceErr
		s.touch()
		return nil
	}
	s.replace(set)
	s.status = StatusReady
	s.touch()
	return nil
}

// Load slices synchronously; useful where no other request can race this one.
func (s *Session) Load(ctx context.Context, slicer *Slicer, source string, cfg Config) error {
	gen, err := s.BeginLoad(source, cfg)
	if err != nil {
		return err
	}
	set, sliceErr := slicer.Slice(ctx, source, cfg)
	if err := s.ApplySlice(gen, set, sliceErr); err != nil {
		return err
	}
	return sliceErr
}

// Restore replaces everything with the state carried by a share link.
func (s *Session) Restore(data ShareableData) {
	s.generation++
	s.source = ""
	s.config = data.Config
	s.loadErr = nil
	pieces := make([]Piece, len(data.Pieces))
	copy(pieces, data.Pieces)
	s.replace(NewPieceSet(pieces, nil))
	s.controller.SetMode(data.Mode)
	s.status = StatusReady
	s.touch()
}

// Reset starts the puzzle over. With a source image it begins a new slice and
// returns needsSlice; a restored puzzle is scattered in place instead.
func (s *Session) Reset(slicer *Slicer) (gen uint64, needsSlice bool, err error) {
	if s.source != "" {
		gen, err = s.BeginLoad(s.source, s.config)
		return gen, true, err
	}
	if s.set.Released() || s.set.Len() == 0 {
		return 0, false, ErrNotReady
	}
	s.generation++
	slicer.Scatter(s.set, s.config)
	s.controller.Bind(s.set)
	s.tracker.Reset()
	s.tracker.Sync(s.set.Pieces())
	s.moves = 0
	s.solvedAt = time.Time{}
	s.status = StatusReady
	s.touch()
	return s.generation, false, nil
}

func (s *Session) Reconfigure(cfg Config) (uint64, error) {
	if s.source == "" {
		return 0, ErrNoSource
	}
	return s.BeginLoad(s.source, cfg)
}

func (s *Session) SetMode(mode Mode) {
	s.controller.SetMode(mode)
	s.touch()
}

func (s *Session) PointerDown(id int, x, y float64) {
	s.controller.PointerDown(id, x, y)
	s.touch()
}

func (s *Session) PointerMove(x, y float64) {
	s.controller.PointerMove(x, y)
	s.touch()
}

func (s *Session) PointerUp() {
	s.controller.PointerUp()
	s.touch()
}

func (s *Session) PointerLeave() {
	s.controller.PointerLeave()
	s.touch()
}

func (s *Session) Click(id int) {
	s.controller.Click(id)
	s.touch()
}

func (s *Session) Share(codec *Codec) (string, error) {
	if s.status != StatusReady || s.set.Released() {
		return "", ErrNotReady
	}
	return codec.Encode(s.set.Pieces(), s.config, s.controller.Mode())
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Status:    s.status,
		Config:    s.config,
		Mode:      s.controller.Mode(),
		Pieces:    s.set.Pieces(),
		Solved:    s.tracker.Solved(),
		Moves:     s.moves,
		Restored:  s.source == "" && s.status == StatusReady,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if id, ok := s.controller.Selected(); ok {
		snap.SelectedID = &id
	}
	if id, ok := s.controller.Dragging(); ok {
		snap.DraggingID = &id
	}
	if !s.solvedAt.IsZero() {
		solvedAt := s.solvedAt
		snap.SolvedAt = &solvedAt
	}
	if s.loadErr != nil {
		snap.Error = s.loadErr.Error()
	}
	return snap
}

// Close releases the tiles and drops any in-flight slice.
func (s *Session) Close() {
	s.generation++
	s.controller.Bind(nil)
	s.set.Release()
	s.set = nil
	s.status = StatusIdle
}

func (s *Session) replace(set *PieceSet) {
	if s.set != set {
		s.set.Release()
	}
	s.set = set
	s.controller.Bind(set)
	s.tracker.Reset()
	s.tracker.Sync(set.Pieces())
	s.moves = 0
	s.solvedAt = time.Time{}
}

func (s *Session) handleCommit(pieces []Piece) {
	s.moves++
	if s.tracker.Observe(pieces) {
		s.solvedAt = s.now().UTC()
		if s.onSolved != nil {
			s.onSolved(s.Snapshot())
		}
	}
}

func (s *Session) touch() {
	s.updatedAt = s.now().UTC()
}
