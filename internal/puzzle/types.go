// Package puzzle implements the sliding/swap image puzzle: slicing a source image
// into rectangular tiles, the drag and click interaction models, solved-state
// detection and the URL-safe share token.
package puzzle

import (
	"errors"
	"fmt"
	"strings"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported difficulty: %q", s)
	}
}

func (d Difficulty) Valid() bool {
	_, err := ParseDifficulty(string(d))
	return err == nil
}

const (
	// MaxGridSide bounds rows and columns so a grid always fits in memory.
	MaxGridSide = 100

	// MaxCanvasSide bounds the assembled image, in pixels, on either axis.
	MaxCanvasSide = 16384
)

// ErrGridTooFine is returned when a grid would cut tiles narrower or shorter
// than one source pixel.
var ErrGridTooFine = errors.New("grid is finer than the source image")

// Config is the grid a source image is cut into. Difficulty only decides the
// initial placement of the tiles.
type Config struct {
	Rows       int        `json:"rows"`
	Columns    int        `json:"columns"`
	Difficulty Difficulty `json:"difficulty"`
}

func DefaultConfig() Config {
	return Config{Rows: 3, Columns: 3, Difficulty: DifficultyMedium}
}

func (c Config) Validate() error {
	if c.Rows < 1 {
		return errors.New("rows must be at least 1")
	}
	if c.Columns < 1 {
		return errors.New("columns must be at least 1")
	}
	if c.Rows > MaxGridSide || c.Columns > MaxGridSide {
		return fmt.Errorf("rows and columns are limited to %d", MaxGridSide)
	}
	if !c.Difficulty.Valid() {
		return fmt.Errorf("unsupported difficulty: %q", c.Difficulty)
	}
	return nil
}

func (c Config) TileCount() int {
	return c.Rows * c.Columns
}

type Mode int

const (
	ModeDrag Mode = iota
	ModeClick
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drag":
		return ModeDrag, nil
	case "click":
		return ModeClick, nil
	default:
		return 0, fmt.Errorf("unsupported mode: %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeDrag:
		return "drag"
	case ModeClick:
		return "click"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case ModeDrag, ModeClick:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %d", int(m))
	}
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Piece is one tile. ID, dimensions and the home coordinates never change after
// the slicer creates it; only X and Y move.
type Piece struct {
	ID       int     `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	CorrectX float64 `json:"correctX"`
	CorrectY float64 `json:"correctY"`
	ImageURL string  `json:"imageUrl"`
}

// Releaser is told about every tile buffer a PieceSet gives up.
type Releaser interface {
	ReleaseTile(imageURL string)
}

// PieceSet owns a puzzle's pieces and their rendered tiles. Whoever discards a
// set must call Release.
type PieceSet struct {
	pieces   []Piece
	index    map[int]int
	releaser Releaser
	released bool
}

func NewPieceSet(pieces []Piece, releaser Releaser) *PieceSet {
	s := &PieceSet{
		pieces:   pieces,
		index:    make(map[int]int, len(pieces)),
		releaser: releaser,
	}
	for i, p := range pieces {
		s.index[p.ID] = i
	}
	return s
}

func (s *PieceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pieces)
}

// Pieces returns a copy of the current pieces in id order of creation.
func (s *PieceSet) Pieces() []Piece {
	if s == nil || s.released {
		return []Piece{}
	}
	out := make([]Piece, len(s.pieces))
	copy(out, s.pieces)
	return out
}

func (s *PieceSet) Piece(id int) (Piece, bool) {
	if s == nil || s.released {
		return Piece{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return Piece{}, false
	}
	return s.pieces[i], true
}

func (s *PieceSet) Has(id int) bool {
	_, ok := s.Piece(id)
	return ok
}

func (s *PieceSet) moveTo(id int, x, y float64) bool {
	if s == nil || s.released {
		return false
	}
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.pieces[i].X = x
	s.pieces[i].Y = y
	return true
}

func (s *PieceSet) swap(a, b int) bool {
	if s == nil || s.released {
		return false
	}
	ia, okA := s.index[a]
	ib, okB := s.index[b]
	if !okA || !okB {
		return false
	}
	pa, pb := &s.pieces[ia], &s.pieces[ib]
	pa.X, pb.X = pb.X, pa.X
	pa.Y, pb.Y = pb.Y, pa.Y
	return true
}

func (s *PieceSet) Released() bool {
	return s == nil || s.released
}

func (s *PieceSet) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	for i := range s.pieces {
		if s.releaser != nil && s.pieces[i].ImageURL != "" {
			s.releaser.ReleaseTile(s.pieces[i].ImageURL)
		}
		s.pieces[i].ImageURL = ""
	}
	s.pieces = nil
	s.index = nil
}
