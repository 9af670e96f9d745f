package puzzle

// CommitFunc is called after every completed mutation of piece positions: the end
// of a drag and a finished swap. It is never called mid-drag.
type CommitFunc func(pieces []Piece)

type dragState struct {
	pieceID int
	offsetX float64
	offsetY float64
}

// Controller turns pointer and click input into piece moves. Only one piece is
// dragged at a time and a selection always names a piece of the bound set.
type Controller struct {
	mode     Mode
	set      *PieceSet
	onCommit CommitFunc

	drag     *dragState
	selected *int
}

func NewController(mode Mode, onCommit CommitFunc) *Controller {
	return &Controller{mode: mode, onCommit: onCommit}
}

func (c *Controller) Mode() Mode {
	return c.mode
}

// Bind replaces the controlled set wholesale and drops any drag or selection.
func (c *Controller) Bind(set *PieceSet) {
	c.set = set
	c.clear()
}

// SetMode drops any selection. A drag in progress ends where it is, which counts
// as a commit since the piece may already have moved.
func (c *Controller) SetMode(mode Mode) {
	c.endDrag()
	c.mode = mode
	c.clear()
}

func (c *Controller) Selected() (int, bool) {
	if c.selected == nil {
		return 0, false
	}
	return *c.selected, true
}

func (c *Controller) Dragging() (int, bool) {
	if c.drag == nil {
		return 0, false
	}
	return c.drag.pieceID, true
}

func (c *Controller) PointerDown(id int, px, py float64) {
	switch c.mode {
	case ModeDrag:
	case ModeClick:
		return
	default:
		return
	}
	piece, ok := c.set.Piece(id)
	if !ok {
		return
	}
	if c.drag != nil {
		c.endDrag()
	}
	c.drag = &dragState{
		pieceID: id,
		offsetX: px - piece.X,
		offsetY: py - piece.Y,
	}
}

func (c *Controller) PointerMove(px, py float64) {
	if c.drag == nil {
		return
	}
	if !c.set.moveTo(c.drag.pieceID, px-c.drag.offsetX, py-c.drag.offsetY) {
		c.drag = nil
	}
}

func (c *Controller) PointerUp() {
	c.endDrag()
}

func (c *Controller) PointerLeave() {
	c.endDrag()
}

func (c *Controller) Click(id int) {
	switch c.mode {
	case ModeClick:
	case ModeDrag:
		return
	default:
		return
	}
	if !c.set.Has(id) {
		return
	}

	if c.selected == nil {
		c.selected = &id
		return
	}
	first := *c.selected
	c.selected = nil
	if first == id {
		return
	}
	if c.set.swap(first, id) {
		c.commit()
	}
}

func (c *Controller) endDrag() {
	if c.drag == nil {
		return
	}
	c.drag = nil
	c.commit()
}

func (c *Controller) clear() {
	c.drag = nil
	c.selected = nil
}

func (c *Controller) commit() {
	if c.onCommit != nil {
		c.onCommit(c.set.Pieces())
	}
}
