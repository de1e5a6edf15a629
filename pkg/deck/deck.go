package deck

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrUnknownSlot is returned when a slot identifier is not part of the
	// deck layout.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrEmptySlot is returned when a slot exists but holds no labware.
	ErrEmptySlot = errors.New("slot holds no labware")

	// ErrWellOutOfRange is returned when a (row, col) address is outside
	// the labware's well grid.
	ErrWellOutOfRange = errors.New("well out of range")
)

// Position is an absolute machine position in millimetres. U is the
// syringe plunger displacement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	U float64 `json:"u"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f, %.3f)", p.X, p.Y, p.Z, p.U)
}

// Slot is a fixed mounting location on the deck. Base is the slot's
// reference position in machine coordinates; Labware is nil for an empty
// slot.
type Slot struct {
	ID      string
	Base    Position
	Labware *Definition
}

// Layout maps slot identifiers to slots. It is built once at config load
// time and treated as read-only afterwards, so lookups need no locking.
type Layout struct {
	slots map[string]*Slot
}

// NewLayout builds a layout from the given slots. It rejects duplicate
// identifiers, invalid labware geometry, and slots whose labware
// footprints overlap in machine coordinates.
func NewLayout(slots []Slot) (*Layout, error) {
	l := &Layout{slots: make(map[string]*Slot, len(slots))}
	for i := range slots {
		s := slots[i]
		if s.ID == "" {
			return nil, pkgerrors.New("slot with empty identifier")
		}
		if _, ok := l.slots[s.ID]; ok {
			return nil, pkgerrors.Errorf("duplicate slot %q", s.ID)
		}
		if s.Labware != nil {
			if err := s.Labware.Validate(); err != nil {
				return nil, pkgerrors.Wrapf(err, "slot %q", s.ID)
			}
		}
		l.slots[s.ID] = &s
	}
	if err := l.checkOverlap(); err != nil {
		return nil, err
	}
	return l, nil
}

// checkOverlap rejects layouts where two occupied slots claim overlapping
// regions of the deck surface.
func (l *Layout) checkOverlap() error {
	ids := l.SlotIDs()
	type rect struct {
		id                     string
		minX, minY, maxX, maxY float64
	}
	var rects []rect
	for _, id := range ids {
		s := l.slots[id]
		if s.Labware == nil {
			continue
		}
		minX, minY, maxX, maxY := s.Labware.extent()
		rects = append(rects, rect{
			id:   id,
			minX: s.Base.X + minX,
			minY: s.Base.Y + minY,
			maxX: s.Base.X + maxX,
			maxY: s.Base.Y + maxY,
		})
	}
	for i := 0; i < len(rects); i++ {
		for j := i + 1; j < len(rects); j++ {
			a, b := rects[i], rects[j]
			if a.minX <= b.maxX && b.minX <= a.maxX &&
				a.minY <= b.maxY && b.minY <= a.maxY {
				return pkgerrors.Errorf("slots %q and %q overlap in machine coordinates", a.id, b.id)
			}
		}
	}
	return nil
}

// Slot returns the slot with the given identifier.
func (l *Layout) Slot(id string) (*Slot, error) {
	s, ok := l.slots[id]
	if !ok {
		return nil, pkgerrors.Wrapf(ErrUnknownSlot, "%q", id)
	}
	return s, nil
}

// SlotIDs returns all slot identifiers in sorted order.
func (l *Layout) SlotIDs() []string {
	ids := make([]string, 0, len(l.slots))
	for id := range l.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve composes the slot base, the labware reference-corner offset and
// the well grid offset into an absolute machine position. The returned U
// axis is always zero; plunger position is not a property of the deck.
func (l *Layout) Resolve(slotID string, row, col int) (Position, error) {
	s, err := l.Slot(slotID)
	if err != nil {
		return Position{}, err
	}
	if s.Labware == nil {
		return Position{}, pkgerrors.Wrapf(ErrEmptySlot, "%q", slotID)
	}
	x, y, z, err := s.Labware.WellOffset(row, col)
	if err != nil {
		return Position{}, pkgerrors.Wrapf(err, "slot %q", slotID)
	}
	return Position{
		X: s.Base.X + x,
		Y: s.Base.Y + y,
		Z: s.Base.Z + z,
	}, nil
}

// ParseWell converts a well name like "A1" or "H12" into zero-based
// (row, col) indices. Row letters run A..Z top to bottom, columns count
// from 1.
func ParseWell(name string) (row, col int, err error) {
	w := strings.ToUpper(strings.TrimSpace(name))
	if len(w) < 2 {
		return 0, 0, pkgerrors.Errorf("malformed well name %q", name)
	}
	r := w[0]
	if r < 'A' || r > 'Z' {
		return 0, 0, pkgerrors.Errorf("malformed well name %q: bad row letter", name)
	}
	n, convErr := strconv.Atoi(w[1:])
	if convErr != nil || n < 1 {
		return 0, 0, pkgerrors.Errorf("malformed well name %q: bad column number", name)
	}
	return int(r - 'A'), n - 1, nil
}
