package deck

import (
	pkgerrors "github.com/pkg/errors"
)

// Kind is the closed set of labware families the platform knows how to
// handle. Selection happens by switching on Kind, never by probing fields.
type Kind string

const (
	// Plate is a multi-well plate used as a liquid source or destination.
	Plate Kind = "plate"
	// TipRack holds disposable tips on the same grid as a plate.
	TipRack Kind = "tiprack"
	// Reservoir is a large open container (trough, beaker, waste box).
	Reservoir Kind = "reservoir"
)

// Definition describes the well geometry of one labware type. All offsets
// are millimetres relative to the owning slot's base position. The
// reference corner is well (0, 0), i.e. A1.
type Definition struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`

	PitchX float64 `json:"pitchX"`
	PitchY float64 `json:"pitchY"`
	Depth  float64 `json:"depth"`

	// Reference-corner offset of well A1 from the slot base.
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
	OffsetZ float64 `json:"offsetZ"`

	// Tip-handling heights, millimetres above the well bottom. Only
	// meaningful on tip racks: touch is where the nozzle first meets the
	// tip, press is the seating depth reached during press cycles, full
	// is the final insertion height.
	TipTouch float64 `json:"tipTouch,omitempty"`
	TipPress float64 `json:"tipPress,omitempty"`
	TipFull  float64 `json:"tipFull,omitempty"`

	// ScrapeZ, when non-zero, marks labware whose wall is used to scrape
	// a tip off (waste boxes). Millimetres above the well bottom.
	ScrapeZ float64 `json:"scrapeZ,omitempty"`
}

// Validate checks the geometric invariants a definition must satisfy
// before it may be placed on a deck.
func (d *Definition) Validate() error {
	switch d.Kind {
	case Plate, TipRack, Reservoir:
	default:
		return pkgerrors.Errorf("labware %q: unknown kind %q", d.Name, d.Kind)
	}
	if d.Rows <= 0 || d.Columns <= 0 {
		return pkgerrors.Errorf("labware %q: well counts must be positive, got %dx%d", d.Name, d.Rows, d.Columns)
	}
	if d.PitchX < 0 || d.PitchY < 0 {
		return pkgerrors.Errorf("labware %q: well pitch must not be negative", d.Name)
	}
	if d.Depth < 0 {
		return pkgerrors.Errorf("labware %q: well depth must not be negative", d.Name)
	}
	if (d.Rows > 1 && d.PitchY == 0) || (d.Columns > 1 && d.PitchX == 0) {
		return pkgerrors.Errorf("labware %q: multi-well grid requires non-zero pitch", d.Name)
	}
	return nil
}

// WellOffset returns the (x, y, z) offset of a well relative to the slot
// base. z points to the well bottom, hence -Depth.
func (d *Definition) WellOffset(row, col int) (x, y, z float64, err error) {
	if row < 0 || col < 0 || row >= d.Rows || col >= d.Columns {
		return 0, 0, 0, pkgerrors.Wrapf(ErrWellOutOfRange,
			"well (%d,%d) outside %dx%d grid of %q", row, col, d.Rows, d.Columns, d.Name)
	}
	x = d.OffsetX + float64(col)*d.PitchX
	y = d.OffsetY + float64(row)*d.PitchY
	z = d.OffsetZ - d.Depth
	return x, y, z, nil
}

// extent returns the footprint of the well grid in slot-relative
// coordinates, used for the deck overlap check.
func (d *Definition) extent() (minX, minY, maxX, maxY float64) {
	minX = d.OffsetX
	minY = d.OffsetY
	maxX = d.OffsetX + float64(d.Columns-1)*d.PitchX
	maxY = d.OffsetY + float64(d.Rows-1)*d.PitchY
	return
}
