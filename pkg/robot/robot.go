// Package robot is the motion abstraction layer. It turns primitive
// liquid-handling actions into ordered G-code round trips over a
// transport and owns the only RobotState in the process. A single mutex
// keeps at most one command in flight; concurrent callers block.
package robot

import (
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/swbio/pipet/pkg/deck"
	"github.com/swbio/pipet/pkg/syringe"
	"github.com/swbio/pipet/pkg/transport"
)

var (
	// ErrNotHomed is returned by any motion requested before a
	// successful homing run.
	ErrNotHomed = errors.New("robot is not homed")

	// ErrHomingFailed is returned when the firmware faults during G28.
	ErrHomingFailed = errors.New("homing failed")

	// ErrPositionOutOfBounds is returned when a target lies outside the
	// configured travel ranges.
	ErrPositionOutOfBounds = errors.New("position out of bounds")

	// ErrInsufficientVolume is returned when a dispense asks for more
	// liquid than the tracked aspirated estimate.
	ErrInsufficientVolume = errors.New("insufficient aspirated volume")

	// ErrTipAlreadyAttached is returned by PickTip with a tip on.
	ErrTipAlreadyAttached = errors.New("tip already attached")

	// ErrNoTipAttached is returned by DropTip with no tip on.
	ErrNoTipAttached = errors.New("no tip attached")

	// ErrWrongLabware is returned when a tip operation addresses labware
	// that cannot serve it (picking from anything but a tip rack).
	ErrWrongLabware = errors.New("labware cannot serve this operation")
)

// AxisRange is the permitted travel of one axis in millimetres.
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r AxisRange) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Limits holds the travel ranges of all four axes.
type Limits struct {
	X AxisRange `json:"x"`
	Y AxisRange `json:"y"`
	Z AxisRange `json:"z"`
	U AxisRange `json:"u"`
}

// Feeds are the motion speeds per command class, mm/min.
type Feeds struct {
	XY      float64 `json:"xy"`
	ZDown   float64 `json:"zDown"`
	ZUp     float64 `json:"zUp"`
	Plunger float64 `json:"plunger"`
}

// Timeouts bound the acknowledgement wait per command class. Homing
// sweeps the whole travel and legitimately takes much longer than a move.
type Timeouts struct {
	Move    time.Duration
	Home    time.Duration
	Plunger time.Duration
}

// Config carries everything the motion layer needs besides the deck and
// syringe models.
type Config struct {
	Limits   Limits
	Feeds    Feeds
	Timeouts Timeouts

	// HomePosition is where the firmware parks the axes after G28.
	HomePosition deck.Position

	// TravelZ is the safe height used between the stages of composite
	// actions (tip handling), clear of all labware.
	TravelZ float64

	// ScrapeTravel is the lateral distance driven when scraping a tip
	// off against a waste-box wall.
	ScrapeTravel float64

	// PressCycles is how many touch/press strokes seat a tip.
	PressCycles int

	// MaxRetries bounds how often a command is re-sent verbatim after an
	// acknowledgement timeout before the error escalates.
	MaxRetries int

	// VolumeToleranceUL is the slack allowed between the dispense
	// request and the tracked aspirated estimate.
	VolumeToleranceUL float64
}

// State is a snapshot of the robot. It is mutated exclusively by this
// package, and only after a command has been acknowledged, so it never
// disagrees with what the firmware last confirmed.
type State struct {
	Position    deck.Position `json:"position"`
	Homed       bool          `json:"homed"`
	TipAttached bool          `json:"tipAttached"`
	// AspiratedUL is an estimate; there is no liquid sensor.
	AspiratedUL float64 `json:"aspiratedUl"`
}

// Robot drives the 4-axis platform through a transport.
type Robot struct {
	mu     sync.Mutex
	tr     transport.Transport
	layout *deck.Layout
	cal    *syringe.Calibration
	cfg    Config
	state  State
}

// New builds a robot in the not-homed state.
func New(tr transport.Transport, layout *deck.Layout, cal *syringe.Calibration, cfg Config) *Robot {
	if cfg.PressCycles <= 0 {
		cfg.PressCycles = 2
	}
	return &Robot{
		tr:     tr,
		layout: layout,
		cal:    cal,
		cfg:    cfg,
	}
}

// State returns a copy of the current robot state.
func (r *Robot) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Home homes all four axes and switches the firmware to absolute
// positioning. On any failure the robot stays (or becomes) not homed.
func (r *Robot) Home() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Homed = false
	if err := r.send(transport.HomeCommand("XYZU"), r.cfg.Timeouts.Home); err != nil {
		if errors.Is(err, transport.ErrDeviceFault) {
			return pkgerrors.Wrap(ErrHomingFailed, err.Error())
		}
		return err
	}
	if err := r.send(transport.AbsoluteMode, r.cfg.Timeouts.Move); err != nil {
		return err
	}
	r.state.Homed = true
	r.state.Position = r.cfg.HomePosition
	logrus.WithField("position", r.state.Position.String()).Info("homed")
	return nil
}

// MoveTo drives X/Y/Z to the given position with a single linear move.
// U is left where it is.
func (r *Robot) MoveTo(pos deck.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.moveXYZ(pos.X, pos.Y, pos.Z)
}

// MoveToWell resolves a well through the deck model and moves above it.
func (r *Robot) MoveToWell(slotID string, row, col int) error {
	pos, err := r.layout.Resolve(slotID, row, col)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.moveXYZ(pos.X, pos.Y, pos.Z)
}

// Aspirate retracts the plunger by the stroke equivalent of the volume.
func (r *Robot) Aspirate(volumeUL float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Homed {
		return ErrNotHomed
	}
	stroke, err := r.cal.VolumeToStroke(volumeUL)
	if err != nil {
		return err
	}
	target := r.state.Position.U + stroke
	if !r.cfg.Limits.U.contains(target) {
		return pkgerrors.Wrapf(syringe.ErrVolumeOutOfRange,
			"aspirating %.3f uL would move U to %.3f", volumeUL, target)
	}
	if err := r.moveU(target); err != nil {
		return err
	}
	r.state.AspiratedUL += volumeUL
	return nil
}

// Dispense extends the plunger by the stroke equivalent of the volume.
// It refuses to dispense more than the tracked aspirated estimate.
func (r *Robot) Dispense(volumeUL float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Homed {
		return ErrNotHomed
	}
	if volumeUL > r.state.AspiratedUL+r.cfg.VolumeToleranceUL {
		return pkgerrors.Wrapf(ErrInsufficientVolume,
			"dispense %.3f uL, aspirated %.3f uL", volumeUL, r.state.AspiratedUL)
	}
	stroke, err := r.cal.VolumeToStroke(volumeUL)
	if err != nil {
		return err
	}
	target := r.state.Position.U - stroke
	if !r.cfg.Limits.U.contains(target) {
		return pkgerrors.Wrapf(syringe.ErrVolumeOutOfRange,
			"dispensing %.3f uL would move U to %.3f", volumeUL, target)
	}
	if err := r.moveU(target); err != nil {
		return err
	}
	r.state.AspiratedUL -= volumeUL
	if r.state.AspiratedUL < 0 {
		r.state.AspiratedUL = 0
	}
	return nil
}

// PickTip presses a fresh tip on at the given tip-rack well. The
// sequence is: travel height, XY over the tip, down to touch, a few
// touch/press strokes to seat it, full insertion, then retract.
func (r *Robot) PickTip(slotID string, row, col int) error {
	pos, def, err := r.resolveWithLabware(slotID, row, col)
	if err != nil {
		return err
	}
	if def.Kind != deck.TipRack {
		return pkgerrors.Wrapf(ErrWrongLabware, "cannot pick a tip from %s %q", def.Kind, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Homed {
		return ErrNotHomed
	}
	if r.state.TipAttached {
		return ErrTipAlreadyAttached
	}

	zTouch := pos.Z + def.TipTouch
	zPress := pos.Z + def.TipPress
	zFull := pos.Z + def.TipFull

	if err := r.moveZ(r.cfg.TravelZ); err != nil {
		return err
	}
	if err := r.moveXY(pos.X, pos.Y); err != nil {
		return err
	}
	if err := r.moveZ(zTouch); err != nil {
		return err
	}
	if err := r.dwell(); err != nil {
		return err
	}
	for i := 0; i < r.cfg.PressCycles; i++ {
		if err := r.moveZ(zPress); err != nil {
			return err
		}
		if err := r.dwell(); err != nil {
			return err
		}
		if err := r.moveZ(zTouch); err != nil {
			return err
		}
		if err := r.dwell(); err != nil {
			return err
		}
	}
	if err := r.moveZ(zFull); err != nil {
		return err
	}
	if err := r.dwell(); err != nil {
		return err
	}
	if err := r.moveZ(zPress); err != nil {
		return err
	}
	if err := r.moveZ(r.cfg.TravelZ); err != nil {
		return err
	}

	r.state.TipAttached = true
	logrus.WithFields(logrus.Fields{"slot": slotID, "row": row, "col": col}).Info("tip picked")
	return nil
}

// DropTip sheds the current tip at the given well. Waste labware with a
// scrape height gets the sideways scrape move; anything else gets a
// plain engage/retract.
func (r *Robot) DropTip(slotID string, row, col int) error {
	pos, def, err := r.resolveWithLabware(slotID, row, col)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Homed {
		return ErrNotHomed
	}
	if !r.state.TipAttached {
		return ErrNoTipAttached
	}

	if err := r.moveZ(r.cfg.TravelZ); err != nil {
		return err
	}
	if err := r.moveXY(pos.X, pos.Y); err != nil {
		return err
	}
	if def.ScrapeZ > 0 {
		if err := r.moveZ(pos.Z + def.ScrapeZ); err != nil {
			return err
		}
		if err := r.moveXY(pos.X+r.cfg.ScrapeTravel, pos.Y); err != nil {
			return err
		}
	} else {
		if err := r.moveZ(pos.Z + def.TipPress); err != nil {
			return err
		}
		if err := r.dwell(); err != nil {
			return err
		}
	}
	if err := r.moveZ(r.cfg.TravelZ); err != nil {
		return err
	}

	r.state.TipAttached = false
	logrus.WithFields(logrus.Fields{"slot": slotID, "row": row, "col": col}).Info("tip dropped")
	return nil
}

// Jog moves the axes by the given deltas, for manual positioning. The
// firmware is in absolute mode after homing, so the jog is emitted as a
// single absolute move to the shifted target.
func (r *Robot) Jog(dx, dy, dz, du float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Homed {
		return ErrNotHomed
	}
	target := r.state.Position
	target.X += dx
	target.Y += dy
	target.Z += dz
	target.U += du
	if err := r.checkBounds(target); err != nil {
		return err
	}
	move := transport.Move{Feed: r.cfg.Feeds.XY}
	if dx != 0 {
		move.X = &target.X
	}
	if dy != 0 {
		move.Y = &target.Y
	}
	if dz != 0 {
		move.Z = &target.Z
	}
	if du != 0 {
		move.U = &target.U
	}
	if err := r.send(move.Command(), r.cfg.Timeouts.Move); err != nil {
		return err
	}
	r.state.Position = target
	return nil
}

// SyncPosition re-reads the firmware's idea of the axis positions after
// a reconnect. It does not make the robot homed.
func (r *Robot) SyncPosition() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	report, err := r.tr.Query(transport.PositionQuery, r.cfg.Timeouts.Move)
	if err != nil {
		return err
	}
	axes, ok := transport.ParsePositionReport(report)
	if !ok {
		return pkgerrors.Errorf("malformed position report %q", report)
	}
	if v, ok := axes["X"]; ok {
		r.state.Position.X = v
	}
	if v, ok := axes["Y"]; ok {
		r.state.Position.Y = v
	}
	if v, ok := axes["Z"]; ok {
		r.state.Position.Z = v
	}
	if v, ok := axes["U"]; ok {
		r.state.Position.U = v
	}
	return nil
}

// Close releases the transport.
func (r *Robot) Close() error {
	return r.tr.Close()
}
