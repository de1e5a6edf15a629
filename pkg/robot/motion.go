package robot

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/swbio/pipet/pkg/deck"
	"github.com/swbio/pipet/pkg/transport"
)

// tipDwell is the settle pause between tip-seating strokes.
const tipDwell = 200 * time.Millisecond

// send performs one request/acknowledge round trip. An acknowledgement
// timeout re-sends the identical command up to MaxRetries times; every
// other error escalates immediately. A lost connection drops the homed
// flag since the firmware may have been power-cycled. Callers hold r.mu.
func (r *Robot) send(line string, timeout time.Duration) error {
	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logrus.WithFields(logrus.Fields{
				"cmd":     line,
				"attempt": attempt + 1,
			}).Warn("acknowledgement timed out, resending")
		}
		err = r.tr.Send(line, timeout)
		if err == nil {
			return nil
		}
		if !errors.Is(err, transport.ErrAckTimeout) {
			break
		}
	}
	if errors.Is(err, transport.ErrConnectionLost) {
		r.state.Homed = false
	}
	return err
}

// moveXYZ emits a single bounds-checked linear move of the gantry and
// records the new position once acknowledged.
func (r *Robot) moveXYZ(x, y, z float64) error {
	if !r.state.Homed {
		return ErrNotHomed
	}
	target := r.state.Position
	target.X, target.Y, target.Z = x, y, z
	if err := r.checkBounds(target); err != nil {
		return err
	}
	cmd := transport.Move{X: &x, Y: &y, Z: &z, Feed: r.cfg.Feeds.XY}
	if err := r.send(cmd.Command(), r.cfg.Timeouts.Move); err != nil {
		return err
	}
	r.state.Position = target
	return nil
}

// moveXY moves the gantry at the current height.
func (r *Robot) moveXY(x, y float64) error {
	target := r.state.Position
	target.X, target.Y = x, y
	if err := r.checkBounds(target); err != nil {
		return err
	}
	cmd := transport.Move{X: &x, Y: &y, Feed: r.cfg.Feeds.XY}
	if err := r.send(cmd.Command(), r.cfg.Timeouts.Move); err != nil {
		return err
	}
	r.state.Position = target
	return nil
}

// moveZ moves only the Z axis, choosing the descend or ascend feed from
// the direction.
func (r *Robot) moveZ(z float64) error {
	target := r.state.Position
	target.Z = z
	if err := r.checkBounds(target); err != nil {
		return err
	}
	feed := r.cfg.Feeds.ZUp
	if z < r.state.Position.Z {
		feed = r.cfg.Feeds.ZDown
	}
	cmd := transport.Move{Z: &z, Feed: feed}
	if err := r.send(cmd.Command(), r.cfg.Timeouts.Move); err != nil {
		return err
	}
	r.state.Position = target
	return nil
}

// moveU moves the plunger axis. Bounds are checked by the callers, which
// phrase violations as volume errors.
func (r *Robot) moveU(u float64) error {
	cmd := transport.Move{U: &u, Feed: r.cfg.Feeds.Plunger}
	if err := r.send(cmd.Command(), r.cfg.Timeouts.Plunger); err != nil {
		return err
	}
	r.state.Position.U = u
	return nil
}

// dwell pauses the firmware motion queue briefly.
func (r *Robot) dwell() error {
	return r.send(transport.DwellCommand(tipDwell), r.cfg.Timeouts.Move)
}

// checkBounds verifies every axis of the target against the travel
// limits.
func (r *Robot) checkBounds(p deck.Position) error {
	type axis struct {
		name string
		v    float64
		r    AxisRange
	}
	for _, a := range []axis{
		{"X", p.X, r.cfg.Limits.X},
		{"Y", p.Y, r.cfg.Limits.Y},
		{"Z", p.Z, r.cfg.Limits.Z},
		{"U", p.U, r.cfg.Limits.U},
	} {
		if !a.r.contains(a.v) {
			return pkgerrors.Wrapf(ErrPositionOutOfBounds,
				"%s=%.3f outside [%.3f, %.3f]", a.name, a.v, a.r.Min, a.r.Max)
		}
	}
	return nil
}

// resolveWithLabware resolves a well and also returns the labware
// definition, for operations that depend on the labware kind.
func (r *Robot) resolveWithLabware(slotID string, row, col int) (deck.Position, *deck.Definition, error) {
	pos, err := r.layout.Resolve(slotID, row, col)
	if err != nil {
		return deck.Position{}, nil, err
	}
	slot, err := r.layout.Slot(slotID)
	if err != nil {
		return deck.Position{}, nil, err
	}
	return pos, slot.Labware, nil
}
