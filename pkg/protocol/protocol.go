// Package protocol defines the step list a protocol run executes and its
// JSON wire form. Steps are immutable once parsed and always execute in
// order.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/swbio/pipet/pkg/deck"
)

var (
	// ErrUnknownStepType is returned for an action name outside the
	// closed step set.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrInvalidStepParameters is returned when a step is missing a
	// required parameter or carries an invalid one.
	ErrInvalidStepParameters = errors.New("invalid step parameters")
)

// Action is the closed set of step kinds.
type Action string

const (
	ActionHome     Action = "home"
	ActionMoveTo   Action = "moveTo"
	ActionAspirate Action = "aspirate"
	ActionDispense Action = "dispense"
	ActionPickTip  Action = "pickTip"
	ActionDropTip  Action = "dropTip"
)

// Step is one protocol step. Which fields are meaningful depends on
// Action: well-addressed steps carry Slot/Row/Col, liquid steps carry
// VolumeUL.
type Step struct {
	Action   Action  `json:"action"`
	Slot     string  `json:"slot,omitempty"`
	Row      int     `json:"row"`
	Col      int     `json:"col"`
	VolumeUL float64 `json:"volumeUl,omitempty"`
}

func (s Step) String() string {
	switch s.Action {
	case ActionHome:
		return "home"
	case ActionAspirate, ActionDispense:
		return fmt.Sprintf("%s %.1fuL", s.Action, s.VolumeUL)
	default:
		return fmt.Sprintf("%s %s(%d,%d)", s.Action, s.Slot, s.Row, s.Col)
	}
}

// rawStep is the wire form. The well may be given either as a name
// ("A1") or as explicit row/col indices.
type rawStep struct {
	Action string   `json:"action"`
	Slot   *string  `json:"slot"`
	Well   *string  `json:"well"`
	Row    *int     `json:"row"`
	Col    *int     `json:"col"`
	Volume *float64 `json:"volumeUl"`
}

// Parse decodes a JSON step list into a protocol.
func Parse(data []byte) ([]Step, error) {
	var raws []rawStep
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, pkgerrors.Wrap(ErrInvalidStepParameters, err.Error())
	}
	steps := make([]Step, 0, len(raws))
	for i, raw := range raws {
		step, err := raw.toStep()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "step %d", i)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (raw rawStep) toStep() (Step, error) {
	step := Step{Action: Action(raw.Action)}
	switch step.Action {
	case ActionHome:
		return step, nil

	case ActionMoveTo, ActionPickTip, ActionDropTip:
		if raw.Slot == nil || *raw.Slot == "" {
			return Step{}, pkgerrors.Wrapf(ErrInvalidStepParameters, "%s requires a slot", raw.Action)
		}
		step.Slot = *raw.Slot
		row, col, err := wellAddress(raw)
		if err != nil {
			return Step{}, err
		}
		step.Row, step.Col = row, col
		return step, nil

	case ActionAspirate, ActionDispense:
		if raw.Volume == nil {
			return Step{}, pkgerrors.Wrapf(ErrInvalidStepParameters, "%s requires volumeUl", raw.Action)
		}
		if *raw.Volume <= 0 {
			return Step{}, pkgerrors.Wrapf(ErrInvalidStepParameters, "%s volume must be positive, got %v", raw.Action, *raw.Volume)
		}
		step.VolumeUL = *raw.Volume
		return step, nil

	default:
		return Step{}, pkgerrors.Wrapf(ErrUnknownStepType, "%q", raw.Action)
	}
}

// wellAddress accepts either a well name or explicit indices, the name
// winning if both are present.
func wellAddress(raw rawStep) (row, col int, err error) {
	if raw.Well != nil {
		row, col, parseErr := deck.ParseWell(*raw.Well)
		if parseErr != nil {
			return 0, 0, pkgerrors.Wrap(ErrInvalidStepParameters, parseErr.Error())
		}
		return row, col, nil
	}
	if raw.Row == nil || raw.Col == nil {
		return 0, 0, pkgerrors.Wrapf(ErrInvalidStepParameters, "%s requires a well name or row/col", raw.Action)
	}
	if *raw.Row < 0 || *raw.Col < 0 {
		return 0, 0, pkgerrors.Wrapf(ErrInvalidStepParameters, "negative well indices (%d,%d)", *raw.Row, *raw.Col)
	}
	return *raw.Row, *raw.Col, nil
}
