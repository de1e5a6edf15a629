// Package syringe converts between liquid volumes and plunger travel for
// the U axis. Volumes are microlitres, strokes are millimetres; since
// 1 µL = 1 mm³ the two unit systems compose without scale factors.
package syringe

import (
	"errors"
	"math"

	pkgerrors "github.com/pkg/errors"
)

// ErrVolumeOutOfRange is returned when a requested volume maps to a
// plunger displacement outside the configured travel.
var ErrVolumeOutOfRange = errors.New("volume out of range")

// Calibration is the measured volume-to-stroke model of one syringe.
type Calibration struct {
	// BoreDiameter is the plunger bore diameter in millimetres.
	BoreDiameter float64 `json:"boreDiameter"`
	// Correction is a measured multiplier applied on top of the
	// geometric model, determined by dispensing known volumes onto a
	// scale. 1.0 means the bore geometry is exact.
	Correction float64 `json:"correction"`
	// MaxStroke is the usable plunger travel in millimetres.
	MaxStroke float64 `json:"maxStroke"`
	// ToleranceUL is the volume tolerance within which round-trip
	// conversions must agree.
	ToleranceUL float64 `json:"toleranceUl"`
}

// Validate checks the calibration invariants.
func (c *Calibration) Validate() error {
	if c.BoreDiameter <= 0 {
		return pkgerrors.Errorf("syringe bore diameter must be positive, got %v", c.BoreDiameter)
	}
	if c.Correction <= 0 {
		return pkgerrors.Errorf("syringe correction factor must be positive, got %v", c.Correction)
	}
	if c.MaxStroke <= 0 {
		return pkgerrors.Errorf("syringe max stroke must be positive, got %v", c.MaxStroke)
	}
	return nil
}

// BoreArea returns the plunger cross-sectional area in mm².
func (c *Calibration) BoreArea() float64 {
	return math.Pi * c.BoreDiameter * c.BoreDiameter / 4
}

// StrokePerMicrolitre returns the calibrated stroke coefficient in mm/µL.
func (c *Calibration) StrokePerMicrolitre() float64 {
	return c.Correction / c.BoreArea()
}

// MaxVolume returns the largest volume the plunger travel can hold, in µL.
func (c *Calibration) MaxVolume() float64 {
	return c.MaxStroke / c.StrokePerMicrolitre()
}

// VolumeToStroke converts a volume in µL to the plunger displacement in
// mm required to move it.
func (c *Calibration) VolumeToStroke(volumeUL float64) (float64, error) {
	if volumeUL < 0 {
		return 0, pkgerrors.Wrapf(ErrVolumeOutOfRange, "negative volume %.3f uL", volumeUL)
	}
	stroke := volumeUL * c.StrokePerMicrolitre()
	if stroke > c.MaxStroke {
		return 0, pkgerrors.Wrapf(ErrVolumeOutOfRange,
			"%.3f uL needs %.3f mm of travel, only %.3f mm available", volumeUL, stroke, c.MaxStroke)
	}
	return stroke, nil
}

// StrokeToVolume is the inverse of VolumeToStroke.
func (c *Calibration) StrokeToVolume(strokeMM float64) float64 {
	return strokeMM / c.StrokePerMicrolitre()
}
