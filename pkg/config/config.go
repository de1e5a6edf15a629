// Package config loads and validates the platform configuration: serial
// parameters, travel limits, deck layout, labware geometry and syringe
// calibration. Everything the hardware model needs lives in one JSON
// file so a recalibrated deck never requires a rebuild.
package config

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/swbio/pipet/pkg/deck"
	"github.com/swbio/pipet/pkg/robot"
	"github.com/swbio/pipet/pkg/syringe"
	"github.com/swbio/pipet/pkg/transport"
)

// ErrInvalidConfiguration is returned for configuration data that
// violates the model invariants. Always fatal at load time.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// SlotConfig places one slot on the deck. Labware names an entry of the
// labware table; empty means the slot is unoccupied.
type SlotConfig struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Labware string  `json:"labware,omitempty"`
}

// TimeoutSeconds bounds the acknowledgement wait per command class.
type TimeoutSeconds struct {
	Move    float64 `json:"move"`
	Home    float64 `json:"home"`
	Plunger float64 `json:"plunger"`
}

// Config is the on-disk configuration.
type Config struct {
	Serial transport.SerialConfig `json:"serial"`

	Limits       robot.Limits   `json:"limits"`
	Feeds        robot.Feeds    `json:"feeds"`
	Timeouts     TimeoutSeconds `json:"timeouts"`
	HomePosition deck.Position  `json:"homePosition"`

	TravelZ           float64 `json:"travelZ"`
	ScrapeTravel      float64 `json:"scrapeTravel"`
	PressCycles       int     `json:"pressCycles"`
	MaxRetries        int     `json:"maxRetries"`
	VolumeToleranceUL float64 `json:"volumeToleranceUl"`

	Syringe syringe.Calibration         `json:"syringe"`
	Labware map[string]*deck.Definition `json:"labware"`
	Slots   map[string]SlotConfig       `json:"slots"`
}

// Default returns the configuration of the stock platform build.
func Default() *Config {
	return &Config{
		Serial: transport.DefaultSerialConfig("/dev/ttyUSB0"),
		Limits: robot.Limits{
			X: robot.AxisRange{Min: 0, Max: 330},
			Y: robot.AxisRange{Min: 0, Max: 330},
			Z: robot.AxisRange{Min: -30, Max: 180},
			U: robot.AxisRange{Min: 0, Max: 65},
		},
		Feeds:             robot.Feeds{XY: 7500, ZDown: 600, ZUp: 750, Plunger: 200},
		Timeouts:          TimeoutSeconds{Move: 30, Home: 120, Plunger: 30},
		HomePosition:      deck.Position{Z: 100},
		TravelZ:           100,
		ScrapeTravel:      20,
		PressCycles:       2,
		MaxRetries:        2,
		VolumeToleranceUL: 0.5,
		Syringe: syringe.Calibration{
			BoreDiameter: 4.61,
			Correction:   1.0,
			MaxStroke:    60,
			ToleranceUL:  0.5,
		},
	}
}

// Load reads a config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	c := Default()

	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open config %s", path)
	}
	defer func(fp *os.File) {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close config %s", path)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read config %s", path)
	}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, pkgerrors.Wrapf(ErrInvalidConfiguration, "failed to unmarshal %s: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes the config as indented JSON.
func (c *Config) Save(path string) error {
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open config %s", path)
	}
	defer func(fp *os.File) {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close config %s", path)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to %s", path)
	}
	return nil
}

// Validate checks every invariant the hardware model relies on. All
// violations surface as ErrInvalidConfiguration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return pkgerrors.Wrapf(ErrInvalidConfiguration, format, args...)
	}

	if c.Serial.Device == "" {
		return invalid("serial device is empty")
	}
	if c.Serial.Baud <= 0 {
		return invalid("serial baud must be positive, got %d", c.Serial.Baud)
	}
	for _, a := range []struct {
		name string
		r    robot.AxisRange
	}{
		{"x", c.Limits.X}, {"y", c.Limits.Y}, {"z", c.Limits.Z}, {"u", c.Limits.U},
	} {
		if a.r.Min >= a.r.Max {
			return invalid("axis %s travel range [%v, %v] is empty", a.name, a.r.Min, a.r.Max)
		}
	}
	if c.Timeouts.Move <= 0 || c.Timeouts.Home <= 0 || c.Timeouts.Plunger <= 0 {
		return invalid("timeouts must be positive")
	}
	if c.MaxRetries < 0 {
		return invalid("maxRetries must not be negative")
	}
	if err := c.Syringe.Validate(); err != nil {
		return invalid("syringe: %v", err)
	}
	for name, def := range c.Labware {
		if def == nil {
			return invalid("labware %q is null", name)
		}
		if err := def.Validate(); err != nil {
			return invalid("labware %q: %v", name, err)
		}
	}
	if _, err := c.DeckLayout(); err != nil {
		return err
	}
	return nil
}

// DeckLayout builds the validated deck model from the slot table.
func (c *Config) DeckLayout() (*deck.Layout, error) {
	slots := make([]deck.Slot, 0, len(c.Slots))
	for id, sc := range c.Slots {
		s := deck.Slot{
			ID:   id,
			Base: deck.Position{X: sc.X, Y: sc.Y, Z: sc.Z},
		}
		if sc.Labware != "" {
			def, ok := c.Labware[sc.Labware]
			if !ok {
				return nil, pkgerrors.Wrapf(ErrInvalidConfiguration,
					"slot %q references unknown labware %q", id, sc.Labware)
			}
			s.Labware = def
		}
		slots = append(slots, s)
	}
	layout, err := deck.NewLayout(slots)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrInvalidConfiguration, "deck layout: %v", err)
	}
	return layout, nil
}

// RobotConfig assembles the motion-layer configuration.
func (c *Config) RobotConfig() robot.Config {
	return robot.Config{
		Limits: c.Limits,
		Feeds:  c.Feeds,
		Timeouts: robot.Timeouts{
			Move:    time.Duration(c.Timeouts.Move * float64(time.Second)),
			Home:    time.Duration(c.Timeouts.Home * float64(time.Second)),
			Plunger: time.Duration(c.Timeouts.Plunger * float64(time.Second)),
		},
		HomePosition:      c.HomePosition,
		TravelZ:           c.TravelZ,
		ScrapeTravel:      c.ScrapeTravel,
		PressCycles:       c.PressCycles,
		MaxRetries:        c.MaxRetries,
		VolumeToleranceUL: c.VolumeToleranceUL,
	}
}

// LogrusFields summarizes the config for the startup log line.
func (c *Config) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"device":     c.Serial.Device,
		"baud":       c.Serial.Baud,
		"slots":      len(c.Slots),
		"labware":    len(c.Labware),
		"maxRetries": c.MaxRetries,
	}
}
