package transport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The firmware speaks a Marlin-like dialect: G28 homes, G1 moves, G4
// dwells, G90/G91 switch coordinate modes, M114 reports position. Every
// command is acknowledged with a single "ok" line; faults come back as
// lines starting with "Error".

const (
	// AbsoluteMode sets absolute positioning.
	AbsoluteMode = "G90"
	// RelativeMode sets relative positioning.
	RelativeMode = "G91"
	// PositionQuery asks the firmware for the current axis positions.
	PositionQuery = "M114"
)

// HomeCommand builds a G28 for the given axis letters ("XYZU", "XY",
// ...). An empty string homes all axes.
func HomeCommand(axes string) string {
	parts := []string{"G28"}
	for _, a := range strings.ToUpper(axes) {
		switch a {
		case 'X', 'Y', 'Z', 'U':
			parts = append(parts, string(a))
		}
	}
	return strings.Join(parts, " ")
}

// Move is one linear G1 command. Nil axes are left out of the command and
// keep their current position. Feed is mm/min; zero keeps the firmware's
// current feed rate.
type Move struct {
	X, Y, Z, U *float64
	Feed       float64
}

// Command renders the move as a G-code line.
func (m Move) Command() string {
	parts := []string{"G1"}
	appendAxis := func(letter string, v *float64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s%.3f", letter, *v))
		}
	}
	appendAxis("X", m.X)
	appendAxis("Y", m.Y)
	appendAxis("Z", m.Z)
	appendAxis("U", m.U)
	if m.Feed > 0 {
		parts = append(parts, fmt.Sprintf("F%.0f", m.Feed))
	}
	return strings.Join(parts, " ")
}

// DwellCommand builds a G4 firmware-side pause. Dwelling in firmware
// keeps the motion queue in charge of timing instead of the host.
func DwellCommand(d time.Duration) string {
	return fmt.Sprintf("G4 P%d", d.Milliseconds())
}

// ParsePositionReport extracts axis positions from an M114 report line
// such as "X:10.000 Y:20.000 Z:30.000 U:5.000 Count X:800 ...". It
// returns false if the line carries no axis fields.
func ParsePositionReport(line string) (map[string]float64, bool) {
	pos := make(map[string]float64)
	for _, field := range strings.Fields(strings.ReplaceAll(line, ",", " ")) {
		key, val, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		switch key {
		case "X", "Y", "Z", "U":
			// The stepper "Count" section repeats axis letters; keep
			// the first occurrence, which is the commanded position.
			if _, seen := pos[key]; seen {
				continue
			}
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				continue
			}
			pos[key] = f
		}
	}
	if len(pos) == 0 {
		return nil, false
	}
	return pos, true
}
