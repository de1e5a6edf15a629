package robot

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/swbio/pipet/pkg/deck"
	"github.com/swbio/pipet/pkg/syringe"
	"github.com/swbio/pipet/pkg/transport"
)

func testLayout(t *testing.T) *deck.Layout {
	t.Helper()
	l, err := deck.NewLayout([]deck.Slot{
		{
			ID:   "plate",
			Base: deck.Position{X: 10, Y: 10},
			Labware: &deck.Definition{
				Name: "plate96", Kind: deck.Plate,
				Rows: 8, Columns: 12, PitchX: 9, PitchY: 9, Depth: 10,
			},
		},
		{
			ID:   "tips",
			Base: deck.Position{X: 150, Y: 10},
			Labware: &deck.Definition{
				Name: "tips96", Kind: deck.TipRack,
				Rows: 8, Columns: 12, PitchX: 9, PitchY: 9, Depth: 10,
				TipTouch: 8, TipPress: 6, TipFull: 1,
			},
		},
		{
			ID:   "waste",
			Base: deck.Position{X: 10, Y: 200},
			Labware: &deck.Definition{
				Name: "waste", Kind: deck.Reservoir,
				Rows: 1, Columns: 1,
				ScrapeZ: 20, TipPress: 5,
			},
		},
	})
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	return l
}

// bore cross section of exactly 20 mm², so 200 uL = 10 mm of stroke.
func testCalibration() *syringe.Calibration {
	return &syringe.Calibration{
		BoreDiameter: math.Sqrt(4 * 20 / math.Pi),
		Correction:   1.0,
		MaxStroke:    60,
		ToleranceUL:  0.01,
	}
}

func testConfig() Config {
	return Config{
		Limits: Limits{
			X: AxisRange{Min: 0, Max: 300},
			Y: AxisRange{Min: 0, Max: 300},
			Z: AxisRange{Min: -20, Max: 100},
			U: AxisRange{Min: 0, Max: 60},
		},
		Feeds:        Feeds{XY: 7500, ZDown: 600, ZUp: 750, Plunger: 200},
		Timeouts:     Timeouts{Move: time.Second, Home: 5 * time.Second, Plunger: time.Second},
		HomePosition: deck.Position{X: 0, Y: 0, Z: 50, U: 0},
		TravelZ:      50,
		ScrapeTravel: 20,
		PressCycles:  2,
		MaxRetries:   2,
	}
}

func testRobot(t *testing.T, tr transport.Transport) *Robot {
	t.Helper()
	return New(tr, testLayout(t), testCalibration(), testConfig())
}

func home(t *testing.T, r *Robot) {
	t.Helper()
	if err := r.Home(); err != nil {
		t.Fatalf("Home() error = %v", err)
	}
}

func TestMoveBeforeHome(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)

	if err := r.MoveTo(deck.Position{X: 10, Y: 10, Z: 10}); !errors.Is(err, ErrNotHomed) {
		t.Fatalf("MoveTo() error = %v, want ErrNotHomed", err)
	}
	if n := len(mock.Sent()); n != 0 {
		t.Fatalf("MoveTo() before home sent %d commands, want 0", n)
	}
}

func TestHome(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)

	home(t, r)

	sent := mock.Sent()
	want := []string{"G28 X Y Z U", "G90"}
	if len(sent) != len(want) {
		t.Fatalf("Home() sent %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, sent[i], want[i])
		}
	}

	st := r.State()
	if !st.Homed {
		t.Error("Homed = false after successful home")
	}
	if st.Position != (deck.Position{Z: 50}) {
		t.Errorf("Position = %v, want home position", st.Position)
	}
}

func TestHomeEndstopFault(t *testing.T) {
	mock := transport.NewMock(transport.ErrDeviceFault)
	r := testRobot(t, mock)

	err := r.Home()
	if !errors.Is(err, ErrHomingFailed) {
		t.Fatalf("Home() error = %v, want ErrHomingFailed", err)
	}
	if r.State().Homed {
		t.Error("Homed = true after failed home")
	}
}

func TestMoveToOutOfBounds(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)
	before := len(mock.Sent())

	err := r.MoveTo(deck.Position{X: 500, Y: 10, Z: 10})
	if !errors.Is(err, ErrPositionOutOfBounds) {
		t.Fatalf("MoveTo() error = %v, want ErrPositionOutOfBounds", err)
	}
	if n := len(mock.Sent()); n != before {
		t.Errorf("out-of-bounds move sent %d commands", n-before)
	}
}

func TestMoveToWell(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)

	if err := r.MoveToWell("plate", 0, 0); err != nil {
		t.Fatalf("MoveToWell() error = %v", err)
	}
	sent := mock.Sent()
	last := sent[len(sent)-1]
	if last != "G1 X10.000 Y10.000 Z-10.000 F7500" {
		t.Errorf("move command = %q", last)
	}
	if got := r.State().Position; got != (deck.Position{X: 10, Y: 10, Z: -10}) {
		t.Errorf("Position = %v", got)
	}

	if err := r.MoveToWell("plate", 8, 0); !errors.Is(err, deck.ErrWellOutOfRange) {
		t.Errorf("MoveToWell(8,0) error = %v, want ErrWellOutOfRange", err)
	}
	if err := r.MoveToWell("nope", 0, 0); !errors.Is(err, deck.ErrUnknownSlot) {
		t.Errorf("MoveToWell(nope) error = %v, want ErrUnknownSlot", err)
	}
}

func TestAspirateDispenseRoundTrip(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)

	uBefore := r.State().Position.U
	volBefore := r.State().AspiratedUL

	if err := r.Aspirate(200); err != nil {
		t.Fatalf("Aspirate() error = %v", err)
	}
	st := r.State()
	if math.Abs(st.Position.U-uBefore-10) > 1e-9 {
		t.Errorf("U after aspirate = %v, want %v", st.Position.U, uBefore+10)
	}
	if math.Abs(st.AspiratedUL-200) > 1e-9 {
		t.Errorf("AspiratedUL = %v, want 200", st.AspiratedUL)
	}

	if err := r.Dispense(200); err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	st = r.State()
	if math.Abs(st.Position.U-uBefore) > 1e-9 {
		t.Errorf("U after dispense = %v, want %v", st.Position.U, uBefore)
	}
	if math.Abs(st.AspiratedUL-volBefore) > 1e-9 {
		t.Errorf("AspiratedUL = %v, want %v", st.AspiratedUL, volBefore)
	}
}

func TestDispenseInsufficientVolume(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)

	if err := r.Aspirate(50); err != nil {
		t.Fatalf("Aspirate() error = %v", err)
	}
	if err := r.Dispense(100); !errors.Is(err, ErrInsufficientVolume) {
		t.Fatalf("Dispense(100) error = %v, want ErrInsufficientVolume", err)
	}
}

func TestAspirateVolumeOutOfRange(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)

	if err := r.Aspirate(5000); !errors.Is(err, syringe.ErrVolumeOutOfRange) {
		t.Fatalf("Aspirate(5000) error = %v, want ErrVolumeOutOfRange", err)
	}

	// Within syringe stroke but beyond the remaining U travel.
	if err := r.Jog(0, 0, 0, 55); err != nil {
		t.Fatalf("Jog() error = %v", err)
	}
	if err := r.Aspirate(200); !errors.Is(err, syringe.ErrVolumeOutOfRange) {
		t.Fatalf("Aspirate(200) at U=55 error = %v, want ErrVolumeOutOfRange", err)
	}
}

func TestPickAndDropTip(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)

	if err := r.PickTip("tips", 0, 0); err != nil {
		t.Fatalf("PickTip() error = %v", err)
	}
	if !r.State().TipAttached {
		t.Fatal("TipAttached = false after PickTip")
	}
	if err := r.PickTip("tips", 0, 1); !errors.Is(err, ErrTipAlreadyAttached) {
		t.Fatalf("second PickTip() error = %v, want ErrTipAlreadyAttached", err)
	}

	if err := r.DropTip("waste", 0, 0); err != nil {
		t.Fatalf("DropTip() error = %v", err)
	}
	if r.State().TipAttached {
		t.Fatal("TipAttached = true after DropTip")
	}
	if err := r.DropTip("waste", 0, 0); !errors.Is(err, ErrNoTipAttached) {
		t.Fatalf("second DropTip() error = %v, want ErrNoTipAttached", err)
	}
}

func TestPickTipSequence(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)

	if err := r.PickTip("tips", 0, 0); err != nil {
		t.Fatalf("PickTip() error = %v", err)
	}
	seq := mock.Sent()[2:] // skip G28 + G90

	// travel, xy, touch, dwell, 2x(press dwell touch dwell), full,
	// dwell, press, travel
	if len(seq) != 16 {
		t.Fatalf("PickTip() issued %d commands, want 16: %v", len(seq), seq)
	}
	if seq[0] != "G1 Z50.000 F750" {
		t.Errorf("first command = %q, want travel height move", seq[0])
	}
	if seq[1] != "G1 X150.000 Y10.000 F7500" {
		t.Errorf("second command = %q, want XY move", seq[1])
	}
	if !strings.HasPrefix(seq[2], "G1 Z-2.000") {
		t.Errorf("third command = %q, want descend to touch height", seq[2])
	}
	if seq[len(seq)-1] != "G1 Z50.000 F750" {
		t.Errorf("last command = %q, want retract to travel height", seq[len(seq)-1])
	}
}

func TestPickTipWrongLabware(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)
	home(t, r)

	if err := r.PickTip("plate", 0, 0); !errors.Is(err, ErrWrongLabware) {
		t.Fatalf("PickTip(plate) error = %v, want ErrWrongLabware", err)
	}
}

func TestPickTipAbortsOnFault(t *testing.T) {
	// home (2 commands) succeeds, first pick command succeeds, second
	// faults; the remaining sequence must not be sent.
	mock := transport.NewMock(nil, nil, nil, transport.ErrDeviceFault)
	r := testRobot(t, mock)
	home(t, r)

	err := r.PickTip("tips", 0, 0)
	if !errors.Is(err, transport.ErrDeviceFault) {
		t.Fatalf("PickTip() error = %v, want ErrDeviceFault", err)
	}
	if r.State().TipAttached {
		t.Error("TipAttached = true after aborted PickTip")
	}
	if n := len(mock.Sent()); n != 4 {
		t.Errorf("sent %d commands, want 4 (sequence aborted)", n)
	}
}

func TestSendRetriesOnAckTimeout(t *testing.T) {
	// Home takes commands 1-2. The move times out twice, then succeeds:
	// exactly 3 transport requests for it.
	mock := transport.NewMock(nil, nil, transport.ErrAckTimeout, transport.ErrAckTimeout, nil)
	r := testRobot(t, mock)
	home(t, r)

	if err := r.MoveToWell("plate", 0, 0); err != nil {
		t.Fatalf("MoveToWell() error = %v", err)
	}
	sent := mock.Sent()
	moves := sent[2:]
	if len(moves) != 3 {
		t.Fatalf("move took %d transport requests, want 3: %v", len(moves), moves)
	}
	for _, m := range moves {
		if m != moves[0] {
			t.Fatalf("retried command differs: %v", moves)
		}
	}
}

func TestSendRetriesExhausted(t *testing.T) {
	mock := transport.NewMock(nil, nil,
		transport.ErrAckTimeout, transport.ErrAckTimeout, transport.ErrAckTimeout)
	r := testRobot(t, mock)
	home(t, r)

	err := r.MoveToWell("plate", 0, 0)
	if !errors.Is(err, transport.ErrAckTimeout) {
		t.Fatalf("MoveToWell() error = %v, want ErrAckTimeout", err)
	}
	// Position must still reflect the last acknowledged command.
	if got := r.State().Position; got != (deck.Position{Z: 50}) {
		t.Errorf("Position = %v, want home position", got)
	}
}

func TestConnectionLostDropsHomed(t *testing.T) {
	mock := transport.NewMock(nil, nil, transport.ErrConnectionLost)
	r := testRobot(t, mock)
	home(t, r)

	err := r.MoveToWell("plate", 0, 0)
	if !errors.Is(err, transport.ErrConnectionLost) {
		t.Fatalf("MoveToWell() error = %v, want ErrConnectionLost", err)
	}
	if r.State().Homed {
		t.Error("Homed = true after connection loss")
	}
}

func TestJog(t *testing.T) {
	mock := transport.NewMock()
	r := testRobot(t, mock)

	if err := r.Jog(1, 0, 0, 0); !errors.Is(err, ErrNotHomed) {
		t.Fatalf("Jog() before home error = %v, want ErrNotHomed", err)
	}

	home(t, r)
	if err := r.Jog(5, -0, 2, 0); err != nil {
		t.Fatalf("Jog() error = %v", err)
	}
	if got := r.State().Position; got != (deck.Position{X: 5, Z: 52}) {
		t.Errorf("Position = %v, want (5, 0, 52, 0)", got)
	}

	if err := r.Jog(-100, 0, 0, 0); !errors.Is(err, ErrPositionOutOfBounds) {
		t.Fatalf("Jog() out of range error = %v, want ErrPositionOutOfBounds", err)
	}
}

func TestSyncPosition(t *testing.T) {
	mock := transport.NewMock()
	mock.AddReport("X:12.000 Y:34.000 Z:5.000 U:2.500 Count X:960")
	r := testRobot(t, mock)

	if err := r.SyncPosition(); err != nil {
		t.Fatalf("SyncPosition() error = %v", err)
	}
	if got := r.State().Position; got != (deck.Position{X: 12, Y: 34, Z: 5, U: 2.5}) {
		t.Errorf("Position = %v", got)
	}
	if r.State().Homed {
		t.Error("SyncPosition() must not mark the robot homed")
	}
}
