package protocol

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	data := []byte(`[
		{"action": "home"},
		{"action": "pickTip", "slot": "tips", "well": "A1"},
		{"action": "moveTo", "slot": "plate", "well": "B3"},
		{"action": "aspirate", "volumeUl": 50},
		{"action": "moveTo", "slot": "plate", "row": 2, "col": 4},
		{"action": "dispense", "volumeUl": 50},
		{"action": "dropTip", "slot": "waste", "well": "A1"}
	]`)

	steps, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(steps) != 7 {
		t.Fatalf("Parse() returned %d steps, want 7", len(steps))
	}

	want := []Step{
		{Action: ActionHome},
		{Action: ActionPickTip, Slot: "tips", Row: 0, Col: 0},
		{Action: ActionMoveTo, Slot: "plate", Row: 1, Col: 2},
		{Action: ActionAspirate, VolumeUL: 50},
		{Action: ActionMoveTo, Slot: "plate", Row: 2, Col: 4},
		{Action: ActionDispense, VolumeUL: 50},
		{Action: ActionDropTip, Slot: "waste", Row: 0, Col: 0},
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %+v, want %+v", i, steps[i], want[i])
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{
			name:    "unknown action",
			data:    `[{"action": "centrifuge"}]`,
			wantErr: ErrUnknownStepType,
		},
		{
			name:    "missing slot",
			data:    `[{"action": "moveTo", "well": "A1"}]`,
			wantErr: ErrInvalidStepParameters,
		},
		{
			name:    "missing well",
			data:    `[{"action": "pickTip", "slot": "tips"}]`,
			wantErr: ErrInvalidStepParameters,
		},
		{
			name:    "bad well name",
			data:    `[{"action": "moveTo", "slot": "plate", "well": "5G"}]`,
			wantErr: ErrInvalidStepParameters,
		},
		{
			name:    "negative indices",
			data:    `[{"action": "moveTo", "slot": "plate", "row": -1, "col": 0}]`,
			wantErr: ErrInvalidStepParameters,
		},
		{
			name:    "missing volume",
			data:    `[{"action": "aspirate"}]`,
			wantErr: ErrInvalidStepParameters,
		},
		{
			name:    "negative volume",
			data:    `[{"action": "dispense", "volumeUl": -5}]`,
			wantErr: ErrInvalidStepParameters,
		},
		{
			name:    "not a list",
			data:    `{"action": "home"}`,
			wantErr: ErrInvalidStepParameters,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
