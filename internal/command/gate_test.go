package command

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  Action
	}{
		{"start", ActionStart},
		{"stop", ActionStop},
		{"release", ActionRelease},
		{"reset-alarms", ActionResetAlarms},
		{"START", ActionStart},
		{"  stop\n", ActionStop},
		{"Reset-Alarms", ActionResetAlarms},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := Parse(tt.token)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.token, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestParse_UnknownToken(t *testing.T) {
	for _, token := range []string{"", "reboot", "start now"} {
		if _, err := Parse(token); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("Parse(%q) = %v, want ErrUnknownCommand", token, err)
		}
	}
}

func TestGate_Toggle(t *testing.T) {
	g := NewGate(false)
	if g.Enabled() {
		t.Fatal("Gate created enabled, want disabled")
	}

	if !g.Start() {
		t.Error("Start on a disabled gate reported no change")
	}
	if !g.Enabled() {
		t.Error("Gate disabled after Start")
	}

	// Repeated identical commands are no-ops.
	if g.Start() {
		t.Error("Start on an enabled gate reported a change")
	}

	if !g.Stop() {
		t.Error("Stop on an enabled gate reported no change")
	}
	if g.Stop() {
		t.Error("Stop on a disabled gate reported a change")
	}
}

func TestNewGate_InitialState(t *testing.T) {
	if !NewGate(true).Enabled() {
		t.Error("Gate created disabled, want enabled")
	}
}
