// Package command parses inbound operator commands and gates the
// acquisition loop.
package command

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrUnknownCommand is returned for tokens that are not recognized. The
// caller logs and ignores them; they never tear down the command channel.
var ErrUnknownCommand = errors.New("unknown command")

// Action is a parsed operator command.
type Action int

const (
	ActionStart Action = iota + 1
	ActionStop
	ActionRelease
	ActionResetAlarms
)

var actionNames = map[Action]string{
	ActionStart:       "start",
	ActionStop:        "stop",
	ActionRelease:     "release",
	ActionResetAlarms: "reset-alarms",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Parse maps a command token onto an Action. Tokens are matched
// case-insensitively after trimming whitespace.
func Parse(token string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "start":
		return ActionStart, nil
	case "stop":
		return ActionStop, nil
	case "release":
		return ActionRelease, nil
	case "reset-alarms":
		return ActionResetAlarms, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, token)
	}
}

// Gate holds the single acquisition-enabled flag. Toggling is safe from
// any number of concurrent command sources and the aggregator observes
// the flag atomically once per tick. Repeated identical commands are
// no-ops.
type Gate struct {
	enabled atomic.Bool
}

// NewGate creates a gate in the given initial state.
func NewGate(enabled bool) *Gate {
	g := Gate{}
	g.enabled.Store(enabled)
	return &g
}

// Start enables acquisition. It reports whether the state changed.
func (g *Gate) Start() bool {
	return g.enabled.CompareAndSwap(false, true)
}

// Stop disables acquisition. It reports whether the state changed.
func (g *Gate) Stop() bool {
	return g.enabled.CompareAndSwap(true, false)
}

// Enabled reports whether acquisition is currently enabled.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}
