package servo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// fakeActuator converges instantly unless scripted to fail.
type fakeActuator struct {
	mu          sync.Mutex
	angle       float64
	commands    []float64
	commandErr  error
	feedbackErr error
	stuck       bool // feedback never reaches the target
}

func (a *fakeActuator) Command(angle float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.commandErr != nil {
		return a.commandErr
	}
	a.commands = append(a.commands, angle)
	if !a.stuck {
		a.angle = angle
	}
	return nil
}

func (a *fakeActuator) Feedback() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.feedbackErr != nil {
		return 0, a.feedbackErr
	}
	return a.angle, nil
}

func (a *fakeActuator) commanded() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.commands...)
}

func testServoConfig() Config {
	return Config{
		ReleaseAngle:    90,
		NeutralAngle:    0,
		Tolerance:       2,
		PollInterval:    time.Millisecond,
		ConvergeTimeout: 20 * time.Millisecond,
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
	}
}

// alarmSink records raised alarm bits.
type alarmSink struct {
	mu     sync.Mutex
	alarms telemetry.Alarm
}

func (s *alarmSink) raise(a telemetry.Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms |= a
}

func (s *alarmSink) raised() telemetry.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarms
}

func TestCoordinator_ReleaseThenNeutral(t *testing.T) {
	act := &fakeActuator{}
	sink := &alarmSink{}
	c := NewCoordinator(act, testServoConfig(), sink.raise)
	c.Start(context.Background())

	c.HandleTransition(telemetry.PhaseDescent, telemetry.PhaseRelease)
	c.Wait()

	commands := act.commanded()
	if len(commands) != 2 || commands[0] != 90 || commands[1] != 0 {
		t.Fatalf("Commands = %v, want [90 0]", commands)
	}
	if sink.raised() != 0 {
		t.Errorf("Alarms = %v raised on a clean move", sink.raised())
	}

	pos := c.Position()
	if pos == nil || *pos != 0 {
		t.Errorf("Position = %v, want 0 after neutral return", pos)
	}
}

func TestCoordinator_IgnoresOtherTransitions(t *testing.T) {
	act := &fakeActuator{}
	c := NewCoordinator(act, testServoConfig(), func(telemetry.Alarm) {})
	c.Start(context.Background())

	c.HandleTransition(telemetry.PhaseReadyToFlight, telemetry.PhaseAscent)
	c.HandleTransition(telemetry.PhaseRelease, telemetry.PhaseRecovery)
	c.Wait()

	if got := act.commanded(); len(got) != 0 {
		t.Errorf("Commands = %v, want none outside RELEASE", got)
	}
	if c.Position() != nil {
		t.Errorf("Position = %v before any move", c.Position())
	}
}

func TestCoordinator_RetriesThenRaisesFault(t *testing.T) {
	act := &fakeActuator{stuck: true}
	sink := &alarmSink{}
	c := NewCoordinator(act, testServoConfig(), sink.raise)
	c.Start(context.Background())

	c.HandleTransition(telemetry.PhaseDescent, telemetry.PhaseRelease)
	c.Wait()

	// MaxRetries 2 means three command attempts before giving up.
	if got := act.commanded(); len(got) != 3 {
		t.Errorf("Commands = %v, want 3 attempts", got)
	}
	if !sink.raised().Has(telemetry.AlarmServoFault) {
		t.Error("Servo fault alarm not raised after exhausting retries")
	}
	if c.Position() != nil {
		t.Errorf("Position = %v after a failed move, want nil", c.Position())
	}
}

func TestCoordinator_RecoversOnRetry(t *testing.T) {
	act := &fakeActuator{commandErr: errors.New("drive busy")}
	sink := &alarmSink{}
	c := NewCoordinator(act, testServoConfig(), sink.raise)
	c.Start(context.Background())

	// Clear the fault shortly after the first attempt fails.
	go func() {
		time.Sleep(500 * time.Microsecond)
		act.mu.Lock()
		act.commandErr = nil
		act.mu.Unlock()
	}()

	c.HandleTransition(telemetry.PhaseDescent, telemetry.PhaseRelease)
	c.Wait()

	if sink.raised() != 0 {
		t.Errorf("Alarms = %v after a recovered move", sink.raised())
	}
	pos := c.Position()
	if pos == nil || *pos != 0 {
		t.Errorf("Position = %v, want 0 after neutral return", pos)
	}
}

func TestCoordinator_CancelAbandonsMove(t *testing.T) {
	act := &fakeActuator{stuck: true}
	sink := &alarmSink{}
	cfg := testServoConfig()
	cfg.ConvergeTimeout = time.Minute

	c := NewCoordinator(act, cfg, sink.raise)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.HandleTransition(telemetry.PhaseDescent, telemetry.PhaseRelease)
	time.Sleep(5 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Move did not abandon after cancellation")
	}
}
