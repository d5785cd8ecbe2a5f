// Package sequence assigns monotonically increasing packet numbers to
// telemetry records and persists the counter across process restarts,
// together with the mission phase and alarm bits so a reboot mid-flight
// resumes where the machine left off.
package sequence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// ErrPersist is returned when the counter cannot be written to durable
// storage. It is fatal to the pipeline: continuing would risk reusing a
// packet number after a crash.
var ErrPersist = errors.New("persisting packet counter")

// Sequencer stamps records with the next packet number. The counter value
// counter+1 is persisted before Stamp returns, so a crash at any point
// never replays a number: on restart the first stamped number is strictly
// greater than anything handed out before.
type Sequencer struct {
	mu     sync.Mutex
	next   uint32
	phase  telemetry.Phase
	alarms telemetry.Alarm
	path   string
}

// Open loads the persisted state from path, or starts at zero when the
// file does not exist. Files written before mission state was tracked
// carry the counter alone; phase and alarms then default to the launch
// state.
func Open(path string) (*Sequencer, error) {
	s := Sequencer{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &s, nil
	case err != nil:
		return nil, fmt.Errorf("reading packet counter: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, errors.New("parsing packet counter: empty file")
	}

	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing packet counter %q: %w", fields[0], err)
	}
	s.next = uint32(n)

	if len(fields) > 1 {
		phase, ok := telemetry.ParsePhase(fields[1])
		if !ok {
			return nil, fmt.Errorf("parsing mission phase %q", fields[1])
		}
		s.phase = phase
	}

	if len(fields) > 2 {
		a, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parsing alarm bits %q: %w", fields[2], err)
		}
		s.alarms = telemetry.Alarm(a)
	}

	return &s, nil
}

// Resumed reports whether the counter was recovered from a previous run.
func (s *Sequencer) Resumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next > 0
}

// Next returns the number the next stamped record will carry.
func (s *Sequencer) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Phase returns the mission phase recovered from a previous run, or the
// launch state for a fresh counter.
func (s *Sequencer) Phase() telemetry.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Alarms returns the alarm bits recovered from a previous run.
func (s *Sequencer) Alarms() telemetry.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarms
}

// Stamp assigns the current counter to the record and durably persists
// the incremented counter before returning. On persistence failure the
// record is left unstamped and the counter is not consumed.
func (s *Sequencer) Stamp(rec *telemetry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(s.next+1, s.phase, s.alarms); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	rec.Packet = s.next
	s.next++
	return nil
}

// SaveMissionState durably records the mission phase and alarm bits next
// to the counter. Values identical to the last persisted ones are skipped,
// so the extra write happens only on transitions and alarm changes.
func (s *Sequencer) SaveMissionState(phase telemetry.Phase, alarms telemetry.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if phase == s.phase && alarms == s.alarms {
		return nil
	}

	if err := s.persist(s.next, phase, alarms); err != nil {
		return fmt.Errorf("persisting mission state: %w", err)
	}

	s.phase = phase
	s.alarms = alarms
	return nil
}

// persist writes the state through a temp file rename so a crash mid-write
// never leaves a torn file behind.
func (s *Sequencer) persist(value uint32, phase telemetry.Phase, alarms telemetry.Alarm) error {
	tmp := s.path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp counter file: %w", err)
	}

	if _, err = fmt.Fprintf(f, "%d %s %d\n", value, phase, uint16(alarms)); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing counter: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing counter: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing counter file: %w", err)
	}

	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing counter file: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}

	return nil
}
