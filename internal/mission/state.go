// Package mission derives the flight phase and alarm bits from the
// stamped telemetry stream.
package mission

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// Config holds the phase transition thresholds and alarm bounds. Values
// are deployment-specific and come from the configuration file, not from
// constants in this package.
type Config struct {
	// AscentAltitude is the altitude in meters above the launch point at
	// which READY_TO_FLIGHT transitions to ASCENT.
	AscentAltitude float64

	// DescentRate is the altitude rate in m/s (negative, falling) below
	// which ASCENT transitions to DESCENT, provided the vehicle is above
	// DescentMinAltitude.
	DescentRate        float64
	DescentMinAltitude float64

	// ReleaseMaxAltitude and ReleaseSeparation trigger DESCENT -> RELEASE
	// when the vehicle has sunk below the altitude and payload/carrier
	// separation exceeds the threshold.
	ReleaseMaxAltitude float64
	ReleaseSeparation  float64

	// RecoveryMaxAltitude and RecoveryRollRate trigger RELEASE -> RECOVERY
	// when the vehicle is near ground and the roll rate has settled.
	RecoveryMaxAltitude float64
	RecoveryRollRate    float64

	// BatteryLowVoltage raises AlarmBatteryLow.
	BatteryLowVoltage float64

	// OrientationLimit bounds roll and pitch in degrees; beyond it the
	// attitude is considered out of range.
	OrientationLimit float64

	// DescentRateMin and DescentRateMax bound the nominal descent band in
	// m/s (both negative); outside it AlarmDescentRate is raised while
	// descending.
	DescentRateMin float64
	DescentRateMax float64

	// RecoveryAutoStop requests an acquisition stop this long after
	// entering RECOVERY. Zero disables the auto-stop.
	RecoveryAutoStop time.Duration
}

// WithLogger sets the logger for the machine.
func WithLogger(logger *slog.Logger) func(*Machine) {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithTransitionFunc registers a hook invoked after every phase
// transition. Hooks run on the acquisition goroutine and must not block.
func WithTransitionFunc(fn func(from, to telemetry.Phase)) func(*Machine) {
	return func(m *Machine) {
		m.hooks = append(m.hooks, fn)
	}
}

// Machine owns phase and alarm derivation. Phases advance strictly
// forward through READY_TO_FLIGHT, ASCENT, DESCENT, RELEASE, RECOVERY;
// alarm bits accumulate until ResetAlarms.
type Machine struct {
	cfg    Config
	logger *slog.Logger
	hooks  []func(from, to telemetry.Phase)

	mu               sync.Mutex
	phase            telemetry.Phase
	alarms           telemetry.Alarm
	releaseRequested bool
	autoStopAt       time.Time

	lastAltitude *float64
	lastRoll     *float64
	lastTime     time.Time
}

// NewMachine creates a machine in READY_TO_FLIGHT with no alarms.
func NewMachine(cfg Config, options ...func(*Machine)) *Machine {
	m := Machine{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Restore forces the starting phase, used when resuming a flight after an
// in-flight reboot. Restoring never moves the machine backward.
func (m *Machine) Restore(p telemetry.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p > m.phase {
		m.phase = p
	}
}

// Phase returns the current mission phase.
func (m *Machine) Phase() telemetry.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Alarms returns the currently latched alarm bits.
func (m *Machine) Alarms() telemetry.Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarms
}

// Raise latches alarm bits from outside the derivation loop (log write
// faults, servo faults). Safe for concurrent use.
func (m *Machine) Raise(a telemetry.Alarm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms |= a
}

// ResetAlarms clears all latched alarm bits. This is the explicit
// operator reset; nothing clears alarms implicitly.
func (m *Machine) ResetAlarms() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms = 0
	m.logger.Info("alarms reset by operator")
}

// RequestRelease records an operator release command; the next Advance
// moves the machine into RELEASE if it has not passed it already.
func (m *Machine) RequestRelease() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseRequested = true
}

// AutoStopDue reports whether the post-recovery hold time has elapsed and
// the acquisition loop should be stopped.
func (m *Machine) AutoStopDue(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.autoStopAt.IsZero() && !now.Before(m.autoStopAt)
}

// Advance derives phase and alarms for the stamped record, filling its
// Phase, Alarms, DescentRate and AltitudeDelta fields. degraded reports a
// source that has crossed its failure threshold this tick. Backward
// transitions cannot happen: the switch below only ever moves the phase
// to a later value.
func (m *Machine) Advance(rec *telemetry.Record, degraded bool) {
	m.mu.Lock()

	m.derive(rec)
	m.evaluateAlarms(rec, degraded)

	from := m.phase
	to := m.transition(rec, from)
	if to != from {
		m.phase = to
		if to == telemetry.PhaseRecovery && m.cfg.RecoveryAutoStop > 0 {
			m.autoStopAt = rec.Timestamp.Add(m.cfg.RecoveryAutoStop)
		}
	}

	rec.Phase = m.phase
	rec.Alarms = m.alarms

	m.lastAltitude = rec.Altitude
	m.lastRoll = rec.Roll
	m.lastTime = rec.Timestamp

	hooks := m.hooks
	m.mu.Unlock()

	if to != from {
		m.logger.Info("mission phase transition",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.Uint64("packet", uint64(rec.Packet)))
		for _, hook := range hooks {
			hook(from, to)
		}
	}
}

// derive fills the computed record fields: altitude rate of change and
// payload/carrier separation.
func (m *Machine) derive(rec *telemetry.Record) {
	if rec.Altitude != nil && m.lastAltitude != nil {
		if dt := rec.Timestamp.Sub(m.lastTime).Seconds(); dt > 0 {
			rate := (*rec.Altitude - *m.lastAltitude) / dt
			rec.DescentRate = &rate
		}
	}

	if rec.Altitude != nil && rec.SecondaryAltitude != nil {
		delta := math.Abs(*rec.Altitude - *rec.SecondaryAltitude)
		rec.AltitudeDelta = &delta
	}
}

func (m *Machine) evaluateAlarms(rec *telemetry.Record, degraded bool) {
	if degraded {
		m.alarms |= telemetry.AlarmSensorDegraded
	}

	if rec.BatteryVoltage != nil && *rec.BatteryVoltage < m.cfg.BatteryLowVoltage {
		m.alarms |= telemetry.AlarmBatteryLow
	}

	if outOfRange(rec.Roll, m.cfg.OrientationLimit) || outOfRange(rec.Pitch, m.cfg.OrientationLimit) {
		m.alarms |= telemetry.AlarmOrientationRange
	}

	if m.phase > telemetry.PhaseReadyToFlight && invalidFix(rec.GPS) {
		m.alarms |= telemetry.AlarmGPSInvalid
	}

	if m.phase >= telemetry.PhaseDescent && rec.DescentRate != nil {
		if *rec.DescentRate < m.cfg.DescentRateMin || *rec.DescentRate > m.cfg.DescentRateMax {
			m.alarms |= telemetry.AlarmDescentRate
		}
	}
}

// transition returns the phase after this record. Only forward moves are
// produced; an operator release request fast-forwards to RELEASE from any
// earlier phase.
func (m *Machine) transition(rec *telemetry.Record, from telemetry.Phase) telemetry.Phase {
	if m.releaseRequested && from < telemetry.PhaseRelease {
		m.releaseRequested = false
		return telemetry.PhaseRelease
	}

	switch from {
	case telemetry.PhaseReadyToFlight:
		if rec.Altitude != nil && *rec.Altitude > m.cfg.AscentAltitude {
			return telemetry.PhaseAscent
		}

	case telemetry.PhaseAscent:
		if rec.DescentRate != nil && *rec.DescentRate < m.cfg.DescentRate &&
			rec.Altitude != nil && *rec.Altitude > m.cfg.DescentMinAltitude {
			return telemetry.PhaseDescent
		}

	case telemetry.PhaseDescent:
		if rec.Altitude != nil && *rec.Altitude < m.cfg.ReleaseMaxAltitude &&
			rec.AltitudeDelta != nil && *rec.AltitudeDelta > m.cfg.ReleaseSeparation {
			return telemetry.PhaseRelease
		}

	case telemetry.PhaseRelease:
		if rec.Altitude != nil && *rec.Altitude < m.cfg.RecoveryMaxAltitude &&
			m.rollSettled(rec) {
			return telemetry.PhaseRecovery
		}
	}

	return from
}

func (m *Machine) rollSettled(rec *telemetry.Record) bool {
	if rec.Roll == nil || m.lastRoll == nil {
		return false
	}
	return math.Abs(*rec.Roll-*m.lastRoll) < m.cfg.RecoveryRollRate
}

func outOfRange(v *float64, limit float64) bool {
	return v != nil && limit > 0 && math.Abs(*v) > limit
}

// invalidFix treats a missing coordinate or the all-zero solution some
// receivers emit before lock as no fix.
func invalidFix(fix telemetry.GPSFix) bool {
	if fix.Latitude == nil || fix.Longitude == nil || fix.Altitude == nil {
		return true
	}
	return *fix.Latitude == 0 && *fix.Longitude == 0
}
