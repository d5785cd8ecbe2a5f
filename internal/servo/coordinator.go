// Package servo reacts to mission phase transitions by issuing discrete
// actuator position commands and validating them against feedback.
package servo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// Actuator abstracts the mechanical subsystem. Implementations are thin
// adapters over the actual drive electronics; the core never touches
// hardware directly.
type Actuator interface {
	// Command requests the actuator move to the given angle in degrees.
	Command(angle float64) error

	// Feedback returns the current achieved angle in degrees.
	Feedback() (float64, error)
}

// Config bounds the command/verify cycle.
type Config struct {
	ReleaseAngle float64 // degrees commanded on entering RELEASE
	NeutralAngle float64 // degrees to return to after convergence
	Tolerance    float64 // degrees within which feedback counts as converged

	PollInterval    time.Duration // feedback poll cadence
	ConvergeTimeout time.Duration // per-attempt feedback deadline
	MaxRetries      int           // command retries after the first attempt
	RetryBackoff    time.Duration // base backoff, doubled per retry
}

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) func(*Coordinator) {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator observes phase transitions and drives the actuator. On
// entering RELEASE it commands the release angle, waits for feedback to
// converge, then returns the mechanism to neutral. Convergence failures
// are retried a bounded number of times with doubling backoff before a
// servo-fault alarm is raised; the coordinator never retries forever and
// never crashes the pipeline.
type Coordinator struct {
	actuator Actuator
	cfg      Config
	logger   *slog.Logger
	raise    func(telemetry.Alarm)

	ctx context.Context
	wg  sync.WaitGroup

	mu       sync.Mutex
	position *float64
}

// NewCoordinator creates a coordinator. raise is the alarm sink, normally
// the mission machine's Raise method.
func NewCoordinator(actuator Actuator, cfg Config, raise func(telemetry.Alarm), options ...func(*Coordinator)) *Coordinator {
	c := Coordinator{
		actuator: actuator,
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		raise:    raise,
		ctx:      context.Background(),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Start binds the coordinator to ctx; actuator moves started afterwards
// are abandoned when ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx = ctx
}

// Wait blocks until any in-flight actuator move has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// HandleTransition is registered as a mission transition hook. It must
// not block the acquisition loop, so actuator moves run on their own
// goroutine.
func (c *Coordinator) HandleTransition(_, to telemetry.Phase) {
	if to != telemetry.PhaseRelease {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.moveTo(c.cfg.ReleaseAngle); err != nil {
			c.logger.Error(fmt.Sprintf("release command failed: %s", err))
			c.raise(telemetry.AlarmServoFault)
			return
		}

		if err := c.moveTo(c.cfg.NeutralAngle); err != nil {
			c.logger.Error(fmt.Sprintf("return to neutral failed: %s", err))
			c.raise(telemetry.AlarmServoFault)
		}
	}()
}

// Position returns the most recently confirmed actuator angle, nil before
// any move has converged.
func (c *Coordinator) Position() *float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.position == nil {
		return nil
	}
	v := *c.position
	return &v
}

// moveTo commands the angle and polls feedback until convergence, with
// bounded retries.
func (c *Coordinator) moveTo(angle float64) error {
	backoff := c.cfg.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying actuator command",
				slog.Float64("angle", angle),
				slog.Int("attempt", attempt))

			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.actuator.Command(angle); err != nil {
			lastErr = fmt.Errorf("commanding %0.1f degrees: %w", angle, err)
			continue
		}

		achieved, err := c.awaitConvergence(angle)
		if err != nil {
			lastErr = err
			continue
		}

		c.mu.Lock()
		c.position = &achieved
		c.mu.Unlock()

		c.logger.Info("actuator converged",
			slog.Float64("target", angle),
			slog.Float64("achieved", achieved))
		return nil
	}

	return fmt.Errorf("actuator did not reach %0.1f degrees after %d attempts: %w",
		angle, c.cfg.MaxRetries+1, lastErr)
}

func (c *Coordinator) awaitConvergence(target float64) (float64, error) {
	deadline := time.NewTimer(c.cfg.ConvergeTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return 0, c.ctx.Err()
		case <-deadline.C:
			return 0, fmt.Errorf("feedback did not converge to %0.1f degrees within %s",
				target, c.cfg.ConvergeTimeout)
		case <-ticker.C:
			achieved, err := c.actuator.Feedback()
			if err != nil {
				// Transient feedback read failure; keep polling until the
				// deadline decides.
				continue
			}
			if math.Abs(achieved-target) <= c.cfg.Tolerance {
				return achieved, nil
			}
		}
	}
}
