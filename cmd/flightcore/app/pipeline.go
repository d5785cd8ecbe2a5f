package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/model-satellite/flightcore/internal/blackbox"
	"github.com/model-satellite/flightcore/internal/broadcast"
	"github.com/model-satellite/flightcore/internal/command"
	"github.com/model-satellite/flightcore/internal/mission"
	"github.com/model-satellite/flightcore/internal/sensor"
	"github.com/model-satellite/flightcore/internal/sequence"
	"github.com/model-satellite/flightcore/internal/servo"
	"github.com/model-satellite/flightcore/internal/storage"
	"github.com/model-satellite/flightcore/internal/telemetry"
)

const (
	blackboxChannel = "blackbox"
	archiveChannel  = "archive"

	// archiveFlushInterval bounds how long buffered records wait before
	// a partial batch is written to the archive.
	archiveFlushInterval = 2 * time.Second

	// drainTimeout bounds how long shutdown waits for the blackbox and
	// archive consumers to drain their queues.
	drainTimeout = 5 * time.Second
)

// PipelineDeps carries the wired collaborators of the acquisition loop.
type PipelineDeps struct {
	Gate        *command.Gate
	Aggregator  *sensor.Aggregator
	Sequencer   *sequence.Sequencer
	Machine     *mission.Machine
	Recorder    *blackbox.Recorder
	Hub         *broadcast.Hub
	Coordinator *servo.Coordinator
	Store       storage.Store
	SessionID   int64
	BatchSize   int
}

// Pipeline runs the acquisition loop: collect, stamp, advance the mission
// state, then publish. The blackbox recorder and the flight archive consume
// records off dedicated hub channels so a stalled disk never delays the loop.
type Pipeline struct {
	PipelineDeps

	interval time.Duration
	logger   *slog.Logger
}

func NewPipeline(deps PipelineDeps, interval time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		PipelineDeps: deps,
		interval:     interval,
		logger:       logger,
	}
}

// Dispatch applies an operator command to the running pipeline.
func (p *Pipeline) Dispatch(action command.Action) {
	switch action {
	case command.ActionStart:
		if p.Gate.Start() {
			p.logger.Info("acquisition started")
		}
	case command.ActionStop:
		if p.Gate.Stop() {
			p.logger.Info("acquisition stopped")
		}
	case command.ActionRelease:
		p.logger.Info("release requested")
		p.Machine.RequestRelease()
	case command.ActionResetAlarms:
		p.logger.Info("alarms reset")
		p.Machine.ResetAlarms()
	}
}

// Run drives the acquisition loop until ctx is cancelled or the packet
// counter can no longer be persisted.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Aggregator.Start(ctx)
	defer p.Aggregator.Stop()

	p.Coordinator.Start(ctx)

	blackboxSub, err := p.Hub.Subscribe(blackboxChannel)
	if err != nil {
		return fmt.Errorf("subscribing blackbox consumer: %w", err)
	}
	archiveSub, err := subscribeArchive(p.Hub, p.Store)
	if err != nil {
		return fmt.Errorf("subscribing archive consumer: %w", err)
	}

	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		p.runRecorder(blackboxSub)
	}()
	if archiveSub != nil {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			p.runArchive(archiveSub)
		}()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var loopErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			if !p.Gate.Enabled() {
				continue
			}
			if err := p.tickOnce(now); err != nil {
				loopErr = err
				break loop
			}
		}
	}

	p.shutdown(&consumers)
	return loopErr
}

func subscribeArchive(hub *broadcast.Hub, store storage.Store) (*broadcast.Subscriber, error) {
	if store == nil {
		return nil, nil
	}
	return hub.Subscribe(archiveChannel)
}

func (p *Pipeline) tickOnce(now time.Time) error {
	rec, degraded := p.Aggregator.Collect(now)
	rec.ServoPosition = p.Coordinator.Position()

	if err := p.Sequencer.Stamp(rec); err != nil {
		// An unstampable record must not reach consumers: packet numbers
		// would repeat after the next restart.
		return fmt.Errorf("stamping record: %w", err)
	}

	p.Machine.Advance(rec, degraded)
	if err := p.Sequencer.SaveMissionState(rec.Phase, rec.Alarms); err != nil {
		// A failure here surfaces on the next Stamp, which shares the file.
		p.logger.Warn("persisting mission state failed", slog.Any("error", err))
	}
	p.Hub.Publish(rec)

	if p.Machine.AutoStopDue(now) {
		if p.Gate.Stop() {
			p.logger.Info("acquisition auto-stopped after recovery")
		}
	}
	return nil
}

// runRecorder appends every published record to the blackbox. Write
// failures raise an alarm on the next records rather than stopping the
// flight.
func (p *Pipeline) runRecorder(sub *broadcast.Subscriber) {
	for {
		rec, err := sub.Next(context.Background())
		if err != nil {
			return
		}
		if err := p.Recorder.Append(rec); err != nil {
			p.logger.Error("blackbox write failed", slog.Any("error", err))
			p.Machine.Raise(telemetry.AlarmLogWrite)
		}
	}
}

// runArchive batches published records into the flight archive. A partial
// batch is flushed when no record arrives within archiveFlushInterval.
func (p *Pipeline) runArchive(sub *broadcast.Subscriber) {
	batch := make([]*telemetry.Record, 0, p.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := p.Store.StoreRecords(ctx, p.SessionID, batch); err != nil {
			p.logger.Error("archive write failed", slog.Any("error", err))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		ctx, cancel := context.WithTimeout(context.Background(), archiveFlushInterval)
		rec, err := sub.Next(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				flush()
				continue
			}
			flush()
			return
		}
		batch = append(batch, rec)
		// Take whatever else has queued up so a backlog lands in one batch.
		batch = append(batch, sub.Pending()...)
		if len(batch) >= p.BatchSize {
			flush()
		}
	}
}

// shutdown closes the hub so consumers drain their queues and exit, then
// waits for them and the servo coordinator with a bounded grace period.
func (p *Pipeline) shutdown(consumers *sync.WaitGroup) {
	p.Hub.Close()

	done := make(chan struct{})
	go func() {
		consumers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.logger.Warn("shutdown drain timed out", slog.Duration("timeout", drainTimeout))
	}

	p.Coordinator.Wait()

	if err := p.Recorder.Close(); err != nil {
		p.logger.Error("closing blackbox", slog.Any("error", err))
	}
}
