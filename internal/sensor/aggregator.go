package sensor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/model-satellite/flightcore/internal/telemetry"
)

// WithLogger sets the logger for the aggregator.
func WithLogger(logger *slog.Logger) func(*Aggregator) {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// Aggregator merges the latest cached readings of all configured probes
// into one unstamped telemetry record per acquisition tick. A failing
// source contributes absent fields and is reported degraded once its
// probe crosses the failure threshold; it never aborts the tick for the
// other sources.
type Aggregator struct {
	probes []*Probe
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewAggregator creates an aggregator over the given probes.
func NewAggregator(probes []*Probe, options ...func(*Aggregator)) *Aggregator {
	a := Aggregator{
		probes: probes,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&a)
	}

	return &a
}

// Start launches one poll goroutine per probe. It returns immediately;
// Stop or ctx cancellation ends the polling.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	for _, probe := range a.probes {
		a.wg.Add(1)
		go func(p *Probe) {
			defer a.wg.Done()
			a.logger.Info("starting sensor poll loop", slog.String("source", p.Name()))
			p.Run(ctx)
		}(probe)
	}
}

// Stop ends all poll loops and waits for them to finish.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Collect builds one unstamped record from the cached probe samples.
// degraded reports whether any source has crossed its failure threshold.
func (a *Aggregator) Collect(now time.Time) (rec *telemetry.Record, degraded bool) {
	rec = &telemetry.Record{Timestamp: now}

	for _, probe := range a.probes {
		sample, ok := probe.Latest()
		if !ok {
			if probe.Degraded() {
				degraded = true
			}
			a.logger.Debug("source sample unavailable",
				slog.String("source", probe.Name()),
				slog.Uint64("failures", probe.Failures()))
			continue
		}
		merge(rec, sample)
	}

	return rec, degraded
}
