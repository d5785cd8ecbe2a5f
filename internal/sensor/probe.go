package sensor

import (
	"context"
	"sync"
	"time"
)

// DegradedThreshold is the default number of consecutive read failures
// after which a source is reported degraded.
const DegradedThreshold = 5

// WithDegradedThreshold sets the consecutive-failure count at which the
// probe reports its source degraded.
func WithDegradedThreshold(n int) func(*Probe) {
	return func(p *Probe) {
		p.degradedThreshold = n
	}
}

// WithReadTimeout bounds a single source read.
func WithReadTimeout(d time.Duration) func(*Probe) {
	return func(p *Probe) {
		p.readTimeout = d
	}
}

// Probe owns the poll loop for one source. It caches the outcome of the
// most recent read so the acquisition tick never blocks on a slow bus: a
// tick picks up the cached sample if the last read succeeded, or an
// absent marker if it failed. A failed read never leaves a prior sample
// visible.
type Probe struct {
	source   Source
	interval time.Duration

	readTimeout       time.Duration
	degradedThreshold int

	mu          sync.Mutex
	last        Sample
	lastOK      bool
	consecutive int
	failures    uint64
}

// NewProbe creates a probe polling source every interval.
func NewProbe(source Source, interval time.Duration, options ...func(*Probe)) *Probe {
	p := Probe{
		source:            source,
		interval:          interval,
		readTimeout:       interval,
		degradedThreshold: DegradedThreshold,
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Name returns the wrapped source name.
func (p *Probe) Name() string {
	return p.source.Name()
}

// Run polls the source until ctx is cancelled. The first read happens
// immediately so records are populated from the first tick.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Probe) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()

	sample, err := p.source.Read(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.last = Sample{}
		p.lastOK = false
		p.consecutive++
		p.failures++
		return
	}

	p.last = sample
	p.lastOK = true
	p.consecutive = 0
}

// Latest returns the cached sample from the most recent completed read.
// ok is false when that read failed or no read has completed yet.
func (p *Probe) Latest() (sample Sample, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastOK
}

// Degraded reports whether the source has failed consecutively beyond the
// configured threshold.
func (p *Probe) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutive >= p.degradedThreshold
}

// Failures returns the total number of failed reads.
func (p *Probe) Failures() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}
