package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dfsportal/internal/types"
)

// StatsSource produces one dashboard snapshot. Implementations leave
// RequestID zero.
type StatsSource interface {
	FetchStats(ctx context.Context) (types.StatsSnapshot, error)
}

// PollerMetrics receives poller outcomes.
type PollerMetrics interface {
	StatsResponseDropped()
	StatsPollFailed()
}

type noopPollerMetrics struct{}

func (noopPollerMetrics) StatsResponseDropped() {}
func (noopPollerMetrics) StatsPollFailed()      {}

// DefaultStatsInterval is used when no interval is configured.
const DefaultStatsInterval = 20 * time.Second

// StatsPollerConfig holds the configuration for creating a StatsPoller.
type StatsPollerConfig struct {
	Source   StatsSource
	Interval time.Duration
	// Timeout bounds a single poll; zero means the interval.
	Timeout time.Duration
	Metrics PollerMetrics
	Logger  *slog.Logger
}

// StatsPoller refreshes the dashboard snapshot on a fixed interval.
//
// Every poll takes the next id from a monotonically increasing counter and
// polls may overlap. A result is applied only if its id is newer than the
// last applied one; anything older arrived out of order and is dropped, so
// Latest never moves backwards.
type StatsPoller struct {
	source   StatsSource
	metrics  PollerMetrics
	logger   *slog.Logger
	interval atomic.Int64
	timeout  time.Duration

	seq     atomic.Uint64
	dropped atomic.Uint64

	mu        sync.RWMutex
	latest    *types.StatsSnapshot
	appliedID uint64
	lastErr   error

	inflight sync.WaitGroup
}

// NewStatsPoller creates a StatsPoller. Nothing is polled until Run or
// PollOnce is called.
func NewStatsPoller(cfg StatsPollerConfig) *StatsPoller {
	p := &StatsPoller{
		source:  cfg.Source,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
	}
	if p.metrics == nil {
		p.metrics = noopPollerMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "stats_poller")
	p.SetInterval(cfg.Interval)
	return p
}

// SetInterval changes the polling interval from the next tick on.
func (p *StatsPoller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultStatsInterval
	}
	p.interval.Store(int64(d))
}

// Interval returns the polling interval in effect.
func (p *StatsPoller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// PollOnce runs a single poll and returns the source error, if any. The
// result may still be discarded if a newer poll has already been applied.
func (p *StatsPoller) PollOnce(ctx context.Context) error {
	id := p.seq.Add(1)

	timeout := p.timeout
	if timeout <= 0 {
		timeout = p.Interval()
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := p.source.FetchStats(pollCtx)
	if err != nil {
		p.metrics.StatsPollFailed()
		p.recordFailure(id, err)
		p.logger.WarnContext(ctx, "stats poll failed", "request_id", id, "error", err)
		return err
	}

	snap.RequestID = id
	if !p.apply(snap) {
		p.dropped.Add(1)
		p.metrics.StatsResponseDropped()
		p.logger.DebugContext(ctx, "dropping out-of-order stats response", "request_id", id)
	}
	return nil
}

func (p *StatsPoller) apply(snap types.StatsSnapshot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.RequestID <= p.appliedID {
		return false
	}
	p.appliedID = snap.RequestID
	p.latest = &snap
	p.lastErr = nil
	return true
}

// recordFailure keeps the error only if no newer poll has been applied.
func (p *StatsPoller) recordFailure(id uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id > p.appliedID {
		p.lastErr = err
	}
}

// Latest returns the most recently applied snapshot.
func (p *StatsPoller) Latest() (types.StatsSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return types.StatsSnapshot{}, false
	}
	return *p.latest, true
}

// LastError returns the error of the newest failed poll that has not been
// superseded by a successful one.
func (p *StatsPoller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Dropped reports how many out-of-order responses were discarded.
func (p *StatsPoller) Dropped() uint64 {
	return p.dropped.Load()
}

// Run polls immediately and then on every interval until ctx is done. Each
// poll runs in its own goroutine so a slow response never delays the next
// tick. Run returns after all in-flight polls have finished.
func (p *StatsPoller) Run(ctx context.Context) {
	defer p.inflight.Wait()

	p.spawn(ctx)
	timer := time.NewTimer(p.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.spawn(ctx)
			timer.Reset(p.Interval())
		}
	}
}

func (p *StatsPoller) spawn(ctx context.Context) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		_ = p.PollOnce(ctx)
	}()
}
