package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Prober is the probe surface the monitor needs from the local provider.
type Prober interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Status is an immutable snapshot of local provider health. The zero value
// means no probe has completed yet.
type Status struct {
	Healthy             bool      `json:"healthy"`
	LastCheckedAt       time.Time `json:"lastCheckedAt"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// Monitor probes the local inference endpoint on an interval and publishes
// health snapshots. Snapshots are written only by the check path; everything
// else reads them without blocking.
type Monitor struct {
	prober   Prober
	model    string
	interval time.Duration
	timeout  time.Duration
	logger   func(format string, args ...any)

	snapshot atomic.Pointer[Status]

	mu       sync.Mutex
	failures int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithProbeTimeout bounds each individual probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.timeout = d
	}
}

// WithLogger overrides the monitor's log output.
func WithLogger(logger func(format string, args ...any)) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a monitor that probes via the prober's model listing.
// When model is non-empty the probe also requires it to be present in the
// listing; empty means any reachable endpoint counts as healthy.
func NewMonitor(prober Prober, model string, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		model:    model,
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		logger:   log.Printf,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check runs a single probe and publishes the resulting snapshot. Probe
// failures never surface as errors; they become an unhealthy snapshot with
// an incremented consecutive-failure count. Concurrent checks serialize.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	models, err := m.prober.ListModels(probeCtx)
	healthy := err == nil
	if healthy && m.model != "" {
		healthy = containsModel(models, m.model)
		if !healthy {
			err = fmt.Errorf("model %s not present in endpoint listing", m.model)
		}
	}

	prev := m.Snapshot()
	if healthy {
		if m.failures > 0 || !prev.Healthy {
			m.logger("[health] local provider healthy (model=%s)", m.model)
		}
		m.failures = 0
	} else {
		m.failures++
		if prev.Healthy || m.failures == 1 {
			m.logger("[health] local provider unhealthy (failures=%d): %v", m.failures, err)
		}
	}

	m.snapshot.Store(&Status{
		Healthy:             healthy,
		LastCheckedAt:       time.Now().UTC(),
		ConsecutiveFailures: m.failures,
	})
	return healthy
}

// Start runs one immediate probe and then probes on the configured interval
// until Shutdown is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)

		m.Check(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case <-m.stop:
					return
				default:
				}
				m.Check(ctx)
			}
		}
	}()
}

// Shutdown stops the probe loop and waits for it to exit. No probes run
// after Shutdown returns.
func (m *Monitor) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	if m.started.Load() {
		<-m.done
	}
}

// IsAvailable reports the cached health flag without blocking. It is false
// until the first probe completes.
func (m *Monitor) IsAvailable() bool {
	return m.Snapshot().Healthy
}

// Snapshot returns the latest published status.
func (m *Monitor) Snapshot() Status {
	if s := m.snapshot.Load(); s != nil {
		return *s
	}
	return Status{}
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
