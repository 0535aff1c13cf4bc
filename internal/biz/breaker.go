package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/metrics"
	pkglog "healthpay-gateway/pkg/log"
)

// BreakerState is the lifecycle state of one circuit breaker.
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrBreakerOpen is returned when a call is rejected without reaching
	// the upstream because its breaker is open.
	ErrBreakerOpen = errors.New("circuit breaker is open")

	// ErrUpstreamTimeout is returned when the upstream call exceeded the
	// configured call timeout.
	ErrUpstreamTimeout = errors.New("upstream call timed out")
)

// breaker tracks failure state for a single upstream service.
type breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failures      uint32
	successes     uint32
	openedAt      time.Time
	probeInFlight bool
}

// BreakerStats is a point-in-time snapshot of one breaker, exposed on the
// health endpoint.
type BreakerStats struct {
	State    string `json:"state"`
	Failures uint32 `json:"failures"`
}

// BreakerManager owns one circuit breaker per upstream service. Breakers are
// created lazily on first use and never removed.
type BreakerManager struct {
	cfg      *conf.Breaker
	mu       sync.Mutex
	breakers map[string]*breaker
	now      func() time.Time
	audit    AuditLogger
	metrics  *metrics.Metrics
	log      *pkglog.LogHelper
}

// NewBreakerManager creates a breaker manager with the configured thresholds.
func NewBreakerManager(c *conf.Breaker, audit AuditLogger, m *metrics.Metrics, logger log.Logger) *BreakerManager {
	return &BreakerManager{
		cfg:      c,
		breakers: make(map[string]*breaker),
		now:      time.Now,
		audit:    audit,
		metrics:  m,
		log:      pkglog.NewLogHelper(logger),
	}
}

func (bm *BreakerManager) get(service string) *breaker {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	b, ok := bm.breakers[service]
	if !ok {
		b = &breaker{state: StateClosed}
		bm.breakers[service] = b
		bm.metrics.BreakerState.WithLabelValues(service).Set(0)
	}
	return b
}

// Execute runs call through the breaker for service. When the breaker is
// open the call is rejected immediately with ErrBreakerOpen. At most one
// probe is admitted while half-open; concurrent callers during the probe
// are rejected as if the breaker were still open.
func (bm *BreakerManager) Execute(ctx context.Context, service string, call func(context.Context) error) error {
	b := bm.get(service)

	probe, err := bm.admit(b, service)
	if err != nil {
		bm.metrics.BreakerRejected.WithLabelValues(service).Inc()
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, bm.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call(callCtx)
	}()

	select {
	case err = <-done:
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = ErrUpstreamTimeout
		} else {
			// Client went away; the outcome is unknowable so it counts
			// neither as success nor failure.
			bm.release(b, probe)
			return callCtx.Err()
		}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrUpstreamTimeout
		}
		bm.recordFailure(ctx, b, service, probe)
		return err
	}
	bm.recordSuccess(ctx, b, service, probe)
	return nil
}

// admit decides whether a call may proceed. It returns whether the admitted
// call is a half-open probe.
func (bm *BreakerManager) admit(b *breaker, service string) (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if bm.now().Sub(b.openedAt) < bm.cfg.ResetTimeout {
			return false, ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.probeInFlight = true
		bm.metrics.BreakerState.WithLabelValues(service).Set(1)
		bm.log.Breaker("breaker half-open, admitting probe", "service", service)
		return true, nil
	case StateHalfOpen:
		if b.probeInFlight {
			return false, ErrBreakerOpen
		}
		b.probeInFlight = true
		return true, nil
	}
	return false, nil
}

// release clears the probe slot without recording an outcome.
func (bm *BreakerManager) release(b *breaker, probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// recordSuccess applies a call outcome. Only the probe owner may touch
// the half-open bookkeeping; outcomes of calls admitted before a state
// change carry no signal and are dropped.
func (bm *BreakerManager) recordSuccess(ctx context.Context, b *breaker, service string, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
		b.successes++
		if b.successes >= bm.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			bm.metrics.BreakerState.WithLabelValues(service).Set(0)
			bm.log.Breaker("breaker closed after recovery", "service", service)
			bm.audit.LogBreakerRecovered(ctx, service)
		}
		return
	}
	if b.state == StateClosed {
		b.failures = 0
	}
}

func (bm *BreakerManager) recordFailure(ctx context.Context, b *breaker, service string, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		// A failed probe reopens immediately and restarts the reset timer.
		b.probeInFlight = false
		b.state = StateOpen
		b.openedAt = bm.now()
		b.successes = 0
		bm.metrics.BreakerState.WithLabelValues(service).Set(2)
		bm.log.Breaker("probe failed, breaker reopened", "service", service)
		return
	}
	if b.state == StateClosed {
		b.failures++
		if b.failures >= bm.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = bm.now()
			bm.metrics.BreakerState.WithLabelValues(service).Set(2)
			bm.log.Breaker("breaker opened", "service", service, "failures", b.failures)
			bm.audit.LogBreakerOpened(ctx, service, b.failures)
		}
	}
}

// State returns the current state of the breaker for service.
func (bm *BreakerManager) State(service string) BreakerState {
	b := bm.get(service)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of every known breaker keyed by service name.
func (bm *BreakerManager) Stats() map[string]BreakerStats {
	bm.mu.Lock()
	names := make([]string, 0, len(bm.breakers))
	for name := range bm.breakers {
		names = append(names, name)
	}
	bm.mu.Unlock()

	out := make(map[string]BreakerStats, len(names))
	for _, name := range names {
		b := bm.get(name)
		b.mu.Lock()
		out[name] = BreakerStats{State: b.state.String(), Failures: b.failures}
		b.mu.Unlock()
	}
	return out
}
