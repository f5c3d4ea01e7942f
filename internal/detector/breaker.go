package detector

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// CircuitBreaker blocks detection cycles after a run of consecutive
// failures. Any success resets the run; an open breaker clears itself after
// the open window elapses.
type CircuitBreaker struct {
	mu                sync.Mutex
	threshold         int
	openFor           time.Duration
	consecutiveErrors int
	lastTrip          time.Time

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewCircuitBreaker builds a breaker. Metrics may be nil.
func NewCircuitBreaker(threshold int, openFor time.Duration, log *logger.Logger, m *metrics.Metrics) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold: threshold,
		openFor:   openFor,
		logger:    log.Named("circuit-breaker"),
		metrics:   m,
	}
}

// IsOpen reports whether cycles are currently blocked.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveErrors >= b.threshold && time.Since(b.lastTrip) < b.openFor
}

// RecordSuccess resets the failure run.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consecutiveErrors >= b.threshold {
		b.logger.Info("Circuit breaker closed after success")
	}
	b.consecutiveErrors = 0
}

// RecordFailure counts one failure, tripping the breaker at the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveErrors++
	if b.consecutiveErrors >= b.threshold {
		b.lastTrip = time.Now()
		b.logger.Warn("Circuit breaker open",
			zap.Int("consecutiveErrors", b.consecutiveErrors),
			zap.Duration("openFor", b.openFor))
		if b.metrics != nil {
			b.metrics.BreakerTrips.Inc()
		}
	}
}

// Failures returns the current consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveErrors
}
