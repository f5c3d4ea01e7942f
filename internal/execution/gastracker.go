package execution

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	defaultGasWindow    = 10
	defaultGasMedianTTL = 60 * time.Second

	// Spike when price*100 > baseline*200. Exactly twice the baseline is
	// still allowed.
	gasSpikeNumerator   = 100
	gasSpikeDenominator = 200

	// Too few samples and the median is noise, not a baseline.
	minGasSamples = 3
)

// GasTracker keeps a rolling window of observed gas prices in gwei and a
// median baseline that is only recomputed after a TTL, so a burst of spiky
// samples cannot drag the baseline up mid-burst.
type GasTracker struct {
	mu         sync.Mutex
	window     []float64
	size       int
	medianTTL  time.Duration
	baseline   float64
	baselineAt time.Time
}

// NewGasTracker builds a tracker with the given window size and baseline TTL.
func NewGasTracker(size int, medianTTL time.Duration) *GasTracker {
	if size <= 0 {
		size = defaultGasWindow
	}
	if medianTTL <= 0 {
		medianTTL = defaultGasMedianTTL
	}
	return &GasTracker{
		window:    make([]float64, 0, size),
		size:      size,
		medianTTL: medianTTL,
	}
}

// Record adds an observation without a spike check, for seeding history.
func (t *GasTracker) Record(gwei float64) {
	t.mu.Lock()
	t.recordLocked(gwei)
	t.mu.Unlock()
}

// Observe checks gwei against the cached baseline and then records it.
// spike is false until enough history exists.
func (t *GasTracker) Observe(gwei float64) (baseline, ratio float64, spike bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	baseline = t.baselineLocked()
	if baseline > 0 && len(t.window) >= minGasSamples {
		ratio = gwei / baseline
		spike = gwei*gasSpikeNumerator > baseline*gasSpikeDenominator
	}
	t.recordLocked(gwei)
	return baseline, ratio, spike
}

// Median returns the current baseline, refreshing it if stale.
func (t *GasTracker) Median() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baselineLocked()
}

func (t *GasTracker) recordLocked(gwei float64) {
	if gwei <= 0 || math.IsNaN(gwei) || math.IsInf(gwei, 0) {
		return
	}
	t.window = append(t.window, gwei)
	if len(t.window) > t.size {
		t.window = t.window[len(t.window)-t.size:]
	}
}

func (t *GasTracker) baselineLocked() float64 {
	now := time.Now()
	if !t.baselineAt.IsZero() && now.Sub(t.baselineAt) < t.medianTTL {
		return t.baseline
	}
	if len(t.window) == 0 {
		return 0
	}
	sorted := make([]float64, len(t.window))
	copy(sorted, t.window)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		t.baseline = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		t.baseline = sorted[mid]
	}
	t.baselineAt = now
	return t.baseline
}
