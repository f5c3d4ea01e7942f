// Package detector runs the detection cycles that turn price snapshots,
// whale summaries and pending swap intents into arbitrage opportunities.
package detector

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/config"
	"github.com/sonicx222/arbitrage-new-sub012/internal/liquidity"
	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/internal/pricing"
	"github.com/sonicx222/arbitrage-new-sub012/internal/publisher"
	"github.com/sonicx222/arbitrage-new-sub012/internal/whales"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// Config tunes the detector.
type Config struct {
	Interval              time.Duration `json:"interval" yaml:"interval"`
	TradeSizeUsd          float64       `json:"trade_size_usd" yaml:"trade_size_usd"`
	LiquidityFloor        float64       `json:"liquidity_floor" yaml:"liquidity_floor"`
	MinPendingPriceDiff   float64       `json:"min_pending_price_diff" yaml:"min_pending_price_diff"`
	PendingDeadlineBuffer time.Duration `json:"pending_deadline_buffer" yaml:"pending_deadline_buffer"`
	MinPendingAmountWei   *big.Int      `json:"-" yaml:"-"`
	SignificantFlowUsd    float64       `json:"significant_flow_usd" yaml:"significant_flow_usd"`
	BreakerThreshold      int           `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerOpenFor        time.Duration `json:"breaker_open_for" yaml:"breaker_open_for"`
	CrossChainEnabled     bool          `json:"cross_chain_enabled" yaml:"cross_chain_enabled"`
	TriangularEnabled     bool          `json:"triangular_enabled" yaml:"triangular_enabled"`
	MaxTriangularDepth    int           `json:"max_triangular_depth" yaml:"max_triangular_depth"`
	MinProfitPercent      float64       `json:"min_profit_percent" yaml:"min_profit_percent"`
	PendingBuffer         int           `json:"pending_buffer" yaml:"pending_buffer"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Interval:              time.Second,
		TradeSizeUsd:          10000,
		LiquidityFloor:        0.5,
		MinPendingPriceDiff:   0.005,
		PendingDeadlineBuffer: 30 * time.Second,
		MinPendingAmountWei:   new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil), // 0.01 ether
		SignificantFlowUsd:    100000,
		BreakerThreshold:      5,
		BreakerOpenFor:        30 * time.Second,
		CrossChainEnabled:     true,
		TriangularEnabled:     true,
		MaxTriangularDepth:    3,
		MinProfitPercent:      0.3,
		PendingBuffer:         256,
	}
}

// Stats is a point-in-time view of the detector's counters.
type Stats struct {
	DetectionCount int64
	SkippedCount   int64
}

// Detector owns the detection loop. One cycle runs at a time; triggers that
// arrive while a cycle is in flight are skipped, not queued.
type Detector struct {
	cfg    Config
	store  *pricing.Store
	whales *whales.Tracker
	liq    *liquidity.Validator
	pub    *publisher.Publisher
	chains *config.ChainsConfig

	breaker *CircuitBreaker

	mu             sync.Mutex
	isDetecting    bool
	detectionCount int64
	skippedCount   int64

	pendingCh chan *models.PendingSwapIntent

	runMu     sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewDetector wires the detector to its collaborators. Metrics may be nil.
func NewDetector(
	cfg Config,
	store *pricing.Store,
	tracker *whales.Tracker,
	liq *liquidity.Validator,
	pub *publisher.Publisher,
	chains *config.ChainsConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.TradeSizeUsd <= 0 {
		cfg.TradeSizeUsd = 10000
	}
	if cfg.MinPendingPriceDiff <= 0 {
		cfg.MinPendingPriceDiff = 0.005
	}
	if cfg.PendingDeadlineBuffer <= 0 {
		cfg.PendingDeadlineBuffer = 30 * time.Second
	}
	if cfg.MinPendingAmountWei == nil {
		cfg.MinPendingAmountWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	}
	if cfg.SignificantFlowUsd <= 0 {
		cfg.SignificantFlowUsd = 100000
	}
	if cfg.MaxTriangularDepth < 2 {
		cfg.MaxTriangularDepth = 3
	}
	if cfg.PendingBuffer <= 0 {
		cfg.PendingBuffer = 256
	}
	return &Detector{
		cfg:       cfg,
		store:     store,
		whales:    tracker,
		liq:       liq,
		pub:       pub,
		chains:    chains,
		breaker:   NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerOpenFor, log, m),
		pendingCh: make(chan *models.PendingSwapIntent, cfg.PendingBuffer),
		stopCh:    make(chan struct{}),
		logger:    log.Named("cross-chain-detector"),
		metrics:   m,
	}
}

// Start launches the detection loop.
func (d *Detector) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.isRunning {
		return fmt.Errorf("detector already running")
	}
	d.isRunning = true

	d.wg.Add(1)
	go d.loop(ctx)
	d.logger.Info("Detection loop started",
		zap.Duration("interval", d.cfg.Interval),
		zap.Bool("crossChain", d.cfg.CrossChainEnabled),
		zap.Bool("triangular", d.cfg.TriangularEnabled))
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish. It is
// safe to call more than once.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	d.runMu.Lock()
	d.isRunning = false
	d.runMu.Unlock()
}

func (d *Detector) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.RunCycle(ctx, false)
		case token := <-d.whales.Trigger():
			d.logger.Debug("Detection cycle forced by whale flow",
				zap.String("token", token))
			d.RunCycle(ctx, true)
		}
	}
}

// QueuePendingIntent hands a decoded intent to the next cycle. A full
// buffer blocks the caller, which is the intended back-pressure on the
// ingress worker.
func (d *Detector) QueuePendingIntent(ctx context.Context, intent *models.PendingSwapIntent) error {
	select {
	case d.pendingCh <- intent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCycle executes one detection cycle unless the breaker is open or a
// cycle is already in flight. It reports whether a cycle actually ran.
func (d *Detector) RunCycle(ctx context.Context, whaleForced bool) bool {
	if d.breaker.IsOpen() {
		d.noteSkip()
		return false
	}

	d.mu.Lock()
	if d.isDetecting {
		d.mu.Unlock()
		d.noteSkip()
		return false
	}
	d.isDetecting = true
	d.mu.Unlock()

	start := time.Now()
	published, err := d.cycle(ctx, whaleForced)

	d.mu.Lock()
	d.isDetecting = false
	d.detectionCount++
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.DetectionCycles.Inc()
		d.metrics.DetectionDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	}

	if err != nil {
		d.breaker.RecordFailure()
		if d.metrics != nil {
			d.metrics.DetectionErrors.Inc()
		}
		d.logger.Error("Detection cycle failed", zap.Error(err))
		return true
	}

	d.breaker.RecordSuccess()
	if published > 0 {
		d.logger.Info("Detection cycle complete",
			zap.Int("published", published),
			zap.Duration("took", time.Since(start)))
	}
	return true
}

func (d *Detector) noteSkip() {
	d.mu.Lock()
	d.skippedCount++
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.DetectionSkipped.Inc()
	}
}

// Stats returns the cycle counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{DetectionCount: d.detectionCount, SkippedCount: d.skippedCount}
}

// Breaker exposes the circuit breaker for health reporting.
func (d *Detector) Breaker() *CircuitBreaker {
	return d.breaker
}

func (d *Detector) cycle(ctx context.Context, whaleForced bool) (published int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("detection cycle panic: %v", rec)
		}
	}()

	snapshot := d.store.CreateIndexedSnapshot()
	summaries := d.whales.Summaries()

	var candidates []*models.ArbitrageOpportunity
	if d.cfg.CrossChainEnabled {
		candidates = append(candidates, d.scanCrossChain(snapshot, summaries, whaleForced)...)
	}
	candidates = append(candidates, d.enrichPending(snapshot, d.drainPending())...)
	if d.cfg.TriangularEnabled {
		candidates = append(candidates, d.scanTriangular(snapshot)...)
	}

	if len(candidates) == 0 {
		return 0, nil
	}
	if d.metrics != nil {
		d.metrics.OpportunitiesFound.Add(float64(len(candidates)))
	}
	sortCandidates(candidates)

	for _, op := range candidates {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if d.pub.Publish(ctx, op) {
			published++
		}
	}
	return published, nil
}

// scanCrossChain finds, per eligible token pair, the widest buy-low /
// sell-high spread across chains in one pass and scores it.
func (d *Detector) scanCrossChain(
	snapshot *models.IndexedSnapshot,
	summaries map[string]*models.WhaleActivitySummary,
	whaleForced bool,
) []*models.ArbitrageOpportunity {
	var out []*models.ArbitrageOpportunity

	for _, pair := range snapshot.TokenPairs {
		points := snapshot.ByToken[pair]

		var minP, maxP *models.PricePoint
		for i := range points {
			p := &points[i]
			if p.Price <= 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
				continue
			}
			if minP == nil || p.Price < minP.Price {
				minP = p
			}
			if maxP == nil || p.Price > maxP.Price {
				maxP = p
			}
		}
		if minP == nil || maxP == nil || maxP.Price-minP.Price <= 0 || minP.Chain == maxP.Chain {
			continue
		}

		diff := (maxP.Price - minP.Price) / minP.Price
		if diff < d.chains.MinProfit(minP.Chain) {
			continue
		}

		bridgeCost := d.chains.BridgeCostUsd(minP.Chain, maxP.Chain)
		gasCosts := d.chains.GasEstimateUsd(minP.Chain) + d.chains.GasEstimateUsd(maxP.Chain)
		gross := diff * d.cfg.TradeSizeUsd
		net := gross - bridgeCost - gasCosts
		if net <= 0 {
			continue
		}

		if d.liq != nil {
			amount := tokensToWei(d.cfg.TradeSizeUsd / minP.Price)
			score := d.liq.EstimateScore(liquidity.VenueRef{
				Protocol: minP.Venue,
				Chain:    minP.Chain,
			}, models.BaseToken(pair), amount)
			if score < d.cfg.LiquidityFloor {
				continue
			}
		}

		confidence := d.scoreConfidence(diff, summaries[models.BaseToken(pair)])

		out = append(out, &models.ArbitrageOpportunity{
			Type:           models.OpportunityCrossChain,
			BuyChain:       minP.Chain,
			SellChain:      maxP.Chain,
			BuyVenue:       minP.Venue,
			SellVenue:      maxP.Venue,
			PairKey:        pair,
			BuyPrice:       minP.Price,
			SellPrice:      maxP.Price,
			PercentageDiff: diff,
			BridgeCost:     decimal.NewFromFloat(bridgeCost),
			GasCost:        decimal.NewFromFloat(gasCosts),
			NetProfit:      decimal.NewFromFloat(net),
			Confidence:     confidence,
			WhaleTriggered: whaleForced,
		})
	}
	return out
}

// scoreConfidence derives the base confidence from spread strength, then
// applies the whale multipliers in fixed order: direction bias, super
// whales, significant net flow.
func (d *Detector) scoreConfidence(diff float64, summary *models.WhaleActivitySummary) float64 {
	confidence := 0.5 + diff*25
	if confidence > 0.9 {
		confidence = 0.9
	}

	if summary != nil {
		switch summary.DominantDirection {
		case models.BiasBullish:
			confidence *= 1.15
		case models.BiasBearish:
			confidence *= 0.85
		}
		if summary.SuperWhaleCount > 0 {
			confidence *= 1.25
		}
		if summary.NetFlowUsd.Abs().GreaterThan(decimal.NewFromFloat(d.cfg.SignificantFlowUsd)) {
			confidence *= 1.10
		}
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

func (d *Detector) drainPending() []*models.PendingSwapIntent {
	var intents []*models.PendingSwapIntent
	for {
		select {
		case intent := <-d.pendingCh:
			intents = append(intents, intent)
		default:
			return intents
		}
	}
}

func sortCandidates(ops []*models.ArbitrageOpportunity) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].WhaleTriggered != ops[j].WhaleTriggered {
			return ops[i].WhaleTriggered
		}
		return ops[i].NetProfit.GreaterThan(ops[j].NetProfit)
	})
}

// tokensToWei converts a token amount to 18-decimals raw units.
func tokensToWei(amount float64) *big.Int {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return big.NewInt(0)
	}
	wei, _ := new(big.Float).Mul(
		big.NewFloat(amount),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
	).Int(nil)
	return wei
}
