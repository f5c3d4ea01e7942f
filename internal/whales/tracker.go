// Package whales tracks large trades per token over a sliding window and
// signals the detector when flow is strong enough to warrant an immediate
// detection cycle.
package whales

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// Config tunes the tracker.
type Config struct {
	Window             time.Duration   `json:"window" yaml:"window"`
	SuperWhaleUsd      decimal.Decimal `json:"super_whale_usd" yaml:"super_whale_usd"`
	SignificantFlowUsd decimal.Decimal `json:"significant_flow_usd" yaml:"significant_flow_usd"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Window:             5 * time.Minute,
		SuperWhaleUsd:      decimal.NewFromInt(500000),
		SignificantFlowUsd: decimal.NewFromInt(100000),
	}
}

type trade struct {
	usdValue  decimal.Decimal
	direction models.TradeDirection
	at        time.Time
}

// Tracker keeps a rolling window of whale trades per canonical base token.
type Tracker struct {
	mu     sync.RWMutex
	cfg    Config
	trades map[string][]trade

	trigger chan string

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewTracker builds an empty tracker. Metrics may be nil in tests.
func NewTracker(cfg Config, log *logger.Logger, m *metrics.Metrics) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.SuperWhaleUsd.IsZero() {
		cfg.SuperWhaleUsd = decimal.NewFromInt(500000)
	}
	if cfg.SignificantFlowUsd.IsZero() {
		cfg.SignificantFlowUsd = decimal.NewFromInt(100000)
	}
	return &Tracker{
		cfg:     cfg,
		trades:  make(map[string][]trade),
		trigger: make(chan string, 1),
		logger:  log.Named("whale-tracker"),
		metrics: m,
	}
}

// Trigger delivers tokens whose whale flow demands an immediate detection
// cycle. Sends are coalesced; a pending trigger absorbs newer ones.
func (t *Tracker) Trigger() <-chan string {
	return t.trigger
}

// RecordTransaction ingests one whale trade.
func (t *Tracker) RecordTransaction(tx *models.WhaleTransaction) {
	if tx == nil || tx.Token == "" {
		return
	}
	token := models.BaseToken(tx.Token)
	now := time.Now()
	at := time.UnixMilli(tx.Timestamp)
	if tx.Timestamp == 0 {
		at = now
	}

	t.mu.Lock()
	window := t.pruneLocked(token, now)
	window = append(window, trade{usdValue: tx.UsdValue, direction: tx.Direction, at: at})
	t.trades[token] = window
	superWhale := tx.UsdValue.GreaterThanOrEqual(t.cfg.SuperWhaleUsd)
	netFlow := netFlowLocked(window)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.WhaleTransactions.Inc()
		if superWhale {
			t.metrics.SuperWhaleEvents.Inc()
		}
	}

	significantFlow := netFlow.Abs().GreaterThan(t.cfg.SignificantFlowUsd)
	if superWhale || significantFlow {
		t.fireTrigger(token)
		t.logger.Info("Whale flow trigger",
			zap.String("token", token),
			zap.Bool("superWhale", superWhale),
			zap.String("netFlowUsd", netFlow.String()))
	}
}

func (t *Tracker) fireTrigger(token string) {
	select {
	case t.trigger <- token:
	default:
	}
}

// GetActivitySummary aggregates the active window for one token.
func (t *Tracker) GetActivitySummary(token string) *models.WhaleActivitySummary {
	base := models.BaseToken(token)
	now := time.Now()

	t.mu.Lock()
	window := t.pruneLocked(base, now)
	t.trades[base] = window
	summary := summarise(base, window, t.cfg.SuperWhaleUsd)
	t.mu.Unlock()
	return summary
}

// Summaries returns the summary for every token with active whale flow.
func (t *Tracker) Summaries() map[string]*models.WhaleActivitySummary {
	now := time.Now()
	out := make(map[string]*models.WhaleActivitySummary)

	t.mu.Lock()
	for token := range t.trades {
		window := t.pruneLocked(token, now)
		if len(window) == 0 {
			delete(t.trades, token)
			continue
		}
		t.trades[token] = window
		out[token] = summarise(token, window, t.cfg.SuperWhaleUsd)
	}
	t.mu.Unlock()
	return out
}

// Clear drops all tracked flow.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.trades = make(map[string][]trade)
	t.mu.Unlock()
}

func (t *Tracker) pruneLocked(token string, now time.Time) []trade {
	window := t.trades[token]
	cutoff := now.Add(-t.cfg.Window)
	kept := window[:0]
	for _, tr := range window {
		if tr.at.After(cutoff) {
			kept = append(kept, tr)
		}
	}
	return kept
}

func netFlowLocked(window []trade) decimal.Decimal {
	net := decimal.Zero
	for _, tr := range window {
		if tr.direction == models.DirectionBuy {
			net = net.Add(tr.usdValue)
		} else {
			net = net.Sub(tr.usdValue)
		}
	}
	return net
}

var (
	bullishRatio = decimal.NewFromFloat(0.6)
	bearishRatio = decimal.NewFromFloat(0.4)
)

func summarise(token string, window []trade, superWhaleUsd decimal.Decimal) *models.WhaleActivitySummary {
	summary := &models.WhaleActivitySummary{
		Token:             token,
		BuyVolumeUsd:      decimal.Zero,
		SellVolumeUsd:     decimal.Zero,
		DominantDirection: models.BiasNeutral,
	}
	for _, tr := range window {
		if tr.direction == models.DirectionBuy {
			summary.BuyVolumeUsd = summary.BuyVolumeUsd.Add(tr.usdValue)
		} else {
			summary.SellVolumeUsd = summary.SellVolumeUsd.Add(tr.usdValue)
		}
		if tr.usdValue.GreaterThanOrEqual(superWhaleUsd) {
			summary.SuperWhaleCount++
		}
	}
	summary.NetFlowUsd = summary.BuyVolumeUsd.Sub(summary.SellVolumeUsd)
	summary.TotalVolumeUsd = summary.BuyVolumeUsd.Add(summary.SellVolumeUsd)

	// Exactly 0.6 and 0.4 stay neutral.
	if summary.TotalVolumeUsd.IsPositive() {
		ratio := summary.BuyVolumeUsd.Div(summary.TotalVolumeUsd)
		switch {
		case ratio.GreaterThan(bullishRatio):
			summary.DominantDirection = models.BiasBullish
		case ratio.LessThan(bearishRatio):
			summary.DominantDirection = models.BiasBearish
		}
	}
	return summary
}
