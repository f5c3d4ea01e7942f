// Package publisher normalises detected opportunities to their wire shape,
// dedupes them over a short window and appends them to the bus.
package publisher

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/redis"
)

// Bus is the append-only surface the publisher needs from the stream bus.
type Bus interface {
	Append(ctx context.Context, stream string, maxLen int64, payload any) (string, error)
}

// Config tunes deduplication and stream bounds.
type Config struct {
	TTL                  time.Duration `json:"ttl" yaml:"ttl"`
	MinProfitImprovement float64       `json:"min_profit_improvement" yaml:"min_profit_improvement"`
	MaxCacheSize         int           `json:"max_cache_size" yaml:"max_cache_size"`
	StreamMaxLen         int64         `json:"stream_max_len" yaml:"stream_max_len"`
	DefaultTradeSizeUsd  float64       `json:"default_trade_size_usd" yaml:"default_trade_size_usd"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TTL:                  5 * time.Second,
		MinProfitImprovement: 0.10,
		MaxCacheSize:         1000,
		StreamMaxLen:         models.DefaultOpportunityMaxLen,
		DefaultTradeSizeUsd:  10000,
	}
}

type dedupeEntry struct {
	lastNetProfit decimal.Decimal
	firstSeenAt   time.Time
}

// Publisher dedupes opportunities on hash(sourceChain, targetChain, token).
// Venue is intentionally excluded, so the same route found on another DEX
// within the window is suppressed unless clearly more profitable.
type Publisher struct {
	cfg Config
	bus Bus

	mu   sync.Mutex
	seen map[uint64]*dedupeEntry

	logger  *logger.Logger
	metrics *metrics.Metrics
}

var _ Bus = (*redis.StreamBus)(nil)

// NewPublisher builds a publisher. Metrics may be nil.
func NewPublisher(cfg Config, bus Bus, log *logger.Logger, m *metrics.Metrics) *Publisher {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.MinProfitImprovement <= 0 {
		cfg.MinProfitImprovement = 0.10
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 1000
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = models.DefaultOpportunityMaxLen
	}
	if cfg.DefaultTradeSizeUsd <= 0 {
		cfg.DefaultTradeSizeUsd = 10000
	}
	return &Publisher{
		cfg:     cfg,
		bus:     bus,
		seen:    make(map[uint64]*dedupeEntry),
		logger:  log.Named("opportunity-publisher"),
		metrics: m,
	}
}

// Publish enriches, dedupes and appends one opportunity. It reports whether
// the record reached the bus.
func (p *Publisher) Publish(ctx context.Context, op *models.ArbitrageOpportunity) bool {
	if op == nil {
		return false
	}
	p.enrich(op)

	key := dedupeKey(op)
	if !p.admit(key, op.NetProfit) {
		if p.metrics != nil {
			p.metrics.OpportunitiesDeduped.Inc()
		}
		p.logger.Debug("Opportunity deduped",
			zap.String("route", op.BuyChain+"|"+op.SellChain),
			zap.Uint64("key", key))
		return false
	}

	stream := models.StreamOpportunities
	if op.Type == models.OpportunityStatistical {
		stream = models.StreamStatisticalOpps
	}
	if _, err := p.bus.Append(ctx, stream, p.cfg.StreamMaxLen, op); err != nil {
		p.logger.Error("Failed to append opportunity",
			zap.String("id", op.ID),
			zap.Error(err))
		p.forget(key)
		return false
	}

	if p.metrics != nil {
		p.metrics.OpportunitiesPublished.WithLabelValues(string(op.Type)).Inc()
	}
	p.logger.Info("Published opportunity",
		zap.String("id", op.ID),
		zap.String("type", string(op.Type)),
		zap.String("buyChain", op.BuyChain),
		zap.String("sellChain", op.SellChain),
		zap.String("netProfit", op.NetProfit.String()))
	return true
}

// admit applies the dedupe rule and claims the key on success.
func (p *Publisher) admit(key uint64, netProfit decimal.Decimal) bool {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.seen[key]
	if ok && now.Sub(entry.firstSeenAt) > p.cfg.TTL {
		delete(p.seen, key)
		ok = false
	}
	if !ok {
		p.seen[key] = &dedupeEntry{lastNetProfit: netProfit, firstSeenAt: now}
		if len(p.seen) > p.cfg.MaxCacheSize {
			p.trimLocked(now)
		}
		return true
	}

	improvement := profitImprovement(entry.lastNetProfit, netProfit)
	if improvement.LessThan(decimal.NewFromFloat(p.cfg.MinProfitImprovement)) {
		return false
	}
	entry.lastNetProfit = netProfit
	return true
}

// profitImprovement handles non-positive baselines: any gain over a zero or
// negative baseline counts as a full improvement.
func profitImprovement(existing, latest decimal.Decimal) decimal.Decimal {
	if existing.IsPositive() {
		return latest.Sub(existing).Div(existing)
	}
	if latest.GreaterThan(existing) {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

func (p *Publisher) forget(key uint64) {
	p.mu.Lock()
	delete(p.seen, key)
	p.mu.Unlock()
}

// Cleanup drops expired dedupe entries and enforces the size bound.
func (p *Publisher) Cleanup() {
	now := time.Now()
	p.mu.Lock()
	for key, entry := range p.seen {
		if now.Sub(entry.firstSeenAt) > p.cfg.TTL {
			delete(p.seen, key)
		}
	}
	if len(p.seen) > p.cfg.MaxCacheSize {
		p.trimLocked(now)
	}
	p.mu.Unlock()
}

// trimLocked removes oldest-first until the cache fits.
func (p *Publisher) trimLocked(now time.Time) {
	type aged struct {
		key uint64
		at  time.Time
	}
	entries := make([]aged, 0, len(p.seen))
	for key, entry := range p.seen {
		entries = append(entries, aged{key: key, at: entry.firstSeenAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries {
		if len(p.seen) <= p.cfg.MaxCacheSize {
			break
		}
		delete(p.seen, e.key)
	}
}

// Clear wipes the dedupe state.
func (p *Publisher) Clear() {
	p.mu.Lock()
	p.seen = make(map[uint64]*dedupeEntry)
	p.mu.Unlock()
}

// CacheSize returns the number of live dedupe entries.
func (p *Publisher) CacheSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func dedupeKey(op *models.ArbitrageOpportunity) uint64 {
	token := op.PairKey
	if token == "" {
		token = op.TokenIn + "_" + op.TokenOut
	}
	h := fnv.New64a()
	h.Write([]byte(op.BuyChain))
	h.Write([]byte{'|'})
	h.Write([]byte(op.SellChain))
	h.Write([]byte{'|'})
	h.Write([]byte(models.NormalisePairKey(token)))
	return h.Sum64()
}

// enrich fills the wire fields detection leaves empty.
func (p *Publisher) enrich(op *models.ArbitrageOpportunity) {
	if op.Type == "" {
		op.Type = models.OpportunityCrossChain
	}
	if op.Timestamp == 0 {
		op.Timestamp = time.Now().UnixMilli()
	}
	if op.ID == "" {
		op.ID = fmt.Sprintf("%s-%d-%s", op.Type, op.Timestamp, uuid.NewString()[:8])
	}
	if op.TokenIn == "" || op.TokenOut == "" {
		base, quote := models.ParseTokenPair(op.PairKey)
		if op.TokenIn == "" {
			op.TokenIn = base
		}
		if op.TokenOut == "" {
			op.TokenOut = quote
		}
	}
	switch op.Type {
	case models.OpportunityCrossChain:
		op.BridgeRequired = op.BuyChain != op.SellChain
	case models.OpportunityIntraChain:
		op.BridgeRequired = false
		op.BridgeCost = decimal.Zero
	}
	// Trade size in source tokens scales the expected profit.
	if op.ExpectedProfit.IsZero() && op.BuyPrice > 0 && op.PercentageDiff > 0 {
		amountInTokens := decimal.NewFromFloat(p.cfg.DefaultTradeSizeUsd).
			Div(decimal.NewFromFloat(op.BuyPrice))
		op.ExpectedProfit = decimal.NewFromFloat(op.PercentageDiff).Mul(amountInTokens)
		if op.AmountIn.IsZero() {
			op.AmountIn = amountInTokens
		}
	}
}
