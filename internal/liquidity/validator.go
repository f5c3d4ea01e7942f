// Package liquidity pre-filters opportunities against venue liquidity.
// It is a best-effort gate: on RPC trouble it prefers a false positive
// (downstream simulation still protects execution) over stalling the
// pipeline.
package liquidity

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// VenueRef identifies where liquidity is checked.
type VenueRef struct {
	Protocol string
	Chain    string
	Pool     string
}

// Config tunes the validator.
type Config struct {
	TTL          time.Duration `json:"ttl" yaml:"ttl"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	SafetyMargin float64       `json:"safety_margin" yaml:"safety_margin"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TTL:          30 * time.Second,
		FetchTimeout: 5 * time.Second,
		SafetyMargin: 1.10,
	}
}

// BalanceFetcher reads the asset balance held by a pool.
type BalanceFetcher interface {
	PoolBalance(ctx context.Context, chain, pool, asset string) (*big.Int, error)
}

type record struct {
	available  *big.Int
	expiresAt  time.Time
	successful bool
}

// Validator checks on-chain liquidity with a TTL cache and per-key request
// coalescing so a burst of checks costs one RPC round-trip.
type Validator struct {
	cfg     Config
	fetcher BalanceFetcher

	mu    sync.RWMutex
	cache map[string]*record

	flight singleflight.Group

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewValidator builds a validator. Metrics may be nil.
func NewValidator(cfg Config, fetcher BalanceFetcher, log *logger.Logger, m *metrics.Metrics) *Validator {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.SafetyMargin < 1 {
		cfg.SafetyMargin = 1.10
	}
	return &Validator{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   make(map[string]*record),
		logger:  log.Named("liquidity-validator"),
		metrics: m,
	}
}

func cacheKey(venue VenueRef, asset string) string {
	return strings.ToLower(venue.Protocol + "|" + venue.Chain + "|" + asset)
}

// CheckLiquidity reports whether the venue holds at least
// amount × safetyMargin of the asset. Any fetch failure or timeout yields
// true: this is a pre-filter, not an authority.
func (v *Validator) CheckLiquidity(ctx context.Context, venue VenueRef, asset string, amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return true
	}
	if v.fetcher == nil {
		v.gracefulTrue(venue, asset, "no fetcher configured")
		return true
	}

	key := cacheKey(venue, asset)
	if rec := v.getCached(key); rec != nil {
		if v.metrics != nil {
			v.metrics.LiquidityCacheHits.Inc()
		}
		if !rec.successful || rec.available == nil {
			v.gracefulTrue(venue, asset, "cached fetch failure")
			return true
		}
		return v.sufficient(rec.available, amount)
	}
	if v.metrics != nil {
		v.metrics.LiquidityCacheMisses.Inc()
	}

	ch := v.flight.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), v.cfg.FetchTimeout)
		defer cancel()
		balance, err := v.fetcher.PoolBalance(fetchCtx, venue.Chain, venue.Pool, asset)
		v.store(key, balance, err == nil)
		if err != nil {
			return nil, err
		}
		return balance, nil
	})

	select {
	case <-ctx.Done():
		// The fetch keeps running and will fill the cache for later calls.
		v.gracefulTrue(venue, asset, "caller cancelled")
		return true
	case res := <-ch:
		if res.Err != nil {
			v.gracefulTrue(venue, asset, res.Err.Error())
			return true
		}
		return v.sufficient(res.Val.(*big.Int), amount)
	}
}

// EstimateScore grades cached liquidity against an amount without touching
// the network. Unknown liquidity scores full confidence.
func (v *Validator) EstimateScore(venue VenueRef, asset string, amount *big.Int) float64 {
	if amount == nil || amount.Sign() <= 0 {
		return 1.0
	}
	rec := v.getCached(cacheKey(venue, asset))
	if rec == nil || !rec.successful || rec.available == nil {
		return 1.0
	}
	b, _ := new(big.Float).Quo(
		new(big.Float).SetInt(rec.available),
		new(big.Float).SetInt(amount),
	).Float64()
	switch {
	case b >= 2:
		return 1.0
	case b >= 1.1:
		return 0.9
	case b >= 1.0:
		return 0.7
	default:
		return 0.3
	}
}

// CachedLiquidity returns the unexpired cached balance for a key, or nil.
func (v *Validator) CachedLiquidity(venue VenueRef, asset string) *big.Int {
	rec := v.getCached(cacheKey(venue, asset))
	if rec == nil || !rec.successful {
		return nil
	}
	return rec.available
}

// ClearCache drops all cached balances.
func (v *Validator) ClearCache() {
	v.mu.Lock()
	v.cache = make(map[string]*record)
	v.mu.Unlock()
}

func (v *Validator) getCached(key string) *record {
	v.mu.RLock()
	rec, ok := v.cache[key]
	v.mu.RUnlock()
	if !ok || time.Now().After(rec.expiresAt) {
		return nil
	}
	return rec
}

func (v *Validator) store(key string, balance *big.Int, successful bool) {
	v.mu.Lock()
	v.cache[key] = &record{
		available:  balance,
		expiresAt:  time.Now().Add(v.cfg.TTL),
		successful: successful,
	}
	v.mu.Unlock()
}

// sufficient reports balance ≥ amount × safetyMargin.
func (v *Validator) sufficient(balance, amount *big.Int) bool {
	required := new(big.Float).Mul(
		new(big.Float).SetInt(amount),
		big.NewFloat(v.cfg.SafetyMargin),
	)
	bal := new(big.Float).SetInt(balance)
	return bal.Cmp(required) >= 0
}

func (v *Validator) gracefulTrue(venue VenueRef, asset string, reason string) {
	if v.metrics != nil {
		v.metrics.LiquidityGracefulTrue.Inc()
	}
	v.logger.Warn("Liquidity check degraded to pass",
		zap.String("protocol", venue.Protocol),
		zap.String("chain", venue.Chain),
		zap.String("asset", asset),
		zap.String("reason", reason))
}

// balanceOf(address)
var erc20BalanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// ChainFetcher reads ERC-20 pool balances through the provider registry.
type ChainFetcher struct {
	providers *blockchain.Registry
}

// NewChainFetcher wraps a provider registry.
func NewChainFetcher(providers *blockchain.Registry) *ChainFetcher {
	return &ChainFetcher{providers: providers}
}

// PoolBalance calls balanceOf(pool) on the asset contract.
func (f *ChainFetcher) PoolBalance(ctx context.Context, chain, pool, asset string) (*big.Int, error) {
	provider, ok := f.providers.GetByName(chain)
	if !ok {
		return nil, fmt.Errorf("no provider for chain %s", chain)
	}
	token := common.HexToAddress(asset)
	holder := common.HexToAddress(pool)

	data := make([]byte, 0, 36)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), 32)...)

	out, err := provider.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s on %s: %w", asset, chain, err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("balanceOf returned %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
