package execution

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// Abort codes surfaced by the gate. Everything else that goes wrong is
// advisory and the submission proceeds.
const (
	CodeSimulationRevert  = "ERR_SIMULATION_REVERT"
	CodeGasSpike          = "ERR_GAS_SPIKE"
	CodeProviderUnhealthy = "ERR_PROVIDER_UNHEALTHY"
)

// GateError is a typed abort from the submission gate.
type GateError struct {
	Code   string
	Detail string
}

func (e *GateError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// AsGateError unwraps err into a gate abort, if it is one.
func AsGateError(err error) (*GateError, bool) {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// GateConfig tunes the submission gate.
type GateConfig struct {
	GasWindowSize      int           `json:"gas_window_size" yaml:"gas_window_size"`
	GasMedianTTL       time.Duration `json:"gas_median_ttl" yaml:"gas_median_ttl"`
	GasPriceMultiplier float64       `json:"gas_price_multiplier" yaml:"gas_price_multiplier"`
	Account            common.Address
}

// DefaultGateConfig returns the production tuning.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		GasWindowSize:      defaultGasWindow,
		GasMedianTTL:       defaultGasMedianTTL,
		GasPriceMultiplier: 1.0,
	}
}

// GateStats are the gate's lifetime counters. Exactly one of performed or
// skipped increments per submission that reaches the simulation decision.
type GateStats struct {
	SimulationsPerformed int64
	SimulationsSkipped   int64
	SimulationErrors     int64
	PredictedReverts     int64
	GasSpikeAborts       int64
}

// Submission is a gate-approved transaction outline.
type Submission struct {
	ChainID     int64
	Account     common.Address
	Nonce       uint64
	GasPriceWei *big.Int
	AmountIn    *big.Int
	Simulated   bool
	Quote       *PathQuote
}

// Gate runs the pre-submission checks in order: profit-gated simulation,
// provider health, gas spike guard, nonce allocation.
type Gate struct {
	cfg      GateConfig
	registry *blockchain.Registry
	nonces   *blockchain.NonceManager
	sim      Simulator

	mu       sync.Mutex
	trackers map[string]*GasTracker
	stats    GateStats

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewGate builds a gate. A nil simulator records every submission as
// skipped. Non-finite numeric settings, which happen when an env var holds
// garbage, fall back to defaults with a warning.
func NewGate(cfg GateConfig, registry *blockchain.Registry, nonces *blockchain.NonceManager, sim Simulator, log *logger.Logger, m *metrics.Metrics) *Gate {
	def := DefaultGateConfig()
	log = log.Named("submission-gate")
	if math.IsNaN(cfg.GasPriceMultiplier) || math.IsInf(cfg.GasPriceMultiplier, 0) || cfg.GasPriceMultiplier <= 0 {
		log.Warn("Gas price multiplier is not finite, using default",
			zap.Float64("fallback", def.GasPriceMultiplier))
		cfg.GasPriceMultiplier = def.GasPriceMultiplier
	}
	if cfg.GasWindowSize <= 0 {
		cfg.GasWindowSize = def.GasWindowSize
	}
	if cfg.GasMedianTTL <= 0 {
		cfg.GasMedianTTL = def.GasMedianTTL
	}
	return &Gate{
		cfg:      cfg,
		registry: registry,
		nonces:   nonces,
		sim:      sim,
		trackers: make(map[string]*GasTracker),
		logger:   log,
		metrics:  m,
	}
}

// PrepareSubmission runs the gate for one opportunity. A nil nonce allocates
// the next one for the configured account; a non-nil nonce is used verbatim.
func (g *Gate) PrepareSubmission(ctx context.Context, op *models.ArbitrageOpportunity, amountIn *big.Int, nonce *uint64) (*Submission, error) {
	chain := op.BuyChain
	sub := &Submission{
		Account:  g.cfg.Account,
		AmountIn: amountIn,
	}

	res := g.runSimulation(ctx, op, amountIn)
	if res != nil {
		if res.WouldRevert {
			g.mu.Lock()
			g.stats.PredictedReverts++
			g.mu.Unlock()
			if g.metrics != nil {
				g.metrics.PredictedReverts.Inc()
			}
			return nil, &GateError{Code: CodeSimulationRevert, Detail: res.RevertReason}
		}
		if res.Success {
			sub.Quote = res.Quote
			sub.Simulated = true
		}
	}

	provider, ok := g.registry.GetByName(chain)
	if !ok || !provider.IsHealthy() {
		return nil, &GateError{Code: CodeProviderUnhealthy, Detail: "no healthy provider for " + chain}
	}
	sub.ChainID = provider.ChainID()

	gasWei, err := provider.SuggestGasPrice(ctx)
	if err != nil {
		g.logger.Warn("Gas price unavailable, skipping spike guard",
			zap.String("chain", chain),
			zap.Error(err))
		gasWei = nil
	} else {
		gwei := weiToGwei(gasWei)
		baseline, ratio, spike := g.trackerFor(chain).Observe(gwei)
		if spike {
			g.mu.Lock()
			g.stats.GasSpikeAborts++
			g.mu.Unlock()
			if g.metrics != nil {
				g.metrics.GasSpikeAborts.Inc()
			}
			return nil, &GateError{
				Code: CodeGasSpike,
				Detail: fmt.Sprintf("%s gwei vs baseline %s gwei (%.2fx)",
					formatGwei(gwei), formatGwei(baseline), ratio),
			}
		}
		gasWei = scaleGasPrice(gasWei, g.cfg.GasPriceMultiplier)
	}
	sub.GasPriceWei = gasWei

	if nonce != nil {
		sub.Nonce = *nonce
	} else {
		next, err := g.nonces.Next(ctx, provider, g.cfg.Account)
		if err != nil {
			return nil, fmt.Errorf("allocate nonce on %s: %w", chain, err)
		}
		sub.Nonce = next
	}
	return sub, nil
}

// runSimulation applies the simulation policy. Exactly one of performed or
// skipped counts per call; nil means the simulation was skipped.
func (g *Gate) runSimulation(ctx context.Context, op *models.ArbitrageOpportunity, amountIn *big.Int) *SimulationResult {
	skip := func(why string) {
		g.mu.Lock()
		g.stats.SimulationsSkipped++
		g.mu.Unlock()
		if g.metrics != nil {
			g.metrics.SimulationsSkipped.Inc()
		}
		g.logger.Debug("Simulation skipped",
			zap.String("opportunity", op.ID),
			zap.String("reason", why))
	}

	if g.sim == nil {
		skip("no simulator configured")
		return nil
	}
	profitUsd, _ := op.NetProfit.Float64()
	age := time.Duration(time.Now().UnixMilli()-op.Timestamp) * time.Millisecond
	if !g.sim.ShouldSimulate(profitUsd, age) {
		skip("below profit floor or stale")
		return nil
	}

	g.mu.Lock()
	g.stats.SimulationsPerformed++
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.SimulationsRun.Inc()
	}

	res := g.sim.Simulate(ctx, op, amountIn)
	if res == nil {
		res = &SimulationResult{Err: "simulator returned no result"}
	}
	if !res.Success && !res.WouldRevert {
		// Simulation is advisory. An unreachable provider must not veto
		// the trade.
		g.mu.Lock()
		g.stats.SimulationErrors++
		g.mu.Unlock()
		if g.metrics != nil {
			g.metrics.SimulationErrors.Inc()
		}
		g.logger.Warn("Simulation failed, proceeding without it",
			zap.String("opportunity", op.ID),
			zap.String("error", res.Err))
	}
	return res
}

// Submit hands a signed transaction to the chain's provider. Reverts with
// a known executor error selector surface by name.
func (g *Gate) Submit(ctx context.Context, chain string, tx *types.Transaction) error {
	provider, ok := g.registry.GetByName(chain)
	if !ok {
		return fmt.Errorf("no provider registered for %s", chain)
	}
	if err := provider.SendTransaction(ctx, tx); err != nil {
		if reason, reverted := revertReason(err); reverted {
			return fmt.Errorf("submission reverted: %s", reason)
		}
		return err
	}
	if g.metrics != nil {
		g.metrics.SubmissionsSent.Inc()
	}
	g.logger.Info("Transaction submitted",
		zap.String("chain", chain),
		zap.String("hash", tx.Hash().Hex()))
	return nil
}

// Stats returns a copy of the lifetime counters.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// GasBaseline reports the cached median for a chain, zero when unknown.
func (g *Gate) GasBaseline(chain string) float64 {
	g.mu.Lock()
	tracker := g.trackers[strings.ToLower(chain)]
	g.mu.Unlock()
	if tracker == nil {
		return 0
	}
	return tracker.Median()
}

// SeedGasHistory preloads a chain's gas window, for warm starts.
func (g *Gate) SeedGasHistory(chain string, gwei ...float64) {
	tracker := g.trackerFor(chain)
	for _, v := range gwei {
		tracker.Record(v)
	}
}

func (g *Gate) trackerFor(chain string) *GasTracker {
	chain = strings.ToLower(chain)
	g.mu.Lock()
	defer g.mu.Unlock()
	tracker := g.trackers[chain]
	if tracker == nil {
		tracker = NewGasTracker(g.cfg.GasWindowSize, g.cfg.GasMedianTTL)
		g.trackers[chain] = tracker
	}
	return tracker
}

func weiToGwei(wei *big.Int) float64 {
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return gwei
}

func formatGwei(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func scaleGasPrice(wei *big.Int, multiplier float64) *big.Int {
	if wei == nil || multiplier == 1 {
		return wei
	}
	scaled, _ := new(big.Float).Mul(new(big.Float).SetInt(wei), big.NewFloat(multiplier)).Int(nil)
	return scaled
}

// Named custom errors from the executor contracts, keyed by selector.
var customErrorNames = buildCustomErrorTable(
	"InsufficientProfit()",
	"UnprofitableTrade()",
	"DeadlineExpired()",
	"ExcessiveSlippage()",
	"InsufficientLiquidity()",
	"Unauthorized()",
)

func buildCustomErrorTable(signatures ...string) map[[4]byte]string {
	table := make(map[[4]byte]string, len(signatures))
	for _, sig := range signatures {
		var sel [4]byte
		copy(sel[:], crypto.Keccak256([]byte(sig)))
		table[sel] = strings.TrimSuffix(sig, "()")
	}
	return table
}

// revertReason extracts a readable reason when err is a predicted revert.
// It reports false for infrastructure errors so callers can proceed.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if data := revertData(de.ErrorData()); len(data) > 0 {
			if reason, uerr := abi.UnpackRevert(data); uerr == nil {
				return reason, true
			}
			if len(data) >= 4 {
				var sel [4]byte
				copy(sel[:], data)
				if name, ok := customErrorNames[sel]; ok {
					return name, true
				}
				return "custom error 0x" + hex.EncodeToString(data[:4]), true
			}
			return "0x" + hex.EncodeToString(data), true
		}
	}

	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimPrefix(msg[idx:], "execution reverted")
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
		if reason == "" {
			reason = "execution reverted"
		}
		return reason, true
	}
	return "", false
}

func revertData(data interface{}) []byte {
	switch v := data.(type) {
	case string:
		if b, err := hexutil.Decode(v); err == nil {
			return b
		}
	case []byte:
		return v
	}
	return nil
}
