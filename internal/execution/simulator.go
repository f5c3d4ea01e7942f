package execution

import (
	"context"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// SimulatorConfig tunes the pre-submission simulation policy.
type SimulatorConfig struct {
	MinProfitUsd      float64       `json:"min_profit_usd" yaml:"min_profit_usd"`
	MaxOpportunityAge time.Duration `json:"max_opportunity_age" yaml:"max_opportunity_age"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultSimulatorConfig returns the production tuning.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		MinProfitUsd:      50,
		MaxOpportunityAge: time.Second,
		Timeout:           30 * time.Second,
	}
}

// SimulationResult is one simulation outcome. Success and WouldRevert are
// independent: a call can execute fine and still predict an on-chain revert.
type SimulationResult struct {
	Success      bool
	WouldRevert  bool
	RevertReason string
	GasUsed      uint64
	LatencyMs    int64
	Err          string
	Quote        *PathQuote
}

// Simulator decides whether a submission is worth an eth_call round trip
// and runs it.
type Simulator interface {
	ShouldSimulate(expectedProfitUsd float64, age time.Duration) bool
	Simulate(ctx context.Context, op *models.ArbitrageOpportunity, amountIn *big.Int) *SimulationResult
}

// PathSimulator simulates by quoting the full arbitrage path through the
// batch quoter service.
type PathSimulator struct {
	cfg    SimulatorConfig
	quoter *BatchQuoterService
	logger *logger.Logger
}

// NewPathSimulator builds the default simulator. Non-finite numeric
// settings, which happen when an env var holds garbage, fall back to
// defaults with a warning.
func NewPathSimulator(cfg SimulatorConfig, quoter *BatchQuoterService, log *logger.Logger) *PathSimulator {
	def := DefaultSimulatorConfig()
	log = log.Named("path-simulator")
	if math.IsNaN(cfg.MinProfitUsd) || math.IsInf(cfg.MinProfitUsd, 0) || cfg.MinProfitUsd < 0 {
		log.Warn("Simulation profit floor is not finite, using default",
			zap.Float64("fallback", def.MinProfitUsd))
		cfg.MinProfitUsd = def.MinProfitUsd
	}
	if cfg.MaxOpportunityAge <= 0 {
		cfg.MaxOpportunityAge = def.MaxOpportunityAge
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &PathSimulator{cfg: cfg, quoter: quoter, logger: log}
}

// ShouldSimulate gates the eth_call on profit and freshness. Small or stale
// opportunities are not worth the round trip.
func (s *PathSimulator) ShouldSimulate(expectedProfitUsd float64, age time.Duration) bool {
	return expectedProfitUsd >= s.cfg.MinProfitUsd && age < s.cfg.MaxOpportunityAge
}

// Simulate quotes the path and classifies the outcome. Revert data in the
// error marks a predicted revert; anything else is an infrastructure
// failure the caller may ignore.
func (s *PathSimulator) Simulate(ctx context.Context, op *models.ArbitrageOpportunity, amountIn *big.Int) *SimulationResult {
	start := time.Now()
	simCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	quote, err := s.quoter.SimulateArbitragePath(simCtx, op, amountIn)
	res := &SimulationResult{LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		if reason, reverted := revertReason(err); reverted {
			res.Success = true
			res.WouldRevert = true
			res.RevertReason = reason
			return res
		}
		res.Err = err.Error()
		return res
	}
	res.Success = true
	res.Quote = quote
	return res
}
