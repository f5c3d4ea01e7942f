package execution

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub012/internal/config"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

func TestShouldSimulateBoundaries(t *testing.T) {
	sim := NewPathSimulator(DefaultSimulatorConfig(), nil, logger.NewNop())

	// The profit floor is inclusive, the age limit is not.
	assert.True(t, sim.ShouldSimulate(50, 0))
	assert.False(t, sim.ShouldSimulate(49.99, 0))
	assert.True(t, sim.ShouldSimulate(100, time.Second-time.Millisecond))
	assert.False(t, sim.ShouldSimulate(100, time.Second))
}

func TestNewPathSimulatorFallsBackOnGarbageConfig(t *testing.T) {
	sim := NewPathSimulator(SimulatorConfig{MinProfitUsd: math.NaN()}, nil, logger.NewNop())
	assert.True(t, sim.ShouldSimulate(50, 0))
	assert.False(t, sim.ShouldSimulate(49, 0))
}

func TestSimulateClassifiesInfrastructureErrors(t *testing.T) {
	provider := newFakeProvider(1)
	provider.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	}
	svc := newQuoterService(false, config.DefaultChains(), provider)
	sim := NewPathSimulator(DefaultSimulatorConfig(), svc, logger.NewNop())

	res := sim.Simulate(context.Background(), quotableOp(), big.NewInt(1e18))
	assert.False(t, res.Success)
	assert.False(t, res.WouldRevert)
	assert.Contains(t, res.Err, "connection refused")
}

func TestSimulateReturnsQuoteOnSuccess(t *testing.T) {
	provider := newFakeProvider(1)
	provider.callFn = func(msg ethereum.CallMsg) ([]byte, error) {
		vals, err := getAmountsOutArgs.Unpack(msg.Data[4:])
		require.NoError(t, err)
		in := vals[0].(*big.Int)
		return packAmountsOut(t, []*big.Int{in, new(big.Int).Add(in, big.NewInt(1))}), nil
	}
	svc := newQuoterService(false, config.DefaultChains(), provider)
	sim := NewPathSimulator(DefaultSimulatorConfig(), svc, logger.NewNop())

	res := sim.Simulate(context.Background(), quotableOp(), big.NewInt(1e18))
	require.True(t, res.Success)
	require.NotNil(t, res.Quote)
	assert.True(t, res.Quote.Fallback)
	assert.False(t, res.WouldRevert)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(0))
}
