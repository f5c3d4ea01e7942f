package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub012/internal/config"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

type stubSimulator struct {
	should bool
	res    *SimulationResult
}

func (s *stubSimulator) ShouldSimulate(float64, time.Duration) bool { return s.should }

func (s *stubSimulator) Simulate(context.Context, *models.ArbitrageOpportunity, *big.Int) *SimulationResult {
	return s.res
}

// stubDataError mimics a geth RPC error carrying revert data.
type stubDataError struct {
	msg  string
	data any
}

func (e *stubDataError) Error() string          { return e.msg }
func (e *stubDataError) ErrorData() interface{} { return e.data }

// revertPayload abi-encodes Error(string) the way a reverting node does.
func revertPayload(t *testing.T, reason string) string {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	sel := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(sel, packed...))
}

func customErrorData(signature string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(signature))[:4])
}

func gateOp() *models.ArbitrageOpportunity {
	return &models.ArbitrageOpportunity{
		ID:        "op-gate",
		BuyChain:  "ethereum",
		NetProfit: decimal.NewFromInt(100),
		Timestamp: time.Now().UnixMilli(),
	}
}

func newTestGate(cfg GateConfig, sim Simulator, providers ...*fakeProvider) (*Gate, *blockchain.Registry) {
	registry := blockchain.NewRegistry()
	for _, p := range providers {
		registry.Register(p)
	}
	gate := NewGate(cfg, registry, blockchain.NewNonceManager(), sim, logger.NewNop(), nil)
	return gate, registry
}

func TestGatePredictedRevertAborts(t *testing.T) {
	sim := &stubSimulator{should: true, res: &SimulationResult{
		Success:      true,
		WouldRevert:  true,
		RevertReason: "INSUFFICIENT_OUTPUT_AMOUNT",
	}}
	gate, _ := newTestGate(DefaultGateConfig(), sim, newFakeProvider(1))

	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.Nil(t, sub)

	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSimulationRevert, ge.Code)
	assert.Equal(t, "INSUFFICIENT_OUTPUT_AMOUNT", ge.Detail)
	assert.Equal(t, "ERR_SIMULATION_REVERT: INSUFFICIENT_OUTPUT_AMOUNT", err.Error())

	stats := gate.Stats()
	assert.Equal(t, int64(1), stats.SimulationsPerformed)
	assert.Equal(t, int64(0), stats.SimulationsSkipped)
	assert.Equal(t, int64(1), stats.PredictedReverts)
}

func TestGateSimulationFailureProceeds(t *testing.T) {
	sim := &stubSimulator{should: true, res: &SimulationResult{Err: "rpc timeout"}}
	gate, _ := newTestGate(DefaultGateConfig(), sim, newFakeProvider(1))

	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)
	assert.False(t, sub.Simulated)
	assert.Equal(t, int64(1), gate.Stats().SimulationErrors)
}

func TestGateApprovedSimulationCarriesQuote(t *testing.T) {
	quote := &PathQuote{ExpectedProfit: big.NewInt(42)}
	sim := &stubSimulator{should: true, res: &SimulationResult{Success: true, Quote: quote}}
	gate, _ := newTestGate(DefaultGateConfig(), sim, newFakeProvider(1))

	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)
	assert.True(t, sub.Simulated)
	assert.Same(t, quote, sub.Quote)
}

func TestGateNilSimulatorSkips(t *testing.T) {
	gate, _ := newTestGate(DefaultGateConfig(), nil, newFakeProvider(1))

	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)
	require.NotNil(t, sub)

	stats := gate.Stats()
	assert.Equal(t, int64(1), stats.SimulationsSkipped)
	assert.Equal(t, int64(0), stats.SimulationsPerformed)
}

func TestGateProfitFloorSkipsSimulation(t *testing.T) {
	sim := &stubSimulator{should: false}
	gate, _ := newTestGate(DefaultGateConfig(), sim, newFakeProvider(1))

	_, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)

	stats := gate.Stats()
	assert.Equal(t, int64(1), stats.SimulationsSkipped)
	assert.Equal(t, int64(0), stats.SimulationsPerformed)
}

func TestGateUnhealthyProviderAborts(t *testing.T) {
	provider := newFakeProvider(1)
	provider.healthy = false
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)

	_, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, CodeProviderUnhealthy, ge.Code)
}

func TestGateMissingProviderAborts(t *testing.T) {
	gate, _ := newTestGate(DefaultGateConfig(), nil)

	_, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, CodeProviderUnhealthy, ge.Code)
}

func TestGateGasSpikeAborts(t *testing.T) {
	provider := newFakeProvider(1)
	provider.gasPrice = big.NewInt(101_000_000_000)
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)
	gate.SeedGasHistory("ethereum", 50, 50, 50)

	_, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, CodeGasSpike, ge.Code)
	assert.Equal(t, "101 gwei vs baseline 50 gwei (2.02x)", ge.Detail)
	assert.Equal(t, int64(1), gate.Stats().GasSpikeAborts)
}

func TestGateExactDoubleGasProceeds(t *testing.T) {
	provider := newFakeProvider(1)
	provider.gasPrice = big.NewInt(100_000_000_000)
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)
	gate.SeedGasHistory("ethereum", 50, 50, 50)

	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)
	assert.Equal(t, "100000000000", sub.GasPriceWei.String())
	assert.Equal(t, int64(0), gate.Stats().GasSpikeAborts)
}

func TestGateGasErrorSkipsSpikeGuard(t *testing.T) {
	provider := newFakeProvider(1)
	provider.gasErr = errors.New("rpc down")
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)

	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)
	assert.Nil(t, sub.GasPriceWei)
	assert.Equal(t, uint64(7), sub.Nonce)
}

func TestGateMultiplierScalesGasPrice(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.GasPriceMultiplier = 1.5
	provider := newFakeProvider(1)
	provider.gasPrice = big.NewInt(100_000_000_000)
	gate, _ := newTestGate(cfg, nil, provider)

	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)
	assert.Equal(t, "150000000000", sub.GasPriceWei.String())
}

func TestGatePresetNonceUsedVerbatim(t *testing.T) {
	provider := newFakeProvider(1)
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)

	nonce := uint64(42)
	sub, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), &nonce)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sub.Nonce)
	assert.Equal(t, 0, provider.nonceCalls)
}

func TestGateAllocatesSequentialNonces(t *testing.T) {
	provider := newFakeProvider(1)
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)

	first, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)
	second, err := gate.PrepareSubmission(context.Background(), gateOp(), big.NewInt(1e18), nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), first.Nonce)
	assert.Equal(t, uint64(8), second.Nonce)
	// Only the first allocation hits the node.
	assert.Equal(t, 1, provider.nonceCalls)
	assert.Equal(t, int64(1), first.ChainID)
}

func TestGatePredictedRevertEndToEnd(t *testing.T) {
	provider := newFakeProvider(1)
	provider.callFn = func(ethereum.CallMsg) ([]byte, error) {
		return nil, &stubDataError{msg: "execution reverted", data: revertPayload(t, "INSUFFICIENT_OUTPUT_AMOUNT")}
	}
	registry := blockchain.NewRegistry()
	registry.Register(provider)

	quoter := NewBatchQuoterService(QuoterConfig{}, config.DefaultChains(), registry, logger.NewNop(), nil)
	sim := NewPathSimulator(DefaultSimulatorConfig(), quoter, logger.NewNop())
	gate := NewGate(DefaultGateConfig(), registry, blockchain.NewNonceManager(), sim, logger.NewNop(), nil)

	op := quotableOp()
	sub, err := gate.PrepareSubmission(context.Background(), op, big.NewInt(1e18), nil)
	require.Nil(t, sub)

	ge, ok := AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSimulationRevert, ge.Code)
	assert.Equal(t, "INSUFFICIENT_OUTPUT_AMOUNT", ge.Detail)

	stats := gate.Stats()
	assert.Equal(t, int64(1), stats.SimulationsPerformed)
	assert.Equal(t, int64(1), stats.PredictedReverts)
	assert.Empty(t, provider.sent)
}

func TestSubmitSendsTransaction(t *testing.T) {
	provider := newFakeProvider(1)
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)

	tx := types.NewTx(&types.LegacyTx{Nonce: 7, To: &uniV2Router, Gas: 21000, GasPrice: big.NewInt(1)})
	require.NoError(t, gate.Submit(context.Background(), "ethereum", tx))
	assert.Len(t, provider.sent, 1)
}

func TestSubmitSurfacesNamedRevert(t *testing.T) {
	provider := newFakeProvider(1)
	provider.sendErr = &stubDataError{msg: "execution reverted", data: customErrorData("InsufficientProfit()")}
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)

	tx := types.NewTx(&types.LegacyTx{Nonce: 7, To: &uniV2Router, Gas: 21000, GasPrice: big.NewInt(1)})
	err := gate.Submit(context.Background(), "ethereum", tx)
	assert.ErrorContains(t, err, "submission reverted: InsufficientProfit")
}

func TestSubmitPassesInfrastructureErrors(t *testing.T) {
	provider := newFakeProvider(1)
	provider.sendErr = errors.New("nonce too low")
	gate, _ := newTestGate(DefaultGateConfig(), nil, provider)

	tx := types.NewTx(&types.LegacyTx{Nonce: 7, To: &uniV2Router, Gas: 21000, GasPrice: big.NewInt(1)})
	err := gate.Submit(context.Background(), "ethereum", tx)
	assert.ErrorContains(t, err, "nonce too low")
	assert.NotContains(t, err.Error(), "reverted")
}

func TestSubmitWithoutProviderFails(t *testing.T) {
	gate, _ := newTestGate(DefaultGateConfig(), nil)
	tx := types.NewTx(&types.LegacyTx{Nonce: 7, To: &uniV2Router, Gas: 21000, GasPrice: big.NewInt(1)})
	err := gate.Submit(context.Background(), "base", tx)
	assert.ErrorContains(t, err, "no provider registered for base")
}

func TestRevertReasonParsing(t *testing.T) {
	reason, ok := revertReason(&stubDataError{msg: "execution reverted", data: revertPayload(t, "INSUFFICIENT_OUTPUT_AMOUNT")})
	require.True(t, ok)
	assert.Equal(t, "INSUFFICIENT_OUTPUT_AMOUNT", reason)

	reason, ok = revertReason(&stubDataError{msg: "execution reverted", data: customErrorData("DeadlineExpired()")})
	require.True(t, ok)
	assert.Equal(t, "DeadlineExpired", reason)

	reason, ok = revertReason(&stubDataError{msg: "reverted", data: "0xdeadbeef"})
	require.True(t, ok)
	assert.Equal(t, "custom error 0xdeadbeef", reason)

	// Raw byte payloads appear when the transport already decoded the hex.
	reason, ok = revertReason(&stubDataError{msg: "reverted", data: crypto.Keccak256([]byte("UnprofitableTrade()"))[:4]})
	require.True(t, ok)
	assert.Equal(t, "UnprofitableTrade", reason)

	reason, ok = revertReason(errors.New("execution reverted: UNIV2: K"))
	require.True(t, ok)
	assert.Equal(t, "UNIV2: K", reason)

	reason, ok = revertReason(errors.New("execution reverted"))
	require.True(t, ok)
	assert.Equal(t, "execution reverted", reason)

	_, ok = revertReason(errors.New("connection refused"))
	assert.False(t, ok)
}

func TestAsGateError(t *testing.T) {
	ge, ok := AsGateError(&GateError{Code: CodeGasSpike})
	require.True(t, ok)
	assert.Equal(t, CodeGasSpike, ge.Code)

	wrapped := fmt.Errorf("prepare: %w", &GateError{Code: CodeProviderUnhealthy})
	_, ok = AsGateError(wrapped)
	assert.True(t, ok)

	_, ok = AsGateError(errors.New("plain"))
	assert.False(t, ok)
}

func TestGateErrorString(t *testing.T) {
	assert.Equal(t, "ERR_GAS_SPIKE", (&GateError{Code: CodeGasSpike}).Error())
	assert.Equal(t, "ERR_GAS_SPIKE: detail", (&GateError{Code: CodeGasSpike, Detail: "detail"}).Error())
}
