package publisher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

type busCall struct {
	stream string
	maxLen int64
	op     *models.ArbitrageOpportunity
}

type stubBus struct {
	mu    sync.Mutex
	fail  error
	calls []busCall
}

func (b *stubBus) Append(ctx context.Context, stream string, maxLen int64, payload any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return "", b.fail
	}
	op, _ := payload.(*models.ArbitrageOpportunity)
	b.calls = append(b.calls, busCall{stream: stream, maxLen: maxLen, op: op})
	return "1-0", nil
}

func newTestPublisher(cfg Config) (*Publisher, *stubBus) {
	bus := &stubBus{}
	return NewPublisher(cfg, bus, logger.NewNop(), nil), bus
}

// crossOp is the canonical ethereum->arbitrum WETH spread used throughout.
func crossOp(net float64) *models.ArbitrageOpportunity {
	return &models.ArbitrageOpportunity{
		Type:           models.OpportunityCrossChain,
		BuyChain:       "ethereum",
		SellChain:      "arbitrum",
		BuyVenue:       "uniswap",
		SellVenue:      "camelot",
		PairKey:        "WETH_USDC",
		BuyPrice:       2500,
		SellPrice:      2530,
		PercentageDiff: 0.012,
		NetProfit:      decimal.NewFromFloat(net),
	}
}

func TestPublishEnrichesWireFields(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())

	require.True(t, p.Publish(context.Background(), crossOp(100)))
	require.Len(t, bus.calls, 1)
	call := bus.calls[0]
	op := call.op

	assert.Equal(t, models.StreamOpportunities, call.stream)
	assert.Equal(t, int64(models.DefaultOpportunityMaxLen), call.maxLen)

	assert.True(t, strings.HasPrefix(op.ID, "cross-chain-"), "id %q", op.ID)
	assert.NotZero(t, op.Timestamp)
	assert.Equal(t, "WETH", op.TokenIn)
	assert.Equal(t, "USDC", op.TokenOut)
	assert.True(t, op.BridgeRequired)

	// 10k at a 2500 entry is 4 tokens; 1.2% of that is the edge.
	assert.Equal(t, "4", op.AmountIn.String())
	assert.Equal(t, "0.048", op.ExpectedProfit.String())
}

func TestPublishKeepsCallerIdentity(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())

	op := crossOp(100)
	op.ID = "pending-0xabc123"
	op.TokenIn = "WETH"
	op.TokenOut = "USDT"

	require.True(t, p.Publish(context.Background(), op))
	assert.Equal(t, "pending-0xabc123", bus.calls[0].op.ID)
	assert.Equal(t, "USDT", bus.calls[0].op.TokenOut)
}

func TestPublishNilIsNoop(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())
	assert.False(t, p.Publish(context.Background(), nil))
	assert.Empty(t, bus.calls)
}

func TestPublishDedupesRepeatWithinWindow(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())
	ctx := context.Background()

	assert.True(t, p.Publish(ctx, crossOp(100)))
	// 5% better than the cached 100 does not clear the 10% bar.
	assert.False(t, p.Publish(ctx, crossOp(105)))
	// 20% better does, and becomes the new baseline.
	assert.True(t, p.Publish(ctx, crossOp(120)))
	assert.False(t, p.Publish(ctx, crossOp(125)))

	assert.Len(t, bus.calls, 2)
}

func TestPublishReadmitsAfterTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 30 * time.Millisecond
	p, bus := newTestPublisher(cfg)
	ctx := context.Background()

	assert.True(t, p.Publish(ctx, crossOp(100)))
	assert.False(t, p.Publish(ctx, crossOp(100)))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, p.Publish(ctx, crossOp(100)))
	assert.Len(t, bus.calls, 2)
}

func TestDedupeIgnoresVenues(t *testing.T) {
	p, _ := newTestPublisher(DefaultConfig())
	ctx := context.Background()

	require.True(t, p.Publish(ctx, crossOp(100)))

	// Same route and pair on other DEXes is still the same opportunity.
	other := crossOp(100)
	other.BuyVenue = "sushiswap"
	other.SellVenue = "ramses"
	assert.False(t, p.Publish(ctx, other))
}

func TestDedupeNormalisesPairKey(t *testing.T) {
	p, _ := newTestPublisher(DefaultConfig())
	ctx := context.Background()

	first := crossOp(100)
	first.PairKey = "uniswap_ETH_USDC"
	require.True(t, p.Publish(ctx, first))

	assert.False(t, p.Publish(ctx, crossOp(100)))
}

func TestImprovementOverNegativeBaseline(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())
	ctx := context.Background()

	require.True(t, p.Publish(ctx, crossOp(-5)))
	// Any gain over a non-positive baseline counts as a full improvement.
	assert.True(t, p.Publish(ctx, crossOp(1)))
	assert.Len(t, bus.calls, 2)
}

func TestProfitImprovement(t *testing.T) {
	assert.Equal(t, "0.2", profitImprovement(decimal.NewFromInt(100), decimal.NewFromInt(120)).String())
	assert.True(t, profitImprovement(decimal.NewFromInt(-5), decimal.NewFromInt(1)).Equal(decimal.NewFromInt(1)))
	assert.True(t, profitImprovement(decimal.NewFromInt(-5), decimal.NewFromInt(-6)).IsZero())
	assert.True(t, profitImprovement(decimal.Zero, decimal.Zero).IsZero())
}

func TestBusErrorReleasesDedupeKey(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())
	ctx := context.Background()

	bus.fail = errors.New("stream full")
	assert.False(t, p.Publish(ctx, crossOp(100)))
	assert.Equal(t, 0, p.CacheSize())

	bus.fail = nil
	assert.True(t, p.Publish(ctx, crossOp(100)))
	assert.Len(t, bus.calls, 1)
}

func TestStatisticalOpportunitiesUseOwnStream(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())

	op := crossOp(50)
	op.Type = models.OpportunityStatistical
	require.True(t, p.Publish(context.Background(), op))
	assert.Equal(t, models.StreamStatisticalOpps, bus.calls[0].stream)
}

func TestIntraChainZeroesBridgeFields(t *testing.T) {
	p, bus := newTestPublisher(DefaultConfig())

	op := crossOp(50)
	op.Type = models.OpportunityIntraChain
	op.SellChain = "ethereum"
	op.BridgeCost = decimal.NewFromInt(15)

	require.True(t, p.Publish(context.Background(), op))
	published := bus.calls[0].op
	assert.False(t, published.BridgeRequired)
	assert.True(t, published.BridgeCost.IsZero())
}

func TestCacheTrimsOldestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSize = 2
	p, _ := newTestPublisher(cfg)
	ctx := context.Background()

	routes := []string{"arbitrum", "bsc", "polygon"}
	for _, sell := range routes {
		op := crossOp(100)
		op.SellChain = sell
		require.True(t, p.Publish(ctx, op))
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, 2, p.CacheSize())

	// The second route survived the trim and still dedupes.
	held := crossOp(100)
	held.SellChain = "bsc"
	assert.False(t, p.Publish(ctx, held))

	// The first was evicted oldest-first, so it publishes again.
	readmit := crossOp(100)
	readmit.SellChain = "arbitrum"
	assert.True(t, p.Publish(ctx, readmit))
}

func TestCleanupDropsExpiredEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 30 * time.Millisecond
	p, _ := newTestPublisher(cfg)
	ctx := context.Background()

	require.True(t, p.Publish(ctx, crossOp(100)))
	other := crossOp(100)
	other.SellChain = "bsc"
	require.True(t, p.Publish(ctx, other))
	assert.Equal(t, 2, p.CacheSize())

	time.Sleep(50 * time.Millisecond)
	p.Cleanup()
	assert.Equal(t, 0, p.CacheSize())
}

func TestClearResetsDedupeState(t *testing.T) {
	p, _ := newTestPublisher(DefaultConfig())
	ctx := context.Background()

	require.True(t, p.Publish(ctx, crossOp(100)))
	require.Equal(t, 1, p.CacheSize())

	p.Clear()
	assert.Equal(t, 0, p.CacheSize())
	assert.True(t, p.Publish(ctx, crossOp(100)))
}
