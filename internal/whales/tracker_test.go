package whales

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

func testTracker() *Tracker {
	return NewTracker(DefaultConfig(), logger.NewNop(), nil)
}

func whaleTx(token string, usd int64, dir models.TradeDirection) *models.WhaleTransaction {
	return &models.WhaleTransaction{
		TxHash:    "0xwhale",
		Token:     token,
		UsdValue:  decimal.NewFromInt(usd),
		Direction: dir,
		Timestamp: time.Now().UnixMilli(),
	}
}

func drainTrigger(t *Tracker) (string, bool) {
	select {
	case token := <-t.Trigger():
		return token, true
	default:
		return "", false
	}
}

func TestSummaryEmptyWindowIsNeutral(t *testing.T) {
	tr := testTracker()
	s := tr.GetActivitySummary("WETH")
	assert.Equal(t, models.BiasNeutral, s.DominantDirection)
	assert.True(t, s.TotalVolumeUsd.IsZero())
	assert.Equal(t, 0, s.SuperWhaleCount)
}

func TestSummaryBiasBoundariesStayNeutral(t *testing.T) {
	tr := testTracker()
	// 60/40 buy split sits exactly on the bullish boundary.
	tr.RecordTransaction(whaleTx("WETH", 60000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WETH", 40000, models.DirectionSell))
	s := tr.GetActivitySummary("WETH")
	assert.Equal(t, models.BiasNeutral, s.DominantDirection)

	tr.Clear()
	// 40/60 sits exactly on the bearish boundary.
	tr.RecordTransaction(whaleTx("WETH", 40000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WETH", 60000, models.DirectionSell))
	s = tr.GetActivitySummary("WETH")
	assert.Equal(t, models.BiasNeutral, s.DominantDirection)
}

func TestSummaryBiasAboveBoundary(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(whaleTx("WETH", 61000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WETH", 39000, models.DirectionSell))
	s := tr.GetActivitySummary("WETH")
	assert.Equal(t, models.BiasBullish, s.DominantDirection)

	tr.Clear()
	tr.RecordTransaction(whaleTx("WETH", 39000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WETH", 61000, models.DirectionSell))
	s = tr.GetActivitySummary("WETH")
	assert.Equal(t, models.BiasBearish, s.DominantDirection)
}

func TestSummaryCountsSuperWhales(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(whaleTx("WETH", 500000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WETH", 499999, models.DirectionBuy))
	s := tr.GetActivitySummary("WETH")
	assert.Equal(t, 1, s.SuperWhaleCount)
	assert.Equal(t, "999999", s.TotalVolumeUsd.String())
}

func TestNetFlowMixesDirections(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(whaleTx("WETH", 80000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WETH", 30000, models.DirectionSell))
	s := tr.GetActivitySummary("WETH")
	assert.Equal(t, "50000", s.NetFlowUsd.String())
	assert.Equal(t, "110000", s.TotalVolumeUsd.String())
}

func TestTriggerFiresOnSuperWhale(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(whaleTx("WETH", 500000, models.DirectionBuy))
	token, fired := drainTrigger(tr)
	require.True(t, fired)
	assert.Equal(t, "WETH", token)
}

func TestTriggerFiresOnSignificantNetFlow(t *testing.T) {
	tr := testTracker()
	// Below both thresholds: no trigger.
	tr.RecordTransaction(whaleTx("WETH", 60000, models.DirectionBuy))
	_, fired := drainTrigger(tr)
	assert.False(t, fired)

	// Cumulative net flow crosses 100k.
	tr.RecordTransaction(whaleTx("WETH", 60000, models.DirectionBuy))
	token, fired := drainTrigger(tr)
	require.True(t, fired)
	assert.Equal(t, "WETH", token)
}

func TestTriggerFiresOnNegativeNetFlow(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(whaleTx("WETH", 110000, models.DirectionSell))
	token, fired := drainTrigger(tr)
	require.True(t, fired)
	assert.Equal(t, "WETH", token)
}

func TestTriggerCoalescesWhilePending(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(whaleTx("WETH", 500000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WBTC", 500000, models.DirectionBuy))

	_, fired := drainTrigger(tr)
	require.True(t, fired)
	_, fired = drainTrigger(tr)
	assert.False(t, fired, "second trigger should have been coalesced")
}

func TestTrackerNormalisesTokenKeys(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(whaleTx("uniswap_ETH_USDC", 60000, models.DirectionBuy))
	tr.RecordTransaction(whaleTx("WETH/USDT", 60000, models.DirectionBuy))

	s := tr.GetActivitySummary("WETH")
	assert.Equal(t, "120000", s.TotalVolumeUsd.String())
}

func TestWindowPrunesOldTrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 50 * time.Millisecond
	tr := NewTracker(cfg, logger.NewNop(), nil)

	old := whaleTx("WETH", 200000, models.DirectionBuy)
	old.Timestamp = time.Now().Add(-time.Second).UnixMilli()
	tr.RecordTransaction(old)

	s := tr.GetActivitySummary("WETH")
	assert.True(t, s.TotalVolumeUsd.IsZero())
}

func TestSummariesDropEmptyTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 50 * time.Millisecond
	tr := NewTracker(cfg, logger.NewNop(), nil)

	tr.RecordTransaction(whaleTx("WETH", 200000, models.DirectionBuy))
	expired := whaleTx("WBTC", 200000, models.DirectionBuy)
	expired.Timestamp = time.Now().Add(-time.Second).UnixMilli()
	tr.RecordTransaction(expired)

	out := tr.Summaries()
	assert.Contains(t, out, "WETH")
	assert.NotContains(t, out, "WBTC")
}

func TestRecordIgnoresNilAndEmptyToken(t *testing.T) {
	tr := testTracker()
	tr.RecordTransaction(nil)
	tr.RecordTransaction(whaleTx("", 500000, models.DirectionBuy))
	_, fired := drainTrigger(tr)
	assert.False(t, fired)
	assert.Empty(t, tr.Summaries())
}
