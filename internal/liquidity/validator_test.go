package liquidity

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

type stubFetcher struct {
	mu      sync.Mutex
	calls   int32
	balance *big.Int
	err     error
	delay   time.Duration
}

func (f *stubFetcher) PoolBalance(ctx context.Context, chain, pool, asset string) (*big.Int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *stubFetcher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func (f *stubFetcher) setBalance(b *big.Int) {
	f.mu.Lock()
	f.balance = b
	f.mu.Unlock()
}

var testVenue = VenueRef{Protocol: "uniswapv2", Chain: "ethereum", Pool: "0xpool"}

func newTestValidator(cfg Config, f BalanceFetcher) *Validator {
	return NewValidator(cfg, f, logger.NewNop(), nil)
}

func TestCheckLiquidityMarginBoundary(t *testing.T) {
	cfg := DefaultConfig()
	// A margin exactly representable in binary keeps the boundary deterministic.
	cfg.SafetyMargin = 1.25
	f := &stubFetcher{balance: big.NewInt(125)}
	v := newTestValidator(cfg, f)

	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))

	v.ClearCache()
	f.setBalance(big.NewInt(124))
	assert.False(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))
}

func TestCheckLiquidityDefaultMargin(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(120)}
	v := newTestValidator(DefaultConfig(), f)
	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))

	v.ClearCache()
	f.setBalance(big.NewInt(109))
	assert.False(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))
}

func TestCheckLiquidityUsesCache(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(1000)}
	v := newTestValidator(DefaultConfig(), f)

	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))
	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(200)))
	assert.Equal(t, 1, f.callCount(), "second check must hit the cache")
}

func TestCheckLiquidityCacheExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 30 * time.Millisecond
	f := &stubFetcher{balance: big.NewInt(1000)}
	v := newTestValidator(cfg, f)

	v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100))
	time.Sleep(50 * time.Millisecond)
	v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100))
	assert.Equal(t, 2, f.callCount())
}

func TestCheckLiquidityFailsOpen(t *testing.T) {
	f := &stubFetcher{err: errors.New("rpc down")}
	v := newTestValidator(DefaultConfig(), f)

	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))
	// The failure is cached and later checks stay permissive without refetching.
	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))
	assert.Equal(t, 1, f.callCount())
}

func TestCheckLiquidityNoFetcherPasses(t *testing.T) {
	v := newTestValidator(DefaultConfig(), nil)
	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100)))
}

func TestCheckLiquidityZeroAmountPasses(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(0)}
	v := newTestValidator(DefaultConfig(), f)
	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", nil))
	assert.True(t, v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(0)))
	assert.Equal(t, 0, f.callCount())
}

func TestCheckLiquidityCallerCancellation(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(1000), delay: 200 * time.Millisecond}
	v := newTestValidator(DefaultConfig(), f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.True(t, v.CheckLiquidity(ctx, testVenue, "WETH", big.NewInt(100)))
}

func TestCheckLiquidityCoalescesConcurrentFetches(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(1000), delay: 50 * time.Millisecond}
	v := newTestValidator(DefaultConfig(), f)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100))
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, 1, f.callCount(), "concurrent checks must share one fetch")
}

func TestEstimateScoreLadder(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(1000)}
	v := newTestValidator(DefaultConfig(), f)

	// Nothing cached yet: full confidence.
	assert.Equal(t, 1.0, v.EstimateScore(testVenue, "WETH", big.NewInt(100)))

	v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100))

	assert.Equal(t, 1.0, v.EstimateScore(testVenue, "WETH", big.NewInt(500)))  // 2.0x
	assert.Equal(t, 0.9, v.EstimateScore(testVenue, "WETH", big.NewInt(900)))  // ~1.11x
	assert.Equal(t, 0.7, v.EstimateScore(testVenue, "WETH", big.NewInt(1000))) // 1.0x
	assert.Equal(t, 0.3, v.EstimateScore(testVenue, "WETH", big.NewInt(1001)))
	assert.Equal(t, 1.0, v.EstimateScore(testVenue, "WETH", nil))
}

func TestCachedLiquidity(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(777)}
	v := newTestValidator(DefaultConfig(), f)

	require.Nil(t, v.CachedLiquidity(testVenue, "WETH"))
	v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(1))
	got := v.CachedLiquidity(testVenue, "WETH")
	require.NotNil(t, got)
	assert.Equal(t, int64(777), got.Int64())

	v.ClearCache()
	assert.Nil(t, v.CachedLiquidity(testVenue, "WETH"))
}

func TestCacheKeyIsCaseInsensitive(t *testing.T) {
	f := &stubFetcher{balance: big.NewInt(1000)}
	v := newTestValidator(DefaultConfig(), f)

	v.CheckLiquidity(context.Background(), testVenue, "WETH", big.NewInt(100))
	upper := VenueRef{Protocol: "UNISWAPV2", Chain: "ETHEREUM", Pool: "0xPOOL"}
	v.CheckLiquidity(context.Background(), upper, "weth", big.NewInt(100))
	assert.Equal(t, 1, f.callCount())
}
