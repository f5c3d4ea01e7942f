// Package models defines the records that flow through the arbitrage
// pipeline: confirmed price updates, decoded pending swap intents, whale
// trades, and the opportunities published for downstream execution.
package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Stream names on the durable bus.
const (
	StreamPriceUpdates       = "stream:price-updates"
	StreamPendingSwaps       = "stream:pending-opportunities"
	StreamWhaleTransactions  = "stream:whale-transactions"
	StreamOpportunities      = "stream:opportunities"
	StreamStatisticalOpps    = "stream:statistical-opportunities"
	ConsumerGroupDetector    = "cross-chain-detector"
	ConsumerPrefix           = "cross-chain-detector-"
	DefaultStreamMaxLen      = 10000
	DefaultOpportunityMaxLen = 5000
)

// TradeDirection classifies a whale trade.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// MarketBias is the dominant direction of recent whale flow on a token.
type MarketBias string

const (
	BiasBullish MarketBias = "bullish"
	BiasBearish MarketBias = "bearish"
	BiasNeutral MarketBias = "neutral"
)

// RouterType identifies the router family a pending swap was decoded from.
type RouterType string

const (
	RouterUniswapV2   RouterType = "uniswapV2"
	RouterUniswapV3   RouterType = "uniswapV3"
	RouterSushiswap   RouterType = "sushiswap"
	RouterPancakeswap RouterType = "pancakeswap"
	RouterCurve       RouterType = "curve"
	RouterOneInch     RouterType = "oneInch"
	RouterUnknown     RouterType = "unknown"
)

// OpportunityType classifies a published opportunity.
type OpportunityType string

const (
	OpportunityCrossChain  OpportunityType = "cross-chain"
	OpportunityIntraChain  OpportunityType = "intra-chain"
	OpportunityStatistical OpportunityType = "statistical"
)

// PriceUpdate is a confirmed pool price observation from one venue.
// Reserves are unbounded integers; Price has already been derived upstream.
type PriceUpdate struct {
	Chain       string  `json:"chain"`
	Venue       string  `json:"venue"`
	PairKey     string  `json:"pairKey"`
	Token0      string  `json:"token0"`
	Token1      string  `json:"token1"`
	Reserve0    BigInt  `json:"reserve0"`
	Reserve1    BigInt  `json:"reserve1"`
	Price       float64 `json:"price"`
	BlockNumber uint64  `json:"blockNumber"`
	Timestamp   int64   `json:"timestamp"` // unix ms
	LatencyMs   int64   `json:"latency,omitempty"`
}

// Valid reports whether the update is acceptable at ingress. Zero, negative,
// NaN and infinite prices are all rejected.
func (u *PriceUpdate) Valid() bool {
	if u.Chain == "" || u.Venue == "" || u.PairKey == "" {
		return false
	}
	if u.Price <= 0 || math.IsNaN(u.Price) || math.IsInf(u.Price, 0) {
		return false
	}
	return true
}

// Age returns how old the update is relative to now.
func (u *PriceUpdate) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(u.Timestamp))
}

// PricePoint is the per-snapshot view of one venue's price for a token pair.
// It lives exactly as long as the snapshot that produced it.
type PricePoint struct {
	Chain   string       `json:"chain"`
	Venue   string       `json:"venue"`
	PairKey string       `json:"pairKey"`
	Price   float64      `json:"price"`
	Update  *PriceUpdate `json:"-"`
}

// IndexedSnapshot is an immutable, versioned view of the price store.
// ByToken maps a normalised token pair to every venue price across chains;
// TokenPairs lists only the pairs present on at least two distinct chains.
type IndexedSnapshot struct {
	Timestamp  time.Time
	Version    int64
	Raw        []*PriceUpdate
	ByToken    map[string][]PricePoint
	TokenPairs []string
}

// WhaleTransaction is a large wallet trade observed on some venue.
type WhaleTransaction struct {
	TxHash        string          `json:"txHash"`
	WalletAddress string          `json:"walletAddress"`
	Chain         string          `json:"chain"`
	Venue         string          `json:"venue"`
	PairAddress   string          `json:"pairAddress"`
	Token         string          `json:"token"`
	Amount        decimal.Decimal `json:"amount"`
	UsdValue      decimal.Decimal `json:"usdValue"`
	Direction     TradeDirection  `json:"direction"`
	PriceImpact   float64         `json:"priceImpact"`
	Timestamp     int64           `json:"timestamp"` // unix ms
}

// WhaleActivitySummary aggregates whale flow for one token over the
// tracker's active window.
type WhaleActivitySummary struct {
	Token             string          `json:"token"`
	BuyVolumeUsd      decimal.Decimal `json:"buyVolumeUsd"`
	SellVolumeUsd     decimal.Decimal `json:"sellVolumeUsd"`
	NetFlowUsd        decimal.Decimal `json:"netFlowUsd"`
	TotalVolumeUsd    decimal.Decimal `json:"totalVolumeUsd"`
	SuperWhaleCount   int             `json:"superWhaleCount"`
	DominantDirection MarketBias      `json:"dominantDirection"`
}

// PendingSwapIntent is the canonical form of a swap extracted from a raw
// pending transaction by the decoder registry.
type PendingSwapIntent struct {
	Hash              string         `json:"hash"`
	Router            string         `json:"router"`
	Type              RouterType     `json:"type"`
	TokenIn           string         `json:"tokenIn"`
	TokenOut          string         `json:"tokenOut"`
	AmountIn          BigInt         `json:"amountIn"`
	ExpectedAmountOut BigInt         `json:"expectedAmountOut"`
	Path              []string       `json:"path"`
	SlippageTolerance float64        `json:"slippageTolerance"`
	Deadline          int64          `json:"deadline"` // unix seconds
	Sender            string         `json:"sender"`
	GasPrice          BigInt         `json:"gasPrice"`
	MaxFeePerGas      *BigInt        `json:"maxFeePerGas,omitempty"`
	MaxPriorityFee    *BigInt        `json:"maxPriorityFeePerGas,omitempty"`
	Nonce             uint64         `json:"nonce"`
	ChainID           int64          `json:"chainId"`
	FirstSeen         int64          `json:"firstSeen"` // unix ms
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Hop is one leg of a statistical (N-hop) route.
type Hop struct {
	Chain    string  `json:"chain"`
	Dex      string  `json:"dex"`
	Router   string  `json:"router,omitempty"`
	TokenIn  string  `json:"tokenIn"`
	TokenOut string  `json:"tokenOut"`
	Pool     string  `json:"pool,omitempty"`
	FeeBps   int     `json:"feeBps,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// ArbitrageOpportunity is the wire shape appended to the opportunity streams.
type ArbitrageOpportunity struct {
	ID               string          `json:"id"`
	Type             OpportunityType `json:"type"`
	Source           string          `json:"source,omitempty"`
	BuyChain         string          `json:"buyChain"`
	SellChain        string          `json:"sellChain"`
	BuyVenue         string          `json:"buyVenue"`
	SellVenue        string          `json:"sellVenue"`
	TokenIn          string          `json:"tokenIn"`
	TokenOut         string          `json:"tokenOut"`
	PairKey          string          `json:"pairKey,omitempty"`
	BuyPrice         float64         `json:"buyPrice"`
	SellPrice        float64         `json:"sellPrice"`
	PercentageDiff   float64         `json:"profitPercentage"`
	BridgeRequired   bool            `json:"bridgeRequired"`
	BridgeCost       decimal.Decimal `json:"bridgeCost"`
	GasCost          decimal.Decimal `json:"gasCost"`
	ExpectedProfit   decimal.Decimal `json:"expectedProfit"`
	NetProfit        decimal.Decimal `json:"netProfit"`
	AmountIn         decimal.Decimal `json:"amountIn,omitempty"`
	Confidence       float64         `json:"confidence"`
	WhaleTriggered   bool            `json:"whaleTriggered,omitempty"`
	Hops             []Hop           `json:"hops,omitempty"`
	BuyDex           string          `json:"buyDex,omitempty"`
	SellDex          string          `json:"sellDex,omitempty"`
	PendingTxHash    string          `json:"pendingTxHash,omitempty"`
	PendingDeadline  int64           `json:"pendingDeadline,omitempty"`
	PendingSlippage  float64         `json:"pendingSlippage,omitempty"`
	RouterType       RouterType      `json:"routerType,omitempty"`
	Timestamp        int64           `json:"timestamp"` // unix ms
}
