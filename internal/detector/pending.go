package detector

import (
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
)

// counterQuote is the best on-chain venue found against a pending swap.
type counterQuote struct {
	chain string
	venue string
	price float64
	diff  float64
}

// enrichPending turns decoded mempool intents into opportunities by finding
// a better execution venue on another chain. At most one opportunity is
// emitted per intent.
func (d *Detector) enrichPending(
	snapshot *models.IndexedSnapshot,
	intents []*models.PendingSwapIntent,
) []*models.ArbitrageOpportunity {
	if len(intents) == 0 {
		return nil
	}

	now := time.Now()
	deadlineFloor := now.Add(d.cfg.PendingDeadlineBuffer).Unix()

	var out []*models.ArbitrageOpportunity
	for _, intent := range intents {
		if intent == nil {
			continue
		}
		if intent.Deadline <= deadlineFloor {
			d.rejectIntent(intent, "expiring_deadline")
			continue
		}
		if intent.AmountIn.Int().Cmp(d.cfg.MinPendingAmountWei) < 0 {
			d.rejectIntent(intent, "below_min_amount")
			continue
		}

		implied, ok := impliedPrice(intent)
		if !ok {
			continue
		}

		intentChain := blockchain.ChainName(intent.ChainID)
		best, found := d.bestCounter(snapshot, intent, intentChain, implied)
		if !found {
			continue
		}

		adjust := 1.0
		switch {
		case intent.SlippageTolerance > 0.03:
			adjust = 0.7
		case intent.SlippageTolerance > 0.01:
			adjust = 0.9
		}

		gross := best.diff * d.cfg.TradeSizeUsd
		bridge := d.chains.BridgeCostUsd(intentChain, best.chain)
		gas := d.chains.GasEstimateUsd(intentChain) + d.chains.GasEstimateUsd(best.chain)

		out = append(out, &models.ArbitrageOpportunity{
			ID:              "pending-" + intent.Hash,
			Type:            models.OpportunityCrossChain,
			Source:          "mempool",
			BuyChain:        intentChain,
			SellChain:       best.chain,
			BuyVenue:        "mempool",
			SellVenue:       best.venue,
			TokenIn:         intent.TokenIn,
			TokenOut:        intent.TokenOut,
			BuyPrice:        implied,
			SellPrice:       best.price,
			PercentageDiff:  best.diff,
			BridgeCost:      decimal.NewFromFloat(bridge),
			GasCost:         decimal.NewFromFloat(gas),
			NetProfit:       decimal.NewFromFloat(gross - bridge - gas),
			Confidence:      0.7 * adjust,
			PendingTxHash:   intent.Hash,
			PendingDeadline: intent.Deadline,
			PendingSlippage: intent.SlippageTolerance,
			RouterType:      intent.Type,
		})
	}
	return out
}

// bestCounter scans snapshot updates on other chains for the same token
// pair and keeps the venue with the largest favourable divergence above
// the minimum pending spread.
func (d *Detector) bestCounter(
	snapshot *models.IndexedSnapshot,
	intent *models.PendingSwapIntent,
	intentChain string,
	implied float64,
) (counterQuote, bool) {
	var best counterQuote
	found := false

	for _, update := range snapshot.Raw {
		if update == nil || update.Chain == intentChain {
			continue
		}

		var venuePrice float64
		switch {
		case strings.EqualFold(update.Token0, intent.TokenIn) && strings.EqualFold(update.Token1, intent.TokenOut):
			venuePrice = update.Price
		case strings.EqualFold(update.Token0, intent.TokenOut) && strings.EqualFold(update.Token1, intent.TokenIn):
			if update.Price == 0 {
				continue
			}
			venuePrice = 1 / update.Price
		default:
			continue
		}
		if venuePrice <= 0 || math.IsNaN(venuePrice) || math.IsInf(venuePrice, 0) {
			continue
		}

		diff := (venuePrice - implied) / implied
		if diff <= d.cfg.MinPendingPriceDiff {
			continue
		}
		if !found || diff > best.diff {
			best = counterQuote{chain: update.Chain, venue: update.Venue, price: venuePrice, diff: diff}
			found = true
		}
	}
	return best, found
}

// impliedPrice derives the price the pending swap would execute at from
// its raw amounts.
func impliedPrice(intent *models.PendingSwapIntent) (float64, bool) {
	in := intent.AmountIn.Int()
	out := intent.ExpectedAmountOut.Int()
	if in.Sign() <= 0 || out.Sign() <= 0 {
		return 0, false
	}
	price, _ := new(big.Float).Quo(new(big.Float).SetInt(out), new(big.Float).SetInt(in)).Float64()
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}

func (d *Detector) rejectIntent(intent *models.PendingSwapIntent, reason string) {
	if d.metrics != nil {
		d.metrics.IntentsRejected.WithLabelValues(reason).Inc()
	}
	d.logger.Debug("Pending intent rejected",
		zap.String("hash", intent.Hash),
		zap.String("reason", reason))
}
