package models

import "strings"

// canonicalSymbols collapses bridged and native token variants onto the
// wrapped symbol so the same asset matches across chains and venues
// (WETH.e on Avalanche and WETH on Arbitrum are the same book entry).
var canonicalSymbols = map[string]string{
	"ETH":    "WETH",
	"WETH.E": "WETH",
	"BETH":   "WETH",
	"BTC":    "WBTC",
	"WBTC.E": "WBTC",
	"BTCB":   "WBTC",
	"BNB":    "WBNB",
	"MATIC":  "WMATIC",
	"POL":    "WMATIC",
	"WPOL":   "WMATIC",
	"AVAX":   "WAVAX",
	"FTM":    "WFTM",
	"SOL":    "WSOL",
	"USDC.E": "USDC",
	"USDBC":  "USDC",
	"USDT.E": "USDT",
	"DAI.E":  "DAI",
}

// CanonicalSymbol normalises a token symbol for cross-chain comparison.
func CanonicalSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if canonical, ok := canonicalSymbols[s]; ok {
		return canonical
	}
	return s
}

// DefaultQuote is assumed whenever a token string carries no quote leg.
const DefaultQuote = "USDC"

// ParseTokenPair extracts (base, quote) from the token strings that arrive
// on the whale and price streams. Three shapes occur in the wild:
//
//	"ETH/USDT"            slash separated
//	"arb_WETH_USDC"       underscore separated, pair is the last two parts
//	"PEPE"                bare symbol
//
// It never fails; a missing quote defaults to USDC and an empty input
// yields an empty base.
func ParseTokenPair(s string) (base, quote string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", DefaultQuote
	}
	if i := strings.Index(s, "/"); i >= 0 {
		base = s[:i]
		quote = s[i+1:]
		if quote == "" {
			quote = DefaultQuote
		}
		return base, quote
	}
	if strings.Contains(s, "_") {
		parts := strings.Split(s, "_")
		if len(parts) >= 2 {
			return parts[len(parts)-2], parts[len(parts)-1]
		}
	}
	return s, DefaultQuote
}

// NormalisePairKey maps any incoming pair key onto the canonical
// "BASE_QUOTE" form used for cross-venue grouping.
func NormalisePairKey(pairKey string) string {
	base, quote := ParseTokenPair(pairKey)
	return CanonicalSymbol(base) + "_" + CanonicalSymbol(quote)
}

// BaseToken returns the canonical base symbol of a pair key.
func BaseToken(pairKey string) string {
	base, _ := ParseTokenPair(pairKey)
	return CanonicalSymbol(base)
}
