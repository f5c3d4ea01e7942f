package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTokenPairShapes(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		base  string
		quote string
	}{
		{"slash separated", "ETH/USDT", "ETH", "USDT"},
		{"slash missing quote", "ETH/", "ETH", "USDC"},
		{"venue prefix", "arb_WETH_USDC", "WETH", "USDC"},
		{"venue and version prefix", "uniswap_v3_WETH_USDC", "WETH", "USDC"},
		{"bare symbol", "PEPE", "PEPE", "USDC"},
		{"empty", "", "", "USDC"},
		{"whitespace only", "   ", "", "USDC"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base, quote := ParseTokenPair(tc.in)
			assert.Equal(t, tc.base, base)
			assert.Equal(t, tc.quote, quote)
		})
	}
}

func TestCanonicalSymbolCollapsesVariants(t *testing.T) {
	assert.Equal(t, "WETH", CanonicalSymbol("WETH"))
	assert.Equal(t, "WETH", CanonicalSymbol("WETH.e"))
	assert.Equal(t, "WETH", CanonicalSymbol("ETH"))
	assert.Equal(t, "WETH", CanonicalSymbol("eth"))
	assert.Equal(t, "USDC", CanonicalSymbol("USDC.e"))
	assert.Equal(t, "USDC", CanonicalSymbol("USDbC"))
	assert.Equal(t, "WBTC", CanonicalSymbol("BTCB"))
	assert.Equal(t, "PEPE", CanonicalSymbol("pepe"))
}

func TestNormalisePairKeyIsVenueAgnostic(t *testing.T) {
	keys := []string{
		"uniswap_WETH_USDC",
		"camelot_WETH.e_USDC",
		"WETH/USDC",
		"quickswap_v3_ETH_USDC.e",
	}
	for _, key := range keys {
		assert.Equal(t, "WETH_USDC", NormalisePairKey(key), "key %q", key)
	}
}

func TestBaseToken(t *testing.T) {
	assert.Equal(t, "WETH", BaseToken("sushiswap_ETH_USDT"))
	assert.Equal(t, "PEPE", BaseToken("PEPE"))
	assert.Equal(t, "", BaseToken(""))
}
