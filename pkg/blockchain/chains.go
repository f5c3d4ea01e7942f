// Package blockchain provides chain identity tables, RPC provider plumbing
// and nonce management for the EVM chains the engine trades across.
package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain IDs for the supported networks.
const (
	ChainIDEthereum  int64 = 1
	ChainIDOptimism  int64 = 10
	ChainIDBSC       int64 = 56
	ChainIDPolygon   int64 = 137
	ChainIDFantom    int64 = 250
	ChainIDBase      int64 = 8453
	ChainIDArbitrum  int64 = 42161
	ChainIDAvalanche int64 = 43114
)

var chainNames = map[int64]string{
	ChainIDEthereum:  "ethereum",
	ChainIDOptimism:  "optimism",
	ChainIDBSC:       "bsc",
	ChainIDPolygon:   "polygon",
	ChainIDFantom:    "fantom",
	ChainIDBase:      "base",
	ChainIDArbitrum:  "arbitrum",
	ChainIDAvalanche: "avalanche",
}

var chainIDs = func() map[string]int64 {
	m := make(map[string]int64, len(chainNames))
	for id, name := range chainNames {
		m[name] = id
	}
	return m
}()

// ChainName maps a numeric chain ID to its canonical name. Unknown IDs
// map to "unknown" rather than failing; decoded intents keep flowing and
// downstream filters drop what they cannot route.
func ChainName(chainID int64) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return "unknown"
}

// ChainID maps a canonical chain name (case-insensitive) to its numeric ID.
func ChainID(name string) (int64, bool) {
	id, ok := chainIDs[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// NativeSentinel is the pseudo-address routers use for the chain's native
// asset in swap paths.
var NativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var wrappedNatives = map[int64]common.Address{
	ChainIDEthereum:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	ChainIDOptimism:  common.HexToAddress("0x4200000000000000000000000000000000000006"),
	ChainIDBSC:       common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEF60aF814a3f6F0Ee75"),
	ChainIDPolygon:   common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"),
	ChainIDFantom:    common.HexToAddress("0x21be370D5312f44cB42ce377BC9b8a0cEF1A4C83"),
	ChainIDBase:      common.HexToAddress("0x4200000000000000000000000000000000000006"),
	ChainIDArbitrum:  common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"),
	ChainIDAvalanche: common.HexToAddress("0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7"),
}

// WrappedNative returns the canonical wrapped-native token for a chain.
// The second result is false for chains without a known deployment.
func WrappedNative(chainID int64) (common.Address, bool) {
	addr, ok := wrappedNatives[chainID]
	return addr, ok
}

// ResolveNative substitutes the wrapped-native address when token is the
// native sentinel, so every decoded path carries ERC-20 addresses only.
func ResolveNative(chainID int64, token common.Address) common.Address {
	if token == NativeSentinel || token == (common.Address{}) {
		if wrapped, ok := wrappedNatives[chainID]; ok {
			return wrapped
		}
	}
	return token
}
