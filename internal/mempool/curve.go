package mempool

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
)

// curvePoolRegistry maps pool addresses to their ordered coin lists per
// chain. Pools observed before their coins are registered still decode,
// with the pool address standing in for both tokens.
type curvePoolRegistry struct {
	mu    sync.RWMutex
	pools map[int64]map[string][]string
}

func newCurvePoolRegistry() *curvePoolRegistry {
	r := &curvePoolRegistry{pools: make(map[int64]map[string][]string)}

	// Canonical mainnet pools. Deployments on other chains register at
	// runtime via AddPool.
	r.add(blockchain.ChainIDEthereum, "0xbebc44782c7db0a1a60cb6fe97d0b483032ff1c7", []string{
		"0x6b175474e89094c44da98b954eedeac495271d0f", // DAI
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", // USDC
		"0xdac17f958d2ee523a2206206994597c13d831ec7", // USDT
	})
	r.add(blockchain.ChainIDEthereum, "0xdc24316b9ae028f1497c275eb9192a3ea0f67022", []string{
		"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", // native ETH
		"0xae7ab96520de3a18e5e111b5eaab095312d7fe84", // stETH
	})
	r.add(blockchain.ChainIDEthereum, "0xd51a44d3fae010294c616388b506acda1bfaae46", []string{
		"0xdac17f958d2ee523a2206206994597c13d831ec7", // USDT
		"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", // WBTC
		"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", // WETH
	})
	return r
}

func (r *curvePoolRegistry) add(chainID int64, pool string, tokens []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chainPools, ok := r.pools[chainID]
	if !ok {
		chainPools = make(map[string][]string)
		r.pools[chainID] = chainPools
	}
	chainPools[strings.ToLower(pool)] = tokens
}

func (r *curvePoolRegistry) tokens(chainID int64, pool string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens, ok := r.pools[chainID][strings.ToLower(pool)]
	return tokens, ok
}

type curveMethod struct {
	name    string
	args    abi.Arguments
	withEth bool
}

// curveDecoder handles StableSwap (int128 indices) and CryptoSwap (uint256
// indices) exchange calls sent straight to pool contracts.
type curveDecoder struct {
	methods map[selectorKey]curveMethod
	pools   *curvePoolRegistry
}

func newCurveDecoder(pools *curvePoolRegistry) *curveDecoder {
	stableShape := args(typeInt128, typeInt128, typeUint256, typeUint256)
	cryptoShape := args(typeUint256, typeUint256, typeUint256, typeUint256)
	cryptoEthShape := args(typeUint256, typeUint256, typeUint256, typeUint256, typeBool)

	methods := map[selectorKey]curveMethod{}
	add := func(sig, name string, a abi.Arguments, withEth bool) {
		methods[selectorOf(sig)] = curveMethod{name: name, args: a, withEth: withEth}
	}

	add("exchange(int128,int128,uint256,uint256)", "exchange", stableShape, false)
	add("exchange_underlying(int128,int128,uint256,uint256)", "exchange_underlying", stableShape, false)
	add("exchange(uint256,uint256,uint256,uint256)", "exchange_crypto", cryptoShape, false)
	add("exchange(uint256,uint256,uint256,uint256,bool)", "exchange_crypto_eth", cryptoEthShape, true)
	add("exchange_underlying(uint256,uint256,uint256,uint256)", "exchange_underlying_crypto", cryptoShape, false)

	return &curveDecoder{methods: methods, pools: pools}
}

func (d *curveDecoder) family() models.RouterType {
	return models.RouterCurve
}

func (d *curveDecoder) selectors() []selectorKey {
	keys := make([]selectorKey, 0, len(d.methods))
	for k := range d.methods {
		keys = append(keys, k)
	}
	return keys
}

func (d *curveDecoder) decode(tx *types.Transaction, chainID int64, sel selectorKey) (*models.PendingSwapIntent, error) {
	method, ok := d.methods[sel]
	if !ok {
		return nil, fmt.Errorf("selector not in curve table")
	}
	out, err := method.args.Unpack(tx.Data()[4:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.name, err)
	}

	i := out[0].(*big.Int)
	j := out[1].(*big.Int)
	dx := out[2].(*big.Int)
	minDy := out[3].(*big.Int)
	useEth := false
	if method.withEth {
		useEth = out[4].(bool)
	}

	pool := addrStr(*tx.To())
	intent := newIntent(tx, chainID, d.family())
	intent.AmountIn = models.NewBigInt(dx)
	intent.ExpectedAmountOut = models.NewBigInt(minDy)
	intent.Deadline = time.Now().Add(substituteDeadline).Unix()
	intent.SlippageTolerance = curveSlippage(dx, minDy)

	iIdx, jIdx := int(i.Int64()), int(j.Int64())
	tokens, known := d.pools.tokens(chainID, pool)
	if known && iIdx >= 0 && iIdx < len(tokens) && jIdx >= 0 && jIdx < len(tokens) {
		tokenIn := resolveNative(chainID, common.HexToAddress(tokens[iIdx]))
		tokenOut := resolveNative(chainID, common.HexToAddress(tokens[jIdx]))
		intent.TokenIn = tokenIn
		intent.TokenOut = tokenOut
		intent.Path = []string{tokenIn, tokenOut}
		intent.Metadata = map[string]any{
			"method":         method.name,
			"poolAddress":    pool,
			"tokensResolved": true,
		}
	} else {
		// Unknown pool: the pool address stands in for both tokens until an
		// on-chain coins() lookup resolves them.
		intent.TokenIn = pool
		intent.TokenOut = pool
		intent.Path = []string{pool, pool}
		intent.Metadata = map[string]any{
			"method":         method.name,
			"poolAddress":    pool,
			"iIndex":         iIdx,
			"jIndex":         jIdx,
			"tokensResolved": false,
		}
	}
	if useEth {
		intent.Metadata["useEth"] = true
	}
	return intent, nil
}

// curveSlippage approximates tolerance as max(0, 1 - minDy/dx), treating
// both legs as same-decimals. Degenerate inputs fall back to the default.
func curveSlippage(dx, minDy *big.Int) float64 {
	if dx == nil || minDy == nil || dx.Sign() <= 0 || minDy.Sign() <= 0 {
		return defaultSlippage
	}
	dxF, _ := new(big.Float).SetInt(dx).Float64()
	minDyF, _ := new(big.Float).SetInt(minDy).Float64()
	if dxF <= 0 || math.IsInf(dxF, 0) || math.IsInf(minDyF, 0) {
		return defaultSlippage
	}
	slip := 1 - minDyF/dxF
	if math.IsNaN(slip) {
		return defaultSlippage
	}
	if slip < 0 {
		return 0
	}
	return slip
}
