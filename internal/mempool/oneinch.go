package mempool

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
)

type oneInchKind int

const (
	oneInchSwap oneInchKind = iota
	oneInchUnoswap
	oneInchUnoswapTo
	oneInchV3Swap
	oneInchV3SwapTo
	oneInchClipper
)

type oneInchMethod struct {
	name string
	args abi.Arguments
	kind oneInchKind
}

type oneInchSwapDesc struct {
	SrcToken        common.Address
	DstToken        common.Address
	SrcReceiver     common.Address
	DstReceiver     common.Address
	Amount          *big.Int
	MinReturnAmount *big.Int
	Flags           *big.Int
}

// oneInchDecoder covers the AggregationRouterV5 entrypoints. Route pools
// pack a pool address in the low 160 bits and a direction flag in bit 255;
// pool addresses double as token hints until resolved on chain.
type oneInchDecoder struct {
	methods map[selectorKey]oneInchMethod
}

var pool160Mask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

func newOneInchDecoder() *oneInchDecoder {
	descComponents := []abi.ArgumentMarshaling{
		{Name: "srcToken", Type: "address"},
		{Name: "dstToken", Type: "address"},
		{Name: "srcReceiver", Type: "address"},
		{Name: "dstReceiver", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "minReturnAmount", Type: "uint256"},
		{Name: "flags", Type: "uint256"},
	}
	swapArgs := args(typeAddress, mustType("tuple", descComponents), typeBytes, typeBytes)
	unoswapArgs := args(typeAddress, typeUint256, typeUint256, typeUint256Array)
	unoswapToArgs := args(typeAddress, typeAddress, typeUint256, typeUint256, typeUint256Array)
	v3SwapArgs := args(typeUint256, typeUint256, typeUint256Array)
	v3SwapToArgs := args(typeAddress, typeUint256, typeUint256, typeUint256Array)
	clipperArgs := args(typeAddress, typeAddress, typeAddress, typeUint256, typeUint256, typeUint256, typeBytes32, typeBytes32)

	methods := map[selectorKey]oneInchMethod{}
	add := func(sig, name string, a abi.Arguments, kind oneInchKind) {
		methods[selectorOf(sig)] = oneInchMethod{name: name, args: a, kind: kind}
	}

	add("swap(address,(address,address,address,address,uint256,uint256,uint256),bytes,bytes)",
		"swap", swapArgs, oneInchSwap)
	add("unoswap(address,uint256,uint256,uint256[])",
		"unoswap", unoswapArgs, oneInchUnoswap)
	add("unoswapTo(address,address,uint256,uint256,uint256[])",
		"unoswapTo", unoswapToArgs, oneInchUnoswapTo)
	add("uniswapV3Swap(uint256,uint256,uint256[])",
		"uniswapV3Swap", v3SwapArgs, oneInchV3Swap)
	add("uniswapV3SwapTo(address,uint256,uint256,uint256[])",
		"uniswapV3SwapTo", v3SwapToArgs, oneInchV3SwapTo)
	add("clipperSwap(address,address,address,uint256,uint256,uint256,bytes32,bytes32)",
		"clipperSwap", clipperArgs, oneInchClipper)

	return &oneInchDecoder{methods: methods}
}

func (d *oneInchDecoder) family() models.RouterType {
	return models.RouterOneInch
}

func (d *oneInchDecoder) selectors() []selectorKey {
	keys := make([]selectorKey, 0, len(d.methods))
	for k := range d.methods {
		keys = append(keys, k)
	}
	return keys
}

func (d *oneInchDecoder) decode(tx *types.Transaction, chainID int64, sel selectorKey) (*models.PendingSwapIntent, error) {
	method, ok := d.methods[sel]
	if !ok {
		return nil, fmt.Errorf("selector not in 1inch table")
	}
	out, err := method.args.Unpack(tx.Data()[4:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.name, err)
	}

	intent := newIntent(tx, chainID, d.family())
	intent.Deadline = time.Now().Add(substituteDeadline).Unix()
	intent.Metadata = map[string]any{"method": method.name}

	switch method.kind {
	case oneInchSwap:
		desc := abi.ConvertType(out[1], new(oneInchSwapDesc)).(*oneInchSwapDesc)
		intent.TokenIn = resolveNative(chainID, desc.SrcToken)
		intent.TokenOut = resolveNative(chainID, desc.DstToken)
		intent.AmountIn = models.NewBigInt(desc.Amount)
		intent.ExpectedAmountOut = models.NewBigInt(desc.MinReturnAmount)

	case oneInchUnoswap, oneInchUnoswapTo:
		shift := 0
		if method.kind == oneInchUnoswapTo {
			shift = 1
		}
		srcToken := out[shift].(common.Address)
		amount := out[shift+1].(*big.Int)
		minReturn := out[shift+2].(*big.Int)
		pools := out[shift+3].([]*big.Int)
		if len(pools) == 0 {
			return nil, fmt.Errorf("%s: empty route", method.name)
		}
		intent.TokenIn = resolveNative(chainID, srcToken)
		intent.TokenOut = poolAddress(pools[len(pools)-1])
		intent.AmountIn = models.NewBigInt(amount)
		intent.ExpectedAmountOut = models.NewBigInt(minReturn)
		intent.Metadata["tokensResolved"] = false
		intent.Metadata["poolCount"] = len(pools)

	case oneInchV3Swap, oneInchV3SwapTo:
		shift := 0
		if method.kind == oneInchV3SwapTo {
			shift = 1
		}
		amount := out[shift].(*big.Int)
		minReturn := out[shift+1].(*big.Int)
		pools := out[shift+2].([]*big.Int)
		if len(pools) == 0 {
			return nil, fmt.Errorf("%s: empty route", method.name)
		}
		// Without an explicit src token the first and last pool addresses
		// hint the route ends; native input is detectable from tx.value.
		if tx.Value().Sign() > 0 {
			intent.TokenIn = resolveNative(chainID, common.Address{})
		} else {
			intent.TokenIn = poolAddress(pools[0])
		}
		intent.TokenOut = poolAddress(pools[len(pools)-1])
		intent.AmountIn = models.NewBigInt(amount)
		intent.ExpectedAmountOut = models.NewBigInt(minReturn)
		intent.Metadata["tokensResolved"] = false
		intent.Metadata["poolCount"] = len(pools)

	case oneInchClipper:
		srcToken := out[1].(common.Address)
		dstToken := out[2].(common.Address)
		inputAmount := out[3].(*big.Int)
		outputAmount := out[4].(*big.Int)
		goodUntil := out[5].(*big.Int)
		intent.TokenIn = resolveNative(chainID, srcToken)
		intent.TokenOut = resolveNative(chainID, dstToken)
		intent.AmountIn = models.NewBigInt(inputAmount)
		intent.ExpectedAmountOut = models.NewBigInt(outputAmount)
		if goodUntil.Sign() > 0 {
			intent.Deadline = goodUntil.Int64()
		}
	}

	intent.Path = []string{intent.TokenIn, intent.TokenOut}
	return intent, nil
}

// poolAddress extracts the pool address packed into the low 160 bits of a
// route word.
func poolAddress(pool *big.Int) string {
	addr := new(big.Int).And(pool, pool160Mask)
	return addrStr(common.BigToAddress(addr))
}
