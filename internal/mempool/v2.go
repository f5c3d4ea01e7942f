package mempool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
)

// v2Method describes one method of the V2 router family. Two calldata
// shapes exist: the token shape carries two amounts, the ETH-in shape one
// amount because the input rides on tx.value.
type v2Method struct {
	name     string
	args     abi.Arguments
	exactOut bool
	ethIn    bool
}

var (
	// amount, amount, path, to, deadline
	v2TokenShape = args(typeUint256, typeUint256, typeAddressArray, typeAddress, typeUint256)
	// amount, path, to, deadline
	v2ETHInShape = args(typeUint256, typeAddressArray, typeAddress, typeUint256)
)

// v2Decoder covers Uniswap V2 and its direct forks (SushiSwap,
// PancakeSwap V2). All nine swap methods of the canonical router.
type v2Decoder struct {
	methods map[selectorKey]v2Method
}

func newV2Decoder() *v2Decoder {
	methods := map[selectorKey]v2Method{}
	add := func(sig, name string, shape abi.Arguments, exactOut, ethIn bool) {
		methods[selectorOf(sig)] = v2Method{name: name, args: shape, exactOut: exactOut, ethIn: ethIn}
	}

	add("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
		"swapExactTokensForTokens", v2TokenShape, false, false)
	add("swapTokensForExactTokens(uint256,uint256,address[],address,uint256)",
		"swapTokensForExactTokens", v2TokenShape, true, false)
	add("swapExactETHForTokens(uint256,address[],address,uint256)",
		"swapExactETHForTokens", v2ETHInShape, false, true)
	add("swapTokensForExactETH(uint256,uint256,address[],address,uint256)",
		"swapTokensForExactETH", v2TokenShape, true, false)
	add("swapExactTokensForETH(uint256,uint256,address[],address,uint256)",
		"swapExactTokensForETH", v2TokenShape, false, false)
	add("swapETHForExactTokens(uint256,address[],address,uint256)",
		"swapETHForExactTokens", v2ETHInShape, true, true)
	add("swapExactTokensForTokensSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)",
		"swapExactTokensForTokensSupportingFeeOnTransferTokens", v2TokenShape, false, false)
	add("swapExactETHForTokensSupportingFeeOnTransferTokens(uint256,address[],address,uint256)",
		"swapExactETHForTokensSupportingFeeOnTransferTokens", v2ETHInShape, false, true)
	add("swapExactTokensForETHSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)",
		"swapExactTokensForETHSupportingFeeOnTransferTokens", v2TokenShape, false, false)

	return &v2Decoder{methods: methods}
}

func (d *v2Decoder) family() models.RouterType {
	return models.RouterUniswapV2
}

func (d *v2Decoder) selectors() []selectorKey {
	keys := make([]selectorKey, 0, len(d.methods))
	for k := range d.methods {
		keys = append(keys, k)
	}
	return keys
}

func (d *v2Decoder) decode(tx *types.Transaction, chainID int64, sel selectorKey) (*models.PendingSwapIntent, error) {
	method, ok := d.methods[sel]
	if !ok {
		return nil, fmt.Errorf("selector not in v2 table")
	}
	out, err := method.args.Unpack(tx.Data()[4:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.name, err)
	}

	var (
		amount0, amount1 *big.Int
		path             []common.Address
		deadline         *big.Int
	)
	if method.ethIn {
		amount0 = out[0].(*big.Int)
		path = out[1].([]common.Address)
		deadline = out[3].(*big.Int)
	} else {
		amount0 = out[0].(*big.Int)
		amount1 = out[1].(*big.Int)
		path = out[2].([]common.Address)
		deadline = out[4].(*big.Int)
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("%s: path length %d", method.name, len(path))
	}

	intent := newIntent(tx, chainID, d.family())
	intent.TokenIn = addrStr(path[0])
	intent.TokenOut = addrStr(path[len(path)-1])
	intent.Path = pathStrings(path)
	intent.Deadline = deadline.Int64()
	intent.Metadata = map[string]any{"method": method.name}

	switch {
	case method.ethIn:
		// The input amount rides on tx.value; for swapETHForExactTokens it
		// is the input ceiling rather than the exact spend.
		intent.AmountIn = models.NewBigInt(tx.Value())
		intent.ExpectedAmountOut = models.NewBigInt(amount0)
	case method.exactOut:
		intent.AmountIn = models.NewBigInt(amount1)
		intent.ExpectedAmountOut = models.NewBigInt(amount0)
	default:
		intent.AmountIn = models.NewBigInt(amount0)
		intent.ExpectedAmountOut = models.NewBigInt(amount1)
	}
	return intent, nil
}
