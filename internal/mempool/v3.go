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

// Packed V3 paths are token(20) | fee(3) | token(20) | fee(3) | ... so a
// single hop takes 43 bytes and each extra hop adds 23.
const (
	v3PathMinLen  = 43
	v3PathHopSize = 23
	v3AddrLen     = 20
)

// decodePackedPath extracts the token addresses from a packed path.
// Anything shorter than one hop or misaligned yields an empty result.
func decodePackedPath(path []byte) []common.Address {
	if len(path) < v3PathMinLen || (len(path)-v3AddrLen)%v3PathHopSize != 0 {
		return nil
	}
	tokens := make([]common.Address, 0, (len(path)-v3AddrLen)/v3PathHopSize+1)
	for offset := 0; offset+v3AddrLen <= len(path); offset += v3PathHopSize {
		tokens = append(tokens, common.BytesToAddress(path[offset:offset+v3AddrLen]))
	}
	return tokens
}

var (
	v3SingleComponentsV1 = []abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "fee", Type: "uint24"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountA", Type: "uint256"},
		{Name: "amountB", Type: "uint256"},
		{Name: "sqrtPriceLimitX96", Type: "uint160"},
	}
	v3SingleComponentsV2 = []abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "fee", Type: "uint24"},
		{Name: "recipient", Type: "address"},
		{Name: "amountA", Type: "uint256"},
		{Name: "amountB", Type: "uint256"},
		{Name: "sqrtPriceLimitX96", Type: "uint160"},
	}
	v3PathComponentsV1 = []abi.ArgumentMarshaling{
		{Name: "path", Type: "bytes"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountA", Type: "uint256"},
		{Name: "amountB", Type: "uint256"},
	}
	v3PathComponentsV2 = []abi.ArgumentMarshaling{
		{Name: "path", Type: "bytes"},
		{Name: "recipient", Type: "address"},
		{Name: "amountA", Type: "uint256"},
		{Name: "amountB", Type: "uint256"},
	}
)

// The exact-in and exact-out variants of each struct share a layout; only
// the semantic of the two amounts flips, so one reflect target per shape
// is enough.
type v3SingleV1 struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountA           *big.Int
	AmountB           *big.Int
	SqrtPriceLimitX96 *big.Int
}

type v3SingleV2 struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountA           *big.Int
	AmountB           *big.Int
	SqrtPriceLimitX96 *big.Int
}

type v3PathV1 struct {
	Path      []byte
	Recipient common.Address
	Deadline  *big.Int
	AmountA   *big.Int
	AmountB   *big.Int
}

type v3PathV2 struct {
	Path      []byte
	Recipient common.Address
	AmountA   *big.Int
	AmountB   *big.Int
}

type v3Shape int

const (
	shapeSingleV1 v3Shape = iota
	shapeSingleV2
	shapePathV1
	shapePathV2
)

type v3Method struct {
	name     string
	args     abi.Arguments
	shape    v3Shape
	exactOut bool
}

// v3Decoder covers both Uniswap V3 router generations; the second ("02")
// dropped the deadline field, for which a one hour substitute applies.
type v3Decoder struct {
	methods map[selectorKey]v3Method
}

func newV3Decoder() *v3Decoder {
	singleV1 := args(mustType("tuple", v3SingleComponentsV1))
	singleV2 := args(mustType("tuple", v3SingleComponentsV2))
	pathV1 := args(mustType("tuple", v3PathComponentsV1))
	pathV2 := args(mustType("tuple", v3PathComponentsV2))

	methods := map[selectorKey]v3Method{}
	add := func(sig, name string, a abi.Arguments, shape v3Shape, exactOut bool) {
		methods[selectorOf(sig)] = v3Method{name: name, args: a, shape: shape, exactOut: exactOut}
	}

	add("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))",
		"exactInputSingle", singleV1, shapeSingleV1, false)
	add("exactOutputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))",
		"exactOutputSingle", singleV1, shapeSingleV1, true)
	add("exactInput((bytes,address,uint256,uint256,uint256))",
		"exactInput", pathV1, shapePathV1, false)
	add("exactOutput((bytes,address,uint256,uint256,uint256))",
		"exactOutput", pathV1, shapePathV1, true)

	add("exactInputSingle((address,address,uint24,address,uint256,uint256,uint160))",
		"exactInputSingle02", singleV2, shapeSingleV2, false)
	add("exactOutputSingle((address,address,uint24,address,uint256,uint256,uint160))",
		"exactOutputSingle02", singleV2, shapeSingleV2, true)
	add("exactInput((bytes,address,uint256,uint256))",
		"exactInput02", pathV2, shapePathV2, false)
	add("exactOutput((bytes,address,uint256,uint256))",
		"exactOutput02", pathV2, shapePathV2, true)

	return &v3Decoder{methods: methods}
}

func (d *v3Decoder) family() models.RouterType {
	return models.RouterUniswapV3
}

func (d *v3Decoder) selectors() []selectorKey {
	keys := make([]selectorKey, 0, len(d.methods))
	for k := range d.methods {
		keys = append(keys, k)
	}
	return keys
}

func (d *v3Decoder) decode(tx *types.Transaction, chainID int64, sel selectorKey) (*models.PendingSwapIntent, error) {
	method, ok := d.methods[sel]
	if !ok {
		return nil, fmt.Errorf("selector not in v3 table")
	}
	out, err := method.args.Unpack(tx.Data()[4:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.name, err)
	}

	var (
		tokenIn, tokenOut common.Address
		path              []common.Address
		amountA, amountB  *big.Int
		deadline          int64
		fee               *big.Int
	)

	switch method.shape {
	case shapeSingleV1:
		p := abi.ConvertType(out[0], new(v3SingleV1)).(*v3SingleV1)
		tokenIn, tokenOut, fee = p.TokenIn, p.TokenOut, p.Fee
		amountA, amountB = p.AmountA, p.AmountB
		deadline = p.Deadline.Int64()
		path = []common.Address{tokenIn, tokenOut}
	case shapeSingleV2:
		p := abi.ConvertType(out[0], new(v3SingleV2)).(*v3SingleV2)
		tokenIn, tokenOut, fee = p.TokenIn, p.TokenOut, p.Fee
		amountA, amountB = p.AmountA, p.AmountB
		deadline = time.Now().Add(substituteDeadline).Unix()
		path = []common.Address{tokenIn, tokenOut}
	case shapePathV1:
		p := abi.ConvertType(out[0], new(v3PathV1)).(*v3PathV1)
		path = decodePackedPath(p.Path)
		amountA, amountB = p.AmountA, p.AmountB
		deadline = p.Deadline.Int64()
	case shapePathV2:
		p := abi.ConvertType(out[0], new(v3PathV2)).(*v3PathV2)
		path = decodePackedPath(p.Path)
		amountA, amountB = p.AmountA, p.AmountB
		deadline = time.Now().Add(substituteDeadline).Unix()
	}

	if len(path) < 2 {
		return nil, fmt.Errorf("%s: unusable path", method.name)
	}
	// Exact-output paths are encoded outbound-first; flip so path[0] is
	// always the input token.
	if method.exactOut && (method.shape == shapePathV1 || method.shape == shapePathV2) {
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
	}
	tokenIn, tokenOut = path[0], path[len(path)-1]

	intent := newIntent(tx, chainID, d.family())
	intent.TokenIn = addrStr(tokenIn)
	intent.TokenOut = addrStr(tokenOut)
	intent.Path = pathStrings(path)
	intent.Deadline = deadline
	intent.Metadata = map[string]any{"method": method.name}
	if fee != nil {
		intent.Metadata["feeTier"] = fee.Uint64()
	}

	if method.exactOut {
		intent.AmountIn = models.NewBigInt(amountB)
		intent.ExpectedAmountOut = models.NewBigInt(amountA)
	} else {
		intent.AmountIn = models.NewBigInt(amountA)
		intent.ExpectedAmountOut = models.NewBigInt(amountB)
	}
	return intent, nil
}
