package mempool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
)

// Tests pack their own calldata the way an aggregator client would.
var oneInchSwapArgs = args(
	typeAddress,
	mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "srcToken", Type: "address"},
		{Name: "dstToken", Type: "address"},
		{Name: "srcReceiver", Type: "address"},
		{Name: "dstReceiver", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "minReturnAmount", Type: "uint256"},
		{Name: "flags", Type: "uint256"},
	}),
	typeBytes, typeBytes,
)

func poolWord(addr common.Address, reverse bool) *big.Int {
	word := new(big.Int).SetBytes(addr.Bytes())
	if reverse {
		word.Or(word, new(big.Int).Lsh(big.NewInt(1), 255))
	}
	return word
}

func TestOneInchSwapUsesDescriptor(t *testing.T) {
	r := testRegistry()
	data := calldata(t, "swap(address,(address,address,address,address,uint256,uint256,uint256),bytes,bytes)",
		oneInchSwapArgs,
		recipientAddr,
		oneInchSwapDesc{
			SrcToken:        wethAddr,
			DstToken:        usdcAddr,
			SrcReceiver:     recipientAddr,
			DstReceiver:     recipientAddr,
			Amount:          big.NewInt(1e18),
			MinReturnAmount: big.NewInt(2_450_000_000),
			Flags:           new(big.Int),
		},
		[]byte{}, []byte{0x01})

	intent := r.Decode(legacyTx(oneInchRouter, data, nil), 1)
	require.NotNil(t, intent)

	assert.Equal(t, models.RouterOneInch, intent.Type)
	assert.Equal(t, addrStr(wethAddr), intent.TokenIn)
	assert.Equal(t, addrStr(usdcAddr), intent.TokenOut)
	assert.Equal(t, "1000000000000000000", intent.AmountIn.String())
	assert.Equal(t, "2450000000", intent.ExpectedAmountOut.String())
	assert.Equal(t, []string{addrStr(wethAddr), addrStr(usdcAddr)}, intent.Path)
}

func TestOneInchSwapNativeSourceResolves(t *testing.T) {
	r := testRegistry()
	data := calldata(t, "swap(address,(address,address,address,address,uint256,uint256,uint256),bytes,bytes)",
		oneInchSwapArgs,
		recipientAddr,
		oneInchSwapDesc{
			SrcToken:        common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"),
			DstToken:        usdcAddr,
			SrcReceiver:     recipientAddr,
			DstReceiver:     recipientAddr,
			Amount:          big.NewInt(1e18),
			MinReturnAmount: big.NewInt(2_450_000_000),
			Flags:           new(big.Int),
		},
		[]byte{}, []byte{})

	intent := r.Decode(legacyTx(oneInchRouter, data, big.NewInt(1e18)), 1)
	require.NotNil(t, intent)
	assert.Equal(t, addrStr(wethAddr), intent.TokenIn)
}

func TestOneInchUnoswapCarriesPoolHint(t *testing.T) {
	r := testRegistry()
	pool := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	shape := args(typeAddress, typeUint256, typeUint256, typeUint256Array)
	data := calldata(t, "unoswap(address,uint256,uint256,uint256[])",
		shape,
		wethAddr, big.NewInt(1e18), big.NewInt(2_400_000_000),
		[]*big.Int{poolWord(pool, true)})

	intent := r.Decode(legacyTx(oneInchRouter, data, nil), 1)
	require.NotNil(t, intent)

	// The direction bit in the route word must not leak into the address.
	assert.Equal(t, addrStr(wethAddr), intent.TokenIn)
	assert.Equal(t, addrStr(pool), intent.TokenOut)
	assert.Equal(t, false, intent.Metadata["tokensResolved"])
	assert.Equal(t, 1, intent.Metadata["poolCount"])
}

func TestOneInchUnoswapEmptyRouteRejected(t *testing.T) {
	r := testRegistry()
	shape := args(typeAddress, typeUint256, typeUint256, typeUint256Array)
	data := calldata(t, "unoswap(address,uint256,uint256,uint256[])",
		shape,
		wethAddr, big.NewInt(1e18), big.NewInt(1), []*big.Int{})

	assert.Nil(t, r.Decode(legacyTx(oneInchRouter, data, nil), 1))
}

func TestOneInchV3SwapNativeInput(t *testing.T) {
	r := testRegistry()
	pool := common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	shape := args(typeUint256, typeUint256, typeUint256Array)
	data := calldata(t, "uniswapV3Swap(uint256,uint256,uint256[])",
		shape,
		big.NewInt(1e18), big.NewInt(2_400_000_000),
		[]*big.Int{poolWord(pool, false)})

	intent := r.Decode(legacyTx(oneInchRouter, data, big.NewInt(1e18)), 1)
	require.NotNil(t, intent)

	// Value > 0 marks a native-asset input.
	assert.Equal(t, addrStr(wethAddr), intent.TokenIn)
	assert.Equal(t, addrStr(pool), intent.TokenOut)
}

func TestOneInchV3SwapTokenInputUsesPoolHint(t *testing.T) {
	r := testRegistry()
	first := common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	last := common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	shape := args(typeUint256, typeUint256, typeUint256Array)
	data := calldata(t, "uniswapV3Swap(uint256,uint256,uint256[])",
		shape,
		big.NewInt(1_000_000), big.NewInt(990_000),
		[]*big.Int{poolWord(first, false), poolWord(last, true)})

	intent := r.Decode(legacyTx(oneInchRouter, data, nil), 1)
	require.NotNil(t, intent)

	assert.Equal(t, addrStr(first), intent.TokenIn)
	assert.Equal(t, addrStr(last), intent.TokenOut)
	assert.Equal(t, 2, intent.Metadata["poolCount"])
}

func TestOneInchClipperHonoursGoodUntil(t *testing.T) {
	r := testRegistry()
	clipperExchange := common.HexToAddress("0x655eDCE464CC797526600a462A8154650EEe4B77")
	shape := args(typeAddress, typeAddress, typeAddress, typeUint256, typeUint256, typeUint256, typeBytes32, typeBytes32)
	data := calldata(t, "clipperSwap(address,address,address,uint256,uint256,uint256,bytes32,bytes32)",
		shape,
		clipperExchange, wethAddr, usdcAddr,
		big.NewInt(1e18), big.NewInt(2_450_000_000), big.NewInt(testDeadline),
		[32]byte{0x01}, [32]byte{0x02})

	intent := r.Decode(legacyTx(oneInchRouter, data, nil), 1)
	require.NotNil(t, intent)

	assert.Equal(t, addrStr(wethAddr), intent.TokenIn)
	assert.Equal(t, addrStr(usdcAddr), intent.TokenOut)
	assert.Equal(t, testDeadline, intent.Deadline)
	assert.Equal(t, "1000000000000000000", intent.AmountIn.String())
	assert.Equal(t, "2450000000", intent.ExpectedAmountOut.String())
}
