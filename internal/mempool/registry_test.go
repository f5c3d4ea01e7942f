package mempool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

func swapCalldata(t *testing.T) []byte {
	t.Helper()
	return calldata(t, "swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
		v2TokenShape,
		big.NewInt(1e18), big.NewInt(2_500_000_000),
		[]common.Address{wethAddr, usdcAddr}, recipientAddr, big.NewInt(testDeadline))
}

func TestRegistryIgnoresNonSwaps(t *testing.T) {
	r := testRegistry()

	assert.Nil(t, r.Decode(nil, 1))

	// Contract creation has no recipient.
	create := types.NewTx(&types.LegacyTx{Data: swapCalldata(t)})
	assert.Nil(t, r.Decode(create, 1))

	short := types.NewTx(&types.LegacyTx{To: &uniV2Router, Data: []byte{0x38, 0xed}})
	assert.Nil(t, r.Decode(short, 1))

	transfer := calldata(t, "transfer(address,uint256)",
		args(typeAddress, typeUint256), recipientAddr, big.NewInt(1))
	assert.Nil(t, r.Decode(legacyTx(uniV2Router, transfer, nil), 1))
}

func TestRegistryRefinesTypeByRouterAddress(t *testing.T) {
	r := testRegistry()
	data := swapCalldata(t)

	// The SushiSwap router shares V2 calldata but gets its own type.
	intent := r.Decode(legacyTx(sushiRouter, data, nil), 1)
	require.NotNil(t, intent)
	assert.Equal(t, models.RouterSushiswap, intent.Type)

	// An unlisted router keeps the family default.
	unknownRouter := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	intent = r.Decode(legacyTx(unknownRouter, data, nil), 1)
	require.NotNil(t, intent)
	assert.Equal(t, models.RouterUniswapV2, intent.Type)
}

func TestRegistryCrossChainRouterFallback(t *testing.T) {
	r := testRegistry()
	data := swapCalldata(t)

	// SushiSwap is only listed for ethereum; on another chain the flat
	// table still refines the type.
	intent := r.Decode(legacyTx(sushiRouter, data, nil), 137)
	require.NotNil(t, intent)
	assert.Equal(t, models.RouterSushiswap, intent.Type)
}

func TestRegistrySurvivesDecoderPanic(t *testing.T) {
	r := testRegistry()
	// Valid selector with a head that points outside the calldata still
	// must not take the consumer down.
	sel := selectorOf("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)")
	junk := append(sel[:], make([]byte, 32)...)

	assert.NotPanics(t, func() {
		assert.Nil(t, r.Decode(legacyTx(uniV2Router, junk, nil), 1))
	})
}

func TestRegistryWithoutChainConfig(t *testing.T) {
	r := NewRegistry(nil, logger.NewNop(), nil)
	intent := r.Decode(legacyTx(uniV2Router, swapCalldata(t), nil), 1)
	require.NotNil(t, intent)
	assert.Equal(t, models.RouterUniswapV2, intent.Type)
}
