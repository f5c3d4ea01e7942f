package mempool

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawSwap(t *testing.T) *RawTransaction {
	t.Helper()
	return &RawTransaction{
		Hash:     "0xAAAA000000000000000000000000000000000000000000000000000000001111",
		From:     "0xBBBB000000000000000000000000000000002222",
		To:       uniV2Router.Hex(),
		Input:    "0x" + hex.EncodeToString(swapCalldata(t)),
		Value:    "0x0",
		Gas:      "0x55730",
		GasPrice: "0x6fc23ac00",
		Nonce:    "0x7",
	}
}

func TestDecodeRawWireForm(t *testing.T) {
	r := testRegistry()
	intent := r.DecodeRaw(rawSwap(t), 1)
	require.NotNil(t, intent)

	assert.Equal(t, addrStr(wethAddr), intent.TokenIn)
	assert.Equal(t, addrStr(usdcAddr), intent.TokenOut)
	assert.Equal(t, "1000000000000000000", intent.AmountIn.String())
	assert.Equal(t, "30000000000", intent.GasPrice.String())
	assert.Equal(t, uint64(7), intent.Nonce)
}

func TestDecodeRawWireIdentityWins(t *testing.T) {
	r := testRegistry()
	raw := rawSwap(t)
	intent := r.DecodeRaw(raw, 1)
	require.NotNil(t, intent)

	// The rebuilt transaction is unsigned, so hash and sender come from
	// the wire fields, lowercased.
	assert.Equal(t, strings.ToLower(raw.Hash), intent.Hash)
	assert.Equal(t, strings.ToLower(raw.From), intent.Sender)
}

func TestDecodeRawGuards(t *testing.T) {
	r := testRegistry()

	assert.Nil(t, r.DecodeRaw(nil, 1))

	noTo := rawSwap(t)
	noTo.To = ""
	assert.Nil(t, r.DecodeRaw(noTo, 1))

	short := rawSwap(t)
	short.Input = "0x38ed17"
	assert.Nil(t, r.DecodeRaw(short, 1))

	noPrefix := rawSwap(t)
	noPrefix.Input = strings.TrimPrefix(noPrefix.Input, "0x")
	assert.Nil(t, r.DecodeRaw(noPrefix, 1))
}

func TestDecodeRawUnknownSelectorMisses(t *testing.T) {
	r := testRegistry()
	raw := rawSwap(t)
	raw.Input = "0xdeadbeef" + raw.Input[10:]
	assert.Nil(t, r.DecodeRaw(raw, 1))
	assert.False(t, r.sawUppercase.Load())
}

func TestDecodeRawUppercaseSelectorLatch(t *testing.T) {
	r := testRegistry()
	raw := rawSwap(t)
	sel := raw.Input[2:10]
	require.NotEqual(t, sel, strings.ToUpper(sel), "selector must contain hex letters")

	raw.Input = "0x" + strings.ToUpper(raw.Input[2:])
	intent := r.DecodeRaw(raw, 1)
	require.NotNil(t, intent, "uppercase selector must decode after lowering")
	assert.True(t, r.sawUppercase.Load())

	// Once latched, misses skip the case scan and retry lowercased.
	again := rawSwap(t)
	again.Input = "0x" + strings.ToUpper(again.Input[2:])
	assert.NotNil(t, r.DecodeRaw(again, 1))

	miss := rawSwap(t)
	miss.Input = "0xdeadbeef" + miss.Input[10:]
	assert.Nil(t, r.DecodeRaw(miss, 1))
}

func TestDecodeRawMalformedQuantity(t *testing.T) {
	r := testRegistry()
	raw := rawSwap(t)
	raw.Value = "0xzz"
	assert.Nil(t, r.DecodeRaw(raw, 1))
}

func TestDecodeRawDynamicFee(t *testing.T) {
	r := testRegistry()
	raw := rawSwap(t)
	raw.GasPrice = ""
	raw.MaxFeePerGas = "0x77359400"
	raw.MaxPriorityFeePerGas = "0x3b9aca00"

	intent := r.DecodeRaw(raw, 1)
	require.NotNil(t, intent)
	require.NotNil(t, intent.MaxFeePerGas)
	require.NotNil(t, intent.MaxPriorityFee)
	assert.Equal(t, "2000000000", intent.MaxFeePerGas.String())
	assert.Equal(t, "1000000000", intent.MaxPriorityFee.String())
}

func TestHexQuantityDefaults(t *testing.T) {
	v, err := hexQuantity("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int64())

	v, err = hexQuantity("0x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int64())

	v, err = hexQuantity("0x1b")
	require.NoError(t, err)
	assert.Equal(t, int64(27), v.Int64())

	_, err = hexQuantity("27")
	assert.Error(t, err)
}
