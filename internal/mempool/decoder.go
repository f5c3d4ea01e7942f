// Package mempool decodes raw pending transactions into canonical swap
// intents. A selector-indexed registry routes each transaction to a family
// decoder (V2-style, V3-style, Curve, 1inch); everything else is ignored.
package mempool

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
)

// defaultSlippage applies to every family that does not derive one.
const defaultSlippage = 0.005

// substituteDeadline covers methods without a deadline argument.
const substituteDeadline = time.Hour

type selectorKey [4]byte

func selectorOf(signature string) selectorKey {
	var key selectorKey
	copy(key[:], crypto.Keccak256([]byte(signature))[:4])
	return key
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

var (
	typeUint256      = mustType("uint256", nil)
	typeInt128       = mustType("int128", nil)
	typeBool         = mustType("bool", nil)
	typeBytes        = mustType("bytes", nil)
	typeBytes32      = mustType("bytes32", nil)
	typeAddress      = mustType("address", nil)
	typeAddressArray = mustType("address[]", nil)
	typeUint256Array = mustType("uint256[]", nil)
)

func args(types ...abi.Type) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: t}
	}
	return out
}

// familyDecoder parses the calldata of one router family.
type familyDecoder interface {
	// family is the fallback intent type when the router address is not in
	// any router table.
	family() models.RouterType
	// selectors lists the 4-byte method ids this family claims.
	selectors() []selectorKey
	// decode parses the transaction; it must return nil, err instead of
	// panicking on malformed input.
	decode(tx *types.Transaction, chainID int64, sel selectorKey) (*models.PendingSwapIntent, error)
}

func addrStr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func pathStrings(path []common.Address) []string {
	out := make([]string, len(path))
	for i, a := range path {
		out[i] = addrStr(a)
	}
	return out
}

// senderOf recovers the transaction signer; unsigned transactions map to
// the zero address so decoding still produces a structurally valid intent.
func senderOf(tx *types.Transaction, chainID int64) string {
	signer := types.LatestSignerForChainID(big.NewInt(chainID))
	from, err := types.Sender(signer, tx)
	if err != nil {
		return addrStr(common.Address{})
	}
	return addrStr(from)
}

// newIntent assembles the fields every family shares: identity, gas terms
// across legacy and EIP-1559 shapes, nonce and arrival time.
func newIntent(tx *types.Transaction, chainID int64, family models.RouterType) *models.PendingSwapIntent {
	intent := &models.PendingSwapIntent{
		Hash:              tx.Hash().Hex(),
		Router:            addrStr(*tx.To()),
		Type:              family,
		SlippageTolerance: defaultSlippage,
		Sender:            senderOf(tx, chainID),
		GasPrice:          models.NewBigInt(tx.GasPrice()),
		Nonce:             tx.Nonce(),
		ChainID:           chainID,
		FirstSeen:         time.Now().UnixMilli(),
	}
	if tx.Type() == types.DynamicFeeTxType {
		maxFee := models.NewBigInt(tx.GasFeeCap())
		maxPrio := models.NewBigInt(tx.GasTipCap())
		intent.MaxFeePerGas = &maxFee
		intent.MaxPriorityFee = &maxPrio
	}
	return intent
}

func resolveNative(chainID int64, token common.Address) string {
	return addrStr(blockchain.ResolveNative(chainID, token))
}
