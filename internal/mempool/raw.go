package mempool

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
)

// RawTransaction is the JSON-RPC wire form of a pending transaction, as
// delivered by collectors that subscribe through providers without typed
// bindings. Quantity fields are 0x-prefixed hex per the Ethereum JSON-RPC
// convention; absent optional fields stay empty.
type RawTransaction struct {
	Hash                 string `json:"hash"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	Input                string `json:"input"`
	Value                string `json:"value"`
	Gas                  string `json:"gas"`
	GasPrice             string `json:"gasPrice"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string `json:"nonce"`
}

// DecodeRaw classifies and parses a wire-form pending transaction. The
// selector screen works on the hex string directly so the dominant miss
// case costs one map lookup. Selectors arrive lowercase from almost every
// provider; after the first uppercase sighting the case scan is skipped
// and every miss retries lowercased.
func (r *Registry) DecodeRaw(raw *RawTransaction, chainID int64) *models.PendingSwapIntent {
	if raw == nil || raw.To == "" || len(raw.Input) < 10 || !strings.HasPrefix(raw.Input, "0x") {
		return nil
	}

	sel := raw.Input[:10]
	if _, ok := r.selectorIndex[sel]; !ok {
		if !r.sawUppercase.Load() {
			if !hasUpperHex(sel) {
				return nil
			}
			r.sawUppercase.Store(true)
		}
		if _, ok := r.selectorIndex[strings.ToLower(sel)]; !ok {
			return nil
		}
	}

	tx, err := raw.transaction(chainID)
	if err != nil {
		r.logger.Debug("Malformed raw transaction", zap.String("tx", raw.Hash), zap.Error(err))
		if r.metrics != nil {
			r.metrics.IntentsRejected.WithLabelValues("malformed_raw").Inc()
		}
		return nil
	}

	intent := r.Decode(tx, chainID)
	if intent == nil {
		return nil
	}
	// The wire hash and sender are authoritative; the rebuilt transaction
	// carries no signature to recover them from.
	if raw.Hash != "" {
		intent.Hash = strings.ToLower(raw.Hash)
	}
	if raw.From != "" {
		intent.Sender = strings.ToLower(raw.From)
	}
	return intent
}

// transaction rebuilds a typed transaction from the wire fields, enough
// for calldata decoding. EIP-1559 fields select the dynamic fee type.
func (raw *RawTransaction) transaction(chainID int64) (*types.Transaction, error) {
	value, err := hexQuantity(raw.Value)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	gasLimit, err := hexQuantity(raw.Gas)
	if err != nil {
		return nil, fmt.Errorf("gas: %w", err)
	}
	nonce, err := hexQuantity(raw.Nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	to := common.HexToAddress(raw.To)
	data := common.FromHex(raw.Input)

	if raw.MaxFeePerGas != "" {
		feeCap, err := hexQuantity(raw.MaxFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("maxFeePerGas: %w", err)
		}
		tipCap, err := hexQuantity(raw.MaxPriorityFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("maxPriorityFeePerGas: %w", err)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(chainID),
			Nonce:     nonce.Uint64(),
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit.Uint64(),
			To:        &to,
			Value:     value,
			Data:      data,
		}), nil
	}

	gasPrice, err := hexQuantity(raw.GasPrice)
	if err != nil {
		return nil, fmt.Errorf("gasPrice: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce.Uint64(),
		GasPrice: gasPrice,
		Gas:      gasLimit.Uint64(),
		To:       &to,
		Value:    value,
		Data:     data,
	}), nil
}

// hexQuantity parses a 0x-prefixed quantity, treating absence as zero.
func hexQuantity(s string) (*big.Int, error) {
	if s == "" || s == "0x" {
		return new(big.Int), nil
	}
	return hexutil.DecodeBig(s)
}

func hasUpperHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'F' {
			return true
		}
	}
	return false
}
