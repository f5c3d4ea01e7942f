package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PendingSwapRecord is the envelope appended to the pending-swap stream.
// Producers on other runtimes write the same shape, so validation here is
// strict about the fields the detector depends on.
type PendingSwapRecord struct {
	Type        string             `json:"type"`
	Intent      *PendingSwapIntent `json:"intent"`
	PublishedAt int64              `json:"publishedAt"` // unix ms
}

// NewPendingSwapRecord wraps a decoded intent for publication.
func NewPendingSwapRecord(intent *PendingSwapIntent, publishedAt int64) *PendingSwapRecord {
	return &PendingSwapRecord{
		Type:        "pending",
		Intent:      intent,
		PublishedAt: publishedAt,
	}
}

// Validate checks the record against the consumer contract. Records that
// fail are dropped and counted, never retried.
func (r *PendingSwapRecord) Validate() error {
	if r.Type != "pending" {
		return fmt.Errorf("unexpected record type %q", r.Type)
	}
	if r.Intent == nil {
		return fmt.Errorf("missing intent")
	}
	return r.Intent.Validate()
}

// Validate checks the structural invariants of a decoded intent.
func (i *PendingSwapIntent) Validate() error {
	switch {
	case i.Hash == "":
		return fmt.Errorf("missing hash")
	case i.Router == "":
		return fmt.Errorf("missing router")
	case i.TokenIn == "":
		return fmt.Errorf("missing tokenIn")
	case i.TokenOut == "":
		return fmt.Errorf("missing tokenOut")
	case i.Sender == "":
		return fmt.Errorf("missing sender")
	case i.ChainID <= 0:
		return fmt.Errorf("invalid chainId %d", i.ChainID)
	case i.Deadline <= 0:
		return fmt.Errorf("invalid deadline %d", i.Deadline)
	case i.SlippageTolerance < 0:
		return fmt.Errorf("negative slippageTolerance %f", i.SlippageTolerance)
	case len(i.Path) < 2:
		return fmt.Errorf("path too short (%d)", len(i.Path))
	case !strings.EqualFold(i.Path[0], i.TokenIn):
		return fmt.Errorf("path start %s does not match tokenIn %s", i.Path[0], i.TokenIn)
	case !strings.EqualFold(i.Path[len(i.Path)-1], i.TokenOut):
		return fmt.Errorf("path end %s does not match tokenOut %s", i.Path[len(i.Path)-1], i.TokenOut)
	}
	return nil
}

// DecodePendingSwapRecord parses and validates one stream entry payload.
func DecodePendingSwapRecord(data []byte) (*PendingSwapRecord, error) {
	var rec PendingSwapRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode pending record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pending record: %w", err)
	}
	return &rec, nil
}

// DecodePriceUpdate parses one price stream entry payload.
func DecodePriceUpdate(data []byte) (*PriceUpdate, error) {
	var u PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode price update: %w", err)
	}
	if !u.Valid() {
		return nil, fmt.Errorf("invalid price update %s/%s/%s price=%f", u.Chain, u.Venue, u.PairKey, u.Price)
	}
	return &u, nil
}

// DecodeWhaleTransaction parses one whale stream entry payload.
func DecodeWhaleTransaction(data []byte) (*WhaleTransaction, error) {
	var tx WhaleTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("decode whale transaction: %w", err)
	}
	if tx.Token == "" || tx.TxHash == "" {
		return nil, fmt.Errorf("whale transaction missing token or txHash")
	}
	if tx.Direction != DirectionBuy && tx.Direction != DirectionSell {
		return nil, fmt.Errorf("unknown whale direction %q", tx.Direction)
	}
	return &tx, nil
}
