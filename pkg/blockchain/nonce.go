package blockchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type nonceKey struct {
	chainID int64
	account common.Address
}

// NonceManager allocates strictly increasing nonces per account and chain.
// The first allocation syncs with the node's pending pool; later ones are
// served locally so concurrent submissions never reuse a nonce.
type NonceManager struct {
	mu    sync.Mutex
	next  map[nonceKey]uint64
	known map[nonceKey]bool
}

// NewNonceManager returns an empty manager.
func NewNonceManager() *NonceManager {
	return &NonceManager{
		next:  make(map[nonceKey]uint64),
		known: make(map[nonceKey]bool),
	}
}

// Next returns the nonce to use for the account's next transaction.
func (m *NonceManager) Next(ctx context.Context, provider Provider, account common.Address) (uint64, error) {
	key := nonceKey{chainID: provider.ChainID(), account: account}

	m.mu.Lock()
	if m.known[key] {
		nonce := m.next[key]
		m.next[key] = nonce + 1
		m.mu.Unlock()
		return nonce, nil
	}
	m.mu.Unlock()

	pending, err := provider.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("fetch pending nonce: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have synced while we were fetching.
	if m.known[key] {
		nonce := m.next[key]
		m.next[key] = nonce + 1
		return nonce, nil
	}
	m.known[key] = true
	m.next[key] = pending + 1
	return pending, nil
}

// Reset discards local state for an account so the next allocation
// re-syncs with the node. Call it after a failed or replaced submission.
func (m *NonceManager) Reset(chainID int64, account common.Address) {
	key := nonceKey{chainID: chainID, account: account}
	m.mu.Lock()
	delete(m.known, key)
	delete(m.next, key)
	m.mu.Unlock()
}
