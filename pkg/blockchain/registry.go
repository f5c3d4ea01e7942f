package blockchain

import (
	"sort"
	"sync"
)

// Registry holds the providers for every chain this instance serves.
type Registry struct {
	mu        sync.RWMutex
	providers map[int64]Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[int64]Provider)}
}

// Register stores a provider, replacing and closing any previous one for
// the same chain.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	prev := r.providers[p.ChainID()]
	r.providers[p.ChainID()] = p
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Get returns the provider for a chain ID.
func (r *Registry) Get(chainID int64) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[chainID]
	return p, ok
}

// GetByName looks a provider up by canonical chain name.
func (r *Registry) GetByName(chain string) (Provider, bool) {
	id, ok := ChainID(chain)
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

// Chains lists registered chain IDs in ascending order.
func (r *Registry) Chains() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HealthSnapshot reports per-chain health for the health endpoint.
func (r *Registry) HealthSnapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.providers))
	for id, p := range r.providers {
		out[ChainName(id)] = p.IsHealthy()
	}
	return out
}

// Close shuts every provider down.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.providers {
		p.Close()
		delete(r.providers, id)
	}
}
