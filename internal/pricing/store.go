// Package pricing holds the canonical price state for every venue the
// partition watches and serves immutable indexed snapshots to the detector.
package pricing

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// MaxSafeVersion is the largest version the bus can carry without losing
// precision in runtimes that read it as a double.
const MaxSafeVersion = int64(1)<<53 - 1

const versionResetMargin = 1000

// StoreConfig tunes the price store.
type StoreConfig struct {
	CleanupEvery  int           `json:"cleanup_every" yaml:"cleanup_every"`
	MaxAge        time.Duration `json:"max_age" yaml:"max_age"`
	PairCacheSize int           `json:"pair_cache_size" yaml:"pair_cache_size"`
}

// DefaultStoreConfig returns the production tuning.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		CleanupEvery:  100,
		MaxAge:        5 * time.Minute,
		PairCacheSize: 10000,
	}
}

// Store keeps the latest PriceUpdate per (chain, venue, pairKey) and builds
// versioned snapshots on demand. All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	data      map[string]map[string]map[string]*models.PriceUpdate
	pairCount int

	version       int64
	cachedVersion int64
	cached        *models.IndexedSnapshot

	updatesSinceCleanup int
	cleanupEvery        int
	maxAge              time.Duration

	normPairs *pairCache

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewStore builds an empty store. Metrics may be nil in tests.
func NewStore(cfg StoreConfig, log *logger.Logger, m *metrics.Metrics) *Store {
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = 100
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.PairCacheSize <= 0 {
		cfg.PairCacheSize = 10000
	}
	return &Store{
		data:          make(map[string]map[string]map[string]*models.PriceUpdate),
		cachedVersion: -1,
		cleanupEvery:  cfg.CleanupEvery,
		maxAge:        cfg.MaxAge,
		normPairs:     newPairCache(cfg.PairCacheSize),
		logger:        log.Named("price-store"),
		metrics:       m,
	}
}

// HandlePriceUpdate upserts one update. Invalid updates are dropped with a
// debug log; the method never fails upward.
func (s *Store) HandlePriceUpdate(u *models.PriceUpdate) bool {
	if u == nil || !u.Valid() {
		s.logger.Debug("Dropping invalid price update")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	venues, ok := s.data[u.Chain]
	if !ok {
		venues = make(map[string]map[string]*models.PriceUpdate)
		s.data[u.Chain] = venues
	}
	pairs, ok := venues[u.Venue]
	if !ok {
		pairs = make(map[string]*models.PriceUpdate)
		venues[u.Venue] = pairs
	}
	if _, exists := pairs[u.PairKey]; !exists {
		s.pairCount++
	}
	pairs[u.PairKey] = u

	s.bumpVersionLocked()
	if s.metrics != nil {
		s.metrics.PriceUpdatesIngested.Inc()
	}

	s.updatesSinceCleanup++
	if s.updatesSinceCleanup >= s.cleanupEvery {
		s.updatesSinceCleanup = 0
		s.cleanupLocked(time.Now())
	}
	return true
}

func (s *Store) bumpVersionLocked() {
	if s.version+1 > MaxSafeVersion-versionResetMargin {
		s.version = 1
		s.cachedVersion = -1
		s.logger.Warn("Price store version counter reset",
			zap.Int64("ceiling", MaxSafeVersion))
		if s.metrics != nil {
			s.metrics.VersionResets.Inc()
		}
		return
	}
	s.version++
}

// CreateIndexedSnapshot returns the current snapshot. While the store is
// unchanged the same snapshot object is returned, so callers may compare
// pointers to detect staleness.
func (s *Store) CreateIndexedSnapshot() *models.IndexedSnapshot {
	s.mu.RLock()
	if s.cached != nil && s.cachedVersion == s.version {
		snap := s.cached
		s.mu.RUnlock()
		if s.metrics != nil {
			s.metrics.SnapshotCacheHits.Inc()
		}
		return snap
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.cachedVersion == s.version {
		return s.cached
	}

	snap := s.buildSnapshotLocked()
	s.cached = snap
	s.cachedVersion = s.version
	if s.metrics != nil {
		s.metrics.SnapshotRebuilds.Inc()
	}
	return snap
}

func (s *Store) buildSnapshotLocked() *models.IndexedSnapshot {
	snap := &models.IndexedSnapshot{
		Timestamp: time.Now(),
		Version:   s.version,
		ByToken:   make(map[string][]models.PricePoint),
	}
	chainsByPair := make(map[string]map[string]struct{})

	for chain, venues := range s.data {
		for venue, pairs := range venues {
			for pairKey, update := range pairs {
				cp := *update
				snap.Raw = append(snap.Raw, &cp)

				norm := s.normPairs.normalise(pairKey)
				if norm == "" {
					continue
				}
				snap.ByToken[norm] = append(snap.ByToken[norm], models.PricePoint{
					Chain:   chain,
					Venue:   venue,
					PairKey: pairKey,
					Price:   cp.Price,
					Update:  &cp,
				})
				chains, ok := chainsByPair[norm]
				if !ok {
					chains = make(map[string]struct{}, 2)
					chainsByPair[norm] = chains
				}
				chains[chain] = struct{}{}
			}
		}
	}

	for norm, chains := range chainsByPair {
		if len(chains) >= 2 {
			snap.TokenPairs = append(snap.TokenPairs, norm)
		}
	}
	sort.Strings(snap.TokenPairs)
	return snap
}

// Cleanup removes updates older than maxAge and prunes empty nodes.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(time.Now())
}

func (s *Store) cleanupLocked(now time.Time) int {
	removed := 0
	cutoff := now.Add(-s.maxAge).UnixMilli()

	chains := make([]string, 0, len(s.data))
	for chain := range s.data {
		chains = append(chains, chain)
	}
	for _, chain := range chains {
		venues := s.data[chain]
		venueNames := make([]string, 0, len(venues))
		for venue := range venues {
			venueNames = append(venueNames, venue)
		}
		for _, venue := range venueNames {
			pairs := venues[venue]
			pairKeys := make([]string, 0, len(pairs))
			for pairKey := range pairs {
				pairKeys = append(pairKeys, pairKey)
			}
			for _, pairKey := range pairKeys {
				if pairs[pairKey].Timestamp < cutoff {
					delete(pairs, pairKey)
					s.pairCount--
					removed++
				}
			}
			if len(pairs) == 0 {
				delete(venues, venue)
			}
		}
		if len(venues) == 0 {
			delete(s.data, chain)
		}
	}

	if removed > 0 {
		s.bumpVersionLocked()
		s.logger.Debug("Pruned stale price updates", zap.Int("removed", removed))
	}
	return removed
}

// Clear drops all state including the normalised-pair memo.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string]map[string]*models.PriceUpdate)
	s.pairCount = 0
	s.cached = nil
	s.cachedVersion = -1
	s.updatesSinceCleanup = 0
	s.normPairs.clear()
	s.bumpVersionLocked()
}

// GetChains lists chains with at least one stored price, sorted.
func (s *Store) GetChains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chains := make([]string, 0, len(s.data))
	for chain := range s.data {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// GetPairCount returns the tracked pair count.
func (s *Store) GetPairCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairCount
}

// Version returns the current mutation counter.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Get returns the stored update for an exact (chain, venue, pairKey).
func (s *Store) Get(chain, venue, pairKey string) (*models.PriceUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if venues, ok := s.data[chain]; ok {
		if pairs, ok := venues[venue]; ok {
			if u, ok := pairs[pairKey]; ok {
				return u, true
			}
		}
	}
	return nil, false
}
