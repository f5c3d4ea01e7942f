package mempool

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/config"
	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// Registry routes pending transactions to family decoders by 4-byte
// selector and refines the intent type by router address. The selector
// miss path is the hot one; well over nine in ten pending transactions
// are not swaps we understand.
type Registry struct {
	decoders      map[selectorKey]familyDecoder
	selectorIndex map[string]familyDecoder
	sawUppercase  atomic.Bool
	chainRouters  map[int64]map[string]models.RouterType
	flatRouters   map[string]models.RouterType
	curvePools    *curvePoolRegistry

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewRegistry builds the registry with all four family decoders and the
// router tables from the chain configuration. Metrics may be nil.
func NewRegistry(chains *config.ChainsConfig, log *logger.Logger, m *metrics.Metrics) *Registry {
	r := &Registry{
		decoders:      make(map[selectorKey]familyDecoder),
		selectorIndex: make(map[string]familyDecoder),
		chainRouters:  make(map[int64]map[string]models.RouterType),
		flatRouters:   make(map[string]models.RouterType),
		curvePools:    newCurvePoolRegistry(),
		logger:        log.Named("decoder-registry"),
		metrics:       m,
	}

	r.install(newV2Decoder())
	r.install(newV3Decoder())
	r.install(newCurveDecoder(r.curvePools))
	r.install(newOneInchDecoder())

	if chains != nil {
		for _, params := range chains.Chains {
			for addr, familyName := range params.Routers {
				family, ok := parseRouterType(familyName)
				if !ok {
					r.logger.Warn("Skipping router with unknown family",
						zap.String("router", addr),
						zap.String("family", familyName))
					continue
				}
				r.registerRouter(params.ChainID, addr, family)
			}
		}
	}
	return r
}

func (r *Registry) install(dec familyDecoder) {
	for _, sel := range dec.selectors() {
		if existing, clash := r.decoders[sel]; clash {
			panic(fmt.Sprintf("selector %x claimed by both %s and %s",
				sel, existing.family(), dec.family()))
		}
		r.decoders[sel] = dec
		r.selectorIndex["0x"+hex.EncodeToString(sel[:])] = dec
	}
}

// registerRouter records a router address for both the per-chain and the
// any-chain lookup.
func (r *Registry) registerRouter(chainID int64, addr string, family models.RouterType) {
	addr = strings.ToLower(addr)
	routers, ok := r.chainRouters[chainID]
	if !ok {
		routers = make(map[string]models.RouterType)
		r.chainRouters[chainID] = routers
	}
	routers[addr] = family
	r.flatRouters[addr] = family
}

// AddCurvePool registers a pool's coin list so later swaps on it resolve
// token addresses instead of carrying pool placeholders.
func (r *Registry) AddCurvePool(chainID int64, pool string, tokens []string) {
	r.curvePools.add(chainID, pool, tokens)
}

// Decode classifies and parses one pending transaction. It returns nil for
// anything that is not a fully-valid swap intent; it never panics.
func (r *Registry) Decode(tx *types.Transaction, chainID int64) *models.PendingSwapIntent {
	if tx == nil || tx.To() == nil {
		return nil
	}
	data := tx.Data()
	if len(data) < 4 {
		return nil
	}
	var sel selectorKey
	copy(sel[:], data[:4])

	dec, ok := r.decoders[sel]
	if !ok {
		return nil
	}

	intent, err := r.safeDecode(dec, tx, chainID, sel)
	if err != nil {
		r.logger.Debug("Decode failed",
			zap.String("family", string(dec.family())),
			zap.String("tx", tx.Hash().Hex()),
			zap.Error(err))
		if r.metrics != nil {
			r.metrics.IntentsRejected.WithLabelValues("decode_error").Inc()
		}
		return nil
	}

	if family, ok := r.routerFamily(chainID, intent.Router); ok {
		intent.Type = family
	}

	if err := intent.Validate(); err != nil {
		r.logger.Debug("Decoded intent failed validation",
			zap.String("tx", tx.Hash().Hex()),
			zap.Error(err))
		if r.metrics != nil {
			r.metrics.IntentsRejected.WithLabelValues("invalid_intent").Inc()
		}
		return nil
	}

	if r.metrics != nil {
		r.metrics.IntentsDecoded.WithLabelValues(string(intent.Type)).Inc()
	}
	return intent
}

func (r *Registry) safeDecode(dec familyDecoder, tx *types.Transaction, chainID int64, sel selectorKey) (intent *models.PendingSwapIntent, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			intent = nil
			err = fmt.Errorf("decoder panic: %v", rec)
		}
	}()
	return dec.decode(tx, chainID, sel)
}

func (r *Registry) routerFamily(chainID int64, router string) (models.RouterType, bool) {
	router = strings.ToLower(router)
	if routers, ok := r.chainRouters[chainID]; ok {
		if family, ok := routers[router]; ok {
			return family, true
		}
	}
	family, ok := r.flatRouters[router]
	return family, ok
}

func parseRouterType(s string) (models.RouterType, bool) {
	switch models.RouterType(s) {
	case models.RouterUniswapV2, models.RouterUniswapV3, models.RouterSushiswap,
		models.RouterPancakeswap, models.RouterCurve, models.RouterOneInch:
		return models.RouterType(s), true
	default:
		return models.RouterUnknown, false
	}
}
