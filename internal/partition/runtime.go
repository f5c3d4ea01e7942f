// Package partition assembles one detection partition: stream subscribers,
// the detection pipeline, mempool watchers, and the health endpoint.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/config"
	"github.com/sonicx222/arbitrage-new-sub012/internal/detector"
	"github.com/sonicx222/arbitrage-new-sub012/internal/execution"
	"github.com/sonicx222/arbitrage-new-sub012/internal/liquidity"
	"github.com/sonicx222/arbitrage-new-sub012/internal/mempool"
	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/internal/pricing"
	"github.com/sonicx222/arbitrage-new-sub012/internal/publisher"
	"github.com/sonicx222/arbitrage-new-sub012/internal/whales"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/redis"
)

// ingressStreams are the streams every partition subscribes to.
var ingressStreams = []string{
	models.StreamPriceUpdates,
	models.StreamWhaleTransactions,
	models.StreamPendingSwaps,
}

// publisherSweepEvery matches the dedupe TTL so expired entries do not
// linger much past their window.
const publisherSweepEvery = 5 * time.Second

// Runtime owns one partition's component graph and its lifecycle.
type Runtime struct {
	cfg    *config.Config
	chains *config.ChainsConfig

	logger  *logger.Logger
	metrics *metrics.Metrics

	redis *redis.Client
	bus   *redis.StreamBus

	providers *blockchain.Registry
	nonces    *blockchain.NonceManager

	store    *pricing.Store
	tracker  *whales.Tracker
	liq      *liquidity.Validator
	pub      *publisher.Publisher
	decoders *mempool.Registry
	watcher  *mempool.Watcher
	det      *detector.Detector
	quoter   *execution.BatchQuoterService
	gate     *execution.Gate

	health *healthServer

	startedAt time.Time
	ready     atomic.Bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRuntime builds the component graph for the configured chain subset.
// It connects to Redis and dials the chain providers; a provider that fails
// to dial degrades on-chain checks instead of failing startup.
func NewRuntime(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Runtime, error) {
	chains, err := config.LoadChains(cfg.ChainsConfigPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	client, err := redis.NewClient(ctx, redis.DefaultConfig(cfg.RedisURL), log)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	bus := redis.NewStreamBus(client, log)

	providers := blockchain.NewRegistry()
	for chain, url := range cfg.RPCEndpoints {
		chainID, ok := blockchain.ChainID(chain)
		if !ok {
			continue
		}
		provider, err := blockchain.Dial(ctx, chainID, url, log)
		if err != nil {
			log.Warn("Provider unavailable, on-chain checks degrade",
				zap.String("chain", chain),
				zap.String("endpoint", config.RedactURL(url)),
				zap.Error(err))
			continue
		}
		providers.Register(provider)
		log.Info("Provider connected",
			zap.String("chain", chain),
			zap.String("endpoint", config.RedactURL(url)))
	}
	if cfg.SolanaRPCURL != "" {
		log.Info("Solana RPC resolved",
			zap.String("endpoint", config.RedactURL(cfg.SolanaRPCURL)))
	}

	store := pricing.NewStore(pricing.DefaultStoreConfig(), log, m)
	tracker := whales.NewTracker(whales.DefaultConfig(), log, m)
	liq := liquidity.NewValidator(liquidity.DefaultConfig(), liquidity.NewChainFetcher(providers), log, m)

	pubCfg := publisher.DefaultConfig()
	pubCfg.DefaultTradeSizeUsd = cfg.DefaultTradeSizeUsd
	pub := publisher.NewPublisher(pubCfg, bus, log, m)

	detCfg := detector.DefaultConfig()
	detCfg.TradeSizeUsd = cfg.DefaultTradeSizeUsd
	detCfg.CrossChainEnabled = cfg.CrossChainEnabled
	detCfg.TriangularEnabled = cfg.TriangularEnabled
	detCfg.MaxTriangularDepth = cfg.MaxTriangularDepth
	detCfg.MinProfitPercent = cfg.MinProfitThreshold
	det := detector.NewDetector(detCfg, store, tracker, liq, pub, chains, log, m)

	decoders := mempool.NewRegistry(chains, log, m)
	quoter := execution.NewBatchQuoterService(
		execution.QuoterConfig{Enabled: cfg.BatchQuotesEnabled}, chains, providers, log, m)
	nonces := blockchain.NewNonceManager()

	simCfg := execution.DefaultSimulatorConfig()
	simCfg.MaxOpportunityAge = cfg.OpportunityExpiry
	sim := execution.NewPathSimulator(simCfg, quoter, log)
	gate := execution.NewGate(execution.DefaultGateConfig(), providers, nonces, sim, log, m)

	r := &Runtime{
		cfg:       cfg,
		chains:    chains,
		logger:    log.Named("partition"),
		metrics:   m,
		redis:     client,
		bus:       bus,
		providers: providers,
		nonces:    nonces,
		store:     store,
		tracker:   tracker,
		liq:       liq,
		pub:       pub,
		decoders:  decoders,
		watcher:   mempool.NewWatcher(decoders, bus, log),
		det:       det,
		quoter:    quoter,
		gate:      gate,
		startedAt: time.Now(),
	}
	r.health = newHealthServer(cfg.HealthCheckPort, r)
	return r, nil
}

// Start creates the consumer groups and launches every worker: one
// subscriber per ingress stream, mempool watchers per websocket endpoint,
// the detection loop, the publisher janitor and the health server.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	group := models.ConsumerGroupDetector
	consumer := r.cfg.ConsumerName()
	for _, stream := range ingressStreams {
		if err := r.bus.EnsureGroup(ctx, stream, group, "$"); err != nil {
			return err
		}
	}

	r.subscribe(ctx, models.StreamPriceUpdates, group, consumer, r.handlePriceUpdate)
	r.subscribe(ctx, models.StreamWhaleTransactions, group, consumer, r.handleWhaleTransaction)
	r.subscribe(ctx, models.StreamPendingSwaps, group, consumer, r.handlePendingSwap)

	for chain, wsURL := range r.cfg.WSEndpoints {
		chainID, ok := blockchain.ChainID(chain)
		if !ok {
			continue
		}
		r.wg.Add(1)
		go func(id int64, url string) {
			defer r.wg.Done()
			r.watcher.Run(ctx, id, url)
		}(chainID, wsURL)
	}

	if err := r.det.Start(ctx); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.publisherJanitor(ctx)

	r.health.start()

	r.ready.Store(true)
	r.logger.Info("Partition runtime ready",
		zap.String("instance", r.cfg.InstanceID),
		zap.String("region", r.cfg.RegionID),
		zap.Strings("chains", r.cfg.PartitionChains),
		zap.Int("healthPort", r.cfg.HealthCheckPort))
	return nil
}

// Shutdown stops everything in reverse start order. It is safe to call
// more than once.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() {
		r.ready.Store(false)
		r.logger.Info("Shutting partition down")

		if r.cancel != nil {
			r.cancel()
		}
		r.det.Stop()
		r.wg.Wait()

		r.pub.Cleanup()
		r.pub.Clear()
		r.liq.ClearCache()
		r.store.Clear()

		r.providers.Close()
		r.health.stop(ctx)
		if err := r.redis.Close(); err != nil {
			r.logger.Warn("Redis close failed", zap.Error(err))
		}
		r.logger.Info("Partition shutdown complete")
	})
}

func (r *Runtime) subscribe(ctx context.Context, stream, group, consumer string, handler redis.Handler) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.bus.Consume(ctx, stream, group, consumer, handler)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Subscriber exited",
				zap.String("stream", stream),
				zap.Error(err))
		}
	}()
}

// Malformed entries are acknowledged and dropped; redelivering them would
// just fail again.
func (r *Runtime) handlePriceUpdate(ctx context.Context, msg redis.Message) error {
	update, err := models.DecodePriceUpdate(msg.Data)
	if err != nil {
		r.logger.Debug("Dropping malformed price update",
			zap.String("id", msg.ID),
			zap.Error(err))
		return nil
	}
	r.store.HandlePriceUpdate(update)
	return nil
}

func (r *Runtime) handleWhaleTransaction(ctx context.Context, msg redis.Message) error {
	tx, err := models.DecodeWhaleTransaction(msg.Data)
	if err != nil {
		r.logger.Debug("Dropping malformed whale transaction",
			zap.String("id", msg.ID),
			zap.Error(err))
		return nil
	}
	r.tracker.RecordTransaction(tx)
	return nil
}

// handlePendingSwap blocks when the detector's intent buffer is full. That
// back-pressure is deliberate: it slows the consumer group down instead of
// dropping intents.
func (r *Runtime) handlePendingSwap(ctx context.Context, msg redis.Message) error {
	record, err := models.DecodePendingSwapRecord(msg.Data)
	if err != nil {
		r.logger.Debug("Dropping malformed pending swap",
			zap.String("id", msg.ID),
			zap.Error(err))
		return nil
	}
	return r.det.QueuePendingIntent(ctx, record.Intent)
}

func (r *Runtime) publisherJanitor(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(publisherSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pub.Cleanup()
		}
	}
}

// Gate exposes the submission gate for downstream executors.
func (r *Runtime) Gate() *execution.Gate {
	return r.gate
}

// Quoter exposes the batch quote service.
func (r *Runtime) Quoter() *execution.BatchQuoterService {
	return r.quoter
}
