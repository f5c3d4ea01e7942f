package mempool

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

const (
	watcherTxBuffer    = 256
	watcherMaxBackoff  = 30 * time.Second
	watcherBaseBackoff = time.Second
)

// Bus is the slice of the stream bus the watcher publishes through.
type Bus interface {
	Append(ctx context.Context, stream string, maxLen int64, payload any) (string, error)
}

// Watcher subscribes to a chain's pending transactions over websocket,
// decodes swap intents and publishes them to the pending swaps stream.
type Watcher struct {
	registry *Registry
	bus      Bus
	logger   *logger.Logger
}

// NewWatcher builds a watcher on top of a decoder registry.
func NewWatcher(registry *Registry, bus Bus, log *logger.Logger) *Watcher {
	return &Watcher{
		registry: registry,
		bus:      bus,
		logger:   log.Named("mempool-watcher"),
	}
}

// Run watches one chain until ctx is cancelled, reconnecting with capped
// exponential backoff when the subscription drops.
func (w *Watcher) Run(ctx context.Context, chainID int64, wsURL string) {
	chain := blockchain.ChainName(chainID)
	backoff := watcherBaseBackoff
	for {
		err := w.watch(ctx, chainID, wsURL)
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("Mempool subscription dropped, reconnecting",
			zap.String("chain", chain),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < watcherMaxBackoff {
			backoff *= 2
		}
	}
}

func (w *Watcher) watch(ctx context.Context, chainID int64, wsURL string) error {
	client, err := rpc.DialContext(ctx, wsURL)
	if err != nil {
		return err
	}
	defer client.Close()

	txs := make(chan *types.Transaction, watcherTxBuffer)
	sub, err := gethclient.New(client).SubscribeFullPendingTransactions(ctx, txs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	w.logger.Info("Watching pending transactions",
		zap.String("chain", blockchain.ChainName(chainID)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case tx := <-txs:
			w.handle(ctx, tx, chainID)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, tx *types.Transaction, chainID int64) {
	intent := w.registry.Decode(tx, chainID)
	if intent == nil {
		return
	}
	record := models.NewPendingSwapRecord(intent, time.Now().UnixMilli())
	if _, err := w.bus.Append(ctx, models.StreamPendingSwaps, models.DefaultStreamMaxLen, record); err != nil {
		w.logger.Warn("Failed to publish pending intent",
			zap.String("hash", intent.Hash),
			zap.Error(err))
	}
}
