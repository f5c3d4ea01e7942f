package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// Provider is the engine's view of one chain's RPC endpoint. Implementations
// must be safe for concurrent use.
type Provider interface {
	ChainID() int64
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	IsHealthy() bool
	Close()
}

const (
	defaultCallTimeout   = 5 * time.Second
	healthCheckTimeout   = 3 * time.Second
	healthRecheckBackoff = 10 * time.Second

	// Free-tier RPC plans throttle around 25 req/s.
	defaultRateLimit = 20
	defaultRateBurst = 40
)

// RPCProvider backs Provider with a go-ethereum client. Calls share a
// per-endpoint rate limiter, and health is probed lazily and cached so hot
// paths never block on a probe.
type RPCProvider struct {
	chainID int64
	url     string
	client  *ethclient.Client
	limiter *rate.Limiter
	logger  *logger.Logger

	mu          sync.RWMutex
	healthy     bool
	lastChecked time.Time
}

// Dial connects to an RPC endpoint and verifies the advertised chain ID.
func Dial(ctx context.Context, chainID int64, url string, log *logger.Logger) (*RPCProvider, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ChainName(chainID), err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	advertised, err := client.ChainID(checkCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id probe %s: %w", ChainName(chainID), err)
	}
	if advertised.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("endpoint for %s reports chain id %d", ChainName(chainID), advertised.Int64())
	}

	return &RPCProvider{
		chainID:     chainID,
		url:         url,
		client:      client,
		limiter:     rate.NewLimiter(defaultRateLimit, defaultRateBurst),
		logger:      log.Named("provider").With(zap.String("chain", ChainName(chainID))),
		healthy:     true,
		lastChecked: time.Now(),
	}, nil
}

// SetRateLimit overrides the per-endpoint request budget.
func (p *RPCProvider) SetRateLimit(perSecond float64, burst int) {
	p.limiter.SetLimit(rate.Limit(perSecond))
	p.limiter.SetBurst(burst)
}

// ChainID returns the chain this provider serves.
func (p *RPCProvider) ChainID() int64 {
	return p.chainID
}

// CallContract executes a read-only call with a bounded timeout.
func (p *RPCProvider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	if err := p.limiter.Wait(callCtx); err != nil {
		return nil, err
	}
	out, err := p.client.CallContract(callCtx, msg, blockNumber)
	p.observe(err)
	return out, err
}

// SuggestGasPrice returns the node's current gas price estimate.
func (p *RPCProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	if err := p.limiter.Wait(callCtx); err != nil {
		return nil, err
	}
	price, err := p.client.SuggestGasPrice(callCtx)
	p.observe(err)
	return price, err
}

// PendingNonceAt returns the next nonce including pending transactions.
func (p *RPCProvider) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	if err := p.limiter.Wait(callCtx); err != nil {
		return 0, err
	}
	nonce, err := p.client.PendingNonceAt(callCtx, account)
	p.observe(err)
	return nonce, err
}

// SendTransaction broadcasts a signed transaction.
func (p *RPCProvider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	if err := p.limiter.Wait(callCtx); err != nil {
		return err
	}
	err := p.client.SendTransaction(callCtx, tx)
	p.observe(err)
	return err
}

// IsHealthy reports the cached health state. An unhealthy provider is
// re-probed after a backoff so transient failures heal without restarts.
func (p *RPCProvider) IsHealthy() bool {
	p.mu.RLock()
	healthy := p.healthy
	stale := time.Since(p.lastChecked) > healthRecheckBackoff
	p.mu.RUnlock()

	if healthy || !stale {
		return healthy
	}
	return p.probe()
}

func (p *RPCProvider) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	_, err := p.client.BlockNumber(ctx)

	p.mu.Lock()
	p.healthy = err == nil
	p.lastChecked = time.Now()
	healthy := p.healthy
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("Provider probe failed", zap.Error(err))
	} else {
		p.logger.Info("Provider recovered")
	}
	return healthy
}

func (p *RPCProvider) observe(err error) {
	if err == nil {
		p.mu.Lock()
		p.healthy = true
		p.lastChecked = time.Now()
		p.mu.Unlock()
		return
	}
	// Caller-side cancellation says nothing about endpoint health.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	p.mu.Lock()
	p.healthy = false
	p.lastChecked = time.Now()
	p.mu.Unlock()
}

// Close shuts the underlying client down.
func (p *RPCProvider) Close() {
	p.client.Close()
}
