// Package execution quotes and pre-simulates arbitrage paths before they
// are handed to a submitter.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/config"
	"github.com/sonicx222/arbitrage-new-sub012/internal/metrics"
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/blockchain"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// Flash loan fee in basis points, Aave V3 terms.
const (
	flashLoanFeeBps = 9
	bpsDenominator  = 10000

	quoteCallTimeout = 5 * time.Second
)

// errBatchUnsuccessful marks a batch call that executed but reported at
// least one failed hop.
var errBatchUnsuccessful = errors.New("batch quote reported failed hops")

// QuoteRequest is one hop of a path to be quoted. A zero AmountIn means the
// hop consumes the previous hop's output.
type QuoteRequest struct {
	Chain    string
	Dex      string
	Router   string
	TokenIn  string
	TokenOut string
	AmountIn *big.Int
}

// PathQuote is the outcome of quoting a full path with a fixed input.
// ExpectedProfit can be negative.
type PathQuote struct {
	AmountIn       *big.Int
	FinalAmountOut *big.Int
	FlashLoanFee   *big.Int
	ExpectedProfit *big.Int
	HopAmounts     []*big.Int
	Fallback       bool
}

// FlashLoanFee computes the borrow fee for an amount in integer math.
func FlashLoanFee(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(flashLoanFeeBps))
	return fee.Div(fee, big.NewInt(bpsDenominator))
}

// BuildQuoteRequests turns an opportunity into an ordered hop list. Paths
// with explicit hops are used as-is; otherwise the classic two-hop buy/sell
// shape is built. The path must end in the borrowed asset or the flash loan
// cannot be repaid.
func BuildQuoteRequests(op *models.ArbitrageOpportunity, chains *config.ChainsConfig, amountIn *big.Int) ([]QuoteRequest, error) {
	if op == nil {
		return nil, fmt.Errorf("nil opportunity")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amount in must be positive")
	}

	var reqs []QuoteRequest
	if len(op.Hops) > 0 {
		for i, hop := range op.Hops {
			chain := hop.Chain
			if chain == "" {
				chain = op.BuyChain
			}
			dex := hop.Dex
			if dex == "" {
				return nil, fmt.Errorf("hop %d: missing dex", i)
			}
			router := hop.Router
			if router == "" {
				if addr, ok := chains.RouterForFamily(chain, dex); ok {
					router = addr
				}
			}
			if router == "" {
				return nil, fmt.Errorf("hop %d on %s: no router known for dex %q", i, chain, dex)
			}
			if hop.TokenIn == "" || hop.TokenOut == "" {
				return nil, fmt.Errorf("hop %d: missing token", i)
			}
			req := QuoteRequest{
				Chain:    chain,
				Dex:      dex,
				Router:   router,
				TokenIn:  hop.TokenIn,
				TokenOut: hop.TokenOut,
			}
			if i == 0 {
				req.AmountIn = amountIn
			}
			reqs = append(reqs, req)
		}
	} else {
		buyDex := op.BuyDex
		if buyDex == "" {
			buyDex = op.BuyVenue
		}
		sellDex := op.SellDex
		if sellDex == "" {
			sellDex = op.SellVenue
		}
		if buyDex == "" || sellDex == "" {
			return nil, fmt.Errorf("opportunity %s: missing buy or sell dex", op.ID)
		}
		if op.TokenIn == "" || op.TokenOut == "" {
			return nil, fmt.Errorf("opportunity %s: missing tokens", op.ID)
		}
		buyRouter, ok := chains.RouterForFamily(op.BuyChain, buyDex)
		if !ok {
			return nil, fmt.Errorf("no router for dex %q on %s", buyDex, op.BuyChain)
		}
		sellRouter, ok := chains.RouterForFamily(op.SellChain, sellDex)
		if !ok {
			return nil, fmt.Errorf("no router for dex %q on %s", sellDex, op.SellChain)
		}
		reqs = []QuoteRequest{
			{Chain: op.BuyChain, Dex: buyDex, Router: buyRouter, TokenIn: op.TokenIn, TokenOut: op.TokenOut, AmountIn: amountIn},
			{Chain: op.SellChain, Dex: sellDex, Router: sellRouter, TokenIn: op.TokenOut, TokenOut: op.TokenIn},
		}
	}

	for i := 1; i < len(reqs); i++ {
		if reqs[i].Chain == reqs[i-1].Chain && !sameToken(reqs[i].TokenIn, reqs[i-1].TokenOut) {
			return nil, fmt.Errorf("hop %d consumes %s but hop %d produces %s",
				i, reqs[i].TokenIn, i-1, reqs[i-1].TokenOut)
		}
	}
	last := reqs[len(reqs)-1]
	borrowed := op.TokenIn
	if borrowed == "" {
		borrowed = reqs[0].TokenIn
	}
	if !sameToken(last.TokenOut, borrowed) {
		return nil, fmt.Errorf("path ends in %s but the flash loan must be repaid in %s",
			last.TokenOut, borrowed)
	}
	return reqs, nil
}

// sameToken compares tokens by address or by canonical symbol, so a
// bridged pair like WETH/ETH still lines up across chains.
func sameToken(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	return models.CanonicalSymbol(a) == models.CanonicalSymbol(b)
}

// Batch quoter contract ABI, built once.
var (
	quoterPathComponents = []abi.ArgumentMarshaling{
		{Name: "router", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "amountIn", Type: "uint256"},
	}

	typeQuoterPath   = mustQuoterType("tuple[]", quoterPathComponents)
	typeQuoteUint256 = mustQuoterType("uint256", nil)
	typeQuoteUintArr = mustQuoterType("uint256[]", nil)
	typeQuoteAddress = mustQuoterType("address", nil)
	typeQuoteAddrArr = mustQuoterType("address[]", nil)

	typeQuoteBool = mustQuoterType("bool", nil)

	simulatePathArgs = abi.Arguments{{Type: typeQuoterPath}, {Type: typeQuoteUint256}, {Type: typeQuoteUint256}}
	simulatePathRets = abi.Arguments{{Type: typeQuoteUintArr}, {Type: typeQuoteBool}}
	simulatePathSel  = methodSelector("simulateArbitragePath((address,address,address,uint256)[],uint256,uint256)")

	quoteSwapArgs = abi.Arguments{{Type: typeQuoteAddress}, {Type: typeQuoteAddress}, {Type: typeQuoteAddress}, {Type: typeQuoteUint256}}
	quoteSwapRets = abi.Arguments{{Type: typeQuoteUint256}}
	quoteSwapSel  = methodSelector("quoteSwap(address,address,address,uint256)")

	getAmountsOutArgs = abi.Arguments{{Type: typeQuoteUint256}, {Type: typeQuoteAddrArr}}
	getAmountsOutRets = abi.Arguments{{Type: typeQuoteUintArr}}
	getAmountsOutSel  = methodSelector("getAmountsOut(uint256,address[])")
)

// Families whose routers expose getAmountsOut directly.
var v2QuoteFamilies = map[string]bool{
	"uniswapv2":   true,
	"sushiswap":   true,
	"pancakeswap": true,
}

func mustQuoterType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

func methodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// quoterPathStep mirrors the batch quoter's path tuple.
type quoterPathStep struct {
	Router   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
}

type quoterBinding struct {
	address  common.Address
	provider blockchain.Provider
}

// QuoterConfig tunes the batch quoter service.
type QuoterConfig struct {
	// Enabled gates the batched path; when off every quote goes hop by hop.
	Enabled bool
}

// BatchQuoterService quotes full paths against per-chain batch quoter
// deployments, falling back to hop-by-hop quoting when batching is not
// available or fails.
type BatchQuoterService struct {
	cfg      QuoterConfig
	chains   *config.ChainsConfig
	registry *blockchain.Registry

	mu      sync.RWMutex
	quoters map[string]*quoterBinding

	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewBatchQuoterService builds the service. Metrics may be nil.
func NewBatchQuoterService(cfg QuoterConfig, chains *config.ChainsConfig, registry *blockchain.Registry, log *logger.Logger, m *metrics.Metrics) *BatchQuoterService {
	return &BatchQuoterService{
		cfg:      cfg,
		chains:   chains,
		registry: registry,
		quoters:  make(map[string]*quoterBinding),
		logger:   log.Named("batch-quoter"),
		metrics:  m,
	}
}

// SimulateArbitragePath quotes the opportunity's path with amountIn. Paths
// confined to one chain go through that chain's batch quoter in a single
// call; anything else, and any batch failure, is quoted hop by hop.
func (s *BatchQuoterService) SimulateArbitragePath(ctx context.Context, op *models.ArbitrageOpportunity, amountIn *big.Int) (*PathQuote, error) {
	reqs, err := BuildQuoteRequests(op, s.chains, amountIn)
	if err != nil {
		return nil, err
	}

	chain, single := singleChain(reqs)
	if !s.cfg.Enabled || !single {
		return s.quoteSequential(ctx, reqs, amountIn)
	}
	if _, ok := s.chains.Quoter(chain); !ok {
		s.logger.Debug("No batch quoter deployed, using fallback", zap.String("chain", chain))
		return s.quoteSequential(ctx, reqs, amountIn)
	}

	binding, err := s.quoterFor(chain)
	if err != nil {
		s.logger.Warn("BatchQuoter error, using fallback",
			zap.String("chain", chain),
			zap.Error(err))
		return s.fallback(ctx, reqs, amountIn)
	}

	quote, err := s.simulateBatch(ctx, binding, reqs, amountIn)
	if err == nil {
		if s.metrics != nil {
			s.metrics.QuoteBatches.Inc()
		}
		return quote, nil
	}
	if errors.Is(err, errBatchUnsuccessful) {
		s.logger.Warn("Batched simulation failed, using fallback",
			zap.String("chain", chain),
			zap.Error(err))
	} else {
		s.logger.Warn("BatchQuoter error, using fallback",
			zap.String("chain", chain),
			zap.Error(err))
	}
	return s.fallback(ctx, reqs, amountIn)
}

func (s *BatchQuoterService) fallback(ctx context.Context, reqs []QuoteRequest, amountIn *big.Int) (*PathQuote, error) {
	if s.metrics != nil {
		s.metrics.QuoteFallbacks.Inc()
	}
	return s.quoteSequential(ctx, reqs, amountIn)
}

func singleChain(reqs []QuoteRequest) (string, bool) {
	if len(reqs) == 0 {
		return "", false
	}
	chain := reqs[0].Chain
	for _, r := range reqs[1:] {
		if !strings.EqualFold(r.Chain, chain) {
			return "", false
		}
	}
	return chain, true
}

// quoterFor resolves the batch quoter binding for a chain, caching it with
// a double check so concurrent cycles race at most once per chain.
func (s *BatchQuoterService) quoterFor(chain string) (*quoterBinding, error) {
	chain = strings.ToLower(chain)

	s.mu.RLock()
	binding := s.quoters[chain]
	s.mu.RUnlock()
	if binding != nil {
		return binding, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if binding := s.quoters[chain]; binding != nil {
		return binding, nil
	}

	addr, ok := s.chains.Quoter(chain)
	if !ok {
		return nil, fmt.Errorf("no batch quoter deployed on %s", chain)
	}
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("batch quoter address %q on %s is not an address", addr, chain)
	}
	provider, ok := s.registry.GetByName(chain)
	if !ok {
		return nil, fmt.Errorf("no provider registered for %s", chain)
	}

	binding = &quoterBinding{address: common.HexToAddress(addr), provider: provider}
	s.quoters[chain] = binding
	return binding, nil
}

func (s *BatchQuoterService) simulateBatch(ctx context.Context, binding *quoterBinding, reqs []QuoteRequest, amountIn *big.Int) (*PathQuote, error) {
	steps := make([]quoterPathStep, 0, len(reqs))
	for i, req := range reqs {
		if !common.IsHexAddress(req.TokenIn) || !common.IsHexAddress(req.TokenOut) {
			return nil, fmt.Errorf("hop %d: tokens %s/%s are not addresses", i, req.TokenIn, req.TokenOut)
		}
		hopAmount := big.NewInt(0)
		if req.AmountIn != nil {
			hopAmount = req.AmountIn
		}
		steps = append(steps, quoterPathStep{
			Router:   common.HexToAddress(req.Router),
			TokenIn:  common.HexToAddress(req.TokenIn),
			TokenOut: common.HexToAddress(req.TokenOut),
			AmountIn: hopAmount,
		})
	}

	packed, err := simulatePathArgs.Pack(steps, amountIn, big.NewInt(flashLoanFeeBps))
	if err != nil {
		return nil, fmt.Errorf("pack simulateArbitragePath: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, quoteCallTimeout)
	defer cancel()
	out, err := binding.provider.CallContract(callCtx, ethereum.CallMsg{
		To:   &binding.address,
		Data: append(append([]byte{}, simulatePathSel...), packed...),
	}, nil)
	if err != nil {
		return nil, err
	}

	values, err := simulatePathRets.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("unpack simulateArbitragePath: %w", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("simulateArbitragePath returned no amounts")
	}
	if allSuccess, ok := values[1].(bool); !ok || !allSuccess {
		return nil, errBatchUnsuccessful
	}
	return newPathQuote(amountIn, amounts, false), nil
}

// quoteSequential quotes one hop at a time, feeding each output into the
// next hop unless the hop pins its own input.
func (s *BatchQuoterService) quoteSequential(ctx context.Context, reqs []QuoteRequest, amountIn *big.Int) (*PathQuote, error) {
	amounts := make([]*big.Int, 0, len(reqs))
	amount := amountIn
	for i, req := range reqs {
		if req.AmountIn != nil && req.AmountIn.Sign() > 0 {
			amount = req.AmountIn
		}
		out, err := s.quoteHop(ctx, req, amount)
		if err != nil {
			return nil, fmt.Errorf("quote hop %d (%s on %s): %w", i, req.Dex, req.Chain, err)
		}
		amounts = append(amounts, out)
		amount = out
	}
	return newPathQuote(amountIn, amounts, true), nil
}

func (s *BatchQuoterService) quoteHop(ctx context.Context, req QuoteRequest, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("no input amount")
	}
	if !common.IsHexAddress(req.TokenIn) || !common.IsHexAddress(req.TokenOut) {
		return nil, fmt.Errorf("tokens %s/%s are not addresses", req.TokenIn, req.TokenOut)
	}

	if v2QuoteFamilies[strings.ToLower(req.Dex)] {
		return s.quoteV2(ctx, req, amountIn)
	}

	binding, err := s.quoterFor(req.Chain)
	if err != nil {
		return nil, fmt.Errorf("dex %q needs the batch quoter: %w", req.Dex, err)
	}
	packed, err := quoteSwapArgs.Pack(
		common.HexToAddress(req.Router),
		common.HexToAddress(req.TokenIn),
		common.HexToAddress(req.TokenOut),
		amountIn,
	)
	if err != nil {
		return nil, fmt.Errorf("pack quoteSwap: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, quoteCallTimeout)
	defer cancel()
	out, err := binding.provider.CallContract(callCtx, ethereum.CallMsg{
		To:   &binding.address,
		Data: append(append([]byte{}, quoteSwapSel...), packed...),
	}, nil)
	if err != nil {
		return nil, err
	}
	values, err := quoteSwapRets.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("unpack quoteSwap: %w", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quoteSwap returned no amount")
	}
	return amount, nil
}

func (s *BatchQuoterService) quoteV2(ctx context.Context, req QuoteRequest, amountIn *big.Int) (*big.Int, error) {
	provider, ok := s.registry.GetByName(req.Chain)
	if !ok {
		return nil, fmt.Errorf("no provider registered for %s", req.Chain)
	}
	router := common.HexToAddress(req.Router)
	path := []common.Address{common.HexToAddress(req.TokenIn), common.HexToAddress(req.TokenOut)}
	packed, err := getAmountsOutArgs.Pack(amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, quoteCallTimeout)
	defer cancel()
	out, err := provider.CallContract(callCtx, ethereum.CallMsg{
		To:   &router,
		Data: append(append([]byte{}, getAmountsOutSel...), packed...),
	}, nil)
	if err != nil {
		return nil, err
	}
	values, err := getAmountsOutRets.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("getAmountsOut returned no amounts")
	}
	return amounts[len(amounts)-1], nil
}

func newPathQuote(amountIn *big.Int, hopAmounts []*big.Int, fallback bool) *PathQuote {
	finalOut := hopAmounts[len(hopAmounts)-1]
	fee := FlashLoanFee(amountIn)
	profit := new(big.Int).Sub(finalOut, amountIn)
	profit.Sub(profit, fee)
	return &PathQuote{
		AmountIn:       new(big.Int).Set(amountIn),
		FinalAmountOut: new(big.Int).Set(finalOut),
		FlashLoanFee:   fee,
		ExpectedProfit: profit,
		HopAmounts:     hopAmounts,
		Fallback:       fallback,
	}
}
