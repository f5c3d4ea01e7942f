package detector

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
)

// Per-hop swap fee applied while walking rate cycles.
const (
	takerFeeBps = 30
	takerFee    = 0.003
)

// Cycle walks begin and end at a liquid anchor token.
var cycleAnchors = []string{"USDC", "USDT", "WETH"}

// rateEdge is one conversion in the per-chain rate graph.
type rateEdge struct {
	from  string
	to    string
	venue string
	rate  float64
}

type rateCycle struct {
	hops    []rateEdge
	product float64
}

// scanTriangular searches each chain's rate graph for profitable cycles of
// bounded depth. Two-hop cycles are cross-venue arbitrage on one chain,
// longer cycles are statistical triangular routes.
func (d *Detector) scanTriangular(snapshot *models.IndexedSnapshot) []*models.ArbitrageOpportunity {
	graphs := buildRateGraphs(snapshot)
	if len(graphs) == 0 {
		return nil
	}

	var out []*models.ArbitrageOpportunity
	for chain, graph := range graphs {
		for _, anchor := range cycleAnchors {
			if _, ok := graph[anchor]; !ok {
				continue
			}
			cycle := d.bestCycle(graph, anchor)
			if cycle == nil {
				continue
			}
			if op := d.cycleOpportunity(chain, cycle); op != nil {
				out = append(out, op)
			}
		}
	}
	return out
}

// buildRateGraphs indexes snapshot updates into per-chain conversion graphs,
// keeping the best rate per direction when several venues quote a pair.
func buildRateGraphs(snapshot *models.IndexedSnapshot) map[string]map[string]map[string]rateEdge {
	graphs := make(map[string]map[string]map[string]rateEdge)

	addEdge := func(chain string, e rateEdge) {
		if e.rate <= 0 || math.IsNaN(e.rate) || math.IsInf(e.rate, 0) {
			return
		}
		graph := graphs[chain]
		if graph == nil {
			graph = make(map[string]map[string]rateEdge)
			graphs[chain] = graph
		}
		edges := graph[e.from]
		if edges == nil {
			edges = make(map[string]rateEdge)
			graph[e.from] = edges
		}
		if cur, ok := edges[e.to]; !ok || e.rate > cur.rate {
			edges[e.to] = e
		}
	}

	for _, update := range snapshot.Raw {
		if update == nil || update.Price <= 0 {
			continue
		}
		base, quote := models.ParseTokenPair(update.PairKey)
		base, quote = models.CanonicalSymbol(base), models.CanonicalSymbol(quote)
		if base == "" || base == quote {
			continue
		}
		addEdge(update.Chain, rateEdge{from: base, to: quote, venue: update.Venue, rate: update.Price})
		addEdge(update.Chain, rateEdge{from: quote, to: base, venue: update.Venue, rate: 1 / update.Price})
	}
	return graphs
}

// bestCycle runs a depth-bounded DFS from the anchor and returns the most
// profitable closed cycle above the configured threshold, fees included.
func (d *Detector) bestCycle(graph map[string]map[string]rateEdge, anchor string) *rateCycle {
	threshold := 1 + d.cfg.MinProfitPercent/100

	var best *rateCycle
	visited := make(map[string]bool)
	path := make([]rateEdge, 0, d.cfg.MaxTriangularDepth)

	var walk func(node string, product float64)
	walk = func(node string, product float64) {
		for to, edge := range graph[node] {
			rate := product * edge.rate * (1 - takerFee)
			if to == anchor {
				if len(path) == 0 {
					continue
				}
				if rate > threshold && (best == nil || rate > best.product) {
					hops := make([]rateEdge, len(path)+1)
					copy(hops, path)
					hops[len(path)] = edge
					best = &rateCycle{hops: hops, product: rate}
				}
				continue
			}
			// Leave room for the closing hop within the depth budget.
			if visited[to] || len(path)+2 > d.cfg.MaxTriangularDepth {
				continue
			}
			visited[to] = true
			path = append(path, edge)
			walk(to, rate)
			path = path[:len(path)-1]
			visited[to] = false
		}
	}

	visited[anchor] = true
	walk(anchor, 1)
	return best
}

func (d *Detector) cycleOpportunity(chain string, cycle *rateCycle) *models.ArbitrageOpportunity {
	diff := cycle.product - 1
	gross := diff * d.cfg.TradeSizeUsd
	gas := d.chains.GasEstimateUsd(chain)
	net := gross - gas
	if net <= 0 {
		return nil
	}

	hops := make([]models.Hop, 0, len(cycle.hops))
	for _, e := range cycle.hops {
		hops = append(hops, models.Hop{
			Chain:    chain,
			Dex:      e.venue,
			TokenIn:  e.from,
			TokenOut: e.to,
			FeeBps:   takerFeeBps,
			Price:    e.rate,
		})
	}

	opType := models.OpportunityStatistical
	if len(cycle.hops) == 2 {
		opType = models.OpportunityIntraChain
	}

	first := cycle.hops[0]
	last := cycle.hops[len(cycle.hops)-1]
	return &models.ArbitrageOpportunity{
		Type:           opType,
		Source:         "statistical",
		BuyChain:       chain,
		SellChain:      chain,
		BuyVenue:       first.venue,
		SellVenue:      last.venue,
		TokenIn:        first.from,
		TokenOut:       first.to,
		PairKey:        first.from + "_" + first.to,
		BuyPrice:       first.rate,
		SellPrice:      last.rate,
		PercentageDiff: diff,
		GasCost:        decimal.NewFromFloat(gas),
		NetProfit:      decimal.NewFromFloat(net),
		Confidence:     d.scoreConfidence(diff, nil),
		Hops:           hops,
	}
}
