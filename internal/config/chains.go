package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainParams holds the per-chain tuning the detector and decoders need.
// MinProfit is a fractional price difference (0.002 means 0.2%).
type ChainParams struct {
	ChainID        int64             `json:"chain_id" yaml:"chain_id"`
	MinProfit      float64           `json:"min_profit" yaml:"min_profit"`
	GasEstimateUsd float64           `json:"gas_estimate_usd" yaml:"gas_estimate_usd"`
	BlockTimeMs    int64             `json:"block_time_ms" yaml:"block_time_ms"`
	Quoter         string            `json:"quoter,omitempty" yaml:"quoter,omitempty"`
	Routers        map[string]string `json:"routers,omitempty" yaml:"routers,omitempty"`
}

// ChainsConfig is the chain parameter table, optionally overlaid from a
// YAML file at deploy time.
type ChainsConfig struct {
	Chains               map[string]ChainParams        `json:"chains" yaml:"chains"`
	Bridges              map[string]map[string]float64 `json:"bridges" yaml:"bridges"`
	DefaultBridgeCostUsd float64                       `json:"default_bridge_cost_usd" yaml:"default_bridge_cost_usd"`
	DefaultMinProfit     float64                       `json:"default_min_profit" yaml:"default_min_profit"`
}

// Well-known router deployments, keyed by lowercase address. Families match
// the decoder registry names.
var ethereumRouters = map[string]string{
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": "uniswapV2",
	"0xe592427a0aece92de3edee1f18e0157c05861564": "uniswapV3",
	"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45": "uniswapV3",
	"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f": "sushiswap",
	"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
	"0x1111111254fb6c44bac0bed2854e76f90643097d": "oneInch",
}

// DefaultChains returns the built-in chain table. Ethereum's minimum profit
// stays strictly above every other chain because its execution costs
// dominate small spreads.
func DefaultChains() *ChainsConfig {
	return &ChainsConfig{
		DefaultBridgeCostUsd: 8,
		DefaultMinProfit:     0.002,
		Chains: map[string]ChainParams{
			"ethereum": {
				ChainID:        1,
				MinProfit:      0.002,
				GasEstimateUsd: 8,
				BlockTimeMs:    12000,
				Routers:        ethereumRouters,
			},
			"bsc": {
				ChainID:        56,
				MinProfit:      0.0015,
				GasEstimateUsd: 0.5,
				BlockTimeMs:    3000,
				Routers: map[string]string{
					"0x10ed43c718714eb63d5aa57b78b54704e256024e": "pancakeswap",
					"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
				},
			},
			"polygon": {
				ChainID:        137,
				MinProfit:      0.0015,
				GasEstimateUsd: 0.1,
				BlockTimeMs:    2000,
				Routers: map[string]string{
					"0xa5e0829caced8ffdd4de3c43696c57f7d7a678ff": "uniswapV2",
					"0xe592427a0aece92de3edee1f18e0157c05861564": "uniswapV3",
					"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
				},
			},
			"arbitrum": {
				ChainID:        42161,
				MinProfit:      0.001,
				GasEstimateUsd: 2,
				BlockTimeMs:    250,
				Routers: map[string]string{
					"0xc873fecbd354f5a56e00e710b90ef4201db2448d": "uniswapV2",
					"0xe592427a0aece92de3edee1f18e0157c05861564": "uniswapV3",
					"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
				},
			},
			"optimism": {
				ChainID:        10,
				MinProfit:      0.001,
				GasEstimateUsd: 0.5,
				BlockTimeMs:    2000,
				Routers: map[string]string{
					"0xe592427a0aece92de3edee1f18e0157c05861564": "uniswapV3",
					"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
				},
			},
			"base": {
				ChainID:        8453,
				MinProfit:      0.001,
				GasEstimateUsd: 0.3,
				BlockTimeMs:    2000,
				Routers: map[string]string{
					"0x2626664c2603336e57b271c5c0b26f421741e481": "uniswapV3",
					"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
				},
			},
			"avalanche": {
				ChainID:        43114,
				MinProfit:      0.0015,
				GasEstimateUsd: 1,
				BlockTimeMs:    2000,
				Routers: map[string]string{
					"0x60ae616a2155ee3d9a68541ba4544862310933d4": "uniswapV2",
					"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
				},
			},
			"fantom": {
				ChainID:        250,
				MinProfit:      0.0015,
				GasEstimateUsd: 0.2,
				BlockTimeMs:    1000,
				Routers: map[string]string{
					"0xf491e7b69e4244ad4002bc14e878a34207e38c29": "uniswapV2",
					"0x1111111254eeb25477b68fb85ed929f73a960582": "oneInch",
				},
			},
		},
		Bridges: map[string]map[string]float64{
			"ethereum": {
				"arbitrum": 15, "optimism": 15, "base": 12,
				"polygon": 10, "bsc": 12, "avalanche": 18, "fantom": 18,
			},
			"arbitrum":  {"ethereum": 20, "optimism": 4, "base": 4},
			"optimism":  {"ethereum": 20, "arbitrum": 4, "base": 3},
			"base":      {"ethereum": 18, "arbitrum": 4, "optimism": 3},
			"polygon":   {"ethereum": 15, "bsc": 5},
			"bsc":       {"ethereum": 15, "polygon": 5},
			"avalanche": {"ethereum": 20},
			"fantom":    {"ethereum": 20},
		},
	}
}

// LoadChains returns the built-in table overlaid with the YAML file at
// path, when one exists. A missing file is not an error; a malformed one is.
func LoadChains(path string) (*ChainsConfig, error) {
	cfg := DefaultChains()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read chains config %s: %w", path, err)
	}

	var overlay ChainsConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse chains config %s: %w", path, err)
	}
	cfg.merge(&overlay)
	return cfg, nil
}

func (c *ChainsConfig) merge(overlay *ChainsConfig) {
	if overlay.DefaultBridgeCostUsd > 0 {
		c.DefaultBridgeCostUsd = overlay.DefaultBridgeCostUsd
	}
	if overlay.DefaultMinProfit > 0 {
		c.DefaultMinProfit = overlay.DefaultMinProfit
	}
	for name, params := range overlay.Chains {
		name = strings.ToLower(name)
		base, ok := c.Chains[name]
		if !ok {
			c.Chains[name] = params
			continue
		}
		if params.MinProfit > 0 {
			base.MinProfit = params.MinProfit
		}
		if params.GasEstimateUsd > 0 {
			base.GasEstimateUsd = params.GasEstimateUsd
		}
		if params.BlockTimeMs > 0 {
			base.BlockTimeMs = params.BlockTimeMs
		}
		if params.Quoter != "" {
			base.Quoter = params.Quoter
		}
		for addr, family := range params.Routers {
			if base.Routers == nil {
				base.Routers = make(map[string]string)
			}
			base.Routers[strings.ToLower(addr)] = family
		}
		c.Chains[name] = base
	}
	for from, row := range overlay.Bridges {
		from = strings.ToLower(from)
		if c.Bridges[from] == nil {
			c.Bridges[from] = make(map[string]float64)
		}
		for to, cost := range row {
			c.Bridges[from][strings.ToLower(to)] = cost
		}
	}
}

// MinProfit returns the fractional price-difference floor for a buy chain.
func (c *ChainsConfig) MinProfit(chain string) float64 {
	if params, ok := c.Chains[strings.ToLower(chain)]; ok && params.MinProfit > 0 {
		return params.MinProfit
	}
	return c.DefaultMinProfit
}

// GasEstimateUsd returns the flat per-trade gas estimate for a chain.
func (c *ChainsConfig) GasEstimateUsd(chain string) float64 {
	if params, ok := c.Chains[strings.ToLower(chain)]; ok {
		return params.GasEstimateUsd
	}
	return 0
}

// BridgeCostUsd returns the estimated bridge cost between two chains.
func (c *ChainsConfig) BridgeCostUsd(from, to string) float64 {
	if row, ok := c.Bridges[strings.ToLower(from)]; ok {
		if cost, ok := row[strings.ToLower(to)]; ok {
			return cost
		}
	}
	return c.DefaultBridgeCostUsd
}

// RouterFamily classifies a router address on a chain.
func (c *ChainsConfig) RouterFamily(chain, router string) (string, bool) {
	params, ok := c.Chains[strings.ToLower(chain)]
	if !ok {
		return "", false
	}
	family, ok := params.Routers[strings.ToLower(router)]
	return family, ok
}

// RouterForFamily returns a router deployment on a chain for a dex family.
// When a family has several deployments the lowest address wins, so the
// answer is stable across calls.
func (c *ChainsConfig) RouterForFamily(chain, family string) (string, bool) {
	params, ok := c.Chains[strings.ToLower(chain)]
	if !ok {
		return "", false
	}
	addrs := make([]string, 0, len(params.Routers))
	for addr, fam := range params.Routers {
		if strings.EqualFold(fam, family) {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return "", false
	}
	sort.Strings(addrs)
	return addrs[0], true
}

// Quoter returns the batched quoter deployment for a chain, if any.
func (c *ChainsConfig) Quoter(chain string) (string, bool) {
	params, ok := c.Chains[strings.ToLower(chain)]
	if !ok || params.Quoter == "" {
		return "", false
	}
	return params.Quoter, true
}
