// Package config loads the engine's runtime configuration from the
// environment and the chain parameter file.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Environments the engine distinguishes.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Solana endpoints used when no dedicated endpoint is configured.
const (
	solanaHeliusURL     = "https://mainnet.helius-rpc.com/?api-key="
	solanaTritonURL     = "https://api.rpcpool.com/"
	solanaPublicURL     = "https://solana-rpc.publicnode.com"
	solanaDevnetDefault = "https://api.devnet.solana.com"
)

// Config is the engine's environment-derived configuration.
type Config struct {
	Environment string `json:"environment"`
	InstanceID  string `json:"instance_id"`
	RegionID    string `json:"region_id"`

	PartitionChains []string `json:"partition_chains"`
	SolanaDevnet    bool     `json:"solana_devnet"`

	RedisURL        string `json:"redis_url"`
	HealthCheckPort int    `json:"health_check_port"`

	EnableCrossRegionHealth bool `json:"enable_cross_region_health"`

	MinProfitThreshold  float64       `json:"min_profit_threshold"`
	CrossChainEnabled   bool          `json:"cross_chain_enabled"`
	TriangularEnabled   bool          `json:"triangular_enabled"`
	BatchQuotesEnabled  bool          `json:"batch_quotes_enabled"`
	MaxTriangularDepth  int           `json:"max_triangular_depth"`
	OpportunityExpiry   time.Duration `json:"opportunity_expiry"`
	DefaultTradeSizeUsd float64       `json:"default_trade_size_usd"`

	RPCEndpoints map[string]string `json:"-"`
	WSEndpoints  map[string]string `json:"-"`

	SolanaRPCURL string `json:"-"`

	ChainsConfigPath string `json:"chains_config_path"`
}

var supportedChains = map[string]bool{
	"ethereum":  true,
	"bsc":       true,
	"polygon":   true,
	"arbitrum":  true,
	"optimism":  true,
	"base":      true,
	"avalanche": true,
	"fantom":    true,
	"solana":    true,
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("ENVIRONMENT", EnvDevelopment)
	v.SetDefault("REGION_ID", "local")
	v.SetDefault("HEALTH_CHECK_PORT", 8080)
	v.SetDefault("MIN_PROFIT_THRESHOLD", 0.3)
	v.SetDefault("MAX_TRIANGULAR_DEPTH", 3)
	v.SetDefault("OPPORTUNITY_EXPIRY_MS", 1000)
	v.SetDefault("DEFAULT_TRADE_SIZE_USD", 10000)
	v.SetDefault("CHAINS_CONFIG_PATH", "configs/chains.yaml")

	cfg := &Config{
		Environment:             strings.ToLower(strings.TrimSpace(v.GetString("ENVIRONMENT"))),
		InstanceID:              strings.TrimSpace(v.GetString("INSTANCE_ID")),
		RegionID:                strings.TrimSpace(v.GetString("REGION_ID")),
		RedisURL:                strings.TrimSpace(v.GetString("REDIS_URL")),
		HealthCheckPort:         v.GetInt("HEALTH_CHECK_PORT"),
		EnableCrossRegionHealth: flagEnabled(v, "ENABLE_CROSS_REGION_HEALTH"),
		MinProfitThreshold:      v.GetFloat64("MIN_PROFIT_THRESHOLD"),
		CrossChainEnabled:       flagEnabled(v, "CROSS_CHAIN_ENABLED"),
		TriangularEnabled:       flagEnabled(v, "TRIANGULAR_ENABLED"),
		BatchQuotesEnabled:      flagEnabled(v, "BATCH_QUOTES_ENABLED"),
		MaxTriangularDepth:      v.GetInt("MAX_TRIANGULAR_DEPTH"),
		OpportunityExpiry:       time.Duration(v.GetInt64("OPPORTUNITY_EXPIRY_MS")) * time.Millisecond,
		DefaultTradeSizeUsd:     v.GetFloat64("DEFAULT_TRADE_SIZE_USD"),
		ChainsConfigPath:        v.GetString("CHAINS_CONFIG_PATH"),
		RPCEndpoints:            make(map[string]string),
		WSEndpoints:             make(map[string]string),
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()[:8]
	}

	chains, devnet, err := parsePartitionChains(v.GetString("PARTITION_CHAINS"))
	if err != nil {
		return nil, err
	}
	cfg.PartitionChains = chains
	cfg.SolanaDevnet = devnet

	for _, chain := range cfg.PartitionChains {
		if chain == "solana" {
			continue
		}
		upper := strings.ToUpper(chain)
		if url := strings.TrimSpace(v.GetString(upper + "_RPC_URL")); url != "" {
			cfg.RPCEndpoints[chain] = url
		}
		if url := strings.TrimSpace(v.GetString(upper + "_WS_URL")); url != "" {
			cfg.WSEndpoints[chain] = url
		}
	}

	if containsChain(cfg.PartitionChains, "solana") {
		url, err := resolveSolanaRPC(v, cfg.Environment, cfg.SolanaDevnet)
		if err != nil {
			return nil, err
		}
		cfg.SolanaRPCURL = url
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagEnabled treats a flag as on unless it is explicitly set to "false".
func flagEnabled(v *viper.Viper, key string) bool {
	return !strings.EqualFold(strings.TrimSpace(v.GetString(key)), "false")
}

// parsePartitionChains splits and normalises the PARTITION_CHAINS list.
// "solana-devnet" selects the devnet cluster while partitioning as solana.
func parsePartitionChains(raw string) ([]string, bool, error) {
	devnet := false
	var chains []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		chain := strings.ToLower(strings.TrimSpace(part))
		if chain == "" {
			continue
		}
		if chain == "solana-devnet" {
			chain = "solana"
			devnet = true
		}
		if !supportedChains[chain] {
			return nil, false, fmt.Errorf("unsupported chain %q in PARTITION_CHAINS", chain)
		}
		if seen[chain] {
			continue
		}
		seen[chain] = true
		chains = append(chains, chain)
	}
	if len(chains) == 0 {
		return nil, false, fmt.Errorf("PARTITION_CHAINS must name at least one chain")
	}
	return chains, devnet, nil
}

// resolveSolanaRPC picks the Solana endpoint by priority: an explicit URL,
// then Helius, then Triton, then the public fallback. Production instances
// must not run on the public endpoint.
func resolveSolanaRPC(v *viper.Viper, environment string, devnet bool) (string, error) {
	if devnet {
		if url := strings.TrimSpace(v.GetString("SOLANA_DEVNET_RPC_URL")); url != "" {
			return url, nil
		}
		return solanaDevnetDefault, nil
	}
	if url := strings.TrimSpace(v.GetString("SOLANA_RPC_URL")); url != "" {
		return url, nil
	}
	if key := strings.TrimSpace(v.GetString("HELIUS_API_KEY")); key != "" {
		return solanaHeliusURL + key, nil
	}
	if key := strings.TrimSpace(v.GetString("TRITON_API_KEY")); key != "" {
		return solanaTritonURL + key, nil
	}
	if environment == EnvProduction {
		return "", fmt.Errorf("no dedicated Solana RPC configured; the public endpoint is not allowed in production")
	}
	return solanaPublicURL, nil
}

func (c *Config) validate() error {
	if c.Environment != EnvTest {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return fmt.Errorf("REDIS_URL must use redis:// or rediss://")
		}
	}
	if c.HealthCheckPort < 1 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("HEALTH_CHECK_PORT %d out of range", c.HealthCheckPort)
	}
	if c.MaxTriangularDepth < 2 {
		return fmt.Errorf("MAX_TRIANGULAR_DEPTH must be at least 2")
	}
	if c.OpportunityExpiry <= 0 {
		return fmt.Errorf("OPPORTUNITY_EXPIRY_MS must be positive")
	}
	return nil
}

// IsProduction reports whether the instance runs with production rules.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// HasChain reports whether this partition serves the given chain.
func (c *Config) HasChain(chain string) bool {
	return containsChain(c.PartitionChains, strings.ToLower(chain))
}

// ConsumerName is this instance's name within the detector consumer group.
func (c *Config) ConsumerName() string {
	return "cross-chain-detector-" + c.InstanceID
}

func containsChain(chains []string, chain string) bool {
	for _, c := range chains {
		if c == chain {
			return true
		}
	}
	return false
}

var (
	apiKeyPattern = regexp.MustCompile(`(?i)(api-key=)[^&\s]+`)
	hexRunPattern = regexp.MustCompile(`(?i)[0-9a-f]{32,}`)
	bearerPattern = regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)\S+`)
)

// RedactURL masks credentials embedded in RPC URLs so they can be logged.
// Query-string API keys and long hex path segments both become
// ***REDACTED***.
func RedactURL(raw string) string {
	out := apiKeyPattern.ReplaceAllString(raw, "${1}***REDACTED***")
	out = bearerPattern.ReplaceAllString(out, "${1}***REDACTED***")
	out = hexRunPattern.ReplaceAllString(out, "***REDACTED***")
	return out
}
