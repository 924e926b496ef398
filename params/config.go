package params

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperlever/pkg/fixedpoint"
)

type Node struct {
	DataDir string
	LogFile string
	APIAddr string
	ChainID uint64
	Verbose bool
	// Faucet exposes unauthenticated token minting on the API. Devnet only.
	Faucet bool
	// Deployer owns the pool and whitelist and mints both tokens. Contract
	// addresses derive from it.
	Deployer common.Address
}

// Market is the single market the devnet node initializes on first start.
type Market struct {
	Index         uint8
	RatePerSecond *uint256.Int // RAY growth per second
	Spot          *uint256.Int // RAY
	DebtCeiling   *uint256.Int // WAD, zero means none
	// WhitelistRoot gates borrowers; the zero hash lets everyone in.
	WhitelistRoot common.Hash
	SeedLiquidity *uint256.Int // WAD
}

type Config struct {
	Node   Node
	Market Market
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:  "data/hyperlever",
			LogFile:  "logs/node.log",
			APIAddr:  ":8080",
			ChainID:  1337,
			Deployer: common.HexToAddress("0x00000000000000000000000000000000000d0000"),
		},
		Market: Market{
			// ~5% a year, simple
			RatePerSecond: fixedpoint.MustRay("1585489599188229632"),
			Spot:          fixedpoint.MustRay("900000000000000000000000000"),
			DebtCeiling:   new(uint256.Int),
			SeedLiquidity: fixedpoint.Wad(1_000_000),
		},
	}
}

// LoadFromEnv loads configuration from an env file and environment variables
// Priority: ENV > env file > defaults
// An empty envPath reads ./.env when it exists; an explicit path must exist.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return cfg, fmt.Errorf("load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.Verbose = getEnv("VERBOSE", "false") == "true"
	cfg.Node.Faucet = getEnv("FAUCET", "false") == "true"

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.Node.ChainID = id
	}
	if v := os.Getenv("MARKET_INDEX"); v != "" {
		idx, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return cfg, fmt.Errorf("MARKET_INDEX: %w", err)
		}
		cfg.Market.Index = uint8(idx)
	}

	amounts := []struct {
		key string
		dst **uint256.Int
	}{
		{"RATE_PER_SECOND_RAY", &cfg.Market.RatePerSecond},
		{"SPOT_RAY", &cfg.Market.Spot},
		{"DEBT_CEILING_WAD", &cfg.Market.DebtCeiling},
		{"SEED_LIQUIDITY_WAD", &cfg.Market.SeedLiquidity},
	}
	for _, a := range amounts {
		v := os.Getenv(a.key)
		if v == "" {
			continue
		}
		n, err := fixedpoint.ParseDecimal(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", a.key, err)
		}
		*a.dst = n
	}

	if v := os.Getenv("DEPLOYER"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("DEPLOYER: not an address: %q", v)
		}
		cfg.Node.Deployer = common.HexToAddress(v)
	}
	if v := os.Getenv("WHITELIST_ROOT"); v != "" {
		if !isHash(v) {
			return cfg, fmt.Errorf("WHITELIST_ROOT: not a 32-byte hex hash: %q", v)
		}
		cfg.Market.WhitelistRoot = common.HexToHash(v)
	}
	if cfg.Market.Spot.IsZero() {
		return cfg, fmt.Errorf("SPOT_RAY must be non-zero")
	}
	return cfg, nil
}

func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
