// Package config loads the raffle configuration: a YAML file describing the
// networks the raffle can be deployed to, overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DevChainID is the local development chain. The mock coordinator is only
// deployed there.
const DevChainID int64 = 31337

// NetworkConfig describes one deployment target.
type NetworkConfig struct {
	Name                  string `yaml:"name"`
	EntranceFee           int64  `yaml:"entranceFee"`
	KeepersUpdateInterval int64  `yaml:"keepersUpdateInterval"` // seconds
	GasLane               string `yaml:"gasLane"`
	SubscriptionID        uint64 `yaml:"subscriptionId"`
	CallbackGasLimit      uint32 `yaml:"callbackGasLimit"`
	VRFCoordinator        string `yaml:"vrfCoordinator"`
}

// Interval returns the keeper update interval as a duration.
func (n NetworkConfig) Interval() time.Duration {
	return time.Duration(n.KeepersUpdateInterval) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rateLimit"` // requests per second per client, 0 disables
	RateBurst int     `yaml:"rateBurst"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KeeperConfig configures the automation keeper.
type KeeperConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"checkInterval"`
}

// VRFConfig configures the randomness providers.
type VRFConfig struct {
	BaseFee       int64         `yaml:"baseFee"`
	GasPriceLink  int64         `yaml:"gasPriceLink"`
	SubFundAmount int64         `yaml:"subFundAmount"`
	MasterSecret  string        `yaml:"masterSecret"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// DatabaseConfig selects the history store. An empty DSN keeps history in
// memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables event fan-out to Redis when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// Config is the full service configuration.
type Config struct {
	ChainID           int64                   `yaml:"chainId"`
	Networks          map[int64]NetworkConfig `yaml:"networks"`
	DevelopmentChains []string                `yaml:"developmentChains"`
	Server            ServerConfig            `yaml:"server"`
	Logging           LoggingConfig           `yaml:"logging"`
	Keeper            KeeperConfig            `yaml:"keeper"`
	VRF               VRFConfig               `yaml:"vrf"`
	Database          DatabaseConfig          `yaml:"database"`
	Redis             RedisConfig             `yaml:"redis"`
	EventBuffer       int                     `yaml:"eventBuffer"`
}

// envOverlay lists the environment variables that override the file.
type envOverlay struct {
	ChainID          int64         `env:"RAFFLE_CHAIN_ID"`
	HTTPAddr         string        `env:"RAFFLE_HTTP_ADDR"`
	LogLevel         string        `env:"LOG_LEVEL"`
	LogFormat        string        `env:"LOG_FORMAT"`
	DatabaseDSN      string        `env:"DATABASE_URL"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	VRFMasterSecret  string        `env:"VRF_MASTER_SECRET"`
	VRFSubFundAmount int64         `env:"VRF_SUB_FUND_AMOUNT"`
	KeeperInterval   time.Duration `env:"KEEPER_CHECK_INTERVAL"`
}

// DefaultPath is where Load looks when no path is given.
var DefaultPath = filepath.Join("config", "raffle.yaml")

// Default returns the built-in configuration for the local development chain.
func Default() *Config {
	return &Config{
		ChainID: DevChainID,
		Networks: map[int64]NetworkConfig{
			11155111: {
				Name:                  "sepolia",
				EntranceFee:           10_000_000_000_000_000,
				KeepersUpdateInterval: 30,
				GasLane:               "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
				CallbackGasLimit:      500000,
				VRFCoordinator:        "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625",
			},
			DevChainID: {
				Name:                  "hardhat",
				EntranceFee:           10_000_000_000_000_000,
				KeepersUpdateInterval: 30,
				GasLane:               "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc",
				CallbackGasLimit:      500000,
			},
		},
		DevelopmentChains: []string{"hardhat", "localhost"},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 20,
			RateBurst: 40,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Keeper: KeeperConfig{
			Enabled:       true,
			CheckInterval: 5 * time.Second,
		},
		VRF: VRFConfig{
			BaseFee:       250_000_000_000_000_000,
			GasPriceLink:  1_000_000_000,
			SubFundAmount: 2_000_000_000_000_000_000,
			MaxAttempts:   3,
			RetryDelay:    2 * time.Second,
		},
		Redis:       RedisConfig{Channel: "raffle:events"},
		EventBuffer: 1000,
	}
}

// Load reads path over the defaults, applies the environment and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default plus the environment when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	var env envOverlay
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}

	if env.ChainID != 0 {
		c.ChainID = env.ChainID
	}
	if env.HTTPAddr != "" {
		c.Server.Addr = env.HTTPAddr
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Logging.Format = env.LogFormat
	}
	if env.DatabaseDSN != "" {
		c.Database.DSN = env.DatabaseDSN
	}
	if env.RedisAddr != "" {
		c.Redis.Addr = env.RedisAddr
	}
	if env.VRFMasterSecret != "" {
		c.VRF.MasterSecret = env.VRFMasterSecret
	}
	if env.VRFSubFundAmount != 0 {
		c.VRF.SubFundAmount = env.VRFSubFundAmount
	}
	if env.KeeperInterval != 0 {
		c.Keeper.CheckInterval = env.KeeperInterval
	}
	return nil
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	network, err := c.Network(c.ChainID)
	if err != nil {
		return err
	}
	if network.Name == "" {
		return fmt.Errorf("networks.%d.name is required", c.ChainID)
	}
	if network.EntranceFee <= 0 {
		return fmt.Errorf("networks.%d.entranceFee must be positive", c.ChainID)
	}
	if network.KeepersUpdateInterval < 0 {
		return fmt.Errorf("networks.%d.keepersUpdateInterval must not be negative", c.ChainID)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Keeper.Enabled && c.Keeper.CheckInterval <= 0 {
		return fmt.Errorf("keeper.checkInterval must be positive")
	}
	if c.IsDevelopmentChain(network.Name) && c.VRF.SubFundAmount <= 0 {
		return fmt.Errorf("vrf.subFundAmount must be positive on development chains")
	}
	return nil
}

// Network returns the configuration for chainID.
func (c *Config) Network(chainID int64) (NetworkConfig, error) {
	network, ok := c.Networks[chainID]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("chainId %d: no network configured", chainID)
	}
	return network, nil
}

// Active returns the network selected by ChainID.
func (c *Config) Active() (NetworkConfig, error) {
	return c.Network(c.ChainID)
}

// IsDevelopmentChain reports whether name is a local network.
func (c *Config) IsDevelopmentChain(name string) bool {
	for _, dev := range c.DevelopmentChains {
		if dev == name {
			return true
		}
	}
	return false
}
