// Package config provides centralized configuration for the lnbridge daemon.
// All swap parameters (asset tags, chain endpoints, polling limits) are defined
// here so nothing is hardcoded elsewhere in the codebase.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType represents mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Asset tags for the two legs of a swap. A swap always runs between the
// Lightning asset and the base-chain asset, in either direction.
const (
	AssetLightning = "Lightning"
	AssetBaseChain = "ETH"
)

// KnownAsset reports whether tag names one of the two swap legs.
func KnownAsset(tag string) bool {
	return tag == AssetLightning || tag == AssetBaseChain
}

// CounterAsset returns the opposite leg of a swap for the given tag.
func CounterAsset(tag string) string {
	if tag == AssetLightning {
		return AssetBaseChain
	}
	return AssetLightning
}

// ChainConfig holds base-chain verification settings.
type ChainConfig struct {
	// RPCEndpoint is the EVM JSON-RPC endpoint used for receipt lookups and
	// contract reads.
	RPCEndpoint string `yaml:"rpc_endpoint"`

	// ContractAddress is the deployed HTLC contract address.
	ContractAddress string `yaml:"contract_address"`

	// PollInterval is the delay between confirmation poll attempts.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollAttempts is the retry ceiling for confirmation polling.
	PollAttempts int `yaml:"poll_attempts"`
}

// BotConfig holds Telegram bot settings.
type BotConfig struct {
	// Token is the Telegram bot token. May also be supplied via the
	// LNBRIDGE_BOT_TOKEN environment variable, which takes precedence.
	Token string `yaml:"token"`

	// MiniAppURL is the base URL of the swap miniapp, used for
	// call-to-action buttons in notifications.
	MiniAppURL string `yaml:"miniapp_url"`

	// PollTimeout is the long-poll timeout for getUpdates.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the swap database.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// Config holds all configuration for the daemon.
type Config struct {
	// NetworkType selects mainnet or testnet chain parameters, including the
	// expected BOLT11 invoice prefix.
	NetworkType NetworkType `yaml:"network_type"`

	Bot     BotConfig     `yaml:"bot"`
	Chain   ChainConfig   `yaml:"chain"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == Testnet
}

// BotToken returns the bot token, preferring the environment variable.
func (c *Config) BotToken() string {
	if tok := os.Getenv("LNBRIDGE_BOT_TOKEN"); tok != "" {
		return tok
	}
	return c.Bot.Token
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: Mainnet,
		Bot: BotConfig{
			PollTimeout: 30 * time.Second,
		},
		Chain: ChainConfig{
			RPCEndpoint:  "https://eth.llamarpc.com",
			PollInterval: 10 * time.Second,
			PollAttempts: 5,
		},
		Storage: StorageConfig{
			DataDir: "~/.lnbridge",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file in the data directory.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := ExpandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# lnbridge daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
