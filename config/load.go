package config

import (
	"fmt"
	"os"
	"strings"
)

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("ledgerd version " + Version)
		os.Exit(0)
	}

	cfg, err := LoadWithFlags(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// LoadWithFlags builds the config from defaults, the config file, and the
// already-parsed flags.
func LoadWithFlags(flags *Flags) (*Config, error) {
	// Network and data directory decide where the config file lives, so
	// they are taken from the flags before the file is read.
	network := Mainnet
	if strings.EqualFold(flags.Values["network"], string(Testnet)) {
		network = Testnet
	}

	cfg := Default(network)
	if dir := flags.Values["datadir"]; dir != "" {
		cfg.DataDir = dir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Flags have the highest precedence.
	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("applying flags: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.PeersDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}

// LoadGenesisFor returns the genesis configured for cfg: the override file
// when set, otherwise the built-in genesis for the network.
func LoadGenesisFor(cfg *Config) (*Genesis, error) {
	if cfg.GenesisFile != "" {
		return LoadGenesis(cfg.GenesisFile)
	}
	return GenesisFor(cfg.Network), nil
}
