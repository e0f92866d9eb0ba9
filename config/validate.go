package config

import (
	"fmt"
	"strings"

	"github.com/multiformats/go-multiaddr"
)

// MaxMiningThreads caps the nonce search goroutines a node may start.
const MaxMiningThreads = 64

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.P2P.SyncInterval < 0 {
		return fmt.Errorf("p2p.syncinterval must not be negative")
	}
	if cfg.Mining.Threads < 0 || cfg.Mining.Threads > MaxMiningThreads {
		return fmt.Errorf("mining.threads must be in range [0, %d]", MaxMiningThreads)
	}
	for i, s := range cfg.P2P.Seeds {
		if _, err := multiaddr.NewMultiaddr(strings.TrimSpace(s)); err != nil {
			return fmt.Errorf("p2p.seeds[%d] is not a valid multiaddr: %w", i, err)
		}
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}
