package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// DifficultyPrefix is the pattern every non-genesis block hash must start
// with in its binary representation (bytes in base 2, unpadded). "00"
// requires two leading zero bytes.
const DifficultyPrefix = "00"

// MaxBlockDataSize bounds a block payload accepted from the network.
const MaxBlockDataSize = 64 * 1024

// Genesis holds the genesis block and the protocol rules.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`

	// Genesis block. These values are trusted as-is; the hash is not
	// checked against the difficulty rule.
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
	Nonce     uint64 `json:"nonce"`
	Hash      string `json:"hash"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// ProtocolConfig holds consensus-critical rules.
// All nodes MUST agree on these values.
type ProtocolConfig struct {
	DifficultyPrefix string `json:"difficulty_prefix"`
	BlockTime        int    `json:"block_time"` // Target seconds between mined blocks
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "klingnet-ledger-mainnet-1",
		ChainName: "Klingnet Ledger",
		Timestamp: 1770734103, // 2026-02-10
		Data:      "genesis!",
		Nonce:     2836,
		Hash:      "0000f816a87f806bb0073dcf026a64fb40c946b5abee2573702828694d5b4c43",
		Protocol: ProtocolConfig{
			DifficultyPrefix: DifficultyPrefix,
			BlockTime:        10,
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "klingnet-ledger-testnet-1"
	g.ChainName = "Klingnet Ledger Testnet"
	g.Protocol.BlockTime = 3
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is well formed.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if _, err := types.HexToHash(g.Hash); err != nil {
		return fmt.Errorf("genesis hash: %w", err)
	}
	if g.Hash != strings.ToLower(g.Hash) {
		return fmt.Errorf("genesis hash must be lowercase hex")
	}

	prefix := g.Protocol.DifficultyPrefix
	if prefix == "" {
		return fmt.Errorf("difficulty_prefix is required")
	}
	if strings.Trim(prefix, "01") != "" {
		return fmt.Errorf("difficulty_prefix must contain only '0' and '1'")
	}
	if len(prefix) > types.HashSize*8 {
		return fmt.Errorf("difficulty_prefix longer than the hash")
	}

	if g.Protocol.BlockTime <= 0 {
		return fmt.Errorf("block_time must be positive")
	}

	return nil
}
