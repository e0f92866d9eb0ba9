package chain

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// CreateGenesisBlock builds the genesis block from the genesis configuration.
// The genesis block has id 0, no previous hash, and the fixed nonce/hash pair
// from the configuration. Its hash is trusted, not checked for work.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &block.Block{
		ID:           0,
		Timestamp:    gen.Timestamp,
		PreviousHash: nil,
		Data:         gen.Data,
		Nonce:        gen.Nonce,
		Hash:         gen.Hash,
	}, nil
}
