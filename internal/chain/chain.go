// Package chain holds the authoritative block sequence and the rules for
// extending or replacing it.
//
// Chain does no locking of its own. Callers serialize TryAddBlock, Resolve
// and Replace (the node does this with a single mutex).
package chain

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Chain is an ordered, append-only sequence of blocks where position == id.
type Chain struct {
	blocks    []*block.Block
	validator *Validator
}

// New creates an empty chain that checks work with engine.
// Call InitFromGenesis before appending.
func New(engine consensus.Engine) (*Chain, error) {
	if engine == nil {
		return nil, fmt.Errorf("consensus engine is nil")
	}
	return &Chain{validator: NewValidator(engine)}, nil
}

// Bootstrap creates a chain holding only the genesis block described by gen.
func Bootstrap(gen *config.Genesis) (*Chain, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}
	pow, err := consensus.NewPoW(gen.Protocol.DifficultyPrefix)
	if err != nil {
		return nil, fmt.Errorf("consensus engine: %w", err)
	}
	ch, err := New(pow)
	if err != nil {
		return nil, err
	}
	if err := ch.InitFromGenesis(gen); err != nil {
		return nil, err
	}
	return ch, nil
}

// InitFromGenesis installs the genesis block on an empty chain.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	if len(c.blocks) != 0 {
		return fmt.Errorf("chain already initialized at height %d", c.Height())
	}

	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}

	c.blocks = []*block.Block{blk}
	return nil
}

// Validator returns the validator used for this chain.
func (c *Chain) Validator() *Validator {
	return c.validator
}

// Len returns the number of blocks in the chain.
func (c *Chain) Len() int {
	return len(c.blocks)
}

// Tip returns the last block, or nil for an empty chain.
func (c *Chain) Tip() *block.Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// Height returns the id of the tip (0 for an empty chain).
func (c *Chain) Height() uint64 {
	if tip := c.Tip(); tip != nil {
		return tip.ID
	}
	return 0
}

// Genesis returns the first block, or nil for an empty chain.
func (c *Chain) Genesis() *block.Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[0]
}

// Blocks returns a copy of the block sequence. The blocks themselves are
// shared and must not be modified.
func (c *Chain) Blocks() []*block.Block {
	out := make([]*block.Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// BlockByID returns the block with the given id.
func (c *Chain) BlockByID(id uint64) (*block.Block, error) {
	if id >= uint64(len(c.blocks)) || c.blocks[id].ID != id {
		return nil, fmt.Errorf("%w: id %d", ErrBlockNotFound, id)
	}
	return c.blocks[id], nil
}

// Replace installs blocks as the new authoritative sequence after checking
// it is non-empty and internally valid.
func (c *Chain) Replace(blocks []*block.Block) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}
	if err := c.validator.ValidateChain(blocks); err != nil {
		return err
	}
	c.blocks = cloneBlocks(blocks)
	return nil
}

func cloneBlocks(blocks []*block.Block) []*block.Block {
	out := make([]*block.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}
