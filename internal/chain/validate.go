package chain

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Validator checks candidate blocks against their predecessor. It holds no
// chain state and is safe for concurrent use.
type Validator struct {
	engine consensus.Engine
}

// NewValidator creates a validator that checks work with engine.
func NewValidator(engine consensus.Engine) *Validator {
	return &Validator{engine: engine}
}

// defaultValidator checks work against the protocol difficulty prefix.
var defaultValidator = NewValidator(&consensus.PoW{Prefix: config.DifficultyPrefix})

// ValidateBlock checks candidate against predecessor with the default prefix.
func ValidateBlock(candidate, predecessor *block.Block) error {
	return defaultValidator.ValidateBlock(candidate, predecessor)
}

// ValidateChain checks a block sequence with the default prefix.
func ValidateChain(blocks []*block.Block) error {
	return defaultValidator.ValidateChain(blocks)
}

// ValidateBlock runs the checks in a fixed order and reports the first
// failure: genesis, linkage, difficulty, sequence, hash integrity.
func (v *Validator) ValidateBlock(candidate, predecessor *block.Block) error {
	if candidate == nil || predecessor == nil {
		return fmt.Errorf("nil block")
	}

	if candidate.IsGenesis() {
		return invalid(ErrIsGenesisBlock, candidate.ID)
	}

	if *candidate.PreviousHash != predecessor.Hash {
		return invalid(ErrPreviousHashMismatch, candidate.ID)
	}

	if err := v.engine.VerifyHash(candidate.Hash); err != nil {
		if errors.Is(err, consensus.ErrMalformedHash) {
			return &ValidationError{Kind: ErrMalformedHash, ID: candidate.ID, Err: err}
		}
		return &ValidationError{Kind: ErrInsufficientDifficulty, ID: candidate.ID, Err: err}
	}

	if candidate.ID != predecessor.ID+1 {
		return &ValidationError{Kind: ErrOutOfSequence, ID: candidate.ID, Expected: predecessor.ID + 1}
	}

	if candidate.CalculateHash().String() != candidate.Hash {
		return invalid(ErrHashMismatch, candidate.ID)
	}

	return nil
}

// ValidateChain checks every adjacent pair from index 1 onward and stops at
// the first failure. The first block is trusted as the root, so sequences of
// length 0 or 1 are always valid.
func (v *Validator) ValidateChain(blocks []*block.Block) error {
	for i := 1; i < len(blocks); i++ {
		if err := v.ValidateBlock(blocks[i], blocks[i-1]); err != nil {
			return err
		}
	}
	return nil
}
