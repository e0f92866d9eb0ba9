package chain

import (
	"errors"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// TryAddBlock validates candidate against the current tip and appends it on
// success. On any failure the chain is left untouched and the validator's
// error is returned unchanged.
func (c *Chain) TryAddBlock(candidate *block.Block) error {
	tip := c.Tip()
	if tip == nil {
		return ErrEmptyChain
	}

	if err := c.validator.ValidateBlock(candidate, tip); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			log.Chain.Warn().
				Uint64("id", ve.ID).
				Str("kind", ve.Kind.Error()).
				Err(err).
				Msg("Block rejected")
		}
		return err
	}

	c.blocks = append(c.blocks, candidate.Clone())

	log.Chain.Debug().
		Uint64("id", candidate.ID).
		Str("hash", candidate.Hash).
		Msg("Block added")
	return nil
}
