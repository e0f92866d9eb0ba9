package chain

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// ChooseChain picks the canonical chain out of local and remote using the
// default difficulty prefix. See (*Validator).ChooseChain.
func ChooseChain(local, remote []*block.Block) ([]*block.Block, error) {
	return defaultValidator.ChooseChain(local, remote)
}

// ChooseChain picks the canonical chain out of local and remote.
//
// If both are valid the longer one wins. On equal length local wins only if
// its tip timestamp is strictly smaller than remote's; otherwise remote wins.
// If exactly one is valid it wins regardless of length. If neither is valid
// the result wraps ErrNoValidChain. Neither input is modified.
func (v *Validator) ChooseChain(local, remote []*block.Block) ([]*block.Block, error) {
	winner, _, err := v.chooseChain(local, remote)
	return winner, err
}

// RemoteWins reports whether fork choice would pick remote over local.
func (v *Validator) RemoteWins(local, remote []*block.Block) (bool, error) {
	_, remoteWins, err := v.chooseChain(local, remote)
	return remoteWins, err
}

func (v *Validator) chooseChain(local, remote []*block.Block) ([]*block.Block, bool, error) {
	localErr := v.ValidateChain(local)
	remoteErr := v.ValidateChain(remote)

	switch {
	case localErr == nil && remoteErr == nil:
		if len(local) != len(remote) {
			if len(remote) > len(local) {
				return remote, true, nil
			}
			return local, false, nil
		}
		if len(local) == 0 {
			return local, false, nil
		}
		if local[len(local)-1].Timestamp < remote[len(remote)-1].Timestamp {
			return local, false, nil
		}
		return remote, true, nil
	case localErr == nil:
		return local, false, nil
	case remoteErr == nil:
		return remote, true, nil
	default:
		return nil, false, fmt.Errorf("%w: local: %v; remote: %v", ErrNoValidChain, localErr, remoteErr)
	}
}

// Resolve runs fork choice between the chain and remote and installs the
// winner. It reports whether the remote chain replaced the local one.
func (c *Chain) Resolve(remote []*block.Block) (bool, error) {
	_, remoteWins, err := c.validator.chooseChain(c.blocks, remote)
	if err != nil {
		return false, err
	}
	if !remoteWins || len(remote) == 0 {
		return false, nil
	}
	// Same tip on the same length means the same chain; keep ours.
	if len(remote) == len(c.blocks) && remote[len(remote)-1].Hash == c.Tip().Hash {
		return false, nil
	}

	oldLen := len(c.blocks)
	c.blocks = cloneBlocks(remote)

	log.Chain.Info().
		Int("old_len", oldLen).
		Int("new_len", len(c.blocks)).
		Str("tip", c.Tip().Hash).
		Msg("Chain replaced")
	return true, nil
}
