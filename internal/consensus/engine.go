// Package consensus defines the proof-of-work rules blocks are sealed and
// checked against.
package consensus

import (
	"context"

	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Engine is the interface for consensus implementations.
type Engine interface {
	// VerifyHash checks that a declared hex hash satisfies the work rule.
	VerifyHash(hash string) error
	// Seal searches for a nonce and fills in the block's Nonce and Hash.
	Seal(blk *block.Block) error
	SealWithCancel(ctx context.Context, blk *block.Block) error
}
