// Package miner implements block production for the ledger.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// ChainState provides read-only access to the current chain tip.
type ChainState interface {
	Tip() *block.Block
}

// Miner produces new blocks on top of the chain tip.
type Miner struct {
	chain  ChainState
	engine consensus.Engine
}

// New creates a new block producer.
func New(chain ChainState, engine consensus.Engine) *Miner {
	return &Miner{chain: chain, engine: engine}
}

// ProduceBlock builds and seals a block carrying data, using the current time.
// The block is NOT applied to the chain; the caller must call TryAddBlock.
func (m *Miner) ProduceBlock(ctx context.Context, data string) (*block.Block, error) {
	return m.ProduceBlockAt(ctx, time.Now().Unix(), data)
}

// ProduceBlockAt builds and seals a block with the given timestamp.
// The timestamp is bumped to at least parentTimestamp+1 to keep it monotonic.
// When the context is cancelled, sealing stops and the context error is returned.
func (m *Miner) ProduceBlockAt(ctx context.Context, timestamp int64, data string) (*block.Block, error) {
	if len(data) > config.MaxBlockDataSize {
		return nil, fmt.Errorf("block data too large: %d > %d bytes", len(data), config.MaxBlockDataSize)
	}

	tip := m.chain.Tip()
	if tip == nil {
		return nil, fmt.Errorf("chain has no tip")
	}

	if timestamp <= tip.Timestamp {
		timestamp = tip.Timestamp + 1
	}

	blk := block.New(tip.ID+1, timestamp, tip.Hash, data)
	if err := m.engine.SealWithCancel(ctx, blk); err != nil {
		log.Miner.Debug().Err(err).Uint64("id", blk.ID).Msg("Sealing stopped")
		return nil, fmt.Errorf("seal block: %w", err)
	}

	return blk, nil
}
