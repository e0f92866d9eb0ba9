package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// BroadcastBlock publishes a block to the gossip network.
func (n *Node) BroadcastBlock(b *block.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}

	return n.publish(TopicBlocks, data)
}

// AnnounceChain publishes our chain status so peers with a weaker chain can
// fetch ours.
func (n *Node) AnnounceChain(st ChainStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal chain status: %w", err)
	}

	return n.publish(TopicAnnounce, data)
}

// DecodeBlock parses a gossiped block and rejects messages that cannot be a
// block at all. Consensus checks are left to the chain.
func DecodeBlock(data []byte) (*block.Block, error) {
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if blk.Hash == "" {
		return nil, fmt.Errorf("decode block: missing hash")
	}
	if len(blk.Data) > config.MaxBlockDataSize {
		return nil, fmt.Errorf("decode block: data too large (%d bytes)", len(blk.Data))
	}
	return &blk, nil
}

// DecodeChainStatus parses a gossiped chain announcement.
func DecodeChainStatus(data []byte) (*ChainStatus, error) {
	var st ChainStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode chain status: %w", err)
	}
	if st.Length == 0 || st.TipHash == "" {
		return nil, fmt.Errorf("decode chain status: empty chain")
	}
	return &st, nil
}
