package p2p

import (
	"github.com/libp2p/go-libp2p/core/protocol"
)

// GossipSub topic names.
const (
	TopicBlocks   = "/klingnet-ledger/block/1.0.0"
	TopicAnnounce = "/klingnet-ledger/announce/1.0.0"
)

// Stream protocol IDs.
const (
	// HandshakeProtocol checks that a peer runs the same network and genesis.
	HandshakeProtocol = protocol.ID("/klingnet-ledger/handshake/1.0.0")

	// ChainProtocol returns the peer's full chain.
	ChainProtocol = protocol.ID("/klingnet-ledger/chain/1.0.0")

	// StatusProtocol returns the peer's chain length and tip.
	StatusProtocol = protocol.ID("/klingnet-ledger/status/1.0.0")
)

const (
	// ProtocolVersion is the current protocol version advertised during handshake.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the minimum protocol version we accept from peers.
	MinProtocolVersion uint32 = 1
)

// ChainStatus summarizes a chain without shipping its blocks. It is served
// over StatusProtocol and gossiped on TopicAnnounce.
type ChainStatus struct {
	Length       uint64 `json:"length"`
	TipHash      string `json:"tip_hash"`
	TipTimestamp int64  `json:"tip_timestamp"`
}
