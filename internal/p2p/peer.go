package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer source labels.
const (
	SourceSeed      = "seed"
	SourceMDNS      = "mdns"
	SourceDHT       = "dht"
	SourceGossip    = "gossip"
	SourcePersisted = "persisted"
	SourceInbound   = "inbound"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string // One of the Source* labels.
	LastStatus  *ChainStatus
}
