package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// syncReadTimeout is the max time to read a chain response.
	syncReadTimeout = 30 * time.Second

	// statusReadTimeout is the max time to read a status response.
	statusReadTimeout = 5 * time.Second

	// maxChainResponseBytes limits a full chain response (64 MB).
	maxChainResponseBytes = 64 * 1024 * 1024

	// maxStatusResponseBytes limits a status response.
	maxStatusResponseBytes = 1024
)

// ChainResponse carries a peer's full chain, genesis first.
type ChainResponse struct {
	Blocks []*block.Block `json:"blocks"`
}

// Syncer serves our chain to peers and fetches theirs.
type Syncer struct {
	host host.Host
}

// NewSyncer creates a new chain syncer attached to the given node.
// The node must be started.
func NewSyncer(node *Node) *Syncer {
	return &Syncer{host: node.host}
}

// RegisterHandler serves the chain returned by provider on ChainProtocol.
// The request carries no body; the requester half-closes the stream.
func (s *Syncer) RegisterHandler(provider func() []*block.Block) {
	s.host.SetStreamHandler(ChainProtocol, func(stream network.Stream) {
		defer stream.Close()

		resp := ChainResponse{Blocks: provider()}
		if err := json.NewEncoder(stream).Encode(&resp); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(stream.Conn().RemotePeer())).Msg("Chain response write failed")
		}
	})
}

// RequestChain asks a peer for its full chain.
func (s *Syncer) RequestChain(ctx context.Context, peerID peer.ID) ([]*block.Block, error) {
	stream, err := s.host.NewStream(ctx, peerID, ChainProtocol)
	if err != nil {
		return nil, fmt.Errorf("open chain stream: %w", err)
	}
	defer stream.Close()

	// Signal we're done writing (the request is empty).
	stream.CloseWrite()
	_ = stream.SetReadDeadline(time.Now().Add(syncReadTimeout))

	var resp ChainResponse
	if err := json.NewDecoder(io.LimitReader(stream, maxChainResponseBytes)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read chain response: %w", err)
	}
	for i, b := range resp.Blocks {
		if b == nil {
			return nil, fmt.Errorf("chain response: nil block at index %d", i)
		}
	}

	return resp.Blocks, nil
}

// RegisterStatusHandler serves statusFn's result on StatusProtocol.
func (s *Syncer) RegisterStatusHandler(statusFn func() ChainStatus) {
	s.host.SetStreamHandler(StatusProtocol, func(stream network.Stream) {
		defer stream.Close()

		st := statusFn()
		json.NewEncoder(stream).Encode(&st)
	})
}

// RequestStatus queries a peer for its chain length and tip.
func (s *Syncer) RequestStatus(ctx context.Context, peerID peer.ID) (*ChainStatus, error) {
	stream, err := s.host.NewStream(ctx, peerID, StatusProtocol)
	if err != nil {
		return nil, fmt.Errorf("open status stream: %w", err)
	}
	defer stream.Close()

	stream.CloseWrite()
	_ = stream.SetReadDeadline(time.Now().Add(statusReadTimeout))

	var st ChainStatus
	if err := json.NewDecoder(io.LimitReader(stream, maxStatusResponseBytes)).Decode(&st); err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}
	return &st, nil
}
