package p2p

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

func hasPeer(n *Node, id peer.ID) bool {
	for _, p := range n.PeerList() {
		if p.ID == id {
			return true
		}
	}
	return false
}

func TestConnNotifier_TracksConnectAndDisconnect(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	connectNodes(t, nodeA, nodeB)

	waitFor(t, "A to see B", func() bool { return hasPeer(nodeA, nodeB.ID()) })
	waitFor(t, "B to see A", func() bool { return hasPeer(nodeB, nodeA.ID()) })

	for _, conn := range nodeB.host.Network().ConnsToPeer(nodeA.ID()) {
		conn.Close()
	}
	waitFor(t, "B to drop A", func() bool { return !hasPeer(nodeB, nodeA.ID()) })
	waitFor(t, "A to drop B", func() bool { return !hasPeer(nodeA, nodeB.ID()) })
}

func TestConnNotifier_PeerConnectedCallback(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	var calls atomic.Int32
	var seen atomic.Value
	nodeA.SetPeerConnectedHandler(func(id peer.ID) {
		calls.Add(1)
		seen.Store(id)
	})

	connectNodes(t, nodeA, nodeB)
	waitFor(t, "peer connected callback", func() bool { return calls.Load() > 0 })

	if seen.Load().(peer.ID) != nodeB.ID() {
		t.Errorf("callback got %v, want %v", seen.Load(), nodeB.ID())
	}

	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("callback fired %d times, want 1", n)
	}
}

func TestConnNotifier_InboundSource(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	connectNodes(t, nodeA, nodeB)

	for _, p := range nodeA.PeerList() {
		if p.ID == nodeB.ID() && p.Source != SourceInbound {
			t.Errorf("inbound peer source = %q, want %q", p.Source, SourceInbound)
		}
	}
}
