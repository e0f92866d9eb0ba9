package p2p

import (
	"context"
	"fmt"
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

// startDiscovery kicks off every peer source: persisted peers, seeds,
// and (unless NoDiscover) mDNS and the DHT. The first seed round blocks.
func (n *Node) startDiscovery() {
	go n.loadPersistedPeers()

	if len(n.config.Seeds) > 0 {
		klog.P2P.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds...")
		n.connectSeeds()
		go n.retrySeeds()
	}

	if n.config.NoDiscover {
		return
	}
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), &discoveryNotifee{node: n})
	if err := svc.Start(); err != nil {
		klog.P2P.Warn().Err(err).Msg("mDNS unavailable")
	}
	go n.runDHTDiscovery()
}

// dial connects to a discovered peer and records its source. Ourselves,
// address-less peers and anything past the peer limit are skipped.
func (n *Node) dial(info peer.AddrInfo, source string, timeout time.Duration) error {
	if info.ID == n.host.ID() || len(info.Addrs) == 0 || n.atPeerLimit() {
		return nil
	}
	ctx, cancel := context.WithTimeout(n.ctx, timeout)
	defer cancel()
	if err := n.host.Connect(ctx, info); err != nil {
		return err
	}
	n.addPeer(info.ID, source)
	n.tagPeer(info.ID, source)
	return nil
}

// discoveryNotifee handles mDNS peer discovery notifications.
type discoveryNotifee struct {
	node *Node
}

// HandlePeerFound is called when a peer is discovered via mDNS.
func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	d.node.dial(pi, SourceMDNS, peerConnectTimeout)
}

// ── Seeds ───────────────────────────────────────────────────────────────

// connectSeeds dials each seed once and reports how many connected.
func (n *Node) connectSeeds() int {
	connected := 0
	for _, addr := range n.config.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			klog.P2P.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		if info.ID == n.host.ID() {
			continue
		}
		if err := n.dial(*info, SourceSeed, 10*time.Second); err != nil {
			klog.P2P.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		klog.P2P.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		connected++
	}
	return connected
}

// retrySeeds redials seeds while the node has no peers.
func (n *Node) retrySeeds() {
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				klog.P2P.Info().Msg("No peers, retrying seeds...")
				n.connectSeeds()
			}
		}
	}
}

// ── DHT ─────────────────────────────────────────────────────────────────

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kadDHT, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return fmt.Errorf("create kad-dht: %w", err)
	}
	n.dht = kadDHT
	return kadDHT.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

// runDHTDiscovery advertises our rendezvous and periodically dials peers
// found under it.
func (n *Node) runDHTDiscovery() {
	if n.dht == nil {
		return
	}
	rd := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, rd, n.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.findDHTPeers(rd)
		}
	}
}

func (n *Node) findDHTPeers(rd *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, 20*time.Second)
	defer cancel()

	found, err := rd.FindPeers(ctx, n.rendezvous())
	if err != nil {
		klog.P2P.Debug().Err(err).Msg("DHT FindPeers failed")
		return
	}
	for p := range found {
		if n.atPeerLimit() {
			return
		}
		n.dial(p, SourceDHT, peerConnectTimeout)
	}
}
