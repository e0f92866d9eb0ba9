package p2p

import (
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/libp2p/go-libp2p/core/peer"
)

// persistPeers saves the known addresses of every connected peer.
func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}

	n.mu.RLock()
	sources := make(map[peer.ID]string, len(n.peers))
	for id, p := range n.peers {
		sources[id] = p.Source
	}
	n.mu.RUnlock()

	now := time.Now().Unix()
	saved := 0
	for id, source := range sources {
		addrs := n.host.Peerstore().Addrs(id)
		if len(addrs) == 0 {
			continue
		}
		rec := PeerRecord{ID: id.String(), LastSeen: now, Source: source}
		for _, a := range addrs {
			rec.Addrs = append(rec.Addrs, a.String())
		}
		if err := n.peerStore.Save(rec); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Persist peer failed")
			continue
		}
		saved++
	}
	klog.P2P.Debug().Int("saved", saved).Msg("Persisted peers")
}

// loadPersistedPeers prunes stale records and redials the rest.
func (n *Node) loadPersistedPeers() {
	if n.peerStore == nil {
		return
	}
	if pruned, err := n.peerStore.PruneStale(staleThreshold); err == nil && pruned > 0 {
		klog.P2P.Debug().Int("pruned", pruned).Msg("Pruned stale peers")
	}

	records, err := n.peerStore.LoadAll()
	if err != nil {
		klog.P2P.Warn().Err(err).Msg("Load persisted peers failed")
		return
	}
	for _, rec := range records {
		info, err := rec.AddrInfo()
		if err != nil {
			continue
		}
		if n.atPeerLimit() {
			return
		}
		n.dial(info, SourcePersisted, peerConnectTimeout)
	}
}

func (n *Node) runPersistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
			n.peerStore.PruneStale(staleThreshold)
		}
	}
}
