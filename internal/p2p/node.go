// Package p2p implements peer-to-peer networking using libp2p.
package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// rendezvousFallback is the discovery namespace when no NetworkID is set.
	rendezvousFallback = "klingnet-ledger"

	// dhtDiscoveryInterval is how often DHT FindPeers runs.
	dhtDiscoveryInterval = 30 * time.Second

	// peerConnectTimeout is the timeout for dialing a discovered or persisted peer.
	peerConnectTimeout = 5 * time.Second

	// seedRetryInterval is how often seeds are redialed while we have no peers.
	seedRetryInterval = 10 * time.Second

	// maxGossipMessageSize bounds a single gossip message (one block plus envelope).
	maxGossipMessageSize = config.MaxBlockDataSize + 64*1024
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	DB         storage.DB // Peer persistence (nil = disabled, for tests)
	DHTServer  bool       // Run DHT in server mode (for seeds)
	NetworkID  string     // Genesis chain id; isolates discovery per network
	DataDir    string     // Directory for the persistent node identity
}

// Node represents a P2P node built on libp2p.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	// Joined in Start; read-only afterwards.
	topics map[string]*pubsub.Topic
	subs   []*pubsub.Subscription

	mu       sync.RWMutex
	peers    map[peer.ID]*Peer
	handlers map[string]func(peer.ID, []byte) // by topic

	peerStore       *PeerStore    // nil if Config.DB is nil
	dht             *dht.IpfsDHT  // nil if NoDiscover
	connNotify      *connNotifier // connection lifecycle tracker
	onPeerConnected func(peer.ID) // optional callback when a new peer connects

	// Handshake fields.
	genesisHash      string
	handshakeEnabled bool
	lengthFn         func() uint64
}

// New creates a new P2P node with the given config.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[peer.ID]*Peer),
		handlers: make(map[string]func(peer.ID, []byte)),
	}
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
	}
	return n
}

// rendezvous returns the DHT/mDNS discovery namespace for this node.
func (n *Node) rendezvous() string {
	if n.config.NetworkID != "" {
		return "klingnet-ledger/" + n.config.NetworkID
	}
	return rendezvousFallback
}

// Start creates the libp2p host, joins the gossip topics and starts
// discovery. Handlers and handshake settings must be set before Start.
func (n *Node) Start() error {
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)),
	}
	// A persisted key keeps the peer ID stable across restarts.
	if n.config.DataDir != "" {
		privKey, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(privKey))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h

	n.connNotify = &connNotifier{node: n}
	h.Network().Notify(n.connNotify)

	if err := n.startPubSub(); err != nil {
		n.closeDHT()
		h.Close()
		return err
	}
	if n.handshakeEnabled {
		n.registerHandshakeHandler()
	}
	for _, sub := range n.subs {
		go n.readLoop(sub)
	}

	n.startDiscovery()
	if n.peerStore != nil {
		go n.runPersistLoop()
	}

	klog.P2P.Info().
		Str("id", h.ID().String()).
		Strs("addrs", n.Addrs()).
		Msg("P2P node started")
	return nil
}

// startPubSub brings up the DHT (when discovery is on) and GossipSub, then
// joins and subscribes to every topic.
func (n *Node) startPubSub() error {
	// The DHT comes first so GossipSub can use it as a peer source.
	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(n.ctx, n.host, pubsub.WithMaxMessageSize(maxGossipMessageSize))
	if err != nil {
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	n.topics = make(map[string]*pubsub.Topic)
	for _, name := range []string{TopicBlocks, TopicAnnounce} {
		topic, err := ps.Join(name)
		if err != nil {
			return fmt.Errorf("join topic %s: %w", name, err)
		}
		sub, err := topic.Subscribe()
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		n.topics[name] = topic
		n.subs = append(n.subs, sub)
	}
	return nil
}

// Stop shuts down the P2P node.
func (n *Node) Stop() error {
	n.persistPeers()

	n.cancel()
	for _, sub := range n.subs {
		sub.Cancel()
	}
	for _, topic := range n.topics {
		topic.Close()
	}

	n.closeDHT()
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

// Host returns the underlying libp2p host (nil before Start).
func (n *Node) Host() host.Host {
	return n.host
}

// SetPeerConnectedHandler registers a callback invoked when a new peer connects.
func (n *Node) SetPeerConnectedHandler(fn func(peer.ID)) {
	n.onPeerConnected = fn
}

// SetGenesisHash sets the genesis hash checked during the handshake.
// A non-empty hash enables the handshake protocol. Call before Start.
func (n *Node) SetGenesisHash(h string) {
	n.genesisHash = h
	n.handshakeEnabled = h != ""
}

// SetLengthFn sets the function used to report chain length during handshake.
func (n *Node) SetLengthFn(fn func() uint64) {
	n.lengthFn = fn
}

// SetBlockHandler registers a callback for incoming blocks.
// The callback receives the sender peer ID and the raw message bytes.
func (n *Node) SetBlockHandler(fn func(from peer.ID, data []byte)) {
	n.setHandler(TopicBlocks, fn)
}

// SetAnnounceHandler registers a callback for incoming chain announcements.
func (n *Node) SetAnnounceHandler(fn func(from peer.ID, data []byte)) {
	n.setHandler(TopicAnnounce, fn)
}

func (n *Node) setHandler(topic string, fn func(peer.ID, []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[topic] = fn
}

// publish sends data on a joined topic.
func (n *Node) publish(topic string, data []byte) error {
	t := n.topics[topic]
	if t == nil {
		return fmt.Errorf("p2p node not started")
	}
	return t.Publish(n.ctx, data)
}

// DisconnectPeer closes all connections to a peer and removes it from the peer list.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return fmt.Errorf("node not started")
	}
	n.removePeer(id)
	return n.host.Network().ClosePeer(id)
}

// ID returns the peer ID of this node.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	addrs := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// ── Peer bookkeeping ────────────────────────────────────────────────────

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// PeerIDs returns the IDs of connected peers.
func (n *Node) PeerIDs() []peer.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]peer.ID, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out
}

// SetPeerStatus records the last chain status seen from a peer.
func (n *Node) SetPeerStatus(id peer.ID, st ChainStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok {
		p.LastStatus = &st
	}
}

// addPeer registers a peer and reports whether it was new.
func (n *Node) addPeer(id peer.ID, source string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.peers[id]; exists {
		return false
	}
	n.peers[id] = &Peer{ID: id, ConnectedAt: time.Now(), Source: source}
	return true
}

// tagPeer records how we found a peer, unless a dial source is already known.
func (n *Node) tagPeer(id peer.ID, source string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok && (p.Source == "" || p.Source == SourceInbound) {
		p.Source = source
	}
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

func (n *Node) atPeerLimit() bool {
	return n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers
}

// ── Gossip delivery ─────────────────────────────────────────────────────

func (n *Node) readLoop(sub *pubsub.Subscription) {
	topic := sub.Topic()
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.deliver(topic, msg)
	}
}

// deliver hands a gossip message to the topic's handler. A panicking
// handler is logged and the read loop keeps running.
func (n *Node) deliver(topic string, msg *pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			klog.P2P.Error().Str("topic", topic).Interface("panic", r).Msg("Gossip handler panicked")
		}
	}()

	n.addPeer(msg.ReceivedFrom, SourceGossip)

	n.mu.RLock()
	fn := n.handlers[topic]
	n.mu.RUnlock()
	if fn != nil {
		fn(msg.ReceivedFrom, msg.Data)
	}
}

// shortID abbreviates a peer ID for logs.
func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
