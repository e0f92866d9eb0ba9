// Package node assembles a ledger node from the chain, miner, P2P and RPC
// components so it can be embedded in any binary.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/miner"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// chainRequestTimeout bounds a single full-chain fetch from a peer.
const chainRequestTimeout = 30 * time.Second

// Node is a fully-initialized ledger node.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	// Core. mu guards ch; the chain itself is not safe for concurrent use.
	mu     sync.Mutex
	ch     *chain.Chain
	engine *consensus.PoW
	miner  *miner.Miner

	// Networking
	db      storage.DB // peer records; nil when P2P is disabled
	p2pNode *p2p.Node

	syncMu   sync.Mutex // guards syncer, inflight and stopping
	syncer   *p2p.Syncer
	inflight map[peer.ID]struct{} // peers with a chain request outstanding
	stopping bool                 // set by Stop; no new reconciles start

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Logging is process-wide; only the first node in a process configures it.
var (
	logOnce sync.Once
	logErr  error
)

func initLogging(cfg *config.Config) error {
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "ledger.log")
	}
	return klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile)
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, chain, P2P, RPC) but does NOT start background
// goroutines (mining, reconciliation). Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logOnce.Do(func() { logErr = initLogging(cfg) })
	if logErr != nil {
		return nil, fmt.Errorf("initializing logger: %w", logErr)
	}
	logger := klog.Node

	// ── 2. Genesis ──────────────────────────────────────────────────
	genesis, err := config.LoadGenesisFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}

	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Str("difficulty_prefix", genesis.Protocol.DifficultyPrefix).
		Int("block_time", genesis.Protocol.BlockTime).
		Msg("Starting Klingnet Ledger Node")

	// ── 3. Consensus engine ─────────────────────────────────────────
	engine, err := createEngine(genesis, cfg.Mining.Threads)
	if err != nil {
		return nil, fmt.Errorf("create consensus engine: %w", err)
	}

	// ── 4. Chain ────────────────────────────────────────────────────
	ch, err := chain.New(engine)
	if err != nil {
		return nil, fmt.Errorf("create chain: %w", err)
	}
	if err := ch.InitFromGenesis(genesis); err != nil {
		return nil, fmt.Errorf("init from genesis: %w", err)
	}
	logger.Info().Str("genesis", short(ch.Genesis().Hash)).Msg("Chain initialized from genesis")

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		genesis:  genesis,
		logger:   logger,
		ch:       ch,
		engine:   engine,
		inflight: make(map[peer.ID]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	n.miner = miner.New(n, engine)

	// ── 5. P2P ──────────────────────────────────────────────────────
	if cfg.P2P.Enabled {
		if err := n.setupP2P(); err != nil {
			n.Stop()
			return nil, err
		}
	} else {
		logger.Warn().Msg("P2P disabled by config; node will run offline")
	}

	// ── 6. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpcServer = rpc.New(rpcAddr, n, n.p2pNode, genesis, cfg.RPC)
		if err := n.rpcServer.Start(); err != nil {
			n.rpcServer = nil
			n.Stop()
			return nil, fmt.Errorf("start RPC at %s: %w", rpcAddr, err)
		}
		logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return n, nil
}

func (n *Node) setupP2P() error {
	if err := os.MkdirAll(n.cfg.PeersDir(), 0755); err != nil {
		return fmt.Errorf("create peers dir: %w", err)
	}
	db, err := storage.NewBadger(n.cfg.PeersDir())
	if err != nil {
		return fmt.Errorf("open peer database at %s: %w", n.cfg.PeersDir(), err)
	}
	n.db = db

	n.p2pNode = p2p.New(p2p.Config{
		ListenAddr: n.cfg.P2P.ListenAddr,
		Port:       n.cfg.P2P.Port,
		Seeds:      n.cfg.P2P.Seeds,
		MaxPeers:   n.cfg.P2P.MaxPeers,
		NoDiscover: n.cfg.P2P.NoDiscover,
		DB:         db,
		DHTServer:  n.cfg.P2P.DHTServer,
		NetworkID:  n.genesis.ChainID,
		DataDir:    n.cfg.ChainDataDir(),
	})
	n.p2pNode.SetGenesisHash(n.genesis.Hash)
	n.p2pNode.SetLengthFn(func() uint64 { return n.Status().Length })
	n.p2pNode.SetBlockHandler(n.handleBlock)
	n.p2pNode.SetAnnounceHandler(n.handleAnnounce)
	n.p2pNode.SetPeerConnectedHandler(n.spawnReconcile)

	if err := n.p2pNode.Start(); err != nil {
		n.p2pNode = nil
		return fmt.Errorf("start P2P: %w", err)
	}

	syncer := p2p.NewSyncer(n.p2pNode)
	syncer.RegisterHandler(n.Blocks)
	syncer.RegisterStatusHandler(n.Status)
	n.syncMu.Lock()
	n.syncer = syncer
	n.syncMu.Unlock()

	n.logger.Info().
		Str("id", n.p2pNode.ID().String()).
		Int("port", n.cfg.P2P.Port).
		Bool("discovery", !n.cfg.P2P.NoDiscover).
		Msg("P2P node started")
	return nil
}

// Start launches background goroutines: the reconciliation loop and the miner.
func (n *Node) Start() error {
	if n.p2pNode != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runSyncLoop()
		}()
	}

	if n.cfg.Mining.Enabled {
		blockTime := time.Duration(n.genesis.Protocol.BlockTime) * time.Second
		n.logger.Info().
			Dur("interval", blockTime).
			Int("threads", n.cfg.Mining.Threads).
			Msg("Block production enabled")

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runMiner(blockTime)
		}()
	}

	st := n.Status()
	n.logger.Info().
		Uint64("length", st.Length).
		Str("tip", short(st.TipHash)).
		Bool("mining", n.cfg.Mining.Enabled).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.syncMu.Lock()
	n.stopping = true
	n.syncMu.Unlock()

	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// P2P returns the P2P node, or nil when networking is disabled.
func (n *Node) P2P() *p2p.Node {
	return n.p2pNode
}

// ── Chain access ────────────────────────────────────────────────────

// Blocks returns a copy of the current chain.
func (n *Node) Blocks() []*block.Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.Blocks()
}

// Tip returns a copy of the chain tip.
func (n *Node) Tip() *block.Block {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.Tip().Clone()
}

// Validator returns the validator the chain checks blocks with.
func (n *Node) Validator() *chain.Validator {
	return n.ch.Validator()
}

// Status summarizes the chain for peers.
func (n *Node) Status() p2p.ChainStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	tip := n.ch.Tip()
	return p2p.ChainStatus{
		Length:       uint64(n.ch.Len()),
		TipHash:      tip.Hash,
		TipTimestamp: tip.Timestamp,
	}
}

// SubmitBlock appends a locally produced or RPC-submitted block and
// broadcasts it on success.
func (n *Node) SubmitBlock(b *block.Block) error {
	if err := n.addBlock(b); err != nil {
		return err
	}
	n.broadcast(b)
	n.announce()
	return nil
}

// MineBlock seals a block carrying data on the current tip and submits it.
func (n *Node) MineBlock(ctx context.Context, data string) (*block.Block, error) {
	blk, err := n.miner.ProduceBlock(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := n.SubmitBlock(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

func (n *Node) addBlock(b *block.Block) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.TryAddBlock(b)
}

func (n *Node) broadcast(b *block.Block) {
	if n.p2pNode == nil {
		return
	}
	if err := n.p2pNode.BroadcastBlock(b); err != nil {
		n.logger.Error().Err(err).Msg("Failed to broadcast block")
	}
}

func (n *Node) announce() {
	if n.p2pNode == nil {
		return
	}
	if err := n.p2pNode.AnnounceChain(n.Status()); err != nil {
		n.logger.Debug().Err(err).Msg("Failed to announce chain")
	}
}

// ── P2P handlers ────────────────────────────────────────────────────

func (n *Node) handleBlock(from peer.ID, data []byte) {
	blk, err := p2p.DecodeBlock(data)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", from.String()).Msg("Failed to decode block")
		return
	}

	err = n.addBlock(blk)
	switch {
	case err == nil:
		n.logger.Info().
			Uint64("id", blk.ID).
			Str("hash", short(blk.Hash)).
			Msg("Block received and applied")
		n.announce()
	case errors.Is(err, chain.ErrPreviousHashMismatch), errors.Is(err, chain.ErrOutOfSequence):
		// The sender may be ahead of us or on a competing branch.
		tip := n.Tip()
		if blk.ID > tip.ID || (blk.ID == tip.ID && blk.Hash != tip.Hash) {
			n.spawnReconcile(from)
		}
	default:
		n.logger.Debug().Err(err).Uint64("id", blk.ID).Msg("Rejected gossiped block")
	}
}

func (n *Node) handleAnnounce(from peer.ID, data []byte) {
	st, err := p2p.DecodeChainStatus(data)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", from.String()).Msg("Failed to decode announcement")
		return
	}
	n.p2pNode.SetPeerStatus(from, *st)

	if peerLooksBetter(n.Status(), *st) {
		n.spawnReconcile(from)
	}
}

// peerLooksBetter reports whether a peer's announced chain could win fork
// choice against ours and is worth fetching.
func peerLooksBetter(local, remote p2p.ChainStatus) bool {
	if remote.Length != local.Length {
		return remote.Length > local.Length
	}
	return remote.TipHash != local.TipHash && local.TipTimestamp >= remote.TipTimestamp
}

// ── Reconciliation ──────────────────────────────────────────────────

func (n *Node) runSyncLoop() {
	interval := time.Duration(n.cfg.P2P.SyncInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			for _, id := range n.p2pNode.PeerIDs() {
				n.reconcileWith(id)
			}
		}
	}
}

// spawnReconcile runs reconcileWith in the background under wg, so Stop
// waits for it. Nothing new starts once Stop has begun.
func (n *Node) spawnReconcile(id peer.ID) {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	if n.stopping {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconcileWith(id)
	}()
}

// reconcileWith fetches a peer's chain when its status could beat ours and
// runs fork resolution. At most one request per peer is outstanding.
func (n *Node) reconcileWith(id peer.ID) {
	if n.ctx.Err() != nil {
		return
	}

	n.syncMu.Lock()
	syncer := n.syncer
	if _, busy := n.inflight[id]; busy || syncer == nil {
		n.syncMu.Unlock()
		return
	}
	n.inflight[id] = struct{}{}
	n.syncMu.Unlock()
	defer func() {
		n.syncMu.Lock()
		delete(n.inflight, id)
		n.syncMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(n.ctx, chainRequestTimeout)
	defer cancel()

	// Probe the peer's status before pulling its whole chain.
	st, err := syncer.RequestStatus(ctx, id)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", id.String()).Msg("Status request failed")
		return
	}
	n.p2pNode.SetPeerStatus(id, *st)
	if !peerLooksBetter(n.Status(), *st) {
		return
	}

	remote, err := syncer.RequestChain(ctx, id)
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", id.String()).Msg("Chain request failed")
		return
	}

	// Stop may have begun while the chain was in flight.
	if n.ctx.Err() != nil {
		return
	}
	replaced, err := n.resolve(remote)
	switch {
	case errors.Is(err, chain.ErrNoValidChain):
		n.logger.Warn().Err(err).Str("peer", id.String()).Msg("No valid chain, keeping local state")
	case err != nil:
		n.logger.Debug().Err(err).Str("peer", id.String()).Msg("Remote chain skipped")
	case replaced:
		st := n.Status()
		n.logger.Info().
			Str("peer", id.String()).
			Uint64("length", st.Length).
			Str("tip", short(st.TipHash)).
			Msg("Adopted remote chain")
		n.announce()
	}
}

// errForeignGenesis marks a remote chain rooted at a different genesis.
var errForeignGenesis = errors.New("remote chain has a different genesis")

// resolve runs fork choice between the local chain and remote and installs
// the winner. Chains rooted at a different genesis are never adopted.
func (n *Node) resolve(remote []*block.Block) (bool, error) {
	if len(remote) == 0 {
		return false, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if remote[0].Hash != n.ch.Genesis().Hash {
		return false, errForeignGenesis
	}
	return n.ch.Resolve(remote)
}

// ── Mining ──────────────────────────────────────────────────────────

func (n *Node) runMiner(blockTime time.Duration) {
	if blockTime <= 0 {
		blockTime = time.Second
	}
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Info().Msg("Block production stopped")
			return
		case <-ticker.C:
			blk, err := n.MineBlock(n.ctx, n.cfg.Mining.Data)
			if err != nil {
				if n.ctx.Err() != nil {
					return
				}
				// Usually a competing block took our parent while sealing.
				n.logger.Debug().Err(err).Msg("Mined block not applied")
				continue
			}
			n.logger.Info().
				Uint64("id", blk.ID).
				Str("hash", short(blk.Hash)).
				Uint64("nonce", blk.Nonce).
				Msg("Block produced")
		}
	}
}
