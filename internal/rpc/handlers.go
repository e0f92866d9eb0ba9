package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
)

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleChainGetInfo(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	blocks := s.ledger.Blocks()
	if len(blocks) == 0 {
		return nil, &Error{Code: CodeInternalError, Message: chain.ErrEmptyChain.Error()}
	}
	tip := blocks[len(blocks)-1]

	res := &ChainInfoResult{
		Length:       uint64(len(blocks)),
		Height:       tip.ID,
		GenesisHash:  blocks[0].Hash,
		TipHash:      tip.Hash,
		TipTimestamp: tip.Timestamp,
	}
	if s.genesis != nil {
		res.ChainID = s.genesis.ChainID
		res.ChainName = s.genesis.ChainName
		res.DifficultyPrefix = s.genesis.Protocol.DifficultyPrefix
	}
	return res, nil
}

func (s *Server) handleChainGetBlock(_ context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params IDParam
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}

	blocks := s.ledger.Blocks()
	if params.ID >= uint64(len(blocks)) {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block %d not found", params.ID)}
	}
	return blocks[params.ID], nil
}

func (s *Server) handleChainGetBlocks(_ context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params RangeParam
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Count == 0 || params.Count > maxBlocksPerCall {
		params.Count = maxBlocksPerCall
	}

	blocks := s.ledger.Blocks()
	total := uint64(len(blocks))
	if params.From >= total {
		return &BlocksResult{Total: total, Blocks: nil}, nil
	}
	end := params.From + params.Count
	if end > total {
		end = total
	}
	return &BlocksResult{Total: total, Blocks: blocks[params.From:end]}, nil
}

func (s *Server) handleChainValidate(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	err := s.ledger.Validator().ValidateChain(s.ledger.Blocks())
	return validateResult(err), nil
}

func (s *Server) handleChainCompare(_ context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params ChainParam
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	for i, b := range params.Blocks {
		if b == nil {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("block %d is null", i)}
		}
	}

	local := s.ledger.Blocks()
	remoteWins, err := s.ledger.Validator().RemoteWins(local, params.Blocks)
	if err != nil {
		return nil, rejected(err)
	}

	res := &CompareResult{
		Winner:       "local",
		LocalLength:  uint64(len(local)),
		RemoteLength: uint64(len(params.Blocks)),
	}
	if remoteWins {
		res.Winner = "remote"
	}
	return res, nil
}

// ── Block endpoints ─────────────────────────────────────────────────────

func (s *Server) handleBlockValidate(_ context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params BlockParam
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Block == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "block is required"}
	}

	err := s.ledger.Validator().ValidateBlock(params.Block, s.ledger.Tip())
	return validateResult(err), nil
}

func (s *Server) handleBlockSubmit(_ context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params BlockParam
	if err := parseParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Block == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "block is required"}
	}

	if err := s.ledger.SubmitBlock(params.Block); err != nil {
		return nil, rejected(err)
	}
	return &SubmitResult{ID: params.Block.ID, Hash: params.Block.Hash}, nil
}

// ── Mining endpoints ────────────────────────────────────────────────────

func (s *Server) handleMiningMine(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var params MineParam
	if hasParams(raw) {
		if err := parseParams(raw, &params); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, mineTimeout)
	defer cancel()

	blk, err := s.ledger.MineBlock(ctx, params.Data)
	switch {
	case err == nil:
		return &SubmitResult{ID: blk.ID, Hash: blk.Hash}, nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, consensus.ErrNonceExhausted):
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("mining aborted: %v", err)}
	case errorKind(err) != "":
		// A competing block won the race for our parent.
		return nil, rejected(err)
	default:
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
}

// ── Network endpoints ───────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &PeerInfoResult{Count: 0, Peers: []PeerInfo{}}, nil
	}

	peers := s.p2pNode.PeerList()
	infos := make([]PeerInfo, len(peers))
	for i, p := range peers {
		infos[i] = PeerInfo{
			ID:          p.ID.String(),
			ConnectedAt: p.ConnectedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Source:      p.Source,
		}
		if p.LastStatus != nil {
			infos[i].ChainLength = p.LastStatus.Length
		}
	}

	return &PeerInfoResult{
		Count: len(infos),
		Peers: infos,
	}, nil
}

func (s *Server) handleNetGetNodeInfo(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &NodeInfoResult{ID: "", Addrs: []string{}}, nil
	}

	return &NodeInfoResult{
		ID:    s.p2pNode.ID().String(),
		Addrs: s.p2pNode.Addrs(),
	}, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

func validateResult(err error) *ValidateResult {
	if err == nil {
		return &ValidateResult{Valid: true}
	}
	return &ValidateResult{Valid: false, Kind: errorKind(err), Error: err.Error()}
}

func rejected(err error) *Error {
	e := &Error{Code: CodeRejected, Message: err.Error()}
	if kind := errorKind(err); kind != "" {
		e.Data = kind
	}
	return e
}
