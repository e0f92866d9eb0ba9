package rpc

import (
	"encoding/json"
	"errors"

	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeRejected       = -32001 // Block or chain failed validation.
)

// maxBlocksPerCall caps chain_getBlocks.
const maxBlocksPerCall = 500

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// IDParam is used by chain_getBlock.
type IDParam struct {
	ID uint64 `json:"id"`
}

// RangeParam is used by chain_getBlocks. Count 0 means up to the cap.
type RangeParam struct {
	From  uint64 `json:"from"`
	Count uint64 `json:"count"`
}

// BlockParam is used by block_submit and block_validate.
type BlockParam struct {
	Block *block.Block `json:"block"`
}

// ChainParam is used by chain_compare.
type ChainParam struct {
	Blocks []*block.Block `json:"blocks"`
}

// MineParam is used by mining_mine.
type MineParam struct {
	Data string `json:"data"`
}

// ── Result types ────────────────────────────────────────────────────────

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	ChainID          string `json:"chain_id"`
	ChainName        string `json:"chain_name"`
	Length           uint64 `json:"length"`
	Height           uint64 `json:"height"`
	GenesisHash      string `json:"genesis_hash"`
	TipHash          string `json:"tip_hash"`
	TipTimestamp     int64  `json:"tip_timestamp"`
	DifficultyPrefix string `json:"difficulty_prefix"`
}

// BlocksResult is returned by chain_getBlocks.
type BlocksResult struct {
	Total  uint64         `json:"total"`
	Blocks []*block.Block `json:"blocks"`
}

// ValidateResult is returned by chain_validate and block_validate.
// Kind names the failed check and is empty when Valid is true.
type ValidateResult struct {
	Valid bool   `json:"valid"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// CompareResult is returned by chain_compare.
type CompareResult struct {
	Winner       string `json:"winner"` // "local" or "remote"
	LocalLength  uint64 `json:"local_length"`
	RemoteLength uint64 `json:"remote_length"`
}

// SubmitResult is returned by block_submit and mining_mine.
type SubmitResult struct {
	ID   uint64 `json:"id"`
	Hash string `json:"hash"`
}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID          string `json:"id"`
	ConnectedAt string `json:"connected_at"`
	Source      string `json:"source,omitempty"`
	ChainLength uint64 `json:"chain_length,omitempty"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int        `json:"count"`
	Peers []PeerInfo `json:"peers"`
}

// NodeInfoResult is returned by net_getNodeInfo.
type NodeInfoResult struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}

// errorKinds maps validation sentinels to stable wire names.
var errorKinds = []struct {
	err  error
	name string
}{
	{chain.ErrIsGenesisBlock, "is_genesis_block"},
	{chain.ErrPreviousHashMismatch, "previous_hash_mismatch"},
	{chain.ErrInsufficientDifficulty, "insufficient_difficulty"},
	{chain.ErrOutOfSequence, "out_of_sequence"},
	{chain.ErrHashMismatch, "hash_mismatch"},
	{chain.ErrMalformedHash, "malformed_hash"},
	{chain.ErrEmptyChain, "empty_chain"},
	{chain.ErrNoValidChain, "no_valid_chain"},
}

// errorKind returns the wire name of a validation error, or "" if err is
// not one of the known kinds.
func errorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}
