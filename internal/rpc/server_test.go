package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/miner"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// testLedger is a mutex-guarded chain, the way the node exposes it.
type testLedger struct {
	mu    sync.Mutex
	chain *chain.Chain
	miner *miner.Miner
}

func (l *testLedger) Blocks() []*block.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.Blocks()
}

func (l *testLedger) Tip() *block.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.Tip().Clone()
}

func (l *testLedger) Validator() *chain.Validator {
	return l.chain.Validator()
}

func (l *testLedger) SubmitBlock(b *block.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain.TryAddBlock(b)
}

func (l *testLedger) MineBlock(ctx context.Context, data string) (*block.Block, error) {
	blk, err := l.miner.ProduceBlock(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := l.SubmitBlock(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// testEnv holds all components for an RPC test.
type testEnv struct {
	server  *Server
	ledger  *testLedger
	genesis *config.Genesis
	url     string
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithConfig(t, config.RPCConfig{})
}

func setupTestEnvWithConfig(t *testing.T, rpcCfg config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	gen := config.TestnetGenesis()
	ch, err := chain.Bootstrap(gen)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	pow, err := consensus.NewPoW(gen.Protocol.DifficultyPrefix)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}
	ledger := &testLedger{chain: ch}
	ledger.miner = miner.New(ledger, pow)

	srv := New("127.0.0.1:0", ledger, nil, gen, rpcCfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:  srv,
		ledger:  ledger,
		genesis: gen,
		url:     fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

// mineNext seals a valid successor of the current tip without adding it.
func (env *testEnv) mineNext(t *testing.T, data string) *block.Block {
	t.Helper()
	pow, _ := consensus.NewPoW(env.genesis.Protocol.DifficultyPrefix)
	tip := env.ledger.Tip()
	blk := block.New(tip.ID+1, tip.Timestamp+1, tip.Hash, data)
	if err := pow.Seal(blk); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return blk
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      1,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

// decodeResult re-decodes a generic result into target.
func decodeResult(t *testing.T, resp Response, target interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRPC_ChainGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var result ChainInfoResult
	decodeResult(t, rpcCall(t, env.url, "chain_getInfo", nil), &result)

	if result.ChainID != env.genesis.ChainID {
		t.Errorf("chain_id = %q, want %q", result.ChainID, env.genesis.ChainID)
	}
	if result.Length != 1 || result.Height != 0 {
		t.Errorf("length/height = %d/%d, want 1/0", result.Length, result.Height)
	}
	if result.TipHash != env.genesis.Hash || result.GenesisHash != env.genesis.Hash {
		t.Errorf("tip_hash = %q, want genesis %q", result.TipHash, env.genesis.Hash)
	}
	if result.DifficultyPrefix != "00" {
		t.Errorf("difficulty_prefix = %q", result.DifficultyPrefix)
	}
}

func TestRPC_ChainGetBlock(t *testing.T) {
	env := setupTestEnv(t)

	var blk block.Block
	decodeResult(t, rpcCall(t, env.url, "chain_getBlock", IDParam{ID: 0}), &blk)
	if !blk.IsGenesis() || blk.Hash != env.genesis.Hash {
		t.Errorf("block 0 = %s, want genesis", &blk)
	}

	resp := rpcCall(t, env.url, "chain_getBlock", IDParam{ID: 5})
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("expected not found, got %+v", resp.Error)
	}
}

func TestRPC_ChainGetBlocks(t *testing.T) {
	env := setupTestEnv(t)
	for i := 0; i < 4; i++ {
		if err := env.ledger.SubmitBlock(env.mineNext(t, fmt.Sprintf("b%d", i))); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	tests := []struct {
		name      string
		params    RangeParam
		wantFirst uint64
		wantCount int
	}{
		{"all", RangeParam{From: 0}, 0, 5},
		{"window", RangeParam{From: 1, Count: 2}, 1, 2},
		{"clipped", RangeParam{From: 3, Count: 10}, 3, 2},
		{"past end", RangeParam{From: 9}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result BlocksResult
			decodeResult(t, rpcCall(t, env.url, "chain_getBlocks", tt.params), &result)
			if result.Total != 5 {
				t.Errorf("total = %d, want 5", result.Total)
			}
			if len(result.Blocks) != tt.wantCount {
				t.Fatalf("got %d blocks, want %d", len(result.Blocks), tt.wantCount)
			}
			if tt.wantCount > 0 && result.Blocks[0].ID != tt.wantFirst {
				t.Errorf("first id = %d, want %d", result.Blocks[0].ID, tt.wantFirst)
			}
		})
	}
}

func TestRPC_ChainValidate(t *testing.T) {
	env := setupTestEnv(t)
	env.ledger.SubmitBlock(env.mineNext(t, "x"))

	var result ValidateResult
	decodeResult(t, rpcCall(t, env.url, "chain_validate", nil), &result)
	if !result.Valid || result.Kind != "" {
		t.Errorf("expected valid chain, got %+v", result)
	}
}

func TestRPC_BlockSubmit(t *testing.T) {
	env := setupTestEnv(t)
	blk := env.mineNext(t, "hello")

	var result SubmitResult
	decodeResult(t, rpcCall(t, env.url, "block_submit", BlockParam{Block: blk}), &result)
	if result.ID != 1 || result.Hash != blk.Hash {
		t.Errorf("submit result = %+v", result)
	}
	if tip := env.ledger.Tip(); tip.Hash != blk.Hash {
		t.Error("block was not appended")
	}
}

func TestRPC_BlockSubmit_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(b *block.Block)
		wantKind string
	}{
		{"genesis", func(b *block.Block) { b.PreviousHash = nil }, "is_genesis_block"},
		{"bad link", func(b *block.Block) { p := "abcd"; b.PreviousHash = &p }, "previous_hash_mismatch"},
		{"malformed hash", func(b *block.Block) { b.Hash = "zz" + b.Hash[2:] }, "malformed_hash"},
		{"bad difficulty", func(b *block.Block) { b.Hash = "ff" + b.Hash[2:] }, "insufficient_difficulty"},
		{"out of sequence", func(b *block.Block) { b.ID = 7 }, "out_of_sequence"},
		{"tampered data", func(b *block.Block) { b.Data = "tampered" }, "hash_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			blk := env.mineNext(t, "hello")
			tt.mutate(blk)

			resp := rpcCall(t, env.url, "block_submit", BlockParam{Block: blk})
			if resp.Error == nil {
				t.Fatal("expected rejection")
			}
			if resp.Error.Code != CodeRejected {
				t.Errorf("code = %d, want %d", resp.Error.Code, CodeRejected)
			}
			if resp.Error.Data != tt.wantKind {
				t.Errorf("kind = %v, want %s", resp.Error.Data, tt.wantKind)
			}
			if n := len(env.ledger.Blocks()); n != 1 {
				t.Errorf("chain length = %d after rejection, want 1", n)
			}
		})
	}
}

func TestRPC_BlockSubmit_MissingBlock(t *testing.T) {
	env := setupTestEnv(t)
	resp := rpcCall(t, env.url, "block_submit", map[string]interface{}{})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("expected invalid params, got %+v", resp.Error)
	}
}

func TestRPC_BlockValidate(t *testing.T) {
	env := setupTestEnv(t)
	blk := env.mineNext(t, "check")

	var ok ValidateResult
	decodeResult(t, rpcCall(t, env.url, "block_validate", BlockParam{Block: blk}), &ok)
	if !ok.Valid {
		t.Errorf("expected valid, got %+v", ok)
	}
	if n := len(env.ledger.Blocks()); n != 1 {
		t.Error("block_validate must not append")
	}

	blk.ID = 3
	var bad ValidateResult
	decodeResult(t, rpcCall(t, env.url, "block_validate", BlockParam{Block: blk}), &bad)
	if bad.Valid || bad.Kind != "out_of_sequence" {
		t.Errorf("expected out_of_sequence, got %+v", bad)
	}
}

func TestRPC_ChainCompare(t *testing.T) {
	env := setupTestEnv(t)

	// Build a longer fork off a copy of the local chain.
	remote := env.ledger.Blocks()
	pow, _ := consensus.NewPoW("00")
	for i := 0; i < 2; i++ {
		tip := remote[len(remote)-1]
		b := block.New(tip.ID+1, tip.Timestamp+1, tip.Hash, fmt.Sprintf("fork-%d", i))
		if err := pow.Seal(b); err != nil {
			t.Fatalf("seal: %v", err)
		}
		remote = append(remote, b)
	}

	var result CompareResult
	decodeResult(t, rpcCall(t, env.url, "chain_compare", ChainParam{Blocks: remote}), &result)
	if result.Winner != "remote" || result.RemoteLength != 3 || result.LocalLength != 1 {
		t.Errorf("compare = %+v", result)
	}

	var short CompareResult
	decodeResult(t, rpcCall(t, env.url, "chain_compare", ChainParam{Blocks: remote[:1]}), &short)
	if short.Winner != "remote" {
		// Identical single-block chains tie on timestamp; remote wins the tie.
		t.Errorf("tie = %+v, want remote", short)
	}

	if n := len(env.ledger.Blocks()); n != 1 {
		t.Error("chain_compare must not modify the chain")
	}
}

func TestRPC_ChainCompare_InvalidRemote(t *testing.T) {
	env := setupTestEnv(t)
	remote := env.ledger.Blocks()
	remote = append(remote, block.New(1, 1, "beef", "bogus"))

	var result CompareResult
	decodeResult(t, rpcCall(t, env.url, "chain_compare", ChainParam{Blocks: remote}), &result)
	if result.Winner != "local" {
		t.Errorf("invalid remote should lose, got %+v", result)
	}
}

func TestRPC_MiningMine(t *testing.T) {
	env := setupTestEnv(t)

	var result SubmitResult
	decodeResult(t, rpcCall(t, env.url, "mining_mine", MineParam{Data: "mined"}), &result)
	if result.ID != 1 {
		t.Errorf("mined id = %d, want 1", result.ID)
	}

	tip := env.ledger.Tip()
	if tip.Hash != result.Hash || tip.Data != "mined" {
		t.Errorf("tip = %s, want mined block %s", tip, result.Hash)
	}
}

func TestRPC_MiningMine_DataTooLarge(t *testing.T) {
	env := setupTestEnv(t)
	big := string(make([]byte, config.MaxBlockDataSize+1))

	resp := rpcCall(t, env.url, "mining_mine", MineParam{Data: big})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("expected invalid params, got %+v", resp.Error)
	}
}

func TestRPC_NetGetNodeInfo(t *testing.T) {
	env := setupTestEnv(t)

	var result NodeInfoResult
	decodeResult(t, rpcCall(t, env.url, "net_getNodeInfo", nil), &result)
	if result.ID != "" || len(result.Addrs) != 0 {
		t.Errorf("expected empty node info without p2p, got %+v", result)
	}
}

func TestRPC_NetGetPeerInfo(t *testing.T) {
	env := setupTestEnv(t)

	var result PeerInfoResult
	decodeResult(t, rpcCall(t, env.url, "net_getPeerInfo", nil), &result)
	if result.Count != 0 || len(result.Peers) != 0 {
		t.Errorf("expected no peers, got %+v", result)
	}
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "nonexistent_method", nil)
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestRPC_InvalidParams(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getBlock", nil)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("expected invalid params, got %+v", resp.Error)
	}
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)

	if rpcResp.Error == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if rpcResp.Error.Code != CodeParseError {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeParseError)
	}
}

func TestRPC_WrongVersion(t *testing.T) {
	env := setupTestEnv(t)

	body := []byte(`{"jsonrpc":"1.0","method":"chain_getInfo","id":1}`)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected invalid request, got %+v", rpcResp.Error)
	}
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)

	if rpcResp.Error == nil {
		t.Fatal("expected error for GET request")
	}
	if rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeInvalidRequest)
	}
}

// --- IP Filtering ---

func TestRPC_IPFilter_Allowed(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"127.0.0.1"},
	})

	resp := rpcCall(t, env.url, "chain_getInfo", nil)
	if resp.Error != nil {
		t.Errorf("expected success for 127.0.0.1, got error: %s", resp.Error.Message)
	}
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"10.0.0.0/8"},
	})

	req := Request{JSONRPC: "2.0", Method: "chain_getInfo", ID: 1}
	body, _ := json.Marshal(req)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestParseAllowedIPs(t *testing.T) {
	nets := parseAllowedIPs([]string{"127.0.0.1", "10.1.2.3/8", "::1", "not-an-ip"})
	if len(nets) != 3 {
		t.Fatalf("expected 3 prefixes, got %d", len(nets))
	}
	if nets[0].Bits() != 32 {
		t.Errorf("single IPv4 prefix = /%d, want /32", nets[0].Bits())
	}
	if nets[1].String() != "10.0.0.0/8" {
		t.Errorf("CIDR not masked: %s", nets[1])
	}
	if nets[2].Bits() != 128 {
		t.Errorf("single IPv6 prefix = /%d, want /128", nets[2].Bits())
	}
}

// --- CORS ---

func corsRequest(t *testing.T, url, method, origin string) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if method == http.MethodPost {
		data, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "chain_getInfo", ID: 1})
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	httpReq, _ := http.NewRequest(method, url, body)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Origin", origin)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRPC_CORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://example.com", "*"},
		{"specific match", []string{"http://myapp.com"}, "http://myapp.com", "http://myapp.com"},
		{"specific mismatch", []string{"http://myapp.com"}, "http://evil.com", ""},
		{"disabled", nil, "http://example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnvWithConfig(t, config.RPCConfig{CORSOrigins: tt.origins})
			resp := corsRequest(t, env.url, http.MethodPost, tt.origin)
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("CORS origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRPC_CORS_Preflight(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: []string{"*"},
	})

	resp := corsRequest(t, env.url, http.MethodOptions, "http://example.com")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Error("preflight should have Allow-Methods header")
	}
}
