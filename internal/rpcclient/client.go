// Package rpcclient provides a JSON-RPC 2.0 client for ledger nodes.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

const defaultTimeout = 10 * time.Second

// Client is a JSON-RPC 2.0 HTTP client. Safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64
}

// New creates a client for endpoint with the default timeout.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, defaultTimeout)
}

// NewWithTimeout creates a client whose requests give up after timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

// response mirrors rpc.Response with the result left undecoded.
type response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	} `json:"error,omitempty"`
	ID uint64 `json:"id"`
}

// RPCError is returned when the server answers with an error object.
// Kind carries the validation error kind for rejected blocks.
type RPCError struct {
	Code    int
	Message string
	Kind    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes method and decodes the result into result, which may be nil.
func (c *Client) Call(method string, params, result interface{}) error {
	return c.CallContext(context.Background(), method, params, result)
}

// CallContext is Call with a caller-supplied context.
func (c *Client) CallContext(ctx context.Context, method string, params, result interface{}) error {
	req := rpc.Request{JSONRPC: "2.0", Method: method, ID: c.nextID.Add(1)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	var resp response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decode response (http %d): %w", httpResp.StatusCode, err)
	}
	if e := resp.Error; e != nil {
		rpcErr := &RPCError{Code: e.Code, Message: e.Message}
		if len(e.Data) > 0 {
			json.Unmarshal(e.Data, &rpcErr.Kind)
		}
		return rpcErr
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %d does not match request id %v", resp.ID, req.ID)
	}

	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// call is Call for methods with a single typed result.
func call[T any](c *Client, method string, params interface{}) (*T, error) {
	res := new(T)
	if err := c.Call(method, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ChainInfo calls chain_getInfo.
func (c *Client) ChainInfo() (*rpc.ChainInfoResult, error) {
	return call[rpc.ChainInfoResult](c, "chain_getInfo", nil)
}

// Block calls chain_getBlock.
func (c *Client) Block(id uint64) (*block.Block, error) {
	return call[block.Block](c, "chain_getBlock", rpc.IDParam{ID: id})
}

// Blocks fetches the whole chain, paging through chain_getBlocks.
func (c *Client) Blocks() ([]*block.Block, error) {
	var out []*block.Block
	for {
		res, err := call[rpc.BlocksResult](c, "chain_getBlocks", rpc.RangeParam{From: uint64(len(out))})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Blocks...)
		if len(res.Blocks) == 0 || uint64(len(out)) >= res.Total {
			return out, nil
		}
	}
}

// Validate calls chain_validate.
func (c *Client) Validate() (*rpc.ValidateResult, error) {
	return call[rpc.ValidateResult](c, "chain_validate", nil)
}

// SubmitBlock calls block_submit.
func (c *Client) SubmitBlock(b *block.Block) (*rpc.SubmitResult, error) {
	return call[rpc.SubmitResult](c, "block_submit", rpc.BlockParam{Block: b})
}

// Mine calls mining_mine. The client timeout must cover the sealing time.
func (c *Client) Mine(data string) (*rpc.SubmitResult, error) {
	return call[rpc.SubmitResult](c, "mining_mine", rpc.MineParam{Data: data})
}

// Peers calls net_getPeerInfo.
func (c *Client) Peers() (*rpc.PeerInfoResult, error) {
	return call[rpc.PeerInfoResult](c, "net_getPeerInfo", nil)
}

// NodeInfo calls net_getNodeInfo.
func (c *Client) NodeInfo() (*rpc.NodeInfoResult, error) {
	return call[rpc.NodeInfoResult](c, "net_getNodeInfo", nil)
}
