// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// mineTimeout bounds a single mining_mine call.
const mineTimeout = 2 * time.Minute

// Ledger is the chain state behind the server. Implementations serialize
// access to the chain; every returned block is a copy.
type Ledger interface {
	Blocks() []*block.Block
	Tip() *block.Block
	Validator() *chain.Validator
	SubmitBlock(b *block.Block) error
	MineBlock(ctx context.Context, data string) (*block.Block, error)
}

// handlerFunc serves one JSON-RPC method. params is nil when the request
// carried none.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr    string
	ledger  Ledger
	p2pNode *p2p.Node
	genesis *config.Genesis
	methods map[string]handlerFunc
	server  *http.Server
	logger  zerolog.Logger
	ln      net.Listener

	allowed     []netip.Prefix // Empty = allow all.
	corsOrigins []string       // Empty = no CORS headers.
}

// New creates a new RPC server. The rpcCfg parameter controls IP filtering
// and CORS. A zero-value RPCConfig allows all IPs and disables CORS.
// p2pNode may be nil, in which case net_* endpoints report no peers.
func New(addr string, ledger Ledger, p2pNode *p2p.Node, genesis *config.Genesis, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:    addr,
		ledger:  ledger,
		p2pNode: p2pNode,
		genesis: genesis,
		logger:  klog.RPC,
	}
	if len(rpcCfg) > 0 {
		s.allowed = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	s.methods = map[string]handlerFunc{
		"chain_getInfo":   s.handleChainGetInfo,
		"chain_getBlock":  s.handleChainGetBlock,
		"chain_getBlocks": s.handleChainGetBlocks,
		"chain_validate":  s.handleChainValidate,
		"chain_compare":   s.handleChainCompare,
		"block_validate":  s.handleBlockValidate,
		"block_submit":    s.handleBlockSubmit,
		"mining_mine":     s.handleMiningMine,
		"net_getPeerInfo": s.handleNetGetPeerInfo,
		"net_getNodeInfo": s.handleNetGetNodeInfo,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:     s.accessControl(mux),
		ReadTimeout: 30 * time.Second,
		// mining_mine may run until mineTimeout.
		WriteTimeout: mineTimeout + 10*time.Second,
	}
	return s
}

// parseAllowedIPs converts IP and CIDR entries into prefixes. A bare IP
// becomes a single-address prefix. Unparseable entries are dropped.
func parseAllowedIPs(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		if p, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// accessControl applies the IP allowlist and CORS policy, and answers
// preflight requests.
func (s *Server) accessControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ipAllowed(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" {
			if allow, ok := s.corsOrigin(origin); ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allow)
				h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ipAllowed(remoteAddr string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	ap, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := ap.Addr().Unmap()
	return slices.ContainsFunc(s.allowed, func(p netip.Prefix) bool {
		return p.Contains(ip)
	})
}

// corsOrigin returns the Access-Control-Allow-Origin value for origin.
func (s *Server) corsOrigin(origin string) (string, bool) {
	for _, o := range s.corsOrigins {
		switch o {
		case "*":
			return "*", true
		case origin:
			return origin, true
		}
	}
	return "", false
}

// handleRequest decodes one JSON-RPC request and writes its response.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		writeError(w, req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
		return
	}

	s.logger.Debug().Str("method", req.Method).Msg("RPC request")

	result, rpcErr := handler(r.Context(), req.Params)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// hasParams reports whether the request carried params other than null.
func hasParams(params json.RawMessage) bool {
	return len(params) > 0 && string(params) != "null"
}

// parseParams unmarshals the request params into target.
func parseParams(params json.RawMessage, target interface{}) *Error {
	if !hasParams(params) {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(params, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
