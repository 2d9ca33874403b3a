package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	defaultRPCTimeout = 30 * time.Second
	maxResponseBytes  = 32 << 20
)

// warmupPoll is the delay between calls while the node is warming up.
var warmupPoll = time.Second

// RPCClient speaks JSON-RPC 1.0 to a node over HTTP. Every blockchain
// method goes through Call.
type RPCClient struct {
	cfg    RPCConfig
	http   *http.Client
	nextID atomic.Int64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// NewRPCClient creates a client for cfg. Basic auth is sent when User is set.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRPCTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     time.Minute,
	}
	return &RPCClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

// Call invokes method and decodes its result into result, which may be nil.
//
// Unreachable nodes wrap ErrConnectionFailed, rejected credentials
// ErrAuthFailed and undecodable replies ErrInvalidResponse. Node errors are
// returned as *RPCError, including those sent in an HTTP 500 body. A node
// still loading its block index is polled until WarmupWait runs out.
func (c *RPCClient) Call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	var deadline time.Time
	if c.cfg.WarmupWait > 0 {
		deadline = time.Now().Add(c.cfg.WarmupWait)
	}
	for {
		raw, err := c.roundTrip(ctx, method, params)
		if IsRPCError(err, RPCInWarmup) && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(warmupPoll):
			}
			continue
		}
		if err != nil {
			return err
		}
		if result == nil || raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("%w: %s result: %w", ErrInvalidResponse, method, err)
		}
		return nil
	}
}

func (c *RPCClient) roundTrip(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("network: encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("network: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrAuthFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s reply: %w", ErrConnectionFailed, method, err)
	}

	var reply rpcResponse
	decodeErr := json.Unmarshal(data, &reply)
	switch {
	case resp.StatusCode/100 != 2 && decodeErr == nil && reply.Error != nil:
		return nil, reply.Error
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, clip(data, 1024))
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: %s reply: %w", ErrInvalidResponse, method, decodeErr)
	case reply.ID != id:
		return nil, fmt.Errorf("%w: reply id %d for request %d", ErrInvalidResponse, reply.ID, id)
	case reply.Error != nil:
		return nil, reply.Error
	}
	return reply.Result, nil
}

// IsRPCError reports whether err carries a node error with code.
func IsRPCError(err error, code int) bool {
	var re *RPCError
	return errors.As(err, &re) && re.Code == code
}

func clip(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
