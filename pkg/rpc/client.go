package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
)

// Error kinds carried in Response.Kind.
const (
	KindParse         = "parse"
	KindConfiguration = "configuration"
	KindUsage         = "usage"
	KindInvalidInput  = "invalid_input"
	KindTimeout       = "timeout"
	KindUnavailable   = "unavailable"
	KindUnknownMethod = "unknown_method"
	KindInternal      = "internal"
)

func kindOf(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrParse):
		return KindParse
	case errors.Is(err, apperrors.ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, apperrors.ErrUsage):
		return KindUsage
	case errors.Is(err, apperrors.ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, apperrors.ErrSearcherUnavailable):
		return KindUnavailable
	}
	return KindInternal
}

// Error is a failure reported by the remote handler. It unwraps to the
// local sentinel matching its kind.
type Error struct {
	Method  string
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Method, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindParse:
		return apperrors.ErrParse
	case KindConfiguration:
		return apperrors.ErrConfiguration
	case KindUsage:
		return apperrors.ErrUsage
	case KindInvalidInput:
		return apperrors.ErrInvalidInput
	case KindTimeout:
		return apperrors.ErrTimeout
	case KindUnavailable:
		return apperrors.ErrSearcherUnavailable
	}
	return apperrors.ErrInternal
}

// Client holds one connection to a server and redials after a transport
// failure. Calls are serialized on the connection.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	nextID  atomic.Int64
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, dialTimeout time.Duration) (*Client, error) {
	c := &Client{addr: addr, dialTimeout: dialTimeout}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) connectLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", apperrors.ErrSearcherUnavailable, c.addr, err)
	}
	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Call invokes method with params and decodes the reply into result. The
// context's deadline is sent along and also bounds the wait for the reply.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	req := Request{Method: method, Params: raw, RequestID: logger.RequestID(ctx)}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMs = max(time.Until(deadline).Milliseconds(), 1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}
	req.ID = strconv.FormatInt(c.nextID.Add(1), 10)

	conn := c.conn
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := c.encoder.Encode(req); err != nil {
		c.dropLocked()
		return c.transportError(ctx, "sending request", err)
	}
	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		c.dropLocked()
		return c.transportError(ctx, "reading response", err)
	}
	if resp.ID != req.ID {
		c.dropLocked()
		return fmt.Errorf("%w: %s: response id %s for request %s", apperrors.ErrSearcherUnavailable, c.addr, resp.ID, req.ID)
	}
	if resp.Error != "" {
		return &Error{Method: method, Kind: resp.Kind, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s %s: %w", op, c.addr, ctx.Err())
	}
	// The connection deadline can fire just before the context's own timer.
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrTimeout, op, c.addr, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %s %s: %v", apperrors.ErrSearcherUnavailable, op, c.addr, err)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
