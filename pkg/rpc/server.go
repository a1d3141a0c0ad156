// Package rpc is a small JSON-over-TCP request/response layer used between
// federated query hosts.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// request names a "Service.Method", carries raw JSON params and optionally
// the caller's request id and remaining time budget. Errors travel as a
// message plus a kind, so the caller can tell bad queries from outages.
//
//	s := rpc.NewServer()
//	s.Register("Query.Execute", func(ctx context.Context, params json.RawMessage) (any, error) { ... })
//	go s.ListenAndServe(":9400")
//
//	c, _ := rpc.Dial(ctx, "peer:9400", time.Second)
//	var resp proto.ExecuteResponse
//	err := c.Call(ctx, "Query.Execute", &proto.ExecuteRequest{...}, &resp)
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
)

// HandlerFunc serves one method.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Request is the wire format of a call.
type Request struct {
	Method    string          `json:"method"`
	ID        string          `json:"id"`
	Params    json.RawMessage `json:"params"`
	RequestID string          `json:"requestId,omitempty"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
}

// Response is the wire format of a reply.
type Response struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Kind  string          `json:"kind,omitempty"`
}

type Server struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	conns    map[net.Conn]struct{}
	listener net.Listener
	logger   *slog.Logger
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		logger:   slog.Default().With("component", "rpc-server"),
		done:     make(chan struct{}),
	}
}

// Register adds a handler. Method names follow "Service.Method".
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// ListenAndServe listens on addr and serves until Stop.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				s.logger.Error("accept error", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{ID: req.ID}
	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		resp.Error = "unknown method: " + req.Method
		resp.Kind = KindUnknownMethod
		return resp
	}

	ctx := context.Background()
	if req.RequestID != "" {
		ctx = logger.WithRequestID(ctx, req.RequestID)
	}
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	data, err := handler(ctx, req.Params)
	if err == nil {
		resp.Data, err = json.Marshal(data)
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = kindOf(err)
	}
	logger.FromContext(ctx).Debug("rpc call served",
		"method", req.Method,
		"kind", resp.Kind,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
