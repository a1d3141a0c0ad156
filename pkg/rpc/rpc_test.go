package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
)

type echoParams struct {
	Text string `json:"text"`
}

type echoResult struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId"`
	Deadline  bool   `json:"deadline"`
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer()
	s.Register("Test.Echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p echoParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		_, hasDeadline := ctx.Deadline()
		return echoResult{Text: p.Text, RequestID: logger.RequestID(ctx), Deadline: hasDeadline}, nil
	})
	s.Register("Test.Fail", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, apperrors.NewParseError("((", 1, "unbalanced parenthesis")
	})
	s.Register("Test.Slow", func(ctx context.Context, params json.RawMessage) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve(ln)
	t.Cleanup(s.Stop)
	return s, ln.Addr().String()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCall_Echo(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	ctx, cancel := context.WithTimeout(logger.WithRequestID(context.Background(), "req-7"), time.Second)
	defer cancel()
	var res echoResult
	if err := c.Call(ctx, "Test.Echo", echoParams{Text: "hello"}, &res); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Text != "hello" || res.RequestID != "req-7" || !res.Deadline {
		t.Errorf("result = %+v", res)
	}

	// The connection is reused.
	if err := c.Call(context.Background(), "Test.Echo", echoParams{Text: "again"}, &res); err != nil || res.Text != "again" || res.Deadline {
		t.Errorf("second call: %+v, %v", res, err)
	}
}

func TestCall_RemoteErrors(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	err := c.Call(context.Background(), "Test.Fail", nil, nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Kind != KindParse {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, apperrors.ErrParse) {
		t.Errorf("remote parse error does not unwrap to ErrParse: %v", err)
	}

	err = c.Call(context.Background(), "Test.Missing", nil, nil)
	if !errors.As(err, &rpcErr) || rpcErr.Kind != KindUnknownMethod {
		t.Errorf("err = %v", err)
	}
}

func TestCall_DeadlineAndRedial(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Call(ctx, "Test.Slow", nil, nil); !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}

	var res echoResult
	if err := c.Call(context.Background(), "Test.Echo", echoParams{Text: "after"}, &res); err != nil || res.Text != "after" {
		t.Errorf("call after timeout: %+v, %v", res, err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if _, err := Dial(context.Background(), addr, 100*time.Millisecond); !errors.Is(err, apperrors.ErrSearcherUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestStop_ClosesConnections(t *testing.T) {
	s, addr := startServer(t)
	c := dial(t, addr)
	s.Stop()
	if err := c.Call(context.Background(), "Test.Echo", echoParams{}, nil); !errors.Is(err, apperrors.ErrSearcherUnavailable) {
		t.Errorf("err = %v", err)
	}
}
