package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestStart_Sampling(t *testing.T) {
	tests := []struct {
		name   string
		tracer *Tracer
		want   bool
	}{
		{"nil tracer", nil, false},
		{"disabled", NewTracer(false, 1), false},
		{"never sampled", NewTracer(true, 0), false},
		{"always sampled", NewTracer(true, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, span := tt.tracer.Start(context.Background(), "query", "")
			if (span != nil) != tt.want {
				t.Fatalf("span = %v, want sampled %v", span, tt.want)
			}
			_, child := StartChildSpan(ctx, "engine.execute")
			if (child != nil) != tt.want {
				t.Errorf("child = %v", child)
			}
			// Nil spans accept every call.
			child.SetAttr("hits", 1)
			child.RecordError(errors.New("x"))
			child.End()
			span.Log()
		})
	}
}

func TestLog_Tree(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, root := NewTracer(true, 1).Start(context.Background(), "query", "trace-1")
	_, search := StartChildSpan(ctx, "searcher.search")
	search.SetAttr("index", "catalog")
	search.RecordError(errors.New("timeout"))
	search.RecordError(errors.New("later"))
	search.End()
	root.End()
	root.Log()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	var child map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &child); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"span": "searcher.search", "parent": "query", "trace_id": "trace-1", "index": "catalog", "error": "timeout", "level": "WARN"}
	for k, v := range want {
		if child[k] != v {
			t.Errorf("%s = %v, want %v", k, child[k], v)
		}
	}
}
