// Package tracing records in-process span trees for sampled queries: the
// query, its plan execution, each searcher call and federation fan-out. A
// finished tree is written to slog, one line per span.
package tracing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span is one timed step. A nil *Span is valid and records nothing, so
// callers never check whether the request was sampled.
type Span struct {
	name    string
	traceID string
	parent  string
	start   time.Time

	mu       sync.Mutex
	duration time.Duration
	err      error
	attrs    []slog.Attr
	children []*Span
}

// Tracer samples root spans.
type Tracer struct {
	enabled    bool
	sampleRate float64
}

func NewTracer(enabled bool, sampleRate float64) *Tracer {
	return &Tracer{enabled: enabled, sampleRate: sampleRate}
}

// Start opens a root span when the request is sampled. An empty traceID
// gets a fresh one.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if t == nil || !t.enabled || (t.sampleRate < 1 && rand.Float64() >= t.sampleRate) {
		return ctx, nil
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan opens a child of the span in ctx, if any.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := ctx.Value(spanKey{}).(*Span)
	if parent == nil {
		return ctx, nil
	}
	child := &Span{name: name, traceID: parent.traceID, parent: parent.name, start: time.Now()}
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, child), child
}

func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.duration = time.Since(s.start)
	s.mu.Unlock()
}

func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// RecordError marks the span failed. The first error wins.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Log writes the tree rooted at s, parents before children.
func (s *Span) Log() {
	if s == nil {
		return
	}
	s.log(slog.Default(), s.start, 0)
}

func (s *Span) log(l *slog.Logger, root time.Time, depth int) {
	s.mu.Lock()
	attrs := append([]slog.Attr{
		slog.String("trace_id", s.traceID),
		slog.String("span", s.name),
		slog.Int("depth", depth),
		slog.Int64("offset_ms", s.start.Sub(root).Milliseconds()),
		slog.Int64("duration_ms", s.duration.Milliseconds()),
	}, s.attrs...)
	if s.parent != "" {
		attrs = append(attrs, slog.String("parent", s.parent))
	}
	level := slog.LevelInfo
	if s.err != nil {
		attrs = append(attrs, slog.String("error", s.err.Error()))
		level = slog.LevelWarn
	}
	children := slices.Clone(s.children)
	s.mu.Unlock()

	l.LogAttrs(context.Background(), level, "span", attrs...)
	for _, c := range children {
		c.log(l, root, depth+1)
	}
}
