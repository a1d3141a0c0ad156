// Package federation lets one host run a query on its peers and merge what
// they find into its own result set. Peers serve the Query.Execute rpc
// method; they execute in remote mode, leaving sort and cut to the caller.
package federation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/rpc"
)

// Executor runs a query locally.
type Executor interface {
	Execute(ctx context.Context, q *query.Query, opts engine.ExecuteOptions) (*results.ResultSet, error)
}

// Register installs the query methods on srv. indexes lists what this host
// can search.
func Register(srv *rpc.Server, codec *query.Codec, exec Executor, indexes func() []string) {
	srv.Register(proto.MethodExecute, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req proto.ExecuteRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("%w: decoding execute request: %v", apperrors.ErrInvalidInput, err)
		}
		q, err := codec.Decode([]byte(req.Document))
		if err != nil {
			return nil, err
		}
		rs, err := exec.Execute(ctx, q, engine.ExecuteOptions{AddSortData: req.AddSortData, Remote: true})
		if err != nil {
			return nil, err
		}
		return ToWire(rs), nil
	})
	srv.Register(proto.MethodHealth, func(context.Context, json.RawMessage) (any, error) {
		return proto.HealthCheckResponse{Status: "SERVING"}, nil
	})
	srv.Register(proto.MethodIndexes, func(context.Context, json.RawMessage) (any, error) {
		return proto.IndexesResponse{Indexes: indexes()}, nil
	})
}

// ToWire copies a result set into its wire form.
func ToWire(rs *results.ResultSet) proto.ExecuteResponse {
	resp := proto.ExecuteResponse{ID: rs.ID(), Total: rs.Total(), Hits: make([]proto.Hit, 0, rs.Len())}
	for h := range rs.All() {
		resp.Hits = append(resp.Hits, proto.Hit{Key: h.Key, Metadata: h.Metadata, SortData: h.SortData})
	}
	return resp
}

// FromWire rebuilds a hit received from a peer.
func FromWire(w proto.Hit) *results.Hit {
	h := results.NewHit(w.Key)
	for f, vs := range w.Metadata {
		h.Add(f, vs...)
	}
	for f, v := range w.SortData {
		h.SetSortValue(f, v)
	}
	return h
}
