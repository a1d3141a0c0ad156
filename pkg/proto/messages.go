package proto

// Method names served by every query host.
const (
	MethodExecute = "Query.Execute"
	MethodHealth  = "Query.Health"
	MethodIndexes = "Query.Indexes"
)

// ExecuteRequest carries a query document to a remote host. The remote
// host neither sorts nor truncates; the caller merges and finishes.
type ExecuteRequest struct {
	Document    string `json:"document"`
	AddSortData bool   `json:"addSortData"`
}

// Hit is one result record on the wire.
type Hit struct {
	Key      string              `json:"key"`
	Metadata map[string][]string `json:"metadata,omitempty"`
	SortData map[string]string   `json:"sortData,omitempty"`
}

// ExecuteResponse returns every hit the remote host found. ID names the
// result set that produced it.
type ExecuteResponse struct {
	ID    string `json:"id,omitempty"`
	Hits  []Hit  `json:"hits"`
	Total int    `json:"total"`
}

// HealthCheckResponse mirrors the gRPC health check states.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING
}

// IndexesResponse lists the indexes a host can search.
type IndexesResponse struct {
	Indexes []string `json:"indexes"`
}
