// Package analytics records one event per executed query, ships events to
// Kafka in batches and aggregates them back into service-wide statistics.
package analytics

import "time"

type EventType string

const (
	EventQuery      EventType = "query"
	EventZeroResult EventType = "zero_result"
	EventFailed     EventType = "failed"
)

// QueryEvent describes one executed query. Fingerprint identifies the
// query independently of who sent it.
type QueryEvent struct {
	Type        EventType `json:"type"`
	Fingerprint string    `json:"fingerprint"`
	Query       string    `json:"query"`
	Indexes     []string  `json:"indexes"`
	Total       int       `json:"total"`
	Returned    int       `json:"returned"`
	LatencyMs   int64     `json:"latency_ms"`
	CacheHit    bool      `json:"cache_hit"`
	Federated   bool      `json:"federated"`
	HostsFailed int       `json:"hosts_failed"`
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
}
