// Package results implements the result set algebra: merge-on-duplicate
// insertion, intersection, union, multi-key sorting and truncation.
package results

import (
	"maps"
	"slices"
)

// Hit is one result record. Metadata is multi-valued; SortData caches the
// single values used for ordering.
type Hit struct {
	Key      string              `json:"key"`
	Metadata map[string][]string `json:"metadata,omitempty"`
	SortData map[string]string   `json:"sortData,omitempty"`
}

func NewHit(key string) *Hit {
	return &Hit{
		Key:      key,
		Metadata: make(map[string][]string),
		SortData: make(map[string]string),
	}
}

// Add appends value to field unless it is already present.
func (h *Hit) Add(field string, values ...string) {
	if h.Metadata == nil {
		h.Metadata = make(map[string][]string)
	}
	for _, v := range values {
		if !slices.Contains(h.Metadata[field], v) {
			h.Metadata[field] = append(h.Metadata[field], v)
		}
	}
}

// First returns the first value of field, or "".
func (h *Hit) First(field string) string {
	if vs := h.Metadata[field]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (h *Hit) SetSortValue(field, value string) {
	if h.SortData == nil {
		h.SortData = make(map[string]string)
	}
	h.SortData[field] = value
}

// SortValue returns the ordering value for field: the cached sort data if
// present, otherwise the first metadata value.
func (h *Hit) SortValue(field string) (string, bool) {
	if v, ok := h.SortData[field]; ok {
		return v, true
	}
	if vs := h.Metadata[field]; len(vs) > 0 {
		return vs[0], true
	}
	return "", false
}

// Merge unions other's metadata and sort data into h. Existing sort values
// are kept.
func (h *Hit) Merge(other *Hit) {
	if other == nil || other == h {
		return
	}
	for field, values := range other.Metadata {
		h.Add(field, values...)
	}
	for field, v := range other.SortData {
		if _, ok := h.SortData[field]; !ok {
			h.SetSortValue(field, v)
		}
	}
}

// Clone returns a deep copy.
func (h *Hit) Clone() *Hit {
	c := &Hit{
		Key:      h.Key,
		Metadata: make(map[string][]string, len(h.Metadata)),
		SortData: maps.Clone(h.SortData),
	}
	if c.SortData == nil {
		c.SortData = make(map[string]string)
	}
	for field, values := range h.Metadata {
		c.Metadata[field] = slices.Clone(values)
	}
	return c
}
