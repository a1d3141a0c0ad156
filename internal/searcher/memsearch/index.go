// Package memsearch is a Searcher over documents held in process memory.
// Every field value is tokenized into a per-field positional index, which
// serves contains and phrase comparisons; the remaining operators scan the
// stored values.
package memsearch

import (
	"slices"
	"sync"
)

// Document is one searchable record.
type Document struct {
	Key    string              `yaml:"key" json:"key"`
	Fields map[string][]string `yaml:"fields" json:"fields"`
}

// posting lists the positions of a term in one document field. Positions of
// several values of a multi-valued field are kept apart by a gap so no
// phrase spans two values.
type posting struct {
	key       string
	positions []int
}

const valueGap = 1 << 16

// Index stores documents and the postings of their tokens.
type Index struct {
	mu    sync.RWMutex
	docs  map[string]*Document
	order []string
	// field -> term -> key -> posting
	terms map[string]map[string]map[string]*posting
	size  int64
}

func NewIndex() *Index {
	return &Index{
		docs:  make(map[string]*Document),
		terms: make(map[string]map[string]map[string]*posting),
	}
}

// Add indexes doc, replacing any earlier document with the same key.
func (ix *Index) Add(doc Document) {
	stored := &Document{Key: doc.Key, Fields: make(map[string][]string, len(doc.Fields))}
	termData := make(map[string]map[string]*posting)
	for field, values := range doc.Fields {
		stored.Fields[field] = slices.Clone(values)
		perField := make(map[string]*posting)
		for i, v := range values {
			for _, tok := range tokenize(v) {
				p, ok := perField[tok.Term]
				if !ok {
					p = &posting{key: doc.Key}
					perField[tok.Term] = p
				}
				p.positions = append(p.positions, i*valueGap+tok.Position)
			}
		}
		termData[field] = perField
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.docs[doc.Key]; exists {
		ix.removeLocked(doc.Key)
	}
	ix.docs[doc.Key] = stored
	ix.order = append(ix.order, doc.Key)
	for field, perField := range termData {
		byTerm, ok := ix.terms[field]
		if !ok {
			byTerm = make(map[string]map[string]*posting)
			ix.terms[field] = byTerm
		}
		for term, p := range perField {
			if _, ok := byTerm[term]; !ok {
				byTerm[term] = make(map[string]*posting)
			}
			byTerm[term][doc.Key] = p
			ix.size += int64(len(term) + len(doc.Key) + len(p.positions)*8 + 64)
		}
	}
}

// Remove drops the document stored under key and reports whether there was
// one.
func (ix *Index) Remove(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.docs[key]; !ok {
		return false
	}
	ix.removeLocked(key)
	return true
}

func (ix *Index) removeLocked(key string) {
	doc := ix.docs[key]
	delete(ix.docs, key)
	ix.order = slices.DeleteFunc(ix.order, func(k string) bool { return k == key })
	for field := range doc.Fields {
		for term, byKey := range ix.terms[field] {
			if p, ok := byKey[key]; ok {
				ix.size -= int64(len(term) + len(key) + len(p.positions)*8 + 64)
				delete(byKey, key)
			}
			if len(byKey) == 0 {
				delete(ix.terms[field], term)
			}
		}
	}
}

// Get returns the document stored under key.
func (ix *Index) Get(key string) (*Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	d, ok := ix.docs[key]
	return d, ok
}

func (ix *Index) DocCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Size is a rough estimate of the posting memory in bytes.
func (ix *Index) Size() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// Reset drops every document.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = make(map[string]*Document)
	ix.order = nil
	ix.terms = make(map[string]map[string]map[string]*posting)
	ix.size = 0
}

// postingsLocked returns the postings of term in field. The caller holds
// the read lock.
func (ix *Index) postingsLocked(field, term string) map[string]*posting {
	return ix.terms[field][term]
}
