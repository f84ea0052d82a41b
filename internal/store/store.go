// Package store holds the normalized record cache that query responses are
// committed into and that queries are diffed against.
//
// Records are flat field maps keyed by a stable data ID. A field value is
// either a scalar (as decoded from JSON), a Ref to another record, or a
// []Ref for link lists. The response tree of every query is rooted at the
// synthetic RootID record.
package store

import (
	"fmt"
	"sync"

	language "github.com/hanpama/fetchgraph/internal/language"
	query "github.com/hanpama/fetchgraph/internal/query"
)

// RootID is the data ID of the synthetic record holding root fields.
const RootID = "client:root"

// Ref is a link from one record field to another record.
type Ref string

// Record is one normalized cache entry.
type Record map[string]any

// RecordSource is a read-only view over records. RecordStore implements it,
// as do disk snapshots and merged views.
type RecordSource interface {
	Get(dataID string) (Record, bool)
}

// RecordStore is the primary in-memory record cache. It is safe for
// concurrent use; the orchestrator additionally serializes all of its own
// access through its task queue.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
	// force holds, per record, the highest force index that has written it.
	// A commit with a lower force index does not overwrite such a record.
	force map[string]int64

	disk RecordSource
}

// New creates an empty RecordStore. If disk is non-nil it serves as the
// secondary record source for RunWithDiskCache.
func New(disk RecordSource) *RecordStore {
	return &RecordStore{
		records: make(map[string]Record),
		force:   make(map[string]int64),
		disk:    disk,
	}
}

func (s *RecordStore) Get(dataID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[dataID]
	return rec, ok
}

// Size returns the number of records held.
func (s *RecordStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Commit normalizes a response payload for q into records. forceIndex is 0
// for plain fetches; forced refetches carry a higher index, and a record
// last written at force index f is never overwritten by a commit with a
// lower index (a stale concurrent write).
func (s *RecordStore) Commit(q *query.Query, payload map[string]any, forceIndex int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitSelections(RootID, q.Selections(), payload, forceIndex)
}

func (s *RecordStore) commitSelections(dataID string, sel language.SelectionSet, data map[string]any, force int64) {
	writable := s.force[dataID] <= force
	rec := s.records[dataID]
	if rec == nil {
		rec = make(Record)
		s.records[dataID] = rec
	}
	if writable && force > s.force[dataID] {
		s.force[dataID] = force
	}

	for _, group := range query.CollectFields(sel) {
		val, ok := data[group.ResponseName]
		if !ok {
			continue
		}
		field := group.Fields[0]
		key := query.FieldKey(field)
		children := query.MergeSelections(group.Fields)

		if len(children) == 0 {
			if writable {
				rec[key] = val
			}
			continue
		}

		switch v := val.(type) {
		case map[string]any:
			childID := dataIDFor(v, dataID, key)
			if writable {
				rec[key] = Ref(childID)
			}
			s.commitSelections(childID, children, v, force)
		case []any:
			refs := make([]Ref, 0, len(v))
			for i, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				childID := dataIDFor(m, dataID, fmt.Sprintf("%s.%d", key, i))
				refs = append(refs, Ref(childID))
				s.commitSelections(childID, children, m, force)
			}
			if writable {
				rec[key] = refs
			}
		default:
			// Composite selection over a null or scalar payload: store
			// as-is so the diff sees the field as present.
			if writable {
				rec[key] = val
			}
		}
	}
}

// dataIDFor prefers the payload's own id field; records without one get a
// deterministic path-based client ID.
func dataIDFor(data map[string]any, parentID, key string) string {
	if id, ok := data["id"].(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%s:%s", parentID, key)
}

// merged layers a primary source over a secondary one.
type merged struct {
	primary, secondary RecordSource
}

func (m merged) Get(dataID string) (Record, bool) {
	if rec, ok := m.primary.Get(dataID); ok {
		return rec, ok
	}
	return m.secondary.Get(dataID)
}

// RunWithDiskCache invokes fn with a view layering the in-memory records
// over the disk snapshot, for optimistic resolvability checks against data
// that survived a restart. Without a disk source, fn sees the store itself.
func (s *RecordStore) RunWithDiskCache(fn func(view RecordSource)) {
	if s.disk == nil {
		fn(s)
		return
	}
	fn(merged{primary: s, secondary: s.disk})
}
