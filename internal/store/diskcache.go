package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Snapshot is a read-only record source decoded from a JSON cache file. It
// backs the optimistic stale-ready check across process restarts.
type Snapshot struct {
	records map[string]Record
}

func (s *Snapshot) Get(dataID string) (Record, bool) {
	rec, ok := s.records[dataID]
	return rec, ok
}

// Size returns the number of records in the snapshot.
func (s *Snapshot) Size() int { return len(s.records) }

// refValue is the on-disk encoding of record links.
type refValue struct {
	Ref  *string  `json:"__ref,omitempty"`
	Refs []string `json:"__refs,omitempty"`
}

// LoadSnapshot reads a snapshot file. A missing file yields an empty
// snapshot, not an error: a cold disk cache is a normal state.
func LoadSnapshot(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Snapshot{records: map[string]Record{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading snapshot: %w", err)
	}

	var file map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("store: decoding snapshot %s: %w", path, err)
	}

	records := make(map[string]Record, len(file))
	for id, fields := range file {
		rec := make(Record, len(fields))
		for key, rawVal := range fields {
			rec[key] = decodeValue(rawVal)
		}
		records[id] = rec
	}
	return &Snapshot{records: records}, nil
}

func decodeValue(raw json.RawMessage) any {
	var rv refValue
	if err := json.Unmarshal(raw, &rv); err == nil {
		if rv.Ref != nil {
			return Ref(*rv.Ref)
		}
		if rv.Refs != nil {
			refs := make([]Ref, len(rv.Refs))
			for i, r := range rv.Refs {
				refs[i] = Ref(r)
			}
			return refs
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// SaveSnapshot writes the store's records to path in snapshot format.
func (s *RecordStore) SaveSnapshot(path string) error {
	s.mu.RLock()
	file := make(map[string]map[string]any, len(s.records))
	for id, rec := range s.records {
		fields := make(map[string]any, len(rec))
		for key, val := range rec {
			fields[key] = encodeValue(val)
		}
		file[id] = fields
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: writing snapshot: %w", err)
	}
	return nil
}

func encodeValue(val any) any {
	switch v := val.(type) {
	case Ref:
		id := string(v)
		return refValue{Ref: &id}
	case []Ref:
		ids := make([]string, len(v))
		for i, r := range v {
			ids[i] = string(r)
		}
		return refValue{Refs: ids}
	default:
		return val
	}
}
