// Package runid tags contexts with a per-process monotonic invocation ID so
// events emitted by one orchestrator run can be correlated.
package runid

import (
	"context"
	"sync/atomic"
)

type key struct{}

var seq atomic.Int64

// Next allocates a fresh run ID. IDs are unique and strictly increasing
// within a process.
func Next() int64 { return seq.Add(1) }

// NewContext returns a copy of parent carrying a freshly allocated run ID,
// along with the ID itself.
func NewContext(parent context.Context) (context.Context, int64) {
	id := Next()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the run ID from ctx.
func FromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(key{})
	id, ok := v.(int64)
	return id, ok
}
