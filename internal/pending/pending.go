// Package pending deduplicates in-flight fetches: at most one network
// operation is outstanding per distinct query identity, shared by every
// invocation that requests it. All registry and Fetch access happens on the
// owning fetcher's task queue, which is the sole synchronization point.
package pending

import (
	"context"
	"time"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	query "github.com/hanpama/fetchgraph/internal/query"
	store "github.com/hanpama/fetchgraph/internal/store"
	taskqueue "github.com/hanpama/fetchgraph/internal/taskqueue"
)

// Fetch modes. Client mode diffs against the cache before fetching;
// refetch always hits the network but still evaluates resolvability for
// early readiness. Preload exists for completeness and behaves like client.
const (
	ModeClient  = "client"
	ModeRefetch = "refetch"
	ModePreload = "preload"
)

// Transport performs the actual network fetch for one query and reports
// feature support. Implementations must be safe for concurrent use.
type Transport interface {
	// Supports reports whether the transport handles the named feature
	// (currently only "defer").
	Supports(feature string) bool
	// Send executes the query and returns the decoded response payload.
	Send(ctx context.Context, q *query.Query) (map[string]any, error)
}

// Fetch is the shared handle for one in-flight retrieval. Concurrent
// invocations requesting the same query identity hold the same *Fetch.
type Fetch struct {
	query      *query.Query
	mode       string
	forceIndex int64

	settled bool
	err     error
	subs    []func(error)
}

func (f *Fetch) Query() *query.Query { return f.query }
func (f *Fetch) Mode() string        { return f.mode }
func (f *Fetch) ForceIndex() int64   { return f.forceIndex }

// Resolvable reports whether the fetch's query is currently satisfiable
// from view without waiting for the network.
func (f *Fetch) Resolvable(view store.RecordSource) bool {
	return store.Resolvable(f.query, view)
}

// Subscribe attaches a settlement listener. Listeners run on the queue, in
// subscription order, in the same task that settles the fetch. A listener
// attached after settlement fires immediately.
func (f *Fetch) Subscribe(fn func(err error)) {
	if f.settled {
		fn(f.err)
		return
	}
	f.subs = append(f.subs, fn)
}

func (f *Fetch) settle(err error) {
	f.settled = true
	f.err = err
	subs := f.subs
	f.subs = nil
	for _, fn := range subs {
		fn(err)
	}
}

// Registry holds the in-flight fetches keyed by query identity.
type Registry struct {
	queue     *taskqueue.Queue
	store     *store.RecordStore
	transport Transport
	inflight  map[string]*Fetch
}

func NewRegistry(q *taskqueue.Queue, st *store.RecordStore, tp Transport) *Registry {
	return &Registry{queue: q, store: st, transport: tp, inflight: make(map[string]*Fetch)}
}

// Pending reports whether a fetch for the given query identity is still
// in flight.
func (r *Registry) Pending(queryID string) bool {
	_, ok := r.inflight[queryID]
	return ok
}

// Add returns the in-flight fetch for q's identity, starting one if none is
// outstanding. Add never fails; fetch errors surface asynchronously through
// the returned handle. The entry is removed when the fetch settles, success
// or failure, regardless of which invocation created it.
func (r *Registry) Add(ctx context.Context, q *query.Query, mode string, forceIndex int64) *Fetch {
	if f, ok := r.inflight[q.ID()]; ok {
		return f
	}
	f := &Fetch{query: q, mode: mode, forceIndex: forceIndex}
	r.inflight[q.ID()] = f

	eventbus.Publish(ctx, events.FetchStart{
		QueryID:    q.ID(),
		QueryName:  q.Name(),
		Mode:       mode,
		ForceIndex: forceIndex,
	})

	// Aborting an invocation must not cancel the network call: other
	// invocations may share this fetch, and the registry entry has to
	// settle to stay consistent.
	sendCtx := context.WithoutCancel(ctx)
	start := time.Now()
	go func() {
		payload, err := r.transport.Send(sendCtx, q)
		r.queue.Post(func() {
			if err == nil {
				r.store.Commit(q, payload, forceIndex)
			}
			eventbus.Publish(sendCtx, events.FetchFinish{
				QueryID:   q.ID(),
				QueryName: q.Name(),
				Err:       err,
				Duration:  time.Since(start),
			})
			delete(r.inflight, q.ID())
			f.settle(err)
		})
	}()
	return f
}
