// Package fetcher implements the query fetch orchestrator: it diffs query
// sets against the record cache, deduplicates concurrent fetches through
// the pending registry, and reports progress through the monotonic ready
// state machine.
package fetcher

import (
	"context"
	"sync/atomic"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	pending "github.com/hanpama/fetchgraph/internal/pending"
	query "github.com/hanpama/fetchgraph/internal/query"
	ready "github.com/hanpama/fetchgraph/internal/ready"
	runid "github.com/hanpama/fetchgraph/internal/runid"
	store "github.com/hanpama/fetchgraph/internal/store"
	taskqueue "github.com/hanpama/fetchgraph/internal/taskqueue"
)

// FeatureDefer is the transport feature gate for split deferred fetching.
const FeatureDefer = "defer"

// Fetcher orchestrates query fetching over one store and transport. All
// bookkeeping runs on a single task queue, so concurrent Run/ForceFetch
// invocations interleave without locks and settlements process in a
// deterministic order.
type Fetcher struct {
	queue     *taskqueue.Queue
	store     *store.RecordStore
	transport pending.Transport
	registry  *pending.Registry
	forceSeq  atomic.Int64
}

// New creates a Fetcher. The caller owns the store and transport; the
// fetcher owns its queue and registry.
func New(st *store.RecordStore, tp pending.Transport) *Fetcher {
	q := taskqueue.New()
	return &Fetcher{
		queue:     q,
		store:     st,
		transport: tp,
		registry:  pending.NewRegistry(q, st, tp),
	}
}

// Close stops the fetcher's task loop after queued work drains. In-flight
// invocations stop receiving callbacks.
func (f *Fetcher) Close() { f.queue.Close() }

// Store returns the fetcher's primary record store.
func (f *Fetcher) Store() *store.RecordStore { return f.store }

// Run fetches the data needed by set that is not already cached, invoking
// cb asynchronously with each coalesced ready-state transition. The
// returned handle aborts further notifications, not the network fetches.
func (f *Fetcher) Run(ctx context.Context, set query.Set, cb func(ready.State)) *Exec {
	return f.start(ctx, set, cb, pending.ModeClient)
}

// ForceFetch fetches every query in set over the network, skipping the
// cache diff, but still reports immediate stale readiness when the set is
// already satisfiable from cache.
func (f *Fetcher) ForceFetch(ctx context.Context, set query.Set, cb func(ready.State)) *Exec {
	return f.start(ctx, set, cb, pending.ModeRefetch)
}

// Preload warms the cache ahead of an expected Run. Fetch behavior is
// identical to Run; the mode tag lets instrumentation tell preloads apart.
func (f *Fetcher) Preload(ctx context.Context, set query.Set, cb func(ready.State)) *Exec {
	return f.start(ctx, set, cb, pending.ModePreload)
}

func (f *Fetcher) start(ctx context.Context, set query.Set, cb func(ready.State), mode string) *Exec {
	ctx, id := runid.NewContext(ctx)
	e := &Exec{
		fetcher:   f,
		machine:   ready.NewMachine(ctx, f.queue, id, cb),
		remaining: make(map[string]*pending.Fetch),
		required:  make(map[string]*pending.Fetch),
	}
	f.queue.Post(func() { e.begin(ctx, set, mode, id) })
	return e
}

// buildQueryList applies the diff (client mode only) and the deferred
// split, flattening the results into one ordered fetch list. Queries with
// deferred selections bypass splitting when the transport lacks defer
// support; they are sent whole and a warning event is published.
func (f *Fetcher) buildQueryList(ctx context.Context, set query.Set, mode string) []*query.Query {
	var groups [][]*query.Query
	for _, q := range set.Queries() {
		var diffed []*query.Query
		if mode == pending.ModeRefetch {
			diffed = []*query.Query{q}
		} else {
			diffed = store.Diff(q, f.store)
		}
		for _, dq := range diffed {
			if dq.HasDeferred() && !f.transport.Supports(FeatureDefer) {
				eventbus.Publish(ctx, events.DeferFallback{QueryID: dq.ID(), QueryName: dq.Name()})
				groups = append(groups, []*query.Query{dq})
				continue
			}
			groups = append(groups, dq.SplitDeferred())
		}
	}
	return query.Flatten(groups)
}
