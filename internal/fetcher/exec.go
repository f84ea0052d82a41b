package fetcher

import (
	"context"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	pending "github.com/hanpama/fetchgraph/internal/pending"
	query "github.com/hanpama/fetchgraph/internal/query"
	ready "github.com/hanpama/fetchgraph/internal/ready"
	store "github.com/hanpama/fetchgraph/internal/store"
)

// Exec is the cancellation handle for one Run/ForceFetch invocation.
type Exec struct {
	fetcher *Fetcher
	machine *ready.Machine

	// remaining holds every unsettled fetch by query ID; required holds
	// the non-deferred subset. Both are touched only on the queue.
	remaining map[string]*pending.Fetch
	required  map[string]*pending.Fetch
}

// Abort stops further callbacks for this invocation. It does not cancel
// in-flight network fetches; those run to completion so the shared
// registry stays consistent, and their later settlement is swallowed here.
func (e *Exec) Abort() {
	e.fetcher.queue.Post(func() {
		e.machine.Apply(ready.Partial{}.Aborted(true))
	})
}

// begin runs on the queue: it computes the fetch list, registers each
// query, wires settlements into the state machine, and evaluates the
// synchronous readiness fast paths.
func (e *Exec) begin(ctx context.Context, set query.Set, mode string, runID int64) {
	f := e.fetcher
	queries := f.buildQueryList(ctx, set, mode)
	eventbus.Publish(ctx, events.RunStart{RunID: runID, Mode: mode, Queries: len(queries)})

	var forceIndex int64
	if mode == pending.ModeRefetch {
		forceIndex = f.forceSeq.Add(1)
	}

	for _, q := range queries {
		pf := f.registry.Add(ctx, q, mode, forceIndex)
		e.remaining[q.ID()] = pf
		if !q.Deferred() {
			e.required[q.ID()] = pf
		}
	}
	for _, pf := range e.remaining {
		pf := pf
		pf.Subscribe(func(err error) {
			if err != nil {
				e.onRejected(pf, err)
			} else {
				e.onResolved(pf)
			}
		})
	}

	// Fast paths, evaluated before any fetch settles.
	if len(e.remaining) == 0 {
		e.machine.Apply(ready.Partial{}.Ready(true).Done(true))
		return
	}
	if len(e.required) == 0 {
		// Everything outstanding is deferred; deferred data never gates
		// readiness.
		e.machine.Apply(ready.Partial{}.Ready(true))
		return
	}
	e.machine.Apply(ready.Partial{}.Ready(false))

	// Optimistic check: if every required fetch is satisfiable from the
	// disk-backed view, the caller may render stale data while the
	// authoritative fetch continues. Coalescing folds this into the same
	// notification as the ready:false above.
	f.store.RunWithDiskCache(func(view store.RecordSource) {
		for _, pf := range e.required {
			if !pf.Resolvable(view) {
				return
			}
		}
		e.machine.Apply(ready.Partial{}.Ready(true).Stale(true))
	})
}

// terminated reports whether this invocation stopped accepting progress:
// aborted, errored, or fully done.
func (e *Exec) terminated() bool {
	st := e.machine.State()
	return st.Aborted || st.Done || st.Error != nil
}

func (e *Exec) onResolved(pf *pending.Fetch) {
	if e.terminated() {
		return
	}
	id := pf.Query().ID()
	delete(e.remaining, id)
	delete(e.required, id)

	if len(e.required) > 0 {
		return
	}
	// If another remaining fetch is already satisfiable from cache, its
	// settlement task is queued right behind this one; let that task emit
	// the transition so notifications arrive in settlement order.
	for _, other := range e.remaining {
		if other.Resolvable(e.fetcher.store) {
			return
		}
	}
	if len(e.remaining) > 0 {
		e.machine.Apply(ready.Partial{}.Ready(true).Done(false).Stale(false))
		return
	}
	e.machine.Apply(ready.Partial{}.Ready(true).Done(true).Stale(false))
}

func (e *Exec) onRejected(pf *pending.Fetch, err error) {
	if e.terminated() {
		return
	}
	e.machine.Apply(ready.Partial{}.Error(err))
	id := pf.Query().ID()
	delete(e.remaining, id)
	delete(e.required, id)
}
