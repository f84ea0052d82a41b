package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	httptp "github.com/hanpama/fetchgraph/internal/httptp"
	language "github.com/hanpama/fetchgraph/internal/language"
	query "github.com/hanpama/fetchgraph/internal/query"
	ready "github.com/hanpama/fetchgraph/internal/ready"
	store "github.com/hanpama/fetchgraph/internal/store"
)

func mustQuery(t *testing.T, name, src string) *query.Query {
	t.Helper()
	doc, err := language.ParseQuery(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return query.New(name, doc.Operations[0].SelectionSet)
}

func setOf(queries ...*query.Query) query.Set {
	s := make(query.Set, len(queries))
	for _, q := range queries {
		s[q.Name()] = q
	}
	return s
}

// recorder collects delivered ready states and lets tests wait for the
// first state matching a predicate.
type recorder struct {
	mu     sync.Mutex
	states []ready.State
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) callback(st ready.State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) all() []ready.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ready.State, len(r.states))
	copy(out, r.states)
	return out
}

func (r *recorder) await(t *testing.T, pred func(ready.State) bool) ready.State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	seen := 0
	for {
		for _, st := range r.all()[seen:] {
			seen++
			if pred(st) {
				return st
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("no matching state; got %+v", r.all())
		}
	}
}

func isDone(st ready.State) bool    { return st.Done }
func isReady(st ready.State) bool   { return st.Ready }
func isAborted(st ready.State) bool { return st.Aborted }

type env struct {
	store     *store.RecordStore
	transport *httptp.Mock
	fetcher   *Fetcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:     store.New(nil),
		transport: httptp.NewMock(),
	}
	e.fetcher = New(e.store, e.transport)
	t.Cleanup(e.fetcher.Close)
	return e
}

// settle flushes the queue so begin and any queued settlements process.
func (e *env) settle() { e.fetcher.queue.Barrier() }

// waitSends blocks until q has been dispatched to the transport n times.
func (e *env) waitSends(t *testing.T, q *query.Query, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.transport.SendCount(q) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d network sends, got %d", n, e.transport.SendCount(q))
		}
		time.Sleep(time.Millisecond)
	}
}

// waitCommitted blocks until q's data lands in the store, then flushes the
// queue so notification tasks queued behind the commit also process.
func (e *env) waitCommitted(t *testing.T, q *query.Query) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !store.Resolvable(q, e.store) {
		if time.Now().After(deadline) {
			t.Fatal("fetch result never committed")
		}
		time.Sleep(time.Millisecond)
	}
	e.fetcher.queue.Barrier()
}

func TestEmptySetIsImmediatelyDone(t *testing.T) {
	e := newEnv(t)
	rec := newRecorder()

	e.fetcher.Run(context.Background(), query.Set{}, rec.callback)
	st := rec.await(t, isDone)
	if !st.Ready || st.Stale || st.Error != nil {
		t.Fatalf("unexpected state %+v", st)
	}
	if len(e.transport.Calls()) != 0 {
		t.Fatal("empty set hit the network")
	}
}

func TestFullyCachedSetSkipsNetwork(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ user(id: "4") { id name } }`)
	e.store.Commit(q, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}}, 0)

	rec := newRecorder()
	e.fetcher.Run(context.Background(), setOf(q), rec.callback)
	st := rec.await(t, isDone)
	if !st.Ready || st.Stale {
		t.Fatalf("unexpected state %+v", st)
	}
	if len(e.transport.Calls()) != 0 {
		t.Fatal("cached set hit the network")
	}
}

func TestRunReadyThenDone(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ user(id: "4") { id name } }`)

	rec := newRecorder()
	e.fetcher.Run(context.Background(), setOf(q), rec.callback)
	e.settle()

	e.transport.Resolve(q, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}})
	st := rec.await(t, isDone)
	if !st.Ready {
		t.Fatalf("done without ready: %+v", st)
	}

	// Ready never regresses across the delivered sequence.
	wasReady := false
	for _, st := range rec.all() {
		if wasReady && !st.Ready {
			t.Fatalf("ready regressed: %+v", rec.all())
		}
		wasReady = wasReady || st.Ready
	}
}

func TestDeferredDataDoesNotGateReadiness(t *testing.T) {
	e := newEnv(t)
	e.transport.SetSupportsDefer(true)
	q := mustQuery(t, "viewer", `{ viewer { id name comments @defer { id text } } }`)
	parts := q.SplitDeferred()
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	required, deferred := parts[0], parts[1]

	rec := newRecorder()
	e.fetcher.Run(context.Background(), setOf(q), rec.callback)
	e.settle()

	e.transport.Resolve(required, map[string]any{"viewer": map[string]any{"id": "v1", "name": "Ada"}})
	st := rec.await(t, isReady)
	if st.Done {
		t.Fatalf("done before deferred data settled: %+v", st)
	}

	e.transport.Resolve(deferred, map[string]any{"viewer": map[string]any{
		"id": "v1",
		"comments": []any{map[string]any{"id": "c1", "text": "hi"}},
	}})
	rec.await(t, isDone)
}

func TestDeferredOnlySetIsImmediatelyReady(t *testing.T) {
	e := newEnv(t)
	e.transport.SetSupportsDefer(true)
	q := mustQuery(t, "feed", `{ feed @defer { id items } }`)
	parts := q.SplitDeferred()
	if len(parts) != 1 || !parts[0].Deferred() {
		t.Fatalf("expected a single deferred part, got %d", len(parts))
	}

	rec := newRecorder()
	e.fetcher.Run(context.Background(), setOf(q), rec.callback)

	// Readiness arrives before the deferred fetch settles: deferred data
	// never gates it.
	st := rec.await(t, isReady)
	if st.Done {
		t.Fatalf("done before the deferred fetch settled: %+v", st)
	}

	e.transport.Resolve(parts[0], map[string]any{"feed": map[string]any{
		"id": "f1", "items": []any{"a", "b"},
	}})
	rec.await(t, isDone)
}

func TestConcurrentRunsShareOneFetch(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ user(id: "4") { id name } }`)

	rec1, rec2 := newRecorder(), newRecorder()
	e.fetcher.Run(context.Background(), setOf(q), rec1.callback)
	e.fetcher.Run(context.Background(), setOf(q), rec2.callback)
	e.settle()

	e.transport.Resolve(q, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}})
	rec1.await(t, isDone)
	rec2.await(t, isDone)
	if n := e.transport.SendCount(q); n != 1 {
		t.Fatalf("expected 1 network send, got %d", n)
	}
}

func TestOverlappingRunsAttachToInFlightResidual(t *testing.T) {
	e := newEnv(t)
	q1 := mustQuery(t, "a", `{ user(id: "4") { id name } }`)
	q2 := mustQuery(t, "b", `{ user(id: "4") { id name } }`)

	rec1, rec2 := newRecorder(), newRecorder()
	e.fetcher.Run(context.Background(), setOf(q1), rec1.callback)
	e.settle()
	// The second run's cold-cache residual has the same identity, so the
	// registry fans it into the first run's fetch.
	e.fetcher.Run(context.Background(), setOf(q2), rec2.callback)
	e.settle()

	e.transport.Resolve(q1, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}})
	rec1.await(t, isDone)
	rec2.await(t, isDone)
	if n := e.transport.SendCount(q1); n != 1 {
		t.Fatalf("expected 1 network send, got %d", n)
	}
}

func TestAbortSuppressesLaterNotifications(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ user(id: "4") { id name } }`)

	rec := newRecorder()
	exec := e.fetcher.Run(context.Background(), setOf(q), rec.callback)
	e.settle()

	exec.Abort()
	rec.await(t, isAborted)

	// The shared fetch still runs and commits; aborting an invocation
	// never cancels the network work.
	e.transport.Resolve(q, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}})
	e.waitCommitted(t, q)
	for _, st := range rec.all() {
		if st.Done {
			t.Fatalf("done delivered after abort: %+v", rec.all())
		}
	}
}

func TestFetchErrorIsTerminal(t *testing.T) {
	e := newEnv(t)
	qa := mustQuery(t, "a", `{ user(id: "4") { id name } }`)
	qb := mustQuery(t, "b", `{ post(id: "9") { id title } }`)
	boom := errors.New("boom")

	rec := newRecorder()
	e.fetcher.Run(context.Background(), setOf(qa, qb), rec.callback)
	e.settle()

	e.transport.Reject(qa, boom)
	st := rec.await(t, func(st ready.State) bool { return st.Error != nil })
	if !errors.Is(st.Error, boom) {
		t.Fatalf("error = %v, want %v", st.Error, boom)
	}

	// The surviving fetch settles without disturbing the terminal state.
	e.transport.Resolve(qb, map[string]any{"post": map[string]any{"id": "9", "title": "x"}})
	e.waitCommitted(t, qb)
	for _, st := range rec.all() {
		if st.Done {
			t.Fatalf("done delivered after error: %+v", rec.all())
		}
	}
}

func TestDeferFallbackSendsWholeQuery(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ viewer { id name comments @defer { id text } } }`)

	var mu sync.Mutex
	var warned []string
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(eventbus.New())
	eventbus.Subscribe(func(_ context.Context, ev events.DeferFallback) {
		mu.Lock()
		warned = append(warned, ev.QueryName)
		mu.Unlock()
	})

	rec := newRecorder()
	e.fetcher.Run(context.Background(), setOf(q), rec.callback)
	e.settle()

	// Without defer support the query goes out un-split.
	e.waitSends(t, q, 1)
	e.transport.Resolve(q, map[string]any{"viewer": map[string]any{
		"id": "v1", "name": "Ada",
		"comments": []any{map[string]any{"id": "c1", "text": "hi"}},
	}})
	rec.await(t, isDone)

	mu.Lock()
	defer mu.Unlock()
	if len(warned) != 1 || warned[0] != "viewer" {
		t.Fatalf("defer fallback events = %v", warned)
	}
}

func TestPreloadWarmsCacheForLaterRun(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ user(id: "4") { id name } }`)

	rec := newRecorder()
	e.fetcher.Preload(context.Background(), setOf(q), rec.callback)
	e.settle()
	e.transport.Resolve(q, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}})
	rec.await(t, isDone)

	// The later Run is satisfied from cache without another send.
	rec2 := newRecorder()
	e.fetcher.Run(context.Background(), setOf(q), rec2.callback)
	rec2.await(t, isDone)
	if n := e.transport.SendCount(q); n != 1 {
		t.Fatalf("expected 1 network send, got %d", n)
	}
}

func TestForceFetchReportsStaleReadinessFromCache(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ user(id: "4") { id name } }`)
	e.store.Commit(q, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}}, 0)

	rec := newRecorder()
	e.fetcher.ForceFetch(context.Background(), setOf(q), rec.callback)
	st := rec.await(t, isReady)
	if !st.Stale {
		t.Fatalf("cached refetch not marked stale: %+v", st)
	}
	if st.Done {
		t.Fatalf("done before the network settled: %+v", st)
	}

	e.transport.Resolve(q, map[string]any{"user": map[string]any{"id": "4", "name": "Fresh"}})
	st = rec.await(t, isDone)
	if st.Stale {
		t.Fatalf("done state still stale: %+v", st)
	}
	if n := e.transport.SendCount(q); n != 1 {
		t.Fatalf("refetch skipped the network: %d sends", n)
	}
}

func TestForceFetchBypassesCacheDiff(t *testing.T) {
	e := newEnv(t)
	q := mustQuery(t, "viewer", `{ user(id: "4") { id name } }`)
	e.store.Commit(q, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}}, 0)

	rec := newRecorder()
	e.fetcher.ForceFetch(context.Background(), setOf(q), rec.callback)
	e.waitSends(t, q, 1)
	e.transport.Resolve(q, map[string]any{"user": map[string]any{"id": "4", "name": "Fresh"}})
	rec.await(t, isDone)

	rec2 := newRecorder()
	e.fetcher.ForceFetch(context.Background(), setOf(q), rec2.callback)
	e.waitSends(t, q, 2)
	e.transport.Resolve(q, map[string]any{"user": map[string]any{"id": "4", "name": "Fresher"}})
	rec2.await(t, isDone)
}
