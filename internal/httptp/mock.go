package httptp

import (
	"context"
	"sync"

	query "github.com/hanpama/fetchgraph/internal/query"
)

// Mock implements pending.Transport for tests. Each Send blocks until the
// test settles it with Resolve or Reject; settling before Send queues the
// outcome so tests are free of ordering races. Keys are query identities,
// so tests settle with the same (or an equal) query they dispatched.
type Mock struct {
	mu            sync.Mutex
	supportsDefer bool

	calls   []*query.Query
	waiters map[string][]chan outcome
	queued  map[string][]outcome
}

type outcome struct {
	data map[string]any
	err  error
}

func NewMock() *Mock {
	return &Mock{
		waiters: make(map[string][]chan outcome),
		queued:  make(map[string][]outcome),
	}
}

func (m *Mock) SetSupportsDefer(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supportsDefer = v
}

func (m *Mock) Supports(feature string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return feature == "defer" && m.supportsDefer
}

func (m *Mock) Send(ctx context.Context, q *query.Query) (map[string]any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	id := q.ID()
	if pending := m.queued[id]; len(pending) > 0 {
		out := pending[0]
		m.queued[id] = pending[1:]
		m.mu.Unlock()
		return out.data, out.err
	}
	ch := make(chan outcome, 1)
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()

	select {
	case out := <-ch:
		return out.data, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve settles the oldest outstanding (or next future) Send for q's
// identity with a successful payload.
func (m *Mock) Resolve(q *query.Query, data map[string]any) {
	m.deliver(q.ID(), outcome{data: data})
}

// Reject settles the oldest outstanding (or next future) Send for q's
// identity with an error.
func (m *Mock) Reject(q *query.Query, err error) {
	m.deliver(q.ID(), outcome{err: err})
}

func (m *Mock) deliver(id string, out outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws := m.waiters[id]; len(ws) > 0 {
		ch := ws[0]
		m.waiters[id] = ws[1:]
		ch <- out
		return
	}
	m.queued[id] = append(m.queued[id], out)
}

// Calls returns every query passed to Send, in order.
func (m *Mock) Calls() []*query.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*query.Query, len(m.calls))
	copy(out, m.calls)
	return out
}

// SendCount returns how many times Send ran for q's identity.
func (m *Mock) SendCount(q *query.Query) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.ID() == q.ID() {
			n++
		}
	}
	return n
}
