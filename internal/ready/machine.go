package ready

import (
	"context"
	"time"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	taskqueue "github.com/hanpama/fetchgraph/internal/taskqueue"
)

// Machine accumulates partial state updates into one monotonic State and
// delivers coalesced notifications: however many times Apply runs within
// one task, the caller sees a single callback reflecting the final merged
// state, delivered on a later task.
//
// Apply and State must only be called from tasks on the machine's queue.
type Machine struct {
	queue *taskqueue.Queue
	cb    func(State)

	ctx     context.Context
	runID   int64
	started time.Time

	state     State
	scheduled bool
}

// NewMachine creates a machine delivering to cb on q. The run ID and start
// time feed the ready/done timing events.
func NewMachine(ctx context.Context, q *taskqueue.Queue, runID int64, cb func(State)) *Machine {
	return &Machine{queue: q, cb: cb, ctx: ctx, runID: runID, started: time.Now()}
}

// State returns the current merged state.
func (m *Machine) State() State { return m.state }

// Apply merges p into the state and schedules one delivery.
//
// Updates after abort are silently ignored; they come from fetches settling
// after cancellation. Updates after done/error that do not set aborted are
// a bug in the caller's bookkeeping and panic rather than being masked.
func (m *Machine) Apply(p Partial) {
	if m.state.Aborted {
		return
	}
	if m.state.Done || m.state.Error != nil {
		if !p.setsAborted() {
			panic("fetchgraph: invariant: ready-state update after terminal state")
		}
		m.state.Aborted = true
		eventbus.Publish(m.ctx, events.RunAbort{RunID: m.runID, Duration: time.Since(m.started)})
		m.schedule()
		return
	}

	wasReady := m.state.Ready
	wasDone := m.state.Done
	p.mergeInto(&m.state)

	elapsed := time.Since(m.started)
	if !wasReady && m.state.Ready {
		eventbus.Publish(m.ctx, events.RunReady{RunID: m.runID, Stale: m.state.Stale, Duration: elapsed})
	}
	if !wasDone && m.state.Done {
		eventbus.Publish(m.ctx, events.RunDone{RunID: m.runID, Duration: elapsed})
	}
	if m.state.Error != nil {
		eventbus.Publish(m.ctx, events.RunError{RunID: m.runID, Err: m.state.Error, Duration: elapsed})
	}
	if m.state.Aborted {
		eventbus.Publish(m.ctx, events.RunAbort{RunID: m.runID, Duration: elapsed})
	}

	m.schedule()
}

func (m *Machine) schedule() {
	if m.scheduled {
		return
	}
	m.scheduled = true
	m.queue.Post(func() {
		m.scheduled = false
		m.cb(m.state)
	})
}
