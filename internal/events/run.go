package events

import "time"

// RunStart is emitted when an orchestrator invocation begins, after diffing
// and splitting have produced the fetch list.
type RunStart struct {
	RunID   int64
	Mode    string
	Queries int
}

// RunReady is emitted the first time an invocation's state turns ready.
type RunReady struct {
	RunID    int64
	Stale    bool
	Duration time.Duration
}

// RunDone is emitted the first time an invocation's state turns done.
type RunDone struct {
	RunID    int64
	Duration time.Duration
}

// RunError is emitted when an invocation fails with a fetch error.
type RunError struct {
	RunID    int64
	Err      error
	Duration time.Duration
}

// RunAbort is emitted when the caller aborts an invocation.
type RunAbort struct {
	RunID    int64
	Duration time.Duration
}
