package events

import "time"

// FetchStart is emitted when the registry begins a network fetch for a
// query identity. Deduplicated callers share one FetchStart.
type FetchStart struct {
	QueryID    string
	QueryName  string
	Mode       string
	ForceIndex int64
}

// FetchFinish is emitted when the underlying fetch settles.
type FetchFinish struct {
	QueryID   string
	QueryName string
	Err       error
	Duration  time.Duration
}

// DeferFallback is a warning: a query containing deferred selections was
// sent un-split because the transport does not support deferred fetching.
type DeferFallback struct {
	QueryID   string
	QueryName string
}
