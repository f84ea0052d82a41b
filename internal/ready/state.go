package ready

// State is the monotonic progress record delivered to callers.
//
// Invariants: once Aborted is true no field changes again; once Done or
// Error is set, the only accepted change is setting Aborted; Ready and Done
// never revert to false within one invocation.
type State struct {
	Aborted bool
	Done    bool
	Error   error
	Ready   bool
	Stale   bool
}

type fieldMask uint8

const (
	maskAborted fieldMask = 1 << iota
	maskDone
	maskError
	maskReady
	maskStale
)

// Partial is a state update carrying only the fields explicitly set on it.
// The zero Partial is empty. Builder methods return a copy, so partials can
// be constructed inline:
//
//	m.Apply(ready.Partial{}.Ready(true).Done(true))
type Partial struct {
	mask fieldMask
	s    State
}

func (p Partial) Aborted(v bool) Partial {
	p.mask |= maskAborted
	p.s.Aborted = v
	return p
}

func (p Partial) Done(v bool) Partial {
	p.mask |= maskDone
	p.s.Done = v
	return p
}

func (p Partial) Error(err error) Partial {
	p.mask |= maskError
	p.s.Error = err
	return p
}

func (p Partial) Ready(v bool) Partial {
	p.mask |= maskReady
	p.s.Ready = v
	return p
}

func (p Partial) Stale(v bool) Partial {
	p.mask |= maskStale
	p.s.Stale = v
	return p
}

func (p Partial) setsAborted() bool {
	return p.mask&maskAborted != 0 && p.s.Aborted
}

// mergeInto overwrites the fields present in p on dst.
func (p Partial) mergeInto(dst *State) {
	if p.mask&maskAborted != 0 {
		dst.Aborted = p.s.Aborted
	}
	if p.mask&maskDone != 0 {
		dst.Done = p.s.Done
	}
	if p.mask&maskError != 0 {
		dst.Error = p.s.Error
	}
	if p.mask&maskReady != 0 {
		dst.Ready = p.s.Ready
	}
	if p.mask&maskStale != 0 {
		dst.Stale = p.s.Stale
	}
}
