package main

// ActivityAggregator merges activity signals from any number of sources into a
// single "activity since last drain" flag.
//
// It is backed by a one-slot channel: a signal either fills the slot or finds
// it already full and is dropped, so senders never block and never contend on
// a lock. The engine is the only reader.
type ActivityAggregator struct {
	pending chan struct{}
}

func NewActivityAggregator() *ActivityAggregator {
	return &ActivityAggregator{pending: make(chan struct{}, 1)}
}

// Signal records that activity occurred. Safe for concurrent use.
func (a *ActivityAggregator) Signal() {
	select {
	case a.pending <- struct{}{}:
	default:
		// Already pending; signals collapse.
	}
}

// Drain reports whether any activity was signaled since the previous Drain
// and clears the flag. It never blocks.
func (a *ActivityAggregator) Drain() bool {
	select {
	case <-a.pending:
		return true
	default:
		return false
	}
}
