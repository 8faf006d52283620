package exposure

import (
	"sync/atomic"

	"github.com/maruel/interrupt"
)

// Abort is the cooperative cancellation flag every suspension point in the
// sequencer checks (spec §5 "Cancellation: abort is one cooperative flag").
// It mirrors github.com/maruel/interrupt's Channel/Set/IsSet idiom but is
// scoped to one exposure rather than the whole process, and additionally
// forwards a process-wide Ctrl-C (interrupt.Channel) into the local flag.
type Abort struct {
	ch     chan struct{}
	closed int32
}

// NewAbort returns an unset Abort that also fires if the process receives
// an interrupt signal.
func NewAbort() *Abort {
	a := &Abort{ch: make(chan struct{})}
	go func() {
		select {
		case <-interrupt.Channel:
			a.Set()
		case <-a.ch:
		}
	}()
	return a
}

// Set raises the flag. Idempotent.
func (a *Abort) Set() {
	if atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		close(a.ch)
	}
}

// IsSet reports whether the flag has been raised.
func (a *Abort) IsSet() bool {
	return atomic.LoadInt32(&a.closed) == 1
}

// Channel returns a channel that closes when the flag is raised, for use
// in select statements at suspension points.
func (a *Abort) Channel() <-chan struct{} {
	return a.ch
}
