package client

import (
	"sync"
	"time"
)

// Future is the single-shot result handle returned from Emit and settled
// exactly once: nil for delivered events, or one of the client error kinds
type Future struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// settle records the result; subsequent calls are no-ops
func (f *Future) settle(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed once the result is settled
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until settlement; nil means the event was delivered
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// TryWait waits up to the given timeout; the bool is false if the result is not settled yet
func (f *Future) TryWait(timeout time.Duration) (bool, error) {
	select {
	case <-f.done:
		return true, f.err
	case <-time.After(timeout):
		return false, nil
	}
}

func settleAll(futures []*Future, err error) {
	for _, future := range futures {
		future.settle(err)
	}
}
