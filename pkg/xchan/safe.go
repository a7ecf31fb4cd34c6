package xchan

import (
	"sync"
	"time"
)

type options struct {
	buffer       int
	testRetarder func()
}

type Opt func(o *options)

func WithTestRetard(pauseDuration time.Duration) Opt {
	return func(o *options) {
		o.testRetarder = func() {
			time.Sleep(pauseDuration)
		}
	}
}

// WithBuffer makes the underlying channel buffered, senders block only when it is full.
func WithBuffer(size int) Opt {
	return func(o *options) {
		if size > 0 {
			o.buffer = size
		}
	}
}

func MakeSafe[T any](opts ...Opt) *Safe[T] {
	o := options{
		testRetarder: func() {}, // default without retarder
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Safe[T]{
		ch:           make(chan T, o.buffer),
		closedCh:     make(chan struct{}),
		testRetarder: o.testRetarder,
	}
}

// Safe is a channel that may be closed by any side at any time,
// Send after Close is not a panic but a false result.
type Safe[T any] struct {
	mx sync.RWMutex
	ch chan T

	closeMx  sync.Mutex
	closedCh chan struct{}

	testRetarder func()
}

func (s *Safe[T]) Ch() <-chan T {
	return s.ch
}

func (s *Safe[T]) Close() bool {
	if alreadyClosed := func() bool {
		s.closeMx.Lock()
		defer s.closeMx.Unlock()
		select {
		case <-s.closedCh:
			return true
		default:
			s.testRetarder() // for concurrent close test
			close(s.closedCh)
		}
		return false
	}(); alreadyClosed {
		return false
	}
	s.mx.Lock()
	close(s.ch)
	s.mx.Unlock()
	return true
}

func (s *Safe[T]) Closed() <-chan struct{} {
	return s.closedCh
}

func (s *Safe[T]) Send(msg T) bool {
	select {
	case <-s.closedCh:
		return false
	default:
	}
	s.mx.RLock()
	defer s.mx.RUnlock()
	select {
	case s.ch <- msg:
		return true
	case <-s.closedCh:
		return false
	}
}

// TryRecv returns the next buffered or ready message without blocking.
func (s *Safe[T]) TryRecv() (msg T, ok bool) {
	select {
	case msg, ok = <-s.ch:
		return msg, ok
	default:
		return msg, false
	}
}
