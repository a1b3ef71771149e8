// Package runloop provides the single-writer execution discipline used by
// every stateful component of the sync engine: all mutations for one
// component funnel through one ordered queue consumed by one goroutine, so
// ordering (not just mutual exclusion) is preserved.
package runloop

import (
	"log"
	"sync"
)

// Serial executes submitted operations one at a time, in submission order,
// on a single owner goroutine. A panic inside one operation is recovered and
// logged; it never stops the loop or blocks later operations.
type Serial struct {
	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// New starts the owner goroutine.
func New() *Serial {
	s := &Serial{
		ops:  make(chan func(), 256),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Serial) loop() {
	for {
		select {
		case op := <-s.ops:
			s.safeRun(op)
		case <-s.done:
			return
		}
	}
}

func (s *Serial) safeRun(op func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("runloop: recovered panic in operation: %v", r)
		}
	}()
	op()
}

// Do runs op on the owner goroutine and waits for it to complete. It returns
// false without running op when the loop is closed. Do must not be called
// from inside another operation on the same Serial.
func (s *Serial) Do(op func()) bool {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		op()
	}

	select {
	case <-s.done:
		return false
	case s.ops <- wrapped:
	}

	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

// Enqueue schedules op without waiting for it. It returns false when the
// loop is closed.
func (s *Serial) Enqueue(op func()) bool {
	select {
	case <-s.done:
		return false
	case s.ops <- op:
		return true
	}
}

// Close stops the loop. Operations still queued are dropped. Idempotent.
func (s *Serial) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
