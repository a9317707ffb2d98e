// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package osal

import "time"

// Semaphore is a binary semaphore with a stateful signal: a Give that
// happens before any Take is retained until consumed, so a waiter that
// arrives late still observes it. Give never blocks.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates the semaphore in the empty state.
func NewSemaphore() *Semaphore {
	return &Semaphore{ch: make(chan struct{}, 1)}
}

// Give signals the semaphore. Signaling an already signaled semaphore
// has no effect.
func (s *Semaphore) Give() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Take consumes the signal, waiting up to timeout for it. It reports
// whether the signal was consumed.
func (s *Semaphore) Take(timeout time.Duration) bool {
	select {
	case <-s.ch:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}
