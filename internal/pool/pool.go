// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package pool

import (
	"errors"
	"sync"
)

// ErrExhausted is returned by Get when the pool is at capacity and no
// block is free.
var ErrExhausted = errors.New("pool: exhausted")

// Pool is a fixed-block allocator for values of one type. Blocks are
// recycled: Get returns a previously released block when one is free
// and otherwise grows the pool by a single block, up to the optional
// capacity limit.
type Pool[T any] struct {
	mu        sync.Mutex
	free      []*T
	allocated int
	max       int
}

// New creates a pool. max limits the number of blocks ever allocated;
// zero means no limit.
func New[T any](max int) *Pool[T] {
	return &Pool[T]{max: max}
}

// Get returns a block, growing the pool by one when none is free.
// Recycled blocks keep their previous contents; callers reinitialize.
func (p *Pool[T]) Get() (*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		blk := p.free[n-1]
		p.free = p.free[:n-1]
		return blk, nil
	}
	if p.max > 0 && p.allocated >= p.max {
		return nil, ErrExhausted
	}
	p.allocated++
	return new(T), nil
}

// Put releases a block back to the pool for reuse.
func (p *Pool[T]) Put(blk *T) {
	if blk == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, blk)
	p.mu.Unlock()
}

// Allocated reports how many blocks the pool has ever handed out.
func (p *Pool[T]) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Idle reports how many released blocks are waiting for reuse.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
