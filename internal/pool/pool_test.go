// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package pool

import "testing"

type block struct {
	id int
}

func TestPoolGrowsByOne(t *testing.T) {
	p := New[block](0)

	if p.Allocated() != 0 {
		t.Fatalf("fresh pool allocated %d blocks", p.Allocated())
	}

	a, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Allocated() != 1 {
		t.Fatalf("expected 1 allocated block, got %d", p.Allocated())
	}

	b, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a == b {
		t.Fatal("pool handed out the same block twice")
	}
	if p.Allocated() != 2 {
		t.Fatalf("expected 2 allocated blocks, got %d", p.Allocated())
	}
}

func TestPoolRecyclesBlocks(t *testing.T) {
	p := New[block](0)

	a, _ := p.Get()
	a.id = 42
	p.Put(a)

	if p.Idle() != 1 {
		t.Fatalf("expected 1 idle block, got %d", p.Idle())
	}

	b, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if b != a {
		t.Fatal("expected the released block to be reused")
	}
	// Recycled blocks are not zeroed.
	if b.id != 42 {
		t.Fatalf("recycled block lost its contents: id=%d", b.id)
	}
	if p.Allocated() != 1 {
		t.Fatalf("recycling grew the pool: allocated=%d", p.Allocated())
	}
}

func TestPoolCapacityLimit(t *testing.T) {
	p := New[block](2)

	a, _ := p.Get()
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get within capacity failed: %v", err)
	}

	if _, err := p.Get(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	// A release makes room again.
	p.Put(a)
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get after Put failed: %v", err)
	}
}
