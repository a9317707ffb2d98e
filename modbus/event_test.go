// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package modbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingChannel struct {
	events chan event
}

func (r *recordingChannel) processEvent(ev event) {
	r.events <- ev
}

func TestLoop_Dispatch(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	ch := &recordingChannel{events: make(chan event, 4)}
	var b Binding
	if err := b.bind(loop, ch, RoleClient); err != nil {
		t.Fatal(err)
	}

	b.PostReceived()
	b.PostTransmitted()

	for _, want := range []eventKind{eventPDUReceived, eventPDUTransmitted} {
		select {
		case ev := <-ch.events:
			if ev.kind != want {
				t.Errorf("Dispatched kind %d, expected %d", ev.kind, want)
			}
		case <-time.After(time.Second):
			t.Fatal("Event was not dispatched")
		}
	}
}

func TestLoop_PostAfterStopIsDiscarded(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	ch := &recordingChannel{events: make(chan event, 4)}
	var b Binding
	if err := b.bind(loop, ch, RoleServer); err != nil {
		t.Fatal(err)
	}

	cancel()
	<-done

	// Must return immediately instead of blocking on the dead queue.
	b.PostReceived()
	select {
	case <-ch.events:
		t.Error("Event delivered after the loop stopped")
	default:
	}
}

func TestBinding_SingleOwner(t *testing.T) {
	loop := NewLoop()
	ch := &recordingChannel{events: make(chan event, 1)}

	var b Binding
	if b.Role() != RoleNone {
		t.Errorf("Fresh binding has role %d", b.Role())
	}
	if err := b.bind(loop, ch, RoleClient); err != nil {
		t.Fatal(err)
	}
	if b.Role() != RoleClient {
		t.Errorf("Bound role %d, expected client", b.Role())
	}
	if err := b.bind(loop, ch, RoleServer); !errors.Is(err, errAlreadyBound) {
		t.Errorf("Expected errAlreadyBound, got %v", err)
	}

	b.unbind()
	if b.Role() != RoleNone {
		t.Errorf("Unbound role %d", b.Role())
	}
	if err := b.bind(loop, ch, RoleServer); err != nil {
		t.Errorf("Rebind after unbind failed: %v", err)
	}
}

func TestBinding_UnboundPostIsDropped(t *testing.T) {
	var b Binding
	// Must not panic or block without an owner.
	b.PostReceived()
	b.PostTransmitted()
}
