// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "context"

type eventKind uint8

const (
	eventPDUReceived eventKind = iota
	eventPDUTransmitted
)

// event is produced by a transport binding and consumed exactly once by
// the target channel's event handler.
type event struct {
	kind   eventKind
	target channel
}

// channel is the event sink side of a client or server channel.
type channel interface {
	processEvent(ev event)
}

const eventQueueSize = 64

// Loop is the process-wide event queue and dispatch task. Transports
// post events through their channel binding; Run delivers each event to
// its target channel. One loop may serve any number of channels.
type Loop struct {
	events chan event
	done   chan struct{}
}

// NewLoop creates an event loop. Run must be started before bound
// channels can observe events; events posted earlier are buffered.
func NewLoop() *Loop {
	return &Loop{
		events: make(chan event, eventQueueSize),
		done:   make(chan struct{}),
	}
}

// Run dispatches events until ctx is done. It should be called once, in
// its own goroutine.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.events:
			if ev.target != nil {
				ev.target.processEvent(ev)
			}
		}
	}
}

// post enqueues an event. Events posted after the loop has stopped are
// discarded.
func (l *Loop) post(ev event) {
	select {
	case <-l.done:
	case l.events <- ev:
	}
}
