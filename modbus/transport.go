// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"sync"
)

// Role tells a transport which side of the protocol its bound channel
// implements.
type Role uint8

const (
	RoleNone Role = iota
	RoleClient
	RoleServer
)

// Transport is the packet access interface a channel drives. One
// transport is bound to exactly one channel. Implementations embed
// Binding, which provides the crosslink and satisfies the
// ChannelBinding method.
type Transport interface {
	// Transmit submits the prepared request or response packet for
	// sending. It returns once the packet has been handed to the medium.
	Transmit() error

	// TxPacket grants exclusive write access to the outgoing packet, or
	// nil while the transport cannot accept a new one.
	TxPacket() *Packet

	// RxPacket returns the pending received packet, or nil when none is
	// held.
	RxPacket() *Packet

	// ReceptionDone releases the received packet for reuse. Callers
	// release exactly once per obtained packet.
	ReceptionDone()

	// ChannelBinding returns the transport's channel crosslink. The
	// embedded Binding field would shadow a method of its own name, so
	// the accessor carries a distinct one.
	ChannelBinding() *Binding
}

var errAlreadyBound = errors.New("modbus: transport already bound to a channel")

// Binding is the transport side of the channel crosslink: a settable
// owner slot guarded by a mutex, read by the dispatch context to route
// events and cleared when the channel is closed.
type Binding struct {
	mu    sync.Mutex
	loop  *Loop
	owner channel
	role  Role
}

// ChannelBinding satisfies the Transport interface for embedders.
func (b *Binding) ChannelBinding() *Binding { return b }

// Role reports which role the bound channel plays, or RoleNone when the
// transport is unbound.
func (b *Binding) Role() Role {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.role
}

func (b *Binding) bind(l *Loop, ch channel, r Role) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != nil {
		return errAlreadyBound
	}
	b.loop = l
	b.owner = ch
	b.role = r
	return nil
}

func (b *Binding) unbind() {
	b.mu.Lock()
	b.loop = nil
	b.owner = nil
	b.role = RoleNone
	b.mu.Unlock()
}

// PostReceived notifies the bound channel that a received packet is
// pending. Without a bound channel the notification is dropped.
func (b *Binding) PostReceived() {
	b.postEvent(eventPDUReceived)
}

// PostTransmitted notifies the bound channel that packet transmission
// completed.
func (b *Binding) PostTransmitted() {
	b.postEvent(eventPDUTransmitted)
}

func (b *Binding) postEvent(kind eventKind) {
	b.mu.Lock()
	l, ch := b.loop, b.owner
	b.mu.Unlock()
	if l == nil || ch == nil {
		return
	}
	l.post(event{kind: kind, target: ch})
}
