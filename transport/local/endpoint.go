// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package local provides an in-process transport: two crosslinked
// endpoints that hand packets to each other directly, with no framing
// and no wire. It serves loopback setups and tests where a client and
// a server channel live in the same process.
package local

import (
	"sync"

	"github.com/ffutop/modbus-stack/modbus"
)

// Endpoint is one end of an in-process link. Transmitting on one
// endpoint delivers the packet to its peer; a packet arriving while the
// peer still holds the previous one is dropped, like a frame lost on a
// busy bus.
type Endpoint struct {
	modbus.Binding

	peer *Endpoint

	mu     sync.Mutex
	txBusy bool
	rxHeld bool
	tx, rx modbus.Packet
}

var _ modbus.Transport = (*Endpoint)(nil)

// Pair returns two crosslinked endpoints. Bind one to a client channel
// and the other to a server channel.
func Pair() (*Endpoint, *Endpoint) {
	a := &Endpoint{}
	b := &Endpoint{}
	a.peer = b
	b.peer = a
	return a, b
}

// TxPacket grants the outgoing buffer, or nil while one is in use.
func (e *Endpoint) TxPacket() *modbus.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.txBusy {
		return nil
	}
	e.txBusy = true
	return &e.tx
}

// RxPacket returns the pending received packet, or nil when none is held.
func (e *Endpoint) RxPacket() *modbus.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rxHeld {
		return nil
	}
	return &e.rx
}

// ReceptionDone releases the received packet for the next delivery.
// A broadcast is never answered, so the response buffer granted for it
// is released here as well.
func (e *Endpoint) ReceptionDone() {
	e.mu.Lock()
	if e.rx.Node == modbus.BroadcastNodeAddress {
		e.txBusy = false
	}
	e.rxHeld = false
	e.mu.Unlock()
}

// Transmit hands the prepared packet to the peer endpoint. A peer
// without a bound channel behaves like a wire nobody listens on: the
// packet is dropped without an error.
func (e *Endpoint) Transmit() error {
	e.mu.Lock()
	pkt := e.tx
	e.txBusy = false
	e.mu.Unlock()

	if e.peer.Role() == modbus.RoleNone {
		e.PostTransmitted()
		return nil
	}

	e.peer.mu.Lock()
	if e.peer.rxHeld {
		e.peer.mu.Unlock()
		e.PostTransmitted()
		return nil
	}
	e.peer.rx = pkt
	e.peer.rxHeld = true
	e.peer.mu.Unlock()

	e.PostTransmitted()
	e.peer.PostReceived()
	return nil
}
