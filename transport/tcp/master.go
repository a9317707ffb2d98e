// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-stack/modbus"
)

const (
	tcpTimeout = 10 * time.Second
)

// Master is the client-side packet transport for Modbus TCP. It keeps
// one connection to the remote unit open and matches responses to
// requests by transaction identifier; frames with a stale identifier
// are discarded.
type Master struct {
	modbus.Binding

	Address string
	Timeout time.Duration

	transactionID uint32 // Atomic counter

	mu      sync.Mutex
	conn    net.Conn
	pending uint16 // Transaction id the reader is waiting for
	await   bool
	txBusy  bool
	rxHeld  bool
	tx, rx  modbus.Packet
}

// NewMaster allocates and initializes a TCP Master.
func NewMaster(address string) *Master {
	return &Master{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Connect opens the connection and starts the response reader. The
// first Transmit connects implicitly if Connect was not called.
func (m *Master) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect(ctx)
}

// connect dials if there is no live connection. Caller must hold the mutex.
func (m *Master) connect(ctx context.Context) error {
	if m.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: m.Timeout}
	conn, err := d.DialContext(ctx, "tcp", m.Address)
	if err != nil {
		return fmt.Errorf("modbus: failed to connect to %s: %w", m.Address, err)
	}
	m.conn = conn
	go m.readLoop(conn)
	return nil
}

// Close drops the connection. The reader exits on the closed socket.
func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

// TxPacket grants the request buffer, or nil while a request is being
// prepared or sent.
func (m *Master) TxPacket() *modbus.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txBusy {
		return nil
	}
	m.txBusy = true
	return &m.tx
}

// RxPacket returns the pending response packet, or nil when none is held.
func (m *Master) RxPacket() *modbus.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rxHeld {
		return nil
	}
	return &m.rx
}

// ReceptionDone releases the response buffer for the next frame.
func (m *Master) ReceptionDone() {
	m.mu.Lock()
	m.rxHeld = false
	m.mu.Unlock()
}

// Transmit frames the prepared request and writes it out. A failed
// write drops the connection so the next request reconnects.
func (m *Master) Transmit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txBusy = false

	if err := m.connect(context.Background()); err != nil {
		return err
	}

	tid := uint16(atomic.AddUint32(&m.transactionID, 1))
	frame := encodeFrame(tid, &m.tx)

	slog.Debug("send to modbus tcp unit", "request", hex.EncodeToString(frame))
	if err := m.conn.SetWriteDeadline(time.Now().Add(m.Timeout)); err != nil {
		return err
	}
	if _, err := m.conn.Write(frame); err != nil {
		m.conn.Close()
		m.conn = nil
		return fmt.Errorf("modbus: failed to write request: %w", err)
	}

	if m.tx.Node != modbus.BroadcastNodeAddress {
		m.pending = tid
		m.await = true
	}
	m.PostTransmitted()
	return nil
}

// readLoop consumes response frames from one connection until it dies.
func (m *Master) readLoop(conn net.Conn) {
	var pkt modbus.Packet
	for {
		tid, err := readFrame(conn, &pkt)
		if err != nil {
			if err != io.EOF {
				slog.Debug("modbus tcp connection read failed", "addr", m.Address, "err", err)
			}
			m.mu.Lock()
			if m.conn == conn {
				m.conn.Close()
				m.conn = nil
			}
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		if !m.await || tid != m.pending || m.rxHeld {
			// Late answer to a request that already timed out.
			m.mu.Unlock()
			slog.Debug("discarding stale modbus tcp frame", "tid", tid)
			continue
		}
		m.rx = pkt
		m.rxHeld = true
		m.await = false
		m.mu.Unlock()

		m.PostReceived()
	}
}
