// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/modbus-stack/modbus"
	rtupacket "github.com/ffutop/modbus-stack/modbus/rtu"
)

const (
	tcpTimeout = 10 * time.Second
)

// Master is the client-side packet transport for RTU frames carried
// over a TCP stream. It keeps one connection open; a framing error
// drops the connection to resynchronize the stream.
type Master struct {
	modbus.Binding

	Address string
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn

	pktMu  sync.Mutex
	gen    int
	txBusy bool
	rxHeld bool
	tx, rx modbus.Packet
}

// NewMaster allocates and initializes a RTU over TCP Master.
func NewMaster(address string) *Master {
	return &Master{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Connect opens the connection. The first Transmit connects implicitly
// if Connect was not called.
func (m *Master) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect()
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (m *Master) connect() error {
	if m.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", m.Address, m.Timeout)
	if err != nil {
		return fmt.Errorf("modbus: failed to connect to %s: %w", m.Address, err)
	}
	m.conn = conn
	return nil
}

// Close closes the connection and resets the state.
func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.close()
	return nil
}

// close closes the connection. Caller must hold the mutex.
func (m *Master) close() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// TxPacket grants the request buffer, or nil while a request is being
// prepared or sent.
func (m *Master) TxPacket() *modbus.Packet {
	m.pktMu.Lock()
	defer m.pktMu.Unlock()
	if m.txBusy {
		return nil
	}
	m.txBusy = true
	return &m.tx
}

// RxPacket returns the pending response packet, or nil when none is held.
func (m *Master) RxPacket() *modbus.Packet {
	m.pktMu.Lock()
	defer m.pktMu.Unlock()
	if !m.rxHeld {
		return nil
	}
	return &m.rx
}

// ReceptionDone releases the response buffer for the next frame.
func (m *Master) ReceptionDone() {
	m.pktMu.Lock()
	m.rxHeld = false
	m.pktMu.Unlock()
}

// Transmit frames the prepared request, writes it out and, for a
// unicast request, starts the response reader.
func (m *Master) Transmit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pktMu.Lock()
	frame, err := rtupacket.EncodeFrame(&m.tx)
	node, code := m.tx.Node, m.tx.Code
	m.txBusy = false
	m.gen++
	gen := m.gen
	m.pktMu.Unlock()
	if err != nil {
		return err
	}

	if err := m.connect(); err != nil {
		return err
	}
	conn := m.conn

	if err := conn.SetDeadline(time.Now().Add(m.Timeout)); err != nil {
		m.close()
		return err
	}
	slog.Debug("send to modbus unit", "request", hex.EncodeToString(frame))
	if _, err := conn.Write(frame); err != nil {
		// Force a reconnect next time.
		m.close()
		return fmt.Errorf("failed to write to connection: %w", err)
	}

	if node != modbus.BroadcastNodeAddress {
		go m.readResponse(conn, node, code, gen, time.Now().Add(m.Timeout))
	}
	m.PostTransmitted()
	return nil
}

// readResponse collects one response frame from the stream. A read or
// framing failure drops the connection to reset the stream state.
func (m *Master) readResponse(conn net.Conn, node, code byte, gen int, deadline time.Time) {
	raw, err := rtupacket.ReadResponse(node, code, conn, deadline)
	if err != nil {
		slog.Debug("rtu over tcp response read failed", "node", node, "err", err)
		m.mu.Lock()
		if m.conn == conn {
			m.close()
		}
		m.mu.Unlock()
		return
	}
	slog.Debug("recv from modbus unit", "response", hex.EncodeToString(raw))

	var pkt modbus.Packet
	if err := rtupacket.DecodeFrame(raw, &pkt); err != nil {
		slog.Debug("rtu over tcp response frame invalid", "node", node, "err", err)
		return
	}

	m.pktMu.Lock()
	if gen != m.gen || m.rxHeld {
		m.pktMu.Unlock()
		return
	}
	m.rx = pkt
	m.rxHeld = true
	m.pktMu.Unlock()

	m.PostReceived()
}
