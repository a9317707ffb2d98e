// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-stack/internal/config"
	"github.com/ffutop/modbus-stack/modbus"
	rtupacket "github.com/ffutop/modbus-stack/modbus/rtu"
)

// Master is the client-side packet transport for Modbus RTU. The serial
// bus is half duplex; after each request a reader task collects the one
// response frame, honoring the inter-frame delay of the configured baud
// rate.
type Master struct {
	modbus.Binding
	serialPort

	cfg config.SerialConfig

	pktMu  sync.Mutex
	gen    int // Invalidates readers of abandoned requests
	txBusy bool
	rxHeld bool
	tx, rx modbus.Packet
}

// NewMaster allocates and initializes a RTU Master.
func NewMaster(cfg config.SerialConfig) *Master {
	m := &Master{cfg: cfg}
	m.serialPort.Config = serialConfig(cfg)
	m.IdleTimeout = serialIdleTimeout
	return m
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

// Transmit frames the prepared request, writes it to the bus and, for a
// unicast request, starts the response reader.
func (m *Master) Transmit() error {
	m.serialPort.mu.Lock()
	defer m.serialPort.mu.Unlock()

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

	if err := m.connect(context.Background()); err != nil {
		return err
	}
	m.lastActivity = time.Now()
	m.startCloseTimer()

	slog.Debug("send to modbus unit", "request", hex.EncodeToString(frame))
	if _, err := m.port.Write(frame); err != nil {
		return fmt.Errorf("modbus: failed to write request: %w", err)
	}

	if node != modbus.BroadcastNodeAddress {
		delay := m.calculateDelay(len(frame) + rtupacket.CalculateResponseLength(frame))
		deadline := time.Now().Add(m.cfg.Timeout)
		go m.readResponse(m.port, node, code, gen, delay, deadline)
	}
	m.PostTransmitted()
	return nil
}

// readResponse collects one response frame. A late frame whose request
// already gave up is discarded by the generation check.
func (m *Master) readResponse(port io.ReadWriteCloser, node, code byte, gen int, delay time.Duration, deadline time.Time) {
	time.Sleep(delay)

	raw, err := rtupacket.ReadResponse(node, code, port, deadline)
	if err != nil {
		slog.Debug("rtu response read failed", "node", node, "err", err)
		return
	}
	slog.Debug("recv from modbus unit", "response", hex.EncodeToString(raw))

	var pkt modbus.Packet
	if err := rtupacket.DecodeFrame(raw, &pkt); err != nil {
		slog.Debug("rtu response frame invalid", "node", node, "err", err)
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

// calculateDelay calculates the needed delay to separate frames.
func (m *Master) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if m.cfg.BaudRate <= 0 || m.cfg.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / m.cfg.BaudRate
		frameDelay = 35000000 / m.cfg.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
