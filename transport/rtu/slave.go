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

	"github.com/ffutop/modbus-stack/internal/config"
	"github.com/ffutop/modbus-stack/modbus"
	rtupacket "github.com/ffutop/modbus-stack/modbus/rtu"
	"github.com/grid-x/serial"
)

// Slave is the server-side packet transport for Modbus RTU. It scans
// the serial bus for request frames addressed to its unit addresses and
// forwards them one at a time to the bound server channel.
type Slave struct {
	modbus.Binding

	cfg   config.SerialConfig
	nodes map[byte]struct{}

	mu     sync.Mutex
	port   io.ReadWriteCloser
	txBusy bool
	rxHeld bool
	tx, rx modbus.Packet

	done chan struct{}
}

// NewSlave allocates and initializes a RTU Slave answering for the
// given unit addresses. An empty nodes slice accepts every address.
func NewSlave(cfg config.SerialConfig, nodes []byte) *Slave {
	s := &Slave{
		cfg:   cfg,
		nodes: make(map[byte]struct{}, len(nodes)),
		done:  make(chan struct{}, 1),
	}
	for _, n := range nodes {
		s.nodes[n] = struct{}{}
	}
	return s
}

func (s *Slave) accepts(node byte) bool {
	if node == modbus.BroadcastNodeAddress || len(s.nodes) == 0 {
		return true
	}
	_, ok := s.nodes[node]
	return ok
}

// Serve opens the serial port and scans for request frames until ctx is
// done.
func (s *Slave) Serve(ctx context.Context) error {
	spConfig := serialConfig(s.cfg)
	port, err := serial.Open(&spConfig)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.cfg.Device, err)
	}
	defer port.Close()
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	slog.Info("Modbus RTU slave listening", "device", s.cfg.Device)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	return s.scanLoop(ctx, port)
}

// Close closes the serial port; the scan loop exits on the dead port.
func (s *Slave) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}

// scanLoop reads frames off the bus. Garbage and frames for foreign
// units are skipped without a response.
func (s *Slave) scanLoop(ctx context.Context, port io.ReadWriteCloser) error {
	var pkt modbus.Packet
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := rtupacket.ReadRequest(port, &pkt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if !s.accepts(pkt.Node) {
			continue
		}
		if s.Role() == modbus.RoleNone {
			slog.Debug("dropping request, no channel bound", "node", pkt.Node)
			continue
		}

		s.mu.Lock()
		select {
		case <-s.done:
		default:
		}
		s.rx = pkt
		s.rxHeld = true
		s.mu.Unlock()

		s.PostReceived()

		// The bus is half duplex: the next request is scanned only
		// after this cycle completed.
		select {
		case <-s.done:
		case <-ctx.Done():
			return nil
		}
	}
}

// TxPacket grants the response buffer, or nil while one is in use.
func (s *Slave) TxPacket() *modbus.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txBusy {
		return nil
	}
	s.txBusy = true
	return &s.tx
}

// RxPacket returns the pending request packet, or nil when none is held.
func (s *Slave) RxPacket() *modbus.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rxHeld {
		return nil
	}
	return &s.rx
}

// ReceptionDone releases the request buffer. A broadcast request gets
// no response, so its cycle completes here and a granted response
// buffer is taken back.
func (s *Slave) ReceptionDone() {
	s.mu.Lock()
	s.rxHeld = false
	broadcast := s.rx.Node == modbus.BroadcastNodeAddress
	if broadcast {
		s.txBusy = false
	}
	s.mu.Unlock()
	if broadcast {
		s.signalDone()
	}
}

// Transmit frames the prepared response and writes it to the bus.
func (s *Slave) Transmit() error {
	s.mu.Lock()
	frame, err := rtupacket.EncodeFrame(&s.tx)
	port := s.port
	s.txBusy = false
	s.mu.Unlock()

	if err != nil {
		s.signalDone()
		return err
	}
	if port == nil {
		s.signalDone()
		return fmt.Errorf("modbus: serial port not open")
	}

	slog.Debug("send to modbus master", "response", hex.EncodeToString(frame))
	_, err = port.Write(frame)
	s.signalDone()
	if err != nil {
		return fmt.Errorf("modbus: failed to write response: %w", err)
	}
	s.PostTransmitted()
	return nil
}

func (s *Slave) signalDone() {
	select {
	case s.done <- struct{}{}:
	default:
	}
}
