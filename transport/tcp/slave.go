// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/modbus-stack/modbus"
)

// Slave is the server-side packet transport for Modbus TCP. It accepts
// connections from external masters and forwards one request at a time
// to the bound server channel; requests arriving on other connections
// wait their turn.
type Slave struct {
	modbus.Binding

	Address string

	nodes map[byte]struct{}

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn // Connection owning the request in flight
	tid      uint16
	txBusy   bool
	rxHeld   bool
	tx, rx   modbus.Packet

	// slot serializes request cycles across connections; done signals
	// completion of the cycle in flight.
	slot chan struct{}
	done chan struct{}
}

// NewSlave allocates and initializes a TCP Slave answering for the
// given unit addresses. An empty nodes slice accepts every address.
func NewSlave(address string, nodes []byte) *Slave {
	s := &Slave{
		Address: address,
		nodes:   make(map[byte]struct{}, len(nodes)),
		slot:    make(chan struct{}, 1),
		done:    make(chan struct{}, 1),
	}
	for _, n := range nodes {
		s.nodes[n] = struct{}{}
	}
	return s
}

// accepts reports whether a request for the given unit address is ours
// to process. Broadcast frames always are.
func (s *Slave) accepts(node byte) bool {
	if node == modbus.BroadcastNodeAddress || len(s.nodes) == 0 {
		return true
	}
	_, ok := s.nodes[node]
	return ok
}

// Serve listens and accepts master connections until ctx is done.
func (s *Slave) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	slog.Info("Modbus TCP server listening", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// Close closes the listener. Established connections drain on their own.
func (s *Slave) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Slave) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	var pkt modbus.Packet
	for {
		tid, err := readFrame(conn, &pkt)
		if err != nil {
			if err == io.EOF {
				slog.Info("TCP client disconnected gracefully", "addr", conn.RemoteAddr())
			} else if ctx.Err() == nil {
				slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		// Not addressed to us: a Modbus slave stays silent.
		if !s.accepts(pkt.Node) {
			continue
		}
		if s.Role() == modbus.RoleNone {
			slog.Debug("dropping request, no channel bound", "node", pkt.Node)
			continue
		}

		// One request cycle at a time across all connections.
		select {
		case s.slot <- struct{}{}:
		case <-ctx.Done():
			return
		}

		s.mu.Lock()
		select {
		case <-s.done:
		default:
		}
		s.conn = conn
		s.tid = tid
		s.rx = pkt
		s.rxHeld = true
		s.mu.Unlock()

		s.PostReceived()

		select {
		case <-s.done:
		case <-ctx.Done():
			<-s.slot
			return
		}
		<-s.slot
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

// Transmit frames the prepared response and writes it to the
// connection the request came in on.
func (s *Slave) Transmit() error {
	s.mu.Lock()
	conn, tid := s.conn, s.tid
	frame := encodeFrame(tid, &s.tx)
	s.txBusy = false
	s.mu.Unlock()

	if conn == nil {
		s.signalDone()
		return fmt.Errorf("modbus: no connection for response")
	}
	conn.SetWriteDeadline(time.Now().Add(tcpTimeout))
	_, err := conn.Write(frame)
	s.signalDone()
	if err != nil {
		return fmt.Errorf("failed to write response to connection: %w", err)
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
