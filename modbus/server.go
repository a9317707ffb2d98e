// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-stack/internal/pool"
)

var serverPool = pool.New[Server](0)

// serverCallbacks holds the data access hooks a server channel consults
// per element. A nil hook makes the corresponding function codes answer
// with an illegal-function exception.
type serverCallbacks struct {
	readCoil     func(addr uint16) (bool, error)
	readDiscrete func(addr uint16) (bool, error)
	readInput    func(addr uint16) (uint16, error)
	readHolding  func(addr uint16) (uint16, error)
	writeCoil    func(addr uint16, value bool) error
	writeHolding func(addr uint16, value uint16) error
}

// Server is a server-role channel: it answers requests arriving on its
// transport by consulting per-element data callbacks. A server is bound
// to exactly one transport for its whole lifetime.
type Server struct {
	mu     sync.Mutex
	closed bool
	tp     Transport
	loop   *Loop
	cb     serverCallbacks
}

// NewServer allocates a server channel bound to tp. Events for the
// channel are dispatched by loop, which the caller runs. The channel
// answers every supported function code with an exception until data
// callbacks are installed.
func NewServer(loop *Loop, tp Transport) (*Server, error) {
	if loop == nil {
		return nil, fmt.Errorf("modbus: nil event loop")
	}
	if tp == nil || tp.ChannelBinding() == nil {
		return nil, fmt.Errorf("modbus: nil transport")
	}

	s, err := serverPool.Get()
	if err != nil {
		return nil, fmt.Errorf("modbus: allocate server channel: %w", err)
	}
	s.mu.Lock()
	s.closed = false
	s.tp = tp
	s.loop = loop
	s.cb = serverCallbacks{}
	s.mu.Unlock()

	if err := tp.ChannelBinding().bind(loop, s, RoleServer); err != nil {
		s.mu.Lock()
		s.closed = true
		s.tp = nil
		s.loop = nil
		s.mu.Unlock()
		serverPool.Put(s)
		return nil, err
	}
	return s, nil
}

// Close unbinds the channel from its transport and releases it. The
// handle must not be used afterwards.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Error("modbus: close of closed server channel")
		return ErrClosed
	}
	s.closed = true
	tp := s.tp
	s.mu.Unlock()

	tp.ChannelBinding().unbind()

	s.mu.Lock()
	s.tp = nil
	s.loop = nil
	s.cb = serverCallbacks{}
	s.mu.Unlock()

	serverPool.Put(s)
	return nil
}

// SetReadCoil installs the coil read hook (function code 1).
func (s *Server) SetReadCoil(fn func(addr uint16) (bool, error)) {
	s.mu.Lock()
	s.cb.readCoil = fn
	s.mu.Unlock()
}

// SetReadDiscreteInput installs the discrete input read hook (function
// code 2).
func (s *Server) SetReadDiscreteInput(fn func(addr uint16) (bool, error)) {
	s.mu.Lock()
	s.cb.readDiscrete = fn
	s.mu.Unlock()
}

// SetReadHoldingRegister installs the holding register read hook
// (function codes 3, 6, 16).
func (s *Server) SetReadHoldingRegister(fn func(addr uint16) (uint16, error)) {
	s.mu.Lock()
	s.cb.readHolding = fn
	s.mu.Unlock()
}

// SetReadInputRegister installs the input register read hook (function
// code 4).
func (s *Server) SetReadInputRegister(fn func(addr uint16) (uint16, error)) {
	s.mu.Lock()
	s.cb.readInput = fn
	s.mu.Unlock()
}

// SetWriteCoil installs the coil write hook (function codes 5, 15).
func (s *Server) SetWriteCoil(fn func(addr uint16, value bool) error) {
	s.mu.Lock()
	s.cb.writeCoil = fn
	s.mu.Unlock()
}

// SetWriteHoldingRegister installs the holding register write hook
// (function codes 6, 16).
func (s *Server) SetWriteHoldingRegister(fn func(addr uint16, value uint16) error) {
	s.mu.Lock()
	s.cb.writeHolding = fn
	s.mu.Unlock()
}

// processEvent runs in the dispatch context.
func (s *Server) processEvent(ev event) {
	switch ev.kind {
	case eventPDUReceived:
		s.handleRequest()
	case eventPDUTransmitted:
		// Nothing to do.
	default:
		slog.Error("modbus: server channel received unexpected event", "kind", ev.kind)
	}
}

func (s *Server) handleRequest() {
	s.mu.Lock()
	closed := s.closed
	tp := s.tp
	cb := s.cb
	s.mu.Unlock()
	if closed || tp == nil {
		return
	}

	rx := tp.RxPacket()
	if rx == nil {
		slog.Error("modbus: request event without a received packet")
		return
	}

	tx := tp.TxPacket()
	if tx == nil {
		// Cannot respond; drop the request but free the buffer.
		slog.Error("modbus: no response buffer for request", "node", rx.Node, "code", rx.Code)
		tp.ReceptionDone()
		return
	}

	node := rx.Node
	broadcast := node == BroadcastNodeAddress
	respond := execute(&cb, rx, tx, broadcast)

	// Release the request before submitting the response.
	tp.ReceptionDone()

	if !respond || broadcast {
		return
	}
	tx.Node = node
	if err := tp.Transmit(); err != nil {
		slog.Error("modbus: transmit response", "node", node, "code", tx.Code, "err", err)
	}
}

// execute fills tx with the response to rx and reports whether there is
// anything to send. Broadcast requests execute writes only.
func execute(cb *serverCallbacks, rx, tx *Packet, broadcast bool) bool {
	tx.Code = rx.Code
	switch rx.Code {
	case FuncCodeReadCoils:
		if broadcast {
			return false
		}
		serveReadBits(cb.readCoil, rx, tx)
	case FuncCodeReadDiscreteInputs:
		if broadcast {
			return false
		}
		serveReadBits(cb.readDiscrete, rx, tx)
	case FuncCodeReadHoldingRegisters:
		if broadcast {
			return false
		}
		serveReadRegisters(cb.readHolding, rx, tx)
	case FuncCodeReadInputRegisters:
		if broadcast {
			return false
		}
		serveReadRegisters(cb.readInput, rx, tx)
	case FuncCodeWriteSingleCoil:
		serveWriteSingleCoil(cb.writeCoil, rx, tx)
	case FuncCodeWriteSingleRegister:
		serveWriteSingleRegister(cb.writeHolding, rx, tx)
	case FuncCodeWriteMultipleCoils:
		serveWriteMultipleCoils(cb.writeCoil, rx, tx)
	case FuncCodeWriteMultipleRegisters:
		serveWriteMultipleRegisters(cb.writeHolding, rx, tx)
	default:
		exception(tx, ExceptionCodeIllegalFunction)
	}
	return true
}

func exception(tx *Packet, code byte) {
	tx.Code |= ExceptionMask
	tx.Data[0] = code
	tx.DataLen = 1
}

// callbackException maps a callback error to the exception code sent on
// the wire.
func callbackException(tx *Packet, err error) {
	switch {
	case errors.Is(err, ErrIllegalDataAddress):
		exception(tx, ExceptionCodeIllegalDataAddress)
	case errors.Is(err, ErrIllegalDataValue):
		exception(tx, ExceptionCodeIllegalDataValue)
	default:
		exception(tx, ExceptionCodeServerDeviceFailure)
	}
}

func requestRange(rx *Packet) (addr, num uint16, ok bool) {
	if rx.DataLen < 4 {
		return 0, 0, false
	}
	return getUint16(rx.Data[0:2]), getUint16(rx.Data[2:4]), true
}

// spansAddressSpace reports whether addr..addr+num-1 stays within the
// 16-bit address space.
func spansAddressSpace(addr, num uint16) bool {
	return int(addr)+int(num)-1 <= 0xFFFF
}

func serveReadBits(read func(uint16) (bool, error), rx, tx *Packet) {
	if read == nil {
		exception(tx, ExceptionCodeIllegalFunction)
		return
	}
	addr, num, ok := requestRange(rx)
	if !ok || rx.DataLen != 4 || num < 1 || num > maxReadBitsQuantity {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	if !spansAddressSpace(addr, num) {
		exception(tx, ExceptionCodeIllegalDataAddress)
		return
	}

	byteCount := (int(num) + 7) / 8
	for i := 1; i <= byteCount; i++ {
		tx.Data[i] = 0
	}
	for i := 0; i < int(num); i++ {
		on, err := read(addr + uint16(i))
		if err != nil {
			callbackException(tx, err)
			return
		}
		if on {
			tx.Data[1+i/8] |= 1 << uint(i%8)
		}
	}
	tx.Data[0] = byte(byteCount)
	tx.DataLen = byteCount + 1
}

func serveReadRegisters(read func(uint16) (uint16, error), rx, tx *Packet) {
	if read == nil {
		exception(tx, ExceptionCodeIllegalFunction)
		return
	}
	addr, num, ok := requestRange(rx)
	if !ok || rx.DataLen != 4 || num < 1 || num > maxReadRegsQuantity {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	if !spansAddressSpace(addr, num) {
		exception(tx, ExceptionCodeIllegalDataAddress)
		return
	}

	for i := 0; i < int(num); i++ {
		v, err := read(addr + uint16(i))
		if err != nil {
			callbackException(tx, err)
			return
		}
		putUint16(tx.Data[1+2*i:3+2*i], v)
	}
	tx.Data[0] = byte(2 * num)
	tx.DataLen = int(2*num) + 1
}

func serveWriteSingleCoil(write func(uint16, bool) error, rx, tx *Packet) {
	if write == nil {
		exception(tx, ExceptionCodeIllegalFunction)
		return
	}
	addr, value, ok := requestRange(rx)
	if !ok || rx.DataLen != 4 || (value != 0x0000 && value != 0xFF00) {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	if err := write(addr, value == 0xFF00); err != nil {
		callbackException(tx, err)
		return
	}
	echo(rx, tx)
}

func serveWriteSingleRegister(write func(uint16, uint16) error, rx, tx *Packet) {
	if write == nil {
		exception(tx, ExceptionCodeIllegalFunction)
		return
	}
	addr, value, ok := requestRange(rx)
	if !ok || rx.DataLen != 4 {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	if err := write(addr, value); err != nil {
		callbackException(tx, err)
		return
	}
	echo(rx, tx)
}

func serveWriteMultipleCoils(write func(uint16, bool) error, rx, tx *Packet) {
	if write == nil {
		exception(tx, ExceptionCodeIllegalFunction)
		return
	}
	addr, num, ok := requestRange(rx)
	if !ok || num < 1 || num > maxWriteBitsQuantity {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	byteCount := (int(num) + 7) / 8
	if rx.DataLen != 5+byteCount || int(rx.Data[4]) != byteCount {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	if !spansAddressSpace(addr, num) {
		exception(tx, ExceptionCodeIllegalDataAddress)
		return
	}

	for i := 0; i < int(num); i++ {
		on := rx.Data[5+i/8]&(1<<uint(i%8)) != 0
		if err := write(addr+uint16(i), on); err != nil {
			callbackException(tx, err)
			return
		}
	}
	echo(rx, tx)
}

func serveWriteMultipleRegisters(write func(uint16, uint16) error, rx, tx *Packet) {
	if write == nil {
		exception(tx, ExceptionCodeIllegalFunction)
		return
	}
	addr, num, ok := requestRange(rx)
	if !ok || num < 1 || num > maxWriteRegsQuantity {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	byteCount := int(num) * 2
	if rx.DataLen != 5+byteCount || int(rx.Data[4]) != byteCount {
		exception(tx, ExceptionCodeIllegalDataValue)
		return
	}
	if !spansAddressSpace(addr, num) {
		exception(tx, ExceptionCodeIllegalDataAddress)
		return
	}

	for i := 0; i < int(num); i++ {
		if err := write(addr+uint16(i), getUint16(rx.Data[5+2*i:7+2*i])); err != nil {
			callbackException(tx, err)
			return
		}
	}
	echo(rx, tx)
}

// echo answers a write with the request's first four data bytes: the
// address and value for single writes, the address and count for
// multiple writes.
func echo(rx, tx *Packet) {
	copy(tx.Data[0:4], rx.Data[0:4])
	tx.DataLen = 4
}
