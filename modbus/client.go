// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-stack/internal/osal"
	"github.com/ffutop/modbus-stack/internal/pool"
)

const (
	// DefaultResponseTimeout bounds the wait for a unicast response.
	DefaultResponseTimeout = 1 * time.Second
	// DefaultTurnaroundDelay is the pause after a broadcast request that
	// lets all units finish processing before the bus is used again.
	DefaultTurnaroundDelay = 100 * time.Millisecond
)

var clientPool = pool.New[Client](0)

// Client is a master-role channel: it issues function-coded requests to
// unit devices over its transport and decodes the matching responses.
// A client is bound to exactly one transport for its whole lifetime.
//
// Operations are serialized per channel; at most one request is in
// flight at any time.
type Client struct {
	// opMu serializes the public operations.
	opMu sync.Mutex
	// mu guards the lifecycle state below against the dispatch context.
	mu     sync.Mutex
	closed bool
	tp     Transport
	loop   *Loop
	sem    *osal.Semaphore

	responseTimeout time.Duration
	turnaroundDelay time.Duration
}

// NewClient allocates a client channel bound to tp. Events for the
// channel are dispatched by loop, which the caller runs. A zero
// responseTimeout or turnaroundDelay selects the default. Nothing is
// transmitted until the first operation.
func NewClient(loop *Loop, tp Transport, responseTimeout, turnaroundDelay time.Duration) (*Client, error) {
	if loop == nil {
		return nil, fmt.Errorf("modbus: nil event loop")
	}
	if tp == nil || tp.ChannelBinding() == nil {
		return nil, fmt.Errorf("modbus: nil transport")
	}
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	if turnaroundDelay <= 0 {
		turnaroundDelay = DefaultTurnaroundDelay
	}

	c, err := clientPool.Get()
	if err != nil {
		return nil, fmt.Errorf("modbus: allocate client channel: %w", err)
	}
	c.mu.Lock()
	c.closed = false
	c.tp = tp
	c.loop = loop
	c.sem = osal.NewSemaphore()
	c.responseTimeout = responseTimeout
	c.turnaroundDelay = turnaroundDelay
	c.mu.Unlock()

	if err := tp.ChannelBinding().bind(loop, c, RoleClient); err != nil {
		c.mu.Lock()
		c.closed = true
		c.tp = nil
		c.loop = nil
		c.sem = nil
		c.mu.Unlock()
		clientPool.Put(c)
		return nil, err
	}
	return c, nil
}

// Close unbinds the channel from its transport and releases it. The
// handle must not be used afterwards.
func (c *Client) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		slog.Error("modbus: close of closed client channel")
		return ErrClosed
	}
	c.closed = true
	tp := c.tp
	c.mu.Unlock()

	// Clearing the crosslink first stops the dispatch context from
	// routing further events at this channel.
	tp.ChannelBinding().unbind()

	c.mu.Lock()
	c.tp = nil
	c.loop = nil
	c.sem = nil
	c.mu.Unlock()

	clientPool.Put(c)
	return nil
}

// processEvent runs in the dispatch context. It never blocks.
func (c *Client) processEvent(ev event) {
	switch ev.kind {
	case eventPDUReceived:
		c.mu.Lock()
		sem := c.sem
		c.mu.Unlock()
		if sem == nil {
			// Late event for a channel already torn down.
			return
		}
		sem.Give()
	case eventPDUTransmitted:
		// Nothing to do yet.
	default:
		slog.Error("modbus: client channel received unexpected event", "kind", ev.kind)
	}
}

// transceive submits the prepared request and waits for the response
// signal. A broadcast expects silence: the turnaround delay elapsing is
// its success condition, while a unicast timing out is a failure.
func (c *Client) transceive(tp Transport, sem *osal.Semaphore, broadcast bool) error {
	wait := c.responseTimeout
	if broadcast {
		wait = c.turnaroundDelay
	}
	// A response that arrived after its request timed out must not
	// satisfy this request: release the stale packet and consume the
	// stale signal before transmitting.
	if rx := tp.RxPacket(); rx != nil {
		tp.ReceptionDone()
	}
	sem.Take(0)
	if err := tp.Transmit(); err != nil {
		return fmt.Errorf("modbus: transmit request: %w", err)
	}
	if sem.Take(wait) {
		return nil
	}
	if broadcast {
		return nil
	}
	return ErrTimeout
}

// begin validates the channel state shared by every operation.
func (c *Client) begin() (Transport, *osal.Semaphore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		slog.Error("modbus: operation on closed client channel")
		return nil, nil, ErrClosed
	}
	return c.tp, c.sem, nil
}

func checkQuantity(op string, node byte, num, max int) error {
	if node > MaxNodeAddress || num < 1 || num > max {
		slog.Error("modbus: invalid request parameters", "op", op, "node", node, "count", num)
		return ErrInvalidRequest
	}
	return nil
}

// checkResponse rejects responses from the wrong unit and exception
// responses.
func checkResponse(rx *Packet, node, code byte) error {
	if rx.Node != node {
		return fmt.Errorf("%w: unit %d answered a request for unit %d", ErrInvalidResponse, rx.Node, node)
	}
	if rx.Code&ExceptionMask != 0 {
		if rx.DataLen < 1 {
			return fmt.Errorf("%w: truncated exception response", ErrInvalidResponse)
		}
		return &ModbusError{FunctionCode: rx.Code &^ ExceptionMask, ExceptionCode: rx.Data[0]}
	}
	if rx.Code != code {
		return fmt.Errorf("%w: function code %d, requested %d", ErrInvalidResponse, rx.Code, code)
	}
	return nil
}

// checkEcho validates the four-byte echo that write responses carry.
func checkEcho(rx *Packet, addr, value uint16) error {
	if rx.DataLen != 4 || getUint16(rx.Data[0:2]) != addr || getUint16(rx.Data[2:4]) != value {
		return fmt.Errorf("%w: write echo does not match request", ErrInvalidResponse)
	}
	return nil
}

// ReadCoils reads num coil states starting at addr from the given unit
// into coils, which must hold at least num elements.
func (c *Client) ReadCoils(node byte, addr, num uint16, coils []bool) error {
	return c.readBits(FuncCodeReadCoils, node, addr, num, coils)
}

// ReadDiscreteInputs reads num discrete input states starting at addr
// from the given unit into inputs, which must hold at least num
// elements.
func (c *Client) ReadDiscreteInputs(node byte, addr, num uint16, inputs []bool) error {
	return c.readBits(FuncCodeReadDiscreteInputs, node, addr, num, inputs)
}

func (c *Client) readBits(code, node byte, addr, num uint16, out []bool) error {
	if err := checkQuantity("read bits", node, int(num), maxReadBitsQuantity); err != nil {
		return err
	}
	if len(out) < int(num) {
		slog.Error("modbus: output buffer too small", "len", len(out), "count", num)
		return ErrInvalidRequest
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	tp, sem, err := c.begin()
	if err != nil {
		return err
	}

	tx := tp.TxPacket()
	if tx == nil {
		return ErrBusy
	}
	tx.Node = node
	tx.Code = code
	putUint16(tx.Data[0:2], addr)
	putUint16(tx.Data[2:4], num)
	tx.DataLen = 4

	broadcast := node == BroadcastNodeAddress
	if err := c.transceive(tp, sem, broadcast); err != nil {
		return err
	}
	if broadcast {
		return nil
	}

	rx := tp.RxPacket()
	if rx == nil {
		return fmt.Errorf("%w: no response packet", ErrInvalidResponse)
	}
	defer tp.ReceptionDone()

	if err := checkResponse(rx, node, code); err != nil {
		return err
	}
	byteCount := (int(num) + 7) / 8
	if int(rx.Data[0]) != byteCount || rx.DataLen != byteCount+1 {
		return fmt.Errorf("%w: byte count %d for %d bits", ErrInvalidResponse, rx.Data[0], num)
	}
	unpackBits(out[:num], rx.Data[1:1+byteCount])
	return nil
}

// ReadHoldingRegisters reads num holding registers starting at addr
// from the given unit into regs, which must hold at least num elements.
func (c *Client) ReadHoldingRegisters(node byte, addr, num uint16, regs []uint16) error {
	return c.readRegisters(FuncCodeReadHoldingRegisters, node, addr, num, regs)
}

// ReadInputRegisters reads num input registers starting at addr from
// the given unit into regs, which must hold at least num elements.
func (c *Client) ReadInputRegisters(node byte, addr, num uint16, regs []uint16) error {
	return c.readRegisters(FuncCodeReadInputRegisters, node, addr, num, regs)
}

func (c *Client) readRegisters(code, node byte, addr, num uint16, out []uint16) error {
	if err := checkQuantity("read registers", node, int(num), maxReadRegsQuantity); err != nil {
		return err
	}
	if len(out) < int(num) {
		slog.Error("modbus: output buffer too small", "len", len(out), "count", num)
		return ErrInvalidRequest
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	tp, sem, err := c.begin()
	if err != nil {
		return err
	}

	tx := tp.TxPacket()
	if tx == nil {
		return ErrBusy
	}
	tx.Node = node
	tx.Code = code
	putUint16(tx.Data[0:2], addr)
	putUint16(tx.Data[2:4], num)
	tx.DataLen = 4

	broadcast := node == BroadcastNodeAddress
	if err := c.transceive(tp, sem, broadcast); err != nil {
		return err
	}
	if broadcast {
		return nil
	}

	rx := tp.RxPacket()
	if rx == nil {
		return fmt.Errorf("%w: no response packet", ErrInvalidResponse)
	}
	defer tp.ReceptionDone()

	if err := checkResponse(rx, node, code); err != nil {
		return err
	}
	byteCount := int(num) * 2
	if int(rx.Data[0]) != byteCount || rx.DataLen != byteCount+1 {
		return fmt.Errorf("%w: byte count %d for %d registers", ErrInvalidResponse, rx.Data[0], num)
	}
	for i := 0; i < int(num); i++ {
		out[i] = getUint16(rx.Data[1+2*i : 3+2*i])
	}
	return nil
}

// WriteCoils writes the coil states in coils to the given unit starting
// at addr.
func (c *Client) WriteCoils(node byte, addr uint16, coils []bool) error {
	num := len(coils)
	if err := checkQuantity("write coils", node, num, maxWriteBitsQuantity); err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	tp, sem, err := c.begin()
	if err != nil {
		return err
	}

	tx := tp.TxPacket()
	if tx == nil {
		return ErrBusy
	}
	byteCount := (num + 7) / 8
	tx.Node = node
	tx.Code = FuncCodeWriteMultipleCoils
	putUint16(tx.Data[0:2], addr)
	putUint16(tx.Data[2:4], uint16(num))
	tx.Data[4] = byte(byteCount)
	packBits(tx.Data[5:5+byteCount], coils)
	tx.DataLen = 5 + byteCount

	broadcast := node == BroadcastNodeAddress
	if err := c.transceive(tp, sem, broadcast); err != nil {
		return err
	}
	if broadcast {
		return nil
	}

	rx := tp.RxPacket()
	if rx == nil {
		return fmt.Errorf("%w: no response packet", ErrInvalidResponse)
	}
	defer tp.ReceptionDone()

	if err := checkResponse(rx, node, FuncCodeWriteMultipleCoils); err != nil {
		return err
	}
	return checkEcho(rx, addr, uint16(num))
}

// WriteHoldingRegisters writes the register values in regs to the given
// unit starting at addr.
func (c *Client) WriteHoldingRegisters(node byte, addr uint16, regs []uint16) error {
	num := len(regs)
	if err := checkQuantity("write registers", node, num, maxWriteRegsQuantity); err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	tp, sem, err := c.begin()
	if err != nil {
		return err
	}

	tx := tp.TxPacket()
	if tx == nil {
		return ErrBusy
	}
	byteCount := num * 2
	tx.Node = node
	tx.Code = FuncCodeWriteMultipleRegisters
	putUint16(tx.Data[0:2], addr)
	putUint16(tx.Data[2:4], uint16(num))
	tx.Data[4] = byte(byteCount)
	for i, v := range regs {
		putUint16(tx.Data[5+2*i:7+2*i], v)
	}
	tx.DataLen = 5 + byteCount

	broadcast := node == BroadcastNodeAddress
	if err := c.transceive(tp, sem, broadcast); err != nil {
		return err
	}
	if broadcast {
		return nil
	}

	rx := tp.RxPacket()
	if rx == nil {
		return fmt.Errorf("%w: no response packet", ErrInvalidResponse)
	}
	defer tp.ReceptionDone()

	if err := checkResponse(rx, node, FuncCodeWriteMultipleRegisters); err != nil {
		return err
	}
	return checkEcho(rx, addr, uint16(num))
}

// WriteSingleCoil switches one coil of the given unit on or off.
func (c *Client) WriteSingleCoil(node byte, addr uint16, on bool) error {
	var value uint16
	if on {
		value = 0xFF00
	}
	return c.writeSingle("write single coil", FuncCodeWriteSingleCoil, node, addr, value)
}

// WriteSingleRegister writes one holding register of the given unit.
func (c *Client) WriteSingleRegister(node byte, addr, value uint16) error {
	return c.writeSingle("write single register", FuncCodeWriteSingleRegister, node, addr, value)
}

func (c *Client) writeSingle(op string, code, node byte, addr, value uint16) error {
	if node > MaxNodeAddress {
		slog.Error("modbus: invalid request parameters", "op", op, "node", node)
		return ErrInvalidRequest
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	tp, sem, err := c.begin()
	if err != nil {
		return err
	}

	tx := tp.TxPacket()
	if tx == nil {
		return ErrBusy
	}
	tx.Node = node
	tx.Code = code
	putUint16(tx.Data[0:2], addr)
	putUint16(tx.Data[2:4], value)
	tx.DataLen = 4

	broadcast := node == BroadcastNodeAddress
	if err := c.transceive(tp, sem, broadcast); err != nil {
		return err
	}
	if broadcast {
		return nil
	}

	rx := tp.RxPacket()
	if rx == nil {
		return fmt.Errorf("%w: no response packet", ErrInvalidResponse)
	}
	defer tp.ReceptionDone()

	if err := checkResponse(rx, node, code); err != nil {
		return err
	}
	return checkEcho(rx, addr, value)
}
