// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ffutop/modbus-stack/modbus"
)

// freeAddr grabs an ephemeral port for the slave to bind to.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// dialRetry connects to the slave once it is up.
func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Failed to connect to slave after retries, last error: %v", err)
	return nil
}

func mbapRequest(tid uint16, unit byte, pdu []byte) []byte {
	adu := make([]byte, 7+len(pdu))
	binary.BigEndian.PutUint16(adu[0:], tid)
	binary.BigEndian.PutUint16(adu[2:], 0)
	binary.BigEndian.PutUint16(adu[4:], uint16(1+len(pdu)))
	adu[6] = unit
	copy(adu[7:], pdu)
	return adu
}

func TestSlave_ServeAndRespond(t *testing.T) {
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	// 1. Slave transport + server channel with a register backing map
	slave := NewSlave(addr, []byte{1})
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	var mu sync.Mutex
	regs := map[uint16]uint16{0x0001: 0x1234}
	server.SetReadHoldingRegister(func(a uint16) (uint16, error) {
		mu.Lock()
		defer mu.Unlock()
		return regs[a], nil
	})
	server.SetWriteHoldingRegister(func(a uint16, v uint16) error {
		mu.Lock()
		defer mu.Unlock()
		regs[a] = v
		return nil
	})

	go slave.Serve(ctx)

	conn := dialRetry(t, addr)
	defer conn.Close()

	// 2. Read Holding Registers (0x03)
	if _, err := conn.Write(mbapRequest(123, 1, []byte{0x03, 0x00, 0x01, 0x00, 0x01})); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}

	respBuf := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	n, err := conn.Read(respBuf)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if n != 11 {
		t.Fatalf("Unexpected response length: %d", n)
	}
	if binary.BigEndian.Uint16(respBuf[0:]) != 123 {
		t.Errorf("Wrong TransID: %v", respBuf[:2])
	}
	if respBuf[7] != 0x03 || respBuf[8] != 0x02 {
		t.Errorf("Wrong response header: %02X %02X", respBuf[7], respBuf[8])
	}
	if binary.BigEndian.Uint16(respBuf[9:]) != 0x1234 {
		t.Errorf("Wrong register value: %04X", binary.BigEndian.Uint16(respBuf[9:]))
	}

	// 3. Write Single Register (0x06) echoes address and value
	if _, err := conn.Write(mbapRequest(124, 1, []byte{0x06, 0x00, 0x05, 0xBE, 0xEF})); err != nil {
		t.Fatalf("Failed to write request 2: %v", err)
	}
	n, err = conn.Read(respBuf)
	if err != nil {
		t.Fatalf("Failed to read response 2: %v", err)
	}
	if n != 12 || binary.BigEndian.Uint16(respBuf[0:]) != 124 || respBuf[7] != 0x06 {
		t.Fatalf("Unexpected echo response: % X", respBuf[:n])
	}
	mu.Lock()
	if regs[0x0005] != 0xBEEF {
		t.Errorf("Write did not reach the backing map: %04X", regs[0x0005])
	}
	mu.Unlock()
}

func TestSlave_IgnoresOtherUnits(t *testing.T) {
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	slave := NewSlave(addr, []byte{1})
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	server.SetReadHoldingRegister(func(a uint16) (uint16, error) { return 0, nil })

	go slave.Serve(ctx)

	conn := dialRetry(t, addr)
	defer conn.Close()

	// Unit 9 is not served; a Modbus slave stays silent.
	if _, err := conn.Write(mbapRequest(7, 9, []byte{0x03, 0x00, 0x00, 0x00, 0x01})); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Errorf("Expected silence for foreign unit, got %d bytes", n)
	}
}

func TestSlave_BroadcastWriteNoResponse(t *testing.T) {
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	slave := NewSlave(addr, []byte{1})
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	written := make(chan uint16, 1)
	server.SetWriteHoldingRegister(func(a uint16, v uint16) error {
		written <- v
		return nil
	})

	go slave.Serve(ctx)

	conn := dialRetry(t, addr)
	defer conn.Close()

	// Broadcast Write Single Register: processed, never answered.
	if _, err := conn.Write(mbapRequest(1, 0, []byte{0x06, 0x00, 0x01, 0x11, 0x22})); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-written:
		if v != 0x1122 {
			t.Errorf("Broadcast wrote %04X, expected 1122", v)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Broadcast write never reached the callback")
	}

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Errorf("Expected silence for broadcast, got %d bytes", n)
	}

	// The request slot must be free again: a unicast follows through.
	if _, err := conn.Write(mbapRequest(2, 1, []byte{0x06, 0x00, 0x01, 0x33, 0x44})); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("Unicast after broadcast got no response: %v", err)
	}
	<-written
}
