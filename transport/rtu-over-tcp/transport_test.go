// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtuovertcp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-stack/modbus"
)

// TestMasterSlaveRoundTrip wires a master channel to a slave channel
// through a real TCP connection carrying RTU frames.
func TestMasterSlaveRoundTrip(t *testing.T) {
	// 1. Grab an ephemeral port for the slave.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	// 2. Slave side: unit 2 backed by a register map.
	slave := NewSlave(addr, []byte{2})
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	regs := make(map[uint16]uint16)
	server.SetReadHoldingRegister(func(a uint16) (uint16, error) { return regs[a], nil })
	server.SetWriteHoldingRegister(func(a uint16, v uint16) error {
		regs[a] = v
		return nil
	})

	go slave.Serve(ctx)

	// 3. Master side, connecting with retry while the slave comes up.
	master := NewMaster(addr)
	master.Timeout = 1 * time.Second
	var connErr error
	for i := 0; i < 20; i++ {
		if connErr = master.Connect(ctx); connErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if connErr != nil {
		t.Fatalf("Failed to connect to slave: %v", connErr)
	}
	defer master.Close()

	client, err := modbus.NewClient(loop, master, 1*time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// 4. Write then read back through the whole stack.
	if err := client.WriteSingleRegister(2, 0x0010, 0xCAFE); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	out := make([]uint16, 1)
	if err := client.ReadHoldingRegisters(2, 0x0010, 1, out); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if out[0] != 0xCAFE {
		t.Errorf("Read back %04X, expected CAFE", out[0])
	}

	// 5. Multi-register write and read.
	if err := client.WriteHoldingRegisters(2, 0x0020, []uint16{0x1111, 0x2222}); err != nil {
		t.Fatalf("WriteHoldingRegisters failed: %v", err)
	}
	out2 := make([]uint16, 2)
	if err := client.ReadHoldingRegisters(2, 0x0020, 2, out2); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if out2[0] != 0x1111 || out2[1] != 0x2222 {
		t.Errorf("Read back %04X %04X", out2[0], out2[1])
	}
}

// TestSlaveExceptionResponse verifies the exception path end to end:
// an unsupported function code answers with the exception mask set.
func TestSlaveExceptionResponse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	// No read callback installed: reads answer with IllegalFunction.
	slave := NewSlave(addr, []byte{2})
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	go slave.Serve(ctx)

	master := NewMaster(addr)
	master.Timeout = 1 * time.Second
	var connErr error
	for i := 0; i < 20; i++ {
		if connErr = master.Connect(ctx); connErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if connErr != nil {
		t.Fatalf("Failed to connect to slave: %v", connErr)
	}
	defer master.Close()

	client, err := modbus.NewClient(loop, master, 1*time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	out := make([]uint16, 1)
	err = client.ReadHoldingRegisters(2, 0, 1, out)
	var me *modbus.ModbusError
	if !errors.As(err, &me) {
		t.Fatalf("Expected ModbusError, got %v", err)
	}
	if me.ExceptionCode != modbus.ExceptionCodeIllegalFunction {
		t.Errorf("Expected IllegalFunction, got %d", me.ExceptionCode)
	}
}
