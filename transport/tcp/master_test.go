// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-stack/modbus"
)

func TestMaster_ReadHoldingRegisters(t *testing.T) {
	// 1. Setup Mock Slave
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 512)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if n < 8 {
						continue
					}
					transID := binary.BigEndian.Uint16(buf[0:])
					unitID := buf[6]
					funcCode := buf[7]
					if funcCode != 0x03 {
						t.Errorf("Expected funcCode 0x03, got %02X", funcCode)
					}
					if addr := binary.BigEndian.Uint16(buf[8:]); addr != 0x0010 {
						t.Errorf("Expected addr 0x0010, got %04X", addr)
					}

					// Response: ByteCount 4, two registers AABB CCDD
					respPDU := []byte{funcCode, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}
					respADU := make([]byte, 7+len(respPDU))
					binary.BigEndian.PutUint16(respADU[0:], transID)
					binary.BigEndian.PutUint16(respADU[2:], 0)
					binary.BigEndian.PutUint16(respADU[4:], uint16(1+len(respPDU)))
					respADU[6] = unitID
					copy(respADU[7:], respPDU)

					c.Write(respADU)
				}
			}(conn)
		}
	}()

	// 2. Setup Master + Client channel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	master := NewMaster(listener.Addr().String())
	client, err := modbus.NewClient(loop, master, 1*time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	defer master.Close()

	// 3. Read two registers
	regs := make([]uint16, 2)
	if err := client.ReadHoldingRegisters(1, 0x0010, 2, regs); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if regs[0] != 0xAABB || regs[1] != 0xCCDD {
		t.Errorf("Unexpected register values: %04X %04X", regs[0], regs[1])
	}
}

func TestMaster_Timeout(t *testing.T) {
	// 1. Setup Hanging Slave
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	go func() {
		conn, _ := listener.Accept()
		if conn != nil {
			// Read but never write back
			buf := make([]byte, 512)
			conn.Read(buf)
			time.Sleep(2 * time.Second)
			conn.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	master := NewMaster(listener.Addr().String())
	client, err := modbus.NewClient(loop, master, 200*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	defer master.Close()

	regs := make([]uint16, 1)
	err = client.ReadHoldingRegisters(1, 0, 1, regs)
	if !errors.Is(err, modbus.ErrTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestMaster_StaleResponseIgnored(t *testing.T) {
	// A response carrying an old transaction id must not satisfy the
	// current request.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	go func() {
		conn, _ := listener.Accept()
		if conn == nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if n < 8 {
				continue
			}
			transID := binary.BigEndian.Uint16(buf[0:])

			// Answer with a mismatching transaction id.
			respPDU := []byte{buf[7], 0x02, 0xAA, 0xBB}
			respADU := make([]byte, 7+len(respPDU))
			binary.BigEndian.PutUint16(respADU[0:], transID+100)
			binary.BigEndian.PutUint16(respADU[2:], 0)
			binary.BigEndian.PutUint16(respADU[4:], uint16(1+len(respPDU)))
			respADU[6] = buf[6]
			copy(respADU[7:], respPDU)
			conn.Write(respADU)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	master := NewMaster(listener.Addr().String())
	client, err := modbus.NewClient(loop, master, 200*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	defer master.Close()

	regs := make([]uint16, 1)
	err = client.ReadHoldingRegisters(1, 0, 1, regs)
	if !errors.Is(err, modbus.ErrTimeout) {
		t.Errorf("Expected timeout on stale transaction id, got %v", err)
	}
}
