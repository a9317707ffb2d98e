// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ffutop/modbus-stack/internal/config"
	"github.com/ffutop/modbus-stack/modbus"
)

func TestSlave_ScanAndRespond(t *testing.T) {
	// Request: unit 1, Read Holding Registers, addr 0, quantity 1
	reqADU := frame([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})

	reader := bytes.NewReader(reqADU)
	writer := &bytes.Buffer{}
	port := &mockPort{Reader: reader, Writer: writer}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	slave := NewSlave(config.SerialConfig{}, []byte{1})
	slave.port = port
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	server.SetReadHoldingRegister(func(addr uint16) (uint16, error) {
		return 0xAABB, nil
	})

	go slave.scanLoop(ctx, port)

	// The response shows up on the bus.
	expected := frame([]byte{0x01, 0x03, 0x02, 0xAA, 0xBB})
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		if writer.Len() >= len(expected) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Equal(writer.Bytes(), expected) {
		t.Errorf("Response mismatch.\nWant: %X\nGot:  %X", expected, writer.Bytes())
	}
}

func TestSlave_IgnoresOtherUnits(t *testing.T) {
	// Unit 9 is not served; the bus stays silent.
	reqADU := frame([]byte{0x09, 0x03, 0x00, 0x00, 0x00, 0x01})

	reader := bytes.NewReader(reqADU)
	writer := &bytes.Buffer{}
	port := &mockPort{Reader: reader, Writer: writer}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	slave := NewSlave(config.SerialConfig{}, []byte{1})
	slave.port = port
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	server.SetReadHoldingRegister(func(addr uint16) (uint16, error) { return 0, nil })

	go slave.scanLoop(ctx, port)

	<-ctx.Done()
	if writer.Len() != 0 {
		t.Errorf("Expected silence for foreign unit, got % X", writer.Bytes())
	}
}

func TestSlave_BroadcastWrite(t *testing.T) {
	// Broadcast Write Single Register: processed, never answered.
	reqADU := frame([]byte{0x00, 0x06, 0x00, 0x01, 0x12, 0x34})

	reader := bytes.NewReader(reqADU)
	writer := &bytes.Buffer{}
	port := &mockPort{Reader: reader, Writer: writer}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	slave := NewSlave(config.SerialConfig{}, []byte{1})
	slave.port = port
	server, err := modbus.NewServer(loop, slave)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	written := make(chan uint16, 1)
	server.SetWriteHoldingRegister(func(addr uint16, value uint16) error {
		written <- value
		return nil
	})

	go slave.scanLoop(ctx, port)

	select {
	case v := <-written:
		if v != 0x1234 {
			t.Errorf("Broadcast wrote %04X, expected 1234", v)
		}
	case <-ctx.Done():
		t.Fatal("Broadcast write never reached the callback")
	}

	time.Sleep(50 * time.Millisecond)
	if writer.Len() != 0 {
		t.Errorf("Expected silence for broadcast, got % X", writer.Bytes())
	}
}
