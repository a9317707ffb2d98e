// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package modbus

import (
	"bytes"
	"testing"
)

func TestUint16WireOrder(t *testing.T) {
	var b [2]byte
	putUint16(b[:], 0x1234)
	if b[0] != 0x12 || b[1] != 0x34 {
		t.Errorf("Encoded %02X %02X, expected big endian", b[0], b[1])
	}
	if v := getUint16(b[:]); v != 0x1234 {
		t.Errorf("Decoded %04X", v)
	}
}

func TestPackBits(t *testing.T) {
	bits := []bool{true, false, false, true, true, false, true, true, true}
	dst := []byte{0xFF, 0xFF}
	packBits(dst, bits)
	if !bytes.Equal(dst, []byte{0xD9, 0x01}) {
		t.Errorf("Packed %X, expected D9 01", dst)
	}

	out := make([]bool, len(bits))
	unpackBits(out, dst)
	for i := range bits {
		if out[i] != bits[i] {
			t.Errorf("Bit %d: got %v, want %v", i, out[i], bits[i])
		}
	}
}

func TestPacketPDURoundTrip(t *testing.T) {
	var p Packet
	err := p.SetPDU(9, ProtocolDataUnit{
		FunctionCode: FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x10, 0x00, 0x02},
	})
	if err != nil {
		t.Fatal(err)
	}
	pdu := p.PDU()
	if pdu.FunctionCode != FuncCodeReadHoldingRegisters {
		t.Errorf("Function code %d", pdu.FunctionCode)
	}
	if !bytes.Equal(pdu.Data, []byte{0x00, 0x10, 0x00, 0x02}) {
		t.Errorf("Payload %X", pdu.Data)
	}

	oversized := make([]byte, MaxDataLength+1)
	if err := p.SetPDU(9, ProtocolDataUnit{FunctionCode: 3, Data: oversized}); err == nil {
		t.Error("Expected error for oversized payload")
	}
}
