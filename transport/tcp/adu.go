// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"fmt"
	"io"

	"github.com/ffutop/modbus-stack/modbus"
)

const (
	// MBAP header: transaction id, protocol id, length, unit id.
	mbapHeaderSize = 7

	MinSize = 8
	MaxSize = 260
)

// encodeFrame wraps the packet in a MBAP frame:
//
//	Transaction ID  : 2 bytes
//	Protocol ID     : 2 bytes (always 0)
//	Length          : 2 bytes (unit id + PDU)
//	Unit ID         : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
func encodeFrame(tid uint16, p *modbus.Packet) []byte {
	length := uint16(2 + p.DataLen)
	raw := make([]byte, mbapHeaderSize+1+p.DataLen)

	raw[0] = byte(tid >> 8)
	raw[1] = byte(tid)
	raw[2] = 0
	raw[3] = 0
	raw[4] = byte(length >> 8)
	raw[5] = byte(length)
	raw[6] = p.Node
	raw[7] = p.Code
	copy(raw[8:], p.Data[:p.DataLen])
	return raw
}

// readFrame reads one MBAP frame from the stream and fills the packet.
// It returns the frame's transaction identifier.
func readFrame(r io.Reader, p *modbus.Packet) (uint16, error) {
	header := make([]byte, mbapHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, err
	}

	tid := uint16(header[0])<<8 | uint16(header[1])
	pid := uint16(header[2])<<8 | uint16(header[3])
	length := int(header[4])<<8 | int(header[5])
	if pid != 0 {
		return 0, fmt.Errorf("modbus: unexpected protocol id '%v'", pid)
	}
	// Length counts the unit id and the PDU; the PDU carries at least
	// the function code.
	if length < 2 || length > 2+modbus.MaxDataLength {
		return 0, fmt.Errorf("modbus: frame length '%v' out of range", length)
	}

	pdu := make([]byte, length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return 0, err
	}

	p.Node = header[6]
	p.Code = pdu[0]
	copy(p.Data[:], pdu[1:])
	p.DataLen = length - 2
	return tid, nil
}
