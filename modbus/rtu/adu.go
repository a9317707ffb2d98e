// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/modbus-stack/modbus"
	"github.com/ffutop/modbus-stack/modbus/crc"
)

// EncodeFrame wraps the packet in an RTU frame:
//
//	Node Address    : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes (low byte first)
func EncodeFrame(p *modbus.Packet) (raw []byte, err error) {
	length := p.DataLen + 4
	if length > MaxSize {
		err = fmt.Errorf("modbus: length of frame '%v' must not be bigger than '%v'", length, MaxSize)
		return
	}
	raw = make([]byte, length)

	raw[0] = p.Node
	raw[1] = p.Code
	copy(raw[2:], p.Data[:p.DataLen])

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()

	raw[length-1] = byte(checksum >> 8)
	raw[length-2] = byte(checksum)
	return
}

// DecodeFrame verifies the checksum of a raw frame and fills the
// packet with its content.
func DecodeFrame(raw []byte, p *modbus.Packet) error {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		return fmt.Errorf("modbus: frame length '%v' does not meet minimum '%v'", length, MinSize)
	}
	if length > MaxSize {
		return fmt.Errorf("modbus: frame length '%v' exceeds maximum '%v'", length, MaxSize)
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		return fmt.Errorf("modbus: frame crc '%v' does not match expected '%v'", checksum, c.Value())
	}

	p.Node = raw[0]
	p.Code = raw[1]
	copy(p.Data[:], raw[2:length-2])
	p.DataLen = length - 4
	return nil
}
