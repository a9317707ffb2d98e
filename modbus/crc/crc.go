// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc computes the CRC-16 checksum that terminates every
// Modbus RTU frame.
package crc

// CRC-16 with polynomial 0xA001 (reversed 0x8005), initial value 0xFFFF.
const crcPoly = 0xA001

// CRC holds the running checksum. Reset before each frame; the low
// byte goes on the wire first.
type CRC struct {
	value uint16
}

// Reset initializes the checksum for a new frame.
func (c *CRC) Reset() *CRC {
	c.value = 0xFFFF
	return c
}

// PushByte folds one byte into the checksum.
func (c *CRC) PushByte(b byte) *CRC {
	c.value ^= uint16(b)
	for i := 0; i < 8; i++ {
		if c.value&1 != 0 {
			c.value = c.value>>1 ^ crcPoly
		} else {
			c.value >>= 1
		}
	}
	return c
}

// PushBytes folds a byte sequence into the checksum.
func (c *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		c.PushByte(b)
	}
	return c
}

// Value returns the current checksum.
func (c *CRC) Value() uint16 {
	return c.value
}
