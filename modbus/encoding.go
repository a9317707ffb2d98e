// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// putUint16 stores v into b[0] and b[1] in wire order (big endian).
func putUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// getUint16 extracts a 16-bit value from b[0] and b[1] in wire order.
func getUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// packBits packs bit values into dst, least significant bit first.
// dst must hold at least (len(bits)+7)/8 bytes and is zeroed first.
func packBits(dst []byte, bits []bool) {
	n := (len(bits) + 7) / 8
	for i := 0; i < n; i++ {
		dst[i] = 0
	}
	for i, on := range bits {
		if on {
			dst[i/8] |= 1 << uint(i%8)
		}
	}
}

// unpackBits extracts len(dst) bit values from src, least significant
// bit first.
func unpackBits(dst []bool, src []byte) {
	for i := range dst {
		dst[i] = src[i/8]&(1<<uint(i%8)) != 0
	}
}
