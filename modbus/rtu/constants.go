// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements Modbus RTU framing: node address, function
// code and data terminated by a CRC-16. The framing is shared by the
// serial transport and the RTU-over-TCP transport.
package rtu

const (
	// MinSize is the smallest valid frame: node, function code, CRC.
	MinSize = 4
	// MaxSize bounds a frame: 253 bytes of PDU plus node and CRC.
	MaxSize = 256

	// ExceptionSize is the length of an exception response frame.
	ExceptionSize = 5

	// headerSize is how many bytes a receiver needs before the total
	// request length is known for every supported function code.
	headerSize = 7
)
