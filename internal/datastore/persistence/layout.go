// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/modbus-stack/internal/datastore"
)

const (
	sizeCoils    = datastore.MaxAddress + 1
	sizeDiscrete = datastore.MaxAddress + 1
	sizeHolding  = (datastore.MaxAddress + 1) * 2
	sizeInput    = (datastore.MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// mapBytesToStore constructs a Store backed by the provided data slice.
// Warning: This function uses unsafe pointers to cast byte slices to
// uint16 slices. The resulting Store relies on the host's endianness
// for multi-byte values. This provides zero-copy access but sacrifices
// portability across architectures with different endianness.
func mapBytesToStore(data []byte) *datastore.Store {
	coils := data[offsetCoils : offsetCoils+sizeCoils]
	discrete := data[offsetDiscrete : offsetDiscrete+sizeDiscrete]

	holdingBytes := data[offsetHolding : offsetHolding+sizeHolding]
	holding := unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2)

	inputBytes := data[offsetInput : offsetInput+sizeInput]
	input := unsafe.Slice((*uint16)(unsafe.Pointer(&inputBytes[0])), sizeInput/2)

	return datastore.FromSlices(coils, discrete, holding, input)
}
