// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package datastore holds the four Modbus data tables backing a server
// channel: coils, discrete inputs, holding registers and input
// registers, each covering the full 16-bit address space.
package datastore

import "sync"

const (
	MaxAddress = 65535
)

// Table identifies one of the Modbus data tables.
type Table int

const (
	TableCoils Table = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

// WriteHook is notified after a write has been applied to a table.
// Persistence backends install one to sync changes.
type WriteHook func(table Table, address, quantity uint16)

// Store is the in-memory data model. Bit tables store one byte per
// element, 1 (ON) or 0 (OFF), so the backing slices can be mapped
// directly onto a persistence file.
type Store struct {
	mu sync.RWMutex

	// 0x Coils (Read/Write).
	coils []byte
	// 1x Discrete Inputs (Read Only).
	discreteInputs []byte
	// 4x Holding Registers (Read/Write).
	holdingRegisters []uint16
	// 3x Input Registers (Read Only).
	inputRegisters []uint16

	onWrite WriteHook
}

// New creates a store initialized to zero.
func New() *Store {
	return FromSlices(
		make([]byte, MaxAddress+1),
		make([]byte, MaxAddress+1),
		make([]uint16, MaxAddress+1),
		make([]uint16, MaxAddress+1),
	)
}

// FromSlices creates a store backed by the provided slices, each of
// which must span the full address space. Persistence backends use this
// to map file contents without copying.
func FromSlices(coils, discreteInputs []byte, holdingRegisters, inputRegisters []uint16) *Store {
	return &Store{
		coils:            coils,
		discreteInputs:   discreteInputs,
		holdingRegisters: holdingRegisters,
		inputRegisters:   inputRegisters,
	}
}

// SetWriteHook installs the hook notified after every applied write.
func (s *Store) SetWriteHook(hook WriteHook) {
	s.mu.Lock()
	s.onWrite = hook
	s.mu.Unlock()
}

// Coil reads one coil.
func (s *Store) Coil(address uint16) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coils[address] != 0, nil
}

// DiscreteInput reads one discrete input.
func (s *Store) DiscreteInput(address uint16) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discreteInputs[address] != 0, nil
}

// HoldingRegister reads one holding register.
func (s *Store) HoldingRegister(address uint16) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holdingRegisters[address], nil
}

// InputRegister reads one input register.
func (s *Store) InputRegister(address uint16) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputRegisters[address], nil
}

// SetCoil writes one coil and notifies the write hook.
func (s *Store) SetCoil(address uint16, on bool) error {
	s.mu.Lock()
	if on {
		s.coils[address] = 1
	} else {
		s.coils[address] = 0
	}
	hook := s.onWrite
	s.mu.Unlock()

	if hook != nil {
		hook(TableCoils, address, 1)
	}
	return nil
}

// SetHoldingRegister writes one holding register and notifies the
// write hook.
func (s *Store) SetHoldingRegister(address uint16, value uint16) error {
	s.mu.Lock()
	s.holdingRegisters[address] = value
	hook := s.onWrite
	s.mu.Unlock()

	if hook != nil {
		hook(TableHoldingRegisters, address, 1)
	}
	return nil
}

// SetDiscreteInput sets one discrete input. Discrete inputs are not
// writable over the wire; this is for process data fed in locally.
func (s *Store) SetDiscreteInput(address uint16, on bool) {
	s.mu.Lock()
	if on {
		s.discreteInputs[address] = 1
	} else {
		s.discreteInputs[address] = 0
	}
	hook := s.onWrite
	s.mu.Unlock()

	if hook != nil {
		hook(TableDiscreteInputs, address, 1)
	}
}

// SetInputRegister sets one input register. Input registers are not
// writable over the wire; this is for process data fed in locally.
func (s *Store) SetInputRegister(address uint16, value uint16) {
	s.mu.Lock()
	s.inputRegisters[address] = value
	hook := s.onWrite
	s.mu.Unlock()

	if hook != nil {
		hook(TableInputRegisters, address, 1)
	}
}

// Value reads one element of the given table as an integer. Used by
// persistence backends that store elements individually.
func (s *Store) Value(table Table, address uint16) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch table {
	case TableCoils:
		return int64(s.coils[address])
	case TableDiscreteInputs:
		return int64(s.discreteInputs[address])
	case TableHoldingRegisters:
		return int64(s.holdingRegisters[address])
	case TableInputRegisters:
		return int64(s.inputRegisters[address])
	}
	return 0
}

// Restore writes one element of the given table without notifying the
// write hook. Used by persistence backends while loading.
func (s *Store) Restore(table Table, address uint16, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch table {
	case TableCoils:
		s.coils[address] = byte(value)
	case TableDiscreteInputs:
		s.discreteInputs[address] = byte(value)
	case TableHoldingRegisters:
		s.holdingRegisters[address] = uint16(value)
	case TableInputRegisters:
		s.inputRegisters[address] = uint16(value)
	}
}
