// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "errors"

var (
	// ErrClosed is returned for operations on a channel after Close.
	ErrClosed = errors.New("modbus: channel is closed")

	// ErrBusy is returned when the transport's request buffer is
	// unavailable, e.g. while a previous request is still in flight.
	ErrBusy = errors.New("modbus: transport busy")

	// ErrTimeout is returned when no response arrived within the
	// configured response timeout.
	ErrTimeout = errors.New("modbus: request timed out")

	// ErrInvalidRequest is returned when request parameters violate the
	// addressed function's limits before anything is transmitted.
	ErrInvalidRequest = errors.New("modbus: invalid request parameters")

	// ErrInvalidResponse is returned when a received response does not
	// match the outstanding request.
	ErrInvalidResponse = errors.New("modbus: invalid response")
)

// Sentinels for server callbacks. A callback returning
// ErrIllegalDataAddress yields exception code 2, ErrIllegalDataValue
// yields 3, any other error yields 4 (server device failure).
var (
	ErrIllegalDataAddress = errors.New("modbus: illegal data address")
	ErrIllegalDataValue   = errors.New("modbus: illegal data value")
)
