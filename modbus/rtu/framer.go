// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ffutop/modbus-stack/modbus"
)

var ErrResponseTimedOut = errors.New("modbus: response timed out")

const (
	stateNode = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// CalculateResponseLength returns the expected length of the response
// frame to the given request frame.
func CalculateResponseLength(adu []byte) int {
	length := MinSize
	switch adu[1] {
	case modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadCoils:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadWriteMultipleRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	case modbus.FuncCodeMaskWriteRegister:
		length += 6
	case modbus.FuncCodeReadFIFOQueue,
		modbus.FuncCodeReadDeviceIdentification:
		// undetermined
	default:
	}
	return length
}

// CalculateRequestLength returns the expected total length of a request
// frame based on its header. The header must hold at least 7 bytes for
// the variable-length write functions, whose byte count sits at offset 6.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [Node, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// [Node, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < headerSize {
			return 0, fmt.Errorf("need %d bytes to determine length for 0x%02X, got %d", headerSize, funcCode, len(header))
		}
		byteCount := int(header[6])
		return headerSize + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("unsupported function code: 0x%02X", funcCode)
	}
}

// ReadRequest reads one request frame from the stream and fills the
// packet. The header is read first to size the remainder of the frame;
// garbage that does not parse as a request leaves the stream position
// undefined and the caller simply tries again.
func ReadRequest(r io.Reader, p *modbus.Packet) error {
	buf := make([]byte, MaxSize)

	// First byte unblocks the scan, then enough header to cover the
	// byte count of the variable-length write functions.
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, buf[1:headerSize]); err != nil {
		return err
	}

	length, err := CalculateRequestLength(buf[1], buf[:headerSize])
	if err != nil {
		return err
	}
	if length > headerSize {
		if _, err := io.ReadFull(r, buf[headerSize:length]); err != nil {
			return err
		}
	}
	return DecodeFrame(buf[:length], p)
}

// ReadResponse reads a response frame incrementally from the reader.
// It uses a state machine keyed on the expected node and function code,
// discarding leading noise bytes. An exception response (function code
// with the high bit set) is accepted as a valid frame.
func ReadResponse(node, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateNode
	var length, toRead byte
	var n, crcCount int

	for {
		if time.Now().After(deadline) {
			return nil, ErrResponseTimedOut
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		switch state {
		case stateNode:
			if buf[0] == node {
				state = stateFunctionCode
				data[n] = buf[0]
				n++
				continue
			}
		case stateFunctionCode:
			if buf[0] == functionCode {
				switch functionCode {
				case modbus.FuncCodeReadDiscreteInputs,
					modbus.FuncCodeReadCoils,
					modbus.FuncCodeReadHoldingRegisters,
					modbus.FuncCodeReadInputRegisters,
					modbus.FuncCodeReadWriteMultipleRegisters,
					modbus.FuncCodeReadFIFOQueue:

					state = stateReadLength
				case modbus.FuncCodeWriteSingleCoil,
					modbus.FuncCodeWriteSingleRegister,
					modbus.FuncCodeWriteMultipleRegisters,
					modbus.FuncCodeWriteMultipleCoils:

					state = stateReadPayload
					toRead = 4
				case modbus.FuncCodeMaskWriteRegister:
					state = stateReadPayload
					toRead = 6
				default:
					return nil, fmt.Errorf("function code not handled: %d", functionCode)
				}
				data[n] = buf[0]
				n++
				continue
			} else if buf[0] == functionCode|modbus.ExceptionMask {
				state = stateReadPayload
				data[n] = buf[0]
				n++
				toRead = 1
			}
		case stateReadLength:
			length = buf[0]
			if length > MaxSize-5 || length == 0 {
				return nil, &InvalidLengthError{Length: length}
			}
			toRead = length
			data[n] = length
			n++
			state = stateReadPayload
		case stateReadPayload:
			data[n] = buf[0]
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			data[n] = buf[0]
			crcCount++
			n++
			if crcCount == 2 {
				return data[:n], nil
			}
		}
	}
}
