// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// MaxDataLength is the PDU payload capacity: 253 bytes of PDU minus the
// function code.
const MaxDataLength = 252

// Packet is a request or response buffer owned by a transport. Channels
// borrow packets through the Transport accessors and never retain them
// across operations; transports reuse the same backing storage frame
// after frame.
type Packet struct {
	// Node is the unit address the packet is addressed to or came from.
	Node byte
	// Code is the function code. ExceptionMask set marks an exception
	// response.
	Code byte
	// Data holds the payload; only Data[:DataLen] is meaningful.
	Data [MaxDataLength]byte
	// DataLen is the payload length in bytes.
	DataLen int
}

// SetPDU fills the packet from a decoded protocol data unit.
func (p *Packet) SetPDU(node byte, pdu ProtocolDataUnit) error {
	if len(pdu.Data) > MaxDataLength {
		return fmt.Errorf("modbus: PDU data length %d exceeds %d", len(pdu.Data), MaxDataLength)
	}
	p.Node = node
	p.Code = pdu.FunctionCode
	copy(p.Data[:], pdu.Data)
	p.DataLen = len(pdu.Data)
	return nil
}

// PDU returns the packet content as a protocol data unit. The returned
// data aliases the packet buffer and is only valid until the packet is
// reused.
func (p *Packet) PDU() ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: p.Code,
		Data:         p.Data[:p.DataLen],
	}
}
