// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"

	"github.com/ffutop/modbus-stack/internal/config"
	"github.com/ffutop/modbus-stack/modbus"
	"github.com/ffutop/modbus-stack/transport/rtu"
	rtuovertcp "github.com/ffutop/modbus-stack/transport/rtu-over-tcp"
	"github.com/ffutop/modbus-stack/transport/tcp"
)

// Master is a client-side packet transport with link lifecycle control.
// A Master is bound to a client channel, which drives the packet
// accessors; Connect opens the underlying link.
type Master interface {
	modbus.Transport

	Connect(ctx context.Context) error
	Close() error
}

// Slave is a server-side packet transport. A Slave is bound to a server
// channel; Serve accepts requests from external masters and blocks
// until ctx is done or the link fails.
type Slave interface {
	modbus.Transport

	Serve(ctx context.Context) error
	Close() error
}

var (
	_ Master = (*tcp.Master)(nil)
	_ Slave  = (*tcp.Slave)(nil)
	_ Master = (*rtu.Master)(nil)
	_ Slave  = (*rtu.Slave)(nil)
	_ Master = (*rtuovertcp.Master)(nil)
	_ Slave  = (*rtuovertcp.Slave)(nil)
)

// NewMaster builds the client-side transport selected by the link
// configuration.
func NewMaster(cfg config.LinkConfig) (Master, error) {
	switch cfg.Type {
	case "tcp":
		return tcp.NewMaster(cfg.Tcp.Address), nil
	case "rtu":
		return rtu.NewMaster(cfg.Serial), nil
	case "rtu-over-tcp", "rtuovertcp":
		return rtuovertcp.NewMaster(cfg.Tcp.Address), nil
	default:
		return nil, fmt.Errorf("transport: unknown link type %q", cfg.Type)
	}
}

// NewSlave builds the server-side transport selected by the link
// configuration. Requests addressed to units outside nodes are ignored;
// an empty nodes slice accepts every unit address. Broadcast frames are
// always accepted.
func NewSlave(cfg config.LinkConfig, nodes []byte) (Slave, error) {
	switch cfg.Type {
	case "tcp":
		return tcp.NewSlave(cfg.Tcp.Address, nodes), nil
	case "rtu":
		return rtu.NewSlave(cfg.Serial, nodes), nil
	case "rtu-over-tcp", "rtuovertcp":
		return rtuovertcp.NewSlave(cfg.Tcp.Address, nodes), nil
	default:
		return nil, fmt.Errorf("transport: unknown link type %q", cfg.Type)
	}
}
