// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ffutop/modbus-stack/internal/config"
	"github.com/ffutop/modbus-stack/internal/datastore"
	"github.com/ffutop/modbus-stack/internal/datastore/persistence"
	"github.com/ffutop/modbus-stack/modbus"
	"github.com/ffutop/modbus-stack/transport"
	"github.com/ffutop/modbus-stack/transport/local"
)

// openClient builds a client channel over the transport named by the
// target URL, e.g. tcp://192.168.1.10:502 or
// rtu:///dev/ttyUSB0?baud=9600. The returned cleanup tears the whole
// stack down.
func openClient(target string, responseTimeout time.Duration) (*modbus.Client, func(), error) {
	link, err := config.ParseTarget(target)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid target: %w", err)
	}
	if link.Type == "local" {
		return openLocalClient(link.Local, responseTimeout)
	}

	master, err := transport.NewMaster(link)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	if err := master.Connect(ctx); err != nil {
		cancel()
		return nil, nil, err
	}

	client, err := modbus.NewClient(loop, master, responseTimeout, 0)
	if err != nil {
		master.Close()
		cancel()
		return nil, nil, err
	}

	cleanup := func() {
		client.Close()
		master.Close()
		cancel()
	}
	return client, cleanup, nil
}

// openLocalClient serves the target datastore in-process over a local
// endpoint pair, so a snapshot file can be inspected and edited with
// the ordinary read and write commands, no device attached.
func openLocalClient(cfg config.LocalConfig, responseTimeout time.Duration) (*modbus.Client, func(), error) {
	var storage persistence.Storage
	if cfg.Path != "" {
		storage = persistence.NewFileStorage(cfg.Path, 0)
	} else {
		storage = persistence.NewMemoryStorage()
	}
	store, err := storage.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load datastore: %w", err)
	}
	store.SetWriteHook(storage.OnWrite)

	ctx, cancel := context.WithCancel(context.Background())
	loop := modbus.NewLoop()
	go loop.Run(ctx)

	clientEnd, serverEnd := local.Pair()
	server, err := modbus.NewServer(loop, serverEnd)
	if err != nil {
		cancel()
		storage.Close()
		return nil, nil, err
	}
	datastore.Attach(server, store)

	client, err := modbus.NewClient(loop, clientEnd, responseTimeout, 1*time.Millisecond)
	if err != nil {
		server.Close()
		cancel()
		storage.Close()
		return nil, nil, err
	}

	cleanup := func() {
		client.Close()
		server.Close()
		cancel()
		storage.Save(store)
		storage.Close()
	}
	return client, cleanup, nil
}
