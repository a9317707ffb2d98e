// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ffutop/modbus-stack/internal/config"
	"github.com/ffutop/modbus-stack/internal/datastore"
	"github.com/ffutop/modbus-stack/internal/datastore/persistence"
	"github.com/ffutop/modbus-stack/modbus"
	"github.com/ffutop/modbus-stack/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run server channels answering for the configured unit addresses",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg.Log)

	nodes, err := config.ParseNodeIDs(cfg.Server.Nodes)
	if err != nil {
		return fmt.Errorf("invalid server.nodes: %w", err)
	}
	if len(cfg.Server.Listeners) == 0 {
		return fmt.Errorf("no listeners configured")
	}

	// One shared datastore behind every listener.
	storage := newStorage(cfg.Server.Datastore.Persistence)
	store, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load persistence data, starting with fresh datastore", "err", err)
		storage = persistence.NewMemoryStorage()
		store, _ = storage.Load()
	}
	defer storage.Close()
	store.SetWriteHook(storage.OnWrite)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := modbus.NewLoop()
	go loop.Run(ctx)

	var wg sync.WaitGroup
	var servers []*modbus.Server
	for _, lnCfg := range cfg.Server.Listeners {
		slave, err := transport.NewSlave(lnCfg, nodes)
		if err != nil {
			return err
		}
		server, err := modbus.NewServer(loop, slave)
		if err != nil {
			return err
		}
		datastore.Attach(server, store)
		servers = append(servers, server)

		wg.Add(1)
		go func(sl transport.Slave, linkType string) {
			defer wg.Done()
			if err := sl.Serve(ctx); err != nil {
				slog.Error("Listener stopped with error", "type", linkType, "err", err)
			}
		}(slave, lnCfg.Type)
	}

	slog.Info("Modbus server running", "listeners", len(cfg.Server.Listeners), "nodes", cfg.Server.Nodes)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	for _, server := range servers {
		server.Close()
	}
	if err := storage.Save(store); err != nil {
		slog.Error("Failed to save datastore", "err", err)
	}
	slog.Info("Goodbye.")
	return nil
}

// newStorage selects the persistence backend for the datastore.
func newStorage(cfg config.PersistenceConfig) persistence.Storage {
	switch cfg.Type {
	case "file":
		slog.Info("Initializing datastore with file persistence", "path", cfg.Path, "interval", cfg.Interval)
		return persistence.NewFileStorage(cfg.Path, cfg.Interval)
	case "mmap":
		slog.Info("Initializing datastore with MMAP persistence", "path", cfg.Path)
		return persistence.NewMmapStorage(cfg.Path)
	case "sql":
		slog.Info("Initializing datastore with SQL persistence", "driver", "sqlite3", "dsn", cfg.Path)
		return persistence.NewSQLStorage("sqlite3", cfg.Path)
	default:
		slog.Info("Initializing datastore with memory storage (non-persistent)")
		return persistence.NewMemoryStorage()
	}
}
