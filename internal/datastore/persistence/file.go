// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ffutop/modbus-stack/internal/datastore"
)

// FileStorage implements persistence using file operations.
//
// Layout:
// - Coils: 65536 bytes (Offset 0)
// - DiscreteInputs: 65536 bytes (Offset 65536)
// - HoldingRegisters: 65536 * 2 bytes (Offset 131072)
// - InputRegisters: 65536 * 2 bytes (Offset 262144)
// Total Size: 393216 bytes
//
// With a positive interval, writes only mark the store dirty and a
// background task batches the saves; with interval zero every write
// syncs immediately.
type FileStorage struct {
	path     string
	interval time.Duration

	mu    sync.Mutex
	file  *os.File
	data  []byte
	dirty bool

	stop chan struct{}
	done chan struct{}
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string, interval time.Duration) *FileStorage {
	return &FileStorage{
		path:     path,
		interval: interval,
	}
}

// Load loads the store from the snapshot file.
func (fs *FileStorage) Load() (*datastore.Store, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	fs.file = f

	// Ensure file size
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	fs.data = data

	if fs.interval > 0 {
		fs.stop = make(chan struct{})
		fs.done = make(chan struct{})
		go fs.batchLoop()
	}

	// Construct the Store backed by the file data slice
	return mapBytesToStore(data), nil
}

// Save flushes the data to disk.
func (fs *FileStorage) Save(store *datastore.Store) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sync()
}

// OnWrite triggers a sync, or marks the store dirty when saves are
// batched.
func (fs *FileStorage) OnWrite(table datastore.Table, address, quantity uint16) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.interval > 0 {
		fs.dirty = true
		return
	}
	if err := fs.sync(); err != nil {
		slog.Error("failed to sync file", "path", fs.path, "err", err)
	}
}

// batchLoop periodically saves the file while writes keep arriving.
func (fs *FileStorage) batchLoop() {
	defer close(fs.done)
	ticker := time.NewTicker(fs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.stop:
			return
		case <-ticker.C:
			fs.mu.Lock()
			if fs.dirty {
				if err := fs.sync(); err != nil {
					slog.Error("failed to sync file", "path", fs.path, "err", err)
				} else {
					fs.dirty = false
				}
			}
			fs.mu.Unlock()
		}
	}
}

// sync writes the backing slice out. Caller must hold the mutex.
func (fs *FileStorage) sync() error {
	if fs.data == nil || fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.data, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close stops the batch task, saves pending changes and closes the
// file.
func (fs *FileStorage) Close() error {
	if fs.stop != nil {
		close(fs.stop)
		<-fs.done
		fs.stop = nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.sync()
	if e := fs.file.Close(); err == nil {
		err = e
	}
	fs.file = nil
	fs.data = nil
	return err
}
