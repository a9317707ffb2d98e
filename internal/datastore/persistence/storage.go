// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence provides backing stores for the datastore
// tables: volatile memory, a snapshot file, a memory-mapped file and a
// SQL database.
package persistence

import (
	"github.com/ffutop/modbus-stack/internal/datastore"
)

// Storage persists the datastore tables.
type Storage interface {
	// Load loads the store from storage, creating an empty one when no
	// data exists yet.
	Load() (*datastore.Store, error)

	// Save writes the current store content to storage.
	Save(store *datastore.Store) error

	// OnWrite is the write hook installed on the loaded store. It is
	// called after every applied write and lets the backend perform
	// real-time persistence.
	OnWrite(table datastore.Table, address, quantity uint16)

	// Close releases the backend's resources, saving pending changes.
	Close() error
}
