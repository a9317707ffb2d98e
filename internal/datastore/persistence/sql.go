// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-stack/internal/datastore"
)

// SQLStorage implements persistence using a SQL database with one row
// per non-default element in a `modbus_registers` table.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
	store  *datastore.Store
}

// NewSQLStorage creates a new SQLStorage.
// Note: The driver (e.g., sqlite3, mysql) must be imported by the
// binary.
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
	}
}

// Load connects to the DB and loads the data.
func (s *SQLStorage) Load() (*datastore.Store, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	store := datastore.New()
	// Keep the reference so OnWrite can read back changed values.
	s.store = store

	rows, err := db.Query("SELECT table_type, address, value FROM modbus_registers")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query registers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t, addr int
		var val int64
		if err := rows.Scan(&t, &addr, &val); err != nil {
			continue
		}
		if addr > datastore.MaxAddress {
			continue
		}
		store.Restore(datastore.Table(t), uint16(addr), val)
	}

	return store, nil
}

func (s *SQLStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS modbus_registers (
		table_type INTEGER,
		address INTEGER,
		value INTEGER,
		PRIMARY KEY (table_type, address)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Save is a no-op: OnWrite persists each change as it happens, so a
// full dump would only repeat work.
func (s *SQLStorage) Save(store *datastore.Store) error {
	return nil
}

// OnWrite upserts the changed elements to the DB.
func (s *SQLStorage) OnWrite(table datastore.Table, address, quantity uint16) {
	if s.db == nil || s.store == nil {
		return
	}

	// OnWrite fires after the store update, so the current values can
	// be read back element by element.
	for i := 0; i < int(quantity); i++ {
		addr := address + uint16(i)
		val := s.store.Value(table, addr)

		query := "INSERT INTO modbus_registers (table_type, address, value) VALUES (?, ?, ?) ON CONFLICT(table_type, address) DO UPDATE SET value=excluded.value"
		if _, err := s.db.Exec(query, int(table), int(addr), val); err != nil {
			slog.Error("failed to persist register", "table", table, "addr", addr, "err", err)
		}
	}
}

func (s *SQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
