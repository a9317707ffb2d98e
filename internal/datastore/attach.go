// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package datastore

import "github.com/ffutop/modbus-stack/modbus"

// Attach installs the store's accessors as the server channel's data
// callbacks, so requests arriving on the channel read and write the
// store's tables.
func Attach(srv *modbus.Server, store *Store) {
	srv.SetReadCoil(store.Coil)
	srv.SetReadDiscreteInput(store.DiscreteInput)
	srv.SetReadHoldingRegister(store.HoldingRegister)
	srv.SetReadInputRegister(store.InputRegister)
	srv.SetWriteCoil(store.SetCoil)
	srv.SetWriteHoldingRegister(store.SetHoldingRegister)
}
