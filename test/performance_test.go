// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package test

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestPerformance_TCPRoundTrips hammers a server channel with
// sequential write-then-read cycles and reports the sustained rate. It
// fails only on protocol errors; throughput is informational.
func TestPerformance_TCPRoundTrips(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping performance test in short mode")
	}

	const addr = "127.0.0.1:33505"
	const cycles = 500

	data := &unitData{regs: map[uint16]uint16{}, coils: map[uint16]bool{}}
	startServer(t, addr, data)
	client := newGoburrowClient(t, addr)

	var ops, errs int64
	start := time.Now()
	for i := 0; i < cycles; i++ {
		addr := uint16(i % 1000)
		val := uint16(i)
		if _, err := client.WriteSingleRegister(addr, val); err != nil {
			atomic.AddInt64(&errs, 1)
			if atomic.LoadInt64(&errs) <= 5 {
				t.Logf("Write error: %v", err)
			}
			continue
		}
		results, err := client.ReadHoldingRegisters(addr, 1)
		if err != nil {
			atomic.AddInt64(&errs, 1)
			if atomic.LoadInt64(&errs) <= 5 {
				t.Logf("Read error: %v", err)
			}
			continue
		}
		if got := uint16(results[0])<<8 | uint16(results[1]); got != val {
			t.Fatalf("Cycle %d: wrote %d, read back %d", i, val, got)
		}
		atomic.AddInt64(&ops, 2)
	}
	elapsed := time.Since(start)

	t.Logf("%d operations in %v (%.0f ops/s), %d errors",
		ops, elapsed, float64(ops)/elapsed.Seconds(), errs)
	if errs > 0 {
		t.Errorf("Performance run finished with %d errors", errs)
	}
}
