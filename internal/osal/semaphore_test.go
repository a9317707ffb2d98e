// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package osal

import (
	"testing"
	"time"
)

func TestSemaphoreGiveBeforeTake(t *testing.T) {
	s := NewSemaphore()
	s.Give()

	// The signal is stateful: a Take after the Give must not wait.
	start := time.Now()
	if !s.Take(time.Second) {
		t.Fatal("expected retained signal to be consumed")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("take of a signaled semaphore waited %v", elapsed)
	}

	// The signal was consumed; the next Take times out.
	if s.Take(10 * time.Millisecond) {
		t.Fatal("expected empty semaphore to time out")
	}
}

func TestSemaphoreDoubleGive(t *testing.T) {
	s := NewSemaphore()
	s.Give()
	s.Give()

	if !s.Take(time.Second) {
		t.Fatal("expected first take to succeed")
	}
	if s.Take(10 * time.Millisecond) {
		t.Fatal("binary semaphore must not accumulate signals")
	}
}

func TestSemaphoreTakeTimeout(t *testing.T) {
	s := NewSemaphore()

	start := time.Now()
	if s.Take(20 * time.Millisecond) {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("take returned after %v, before the timeout", elapsed)
	}
}

func TestSemaphoreWake(t *testing.T) {
	s := NewSemaphore()

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Give()
	}()

	if !s.Take(time.Second) {
		t.Fatal("expected wake from concurrent give")
	}
}
