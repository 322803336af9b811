// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/mmapcache/lib/testutil"
)

func TestDoRunsSerially(t *testing.T) {
	loop := New(nil)
	defer loop.Close()

	// counter is deliberately unsynchronized: the race detector fails
	// this test if two closures ever overlap.
	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Do(context.Background(), func() { counter++ }); err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	var got int
	if err := loop.Do(context.Background(), func() { got = counter }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}

func TestDoWaitsForCompletion(t *testing.T) {
	loop := New(nil)
	defer loop.Close()

	ran := false
	if err := loop.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatal("Do returned before the closure ran")
	}
}

func TestDoCancelledBeforeStart(t *testing.T) {
	loop := New(nil)
	defer loop.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- loop.Do(context.Background(), func() {
			close(started)
			<-release
		})
	}()
	testutil.RequireClosed(t, started, 5*time.Second, "blocking closure started")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	if err := loop.Do(ctx, func() { ran = true }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Do with cancelled context = %v, want context.Canceled", err)
	}
	if ran {
		t.Fatal("closure ran despite a cancelled context")
	}

	close(release)
	if err := testutil.RequireReceive(t, blocked, 5*time.Second, "blocking Do returns"); err != nil {
		t.Fatalf("blocking Do: %v", err)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	loop := New(nil)
	defer loop.Close()

	if err := loop.Do(context.Background(), func() { panic("boom") }); err == nil {
		t.Fatal("Do of a panicking closure returned nil")
	}
	if err := loop.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("loop unusable after panic: %v", err)
	}
}

func TestDoAfterClose(t *testing.T) {
	loop := New(nil)
	loop.Close()
	if err := loop.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Do after Close = %v, want ErrClosed", err)
	}
}
