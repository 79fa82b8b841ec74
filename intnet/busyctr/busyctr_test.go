// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package busyctr

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireReleaseBalanced(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Acquire()
	}
	if got := c.Count(); got != 10 {
		t.Fatalf("Count() = %d, want 10", got)
	}
	for i := 0; i < 10; i++ {
		c.Release()
	}
	if c.Busy() {
		t.Fatalf("expected Busy() == false after balanced release")
	}
}

func TestQuiesceReturnsImmediatelyWhenIdle(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Quiesce(ctx); err != nil {
		t.Fatalf("Quiesce on idle counter: %v", err)
	}
	if c.v.Load() != 0 {
		t.Fatalf("counter left at %d, want 0", c.v.Load())
	}
}

func TestQuiesceWaitsForLastRelease(t *testing.T) {
	c := New()
	c.Acquire()
	c.Acquire()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- c.Quiesce(ctx)
	}()

	// Quiesce must still be blocked: two holders outstanding.
	select {
	case err := <-done:
		t.Fatalf("Quiesce returned early (err=%v) with holders still outstanding", err)
	case <-time.After(20 * time.Millisecond):
	}

	c.Release()
	c.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Quiesce failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Quiesce never woke after final release")
	}
	if c.v.Load() != 0 {
		t.Fatalf("counter left at %d, want 0 after quiesce", c.v.Load())
	}
}

func TestQuiesceContextCancel(t *testing.T) {
	c := New()
	c.Acquire()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Quiesce(ctx); err == nil {
		t.Fatalf("expected Quiesce to report context error while holder outstanding")
	}
	c.Release()
}

// TestConcurrentAcquireRelease mirrors the teacher's concurrent ring/eventloop
// property tests: many goroutines race Acquire/Release while one goroutine
// repeatedly quiesces, and the counter must always settle back to zero.
func TestConcurrentAcquireRelease(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	const workers = 16
	const iterations = 2000

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				c.Acquire()
				c.Release()
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Quiesce(ctx); err != nil {
		t.Fatalf("final Quiesce: %v", err)
	}
	if c.Busy() {
		t.Fatalf("counter still busy after all workers finished")
	}
}
