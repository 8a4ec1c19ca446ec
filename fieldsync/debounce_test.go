// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesRapidTriggers(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var calls atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 5; i++ {
		v := int32(i)
		d.Trigger("k", func() {
			calls.Add(1)
			last.Store(v)
		})
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(5), last.Load())

	// The window expired; nothing further fires.
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}

func TestDebouncerRetriggerAtWindowBoundary(t *testing.T) {
	d := NewDebouncer(60 * time.Millisecond)

	// Re-trigger just before the window elapses, racing each timer's fire
	// against its replacement. No registration may run before a full quiet
	// window has passed since its own trigger.
	type run struct {
		v  int
		at time.Time
	}
	var mu sync.Mutex
	var runs []run
	trigAt := make([]time.Time, 5)
	for i := 0; i < 5; i++ {
		v := i
		trigAt[i] = time.Now()
		d.Trigger("k", func() {
			mu.Lock()
			runs = append(runs, run{v: v, at: time.Now()})
			mu.Unlock()
		})
		time.Sleep(55 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, runs)
	require.Equal(t, 4, runs[len(runs)-1].v)
	for _, r := range runs {
		require.GreaterOrEqual(t, r.at.Sub(trigAt[r.v]), 60*time.Millisecond)
	}
}

func TestDebouncerIsolatesKeys(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)

	var a, b atomic.Int32
	d.Trigger("a", func() { a.Add(1) })
	d.Trigger("b", func() { b.Add(1) })

	require.Eventually(t, func() bool {
		return a.Load() == 1 && b.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncerFlushRunsPendingImmediately(t *testing.T) {
	d := NewDebouncer(time.Hour)

	var calls atomic.Int32
	d.Trigger("k1", func() { calls.Add(1) })
	d.Trigger("k2", func() { calls.Add(1) })

	d.Flush()
	require.Equal(t, int32(2), calls.Load())

	// Flushed entries must not fire again.
	d.Flush()
	require.Equal(t, int32(2), calls.Load())
}
