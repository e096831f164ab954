// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sapcc/go-bits/assert"
)

func TestBackgroundTasks(t *testing.T) {
	b := NewBackgroundTasks(t.Context())
	var count atomic.Int64
	for range 3 {
		b.Go(func(context.Context) { count.Add(1) })
	}
	b.Wait()
	assert.DeepEqual(t, "tasks run before Shutdown", count.Load(), int64(3))

	b.Go(func(ctx context.Context) {
		<-ctx.Done()
		count.Add(1)
	})
	b.Shutdown()
	assert.DeepEqual(t, "tasks run after Shutdown", count.Load(), int64(4))

	b.Go(func(context.Context) { count.Add(1) })
	b.Wait()
	assert.DeepEqual(t, "tasks started after Shutdown", count.Load(), int64(4))
}

func TestBackgroundTasksGoRacingShutdown(t *testing.T) {
	b := NewBackgroundTasks(t.Context())
	var started, finished atomic.Int64
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Go(func(ctx context.Context) {
				started.Add(1)
				<-ctx.Done()
				finished.Add(1)
			})
		}()
	}

	b.Shutdown()
	// every task that was admitted has been joined by Shutdown
	assert.DeepEqual(t, "unfinished tasks after Shutdown", started.Load()-finished.Load(), int64(0))

	// tasks submitted after Shutdown never start
	wg.Wait()
	b.Wait()
	assert.DeepEqual(t, "unfinished tasks after all submissions", started.Load()-finished.Load(), int64(0))
}
