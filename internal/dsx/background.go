// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"context"
	"sync"
)

// BackgroundTasks runs goroutines that outlive the HTTP request that started
// them, but not the process: Shutdown() cancels their context and waits for
// them to return.
type BackgroundTasks struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.Mutex
	closed bool
}

// NewBackgroundTasks creates a BackgroundTasks whose tasks are also cancelled
// when the given parent context expires.
func NewBackgroundTasks(parent context.Context) *BackgroundTasks {
	ctx, cancel := context.WithCancel(parent)
	return &BackgroundTasks{ctx: ctx, cancel: cancel}
}

// Go starts the given task in a new goroutine. After Shutdown(), this is a no-op.
func (b *BackgroundTasks) Go(task func(ctx context.Context)) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		task(b.ctx)
	}()
}

// Wait blocks until all tasks have returned, without cancelling them.
func (b *BackgroundTasks) Wait() {
	b.wg.Wait()
}

// Shutdown cancels all tasks and waits for them to return.
func (b *BackgroundTasks) Shutdown() {
	b.mutex.Lock()
	b.closed = true
	b.mutex.Unlock()

	b.cancel()
	b.wg.Wait()
}
