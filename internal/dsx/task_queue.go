// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"context"
	"errors"
	"fmt"
)

// TaskQueue carries ScanTasks from the hub's HTTP API to its scan workers.
type TaskQueue interface {
	// Enqueue adds a task to the queue. It may block while the queue is full,
	// but not beyond the lifetime of ctx.
	Enqueue(ctx context.Context, task ScanTask) error
	// Consume takes tasks off the queue and calls handle for each of them,
	// one at a time, until ctx expires. It may be called from multiple
	// goroutines to process tasks in parallel. The return value is nil if
	// Consume stopped because ctx expired.
	Consume(ctx context.Context, handle func(context.Context, ScanTask)) error
	Close() error
}

// ErrQueueClosed is returned by TaskQueue.Enqueue after Close() was called.
var ErrQueueClosed = errors.New("task queue is closed")

var taskQueueFactories = make(map[string]func(TaskQueueConfiguration) (TaskQueue, error))

// RegisterTaskQueue registers a TaskQueue implementation. Call this from func
// init() of the package defining the TaskQueue.
func RegisterTaskQueue(name string, factory func(TaskQueueConfiguration) (TaskQueue, error)) {
	if _, exists := taskQueueFactories[name]; exists {
		panic("attempted to register multiple task queues with name = " + name)
	}
	taskQueueFactories[name] = factory
}

// NewTaskQueue creates a TaskQueue using the implementation that was
// registered under the configured queue type.
func NewTaskQueue(cfg TaskQueueConfiguration) (TaskQueue, error) {
	factory := taskQueueFactories[cfg.Type]
	if factory == nil {
		return nil, errors.New("no such task queue: " + cfg.Type)
	}
	q, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not initialize task queue %q: %w", cfg.Type, err)
	}
	return q, nil
}
