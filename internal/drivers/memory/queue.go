// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

func init() {
	dsx.RegisterTaskQueue("memory", func(cfg dsx.TaskQueueConfiguration) (dsx.TaskQueue, error) {
		return NewTaskQueue(cfg.BufferSize), nil
	})
}

// TaskQueue (queue ID "memory") is a dsx.TaskQueue backed by a buffered
// channel. Tasks do not survive a restart of the process.
type TaskQueue struct {
	tasks  chan dsx.ScanTask
	done   chan struct{}
	closer sync.Once
}

// NewTaskQueue builds a new TaskQueue. Enqueue blocks once bufferSize tasks
// are waiting.
func NewTaskQueue(bufferSize int) *TaskQueue {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &TaskQueue{
		tasks: make(chan dsx.ScanTask, bufferSize),
		done:  make(chan struct{}),
	}
}

// Enqueue implements the dsx.TaskQueue interface.
func (q *TaskQueue) Enqueue(ctx context.Context, task dsx.ScanTask) error {
	select {
	case <-q.done:
		return dsx.ErrQueueClosed
	default:
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.done:
		return dsx.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume implements the dsx.TaskQueue interface.
func (q *TaskQueue) Consume(ctx context.Context, handle func(context.Context, dsx.ScanTask)) error {
	for {
		select {
		case task := <-q.tasks:
			handle(ctx, task)
		case <-q.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Close implements the dsx.TaskQueue interface. Tasks that are still waiting
// in the queue are dropped.
func (q *TaskQueue) Close() error {
	q.closer.Do(func() { close(q.done) })
	return nil
}
