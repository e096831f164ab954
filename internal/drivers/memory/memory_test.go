// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/test"
)

func TestResultStoreDriver(t *testing.T) {
	test.RunResultStoreSuite(t, func(t *testing.T) dsx.ResultStoreDriver {
		return NewResultStoreDriver()
	})
}

func TestStatsStoreDriver(t *testing.T) {
	test.RunStatsStoreSuite(t, func(t *testing.T) dsx.StatsStoreDriver {
		return NewStatsStoreDriver()
	})
}

func TestTaskQueue(t *testing.T) {
	q := must.ReturnT(dsx.NewTaskQueue(dsx.TaskQueueConfiguration{Type: "memory", BufferSize: 10}))(t)
	ctx := t.Context()

	for _, id := range []string{"task-1", "task-2"} {
		must.SucceedT(t, q.Enqueue(ctx, dsx.ScanTask{ID: id, Request: dsx.ScanRequest{Location: id}}))
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	received := make(chan string, 2)
	done := make(chan error)
	go func() {
		done <- q.Consume(consumeCtx, func(_ context.Context, task dsx.ScanTask) {
			received <- task.ID
		})
	}()

	var ids []string
	for range 2 {
		select {
		case id := <-received:
			ids = append(ids, id)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout while waiting for tasks")
		}
	}
	assert.DeepEqual(t, "consumed tasks", ids, []string{"task-1", "task-2"})

	cancel()
	must.SucceedT(t, <-done)

	must.SucceedT(t, q.Close())
	err := q.Enqueue(ctx, dsx.ScanTask{ID: "task-3"})
	if !errors.Is(err, dsx.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed after Close(), got %v", err)
	}
}

func TestTaskQueueEnqueueRespectsContext(t *testing.T) {
	q := NewTaskQueue(0)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, dsx.ScanTask{ID: "task-1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded on full queue, got %v", err)
	}
}
