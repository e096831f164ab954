// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/test"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestResultStoreDriver(t *testing.T) {
	test.RunResultStoreSuite(t, func(t *testing.T) dsx.ResultStoreDriver {
		return NewResultStoreDriver(newClient(t), "test")
	})
}

func TestStatsStoreDriver(t *testing.T) {
	test.RunStatsStoreSuite(t, func(t *testing.T) dsx.StatsStoreDriver {
		return NewStatsStoreDriver(newClient(t), "test")
	})
}

func TestResultStoreKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	s := dsx.NewResultStoreWithDriver(NewResultStoreDriver(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dsx"), -1)
	defer s.Close()

	must.ReturnT(s.Insert(test.NewScanResult(1)))(t)
	must.ReturnT(s.Insert(test.NewScanResult(2)))(t)

	order, err := mr.List("dsx:results:order")
	must.SucceedT(t, err)
	assert.DeepEqual(t, "insertion order", order, []string{"1", "2"})
	assert.DeepEqual(t, "next ID", must.ReturnT(mr.Get("dsx:results:next_id"))(t), "2")
}

func TestFactoryNeedsOptions(t *testing.T) {
	_, err := dsx.NewResultStore(dsx.DatabaseConfiguration{Type: "mongodb"})
	if err == nil {
		t.Error("expected mongodb driver without Redis options to fail")
	}
}

func TestTaskQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	q := must.ReturnT(dsx.NewTaskQueue(dsx.TaskQueueConfiguration{
		Type:  "redis",
		Name:  "dsx:tasks",
		Redis: &redis.Options{Addr: mr.Addr()},
	}))(t)
	ctx := t.Context()

	for _, id := range []string{"task-1", "task-2"} {
		must.SucceedT(t, q.Enqueue(ctx, dsx.ScanTask{ID: id, Request: dsx.ScanRequest{Location: "/data/" + id}}))
	}
	// a malformed entry is skipped without stopping the consumer
	must.ReturnT(mr.Lpush("dsx:tasks", "not json"))(t)
	must.SucceedT(t, q.Enqueue(ctx, dsx.ScanTask{ID: "task-3"}))

	consumeCtx, cancel := context.WithCancel(ctx)
	received := make(chan dsx.ScanTask, 3)
	done := make(chan error)
	go func() {
		done <- q.Consume(consumeCtx, func(_ context.Context, task dsx.ScanTask) {
			received <- task
		})
	}()

	var ids []string
	for range 3 {
		select {
		case task := <-received:
			ids = append(ids, task.ID)
			if task.ID == "task-1" {
				assert.DeepEqual(t, "location", task.Request.Location, "/data/task-1")
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout while waiting for tasks")
		}
	}
	assert.DeepEqual(t, "consumed tasks", ids, []string{"task-1", "task-2", "task-3"})

	cancel()
	must.SucceedT(t, <-done)

	must.SucceedT(t, q.Close())
	err := q.Enqueue(ctx, dsx.ScanTask{ID: "task-4"})
	if !errors.Is(err, dsx.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed after Close(), got %v", err)
	}
}

func TestTaskQueueSurvivesServerRestart(t *testing.T) {
	retryInterval = 50 * time.Millisecond
	mr := miniredis.RunT(t)
	q := NewTaskQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dsx:tasks")
	defer q.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	received := make(chan dsx.ScanTask, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, task dsx.ScanTask) {
			received <- task
		})
	}()

	// while the server is down, the consumer keeps trying
	mr.Close()
	time.Sleep(300 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("consumer returned during server outage: %v", err)
	default:
	}
	must.SucceedT(t, mr.Restart())

	must.SucceedT(t, q.Enqueue(ctx, dsx.ScanTask{ID: "task-1"}))
	select {
	case task := <-received:
		assert.DeepEqual(t, "task ID", task.ID, "task-1")
	case err := <-done:
		t.Fatalf("consumer returned after server restart: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout while waiting for task after server restart")
	}

	cancel()
	must.SucceedT(t, <-done)
}
