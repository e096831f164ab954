// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

func init() {
	dsx.RegisterTaskQueue("redis", func(cfg dsx.TaskQueueConfiguration) (dsx.TaskQueue, error) {
		rc, err := connect(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewTaskQueue(rc, cfg.Name), nil
	})
}

// How long a single BRPOP waits before Consume checks its context again.
const popTimeout = time.Second

// How long Consume waits after a failed BRPOP before trying again.
var retryInterval = 500 * time.Millisecond

// TaskQueue (queue ID "redis") is a dsx.TaskQueue backed by a Redis list.
// Tasks survive a restart of the hub, and several hub processes can consume
// from the same queue.
type TaskQueue struct {
	rc  *redis.Client
	key string
}

// NewTaskQueue builds a TaskQueue that stores its tasks in the list with the
// given key.
func NewTaskQueue(rc *redis.Client, key string) *TaskQueue {
	if key == "" {
		key = dsx.Component + ":tasks"
	}
	return &TaskQueue{rc: rc, key: key}
}

// Enqueue implements the dsx.TaskQueue interface.
func (q *TaskQueue) Enqueue(ctx context.Context, task dsx.ScanTask) error {
	buf, err := json.Marshal(task)
	if err != nil {
		return err
	}
	err = q.rc.LPush(ctx, q.key, buf).Err()
	if errors.Is(err, redis.ErrClosed) {
		return dsx.ErrQueueClosed
	}
	return err
}

// Consume implements the dsx.TaskQueue interface. Connection errors are
// logged and retried, so Consume only returns once ctx expires or the queue
// is closed.
func (q *TaskQueue) Consume(ctx context.Context, handle func(context.Context, dsx.ScanTask)) error {
	for ctx.Err() == nil {
		values, err := q.rc.BRPop(ctx, popTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue // timeout, queue is empty
		case errors.Is(err, redis.ErrClosed) || ctx.Err() != nil:
			return nil
		case err != nil:
			// connection problems are transient: retry until the server is back
			logg.Error("cannot pop task from %s (retrying in %s): %s", q.key, retryInterval, err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryInterval):
			}
			continue
		}

		// values is [key, element]
		var task dsx.ScanTask
		err = json.Unmarshal([]byte(values[1]), &task)
		if err != nil {
			logg.Error("discarding malformed task from %s: %s", q.key, err.Error())
			continue
		}
		handle(ctx, task)
	}
	return nil
}

// Close implements the dsx.TaskQueue interface.
func (q *TaskQueue) Close() error {
	return q.rc.Close()
}
