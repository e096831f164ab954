// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

func init() {
	dsx.RegisterResultStoreDriver("mongodb", func(cfg dsx.DatabaseConfiguration) (dsx.ResultStoreDriver, error) {
		rc, err := connect(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewResultStoreDriver(rc, cfg.Location), nil
	})
	dsx.RegisterStatsStoreDriver("mongodb", func(cfg dsx.DatabaseConfiguration) (dsx.StatsStoreDriver, error) {
		rc, err := connect(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewStatsStoreDriver(rc, cfg.Location), nil
	})
}

func connect(opts *redis.Options) (*redis.Client, error) {
	if opts == nil {
		return nil, errors.New("no Redis connection options configured")
	}
	return redis.NewClient(opts), nil
}

// ResultStoreDriver (driver ID "mongodb") is a dsx.ResultStoreDriver that
// keeps results as JSON documents in a Redis hash. A separate list records
// the insertion order.
type ResultStoreDriver struct {
	rc        *redis.Client
	keyPrefix string
}

// NewResultStoreDriver builds a ResultStoreDriver. All keys used by it start
// with the given prefix.
func NewResultStoreDriver(rc *redis.Client, keyPrefix string) *ResultStoreDriver {
	if keyPrefix == "" {
		keyPrefix = dsx.Component
	}
	return &ResultStoreDriver{rc: rc, keyPrefix: keyPrefix}
}

func (d *ResultStoreDriver) documentsKey() string { return d.keyPrefix + ":results" }
func (d *ResultStoreDriver) orderKey() string     { return d.keyPrefix + ":results:order" }
func (d *ResultStoreDriver) nextIDKey() string    { return d.keyPrefix + ":results:next_id" }

// Insert implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Insert(result dsx.ScanResult) (int64, error) {
	ctx := context.Background()
	id, err := d.rc.Incr(ctx, d.nextIDKey()).Result()
	if err != nil {
		return 0, err
	}
	result.ID = id
	buf, err := json.Marshal(result)
	if err != nil {
		return 0, err
	}

	idStr := strconv.FormatInt(id, 10)
	_, err = d.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.documentsKey(), idStr, buf)
		pipe.RPush(ctx, d.orderKey(), idStr)
		return nil
	})
	return id, err
}

// Returns (ID, document) pairs in insertion order.
func (d *ResultStoreDriver) readAll(ctx context.Context) ([]string, []dsx.ScanResult, error) {
	ids, err := d.rc.LRange(ctx, d.orderKey(), 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return nil, nil, err
	}
	values, err := d.rc.HMGet(ctx, d.documentsKey(), ids...).Result()
	if err != nil {
		return nil, nil, err
	}

	var (
		resultIDs []string
		results   []dsx.ScanResult
	)
	for idx, value := range values {
		str, ok := value.(string)
		if !ok {
			continue // document was removed concurrently
		}
		var r dsx.ScanResult
		err := json.Unmarshal([]byte(str), &r)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot decode scan result %s: %w", ids[idx], err)
		}
		resultIDs = append(resultIDs, ids[idx])
		results = append(results, r)
	}
	return resultIDs, results, nil
}

// Delete implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Delete(field dsx.ResultField, value string) (bool, error) {
	ctx := context.Background()
	ids, results, err := d.readAll(ctx)
	if err != nil {
		return false, err
	}

	var matchingIDs []string
	for idx, r := range results {
		if field.Matches(r, value) {
			matchingIDs = append(matchingIDs, ids[idx])
		}
	}
	if len(matchingIDs) == 0 {
		return false, nil
	}

	_, err = d.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, d.documentsKey(), matchingIDs...)
		for _, id := range matchingIDs {
			pipe.LRem(ctx, d.orderKey(), 1, id)
		}
		return nil
	})
	return err == nil, err
}

// DeleteOldest implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) DeleteOldest() error {
	ctx := context.Background()
	id, err := d.rc.LPop(ctx, d.orderKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return d.rc.HDel(ctx, d.documentsKey(), id).Err()
}

// ReadAll implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) ReadAll() ([]dsx.ScanResult, error) {
	_, results, err := d.readAll(context.Background())
	return results, err
}

// Find implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Find(field dsx.ResultField, value string) ([]dsx.ScanResult, error) {
	ctx := context.Background()
	if field == dsx.FieldID {
		str, err := d.rc.HGet(ctx, d.documentsKey(), value).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var r dsx.ScanResult
		err = json.Unmarshal([]byte(str), &r)
		if err != nil {
			return nil, fmt.Errorf("cannot decode scan result %s: %w", value, err)
		}
		return []dsx.ScanResult{r}, nil
	}

	_, results, err := d.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var matches []dsx.ScanResult
	for _, r := range results {
		if field.Matches(r, value) {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// Len implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Len() (int, error) {
	count, err := d.rc.HLen(context.Background(), d.documentsKey()).Result()
	return int(count), err
}

// Close implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Close() error {
	return d.rc.Close()
}
