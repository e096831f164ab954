// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// StatsStoreDriver (driver ID "mongodb") is a dsx.StatsStoreDriver that keeps
// stats as JSON documents in a Redis hash keyed by scan ID. A separate list
// records the insertion order.
type StatsStoreDriver struct {
	rc        *redis.Client
	keyPrefix string
}

// NewStatsStoreDriver builds a StatsStoreDriver. All keys used by it start
// with the given prefix.
func NewStatsStoreDriver(rc *redis.Client, keyPrefix string) *StatsStoreDriver {
	if keyPrefix == "" {
		keyPrefix = dsx.Component
	}
	return &StatsStoreDriver{rc: rc, keyPrefix: keyPrefix}
}

func (d *StatsStoreDriver) documentsKey() string { return d.keyPrefix + ":stats" }
func (d *StatsStoreDriver) orderKey() string     { return d.keyPrefix + ":stats:order" }

func decodeStats(scanID, str string) (dsx.ScanStats, error) {
	var stats dsx.ScanStats
	err := json.Unmarshal([]byte(str), &stats)
	if err != nil {
		return dsx.ScanStats{}, fmt.Errorf("cannot decode stats for %q: %w", scanID, err)
	}
	return stats, nil
}

// Get implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Get(scanID string) (*dsx.ScanStats, error) {
	str, err := d.rc.HGet(context.Background(), d.documentsKey(), scanID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stats, err := decodeStats(scanID, str)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Upsert implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Upsert(scanID string, stats dsx.ScanStats) (bool, error) {
	ctx := context.Background()
	buf, err := json.Marshal(stats)
	if err != nil {
		return false, err
	}
	inserted, err := d.rc.HSetNX(ctx, d.documentsKey(), scanID, buf).Result()
	if err != nil {
		return false, err
	}
	if inserted {
		return true, d.rc.RPush(ctx, d.orderKey(), scanID).Err()
	}
	return false, d.rc.HSet(ctx, d.documentsKey(), scanID, buf).Err()
}

// Delete implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Delete(scanID string) (bool, error) {
	ctx := context.Background()
	var hdel *redis.IntCmd
	_, err := d.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hdel = pipe.HDel(ctx, d.documentsKey(), scanID)
		pipe.LRem(ctx, d.orderKey(), 0, scanID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return hdel.Val() > 0, nil
}

// DeleteOldest implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) DeleteOldest() error {
	ctx := context.Background()
	scanIDs, err := d.rc.LRange(ctx, d.orderKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, scanID := range scanIDs {
		if scanID != dsx.GlobalStatsID {
			_, err := d.Delete(scanID)
			return err
		}
	}
	return nil
}

// ReadAll implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) ReadAll() ([]dsx.ScanStatsRecord, error) {
	ctx := context.Background()
	scanIDs, err := d.rc.LRange(ctx, d.orderKey(), 0, -1).Result()
	if err != nil || len(scanIDs) == 0 {
		return nil, err
	}
	values, err := d.rc.HMGet(ctx, d.documentsKey(), scanIDs...).Result()
	if err != nil {
		return nil, err
	}

	var records []dsx.ScanStatsRecord
	for idx, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		stats, err := decodeStats(scanIDs[idx], str)
		if err != nil {
			return nil, err
		}
		records = append(records, dsx.ScanStatsRecord{ScanID: scanIDs[idx], Stats: stats})
	}
	return records, nil
}

// Len implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Len() (int, error) {
	count, err := d.rc.HLen(context.Background(), d.documentsKey()).Result()
	return int(count), err
}

// Close implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Close() error {
	return d.rc.Close()
}
