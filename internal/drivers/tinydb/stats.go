// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tinydb

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/buntdb"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

const (
	statsKeyPrefix  = "stats:"
	statsSeqIndex   = "stats_by_seq"
	nextStatsSeqKey = "meta:next_stats_seq"
)

type statsDocument struct {
	Seq    int64         `json:"seq"`
	ScanID string        `json:"scan_id"`
	Stats  dsx.ScanStats `json:"stats"`
}

// StatsStoreDriver (driver ID "tinydb") is a dsx.StatsStoreDriver that
// persists stats as JSON documents in an embedded buntdb file. Insertion
// order is tracked through a sequence number in each document.
type StatsStoreDriver struct {
	db *buntdb.DB
}

// NewStatsStoreDriver wraps an open buntdb database.
func NewStatsStoreDriver(db *buntdb.DB) (*StatsStoreDriver, error) {
	err := db.ReplaceIndex(statsSeqIndex, statsKeyPrefix+"*", buntdb.IndexJSON("seq"))
	if err != nil {
		return nil, fmt.Errorf("cannot create index %s: %w", statsSeqIndex, err)
	}
	return &StatsStoreDriver{db: db}, nil
}

func getStatsDocument(tx *buntdb.Tx, scanID string) (*statsDocument, error) {
	str, err := tx.Get(statsKeyPrefix + scanID)
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc statsDocument
	err = json.Unmarshal([]byte(str), &doc)
	if err != nil {
		return nil, fmt.Errorf("cannot decode stats for %q: %w", scanID, err)
	}
	return &doc, nil
}

// Get implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Get(scanID string) (stats *dsx.ScanStats, err error) {
	err = d.db.View(func(tx *buntdb.Tx) error {
		doc, err := getStatsDocument(tx, scanID)
		if doc != nil {
			stats = &doc.Stats
		}
		return err
	})
	return stats, err
}

// Upsert implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Upsert(scanID string, stats dsx.ScanStats) (inserted bool, err error) {
	err = d.db.Update(func(tx *buntdb.Tx) error {
		doc, err := getStatsDocument(tx, scanID)
		if err != nil {
			return err
		}
		if doc == nil {
			inserted = true
			seq, err := nextStatsSeq(tx)
			if err != nil {
				return err
			}
			doc = &statsDocument{Seq: seq, ScanID: scanID}
		}
		doc.Stats = stats

		buf, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(statsKeyPrefix+scanID, string(buf), nil)
		return err
	})
	return inserted, err
}

func nextStatsSeq(tx *buntdb.Tx) (int64, error) {
	seq := int64(1)
	str, err := tx.Get(nextStatsSeqKey)
	switch {
	case err == nil:
		seq, err = strconv.ParseInt(str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupted %s: %w", nextStatsSeqKey, err)
		}
	case !errors.Is(err, buntdb.ErrNotFound):
		return 0, err
	}
	_, _, err = tx.Set(nextStatsSeqKey, strconv.FormatInt(seq+1, 10), nil)
	return seq, err
}

// Delete implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Delete(scanID string) (deleted bool, err error) {
	err = d.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(statsKeyPrefix + scanID)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		deleted = err == nil
		return err
	})
	return deleted, err
}

// DeleteOldest implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) DeleteOldest() error {
	return d.db.Update(func(tx *buntdb.Tx) error {
		var oldest string
		err := tx.Ascend(statsSeqIndex, func(key, _ string) bool {
			if key == statsKeyPrefix+dsx.GlobalStatsID {
				return true
			}
			oldest = key
			return false
		})
		if err != nil || oldest == "" {
			return err
		}
		_, err = tx.Delete(oldest)
		return err
	})
}

// ReadAll implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) ReadAll() ([]dsx.ScanStatsRecord, error) {
	var records []dsx.ScanStatsRecord
	err := d.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.Ascend(statsSeqIndex, func(key, value string) bool {
			var doc statsDocument
			decodeErr = json.Unmarshal([]byte(value), &doc)
			if decodeErr != nil {
				decodeErr = fmt.Errorf("cannot decode %s: %w", key, decodeErr)
				return false
			}
			records = append(records, dsx.ScanStatsRecord{ScanID: doc.ScanID, Stats: doc.Stats})
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	return records, err
}

// Len implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Len() (int, error) {
	count := 0
	err := d.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(statsSeqIndex, func(_, _ string) bool {
			count++
			return true
		})
	})
	return count, err
}

// Close implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Close() error {
	return d.db.Close()
}
