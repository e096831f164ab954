// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tinydb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/buntdb"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

func init() {
	dsx.RegisterResultStoreDriver("tinydb", func(cfg dsx.DatabaseConfiguration) (dsx.ResultStoreDriver, error) {
		db, err := openDatabase(cfg.Location)
		if err != nil {
			return nil, err
		}
		return NewResultStoreDriver(db), nil
	})
	dsx.RegisterStatsStoreDriver("tinydb", func(cfg dsx.DatabaseConfiguration) (dsx.StatsStoreDriver, error) {
		db, err := openDatabase(cfg.Location)
		if err != nil {
			return nil, err
		}
		return NewStatsStoreDriver(db)
	})
}

const (
	resultKeyPattern = "result:*"
	nextResultIDKey  = "meta:next_result_id"
)

// The ID is zero-padded so that key order equals insertion order.
func resultKey(id int64) string {
	return fmt.Sprintf("result:%020d", id)
}

// openDatabase opens a buntdb file, creating its parent directory if
// necessary. The location ":memory:" gives a database without persistence.
func openDatabase(location string) (*buntdb.DB, error) {
	if location != ":memory:" {
		err := os.MkdirAll(filepath.Dir(location), 0o777)
		if err != nil {
			return nil, err
		}
	}
	db, err := buntdb.Open(location)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", location, err)
	}
	return db, nil
}

// ResultStoreDriver (driver ID "tinydb") is a dsx.ResultStoreDriver that
// persists results as JSON documents in an embedded buntdb file.
type ResultStoreDriver struct {
	db *buntdb.DB
}

// NewResultStoreDriver wraps an open buntdb database.
func NewResultStoreDriver(db *buntdb.DB) *ResultStoreDriver {
	return &ResultStoreDriver{db: db}
}

// Insert implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Insert(result dsx.ScanResult) (id int64, err error) {
	err = d.db.Update(func(tx *buntdb.Tx) error {
		id = 1
		str, err := tx.Get(nextResultIDKey)
		switch {
		case err == nil:
			id, err = strconv.ParseInt(str, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupted %s: %w", nextResultIDKey, err)
			}
		case !errors.Is(err, buntdb.ErrNotFound):
			return err
		}

		result.ID = id
		buf, err := json.Marshal(result)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(resultKey(id), string(buf), nil)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(nextResultIDKey, strconv.FormatInt(id+1, 10), nil)
		return err
	})
	return id, err
}

// Iterates over all results in insertion order until the callback returns false.
func foreachResult(tx *buntdb.Tx, action func(key string, r dsx.ScanResult) bool) error {
	var decodeErr error
	err := tx.AscendKeys(resultKeyPattern, func(key, value string) bool {
		var r dsx.ScanResult
		decodeErr = json.Unmarshal([]byte(value), &r)
		if decodeErr != nil {
			decodeErr = fmt.Errorf("cannot decode %s: %w", key, decodeErr)
			return false
		}
		return action(key, r)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// Delete implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Delete(field dsx.ResultField, value string) (bool, error) {
	var keys []string
	err := d.db.Update(func(tx *buntdb.Tx) error {
		err := foreachResult(tx, func(key string, r dsx.ScanResult) bool {
			if field.Matches(r, value) {
				keys = append(keys, key)
			}
			return true
		})
		if err != nil {
			return err
		}
		// deleting while iterating is not allowed
		for _, key := range keys {
			_, err := tx.Delete(key)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return err == nil && len(keys) > 0, err
}

// DeleteOldest implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) DeleteOldest() error {
	return d.db.Update(func(tx *buntdb.Tx) error {
		var oldest string
		err := tx.AscendKeys(resultKeyPattern, func(key, _ string) bool {
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

// ReadAll implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) ReadAll() ([]dsx.ScanResult, error) {
	var results []dsx.ScanResult
	err := d.db.View(func(tx *buntdb.Tx) error {
		return foreachResult(tx, func(_ string, r dsx.ScanResult) bool {
			results = append(results, r)
			return true
		})
	})
	return results, err
}

// Find implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Find(field dsx.ResultField, value string) ([]dsx.ScanResult, error) {
	if field == dsx.FieldID {
		return d.findByID(value)
	}

	var results []dsx.ScanResult
	err := d.db.View(func(tx *buntdb.Tx) error {
		return foreachResult(tx, func(_ string, r dsx.ScanResult) bool {
			if field.Matches(r, value) {
				results = append(results, r)
			}
			return true
		})
	})
	return results, err
}

func (d *ResultStoreDriver) findByID(value string) ([]dsx.ScanResult, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, nil
	}
	var results []dsx.ScanResult
	err = d.db.View(func(tx *buntdb.Tx) error {
		str, err := tx.Get(resultKey(id))
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var r dsx.ScanResult
		err = json.Unmarshal([]byte(str), &r)
		if err != nil {
			return fmt.Errorf("cannot decode %s: %w", resultKey(id), err)
		}
		results = append(results, r)
		return nil
	})
	return results, err
}

// Len implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Len() (int, error) {
	count := 0
	err := d.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(resultKeyPattern, func(_, _ string) bool {
			count++
			return true
		})
	})
	return count, err
}

// Close implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Close() error {
	return d.db.Close()
}
