// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/sapcc/dsx-connect/internal/dsx"
)

func init() {
	dsx.RegisterResultStoreDriver("memory", func(dsx.DatabaseConfiguration) (dsx.ResultStoreDriver, error) {
		return NewResultStoreDriver(), nil
	})
	dsx.RegisterStatsStoreDriver("memory", func(dsx.DatabaseConfiguration) (dsx.StatsStoreDriver, error) {
		return NewStatsStoreDriver(), nil
	})
}

// ResultStoreDriver (driver ID "memory") is a dsx.ResultStoreDriver that
// keeps results in process memory, in insertion order.
type ResultStoreDriver struct {
	results []dsx.ScanResult
	nextID  int64
}

// NewResultStoreDriver builds a new ResultStoreDriver.
func NewResultStoreDriver() *ResultStoreDriver {
	return &ResultStoreDriver{nextID: 1}
}

// Insert implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Insert(result dsx.ScanResult) (int64, error) {
	result.ID = d.nextID
	d.nextID++
	d.results = append(d.results, result)
	return result.ID, nil
}

// Delete implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Delete(field dsx.ResultField, value string) (bool, error) {
	kept := d.results[:0]
	for _, r := range d.results {
		if !field.Matches(r, value) {
			kept = append(kept, r)
		}
	}
	deleted := len(kept) < len(d.results)
	clear(d.results[len(kept):])
	d.results = kept
	return deleted, nil
}

// DeleteOldest implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) DeleteOldest() error {
	if len(d.results) > 0 {
		d.results = d.results[1:]
	}
	return nil
}

// ReadAll implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) ReadAll() ([]dsx.ScanResult, error) {
	return append([]dsx.ScanResult(nil), d.results...), nil
}

// Find implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Find(field dsx.ResultField, value string) ([]dsx.ScanResult, error) {
	var matches []dsx.ScanResult
	for _, r := range d.results {
		if field.Matches(r, value) {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// Len implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Len() (int, error) {
	return len(d.results), nil
}

// Close implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Close() error {
	return nil
}
