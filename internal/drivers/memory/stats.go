// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"slices"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// StatsStoreDriver (driver ID "memory") is a dsx.StatsStoreDriver that keeps
// stats in process memory, in insertion order.
type StatsStoreDriver struct {
	records []dsx.ScanStatsRecord
}

// NewStatsStoreDriver builds a new StatsStoreDriver.
func NewStatsStoreDriver() *StatsStoreDriver {
	return &StatsStoreDriver{}
}

func (d *StatsStoreDriver) indexOf(scanID string) int {
	return slices.IndexFunc(d.records, func(r dsx.ScanStatsRecord) bool { return r.ScanID == scanID })
}

// Get implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Get(scanID string) (*dsx.ScanStats, error) {
	idx := d.indexOf(scanID)
	if idx < 0 {
		return nil, nil
	}
	stats := d.records[idx].Stats
	return &stats, nil
}

// Upsert implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Upsert(scanID string, stats dsx.ScanStats) (bool, error) {
	idx := d.indexOf(scanID)
	if idx >= 0 {
		d.records[idx].Stats = stats
		return false, nil
	}
	d.records = append(d.records, dsx.ScanStatsRecord{ScanID: scanID, Stats: stats})
	return true, nil
}

// Delete implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Delete(scanID string) (bool, error) {
	idx := d.indexOf(scanID)
	if idx < 0 {
		return false, nil
	}
	d.records = slices.Delete(d.records, idx, idx+1)
	return true, nil
}

// DeleteOldest implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) DeleteOldest() error {
	idx := slices.IndexFunc(d.records, func(r dsx.ScanStatsRecord) bool { return r.ScanID != dsx.GlobalStatsID })
	if idx >= 0 {
		d.records = slices.Delete(d.records, idx, idx+1)
	}
	return nil
}

// ReadAll implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) ReadAll() ([]dsx.ScanStatsRecord, error) {
	return slices.Clone(d.records), nil
}

// Len implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Len() (int, error) {
	return len(d.records), nil
}

// Close implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Close() error {
	return nil
}
