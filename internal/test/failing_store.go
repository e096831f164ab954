// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"errors"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// ErrStoreUnavailable is returned by FailingResultStoreDriver and
// FailingStatsStoreDriver.
var ErrStoreUnavailable = errors.New("database is unavailable")

// FailingResultStoreDriver is a dsx.ResultStoreDriver whose every operation
// fails with ErrStoreUnavailable.
type FailingResultStoreDriver struct{}

// Insert implements the dsx.ResultStoreDriver interface.
func (FailingResultStoreDriver) Insert(dsx.ScanResult) (int64, error) {
	return 0, ErrStoreUnavailable
}

// Delete implements the dsx.ResultStoreDriver interface.
func (FailingResultStoreDriver) Delete(dsx.ResultField, string) (bool, error) {
	return false, ErrStoreUnavailable
}

// DeleteOldest implements the dsx.ResultStoreDriver interface.
func (FailingResultStoreDriver) DeleteOldest() error { return ErrStoreUnavailable }

// ReadAll implements the dsx.ResultStoreDriver interface.
func (FailingResultStoreDriver) ReadAll() ([]dsx.ScanResult, error) { return nil, ErrStoreUnavailable }

// Find implements the dsx.ResultStoreDriver interface.
func (FailingResultStoreDriver) Find(dsx.ResultField, string) ([]dsx.ScanResult, error) {
	return nil, ErrStoreUnavailable
}

// Len implements the dsx.ResultStoreDriver interface.
func (FailingResultStoreDriver) Len() (int, error) { return 0, ErrStoreUnavailable }

// Close implements the dsx.ResultStoreDriver interface.
func (FailingResultStoreDriver) Close() error { return nil }

// FailingStatsStoreDriver is a dsx.StatsStoreDriver whose every operation
// fails with ErrStoreUnavailable.
type FailingStatsStoreDriver struct{}

// Get implements the dsx.StatsStoreDriver interface.
func (FailingStatsStoreDriver) Get(string) (*dsx.ScanStats, error) { return nil, ErrStoreUnavailable }

// Upsert implements the dsx.StatsStoreDriver interface.
func (FailingStatsStoreDriver) Upsert(string, dsx.ScanStats) (bool, error) {
	return false, ErrStoreUnavailable
}

// Delete implements the dsx.StatsStoreDriver interface.
func (FailingStatsStoreDriver) Delete(string) (bool, error) { return false, ErrStoreUnavailable }

// DeleteOldest implements the dsx.StatsStoreDriver interface.
func (FailingStatsStoreDriver) DeleteOldest() error { return ErrStoreUnavailable }

// ReadAll implements the dsx.StatsStoreDriver interface.
func (FailingStatsStoreDriver) ReadAll() ([]dsx.ScanStatsRecord, error) {
	return nil, ErrStoreUnavailable
}

// Len implements the dsx.StatsStoreDriver interface.
func (FailingStatsStoreDriver) Len() (int, error) { return 0, ErrStoreUnavailable }

// Close implements the dsx.StatsStoreDriver interface.
func (FailingStatsStoreDriver) Close() error { return nil }
