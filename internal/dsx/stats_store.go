// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"errors"
	"fmt"
	"sync"
)

// StatsStoreDriver is the backend behind a StatsStore. Like
// ResultStoreDriver, it does not need to be safe for concurrent use.
type StatsStoreDriver interface {
	// Get returns the row for the given scan ID, or nil if there is none.
	Get(scanID string) (*ScanStats, error)
	// Upsert replaces the row for the given scan ID, or inserts it if it does
	// not exist yet. The return value reports whether a row was inserted.
	Upsert(scanID string, stats ScanStats) (bool, error)
	Delete(scanID string) (bool, error)
	// DeleteOldest removes the row that was inserted first, except for the
	// GlobalStatsID row which is never evicted.
	DeleteOldest() error
	ReadAll() ([]ScanStatsRecord, error)
	Len() (int, error)
	Close() error
}

var statsStoreDriverFactories = make(map[string]func(DatabaseConfiguration) (StatsStoreDriver, error))

// RegisterStatsStoreDriver registers a StatsStoreDriver. Call this from func
// init() of the package defining the StatsStoreDriver.
func RegisterStatsStoreDriver(name string, factory func(DatabaseConfiguration) (StatsStoreDriver, error)) {
	if _, exists := statsStoreDriverFactories[name]; exists {
		panic("attempted to register multiple stats store drivers with name = " + name)
	}
	statsStoreDriverFactories[name] = factory
}

// NewStatsStore creates a StatsStore using the driver that was registered
// under the configured database type.
func NewStatsStore(cfg DatabaseConfiguration) (*StatsStore, error) {
	factory := statsStoreDriverFactories[cfg.Type]
	if factory == nil {
		return nil, errors.New("no such stats store driver: " + cfg.Type)
	}
	driver, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not initialize stats store driver %q: %w", cfg.Type, err)
	}
	return NewStatsStoreWithDriver(driver, -1), nil
}

// StatsStore is the store for ScanStats rows, keyed by scan ID. The
// GlobalStatsID row is created on first access if it does not exist.
type StatsStore struct {
	driver      StatsStoreDriver
	retain      int
	mutex       sync.RWMutex
	initialized bool
}

// NewStatsStoreWithDriver wraps an already initialized driver. The retain
// argument works like for ResultStore, except that the GlobalStatsID row is
// never evicted.
func NewStatsStoreWithDriver(driver StatsStoreDriver, retain int) *StatsStore {
	return &StatsStore{driver: driver, retain: retain}
}

// Creates the GlobalStatsID row if necessary. The caller must hold the write lock.
func (s *StatsStore) ensureGlobalStats() error {
	if s.initialized {
		return nil
	}
	existing, err := s.driver.Get(GlobalStatsID)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err = s.driver.Upsert(GlobalStatsID, ScanStats{})
		if err != nil {
			return fmt.Errorf("cannot create %s row: %w", GlobalStatsID, err)
		}
	}
	s.initialized = true
	return nil
}

// Reads only need the write lock the first time around.
func (s *StatsStore) lockForReading() (unlock func(), err error) {
	s.mutex.RLock()
	if s.initialized {
		return s.mutex.RUnlock, nil
	}
	s.mutex.RUnlock()

	s.mutex.Lock()
	err = s.ensureGlobalStats()
	if err != nil {
		s.mutex.Unlock()
		return nil, err
	}
	return s.mutex.Unlock, nil
}

// Get returns the stats for the given scan ID, or nil if there are none.
func (s *StatsStore) Get(scanID string) (*ScanStats, error) {
	unlock, err := s.lockForReading()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.driver.Get(scanID)
}

// GetGlobal returns the GlobalStatsID row.
func (s *StatsStore) GetGlobal() (ScanStats, error) {
	stats, err := s.Get(GlobalStatsID)
	if err != nil {
		return ScanStats{}, err
	}
	if stats == nil {
		return ScanStats{}, fmt.Errorf("%s row is missing", GlobalStatsID)
	}
	return *stats, nil
}

// Update inserts or replaces the stats for the given scan ID.
func (s *StatsStore) Update(scanID string, stats ScanStats) error {
	return s.Modify(scanID, func(*ScanStats) ScanStats { return stats })
}

// Modify performs a read-modify-write cycle on the stats for the given scan
// ID while holding the store's write lock. The callback receives nil if no
// row exists yet.
func (s *StatsStore) Modify(scanID string, modify func(current *ScanStats) ScanStats) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := s.ensureGlobalStats()
	if err != nil {
		return err
	}

	current, err := s.driver.Get(scanID)
	if err != nil {
		return err
	}
	inserted, err := s.driver.Upsert(scanID, modify(current))
	if err != nil {
		return err
	}
	if inserted && s.retain > 0 {
		count, err := s.driver.Len()
		if err != nil {
			return err
		}
		if count > s.retain {
			return s.driver.DeleteOldest()
		}
	}
	return nil
}

// Delete removes the stats for the given scan ID.
func (s *StatsStore) Delete(scanID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := s.ensureGlobalStats()
	if err != nil {
		return false, err
	}
	deleted, err := s.driver.Delete(scanID)
	if scanID == GlobalStatsID {
		s.initialized = false
	}
	return deleted, err
}

// ReadAll returns all rows.
func (s *StatsStore) ReadAll() ([]ScanStatsRecord, error) {
	unlock, err := s.lockForReading()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.driver.ReadAll()
}

// Len returns the number of rows, including the GlobalStatsID row.
func (s *StatsStore) Len() (int, error) {
	unlock, err := s.lockForReading()
	if err != nil {
		return 0, err
	}
	defer unlock()
	return s.driver.Len()
}

// Close releases the driver's resources.
func (s *StatsStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.driver.Close()
}
