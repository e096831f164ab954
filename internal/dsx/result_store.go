// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// NotStored is returned by ResultStore.Insert when the retention policy
// forbids storing anything.
const NotStored int64 = -1

// ResultField identifies a field of ScanResult that ResultStore.Find and
// ResultStore.Delete can match on.
type ResultField string

const (
	FieldID             ResultField = "id"
	FieldScanID         ResultField = "scan_id"
	FieldFileTag        ResultField = "file_tag"
	FieldQuarantined    ResultField = "quarantined"
	FieldStatus         ResultField = "status"
	FieldFileReputation ResultField = "file_reputation"
)

// ErrUnknownField is returned when a ResultStore is queried with a key that
// does not name a field of ScanResult.
var ErrUnknownField = errors.New("unknown scan result field")

// ParseResultField checks that the given key names a field of ScanResult.
func ParseResultField(key string) (ResultField, error) {
	switch f := ResultField(key); f {
	case FieldID, FieldScanID, FieldFileTag, FieldQuarantined, FieldStatus, FieldFileReputation:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
}

// Normalize brings a query value into the canonical string form that
// ValueOf() produces for this field. If the value cannot possibly match
// (e.g. a non-numeric value for an integer field), false is returned.
func (f ResultField) Normalize(value string) (string, bool) {
	switch f {
	case FieldID, FieldFileReputation:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	case FieldQuarantined:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	default:
		return value, true
	}
}

// ValueOf renders the given field of a ScanResult in canonical string form.
// The second return value is false if the field is unset.
func (f ResultField) ValueOf(r ScanResult) (string, bool) {
	switch f {
	case FieldID:
		return strconv.FormatInt(r.ID, 10), true
	case FieldScanID:
		return r.ScanID, true
	case FieldFileTag:
		return r.FileTag, true
	case FieldQuarantined:
		return strconv.FormatBool(r.Quarantined), true
	case FieldStatus:
		return string(r.Status), true
	case FieldFileReputation:
		if r.FileReputation == nil {
			return "", false
		}
		return strconv.FormatInt(*r.FileReputation, 10), true
	default:
		return "", false
	}
}

// Matches returns whether the given field of r equals the normalized value.
func (f ResultField) Matches(r ScanResult, normalizedValue string) bool {
	v, ok := f.ValueOf(r)
	return ok && v == normalizedValue
}

// ResultStoreDriver is the backend behind a ResultStore. Drivers do not need
// to be safe for concurrent use; ResultStore serializes access to them.
type ResultStoreDriver interface {
	// Insert stores the given result and returns its newly assigned ID. IDs
	// must be unique and strictly increasing within one store.
	Insert(result ScanResult) (int64, error)
	// Delete removes all rows where the given field equals the (already
	// normalized) value, and reports whether anything was removed.
	Delete(field ResultField, value string) (bool, error)
	// DeleteOldest removes the single row that was inserted first. It is a
	// no-op on an empty store.
	DeleteOldest() error
	ReadAll() ([]ScanResult, error)
	// Find returns all rows where the given field equals the (already
	// normalized) value.
	Find(field ResultField, value string) ([]ScanResult, error)
	Len() (int, error)
	Close() error
}

var resultStoreDriverFactories = make(map[string]func(DatabaseConfiguration) (ResultStoreDriver, error))

// RegisterResultStoreDriver registers a ResultStoreDriver. Call this from
// func init() of the package defining the ResultStoreDriver.
func RegisterResultStoreDriver(name string, factory func(DatabaseConfiguration) (ResultStoreDriver, error)) {
	if _, exists := resultStoreDriverFactories[name]; exists {
		panic("attempted to register multiple result store drivers with name = " + name)
	}
	resultStoreDriverFactories[name] = factory
}

// NewResultStore creates a ResultStore using the driver that was registered
// under the configured database type.
func NewResultStore(cfg DatabaseConfiguration) (*ResultStore, error) {
	factory := resultStoreDriverFactories[cfg.Type]
	if factory == nil {
		return nil, errors.New("no such result store driver: " + cfg.Type)
	}
	driver, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not initialize result store driver %q: %w", cfg.Type, err)
	}
	return NewResultStoreWithDriver(driver, cfg.Retain), nil
}

// ResultStore is the store for ScanResult records. It enforces the retention
// policy on top of its driver: retain > 0 keeps at most that many rows by
// evicting the oldest one, retain == 0 stores nothing, and retain < 0 keeps
// everything.
type ResultStore struct {
	driver ResultStoreDriver
	retain int
	mutex  sync.RWMutex
}

// NewResultStoreWithDriver wraps an already initialized driver.
func NewResultStoreWithDriver(driver ResultStoreDriver, retain int) *ResultStore {
	return &ResultStore{driver: driver, retain: retain}
}

// Retain returns the retention setting of this store.
func (s *ResultStore) Retain() int {
	return s.retain
}

// Insert stores a result and returns its ID, or NotStored if the retention
// setting is 0.
func (s *ResultStore) Insert(result ScanResult) (int64, error) {
	if s.retain == 0 {
		return NotStored, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	id, err := s.driver.Insert(result)
	if err != nil {
		return 0, err
	}
	err = s.checkRetainLimit()
	if err != nil {
		return id, fmt.Errorf("while enforcing retention limit after inserting scan result %d: %w", id, err)
	}
	return id, nil
}

// Evicts at most one row. The caller must hold the write lock.
func (s *ResultStore) checkRetainLimit() error {
	if s.retain <= 0 {
		return nil
	}
	count, err := s.driver.Len()
	if err != nil {
		return err
	}
	if count > s.retain {
		return s.driver.DeleteOldest()
	}
	return nil
}

// Delete removes all results where the field named by key equals value.
func (s *ResultStore) Delete(key, value string) (bool, error) {
	field, err := ParseResultField(key)
	if err != nil {
		return false, err
	}
	normalized, ok := field.Normalize(value)
	if !ok {
		return false, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.driver.Delete(field, normalized)
}

// DeleteOldest removes the result that was inserted first.
func (s *ResultStore) DeleteOldest() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.driver.DeleteOldest()
}

// ReadAll returns a snapshot of all stored results.
func (s *ResultStore) ReadAll() ([]ScanResult, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.driver.ReadAll()
}

// Find returns all results where the field named by key equals value.
func (s *ResultStore) Find(key, value string) ([]ScanResult, error) {
	field, err := ParseResultField(key)
	if err != nil {
		return nil, err
	}
	normalized, ok := field.Normalize(value)
	if !ok {
		return nil, nil
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.driver.Find(field, normalized)
}

// Len returns the number of stored results.
func (s *ResultStore) Len() (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.driver.Len()
}

// Close releases the driver's resources. It waits for all running
// operations to finish first.
func (s *ResultStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.driver.Close()
}
