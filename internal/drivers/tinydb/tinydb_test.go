// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tinydb

import (
	"path/filepath"
	"testing"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/test"
)

func TestResultStoreDriver(t *testing.T) {
	test.RunResultStoreSuite(t, func(t *testing.T) dsx.ResultStoreDriver {
		return NewResultStoreDriver(must.ReturnT(openDatabase(":memory:"))(t))
	})
}

func TestStatsStoreDriver(t *testing.T) {
	test.RunStatsStoreSuite(t, func(t *testing.T) dsx.StatsStoreDriver {
		return must.ReturnT(NewStatsStoreDriver(must.ReturnT(openDatabase(":memory:"))(t)))(t)
	})
}

func TestPersistence(t *testing.T) {
	cfg := dsx.DatabaseConfiguration{
		Type:     "tinydb",
		Location: filepath.Join(t.TempDir(), "data", "results.db"),
		Retain:   -1,
	}

	s := must.ReturnT(dsx.NewResultStore(cfg))(t)
	must.ReturnT(s.Insert(test.NewScanResult(1)))(t)
	must.ReturnT(s.Insert(test.NewScanResult(2)))(t)
	must.SucceedT(t, s.Close())

	// IDs continue after reopening
	s = must.ReturnT(dsx.NewResultStore(cfg))(t)
	defer s.Close()
	id := must.ReturnT(s.Insert(test.NewScanResult(3)))(t)
	assert.DeepEqual(t, "ID after reopen", id, int64(3))
	assert.DeepEqual(t, "Len after reopen", must.ReturnT(s.Len())(t), 3)
}
