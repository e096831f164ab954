// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package sqldb

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
		return NewResultStoreDriver(must.ReturnT(OpenSQLite(":memory:"))(t))
	})
}

func TestStatsStoreDriver(t *testing.T) {
	test.RunStatsStoreSuite(t, func(t *testing.T) dsx.StatsStoreDriver {
		return NewStatsStoreDriver(must.ReturnT(OpenSQLite(":memory:"))(t))
	})
}

func TestFileReputationRoundTrip(t *testing.T) {
	s := dsx.NewResultStoreWithDriver(NewResultStoreDriver(must.ReturnT(OpenSQLite(":memory:"))(t)), -1)
	defer s.Close()

	reputation := int64(42)
	r := test.NewScanResult(1)
	r.FileReputation = &reputation
	r.Verdict = nil
	id := must.ReturnT(s.Insert(r))(t)

	r.ID = id
	assert.DeepEqual(t, "Find(file_reputation)", must.ReturnT(s.Find("file_reputation", "42"))(t), []dsx.ScanResult{r})
}

func TestSharedDatabaseFile(t *testing.T) {
	location := filepath.Join(t.TempDir(), "dsx-connect.sqlite")
	cfg := dsx.DatabaseConfiguration{
		Type:              "sqlite3",
		Location:          location,
		ScanStatsLocation: location,
		Retain:            10,
	}

	results := must.ReturnT(dsx.NewResultStore(cfg))(t)
	defer results.Close()
	stats := must.ReturnT(dsx.NewStatsStore(cfg.ForStats()))(t)
	defer stats.Close()

	must.ReturnT(results.Insert(test.NewScanResult(1)))(t)
	must.SucceedT(t, stats.Update("scan-1", dsx.ScanStats{FilesScanned: 1}))
	assert.DeepEqual(t, "results.Len", must.ReturnT(results.Len())(t), 1)
	assert.DeepEqual(t, "stats.Len", must.ReturnT(stats.Len())(t), 2)
}

func TestOpenPostgresRejectsNonPostgresURL(t *testing.T) {
	_, err := OpenPostgres("data/dsx-connect.db.json")
	if err == nil {
		t.Error("expected OpenPostgres() to reject a file path")
	}
}
