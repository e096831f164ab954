// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// NewScanResult builds a ScanResult that can be told apart from others by
// its scan ID and file tag.
func NewScanResult(idx int) dsx.ScanResult {
	return dsx.ScanResult{
		ScanID:  fmt.Sprintf("scan-%d", idx),
		FileTag: fmt.Sprintf("file-%d.bin", idx),
		Status:  dsx.ScanResultScanned,
		Verdict: &dsx.Verdict{
			ScanGUID: fmt.Sprintf("guid-%d", idx),
			Verdict:  dsx.VerdictBenign,
			FileInfo: &dsx.FileInfo{
				FileType:        "PE32FileType",
				FileSizeInBytes: int64(1000 * idx),
			},
			ScanDurationMicroseconds: int64(100 * idx),
		},
	}
}

func fileTags(results []dsx.ScanResult) []string {
	tags := make([]string, len(results))
	for idx, r := range results {
		tags[idx] = r.FileTag
	}
	return tags
}

// RunResultStoreSuite runs the behavioral tests that every ResultStoreDriver
// must pass. The newDriver callback must return an empty driver on every call.
func RunResultStoreSuite(t *testing.T, newDriver func(t *testing.T) dsx.ResultStoreDriver) {
	t.Helper()

	t.Run("RetainEvictsOldest", func(t *testing.T) {
		s := dsx.NewResultStoreWithDriver(newDriver(t), 3)
		defer s.Close()
		for idx := 1; idx <= 5; idx++ {
			must.ReturnT(s.Insert(NewScanResult(idx)))(t)
		}
		assert.DeepEqual(t, "Len", must.ReturnT(s.Len())(t), 3)
		assert.DeepEqual(t, "file tags", fileTags(must.ReturnT(s.ReadAll())(t)),
			[]string{"file-3.bin", "file-4.bin", "file-5.bin"})
	})

	t.Run("ConcurrentInsertsRespectRetain", func(t *testing.T) {
		s := dsx.NewResultStoreWithDriver(newDriver(t), 5)
		defer s.Close()
		var wg sync.WaitGroup
		for idx := 1; idx <= 50; idx++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Insert(NewScanResult(idx))
				if err != nil {
					t.Errorf("Insert(%d) failed: %s", idx, err.Error())
				}
			}()
		}
		wg.Wait()

		results := must.ReturnT(s.ReadAll())(t)
		assert.DeepEqual(t, "Len", must.ReturnT(s.Len())(t), 5)
		assert.DeepEqual(t, "ReadAll count", len(results), 5)
		// the survivors are the last five inserts, whatever order they arrived in
		for idx := 1; idx < len(results); idx++ {
			if results[idx-1].ID >= results[idx].ID {
				t.Errorf("expected strictly increasing IDs, got %d before %d", results[idx-1].ID, results[idx].ID)
			}
		}
		if len(results) == 5 && results[0].ID != results[4].ID-4 {
			t.Errorf("expected the last five inserted IDs to survive, got %d..%d", results[0].ID, results[4].ID)
		}
	})

	t.Run("RetainZeroStoresNothing", func(t *testing.T) {
		s := dsx.NewResultStoreWithDriver(newDriver(t), 0)
		defer s.Close()
		id := must.ReturnT(s.Insert(NewScanResult(1)))(t)
		assert.DeepEqual(t, "ID", id, dsx.NotStored)
		assert.DeepEqual(t, "Len", must.ReturnT(s.Len())(t), 0)
	})

	t.Run("RetainUnlimited", func(t *testing.T) {
		s := dsx.NewResultStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		for idx := 1; idx <= 10; idx++ {
			must.ReturnT(s.Insert(NewScanResult(idx)))(t)
		}
		assert.DeepEqual(t, "Len", must.ReturnT(s.Len())(t), 10)
	})

	t.Run("FindByID", func(t *testing.T) {
		s := dsx.NewResultStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		must.ReturnT(s.Insert(NewScanResult(1)))(t)
		id := must.ReturnT(s.Insert(NewScanResult(2)))(t)

		expected := NewScanResult(2)
		expected.ID = id
		found := must.ReturnT(s.Find("id", fmt.Sprint(id)))(t)
		assert.DeepEqual(t, "Find(id)", found, []dsx.ScanResult{expected})

		// IDs are strictly increasing
		ids := make([]int64, 0, 2)
		for _, r := range must.ReturnT(s.ReadAll())(t) {
			ids = append(ids, r.ID)
		}
		if len(ids) != 2 || ids[0] >= ids[1] {
			t.Errorf("expected strictly increasing IDs, got %v", ids)
		}
	})

	t.Run("FindByOtherFields", func(t *testing.T) {
		s := dsx.NewResultStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		first := NewScanResult(1)
		second := NewScanResult(2)
		second.ScanID = first.ScanID
		second.Quarantined = true
		must.ReturnT(s.Insert(first))(t)
		must.ReturnT(s.Insert(second))(t)
		must.ReturnT(s.Insert(NewScanResult(3)))(t)

		assert.DeepEqual(t, "Find(scan_id)", fileTags(must.ReturnT(s.Find("scan_id", "scan-1"))(t)),
			[]string{"file-1.bin", "file-2.bin"})
		assert.DeepEqual(t, "Find(quarantined)", fileTags(must.ReturnT(s.Find("quarantined", "true"))(t)),
			[]string{"file-2.bin"})
		assert.DeepEqual(t, "Find(file_tag)", len(must.ReturnT(s.Find("file_tag", "missing"))(t)), 0)
		// unparseable values match nothing
		assert.DeepEqual(t, "Find(id=abc)", len(must.ReturnT(s.Find("id", "abc"))(t)), 0)

		_, err := s.Find("no_such_field", "x")
		if err == nil {
			t.Error("expected Find() on unknown field to fail")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := dsx.NewResultStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		must.ReturnT(s.Insert(NewScanResult(1)))(t)
		must.ReturnT(s.Insert(NewScanResult(2)))(t)

		assert.DeepEqual(t, "Delete(missing)", must.ReturnT(s.Delete("scan_id", "scan-99"))(t), false)
		assert.DeepEqual(t, "Delete(scan-1)", must.ReturnT(s.Delete("scan_id", "scan-1"))(t), true)
		assert.DeepEqual(t, "file tags", fileTags(must.ReturnT(s.ReadAll())(t)), []string{"file-2.bin"})

		must.SucceedT(t, s.DeleteOldest())
		must.SucceedT(t, s.DeleteOldest()) // no-op on empty store
		assert.DeepEqual(t, "Len", must.ReturnT(s.Len())(t), 0)
	})
}

// RunStatsStoreSuite runs the behavioral tests that every StatsStoreDriver
// must pass. The newDriver callback must return an empty driver on every call.
func RunStatsStoreSuite(t *testing.T, newDriver func(t *testing.T) dsx.StatsStoreDriver) {
	t.Helper()

	t.Run("GlobalStatsAreCreated", func(t *testing.T) {
		s := dsx.NewStatsStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		assert.DeepEqual(t, "Len", must.ReturnT(s.Len())(t), 1)
		assert.DeepEqual(t, "GetGlobal", must.ReturnT(s.GetGlobal())(t), dsx.ScanStats{})
	})

	t.Run("UpdateAndGet", func(t *testing.T) {
		s := dsx.NewStatsStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		must.SucceedT(t, s.Update(dsx.GlobalStatsID, dsx.ScanStats{FilesScanned: 3, LongestScanTimeFile: "foo.exe"}))
		must.SucceedT(t, s.Update("scan-1", dsx.ScanStats{FilesScanned: 1}))
		must.SucceedT(t, s.Update("scan-1", dsx.ScanStats{FilesScanned: 2}))

		assert.DeepEqual(t, "GetGlobal", must.ReturnT(s.GetGlobal())(t),
			dsx.ScanStats{FilesScanned: 3, LongestScanTimeFile: "foo.exe"})
		assert.DeepEqual(t, "Get(scan-1)", must.ReturnT(s.Get("scan-1"))(t), &dsx.ScanStats{FilesScanned: 2})
		assert.DeepEqual(t, "Get(scan-2)", must.ReturnT(s.Get("scan-2"))(t), (*dsx.ScanStats)(nil))
		assert.DeepEqual(t, "ReadAll", must.ReturnT(s.ReadAll())(t), []dsx.ScanStatsRecord{
			{ScanID: dsx.GlobalStatsID, Stats: dsx.ScanStats{FilesScanned: 3, LongestScanTimeFile: "foo.exe"}},
			{ScanID: "scan-1", Stats: dsx.ScanStats{FilesScanned: 2}},
		})
	})

	t.Run("Modify", func(t *testing.T) {
		s := dsx.NewStatsStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		increment := func(current *dsx.ScanStats) dsx.ScanStats {
			if current == nil {
				return dsx.ScanStats{FilesScanned: 1}
			}
			current.FilesScanned++
			return *current
		}
		for range 3 {
			must.SucceedT(t, s.Modify("scan-1", increment))
		}
		assert.DeepEqual(t, "Get(scan-1)", must.ReturnT(s.Get("scan-1"))(t), &dsx.ScanStats{FilesScanned: 3})
	})

	t.Run("RetainNeverEvictsGlobalStats", func(t *testing.T) {
		s := dsx.NewStatsStoreWithDriver(newDriver(t), 2)
		defer s.Close()
		for idx := 1; idx <= 3; idx++ {
			must.SucceedT(t, s.Update(fmt.Sprintf("scan-%d", idx), dsx.ScanStats{FilesScanned: int64(idx)}))
		}
		var scanIDs []string
		for _, r := range must.ReturnT(s.ReadAll())(t) {
			scanIDs = append(scanIDs, r.ScanID)
		}
		assert.DeepEqual(t, "scan IDs", scanIDs, []string{dsx.GlobalStatsID, "scan-3"})
	})

	t.Run("Delete", func(t *testing.T) {
		s := dsx.NewStatsStoreWithDriver(newDriver(t), -1)
		defer s.Close()
		must.SucceedT(t, s.Update("scan-1", dsx.ScanStats{FilesScanned: 1}))
		assert.DeepEqual(t, "Delete(scan-1)", must.ReturnT(s.Delete("scan-1"))(t), true)
		assert.DeepEqual(t, "Delete(scan-1) again", must.ReturnT(s.Delete("scan-1"))(t), false)

		// global stats come back on next access
		assert.DeepEqual(t, "Delete(global)", must.ReturnT(s.Delete(dsx.GlobalStatsID))(t), true)
		assert.DeepEqual(t, "GetGlobal", must.ReturnT(s.GetGlobal())(t), dsx.ScanStats{})
	})
}
