// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"container/heap"
	"sync"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// int64Heap implements heap.Interface. With less set to ">", it is a max-heap.
type int64Heap struct {
	values []int64
	less   func(a, b int64) bool
}

func (h *int64Heap) Len() int           { return len(h.values) }
func (h *int64Heap) Less(i, j int) bool { return h.less(h.values[i], h.values[j]) }
func (h *int64Heap) Swap(i, j int)      { h.values[i], h.values[j] = h.values[j], h.values[i] }
func (h *int64Heap) Push(x any)         { h.values = append(h.values, x.(int64)) }
func (h *int64Heap) Pop() any {
	last := h.values[len(h.values)-1]
	h.values = h.values[:len(h.values)-1]
	return last
}
func (h *int64Heap) peek() int64 { return h.values[0] }

// MedianTracker computes the running median of a stream of values. The
// smaller half of the values is kept in a max-heap, the larger half in a
// min-heap.
type MedianTracker struct {
	lower *int64Heap
	upper *int64Heap
}

// NewMedianTracker builds an empty MedianTracker.
func NewMedianTracker() *MedianTracker {
	return &MedianTracker{
		lower: &int64Heap{less: func(a, b int64) bool { return a > b }},
		upper: &int64Heap{less: func(a, b int64) bool { return a < b }},
	}
}

// Add adds a value.
func (m *MedianTracker) Add(value int64) {
	if m.lower.Len() == 0 || value <= m.lower.peek() {
		heap.Push(m.lower, value)
	} else {
		heap.Push(m.upper, value)
	}

	// rebalance such that len(lower) is len(upper) or len(upper) + 1
	if m.lower.Len() > m.upper.Len()+1 {
		heap.Push(m.upper, heap.Pop(m.lower))
	} else if m.upper.Len() > m.lower.Len() {
		heap.Push(m.lower, heap.Pop(m.upper))
	}
}

// Median returns the median of all values added so far, rounded towards
// zero for an even count. It is 0 if no values have been added.
func (m *MedianTracker) Median() int64 {
	switch {
	case m.lower.Len() == 0:
		return 0
	case m.lower.Len() > m.upper.Len():
		return m.lower.peek()
	default:
		return (m.lower.peek() + m.upper.peek()) / 2
	}
}

// StatsWorker maintains the global scan statistics.
type StatsWorker struct {
	store    *dsx.StatsStore
	mutex    sync.Mutex
	scanTime *MedianTracker
	fileSize *MedianTracker
}

// NewStatsWorker builds a StatsWorker. Medians only cover the results
// recorded by this instance.
func NewStatsWorker(store *dsx.StatsStore) *StatsWorker {
	return &StatsWorker{
		store:    store,
		scanTime: NewMedianTracker(),
		fileSize: NewMedianTracker(),
	}
}

// Record updates the global statistics with the given verdict. fileTag
// identifies the scanned item.
func (w *StatsWorker) Record(verdict dsx.Verdict, fileTag string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.store.Modify(dsx.GlobalStatsID, func(current *dsx.ScanStats) dsx.ScanStats {
		var s dsx.ScanStats
		if current != nil {
			s = *current
		}
		duration := verdict.ScanDurationMicroseconds
		size := verdict.FileSize()

		s.FilesScanned++
		if verdict.Verdict == dsx.VerdictMalicious {
			s.MaliciousCount++
		}
		s.TotalScanTimeMicroseconds += duration
		s.TotalScanTimeSeconds = float64(s.TotalScanTimeMicroseconds) / 1e6
		s.TotalFileSize += size

		s.AvgFileSize = s.TotalFileSize / s.FilesScanned
		s.AvgScanTimeMicroseconds = s.TotalScanTimeMicroseconds / s.FilesScanned
		s.AvgScanTimeMilliseconds = float64(s.AvgScanTimeMicroseconds) / 1e3
		s.AvgScanTimeSeconds = s.AvgScanTimeMilliseconds / 1e3

		if duration > s.LongestScanTimeMicroseconds {
			s.LongestScanTimeMicroseconds = duration
			s.LongestScanTimeMilliseconds = float64(duration) / 1e3
			s.LongestScanTimeSeconds = s.LongestScanTimeMilliseconds / 1e3
			s.LongestScanTimeFile = fileTag
			s.LongestScanTimeFileSizeBytes = size
		}

		w.scanTime.Add(duration)
		s.MedianScanTimeMicroseconds = w.scanTime.Median()
		w.fileSize.Add(size)
		s.MedianFileSizeBytes = w.fileSize.Median()
		return s
	})
}
