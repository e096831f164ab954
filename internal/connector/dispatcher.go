// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// Enumerator produces the items of a repository in order. It must stop and
// return nil as soon as yield returns false.
type Enumerator func(ctx context.Context, yield func(dsx.ScanRequest) bool) error

// EnumerateSlice is an Enumerator over a fixed list of items.
func EnumerateSlice(items []dsx.ScanRequest) Enumerator {
	return func(ctx context.Context, yield func(dsx.ScanRequest) bool) error {
		for _, item := range items {
			if !yield(item) {
				return nil
			}
		}
		return nil
	}
}

// Dispatcher sends scan requests in batches. Up to ConcurrencyMax requests
// are in flight at once. A batch is started as items arrive and the next
// batch only starts after every request of the previous one has completed.
type Dispatcher struct {
	ConcurrencyMax int
	Send           func(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse
}

// DispatchReport describes what a Dispatcher run did.
type DispatchReport struct {
	// One entry per item, in enumeration order.
	Outcomes []dsx.StatusResponse
	// Sizes of the batches, in the order in which they were sent.
	BatchSizes []int
}

// Sent returns how many requests were answered without error.
func (r DispatchReport) Sent() int {
	return len(r.Outcomes) - r.Failed()
}

// Failed returns how many requests were answered with an error.
func (r DispatchReport) Failed() int {
	count := 0
	for _, resp := range r.Outcomes {
		if resp.IsError() {
			count++
		}
	}
	return count
}

// Run enumerates all items and sends a scan request for each.
func (d Dispatcher) Run(ctx context.Context, enumerate Enumerator) (DispatchReport, dsx.StatusResponse) {
	limit := max(d.ConcurrencyMax, 1)
	var (
		report   DispatchReport
		eg       errgroup.Group
		outcomes = make([]dsx.StatusResponse, limit)
		inFlight = 0
	)
	flush := func() {
		_ = eg.Wait() // tasks never return errors
		report.Outcomes = append(report.Outcomes, outcomes[:inFlight]...)
		report.BatchSizes = append(report.BatchSizes, inFlight)
		outcomes = make([]dsx.StatusResponse, limit)
		inFlight = 0
	}

	yield := func(req dsx.ScanRequest) bool {
		if ctx.Err() != nil {
			return false
		}
		batch, idx := outcomes, inFlight
		inFlight++
		eg.Go(func() error {
			batch[idx] = d.Send(ctx, req)
			return nil
		})
		if inFlight == limit {
			flush()
		}
		return true
	}
	err := enumerate(ctx, yield)
	if inFlight > 0 {
		flush()
	}

	summary := fmt.Sprintf("%d scan requests sent, %d failed", report.Sent(), report.Failed())
	switch {
	case err != nil:
		return report, dsx.Error("Full scan aborted: "+err.Error(), summary)
	case ctx.Err() != nil:
		return report, dsx.Error("Full scan cancelled: "+ctx.Err().Error(), summary)
	case len(report.Outcomes) == 0:
		return report, dsx.Success("Full scan found no items to scan.", summary)
	default:
		return report, dsx.Success("Full scan invoked and scan requests sent.", summary)
	}
}
