// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// ErrItemNotFound is returned (possibly wrapped) by a ReadFile handler when the
// requested item does not exist in the repository.
var ErrItemNotFound = errors.New("item not found")

// Handlers contains the repository-specific parts of a connector. A nil field
// means that the connector does not have the respective capability.
type Handlers struct {
	Startup      func(ctx context.Context, c *Connector) error
	Shutdown     func(ctx context.Context) error
	FullScan     func(ctx context.Context, c *Connector) dsx.StatusResponse
	ItemAction   func(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse
	ReadFile     func(ctx context.Context, req dsx.ScanRequest) (io.ReadCloser, error)
	RepoCheck    func(ctx context.Context) bool
	WebhookEvent func(ctx context.Context, c *Connector, payload map[string]any) dsx.StatusResponse
}

// Connector is the repository-agnostic half of a connector. It talks to the
// hub and dispatches the hub's requests to the Handlers.
type Connector struct {
	Identity       Identity
	ConcurrencyMax int

	handlers         Handlers
	background       *dsx.BackgroundTasks
	scanRequestCount atomic.Int64
}

// New builds a Connector.
func New(identity Identity, concurrencyMax int, handlers Handlers) *Connector {
	return &Connector{
		Identity:       identity,
		ConcurrencyMax: max(concurrencyMax, 1),
		handlers:       handlers,
		background:     dsx.NewBackgroundTasks(context.Background()),
	}
}

func noHandler(capability string) dsx.StatusResponse {
	return dsx.Error("no handler registered for "+capability, "")
}

// Startup checks connectivity to the hub and runs the Startup handler, if any.
// Failure to reach the hub is only logged since the hub may come up later.
func (c *Connector) Startup(ctx context.Context) error {
	logg.Info("starting connector %s at %s", c.Identity.ID, c.Identity.URL())
	err := c.TestHubConnection(ctx)
	if err != nil {
		logg.Error("cannot reach dsx-connect at %s: %s (scan requests will fail until the hub is reachable)", c.Identity.HubURL, err.Error())
	}
	if c.handlers.Startup == nil {
		return nil
	}
	return c.handlers.Startup(ctx, c)
}

// Shutdown cancels all running background tasks and then runs the Shutdown
// handler, if any.
func (c *Connector) Shutdown(ctx context.Context) error {
	logg.Info("shutting down connector %s", c.Identity.ID)
	c.background.Shutdown()
	if c.handlers.Shutdown == nil {
		return nil
	}
	return c.handlers.Shutdown(ctx)
}

// Wait blocks until all background tasks (e.g. full scans) have returned.
func (c *Connector) Wait() {
	c.background.Wait()
}

// RunInBackground runs the given task in a goroutine. The task's context is
// cancelled on Shutdown, and Shutdown waits for the task to return.
func (c *Connector) RunInBackground(task func(ctx context.Context)) {
	c.background.Go(task)
}

// TestHubConnection calls the hub's connection test endpoint.
func (c *Connector) TestHubConnection(ctx context.Context) error {
	_, err := c.doHubRequest(ctx, http.MethodGet, dsx.ConnectionTestPath, nil)
	return err
}

// ScanRequest sends a scan request for the given item to the hub. The
// ConnectorURL field is filled in by this method.
func (c *Connector) ScanRequest(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse {
	req.ConnectorURL = c.Identity.URL()
	path := dsx.ScanRequestPath
	if c.Identity.TestMode {
		path = dsx.ScanRequestTestPath
	}

	body, err := json.Marshal(req)
	if err != nil {
		return dsx.Error(err.Error(), "Unexpected error in scan request")
	}
	respBody, err := c.doHubRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		scanRequestsCounter.WithLabelValues("failed").Inc()
		var herr hubError
		if errors.As(err, &herr) {
			return dsx.Error(err.Error(), "Failed to send scan request")
		}
		return dsx.Error(err.Error(), "Unexpected error in scan request")
	}
	c.scanRequestCount.Add(1)
	scanRequestsCounter.WithLabelValues("success").Inc()

	var resp dsx.StatusResponse
	err = json.Unmarshal(respBody, &resp)
	if err != nil {
		return dsx.Error("cannot decode response from dsx-connect: "+err.Error(), "Unexpected error in scan request")
	}
	return resp
}

// ScanRequestCount returns how many scan requests were accepted by the hub
// since this connector started.
func (c *Connector) ScanRequestCount() int64 {
	return c.scanRequestCount.Load()
}

// Dispatch sends scan requests for all items produced by the enumerator, with
// at most c.ConcurrencyMax requests in flight.
func (c *Connector) Dispatch(ctx context.Context, enumerate Enumerator) (DispatchReport, dsx.StatusResponse) {
	d := Dispatcher{ConcurrencyMax: c.ConcurrencyMax, Send: c.ScanRequest}
	return d.Run(ctx, enumerate)
}

// StartFullScan runs the FullScan handler in the background and returns immediately.
func (c *Connector) StartFullScan() dsx.StatusResponse {
	if c.handlers.FullScan == nil {
		return noHandler("full_scan")
	}
	c.RunInBackground(func(ctx context.Context) {
		resp := c.handlers.FullScan(ctx, c)
		if resp.IsError() {
			logg.Error("full scan failed: %s (%s)", resp.Message, resp.Description)
		} else {
			logg.Info("full scan finished: %s (%s)", resp.Message, resp.Description)
		}
	})
	return dsx.Success("Full scan initiated", "The scan will run in the background.")
}

// ItemAction dispatches to the ItemAction handler.
func (c *Connector) ItemAction(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse {
	if c.handlers.ItemAction == nil {
		return noHandler("item_action")
	}
	resp := c.handlers.ItemAction(ctx, req)
	itemActionsCounter.WithLabelValues(string(resp.Status)).Inc()
	return resp
}

// RepoCheck dispatches to the RepoCheck handler. Without a handler, the
// repository counts as unreachable.
func (c *Connector) RepoCheck(ctx context.Context) bool {
	if c.handlers.RepoCheck == nil {
		return false
	}
	return c.handlers.RepoCheck(ctx)
}

// StatusReport is returned by the connector's status endpoint.
type StatusReport struct {
	ConnectorStatus  string `json:"connector_status"`
	HubConnectivity  string `json:"dsx_connect_connectivity"`
	RepoConnectivity string `json:"repo_connectivity"`
	ScanRequestCount int64  `json:"scan_requests_since_active_count"`
	ConnectorID      string `json:"connector_id"`
	ConnectorURL     string `json:"connector_url"`
}

// Status checks connectivity to the hub and to the repository.
func (c *Connector) Status(ctx context.Context) StatusReport {
	connectivity := func(ok bool) string {
		if ok {
			return "success"
		}
		return "failed"
	}
	return StatusReport{
		ConnectorStatus:  "Active",
		HubConnectivity:  connectivity(c.TestHubConnection(ctx) == nil),
		RepoConnectivity: connectivity(c.RepoCheck(ctx)),
		ScanRequestCount: c.ScanRequestCount(),
		ConnectorID:      c.Identity.ID,
		ConnectorURL:     c.Identity.URL(),
	}
}

// hubError is returned by doHubRequest when the hub answered with a non-2xx status.
type hubError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e hubError) Error() string {
	return fmt.Sprintf("during %s %s: expected 2xx status, but got %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (c *Connector) doHubRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	uri := c.Identity.HubURL + path
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, reqBody)
	if err != nil {
		return nil, fmt.Errorf("during %s %s: %w", method, uri, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("during %s %s: %w", method, uri, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("during %s %s: %w", method, uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, hubError{method, uri, resp.StatusCode, strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}
