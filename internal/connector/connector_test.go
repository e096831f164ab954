// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/httpapi"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/test"
)

func testIdentity(testMode bool) Identity {
	return Identity{
		Name:     "test-connector",
		ID:       "test-connector-0001",
		BaseURL:  "http://" + test.ConnectorHost,
		HubURL:   test.HubURL,
		TestMode: testMode,
	}
}

func statusJSON(resp dsx.StatusResponse) assert.JSONObject {
	optional := func(s string) any {
		if s == "" {
			return nil
		}
		return s
	}
	return assert.JSONObject{
		"status":      string(resp.Status),
		"message":     resp.Message,
		"description": optional(resp.Description),
		"id":          optional(resp.ID),
	}
}

func TestParseConfiguration(t *testing.T) {
	defaults := Configuration{
		Name:         "filesystem-connector",
		ConnectorURL: "http://0.0.0.0:8590",
		HubURL:       "http://0.0.0.0:8586",
		ItemAction:   dsx.ItemActionNothing,
	}
	t.Setenv("DSXCONNECTOR_NAME", "")
	t.Setenv("DSXCONNECTOR_CONNECTOR_URL", "")
	t.Setenv("DSXCONNECTOR_TEST_MODE", "")
	t.Setenv("DSXCONNECTOR_LISTEN_ADDRESS", "")
	t.Setenv("DSXCONNECTOR_CONCURRENT_PROCESSING_MAX", "")
	t.Setenv("DSXCONNECTOR_ITEM_ACTION", "move")
	t.Setenv("DSXCONNECTOR_DSX_CONNECT_URL", "http://hub.example.org:8586/")

	cfg, err := ParseConfiguration(defaults)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "configuration", cfg, Configuration{
		Name:                    "filesystem-connector",
		ConnectorURL:            "http://0.0.0.0:8590",
		HubURL:                  "http://hub.example.org:8586",
		ItemAction:              dsx.ItemActionMove,
		ConcurrentProcessingMax: 10,
		ListenAddress:           ":8590",
	})

	t.Setenv("DSXCONNECTOR_CONCURRENT_PROCESSING_MAX", "zero")
	_, err = ParseConfiguration(defaults)
	if err == nil {
		t.Error("expected error for malformed DSXCONNECTOR_CONCURRENT_PROCESSING_MAX")
	}
	t.Setenv("DSXCONNECTOR_CONCURRENT_PROCESSING_MAX", "3")
	t.Setenv("DSXCONNECTOR_ITEM_ACTION", "shred")
	_, err = ParseConfiguration(defaults)
	if err == nil {
		t.Error("expected error for unknown item action")
	}
	t.Setenv("DSXCONNECTOR_ITEM_ACTION", "")
	t.Setenv("DSXCONNECTOR_DSX_CONNECT_URL", "hub.example.org")
	_, err = ParseConfiguration(defaults)
	if err == nil {
		t.Error("expected error for hub URL without scheme")
	}
}

func TestNewIdentity(t *testing.T) {
	id := NewIdentity(Configuration{Name: "aws-s3-connector", ConnectorURL: "http://s3.example.org:8591"})
	if !strings.HasPrefix(id.ID, "aws-s3-connector-") || len(id.ID) != len("aws-s3-connector-0000") {
		t.Errorf("unexpected connector ID: %q", id.ID)
	}
	assert.DeepEqual(t, "connector URL", id.URL(), "http://s3.example.org:8591/"+id.ID)
}

func TestScanRequest(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		hub := test.NewHub()
		hub.FailLocations["/data/broken.txt"] = http.StatusInternalServerError
		tt.Handlers[test.HubHost] = hub
		c := New(testIdentity(false), 2, Handlers{})

		resp := c.ScanRequest(t.Context(), dsx.ScanRequest{Location: "/data/a.txt", Metainfo: "a.txt"})
		assert.DeepEqual(t, "response", resp, dsx.Success("Scan task queued for connector: http://connector.example.org/test-connector-0001", ""))

		resp = c.ScanRequest(t.Context(), dsx.ScanRequest{Location: "/data/broken.txt"})
		assert.DeepEqual(t, "status", resp.Status, dsx.StatusError)
		assert.DeepEqual(t, "description", resp.Description, "Failed to send scan request")

		tt.Failures[test.HubHost] = errors.New("connection refused")
		resp = c.ScanRequest(t.Context(), dsx.ScanRequest{Location: "/data/b.txt"})
		assert.DeepEqual(t, "status", resp.Status, dsx.StatusError)
		assert.DeepEqual(t, "description", resp.Description, "Unexpected error in scan request")

		assert.DeepEqual(t, "scan request count", c.ScanRequestCount(), int64(1))
		assert.DeepEqual(t, "received requests", hub.Requests(), []dsx.ScanRequest{
			{Location: "/data/a.txt", Metainfo: "a.txt", ConnectorURL: "http://connector.example.org/test-connector-0001"},
			{Location: "/data/broken.txt", ConnectorURL: "http://connector.example.org/test-connector-0001"},
		})
	})
}

func TestScanRequestInTestMode(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		hub := test.NewHub()
		tt.Handlers[test.HubHost] = hub
		c := New(testIdentity(true), 2, Handlers{})

		resp := c.ScanRequest(t.Context(), dsx.ScanRequest{Location: "/data/a.txt"})
		assert.DeepEqual(t, "status", resp.Status, dsx.StatusSuccess)
		assert.DeepEqual(t, "regular requests", len(hub.Requests()), 0)
		assert.DeepEqual(t, "test requests", len(hub.TestRequests()), 1)
	})
}

func TestDispatcherBatches(t *testing.T) {
	var (
		inFlight    atomic.Int64
		maxInFlight atomic.Int64
	)
	d := Dispatcher{
		ConcurrencyMax: 3,
		Send: func(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse {
			current := inFlight.Add(1)
			for {
				seen := maxInFlight.Load()
				if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			if req.Location == "item-4" {
				return dsx.Error("rejected", "")
			}
			return dsx.Success("queued "+req.Location, "")
		},
	}

	var items []dsx.ScanRequest
	for idx := range 7 {
		items = append(items, dsx.ScanRequest{Location: fmt.Sprintf("item-%d", idx)})
	}
	report, resp := d.Run(t.Context(), EnumerateSlice(items))

	assert.DeepEqual(t, "batch sizes", report.BatchSizes, []int{3, 3, 1})
	assert.DeepEqual(t, "sent", report.Sent(), 6)
	assert.DeepEqual(t, "failed", report.Failed(), 1)
	assert.DeepEqual(t, "outcome order", report.Outcomes[5].Message, "queued item-5")
	assert.DeepEqual(t, "response", resp, dsx.Success("Full scan invoked and scan requests sent.", "6 scan requests sent, 1 failed"))
	if maxInFlight.Load() > 3 {
		t.Errorf("expected at most 3 requests in flight, but saw %d", maxInFlight.Load())
	}
}

func TestDispatcherEdgeCases(t *testing.T) {
	send := func(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse {
		return dsx.Success("queued", "")
	}

	// no items
	report, resp := Dispatcher{ConcurrencyMax: 5, Send: send}.Run(t.Context(), EnumerateSlice(nil))
	assert.DeepEqual(t, "batch count", len(report.BatchSizes), 0)
	assert.DeepEqual(t, "status", resp.Status, dsx.StatusSuccess)

	// enumeration fails halfway: items before the failure are still sent
	failing := func(ctx context.Context, yield func(dsx.ScanRequest) bool) error {
		yield(dsx.ScanRequest{Location: "first"})
		return errors.New("listing interrupted")
	}
	report, resp = Dispatcher{ConcurrencyMax: 5, Send: send}.Run(t.Context(), failing)
	assert.DeepEqual(t, "batch sizes", report.BatchSizes, []int{1})
	assert.DeepEqual(t, "response", resp, dsx.Error("Full scan aborted: listing interrupted", "1 scan requests sent, 0 failed"))

	// concurrency limit of 1 yields strictly sequential batches
	items := []dsx.ScanRequest{{Location: "a"}, {Location: "b"}}
	report, _ = Dispatcher{ConcurrencyMax: 0, Send: send}.Run(t.Context(), EnumerateSlice(items))
	assert.DeepEqual(t, "batch sizes", report.BatchSizes, []int{1, 1})
}

func TestFullScanRunsInBackground(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		hub := test.NewHub()
		tt.Handlers[test.HubHost] = hub
		c := New(testIdentity(false), 2, Handlers{
			FullScan: func(ctx context.Context, c *Connector) dsx.StatusResponse {
				_, resp := c.Dispatch(ctx, EnumerateSlice([]dsx.ScanRequest{
					{Location: "/data/1"}, {Location: "/data/2"}, {Location: "/data/3"},
				}))
				return resp
			},
		})
		h := httpapi.Compose(NewAPI(c))

		assert.HTTPRequest{
			Method:       "POST",
			Path:         "/test-connector-0001/full_scan",
			ExpectStatus: http.StatusOK,
			ExpectBody:   statusJSON(dsx.Success("Full scan initiated", "The scan will run in the background.")),
		}.Check(t, h)

		c.Wait()
		assert.DeepEqual(t, "scan request count", c.ScanRequestCount(), int64(3))
		assert.DeepEqual(t, "received requests", len(hub.Requests()), 3)
	})
}

func TestMissingHandlers(t *testing.T) {
	c := New(testIdentity(false), 2, Handlers{})
	h := httpapi.Compose(NewAPI(c))

	for _, capability := range []string{"full_scan", "item_action", "read_file", "repo_check", "webhook_event"} {
		path := "/test-connector-0001/" + capability
		if capability == "webhook_event" {
			path = "/test-connector-0001/webhook/event"
		}
		expectStatus := http.StatusOK
		if capability == "read_file" {
			expectStatus = http.StatusNotImplemented
		}
		assert.HTTPRequest{
			Method:       "POST",
			Path:         path,
			Body:         assert.JSONObject{"location": "/data/a.txt", "metainfo": "", "connector_url": nil},
			ExpectStatus: expectStatus,
			ExpectBody:   statusJSON(dsx.Error("no handler registered for "+capability, "")),
		}.Check(t, h)
	}

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/test-connector-0001/item_action",
		Body:         assert.StringData("{not json"),
		ExpectStatus: http.StatusBadRequest,
	}.Check(t, h)
}

func TestReadFileAndItemAction(t *testing.T) {
	var actions []dsx.ScanRequest
	c := New(testIdentity(false), 2, Handlers{
		ReadFile: func(ctx context.Context, req dsx.ScanRequest) (io.ReadCloser, error) {
			switch req.Location {
			case "/data/a.txt":
				return io.NopCloser(strings.NewReader("hello world")), nil
			case "/data/locked.txt":
				return nil, errors.New("permission denied")
			default:
				return nil, fmt.Errorf("cannot open %s: %w", req.Location, ErrItemNotFound)
			}
		},
		ItemAction: func(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse {
			actions = append(actions, req)
			return dsx.Success("Item action delete was invoked.", "File deleted: "+req.Location)
		},
	})
	h := httpapi.Compose(NewAPI(c))

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/test-connector-0001/read_file",
		Body:         assert.JSONObject{"location": "/data/a.txt", "metainfo": "a.txt", "connector_url": nil},
		ExpectStatus: http.StatusOK,
		ExpectHeader: map[string]string{"Content-Type": "application/octet-stream"},
		ExpectBody:   assert.StringData("hello world"),
	}.Check(t, h)
	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/test-connector-0001/read_file",
		Body:         assert.JSONObject{"location": "/data/missing.txt", "metainfo": "", "connector_url": nil},
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   statusJSON(dsx.Error("cannot open /data/missing.txt: item not found", "cannot read /data/missing.txt")),
	}.Check(t, h)
	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/test-connector-0001/read_file",
		Body:         assert.JSONObject{"location": "/data/locked.txt", "metainfo": "", "connector_url": nil},
		ExpectStatus: http.StatusInternalServerError,
		ExpectBody:   statusJSON(dsx.Error("permission denied", "cannot read /data/locked.txt")),
	}.Check(t, h)

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/test-connector-0001/item_action",
		Body:         assert.JSONObject{"location": "/data/a.txt", "metainfo": "a.txt", "connector_url": nil},
		ExpectStatus: http.StatusOK,
		ExpectBody:   statusJSON(dsx.Success("Item action delete was invoked.", "File deleted: /data/a.txt")),
	}.Check(t, h)
	assert.DeepEqual(t, "item actions", actions, []dsx.ScanRequest{{Location: "/data/a.txt", Metainfo: "a.txt"}})
}

func TestStatusAndRepoCheck(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		tt.Handlers[test.HubHost] = test.NewHub()
		repoAvailable := true
		c := New(testIdentity(false), 2, Handlers{
			RepoCheck: func(ctx context.Context) bool { return repoAvailable },
		})
		h := httpapi.Compose(NewAPI(c))

		expected := assert.JSONObject{
			"connector_status":                 "Active",
			"dsx_connect_connectivity":         "success",
			"repo_connectivity":                "success",
			"scan_requests_since_active_count": 0,
			"connector_id":                     "test-connector-0001",
			"connector_url":                    "http://connector.example.org/test-connector-0001",
		}
		for _, path := range []string{"/", "/test-connector-0001/"} {
			assert.HTTPRequest{Method: "GET", Path: path, ExpectStatus: http.StatusOK, ExpectBody: expected}.Check(t, h)
		}
		assert.HTTPRequest{
			Method:       "POST",
			Path:         "/test-connector-0001/repo_check",
			ExpectStatus: http.StatusOK,
			ExpectBody:   statusJSON(dsx.Success("Repository connectivity check succeeded.", "")),
		}.Check(t, h)

		repoAvailable = false
		tt.Failures[test.HubHost] = errors.New("connection refused")
		expected["dsx_connect_connectivity"] = "failed"
		expected["repo_connectivity"] = "failed"
		assert.HTTPRequest{Method: "GET", Path: "/", ExpectStatus: http.StatusOK, ExpectBody: expected}.Check(t, h)
		assert.HTTPRequest{
			Method:       "POST",
			Path:         "/test-connector-0001/repo_check",
			ExpectStatus: http.StatusOK,
			ExpectBody:   statusJSON(dsx.Error("Repository connectivity check failed.", "")),
		}.Check(t, h)
	})
}

func TestStartupToleratesUnreachableHub(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		tt.Failures[test.HubHost] = errors.New("connection refused")
		started := false
		c := New(testIdentity(false), 2, Handlers{
			Startup: func(ctx context.Context, c *Connector) error {
				started = true
				return nil
			},
		})
		err := c.Startup(t.Context())
		if err != nil {
			t.Fatal(err.Error())
		}
		if !started {
			t.Error("expected Startup handler to run")
		}
		err = c.Shutdown(t.Context())
		if err != nil {
			t.Fatal(err.Error())
		}
	})
}

func TestWebhookScanRequest(t *testing.T) {
	req, ok := WebhookScanRequest(map[string]any{"file_id": "abc123"})
	assert.DeepEqual(t, "location", req.Location, "custom://abc123")
	assert.DeepEqual(t, "ok", ok, true)

	req, _ = WebhookScanRequest(map[string]any{"file_id": float64(42)})
	assert.DeepEqual(t, "location", req.Location, "custom://42")

	req, ok = WebhookScanRequest(map[string]any{"event": "upload"})
	assert.DeepEqual(t, "location", req.Location, "custom://unknown")
	assert.DeepEqual(t, "ok", ok, false)
}
