// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// HubHost is the host name under which tests register the Hub.
const HubHost = "hub.example.org"

// HubURL is the base URL of the Hub.
const HubURL = "http://" + HubHost

// Hub is a http.Handler that mimics the parts of the hub API that connectors
// talk to. It accepts every scan request unless told otherwise.
type Hub struct {
	// Scan requests for these locations are answered with this status code.
	FailLocations map[string]int

	mutex         sync.Mutex
	requests      []dsx.ScanRequest
	testRequests  []dsx.ScanRequest
	connectChecks int
}

// NewHub builds a Hub.
func NewHub() *Hub {
	return &Hub{FailLocations: make(map[string]int)}
}

// ServeHTTP implements the http.Handler interface.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == dsx.ConnectionTestPath:
		h.mutex.Lock()
		h.connectChecks++
		h.mutex.Unlock()
		respondwith.JSON(w, http.StatusOK, dsx.Success("Connection to dsx-connect successful.", ""))

	case r.Method == http.MethodPost && (r.URL.Path == dsx.ScanRequestPath || r.URL.Path == dsx.ScanRequestTestPath):
		var req dsx.ScanRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		h.mutex.Lock()
		if r.URL.Path == dsx.ScanRequestTestPath {
			h.testRequests = append(h.testRequests, req)
		} else {
			h.requests = append(h.requests, req)
		}
		failCode := h.FailLocations[req.Location]
		h.mutex.Unlock()

		if failCode != 0 {
			respondwith.JSON(w, failCode, dsx.Error("Failed to queue scan task", ""))
			return
		}
		respondwith.JSON(w, http.StatusOK, dsx.Success("Scan task queued for connector: "+req.ConnectorURL, ""))

	default:
		http.NotFound(w, r)
	}
}

// Requests returns the scan requests received on the regular endpoint.
func (h *Hub) Requests() []dsx.ScanRequest {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]dsx.ScanRequest(nil), h.requests...)
}

// TestRequests returns the scan requests received on the test-mode endpoint.
func (h *Hub) TestRequests() []dsx.ScanRequest {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]dsx.ScanRequest(nil), h.testRequests...)
}

// ConnectionChecks returns how often the connection test endpoint was called.
func (h *Hub) ConnectionChecks() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.connectChecks
}
