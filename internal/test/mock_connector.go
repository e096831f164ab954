// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// ConnectorHost is the host name under which tests register the Connector.
const ConnectorHost = "connector.example.org"

// ConnectorURL is the connector URL that the Connector announces in its scan
// requests, including the connector ID.
const ConnectorURL = "http://" + ConnectorHost + "/test-connector-0001"

// Connector is a http.Handler that mimics the parts of the connector API
// that the hub talks to: read_file and item_action.
type Connector struct {
	// Contents of the files that read_file can serve, by location.
	Files map[string]string
	// Response to item_action requests.
	ItemActionResponse dsx.StatusResponse

	mutex       sync.Mutex
	itemActions []dsx.ScanRequest
}

// NewConnector builds a Connector without files.
func NewConnector() *Connector {
	return &Connector{
		Files:              make(map[string]string),
		ItemActionResponse: dsx.Success("Item action move was invoked.", ""),
	}
}

// ServeHTTP implements the http.Handler interface.
func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dsx.ScanRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, dsx.ReadFilePath):
		c.mutex.Lock()
		content, exists := c.Files[req.Location]
		c.mutex.Unlock()
		if !exists {
			respondwith.JSON(w, http.StatusNotFound, dsx.Error("File "+req.Location+" not found", ""))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, content)

	case strings.HasSuffix(r.URL.Path, dsx.ItemActionPath):
		c.mutex.Lock()
		c.itemActions = append(c.itemActions, req)
		resp := c.ItemActionResponse
		c.mutex.Unlock()
		respondwith.JSON(w, http.StatusOK, resp)

	default:
		http.NotFound(w, r)
	}
}

// ItemActions returns the requests received on the item_action endpoint.
func (c *Connector) ItemActions() []dsx.ScanRequest {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]dsx.ScanRequest(nil), c.itemActions...)
}
