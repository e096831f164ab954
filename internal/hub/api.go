// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"
	uuid "github.com/satori/go.uuid"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/dsxa"
)

// API contains state variables used by the hub's HTTP API.
type API struct {
	cfg        *dsx.ConfigurationSource
	queue      dsx.TaskQueue
	results    *dsx.ResultStore
	stats      *dsx.StatsStore
	worker     *Worker
	background *dsx.BackgroundTasks
}

// NewAPI constructs a new API instance. Test scan requests are processed in
// goroutines tracked by the given BackgroundTasks.
func NewAPI(cfg *dsx.ConfigurationSource, queue dsx.TaskQueue, results *dsx.ResultStore, stats *dsx.StatsStore, worker *Worker, background *dsx.BackgroundTasks) *API {
	return &API{cfg, queue, results, stats, worker, background}
}

// AddTo implements the api.API interface.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("POST").Path(dsx.ScanRequestPath).HandlerFunc(a.handlePostScanRequest)
	r.Methods("POST").Path(dsx.ScanRequestTestPath).HandlerFunc(a.handlePostTestScanRequest)
	r.Methods("GET").Path(dsx.ScanResultsPath).HandlerFunc(a.handleGetScanResults)
	r.Methods("GET").Path(dsx.ScanStatsPath).HandlerFunc(a.handleGetScanStats)
	r.Methods("GET").Path(dsx.ConnectionTestPath).HandlerFunc(a.handleGetConnectionTest)
	r.Methods("GET").Path(dsx.ScannerConnectionTestPath).HandlerFunc(a.handleGetScannerConnectionTest)
	r.Methods("GET").Path(dsx.ConfigPath).HandlerFunc(a.handleGetConfig)
}

func respondWithStoreError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	logg.Error("store operation failed: %s", err.Error())
	respondwith.JSON(w, http.StatusInternalServerError, dsx.Error("Database operation failed", err.Error()))
	return true
}

func decodeScanRequest(w http.ResponseWriter, r *http.Request) (dsx.ScanRequest, bool) {
	var req dsx.ScanRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err == nil {
		err = ValidateScanRequest(req)
	}
	if err != nil {
		respondwith.JSON(w, http.StatusBadRequest, dsx.Error("Invalid scan request data", err.Error()))
		return dsx.ScanRequest{}, false
	}
	return req, true
}

func (a *API) handlePostScanRequest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dsx-connect/scan-request")
	req, ok := decodeScanRequest(w, r)
	if !ok {
		return
	}

	task := dsx.ScanTask{ID: uuid.NewV4().String(), Request: req}
	err := a.queue.Enqueue(r.Context(), task)
	if err != nil {
		logg.Error("cannot enqueue scan task for %s: %s", req.Location, err.Error())
		respondwith.JSON(w, http.StatusInternalServerError, dsx.Error("Failed to queue scan task", err.Error()))
		return
	}
	scanTasksQueuedCounter.Inc()

	respondwith.JSON(w, http.StatusOK, dsx.Success(
		"Scan task queued for connector: "+req.ConnectorURL,
		"Scan task ID: "+task.ID,
	).WithID(task.ID))
}

func (a *API) handlePostTestScanRequest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dsx-connect/test/scan-request")
	req, ok := decodeScanRequest(w, r)
	if !ok {
		return
	}

	task := dsx.ScanTask{ID: uuid.NewV4().String(), Request: req}
	a.background.Go(func(ctx context.Context) {
		a.worker.Process(ctx, task)
	})
	respondwith.JSON(w, http.StatusOK, dsx.Success(
		"Test scan request received for connector: "+req.ConnectorURL,
		"Scan task ID: "+task.ID,
	).WithID(task.ID))
}

func (a *API) handleGetScanResults(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dsx-connect/scan-results")
	query := r.URL.Query()
	key := query.Get("key")

	var (
		results []dsx.ScanResult
		err     error
	)
	if key == "" {
		results, err = a.results.ReadAll()
	} else {
		results, err = a.results.Find(key, query.Get("value"))
		if errors.Is(err, dsx.ErrUnknownField) {
			respondwith.JSON(w, http.StatusBadRequest, dsx.Error("Invalid filter", err.Error()))
			return
		}
	}
	if respondWithStoreError(w, err) {
		return
	}
	if results == nil {
		results = []dsx.ScanResult{}
	}
	respondwith.JSON(w, http.StatusOK, results)
}

func (a *API) handleGetScanStats(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dsx-connect/scan-stats")
	stats, err := a.stats.GetGlobal()
	if respondWithStoreError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, stats)
}

func (a *API) handleGetConnectionTest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dsx-connect/test/connection")
	respondwith.JSON(w, http.StatusOK, dsx.Success("Connection to dsx-connect successful.", ""))
}

func (a *API) handleGetScannerConnectionTest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dsx-connect/test/dsxa-connection")
	client := dsxa.NewClient(a.cfg.Get().ScanBinaryURL)
	respondwith.JSON(w, http.StatusOK, client.TestConnection(r.Context()))
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dsx-connect/config")
	cfg := a.cfg.Get()
	cfg.ResultsDatabase.Location = redactURL(cfg.ResultsDatabase.Location)
	cfg.ResultsDatabase.ScanStatsLocation = redactURL(cfg.ResultsDatabase.ScanStatsLocation)
	respondwith.JSON(w, http.StatusOK, cfg)
}

// redactURL hides the password in database URLs.
func redactURL(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.User == nil {
		return location
	}
	return u.Redacted()
}
