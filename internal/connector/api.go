// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// API contains state variables used by the connector's HTTP API.
type API struct {
	c *Connector
}

// NewAPI constructs a new API instance.
func NewAPI(c *Connector) *API {
	return &API{c}
}

// AddTo implements the api.API interface.
func (a *API) AddTo(r *mux.Router) {
	prefix := "/" + a.c.Identity.ID
	r.Methods("GET").Path("/").HandlerFunc(a.handleGetStatus)
	r.Methods("GET").Path(prefix + "/").HandlerFunc(a.handleGetStatus)
	r.Methods("POST").Path(prefix + dsx.FullScanPath).HandlerFunc(a.handlePostFullScan)
	r.Methods("POST").Path(prefix + dsx.ItemActionPath).HandlerFunc(a.handlePostItemAction)
	r.Methods("POST").Path(prefix + dsx.ReadFilePath).HandlerFunc(a.handlePostReadFile)
	r.Methods("POST").Path(prefix + dsx.RepoCheckPath).HandlerFunc(a.handlePostRepoCheck)
	r.Methods("POST").Path(prefix + dsx.WebhookEventPath).HandlerFunc(a.handlePostWebhookEvent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	err := json.NewDecoder(r.Body).Decode(target)
	if err != nil {
		respondwith.JSON(w, http.StatusBadRequest, dsx.Error("malformed request body", err.Error()))
		return false
	}
	return true
}

func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/:connector_id/")
	respondwith.JSON(w, http.StatusOK, a.c.Status(r.Context()))
}

func (a *API) handlePostFullScan(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/:connector_id/full_scan")
	respondwith.JSON(w, http.StatusOK, a.c.StartFullScan())
}

func (a *API) handlePostItemAction(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/:connector_id/item_action")
	var req dsx.ScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respondwith.JSON(w, http.StatusOK, a.c.ItemAction(r.Context(), req))
}

func (a *API) handlePostReadFile(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/:connector_id/read_file")
	var req dsx.ScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if a.c.handlers.ReadFile == nil {
		// non-200 so that the envelope is never mistaken for file contents
		respondwith.JSON(w, http.StatusNotImplemented, noHandler("read_file"))
		return
	}

	contents, err := a.c.handlers.ReadFile(r.Context(), req)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrItemNotFound) {
			code = http.StatusNotFound
		}
		respondwith.JSON(w, code, dsx.Error(err.Error(), "cannot read "+req.Location))
		return
	}
	defer contents.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, contents)
	if err != nil {
		// too late to report this to the client
		logg.Error("while streaming %s: %s", req.Location, err.Error())
	}
}

func (a *API) handlePostRepoCheck(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/:connector_id/repo_check")
	if a.c.handlers.RepoCheck == nil {
		respondwith.JSON(w, http.StatusOK, noHandler("repo_check"))
		return
	}
	if a.c.RepoCheck(r.Context()) {
		respondwith.JSON(w, http.StatusOK, dsx.Success("Repository connectivity check succeeded.", ""))
	} else {
		respondwith.JSON(w, http.StatusOK, dsx.Error("Repository connectivity check failed.", ""))
	}
}

func (a *API) handlePostWebhookEvent(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/:connector_id/webhook/event")
	var payload map[string]any
	if !decodeBody(w, r, &payload) {
		return
	}
	if a.c.handlers.WebhookEvent == nil {
		respondwith.JSON(w, http.StatusOK, noHandler("webhook_event"))
		return
	}
	respondwith.JSON(w, http.StatusOK, a.c.handlers.WebhookEvent(r.Context(), a.c, payload))
}
