// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/sapcc/go-bits/logg"
	"golang.org/x/sync/errgroup"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/dsxa"
)

// Worker processes scan tasks: it fetches the item from the connector, has
// it scanned by DSXA, triggers the connector's item action for malicious
// items, and records the result.
type Worker struct {
	cfg     *dsx.ConfigurationSource
	results *dsx.ResultStore
	stats   *StatsWorker
}

// NewWorker builds a Worker.
func NewWorker(cfg *dsx.ConfigurationSource, results *dsx.ResultStore, stats *StatsWorker) *Worker {
	return &Worker{cfg, results, stats}
}

// Run takes tasks off the queue with the given number of parallel consumers
// until ctx expires.
func (w *Worker) Run(ctx context.Context, queue dsx.TaskQueue, consumers int) error {
	var eg errgroup.Group
	for range max(consumers, 1) {
		eg.Go(func() error {
			return queue.Consume(ctx, func(ctx context.Context, task dsx.ScanTask) {
				w.Process(ctx, task)
			})
		})
	}
	return eg.Wait()
}

// ValidateScanRequest checks that a scan request can be processed.
func ValidateScanRequest(req dsx.ScanRequest) error {
	if strings.TrimSpace(req.Location) == "" {
		return errors.New("location is missing")
	}
	if !strings.HasPrefix(req.ConnectorURL, "http://") && !strings.HasPrefix(req.ConnectorURL, "https://") {
		return fmt.Errorf("connector_url %q is not an http(s) URL", req.ConnectorURL)
	}
	return nil
}

// Process handles a single scan task.
func (w *Worker) Process(ctx context.Context, task dsx.ScanTask) dsx.StatusResponse {
	req := task.Request
	logg.Debug("processing scan task %s for %s from connector %s", task.ID, req.Location, req.ConnectorURL)

	err := ValidateScanRequest(req)
	if err != nil {
		scanTasksProcessedCounter.WithLabelValues(string(dsx.ScanResultError)).Inc()
		return dsx.Error("Invalid scan request data", err.Error()).WithID(task.ID)
	}

	resp := w.scan(ctx, task)
	if resp.IsError() {
		logg.Error("scan task %s for %s failed: %s (%s)", task.ID, req.Location, resp.Message, resp.Description)
		err = w.storeResult(dsx.ScanResult{ScanID: task.ID, FileTag: req.Metainfo, Status: dsx.ScanResultError})
		if err != nil {
			logg.Error(err.Error())
		}
		scanTasksProcessedCounter.WithLabelValues(string(dsx.ScanResultError)).Inc()
	} else {
		scanTasksProcessedCounter.WithLabelValues(string(dsx.ScanResultScanned)).Inc()
	}
	return resp.WithID(task.ID)
}

func (w *Worker) scan(ctx context.Context, task dsx.ScanTask) dsx.StatusResponse {
	req := task.Request
	cfg := w.cfg.Get()

	resp, err := w.callConnector(ctx, req, dsx.ReadFilePath)
	if err != nil {
		var cerr connectorError
		if errors.As(err, &cerr) {
			return dsx.Error("Did not receive file from /read_file", fmt.Sprintf("Status code returned: %d", cerr.StatusCode))
		}
		return dsx.Error("Did not receive file from /read_file", err.Error())
	}
	content := resp.Body
	defer content.Close()

	// a JSON body on /read_file is a status envelope, not the item
	if isJSONResponse(resp) {
		var envelope dsx.StatusResponse
		err = json.NewDecoder(content).Decode(&envelope)
		if err != nil {
			return dsx.Error("Did not receive file from /read_file", "cannot decode JSON response: "+err.Error())
		}
		return dsx.Error("Did not receive file from /read_file", "Connector answered: "+envelope.Message)
	}

	verdict, err := dsxa.NewClient(cfg.ScanBinaryURL).ScanBinary(ctx, content, dsxa.Metadata(req.Metainfo, task.ID))
	if err != nil {
		return dsx.Error("Scan of "+req.Location+" failed", err.Error())
	}
	logg.Info("verdict for %s: %s", req.Location, verdict.Verdict)

	quarantined := false
	if verdict.RequiresItemAction(cfg.SeverityThreshold) {
		quarantined = w.triggerItemAction(ctx, req)
	}

	err = w.storeResult(dsx.ScanResult{
		ScanID:      task.ID,
		FileTag:     req.Metainfo,
		Quarantined: quarantined,
		Status:      dsx.ScanResultScanned,
		Verdict:     &verdict,
	})
	if err != nil {
		return dsx.Error("Failed to store scan result", err.Error())
	}
	err = w.stats.Record(verdict, req.Metainfo)
	if err != nil {
		logg.Error("cannot update scan stats for task %s: %s", task.ID, err.Error())
	}
	return dsx.Success(fmt.Sprintf("Scan of %s completed.", req.Location), "Verdict: "+string(verdict.Verdict))
}

// triggerItemAction reports whether the connector performed an item action.
// Failures are logged, but do not fail the scan task.
func (w *Worker) triggerItemAction(ctx context.Context, req dsx.ScanRequest) bool {
	logg.Info("verdict for %s requires an item action, calling connector %s", req.Location, req.ConnectorURL)
	httpResp, err := w.callConnector(ctx, req, dsx.ItemActionPath)
	if err != nil {
		logg.Error("item action on %s failed: %s", req.Location, err.Error())
		itemActionsCounter.WithLabelValues(string(dsx.StatusError)).Inc()
		return false
	}
	body := httpResp.Body
	defer body.Close()

	var resp dsx.StatusResponse
	err = json.NewDecoder(body).Decode(&resp)
	if err != nil {
		logg.Error("cannot decode item action response for %s: %s", req.Location, err.Error())
		itemActionsCounter.WithLabelValues(string(dsx.StatusError)).Inc()
		return false
	}
	itemActionsCounter.WithLabelValues(string(resp.Status)).Inc()
	if resp.IsError() {
		logg.Error("item action on %s failed: %s", req.Location, resp.Message)
	}
	return resp.Status == dsx.StatusSuccess
}

func (w *Worker) storeResult(result dsx.ScanResult) error {
	_, err := w.results.Insert(result)
	if err != nil {
		return fmt.Errorf("cannot store scan result for task %s: %w", result.ScanID, err)
	}
	return nil
}

// connectorError is returned by callConnector when the connector answered
// with a non-200 status.
type connectorError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e connectorError) Error() string {
	return fmt.Sprintf("during POST %s: expected 200 OK, but got %d: %s", e.URL, e.StatusCode, e.Body)
}

// callConnector POSTs the scan request to the given connector endpoint and
// returns the response on success. The caller must close its body.
func (w *Worker) callConnector(ctx context.Context, req dsx.ScanRequest, path string) (*http.Response, error) {
	uri := strings.TrimSuffix(req.ConnectorURL, "/") + path
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("during POST %s: %w", uri, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("during POST %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, connectorError{uri, resp.StatusCode, strings.TrimSpace(string(respBody))}
	}
	return resp, nil
}

func isJSONResponse(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
