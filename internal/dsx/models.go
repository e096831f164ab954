// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ScanRequest is the envelope that a connector sends to the hub for every
// item that shall be scanned. Location is opaque to everyone but the
// connector that produced it.
type ScanRequest struct {
	Location     string `json:"location"`
	Metainfo     string `json:"metainfo"`
	ConnectorURL string `json:"connector_url"`
}

// MarshalJSON implements the json.Marshaler interface. An unset ConnectorURL
// is rendered as null.
func (r ScanRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Location     string  `json:"location"`
		Metainfo     string  `json:"metainfo"`
		ConnectorURL *string `json:"connector_url"`
	}{r.Location, r.Metainfo, nullable(r.ConnectorURL)})
}

// Status is the enum type for StatusResponse.Status.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusNothing Status = "nothing"
)

// StatusResponse is the reply envelope for every connector and hub operation.
type StatusResponse struct {
	Status      Status `json:"status"`
	Message     string `json:"message"`
	Description string `json:"description"`
	ID          string `json:"id"`
}

// Success builds a StatusResponse with status "success".
func Success(message, description string) StatusResponse {
	return StatusResponse{Status: StatusSuccess, Message: message, Description: description}
}

// Error builds a StatusResponse with status "error".
func Error(message, description string) StatusResponse {
	return StatusResponse{Status: StatusError, Message: message, Description: description}
}

// Nothing builds a StatusResponse with status "nothing".
func Nothing(message, description string) StatusResponse {
	return StatusResponse{Status: StatusNothing, Message: message, Description: description}
}

// WithID returns a copy of this response with the ID field set.
func (r StatusResponse) WithID(id string) StatusResponse {
	r.ID = id
	return r
}

// IsError is a shorthand for r.Status == StatusError.
func (r StatusResponse) IsError() bool {
	return r.Status == StatusError
}

// MarshalJSON implements the json.Marshaler interface. Empty optional fields
// are rendered as null.
func (r StatusResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status      Status  `json:"status"`
		Message     string  `json:"message"`
		Description *string `json:"description"`
		ID          *string `json:"id"`
	}{r.Status, r.Message, nullable(r.Description), nullable(r.ID)})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ItemAction is the remediation that a connector performs on items that were
// found to be malicious.
type ItemAction string

const (
	ItemActionNothing ItemAction = "nothing"
	ItemActionDelete  ItemAction = "delete"
	ItemActionMove    ItemAction = "move"
	ItemActionTag     ItemAction = "tag"
	// ItemActionMoveTag moves the item into quarantine and tags it there.
	ItemActionMoveTag ItemAction = "move_tag"
)

// ParseItemAction parses the value of an item action config option.
func ParseItemAction(input string) (ItemAction, error) {
	switch a := ItemAction(strings.ToLower(strings.TrimSpace(input))); a {
	case ItemActionNothing, ItemActionDelete, ItemActionMove, ItemActionTag, ItemActionMoveTag:
		return a, nil
	default:
		return "", fmt.Errorf("unknown item action: %q", input)
	}
}

// ScanResultStatus is the enum type for ScanResult.Status.
type ScanResultStatus string

const (
	ScanResultPending ScanResultStatus = "pending"
	ScanResultScanned ScanResultStatus = "scanned"
	ScanResultError   ScanResultStatus = "error"
)

// ScanResult is a record in the ResultStore. It is created by the hub when a
// verdict arrives and never modified afterwards.
type ScanResult struct {
	ID             int64            `json:"id"`
	ScanID         string           `json:"scan_id"`
	FileTag        string           `json:"file_tag"`
	Quarantined    bool             `json:"quarantined"`
	Status         ScanResultStatus `json:"status"`
	Verdict        *Verdict         `json:"verdict,omitempty"`
	FileReputation *int64           `json:"file_reputation,omitempty"`
}

// ScanStats holds aggregate counters for one scan ID. The reserved scan ID
// GlobalStatsID aggregates over all scans.
type ScanStats struct {
	FilesScanned                 int64   `json:"files_scanned"`
	MaliciousCount               int64   `json:"malicious_count"`
	TotalScanTimeMicroseconds    int64   `json:"total_scan_time_in_microseconds"`
	TotalScanTimeSeconds         float64 `json:"total_scan_time_in_seconds"`
	TotalFileSize                int64   `json:"total_file_size"`
	AvgFileSize                  int64   `json:"avg_file_size"`
	AvgScanTimeMicroseconds      int64   `json:"avg_scan_time_in_microseconds"`
	AvgScanTimeMilliseconds      float64 `json:"avg_scan_time_in_milliseconds"`
	AvgScanTimeSeconds           float64 `json:"avg_scan_time_in_seconds"`
	MedianFileSizeBytes          int64   `json:"median_file_size_in_bytes"`
	MedianScanTimeMicroseconds   int64   `json:"median_scan_time_in_microseconds"`
	LongestScanTimeFile          string  `json:"longest_scan_time_file"`
	LongestScanTimeFileSizeBytes int64   `json:"longest_scan_time_file_size_in_bytes"`
	LongestScanTimeMicroseconds  int64   `json:"longest_scan_time_in_microseconds"`
	LongestScanTimeMilliseconds  float64 `json:"longest_scan_time_in_milliseconds"`
	LongestScanTimeSeconds       float64 `json:"longest_scan_time_in_seconds"`
}

// GlobalStatsID is the reserved scan ID of the ScanStats row that aggregates
// over all scans.
const GlobalStatsID = "global_stats"

// ScanStatsRecord is a ScanStats row together with its key.
type ScanStatsRecord struct {
	ScanID string    `json:"scan_id"`
	Stats  ScanStats `json:"stats"`
}

// ScanTask is what the hub puts on its task queue for every accepted
// ScanRequest.
type ScanTask struct {
	ID      string      `json:"id"`
	Request ScanRequest `json:"request"`
}
