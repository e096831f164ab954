// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsxa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// MetadataHeader carries free-form metadata about the scanned file. DSXA
// echoes it in its event logs.
const MetadataHeader = "X-Custom-Metadata"

// testPayload is scanned by TestConnection.
var testPayload = []byte("This is a test")

// Client talks to the scan-binary endpoint of a DSXA scanner.
type Client struct {
	scanBinaryURL string
}

// NewClient builds a Client for the given scan-binary URL, e.g.
// "http://dsxa.example.org:8080/scan/binary/v2".
func NewClient(scanBinaryURL string) *Client {
	return &Client{scanBinaryURL: scanBinaryURL}
}

// String implements the fmt.Stringer interface.
func (c *Client) String() string {
	return "scan binary URL: " + c.scanBinaryURL
}

// ScanBinary uploads the given content to DSXA and returns its verdict. The
// content is streamed, not buffered. If metadata is not empty, it is sent in
// the MetadataHeader.
func (c *Client) ScanBinary(ctx context.Context, content io.Reader, metadata string) (dsx.Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.scanBinaryURL, content)
	if err != nil {
		return dsx.Verdict{}, fmt.Errorf("during POST %s: %w", c.scanBinaryURL, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if metadata != "" {
		req.Header.Set(MetadataHeader, metadata)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return dsx.Verdict{}, fmt.Errorf("during POST %s: %w", c.scanBinaryURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dsx.Verdict{}, fmt.Errorf("during POST %s: expected 2xx, but got %d: %s",
			c.scanBinaryURL, resp.StatusCode, tryReadAllAndTrimSpace(resp.Body))
	}

	var verdict dsx.Verdict
	err = json.NewDecoder(resp.Body).Decode(&verdict)
	if err != nil {
		return dsx.Verdict{}, fmt.Errorf("cannot decode verdict from %s: %w", c.scanBinaryURL, err)
	}
	return verdict, nil
}

// TestConnection scans a small payload to check that DSXA is reachable
// and responding.
func (c *Client) TestConnection(ctx context.Context) dsx.StatusResponse {
	_, err := c.ScanBinary(ctx, bytes.NewReader(testPayload), "")
	if err != nil {
		logg.Error("DSXA connection test failed: %s", err.Error())
		return dsx.Error(err.Error(), "")
	}
	return dsx.Success("Successful DSXA scan of test file.", "")
}

// Metadata renders the value of the MetadataHeader for a scan task.
func Metadata(fileTag, taskID string) string {
	return fmt.Sprintf("file-tag:%s,task-id:%s", fileTag, taskID)
}

func tryReadAllAndTrimSpace(r io.Reader) string {
	buf, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "(cannot read response body: " + err.Error() + ")"
	}
	return strings.TrimSpace(string(buf))
}
