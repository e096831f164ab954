// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsxa

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/test"
)

func TestScanBinary(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		scanner := test.NewScanner()
		scanner.Malicious["EICAR"] = dsx.SeverityHigh
		tt.Handlers[test.ScannerHost] = scanner
		c := NewClient(test.ScannerURL)

		verdict := must.ReturnT(c.ScanBinary(t.Context(), strings.NewReader("hello"), Metadata("hello.txt", "task-1")))(t)
		assert.DeepEqual(t, "verdict", verdict.Verdict, dsx.VerdictBenign)
		assert.DeepEqual(t, "file size", verdict.FileSize(), int64(5))

		verdict = must.ReturnT(c.ScanBinary(t.Context(), strings.NewReader("EICAR"), ""))(t)
		assert.DeepEqual(t, "verdict", verdict.Verdict, dsx.VerdictMalicious)
		assert.DeepEqual(t, "severity", verdict.VerdictDetails.Severity, dsx.SeverityHigh)

		assert.DeepEqual(t, "received requests", scanner.Requests(), []test.ScannerRequest{
			{Metadata: "file-tag:hello.txt,task-id:task-1", Content: "hello"},
			{Metadata: "", Content: "EICAR"},
		})
	})
}

func TestScanBinaryFailures(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		scanner := test.NewScanner()
		scanner.FailWith = http.StatusServiceUnavailable
		tt.Handlers[test.ScannerHost] = scanner
		c := NewClient(test.ScannerURL)

		_, err := c.ScanBinary(t.Context(), strings.NewReader("hello"), "")
		if err == nil || !strings.Contains(err.Error(), "got 503: scanner unavailable") {
			t.Errorf("expected 503 error, got %v", err)
		}
		resp := c.TestConnection(t.Context())
		assert.DeepEqual(t, "status", resp.Status, dsx.StatusError)

		tt.Failures[test.ScannerHost] = errors.New("connection refused")
		_, err = c.ScanBinary(t.Context(), strings.NewReader("hello"), "")
		if err == nil || !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("expected transport error, got %v", err)
		}
	})
}

func TestTestConnection(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		scanner := test.NewScanner()
		tt.Handlers[test.ScannerHost] = scanner
		resp := NewClient(test.ScannerURL).TestConnection(t.Context())
		assert.DeepEqual(t, "response", resp, dsx.Success("Successful DSXA scan of test file.", ""))
		assert.DeepEqual(t, "test payload", scanner.Requests()[0].Content, "This is a test")
	})
}
