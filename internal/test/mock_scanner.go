// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// ScannerHost is the host name under which tests register the Scanner.
const ScannerHost = "dsxa.example.org"

// ScannerURL is the scan-binary URL of the Scanner.
const ScannerURL = "http://" + ScannerHost + "/scan/binary/v2"

// ScannerRequest records a request received by the Scanner.
type ScannerRequest struct {
	Metadata string
	Content  string
}

// Scanner is a http.Handler that mimics the scan-binary endpoint of DSXA.
type Scanner struct {
	// Contents listed here get a malicious verdict with the given severity
	// (empty for a verdict without severity). Everything else is benign.
	Malicious map[string]dsx.Severity
	// If non-zero, every request fails with this status code.
	FailWith int

	mutex    sync.Mutex
	requests []ScannerRequest
}

// NewScanner builds a Scanner that finds everything benign.
func NewScanner() *Scanner {
	return &Scanner{Malicious: make(map[string]dsx.Severity)}
}

// ServeHTTP implements the http.Handler interface.
func (s *Scanner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	buf, err := io.ReadAll(r.Body)
	if respondwith.ErrorText(w, err) {
		return
	}

	s.mutex.Lock()
	s.requests = append(s.requests, ScannerRequest{
		Metadata: r.Header.Get("X-Custom-Metadata"),
		Content:  string(buf),
	})
	count := len(s.requests)
	failWith := s.FailWith
	severity, isMalicious := s.Malicious[string(buf)]
	s.mutex.Unlock()

	if failWith != 0 {
		http.Error(w, "scanner unavailable", failWith)
		return
	}

	hash := sha256.Sum256(buf)
	verdict := dsx.Verdict{
		ScanGUID: fmt.Sprintf("scan-guid-%04d", count),
		Verdict:  dsx.VerdictBenign,
		VerdictDetails: &dsx.VerdictDetails{
			EventDescription: "File identified as benign",
		},
		FileInfo: &dsx.FileInfo{
			FileType:        "TextFileType",
			FileSizeInBytes: int64(len(buf)),
			FileHash:        hex.EncodeToString(hash[:]),
		},
		ScanDurationMicroseconds: int64(10 * len(buf)),
	}
	if isMalicious {
		verdict.Verdict = dsx.VerdictMalicious
		verdict.VerdictDetails = &dsx.VerdictDetails{
			EventDescription: "File identified as malicious",
			Reason:           "test signature",
			Severity:         severity,
		}
	}
	respondwith.JSON(w, http.StatusOK, verdict)
}

// Requests returns all requests received so far.
func (s *Scanner) Requests() []ScannerRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]ScannerRequest(nil), s.requests...)
}
