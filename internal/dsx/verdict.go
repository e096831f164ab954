// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"fmt"
	"strings"
)

// VerdictKind is the enum type for Verdict.Verdict.
type VerdictKind string

const (
	VerdictUnknown     VerdictKind = "Unknown"
	VerdictBenign      VerdictKind = "Benign"
	VerdictMalicious   VerdictKind = "Malicious"
	VerdictUnsupported VerdictKind = "Unsupported File Type"
	VerdictNotScanned  VerdictKind = "Not Scanned"
)

// Severity is the severity that the scanner attaches to a malicious verdict.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityVeryHigh Severity = "VERY_HIGH"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityVeryHigh: 4,
}

// ParseSeverity parses a severity name, ignoring case.
func ParseSeverity(input string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(input)))
	if _, ok := severityRanks[s]; !ok {
		return "", fmt.Errorf("unknown severity: %q", input)
	}
	return s, nil
}

// AtLeast returns whether s is as severe as the given threshold or more.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRanks[s] >= severityRanks[threshold]
}

// Verdict is the scan outcome reported by the scanning engine.
type Verdict struct {
	ScanGUID                 string          `json:"scan_guid,omitempty"`
	Verdict                  VerdictKind     `json:"verdict,omitempty"`
	VerdictDetails           *VerdictDetails `json:"verdict_details,omitempty"`
	FileInfo                 *FileInfo       `json:"file_info,omitempty"`
	ScanDurationMicroseconds int64           `json:"scan_duration_in_microseconds"`
}

// VerdictDetails appears in type Verdict.
type VerdictDetails struct {
	EventDescription string   `json:"event_description"`
	Reason           string   `json:"reason,omitempty"`
	Severity         Severity `json:"severity,omitempty"`
}

// FileInfo appears in type Verdict.
type FileInfo struct {
	FileType        string `json:"file_type"`
	FileSizeInBytes int64  `json:"file_size_in_bytes"`
	FileHash        string `json:"file_hash,omitempty"`
}

// RequiresItemAction returns whether this verdict warrants remediation under
// the given severity threshold. A malicious verdict without a severity is
// treated as meeting every threshold.
func (v Verdict) RequiresItemAction(threshold Severity) bool {
	if v.Verdict != VerdictMalicious {
		return false
	}
	if v.VerdictDetails == nil || v.VerdictDetails.Severity == "" {
		return true
	}
	return v.VerdictDetails.Severity.AtLeast(threshold)
}

// FileSize returns FileInfo.FileSizeInBytes, or 0 if FileInfo is missing.
func (v Verdict) FileSize() int64 {
	if v.FileInfo == nil {
		return 0
	}
	return v.FileInfo.FileSizeInBytes
}
