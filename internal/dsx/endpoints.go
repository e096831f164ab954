// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

// Paths of the hub API.
const (
	ScanRequestPath           = "/dsx-connect/scan-request"
	ScanRequestTestPath       = "/dsx-connect/test/scan-request"
	ScanResultsPath           = "/dsx-connect/scan-results"
	ScanStatsPath             = "/dsx-connect/scan-stats"
	ConnectionTestPath        = "/dsx-connect/test/connection"
	ScannerConnectionTestPath = "/dsx-connect/test/dsxa-connection"
	ConfigPath                = "/dsx-connect/config"
)

// Paths of the connector API, relative to the connector URL.
const (
	FullScanPath     = "/full_scan"
	ItemActionPath   = "/item_action"
	ReadFilePath     = "/read_file"
	RepoCheckPath    = "/repo_check"
	WebhookEventPath = "/webhook/event"
)
