// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connector

import "github.com/prometheus/client_golang/prometheus"

var (
	scanRequestsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsxconnect_connector_scan_requests",
			Help: "Counts scan requests sent to dsx-connect, by outcome.",
		},
		[]string{"outcome"},
	)
	itemActionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsxconnect_connector_item_actions",
			Help: "Counts item actions performed on malicious items, by result status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(scanRequestsCounter)
	prometheus.MustRegister(itemActionsCounter)
}
