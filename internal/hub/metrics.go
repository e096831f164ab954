// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package hub

import "github.com/prometheus/client_golang/prometheus"

var (
	scanTasksQueuedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dsxconnect_hub_scan_tasks_queued",
			Help: "Counts scan tasks accepted into the task queue.",
		},
	)
	scanTasksProcessedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsxconnect_hub_scan_tasks_processed",
			Help: "Counts processed scan tasks, by result status.",
		},
		[]string{"status"},
	)
	itemActionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsxconnect_hub_item_actions",
			Help: "Counts item actions triggered on connectors, by response status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(scanTasksQueuedCounter)
	prometheus.MustRegister(scanTasksProcessedCounter)
	prometheus.MustRegister(itemActionsCounter)
}
