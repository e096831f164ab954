// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package webhook contains a connector without a repository of its own. It
// turns events from external systems into scan requests.
package webhook

import (
	"context"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/dsx"
)

var defaults = connector.Configuration{
	Name:         "webhook-connector",
	ConnectorURL: "http://0.0.0.0:8592",
	HubURL:       "http://0.0.0.0:8586",
	ItemAction:   dsx.ItemActionNothing,
}

// Setup builds the webhook connector from the environment.
func Setup(ctx context.Context) (connector.Configuration, connector.Handlers, error) {
	cfg, err := connector.ParseConfiguration(defaults)
	if err != nil {
		return connector.Configuration{}, connector.Handlers{}, err
	}
	return cfg, Handlers(), nil
}

// Handlers returns the connector handlers. Only webhook events are supported.
func Handlers() connector.Handlers {
	return connector.Handlers{WebhookEvent: HandleEvent}
}

// HandleEvent sends a scan request for the file named in the event payload.
func HandleEvent(ctx context.Context, c *connector.Connector, payload map[string]any) dsx.StatusResponse {
	req, ok := connector.WebhookScanRequest(payload)
	if !ok {
		logg.Info("webhook event without file_id, requesting scan of %s", req.Location)
	}
	return c.ScanRequest(ctx, req)
}
