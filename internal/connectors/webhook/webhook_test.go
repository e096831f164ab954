// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"net/http"
	"testing"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/httpapi"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/test"
)

func TestWebhookEvent(t *testing.T) {
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		hub := test.NewHub()
		tt.Handlers[test.HubHost] = hub
		c := connector.New(connector.Identity{
			Name:    "webhook-connector",
			ID:      "webhook-connector-0001",
			BaseURL: "http://" + test.ConnectorHost,
			HubURL:  test.HubURL,
		}, 1, Handlers())
		h := httpapi.Compose(connector.NewAPI(c))

		for _, payload := range []assert.JSONObject{{"file_id": "42"}, {"event": "upload"}} {
			assert.HTTPRequest{
				Method:       "POST",
				Path:         "/webhook-connector-0001/webhook/event",
				Body:         payload,
				ExpectStatus: http.StatusOK,
				ExpectBody: assert.JSONObject{
					"status":      "success",
					"message":     "Scan task queued for connector: http://connector.example.org/webhook-connector-0001",
					"description": nil,
					"id":          nil,
				},
			}.Check(t, h)
		}

		locations := []string{}
		for _, req := range hub.Requests() {
			locations = append(locations, req.Location)
		}
		assert.DeepEqual(t, "scanned locations", locations, []string{"custom://42", "custom://unknown"})

		// the webhook connector has no repository to scan or act on
		assert.HTTPRequest{
			Method:       "POST",
			Path:         "/webhook-connector-0001/full_scan",
			ExpectStatus: http.StatusOK,
			ExpectBody: assert.JSONObject{
				"status":      "error",
				"message":     "no handler registered for full_scan",
				"description": nil,
				"id":          nil,
			},
		}.Check(t, h)
		assert.DeepEqual(t, "repo check", c.RepoCheck(t.Context()), false)
	})
}
