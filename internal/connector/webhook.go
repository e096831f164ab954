// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"encoding/json"
	"fmt"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// WebhookScanRequest maps a webhook payload to a scan request for the item
// "custom://<file_id>". If the payload has no usable file_id, the location
// is "custom://unknown" and false is returned.
func WebhookScanRequest(payload map[string]any) (dsx.ScanRequest, bool) {
	fileID := ""
	switch id := payload["file_id"].(type) {
	case string:
		fileID = id
	case json.Number:
		fileID = id.String()
	case float64:
		fileID = fmt.Sprint(id)
	}
	if fileID == "" {
		return dsx.ScanRequest{Location: "custom://unknown", Metainfo: "webhook event without file_id"}, false
	}
	return dsx.ScanRequest{Location: "custom://" + fileID, Metainfo: "webhook event for file " + fileID}, true
}
