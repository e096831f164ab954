// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"
)

func TestReloadFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "dsx-connect.env")
	t.Setenv("DSXCONNECT_ENV_FILE", envFile)
	// registered so that t.Setenv restores them after godotenv has overwritten them
	t.Setenv("DSXCONNECT_SCANNER__SCAN_BINARY_URL", "http://scanner.example.org/inherited")
	t.Setenv("DSXCONNECT_SECURITY__ITEM_ACTION_SEVERITY_THRESHOLD", "medium")

	must.SucceedT(t, os.WriteFile(envFile, []byte(
		"DSXCONNECT_SCANNER__SCAN_BINARY_URL=http://scanner.example.org/v1\n",
	), 0o600))
	source := NewConfigurationSource(must.ReturnT(ParseConfiguration())(t))
	assert.DeepEqual(t, "scanner URL", source.Get().ScanBinaryURL, "http://scanner.example.org/v1")
	assert.DeepEqual(t, "threshold", source.Get().SeverityThreshold, SeverityMedium)

	// edits to the file take effect on Reload
	must.SucceedT(t, os.WriteFile(envFile, []byte(
		"DSXCONNECT_SCANNER__SCAN_BINARY_URL=http://scanner.example.org/v2\n"+
			"DSXCONNECT_SECURITY__ITEM_ACTION_SEVERITY_THRESHOLD=high\n",
	), 0o600))
	must.SucceedT(t, source.Reload())
	assert.DeepEqual(t, "scanner URL", source.Get().ScanBinaryURL, "http://scanner.example.org/v2")
	assert.DeepEqual(t, "threshold", source.Get().SeverityThreshold, SeverityHigh)

	// an invalid file keeps the previous configuration
	must.SucceedT(t, os.WriteFile(envFile, []byte(
		"DSXCONNECT_SECURITY__ITEM_ACTION_SEVERITY_THRESHOLD=bogus\n",
	), 0o600))
	if source.Reload() == nil {
		t.Error("expected Reload to fail on an invalid severity threshold")
	}
	assert.DeepEqual(t, "threshold", source.Get().SeverityThreshold, SeverityHigh)

	must.SucceedT(t, os.Remove(envFile))
	if source.Reload() == nil {
		t.Error("expected Reload to fail on a missing env file")
	}
	assert.DeepEqual(t, "scanner URL", source.Get().ScanBinaryURL, "http://scanner.example.org/v2")
}
