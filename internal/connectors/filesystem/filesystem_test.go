// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/test"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	must.SucceedT(t, os.MkdirAll(filepath.Dir(path), 0o755))
	must.SucceedT(t, os.WriteFile(path, []byte(content), 0o644))
}

func setupRepository(t *testing.T, action dsx.ItemAction) (root, quarantine string, r *Repository) {
	base := t.TempDir()
	root = filepath.Join(base, "data")
	quarantine = filepath.Join(base, "quarantine")
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "bravo")
	writeFile(t, filepath.Join(root, "sub", "deeper", "c.txt"), "charlie")

	r = NewRepository(Configuration{
		Configuration:     connector.Configuration{ItemAction: action},
		Location:          root,
		Recursive:         true,
		ItemActionMoveDir: quarantine,
	})
	return root, quarantine, r
}

func enumerateAll(t *testing.T, r *Repository) []string {
	var result []string
	err := r.Enumerate(t.Context(), func(req dsx.ScanRequest) bool {
		result = append(result, req.Location)
		return true
	})
	must.SucceedT(t, err)
	slices.Sort(result)
	return result
}

func TestEnumerate(t *testing.T) {
	root, _, r := setupRepository(t, dsx.ItemActionNothing)
	assert.DeepEqual(t, "recursive listing", enumerateAll(t, r), []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.txt"),
		filepath.Join(root, "sub", "deeper", "c.txt"),
	})

	r.cfg.Recursive = false
	assert.DeepEqual(t, "flat listing", enumerateAll(t, r), []string{filepath.Join(root, "a.txt")})

	// a quarantine directory inside the location is not scanned
	r.cfg.Recursive = true
	r.cfg.ItemActionMoveDir = filepath.Join(root, "sub")
	assert.DeepEqual(t, "listing without quarantine", enumerateAll(t, r), []string{filepath.Join(root, "a.txt")})

	// a single file as location
	r.cfg.Location = filepath.Join(root, "a.txt")
	assert.DeepEqual(t, "single file", enumerateAll(t, r), []string{filepath.Join(root, "a.txt")})

	// enumeration stops when asked to
	r.cfg.Location = root
	count := 0
	must.SucceedT(t, r.Enumerate(t.Context(), func(dsx.ScanRequest) bool {
		count++
		return false
	}))
	assert.DeepEqual(t, "items before stop", count, 1)

	r.cfg.Location = filepath.Join(root, "missing")
	err := r.Enumerate(t.Context(), func(dsx.ScanRequest) bool { return true })
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	root, _, r := setupRepository(t, dsx.ItemActionNothing)

	rc := must.ReturnT(r.ReadFile(t.Context(), dsx.ScanRequest{Location: filepath.Join(root, "sub", "b.txt")}))(t)
	content := must.ReturnT(io.ReadAll(rc))(t)
	must.SucceedT(t, rc.Close())
	assert.DeepEqual(t, "content", string(content), "bravo")

	for _, location := range []string{
		filepath.Join(root, "missing.txt"),
		filepath.Join(root, "sub"),
		filepath.Join(root, "..", "outside.txt"),
		"relative.txt",
	} {
		_, err := r.ReadFile(t.Context(), dsx.ScanRequest{Location: location})
		if !errors.Is(err, connector.ErrItemNotFound) {
			t.Errorf("expected ErrItemNotFound for %s, got %v", location, err)
		}
	}
}

func TestItemActionDelete(t *testing.T) {
	root, _, r := setupRepository(t, dsx.ItemActionDelete)
	path := filepath.Join(root, "a.txt")

	resp := r.ItemAction(t.Context(), dsx.ScanRequest{Location: path})
	assert.DeepEqual(t, "response", resp, dsx.Success("Item action delete was invoked.", "File "+path+" successfully deleted."))
	_, err := os.Stat(path)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected %s to be deleted, but Stat returned %v", path, err)
	}

	resp = r.ItemAction(t.Context(), dsx.ScanRequest{Location: path})
	assert.DeepEqual(t, "response", resp, dsx.Error("File "+path+" not found for deletion.", ""))
}

func TestItemActionMove(t *testing.T) {
	root, quarantine, r := setupRepository(t, dsx.ItemActionMove)
	path := filepath.Join(root, "sub", "b.txt")
	target := filepath.Join(quarantine, "b.txt")

	resp := r.ItemAction(t.Context(), dsx.ScanRequest{Location: path})
	assert.DeepEqual(t, "response", resp, dsx.Success("Item action move was invoked.", "File "+path+" successfully moved to "+target+"."))
	assert.DeepEqual(t, "moved content", string(must.ReturnT(os.ReadFile(target))(t)), "bravo")

	// repeating the move fails and leaves the quarantine alone
	resp = r.ItemAction(t.Context(), dsx.ScanRequest{Location: path})
	assert.DeepEqual(t, "status", resp.Status, dsx.StatusError)
	entries := must.ReturnT(os.ReadDir(quarantine))(t)
	assert.DeepEqual(t, "quarantine entries", len(entries), 1)

	// a move into an unusable quarantine directory keeps the source
	blocker := filepath.Join(root, "blocker")
	writeFile(t, blocker, "not a directory")
	r.cfg.ItemActionMoveDir = filepath.Join(blocker, "quarantine")
	path = filepath.Join(root, "a.txt")
	resp = r.ItemAction(t.Context(), dsx.ScanRequest{Location: path})
	assert.DeepEqual(t, "status", resp.Status, dsx.StatusError)
	must.SucceedT(t, func() error { _, err := os.Stat(path); return err }())
}

func TestItemActionMoveKeepsQuarantinedNamesake(t *testing.T) {
	root, quarantine, r := setupRepository(t, dsx.ItemActionMove)
	first := filepath.Join(root, "sub", "b.txt")
	second := filepath.Join(root, "other", "b.txt")
	writeFile(t, second, "second bravo")
	target := filepath.Join(quarantine, "b.txt")

	resp := r.ItemAction(t.Context(), dsx.ScanRequest{Location: first})
	assert.DeepEqual(t, "status", resp.Status, dsx.StatusSuccess)

	resp = r.ItemAction(t.Context(), dsx.ScanRequest{Location: second})
	assert.DeepEqual(t, "status", resp.Status, dsx.StatusError)
	assert.DeepEqual(t, "quarantined content", string(must.ReturnT(os.ReadFile(target))(t)), "bravo")
	assert.DeepEqual(t, "source content", string(must.ReturnT(os.ReadFile(second))(t)), "second bravo")

	err := moveFile(second, target)
	if !errors.Is(err, os.ErrExist) {
		t.Errorf("expected moveFile to refuse overwriting %s, but got %v", target, err)
	}
}

func TestItemActionOthers(t *testing.T) {
	root, _, r := setupRepository(t, dsx.ItemActionNothing)
	path := filepath.Join(root, "a.txt")

	resp := r.ItemAction(t.Context(), dsx.ScanRequest{Location: path})
	assert.DeepEqual(t, "response", resp, dsx.Nothing("Item action nothing was invoked.", ""))

	r.cfg.ItemAction = dsx.ItemActionTag
	resp = r.ItemAction(t.Context(), dsx.ScanRequest{Location: path})
	assert.DeepEqual(t, "response", resp, dsx.Nothing("Item action tag not implemented.", ""))

	r.cfg.ItemAction = dsx.ItemActionDelete
	resp = r.ItemAction(t.Context(), dsx.ScanRequest{Location: "/etc/passwd"})
	assert.DeepEqual(t, "status", resp.Status, dsx.StatusError)
}

func TestRepoCheck(t *testing.T) {
	root, _, r := setupRepository(t, dsx.ItemActionNothing)
	assert.DeepEqual(t, "repo check", r.RepoCheck(t.Context()), true)
	must.SucceedT(t, os.RemoveAll(root))
	assert.DeepEqual(t, "repo check", r.RepoCheck(t.Context()), false)
}

func TestFullScanAndMonitor(t *testing.T) {
	MonitorDebounce = 10 * time.Millisecond
	test.WithRoundTripper(func(tt *test.RoundTripper) {
		hub := test.NewHub()
		tt.Handlers[test.HubHost] = hub

		root, _, r := setupRepository(t, dsx.ItemActionNothing)
		r.cfg.ScanExisting = true
		r.cfg.Monitor = true
		c := connector.New(connector.Identity{
			Name:    "filesystem-connector",
			ID:      "filesystem-connector-0001",
			BaseURL: "http://" + test.ConnectorHost,
			HubURL:  test.HubURL,
		}, 2, r.Handlers())
		must.SucceedT(t, c.Startup(t.Context()))
		defer func() { must.SucceedT(t, c.Shutdown(context.Background())) }()

		// the initial full scan covers all existing files
		waitForRequests(t, hub, 3)

		writeFile(t, filepath.Join(root, "sub", "new.txt"), "new file")
		requests := waitForRequests(t, hub, 4)
		assert.DeepEqual(t, "monitored request", requests[3], dsx.ScanRequest{
			Location:     filepath.Join(root, "sub", "new.txt"),
			Metainfo:     "new.txt",
			ConnectorURL: "http://connector.example.org/filesystem-connector-0001",
		})
	})
}

func waitForRequests(t *testing.T, hub *test.Hub, count int) []dsx.ScanRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		requests := hub.Requests()
		if len(requests) >= count {
			return requests
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d scan requests, but got %d", count, len(requests))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
