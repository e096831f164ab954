// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/dsx"
)

// MonitorDebounce is how long the monitor waits for a file to settle before
// requesting a scan.
var MonitorDebounce = 500 * time.Millisecond

// Repository implements the connector handlers for a local directory.
type Repository struct {
	cfg     Configuration
	monitor *Monitor
}

// NewRepository builds a Repository.
func NewRepository(cfg Configuration) *Repository {
	return &Repository{cfg: cfg}
}

// Handlers returns the connector handlers for this repository.
func (r *Repository) Handlers() connector.Handlers {
	return connector.Handlers{
		Startup:    r.startup,
		Shutdown:   r.shutdown,
		FullScan:   r.fullScan,
		ItemAction: r.ItemAction,
		ReadFile:   r.ReadFile,
		RepoCheck:  r.RepoCheck,
	}
}

func (r *Repository) startup(ctx context.Context, c *connector.Connector) error {
	logg.Info("filesystem connector serves %s (recursive = %t, item action = %s)", r.cfg.Location, r.cfg.Recursive, r.cfg.ItemAction)
	if r.cfg.ScanExisting {
		c.StartFullScan()
	}
	if !r.cfg.Monitor {
		return nil
	}

	var err error
	r.monitor, err = StartMonitor(r.cfg.Location, r.cfg.Recursive, r.cfg.ItemActionMoveDir, MonitorDebounce, func(path string) {
		c.RunInBackground(func(ctx context.Context) {
			resp := c.ScanRequest(ctx, scanRequestFor(path))
			if resp.IsError() {
				logg.Error("scan request for %s failed: %s (%s)", path, resp.Message, resp.Description)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("cannot monitor %s: %w", r.cfg.Location, err)
	}
	return nil
}

func (r *Repository) shutdown(ctx context.Context) error {
	if r.monitor == nil {
		return nil
	}
	return r.monitor.Close()
}

func (r *Repository) fullScan(ctx context.Context, c *connector.Connector) dsx.StatusResponse {
	logg.Debug("scanning files at %s", r.cfg.Location)
	_, resp := c.Dispatch(ctx, r.Enumerate)
	return resp
}

func scanRequestFor(path string) dsx.ScanRequest {
	return dsx.ScanRequest{Location: path, Metainfo: filepath.Base(path)}
}

// Enumerate yields all regular files below the configured location. If the
// location is a file, only that file is yielded. The quarantine directory is skipped.
func (r *Repository) Enumerate(ctx context.Context, yield func(dsx.ScanRequest) bool) error {
	root := r.cfg.Location
	fi, err := os.Stat(root)
	if err != nil {
		return err
	}
	if fi.Mode().IsRegular() {
		yield(scanRequestFor(root))
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (!r.cfg.Recursive || r.isQuarantine(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ctx.Err() != nil || !yield(scanRequestFor(path)) {
			return filepath.SkipAll
		}
		return nil
	})
}

func (r *Repository) isQuarantine(path string) bool {
	return r.cfg.ItemActionMoveDir != "" && isBelow(r.cfg.ItemActionMoveDir, path)
}

// isBelow checks whether path is the same as dir or inside it.
func isBelow(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// checkLocation rejects locations outside the configured location.
func (r *Repository) checkLocation(location string) (string, error) {
	path := filepath.Clean(location)
	if !filepath.IsAbs(path) || !isBelow(r.cfg.Location, path) {
		return "", fmt.Errorf("location %s is outside of %s", location, r.cfg.Location)
	}
	return path, nil
}

// ReadFile implements the read_file capability.
func (r *Repository) ReadFile(ctx context.Context, req dsx.ScanRequest) (io.ReadCloser, error) {
	path, err := r.checkLocation(req.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connector.ErrItemNotFound, err)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file %s not found: %w", path, connector.ErrItemNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	fi, err := f.Stat()
	if err == nil && !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file: %w", path, connector.ErrItemNotFound)
	}
	return f, nil
}

// ItemAction implements the item_action capability.
func (r *Repository) ItemAction(ctx context.Context, req dsx.ScanRequest) dsx.StatusResponse {
	action := r.cfg.ItemAction
	logg.Debug("item action %s on %s invoked", action, req.Location)
	invoked := fmt.Sprintf("Item action %s was invoked.", action)

	path, err := r.checkLocation(req.Location)
	if err != nil && action != dsx.ItemActionNothing {
		return dsx.Error(err.Error(), "")
	}

	switch action {
	case dsx.ItemActionNothing:
		return dsx.Nothing(invoked, "")

	case dsx.ItemActionDelete:
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			return dsx.Error(fmt.Sprintf("File %s not found for deletion.", path), "")
		}
		err = os.Remove(path)
		if err != nil {
			return dsx.Error(fmt.Sprintf("Failed to delete file %s: %s", path, err.Error()), "")
		}
		return dsx.Success(invoked, fmt.Sprintf("File %s successfully deleted.", path))

	case dsx.ItemActionMove:
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			return dsx.Error(fmt.Sprintf("File %s not found for move.", path), "")
		}
		err = os.MkdirAll(r.cfg.ItemActionMoveDir, 0o755)
		if err != nil {
			return dsx.Error(fmt.Sprintf("Failed to move file %s: %s", path, err.Error()), "")
		}
		target := filepath.Join(r.cfg.ItemActionMoveDir, filepath.Base(path))
		err = moveFile(path, target)
		if err != nil {
			logg.Error("failed to move file %s: %s", path, err.Error())
			return dsx.Error(fmt.Sprintf("Failed to move file %s: %s", path, err.Error()), "")
		}
		return dsx.Success(invoked, fmt.Sprintf("File %s successfully moved to %s.", path, target))

	default:
		return dsx.Nothing(fmt.Sprintf("Item action %s not implemented.", action), "")
	}
}

// moveFile renames a file, falling back to copy and remove when source and
// target are on different filesystems. The source is only removed after the
// copy has succeeded. An existing target is never overwritten.
func moveFile(source, target string) error {
	// os.Rename replaces an existing target, the copy fallback does not
	_, err := os.Lstat(target)
	if err == nil {
		return fmt.Errorf("%s: %w", target, os.ErrExist)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	err = os.Rename(source, target)
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err == nil {
		err = out.Close()
	} else {
		out.Close()
	}
	if err != nil {
		os.Remove(target)
		return err
	}
	return os.Remove(source)
}

// RepoCheck implements the repo_check capability.
func (r *Repository) RepoCheck(ctx context.Context) bool {
	_, err := os.Stat(r.cfg.Location)
	return err == nil
}
