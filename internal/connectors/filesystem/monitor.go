// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sapcc/go-bits/logg"
)

// Monitor watches a directory for new or modified files. Since a single
// write usually produces a burst of events, a file is only reported once
// no further events for it have been seen for the debounce interval.
type Monitor struct {
	root      string
	recursive bool
	ignoreDir string
	debounce  time.Duration
	onChange  func(path string)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	mutex   sync.Mutex
	timers  map[string]*time.Timer
	closed  bool
}

// StartMonitor starts watching root. onChange is called from a separate
// goroutine for every file that was created or modified. Files below ignoreDir
// (if not empty) are not reported.
func StartMonitor(root string, recursive bool, ignoreDir string, debounce time.Duration, onChange func(path string)) (*Monitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		root:      root,
		recursive: recursive,
		ignoreDir: ignoreDir,
		debounce:  debounce,
		onChange:  onChange,
		watcher:   watcher,
		timers:    make(map[string]*time.Timer),
	}
	err = m.watchTree(root)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	m.wg.Add(1)
	go m.run()
	logg.Info("monitoring %s for new or modified files", root)
	return m, nil
}

// watchTree adds a watch for the given directory and, in recursive mode, for
// all directories below it.
func (m *Monitor) watchTree(dir string) error {
	if !m.recursive {
		return m.watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if m.isIgnored(path) {
			return filepath.SkipDir
		}
		return m.watcher.Add(path)
	})
}

func (m *Monitor) isIgnored(path string) bool {
	return m.ignoreDir != "" && isBelow(m.ignoreDir, path)
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logg.Error("while monitoring %s: %s", m.root, err.Error())
		}
	}
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if m.isIgnored(event.Name) {
		return
	}
	fi, err := os.Stat(event.Name)
	if err != nil {
		// removed again before we got to look at it
		return
	}
	if fi.IsDir() {
		if m.recursive && event.Has(fsnotify.Create) {
			err := m.watchTree(event.Name)
			if err != nil {
				logg.Error("cannot monitor new directory %s: %s", event.Name, err.Error())
			}
		}
		return
	}
	if fi.Mode().IsRegular() {
		m.schedule(event.Name)
	}
}

func (m *Monitor) schedule(path string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return
	}
	if timer, exists := m.timers[path]; exists {
		timer.Reset(m.debounce)
		return
	}
	m.timers[path] = time.AfterFunc(m.debounce, func() {
		m.mutex.Lock()
		delete(m.timers, path)
		closed := m.closed
		m.mutex.Unlock()
		if !closed && isReadable(path) {
			logg.Info("new or modified file detected: %s", path)
			m.onChange(path)
		}
	})
}

// isReadable checks that the file can be opened and read, which is not the
// case while some writers still hold it open.
func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		logg.Debug("file %s not ready to open: %s", path, err.Error())
		return false
	}
	defer f.Close()
	_, err = f.Read(make([]byte, 1))
	if err != nil && !errors.Is(err, io.EOF) {
		logg.Debug("file %s not ready to read: %s", path, err.Error())
		return false
	}
	return true
}

// Close stops watching. Pending notifications are dropped.
func (m *Monitor) Close() error {
	m.mutex.Lock()
	m.closed = true
	for path, timer := range m.timers {
		timer.Stop()
		delete(m.timers, path)
	}
	m.mutex.Unlock()

	err := m.watcher.Close()
	m.wg.Wait()
	return err
}
