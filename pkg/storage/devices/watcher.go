// Zaparoo USB Storage
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo USB Storage.
//
// Zaparoo USB Storage is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo USB Storage is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo USB Storage.  If not, see <http://www.gnu.org/licenses/>.

package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/helpers/syncutil"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const DiskByIDPath = "/dev/disk/by-id"

type ChangeKind int

const (
	Attached ChangeKind = iota
	Detached
)

func (k ChangeKind) String() string {
	if k == Attached {
		return "Attached"
	}
	return "Detached"
}

// Change is a device attaching or detaching. Key is the device node the
// by-id link pointed at.
type Change struct {
	Key  string
	Kind ChangeKind
}

// Watcher reports USB disks appearing and disappearing by watching the
// udev by-id link directory. Only whole-disk "usb-" links are considered.
type Watcher struct {
	watcher  *fsnotify.Watcher
	changes  chan Change
	stopChan chan struct{}
	links    map[string]string // link name -> device node
	refs     map[string]int    // device node -> link count
	dir      string
	wg       sync.WaitGroup
	mu       syncutil.Mutex
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir, usually DiskByIDPath.
func NewWatcher(dir string) *Watcher {
	return &Watcher{
		dir:      dir,
		changes:  make(chan Change, 10),
		stopChan: make(chan struct{}),
		links:    make(map[string]string),
		refs:     make(map[string]int),
	}
}

// Changes is closed when the watcher stops.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Start records the links already present without reporting them and then
// watches for changes.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.watcher = watcher

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", w.dir).Msg("failed to list existing device links")
	}
	for _, e := range entries {
		w.linkAdded(e.Name())
	}

	w.wg.Add(1)
	go w.watch()

	log.Debug().Str("dir", w.dir).Msg("started watching for usb disks")
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.wg.Wait()
		close(w.changes)
	})
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			var change Change
			var emit bool
			name := filepath.Base(event.Name)
			switch {
			case event.Has(fsnotify.Create):
				change, emit = w.linkAdded(name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				change, emit = w.linkRemoved(name)
			}
			if !emit {
				continue
			}

			select {
			case w.changes <- change:
				log.Debug().
					Str("key", change.Key).
					Stringer("kind", change.Kind).
					Msg("usb disk change detected")
			case <-w.stopChan:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

func isUSBDiskLink(name string) bool {
	return strings.HasPrefix(name, "usb-") && !strings.Contains(name, "-part")
}

func (w *Watcher) linkAdded(name string) (Change, bool) {
	if !isUSBDiskLink(name) {
		return Change{}, false
	}

	node, err := filepath.EvalSymlinks(filepath.Join(w.dir, name))
	if err != nil {
		log.Debug().Err(err).Str("link", name).Msg("failed to resolve device link")
		return Change{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.links[name]; ok {
		return Change{}, false
	}
	w.links[name] = node
	w.refs[node]++
	if w.refs[node] > 1 {
		return Change{}, false
	}
	return Change{Key: node, Kind: Attached}, true
}

func (w *Watcher) linkRemoved(name string) (Change, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	node, ok := w.links[name]
	if !ok {
		return Change{}, false
	}
	delete(w.links, name)
	w.refs[node]--
	if w.refs[node] > 0 {
		return Change{}, false
	}
	delete(w.refs, node)
	return Change{Key: node, Kind: Detached}, true
}
