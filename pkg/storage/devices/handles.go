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
	"os"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// HandleStore keeps device handles opened on our behalf by a privileged
// service, like UDisks2 after a polkit prompt. Devices reopen through a
// stored handle when the process has no access to the node itself.
type HandleStore struct {
	files map[string]*os.File
	mu    syncutil.Mutex
}

func NewHandleStore() *HandleStore {
	return &HandleStore{files: make(map[string]*os.File)}
}

// Put stores f for the device node path, closing any handle it replaces.
func (h *HandleStore) Put(path string, f *os.File) {
	h.mu.Lock()
	old := h.files[path]
	h.files[path] = f
	h.mu.Unlock()

	if old != nil && old != f {
		closeHandle(path, old)
	}
}

// Open returns a duplicate of the handle stored for path, which the caller
// must close. ok is false when nothing is stored.
func (h *HandleStore) Open(path string) (f *os.File, ok bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stored, ok := h.files[path]
	if !ok {
		return nil, false, nil
	}
	f, err = dupFile(stored)
	if err != nil {
		return nil, true, err
	}
	return f, true, nil
}

// Drop closes and forgets every handle whose path match accepts.
func (h *HandleStore) Drop(match func(path string) bool) {
	h.mu.Lock()
	dropped := make(map[string]*os.File)
	for p, f := range h.files {
		if match(p) {
			dropped[p] = f
			delete(h.files, p)
		}
	}
	h.mu.Unlock()

	for p, f := range dropped {
		closeHandle(p, f)
	}
}

// Close drops every handle.
func (h *HandleStore) Close() {
	h.Drop(func(string) bool { return true })
}

func closeHandle(path string, f *os.File) {
	if err := f.Close(); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("failed to close device handle")
	}
}
