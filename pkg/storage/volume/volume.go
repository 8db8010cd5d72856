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

// Package volume defines the filesystem-driver contract the storage core
// works against, plus adapters for go-diskfs (raw FAT32 partitions) and afero
// (volumes already mounted by the OS, and in-memory filesystems in tests).
//
// All paths are absolute and use "/" as separator, with "/" being the root
// of the volume.
package volume

import (
	"errors"
	"io"
	"path"
	"strings"
)

const Separator = "/"

// ErrRenameUnsupported is returned by Renamer implementations when the
// underlying driver cannot rename entries.
var ErrRenameUnsupported = errors.New("rename not supported by filesystem")

// Entry is a file or directory on a volume.
type Entry struct {
	Name string
	Path string
	Dir  bool
}

// RootEntry is the entry of the volume root directory.
var RootEntry = Entry{Name: "", Path: Separator, Dir: true}

// FileSystem is the set of primitives a mounted partition must provide.
type FileSystem interface {
	// Root returns the root directory entry.
	Root() Entry
	// Search looks up an absolute path. A missing entry is reported with
	// found=false and a nil error; err is only set for driver failures.
	Search(p string) (entry Entry, found bool, err error)
	// CreateDirectory creates a single directory under parent.
	CreateDirectory(parent Entry, name string) (Entry, error)
	// CreateFile creates an empty file under parent. It returns an error
	// matching fs.ErrExist if an entry with that name already exists.
	CreateFile(parent Entry, name string) (Entry, error)
	// OpenReader opens a file for reading from the start.
	OpenReader(e Entry) (io.ReadCloser, error)
	// OpenWriter opens a file for writing from the start.
	OpenWriter(e Entry) (io.WriteCloser, error)
	// Delete removes a file or an empty directory.
	Delete(e Entry) error
}

// Renamer is implemented by filesystems that can rename an entry within its
// directory.
type Renamer interface {
	Rename(e Entry, newName string) (Entry, error)
	// ReplacesExisting reports whether Rename atomically replaces an entry
	// already holding newName. When false the caller must remove it first.
	ReplacesExisting() bool
}

// Join appends name to dir with exactly one separator between them.
func Join(dir, name string) string {
	if dir == Separator || dir == "" {
		return Separator + name
	}
	return strings.TrimSuffix(dir, Separator) + Separator + name
}

// Dir returns the parent directory of an absolute path.
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return Separator
	}
	return d
}

// Base returns the last element of p.
func Base(p string) string {
	return path.Base(p)
}

func newEntry(p string, dir bool) Entry {
	if p == Separator {
		return RootEntry
	}
	return Entry{Name: path.Base(p), Path: p, Dir: dir}
}
