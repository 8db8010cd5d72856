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

package volume

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/diskfs/go-diskfs/filesystem"
)

// DiskFS adapts a go-diskfs filesystem (FAT32 for USB sticks). FAT names are
// case-insensitive, so lookups fold case while the stored name keeps the
// case it was created with.
type DiskFS struct {
	fs filesystem.FileSystem
}

// NewDiskFS wraps a filesystem opened from a go-diskfs disk.
func NewDiskFS(fsys filesystem.FileSystem) *DiskFS {
	return &DiskFS{fs: fsys}
}

// Label returns the trimmed volume label.
func (d *DiskFS) Label() string {
	return strings.TrimSpace(d.fs.Label())
}

func (*DiskFS) Root() Entry {
	return RootEntry
}

func (d *DiskFS) Search(p string) (Entry, bool, error) {
	if p == "" || p == Separator {
		return RootEntry, true, nil
	}

	parent := RootEntry
	for _, name := range strings.Split(strings.Trim(p, Separator), Separator) {
		if name == "" {
			continue
		}
		if !parent.Dir {
			return Entry{}, false, nil
		}

		infos, err := d.fs.ReadDir(parent.Path)
		if err != nil {
			return Entry{}, false, fmt.Errorf("failed to read directory %s: %w", parent.Path, err)
		}

		next, ok := findInfo(infos, name)
		if !ok {
			return Entry{}, false, nil
		}
		parent = Entry{
			Name: next.Name(),
			Path: Join(parent.Path, next.Name()),
			Dir:  next.IsDir(),
		}
	}

	return parent, true, nil
}

func findInfo(infos []os.FileInfo, name string) (os.FileInfo, bool) {
	for _, info := range infos {
		if strings.EqualFold(info.Name(), name) {
			return info, true
		}
	}
	return nil, false
}

func (d *DiskFS) CreateDirectory(parent Entry, name string) (Entry, error) {
	p := Join(parent.Path, name)
	if err := d.fs.Mkdir(p); err != nil {
		return Entry{}, fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return newEntry(p, true), nil
}

func (d *DiskFS) CreateFile(parent Entry, name string) (Entry, error) {
	p := Join(parent.Path, name)

	if _, found, err := d.Search(p); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, fmt.Errorf("failed to create file %s: %w", p, fs.ErrExist)
	}

	f, err := d.fs.OpenFile(p, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to create file %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return Entry{}, fmt.Errorf("failed to close new file %s: %w", p, err)
	}

	return newEntry(p, false), nil
}

func (d *DiskFS) OpenReader(e Entry) (io.ReadCloser, error) {
	f, err := d.fs.OpenFile(e.Path, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", e.Path, err)
	}
	return f, nil
}

func (d *DiskFS) OpenWriter(e Entry) (io.WriteCloser, error) {
	f, err := d.fs.OpenFile(e.Path, os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for writing: %w", e.Path, err)
	}
	return f, nil
}

func (d *DiskFS) Delete(e Entry) error {
	if err := d.fs.Remove(e.Path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", e.Path, err)
	}
	return nil
}

func (d *DiskFS) Rename(e Entry, newName string) (Entry, error) {
	p := Join(Dir(e.Path), newName)
	err := d.fs.Rename(e.Path, p)
	if errors.Is(err, filesystem.ErrNotSupported) || errors.Is(err, filesystem.ErrNotImplemented) {
		return Entry{}, ErrRenameUnsupported
	} else if err != nil {
		return Entry{}, fmt.Errorf("failed to rename %s: %w", e.Path, err)
	}
	return newEntry(p, e.Dir), nil
}

// ReplacesExisting is false: the FAT32 driver drops a clashing entry without
// freeing its clusters.
func (*DiskFS) ReplacesExisting() bool {
	return false
}
