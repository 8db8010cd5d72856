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

	"github.com/spf13/afero"
)

// AferoFS adapts an afero.Fs. It is used for volumes the OS has already
// mounted (wrapped in a base path fs) and for in-memory volumes in tests.
type AferoFS struct {
	fs afero.Fs
}

// NewAferoFS wraps fsys. Paths handed to fsys are volume paths rooted at "/".
func NewAferoFS(fsys afero.Fs) *AferoFS {
	return &AferoFS{fs: fsys}
}

func (*AferoFS) Root() Entry {
	return RootEntry
}

func (a *AferoFS) Search(p string) (Entry, bool, error) {
	if p == "" || p == Separator {
		return RootEntry, true, nil
	}

	info, err := a.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	} else if err != nil {
		return Entry{}, false, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	return newEntry(p, info.IsDir()), true, nil
}

func (a *AferoFS) CreateDirectory(parent Entry, name string) (Entry, error) {
	p := Join(parent.Path, name)
	if err := a.fs.Mkdir(p, 0o755); err != nil {
		return Entry{}, fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return newEntry(p, true), nil
}

func (a *AferoFS) CreateFile(parent Entry, name string) (Entry, error) {
	p := Join(parent.Path, name)

	if _, found, err := a.Search(p); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, fmt.Errorf("failed to create file %s: %w", p, fs.ErrExist)
	}

	f, err := a.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to create file %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return Entry{}, fmt.Errorf("failed to close new file %s: %w", p, err)
	}

	return newEntry(p, false), nil
}

func (a *AferoFS) OpenReader(e Entry) (io.ReadCloser, error) {
	f, err := a.fs.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", e.Path, err)
	}
	return f, nil
}

func (a *AferoFS) OpenWriter(e Entry) (io.WriteCloser, error) {
	f, err := a.fs.OpenFile(e.Path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for writing: %w", e.Path, err)
	}
	return f, nil
}

func (a *AferoFS) Delete(e Entry) error {
	if err := a.fs.Remove(e.Path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", e.Path, err)
	}
	return nil
}

func (a *AferoFS) Rename(e Entry, newName string) (Entry, error) {
	p := Join(Dir(e.Path), newName)
	if err := a.fs.Rename(e.Path, p); err != nil {
		return Entry{}, fmt.Errorf("failed to rename %s: %w", e.Path, err)
	}
	return newEntry(p, e.Dir), nil
}

// ReplacesExisting is true: os.Rename and MemMapFs both replace the target.
func (*AferoFS) ReplacesExisting() bool {
	return true
}
