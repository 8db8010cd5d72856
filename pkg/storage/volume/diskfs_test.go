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
	"io"
	"io/fs"
	"os"
	"testing"

	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFAT is a go-diskfs filesystem backed by an afero memory fs. Methods the
// adapter does not use are left to the embedded nil interface.
type memFAT struct {
	filesystem.FileSystem
	mem       afero.Fs
	noRename  bool
	removed   []string
	openFlags []int
}

type memFATFile struct {
	filesystem.File
	f afero.File
}

func (m *memFATFile) Read(p []byte) (int, error)  { return m.f.Read(p) }
func (m *memFATFile) Write(p []byte) (int, error) { return m.f.Write(p) }
func (m *memFATFile) Close() error                { return m.f.Close() }

func newMemFAT() *memFAT {
	return &memFAT{mem: afero.NewMemMapFs()}
}

func (m *memFAT) Label() string { return "  ZAPAROO   " }

func (m *memFAT) Mkdir(p string) error {
	return m.mem.MkdirAll(p, 0o755)
}

func (m *memFAT) ReadDir(p string) ([]os.FileInfo, error) {
	return afero.ReadDir(m.mem, p)
}

func (m *memFAT) OpenFile(p string, flag int) (filesystem.File, error) {
	m.openFlags = append(m.openFlags, flag)
	f, err := m.mem.OpenFile(p, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &memFATFile{f: f}, nil
}

func (m *memFAT) Remove(p string) error {
	m.removed = append(m.removed, p)
	return m.mem.Remove(p)
}

func (m *memFAT) Rename(oldpath, newpath string) error {
	if m.noRename {
		return filesystem.ErrNotImplemented
	}
	return m.mem.Rename(oldpath, newpath)
}

func TestDiskFS_Label(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ZAPAROO", NewDiskFS(newMemFAT()).Label())
}

func TestDiskFS_SearchFoldsCase(t *testing.T) {
	t.Parallel()

	fat := newMemFAT()
	require.NoError(t, fat.mem.MkdirAll("/Docs/Sub", 0o755))
	require.NoError(t, afero.WriteFile(fat.mem, "/Docs/Notes.TXT", []byte("x"), 0o644))
	v := NewDiskFS(fat)

	e, found, err := v.Search("/docs/notes.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Entry{Name: "Notes.TXT", Path: "/Docs/Notes.TXT", Dir: false}, e)

	e, found, err = v.Search("/DOCS/sub/")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, e.Dir)
	assert.Equal(t, "/Docs/Sub", e.Path)
}

func TestDiskFS_SearchThroughFile(t *testing.T) {
	t.Parallel()

	fat := newMemFAT()
	require.NoError(t, afero.WriteFile(fat.mem, "/a.txt", []byte("x"), 0o644))
	v := NewDiskFS(fat)

	_, found, err := v.Search("/a.txt/b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDiskFS_CreateWriteRead(t *testing.T) {
	t.Parallel()

	fat := newMemFAT()
	v := NewDiskFS(fat)

	dir, err := v.CreateDirectory(v.Root(), "docs")
	require.NoError(t, err)

	file, err := v.CreateFile(dir, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, os.O_CREATE|os.O_RDWR, fat.openFlags[0])

	w, err := v.OpenWriter(file)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := v.OpenReader(file)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello", string(data))

	_, err = v.CreateFile(dir, "NOTES.txt")
	assert.ErrorIs(t, err, fs.ErrExist, "FAT names collide regardless of case")
}

func TestDiskFS_Delete(t *testing.T) {
	t.Parallel()

	fat := newMemFAT()
	require.NoError(t, afero.WriteFile(fat.mem, "/a.txt", []byte("x"), 0o644))
	v := NewDiskFS(fat)

	e, _, err := v.Search("/a.txt")
	require.NoError(t, err)
	require.NoError(t, v.Delete(e))
	assert.Equal(t, []string{"/a.txt"}, fat.removed)
}

func TestDiskFS_RenameUnsupported(t *testing.T) {
	t.Parallel()

	fat := newMemFAT()
	fat.noRename = true
	require.NoError(t, afero.WriteFile(fat.mem, "/a.txt", []byte("x"), 0o644))
	v := NewDiskFS(fat)

	e, _, err := v.Search("/a.txt")
	require.NoError(t, err)

	_, err = v.Rename(e, "b.txt")
	assert.ErrorIs(t, err, ErrRenameUnsupported)
}
