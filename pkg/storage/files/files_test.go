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

package files

import (
	"errors"
	"strings"
	"testing"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainFS hides the Renamer implementation of the wrapped filesystem.
type plainFS struct {
	volume.FileSystem
}

// flakyFS fails file creation after failAfter successful creates.
type flakyFS struct {
	volume.FileSystem
	creates   int
	failAfter int
}

func (f *flakyFS) CreateFile(parent volume.Entry, name string) (volume.Entry, error) {
	f.creates++
	if f.creates > f.failAfter {
		return volume.Entry{}, errors.New("no free clusters")
	}
	return f.FileSystem.CreateFile(parent, name)
}

// renameFS overrides the rename behaviour of the wrapped filesystem.
type renameFS struct {
	volume.FileSystem
	renameErr error
	replaces  bool
}

func (r renameFS) Rename(e volume.Entry, newName string) (volume.Entry, error) {
	if r.renameErr != nil {
		return volume.Entry{}, r.renameErr
	}
	//nolint:forcetypeassert // always wraps an AferoFS
	return r.FileSystem.(*volume.AferoFS).Rename(e, newName)
}

func (r renameFS) ReplacesExisting() bool {
	return r.replaces
}

func listNames(t *testing.T, mem afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(mem, dir)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func TestParseSavingMode(t *testing.T) {
	t.Parallel()

	m, err := ParseSavingMode("StringData")
	require.NoError(t, err)
	assert.Equal(t, ModeText, m)

	m, err = ParseSavingMode("BytesData")
	require.NoError(t, err)
	assert.Equal(t, ModeBinary, m)

	_, err = ParseSavingMode("stringdata")
	require.ErrorIs(t, err, ErrUnknownSavingType)

	assert.Equal(t, "StringData", ModeText.String())
	assert.Equal(t, "BytesData", ModeBinary.String())
	assert.Equal(t, "SavingMode(7)", SavingMode(7).String())
}

func TestContent(t *testing.T) {
	t.Parallel()

	var c Content = Text("héllo")
	assert.Equal(t, ModeText, c.Mode())
	assert.Equal(t, []byte("héllo"), c.Bytes())

	c = Binary{0x00, 0xff}
	assert.Equal(t, ModeBinary, c.Mode())
	assert.Equal(t, []byte{0x00, 0xff}, c.Bytes())
}

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		content Content
		name    string
	}{
		{name: "text", content: Text("hello")},
		{name: "unicode text", content: Text("ザパロー ✓")},
		{name: "empty text", content: Text("")},
		{name: "binary", content: Binary{0x00, 0x01, 0xfe, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fsys := volume.NewAferoFS(afero.NewMemMapFs())

			require.NoError(t, Write(fsys, "/docs", "file", tt.content))

			got, err := Read(fsys, "/docs/file", tt.content.Mode())
			require.NoError(t, err)
			assert.Equal(t, tt.content, got)
		})
	}
}

func TestWrite_CreatesDirectoryChain(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	fsys := volume.NewAferoFS(mem)

	require.NoError(t, Write(fsys, "/a/b/c", "d.txt", Text("deep")))

	data, err := afero.ReadFile(mem, "/a/b/c/d.txt")
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestWrite_OverwriteAtomic(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	fsys := volume.NewAferoFS(mem)

	require.NoError(t, Write(fsys, "/docs", "notes.txt", Text("a much longer first version")))
	require.NoError(t, Write(fsys, "/docs", "notes.txt", Text("v2")))

	got, err := Read(fsys, "/docs/notes.txt", ModeText)
	require.NoError(t, err)
	assert.Equal(t, Text("v2"), got)
	assert.Equal(t, []string{"notes.txt"}, listNames(t, mem, "/docs"), "no temp or duplicate entries")
}

func TestWrite_OverwriteDeleteRecreate(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	fsys := plainFS{volume.NewAferoFS(mem)}

	require.NoError(t, Write(fsys, "/", "notes.txt", Text("v1")))
	require.NoError(t, Write(fsys, "/", "notes.txt", Binary("v2")))

	got, err := Read(fsys, "/notes.txt", ModeBinary)
	require.NoError(t, err)
	assert.Equal(t, Binary("v2"), got)
	assert.Equal(t, []string{"notes.txt"}, listNames(t, mem, "/"))
}

func TestWrite_OverwriteRecreateFailureLeavesFileAbsent(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/notes.txt", []byte("v1"), 0o644))
	fsys := &flakyFS{FileSystem: plainFS{volume.NewAferoFS(mem)}, failAfter: 1}

	err := Write(fsys, "/", "notes.txt", Text("v2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileCreation)

	exists, err := afero.Exists(mem, "/notes.txt")
	require.NoError(t, err)
	assert.False(t, exists, "delete then recreate is not crash safe")
}

func TestWrite_AtomicOverwriteFailureKeepsOldContent(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/notes.txt", []byte("v1"), 0o644))
	// first create collides, temp file creation fails
	fsys := &flakyFS{FileSystem: volume.NewAferoFS(mem), failAfter: 1}
	renaming := struct {
		*flakyFS
		volume.Renamer
	}{fsys, volume.NewAferoFS(mem)}

	err := Write(renaming, "/", "notes.txt", Text("v2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileCreation)

	data, err := afero.ReadFile(mem, "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestWrite_ReplacingRenameFailureKeepsOldFile(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/docs/a.txt", []byte("v1"), 0o644))
	fsys := renameFS{
		FileSystem: volume.NewAferoFS(mem),
		renameErr:  errors.New("directory table full"),
		replaces:   true,
	}

	err := Write(fsys, "/docs", "a.txt", Text("v2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileCreation)

	data, err := afero.ReadFile(mem, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.Equal(t, []string{"a.txt"}, listNames(t, mem, "/docs"), "temp file removed")
}

func TestWrite_NonReplacingRename(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/docs/a.txt", []byte("v1"), 0o644))
	fsys := renameFS{FileSystem: volume.NewAferoFS(mem)}

	require.NoError(t, Write(fsys, "/docs", "a.txt", Text("v2")))

	data, err := afero.ReadFile(mem, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, []string{"a.txt"}, listNames(t, mem, "/docs"))
}

func TestWrite_NonReplacingRenameFailureRecreates(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/docs/a.txt", []byte("v1"), 0o644))
	fsys := renameFS{
		FileSystem: volume.NewAferoFS(mem),
		renameErr:  errors.New("directory table full"),
	}

	require.NoError(t, Write(fsys, "/docs", "a.txt", Text("v2")))

	data, err := afero.ReadFile(mem, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, []string{"a.txt"}, listNames(t, mem, "/docs"), "exactly one entry, no temp file")
}

func TestWrite_RenameUnsupportedFallsBack(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/a.txt", []byte("v1"), 0o644))
	fsys := renameFS{
		FileSystem: volume.NewAferoFS(mem),
		renameErr:  volume.ErrRenameUnsupported,
		replaces:   true,
	}

	require.NoError(t, Write(fsys, "/", "a.txt", Text("v2")))

	data, err := afero.ReadFile(mem, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, []string{"a.txt"}, listNames(t, mem, "/"))
}

func TestWrite_OntoDirectory(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/docs/notes.txt", 0o755))
	fsys := volume.NewAferoFS(mem)

	err := Write(fsys, "/docs", "notes.txt", Text("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileCreation)

	isDir, err := afero.IsDir(mem, "/docs/notes.txt")
	require.NoError(t, err)
	assert.True(t, isDir, "directories are never replaced")
}

func TestWrite_CreateFailure(t *testing.T) {
	t.Parallel()

	fsys := &flakyFS{FileSystem: volume.NewAferoFS(afero.NewMemMapFs()), failAfter: 0}

	err := Write(fsys, "/", "a.txt", Text("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileCreation)
	assert.Contains(t, err.Error(), "no free clusters")
}

func TestRead_NotFound(t *testing.T) {
	t.Parallel()

	fsys := volume.NewAferoFS(afero.NewMemMapFs())

	_, err := Read(fsys, "/missing.txt", ModeText)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileNotFound)
}

func TestRead_Directory(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/docs", 0o755))

	_, err := Read(volume.NewAferoFS(mem), "/docs", ModeBinary)
	assert.ErrorIs(t, err, errs.ErrFileNotFound)
}

func TestRead_InvalidUTF8AsText(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	fsys := volume.NewAferoFS(mem)
	require.NoError(t, Write(fsys, "/", "blob.bin", Binary{0xff, 0xfe, 0x00}))

	_, err := Read(fsys, "/blob.bin", ModeText)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEncoding)

	got, err := Read(fsys, "/blob.bin", ModeBinary)
	require.NoError(t, err)
	assert.Equal(t, Binary{0xff, 0xfe, 0x00}, got)
}

func TestRead_TextWrittenAsBinary(t *testing.T) {
	t.Parallel()

	fsys := volume.NewAferoFS(afero.NewMemMapFs())
	require.NoError(t, Write(fsys, "/", "a.txt", Binary("plain ascii")))

	got, err := Read(fsys, "/a.txt", ModeText)
	require.NoError(t, err)
	assert.Equal(t, Text("plain ascii"), got)
}

func TestRead_LargeFile(t *testing.T) {
	t.Parallel()

	fsys := volume.NewAferoFS(afero.NewMemMapFs())
	big := strings.Repeat("0123456789abcdef", 64*1024)
	require.NoError(t, Write(fsys, "/", "big.txt", Text(big)))

	got, err := Read(fsys, "/big.txt", ModeText)
	require.NoError(t, err)
	assert.Len(t, got.Bytes(), len(big))
}

func TestDelete(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	fsys := volume.NewAferoFS(mem)
	require.NoError(t, Write(fsys, "/docs", "notes.txt", Text("hello")))

	require.NoError(t, Delete(fsys, "/docs/notes.txt"))

	exists, err := afero.Exists(mem, "/docs/notes.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	isDir, err := afero.IsDir(mem, "/docs")
	require.NoError(t, err)
	assert.True(t, isDir, "parent directory is kept")
}

func TestDelete_NotFoundLeavesFilesystemUnchanged(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	fsys := volume.NewAferoFS(mem)
	require.NoError(t, Write(fsys, "/docs", "keep.txt", Text("keep")))

	err := Delete(fsys, "/docs/missing.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileNotFound)

	assert.Equal(t, []string{"docs"}, listNames(t, mem, "/"))
	assert.Equal(t, []string{"keep.txt"}, listNames(t, mem, "/docs"))
}
