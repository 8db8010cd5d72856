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

// Package files implements path resolution and file content access on a
// mounted volume.
package files

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// maxOverwriteAttempts bounds the delete-then-recreate fallback. A second
// collision means something else is recreating the file concurrently.
const maxOverwriteAttempts = 2

// Write stores content as filename inside dirPath, creating the directory
// chain as needed and replacing an existing file of the same name.
//
// Replacing is atomic when the filesystem is a volume.Renamer whose rename
// replaces existing entries: the new content is written to a temporary
// sibling which is renamed over the old file. Other renamers delete the old
// file before the rename and recreate it directly if the rename fails.
// Filesystems without rename delete and recreate, and a failure after the
// delete leaves the file absent.
func Write(fsys volume.FileSystem, dirPath, filename string, content Content) error {
	parent, err := ResolveOrCreateDirectoryChain(fsys, dirPath)
	if err != nil {
		return err
	}
	return writeInDir(fsys, parent, filename, content, 1)
}

func writeInDir(
	fsys volume.FileSystem,
	parent volume.Entry,
	filename string,
	content Content,
	attempt int,
) error {
	target := volume.Join(parent.Path, filename)

	file, err := fsys.CreateFile(parent, filename)
	if errors.Is(err, fs.ErrExist) && attempt < maxOverwriteAttempts {
		existing, found, serr := fsys.Search(target)
		if serr != nil {
			return &errs.Error{Kind: errs.ErrFileCreation, Op: "write", Path: target, Err: serr}
		}
		if !found {
			// vanished between create and search, just try again
			return writeInDir(fsys, parent, filename, content, attempt+1)
		}
		if existing.Dir {
			return &errs.Error{
				Kind: errs.ErrFileCreation,
				Op:   "write",
				Path: target,
				Err:  fmt.Errorf("%s is a directory", existing.Path),
			}
		}
		return overwrite(fsys, parent, existing, content, attempt)
	} else if err != nil {
		return &errs.Error{Kind: errs.ErrFileCreation, Op: "write", Path: target, Err: err}
	}

	if err := writeContent(fsys, file, content); err != nil {
		return &errs.Error{Kind: errs.ErrFileCreation, Op: "write", Path: target, Err: err}
	}

	log.Debug().
		Str("path", file.Path).
		Int("bytes", len(content.Bytes())).
		Str("mode", content.Mode().String()).
		Msg("wrote file")

	return nil
}

func overwrite(
	fsys volume.FileSystem,
	parent volume.Entry,
	existing volume.Entry,
	content Content,
	attempt int,
) error {
	if renamer, ok := fsys.(volume.Renamer); ok {
		err := replaceViaTemp(fsys, renamer, parent, existing, content)
		if err == nil {
			return nil
		}
		if !errors.Is(err, volume.ErrRenameUnsupported) {
			return &errs.Error{Kind: errs.ErrFileCreation, Op: "overwrite", Path: existing.Path, Err: err}
		}
		// existing is untouched, fall back to delete and recreate
	}

	log.Debug().Str("path", existing.Path).Msg("overwriting file by delete and recreate")
	if err := fsys.Delete(existing); err != nil {
		return &errs.Error{Kind: errs.ErrFileCreation, Op: "overwrite", Path: existing.Path, Err: err}
	}
	return writeInDir(fsys, parent, existing.Name, content, attempt+1)
}

// replaceViaTemp writes content next to existing and renames it into place.
// The temp file never outlives the call. volume.ErrRenameUnsupported is only
// returned while existing is still intact.
func replaceViaTemp(
	fsys volume.FileSystem,
	renamer volume.Renamer,
	parent volume.Entry,
	existing volume.Entry,
	content Content,
) error {
	tmpName := "." + existing.Name + "." + uuid.NewString()[:8] + ".tmp"

	tmp, err := fsys.CreateFile(parent, tmpName)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := writeContent(fsys, tmp, content); err != nil {
		removeTemp(fsys, tmp)
		return err
	}

	if renamer.ReplacesExisting() {
		if _, err := renamer.Rename(tmp, existing.Name); err != nil {
			removeTemp(fsys, tmp)
			return fmt.Errorf("failed to rename temp file: %w", err)
		}
		log.Debug().Str("path", existing.Path).Msg("replaced file")
		return nil
	}

	if err := fsys.Delete(existing); err != nil {
		removeTemp(fsys, tmp)
		return fmt.Errorf("failed to remove old file: %w", err)
	}

	if _, err := renamer.Rename(tmp, existing.Name); err != nil {
		removeTemp(fsys, tmp)
		log.Warn().Err(err).
			Str("path", existing.Path).
			Msg("failed to move new content into place, recreating file")
		if werr := writeInDir(fsys, parent, existing.Name, content, maxOverwriteAttempts); werr != nil {
			return fmt.Errorf("failed to recreate file after rename: %w", errors.Join(err, werr))
		}
		return nil
	}

	log.Debug().Str("path", existing.Path).Msg("replaced file")
	return nil
}

func removeTemp(fsys volume.FileSystem, tmp volume.Entry) {
	if err := fsys.Delete(tmp); err != nil {
		log.Warn().Err(err).Str("path", tmp.Path).Msg("failed to remove temp file")
	}
}

func writeContent(fsys volume.FileSystem, file volume.Entry, content Content) error {
	w, err := fsys.OpenWriter(file)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, bytes.NewReader(content.Bytes())); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write content: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to flush content: %w", err)
	}
	return nil
}

// Read returns the whole content of the file at p interpreted according to
// mode. Text reads fail with errs.ErrEncoding if the bytes are not valid
// UTF-8.
func Read(fsys volume.FileSystem, p string, mode SavingMode) (Content, error) {
	file, err := findFile(fsys, "read", p)
	if err != nil {
		return nil, err
	}

	r, err := fsys.OpenReader(file)
	if err != nil {
		return nil, &errs.Error{Kind: errs.ErrFileNotFound, Op: "read", Path: file.Path, Err: err}
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Str("path", file.Path).Msg("failed to close file")
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.Path, err)
	}

	switch mode {
	case ModeBinary:
		return Binary(data), nil
	case ModeText:
		if _, _, err := transform.Bytes(encoding.UTF8Validator, data); err != nil {
			return nil, &errs.Error{Kind: errs.ErrEncoding, Op: "read", Path: file.Path, Err: err}
		}
		return Text(data), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSavingType, mode)
	}
}

// Delete removes the file at p.
func Delete(fsys volume.FileSystem, p string) error {
	file, err := findFile(fsys, "delete", p)
	if err != nil {
		return err
	}

	if err := fsys.Delete(file); err != nil {
		return fmt.Errorf("failed to delete %s: %w", file.Path, err)
	}

	log.Debug().Str("path", file.Path).Msg("deleted file")
	return nil
}

func findFile(fsys volume.FileSystem, op, p string) (volume.Entry, error) {
	clean, err := Clean(p)
	if err != nil {
		return volume.Entry{}, &errs.Error{Kind: errs.ErrFileNotFound, Op: op, Path: p, Err: err}
	}

	file, found, err := fsys.Search(clean)
	if err != nil {
		return volume.Entry{}, fmt.Errorf("failed to search %s: %w", clean, err)
	} else if !found {
		return volume.Entry{}, &errs.Error{Kind: errs.ErrFileNotFound, Op: op, Path: clean}
	} else if file.Dir {
		return volume.Entry{}, &errs.Error{
			Kind: errs.ErrFileNotFound,
			Op:   op,
			Path: clean,
			Err:  errors.New("path is a directory"),
		}
	}

	return file, nil
}
