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
	"fmt"
	"strings"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

var errParentSegment = errors.New("parent directory segments are not allowed")

// Segments splits a slash delimited path into its normalised names. Empty
// and "." segments are dropped, ".." is rejected.
func Segments(p string) ([]string, error) {
	parts := strings.Split(p, volume.Separator)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return nil, errParentSegment
		}
		segments = append(segments, norm.NFC.String(part))
	}
	return segments, nil
}

// Clean returns the canonical absolute form of p.
func Clean(p string) (string, error) {
	segments, err := Segments(p)
	if err != nil {
		return "", err
	}
	return volume.Separator + strings.Join(segments, volume.Separator), nil
}

// SplitPath separates a file path into its directory and file name.
func SplitPath(p string) (dir, name string, err error) {
	segments, err := Segments(p)
	if err != nil {
		return "", "", err
	}
	if len(segments) == 0 || strings.HasSuffix(p, volume.Separator) {
		return "", "", fmt.Errorf("path %q has no file name", p)
	}

	dir = volume.Separator + strings.Join(segments[:len(segments)-1], volume.Separator)
	return dir, segments[len(segments)-1], nil
}

// ResolveOrCreateDirectoryChain returns the directory at dirPath, creating
// every missing directory on the way down from the root.
func ResolveOrCreateDirectoryChain(fsys volume.FileSystem, dirPath string) (volume.Entry, error) {
	fail := func(err error) (volume.Entry, error) {
		return volume.Entry{}, &errs.Error{
			Kind: errs.ErrPathCreation,
			Op:   "resolve",
			Path: dirPath,
			Err:  err,
		}
	}

	segments, err := Segments(dirPath)
	if err != nil {
		return fail(err)
	}
	target := volume.Separator + strings.Join(segments, volume.Separator)

	if dest, found, err := fsys.Search(target); err != nil {
		return fail(err)
	} else if found {
		if !dest.Dir {
			return fail(fmt.Errorf("%s is a file", dest.Path))
		}
		return dest, nil
	}

	current := volume.Separator
	parent, found, err := fsys.Search(current)
	if err != nil {
		return fail(err)
	} else if !found {
		return fail(errors.New("root directory is not searchable"))
	}

	for _, name := range segments {
		next := volume.Join(current, name)

		dir, found, err := fsys.Search(next)
		if err != nil {
			return fail(err)
		}

		if !found {
			dir, err = fsys.CreateDirectory(parent, name)
			if err != nil {
				return fail(err)
			}
			log.Debug().Str("path", dir.Path).Msg("created directory")
		} else if !dir.Dir {
			return fail(fmt.Errorf("%s is a file", dir.Path))
		}

		current = dir.Path
		parent = dir
	}

	return parent, nil
}
