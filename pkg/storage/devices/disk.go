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
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// DiskDevice is a raw block device or disk image read with go-diskfs.
type DiskDevice struct {
	disk    *disk.Disk
	handles *HandleStore
	key     string
	name    string
	path    string
	parts   []Partition
}

// NewDiskDevice returns an uninitialised device backed by the block device
// node or image file at path.
func NewDiskDevice(key, name, path string) *DiskDevice {
	return &DiskDevice{key: key, name: name, path: path}
}

// UseHandles lets Init open the device through a handle stored in h.
func (d *DiskDevice) UseHandles(h *HandleStore) *DiskDevice {
	d.handles = h
	return d
}

func (d *DiskDevice) Key() string  { return d.key }
func (d *DiskDevice) Name() string { return d.name }
func (d *DiskDevice) Path() string { return d.path }

func (d *DiskDevice) Init() error {
	if d.disk != nil {
		if err := d.Close(); err != nil {
			log.Warn().Err(err).Str("key", d.key).Msg("failed to close device before reopening")
		}
	}

	dk, err := d.open()
	if err != nil {
		return err
	}

	parts, err := readPartitions(dk)
	if err != nil {
		_ = dk.Close()
		return err
	}

	d.disk = dk
	d.parts = parts

	log.Debug().
		Str("key", d.key).
		Str("path", d.path).
		Int("partitions", len(parts)).
		Msg("initialised block device")

	return nil
}

// open prefers a stored handle over opening the node, the node may only be
// accessible through the service that authorised it.
func (d *DiskDevice) open() (*disk.Disk, error) {
	if d.handles != nil {
		f, ok, err := d.handles.Open(d.path)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("path", d.path).Msg("failed to use stored device handle")
		case ok:
			dk, derr := diskfs.OpenBackend(file.New(f, false))
			if derr != nil {
				_ = f.Close()
				return nil, fmt.Errorf("failed to open %s from stored handle: %w", d.path, derr)
			}
			log.Debug().Str("path", d.path).Msg("opened device through stored handle")
			return dk, nil
		}
	}

	if !CanAccess(d.path) {
		return nil, fmt.Errorf("cannot open %s: %w", d.path, fs.ErrPermission)
	}

	dk, err := diskfs.Open(d.path, diskfs.WithOpenMode(diskfs.ReadWriteExclusive))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.path, err)
	}
	return dk, nil
}

// readPartitions returns the partitions of dk that hold a filesystem
// go-diskfs can read. A disk without a partition table is treated as a
// single superfloppy partition.
func readPartitions(dk *disk.Disk) ([]Partition, error) {
	table, err := dk.GetPartitionTable()
	if err != nil {
		fsys, ferr := dk.GetFilesystem(0)
		if ferr != nil {
			return nil, fmt.Errorf("no partition table or filesystem: %w", errors.Join(err, ferr))
		}
		return []Partition{{Index: 0, FileSystem: volume.NewDiskFS(fsys)}}, nil
	}

	parts := make([]Partition, 0)
	for i, p := range table.GetPartitions() {
		if p == nil || p.GetSize() == 0 {
			continue
		}
		fsys, err := dk.GetFilesystem(i + 1)
		if err != nil {
			log.Debug().Err(err).Int("partition", i+1).Msg("skipping partition without readable filesystem")
			continue
		}
		parts = append(parts, Partition{Index: len(parts), FileSystem: volume.NewDiskFS(fsys)})
	}
	return parts, nil
}

func (d *DiskDevice) Close() error {
	d.parts = nil
	if d.disk == nil {
		return nil
	}
	dk := d.disk
	d.disk = nil
	if err := dk.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", d.path, err)
	}
	return nil
}

func (d *DiskDevice) Partitions() []Partition {
	return d.parts
}

// Image is a disk image exposed as an attached device.
type Image struct {
	Key  string
	Name string
	Path string
}

// ImageEnumerator reports configured disk images that exist on disk.
type ImageEnumerator struct {
	fs     afero.Fs
	images []Image
}

func NewImageEnumerator(fsys afero.Fs, images []Image) *ImageEnumerator {
	return &ImageEnumerator{fs: fsys, images: images}
}

func (e *ImageEnumerator) Enumerate() ([]BlockDevice, error) {
	devices := make([]BlockDevice, 0, len(e.images))
	for _, img := range e.images {
		info, err := e.fs.Stat(img.Path)
		if err != nil {
			log.Debug().Err(err).Str("path", img.Path).Msg("disk image not available")
			continue
		} else if info.IsDir() {
			log.Warn().Str("path", img.Path).Msg("disk image path is a directory")
			continue
		}

		key := img.Key
		if key == "" {
			key = img.Path
		}
		name := img.Name
		if name == "" {
			name = filepath.Base(img.Path)
		}
		devices = append(devices, NewDiskDevice(key, name, img.Path))
	}
	return devices, nil
}
