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
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SysBlockPath = "/sys/block"
	devPrefix    = "/dev/"
)

// virtualDiskPrefixes are block devices that are never USB media.
var virtualDiskPrefixes = []string{"loop", "ram", "zram", "dm-", "md", "nbd", "sr", "fd"}

// SysfsEnumerator reports raw USB disks found under /sys/block. Disks with
// a partition mounted by the OS are skipped, raw access to them would race
// the kernel's own filesystem driver. Those show up through the
// MountedEnumerator instead.
type SysfsEnumerator struct {
	fs           afero.Fs
	handles      *HandleStore
	evalSymlinks func(string) (string, error)
	sysBlock     string
	mountsPath   string
}

func NewSysfsEnumerator(fsys afero.Fs) *SysfsEnumerator {
	return &SysfsEnumerator{
		fs:           fsys,
		evalSymlinks: filepath.EvalSymlinks,
		sysBlock:     SysBlockPath,
		mountsPath:   ProcMountsPath,
	}
}

// UseHandles makes the reported devices open through handles stored in h.
func (e *SysfsEnumerator) UseHandles(h *HandleStore) *SysfsEnumerator {
	e.handles = h
	return e
}

func (e *SysfsEnumerator) Enumerate() ([]BlockDevice, error) {
	entries, err := afero.ReadDir(e.fs, e.sysBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", e.sysBlock, err)
	}

	mounts, err := readMounts(e.fs, e.mountsPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read mount table, assuming nothing is mounted")
	}

	devices := make([]BlockDevice, 0)
	for _, entry := range entries {
		name := entry.Name()
		if isVirtualDisk(name) {
			continue
		}

		sysPath := path.Join(e.sysBlock, name)
		if !e.isUSB(sysPath) {
			continue
		}

		if size, ok := e.readString(path.Join(sysPath, "size")); !ok || size == "0" {
			log.Debug().Str("disk", name).Msg("skipping disk without media")
			continue
		}

		node := devPrefix + name
		if mountedBy(mounts, node) {
			log.Debug().Str("disk", name).Msg("skipping disk mounted by the OS")
			continue
		}

		devices = append(devices, NewDiskDevice(node, e.describe(sysPath, name), node).UseHandles(e.handles))
	}

	return devices, nil
}

func isVirtualDisk(name string) bool {
	for _, prefix := range virtualDiskPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// isUSB reports whether the disk hangs off a USB bus, or failing that
// whether the kernel flags its media as removable.
func (e *SysfsEnumerator) isUSB(sysPath string) bool {
	if target, err := e.evalSymlinks(sysPath); err == nil {
		if strings.Contains(target, "/usb") {
			return true
		}
	}
	removable, ok := e.readString(path.Join(sysPath, "removable"))
	return ok && removable == "1"
}

func (e *SysfsEnumerator) describe(sysPath, fallback string) string {
	parts := make([]string, 0, 2)
	for _, attr := range []string{"vendor", "model"} {
		if v, ok := e.readString(path.Join(sysPath, "device", attr)); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, " ")
}

func (e *SysfsEnumerator) readString(p string) (string, bool) {
	data, err := afero.ReadFile(e.fs, p)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// mountedBy reports whether node or one of its partitions is mounted.
func mountedBy(mounts []MountEntry, node string) bool {
	for _, m := range mounts {
		if BelongsTo(m.Device, node) {
			return true
		}
	}
	return false
}

// BelongsTo reports whether key is the disk node itself or one of its
// partitions, e.g. /dev/sdb1 belongs to /dev/sdb.
func BelongsTo(key, disk string) bool {
	if key == disk {
		return true
	}
	rest, ok := strings.CutPrefix(key, disk)
	return ok && isPartitionSuffix(rest)
}

// isPartitionSuffix matches "1" in sdb1 and "p1" in mmcblk0p1.
func isPartitionSuffix(s string) bool {
	s = strings.TrimPrefix(s, "p")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
