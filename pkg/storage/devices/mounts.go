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
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const ProcMountsPath = "/proc/mounts"

var systemFSTypes = []string{
	"sysfs", "proc", "devtmpfs", "devpts", "tmpfs", "cgroup",
	"cgroup2", "pstore", "bpf", "configfs", "selinuxfs", "debugfs",
	"tracefs", "fusectl", "fuse.portal", "mqueue", "hugetlbfs",
	"autofs", "efivarfs", "binfmt_misc", "overlay",
}

// fatFSTypes are the mount types of volumes a FAT-family USB stick shows up
// as once the OS has mounted it.
var fatFSTypes = []string{"vfat", "msdos", "exfat", "ntfs", "ntfs3", "fuseblk"}

// MountEntry is a block device mount from the mount table.
type MountEntry struct {
	Device string
	Path   string
	FSType string
}

// Removable reports whether the mount point is one used for removable media.
func (m MountEntry) Removable() bool {
	return strings.HasPrefix(m.Path, "/media/") || strings.HasPrefix(m.Path, "/mnt/")
}

// ParseMounts reads a /proc/mounts formatted table and returns the mounts
// backed by a /dev node. Pseudo filesystems are skipped.
func ParseMounts(r io.Reader) ([]MountEntry, error) {
	var entries []MountEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		device := fields[0]
		fstype := fields[2]

		if slices.Contains(systemFSTypes, fstype) {
			continue
		}
		if !strings.HasPrefix(device, "/dev/") {
			continue
		}

		entries = append(entries, MountEntry{
			Device: device,
			Path:   unescapeMountPath(fields[1]),
			FSType: fstype,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	return entries, nil
}

// unescapeMountPath decodes the octal escapes the kernel uses for
// whitespace in mount points ("\040" for a space).
func unescapeMountPath(p string) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	var sb strings.Builder
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' && i+3 < len(p) && isOctal(p[i+1]) && isOctal(p[i+2]) && isOctal(p[i+3]) {
			sb.WriteByte((p[i+1]-'0')<<6 | (p[i+2]-'0')<<3 | (p[i+3] - '0'))
			i += 3
			continue
		}
		sb.WriteByte(p[i])
	}
	return sb.String()
}

func isOctal(b byte) bool {
	return b >= '0' && b <= '7'
}

func readMounts(fsys afero.Fs, path string) ([]MountEntry, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ParseMounts(f)
}

// HostDevice is a volume the OS has already mounted. It exposes the mount
// point as its single partition.
type HostDevice struct {
	fs        afero.Fs
	key       string
	name      string
	mountPath string
	parts     []Partition
}

func NewHostDevice(fsys afero.Fs, key, name, mountPath string) *HostDevice {
	return &HostDevice{fs: fsys, key: key, name: name, mountPath: mountPath}
}

func (h *HostDevice) Key() string  { return h.key }
func (h *HostDevice) Name() string { return h.name }

func (h *HostDevice) Init() error {
	info, err := h.fs.Stat(h.mountPath)
	if err != nil {
		return fmt.Errorf("mount point %s unavailable: %w", h.mountPath, err)
	} else if !info.IsDir() {
		return fmt.Errorf("mount point %s is not a directory", h.mountPath)
	}

	root := volume.NewAferoFS(afero.NewBasePathFs(h.fs, h.mountPath))
	h.parts = []Partition{{Index: 0, FileSystem: root}}
	return nil
}

func (h *HostDevice) Close() error {
	h.parts = nil
	return nil
}

func (h *HostDevice) Partitions() []Partition {
	return h.parts
}

// MountedEnumerator reports FAT-family volumes the OS mounted under /media
// or /mnt.
type MountedEnumerator struct {
	fs         afero.Fs
	mountsPath string
}

func NewMountedEnumerator(fsys afero.Fs) *MountedEnumerator {
	return &MountedEnumerator{fs: fsys, mountsPath: ProcMountsPath}
}

func (e *MountedEnumerator) Enumerate() ([]BlockDevice, error) {
	mounts, err := readMounts(e.fs, e.mountsPath)
	if err != nil {
		return nil, err
	}

	devices := make([]BlockDevice, 0)
	for _, m := range mounts {
		if !m.Removable() || !slices.Contains(fatFSTypes, m.FSType) {
			continue
		}
		devices = append(devices, NewHostDevice(e.fs, m.Device, filepath.Base(m.Path), m.Path))
	}

	log.Debug().Int("volumes", len(devices)).Msg("mounted volume scan completed")
	return devices, nil
}
