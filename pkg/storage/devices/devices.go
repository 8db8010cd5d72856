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

// Package devices discovers attached USB mass-storage block devices.
//
// A Catalog merges the results of one or more Enumerators (raw USB disks
// from sysfs, disk images from config, volumes already mounted by the OS)
// and looks devices up by their key.
package devices

import (
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/rs/zerolog/log"
)

// BlockDevice is an attached mass-storage device. It is only valid while the
// device stays attached.
type BlockDevice interface {
	// Key is the stable identifier handed out to callers, usually the
	// device node path.
	Key() string
	// Name is a human readable description.
	Name() string
	// Init opens the device and reads its partition table. Calling Init on
	// an initialised device reopens it.
	Init() error
	// Close releases the device. It is safe to call more than once.
	Close() error
	// Partitions lists partitions with a usable filesystem, in table order.
	// Only valid between Init and Close.
	Partitions() []Partition
}

// Partition is one partition of an initialised device with its filesystem.
type Partition struct {
	FileSystem volume.FileSystem
	Index      int
}

// Enumerator lists one class of attached devices.
type Enumerator interface {
	Enumerate() ([]BlockDevice, error)
}

// EnumeratorFunc adapts a function to an Enumerator.
type EnumeratorFunc func() ([]BlockDevice, error)

func (f EnumeratorFunc) Enumerate() ([]BlockDevice, error) {
	return f()
}

// Catalog lists attached devices from its enumerators. Each call enumerates
// afresh, nothing is cached between calls.
type Catalog struct {
	enumerators []Enumerator
}

func NewCatalog(enumerators ...Enumerator) *Catalog {
	return &Catalog{enumerators: enumerators}
}

// Devices returns every attached device. A failing enumerator is logged and
// skipped. When two enumerators report the same key the first one wins.
func (c *Catalog) Devices() []BlockDevice {
	seen := make(map[string]struct{})
	devices := make([]BlockDevice, 0)

	for _, e := range c.enumerators {
		found, err := e.Enumerate()
		if err != nil {
			log.Warn().Err(err).Msg("device enumeration failed")
			continue
		}
		for _, d := range found {
			if _, ok := seen[d.Key()]; ok {
				log.Debug().Str("key", d.Key()).Msg("skipping duplicate device")
				continue
			}
			seen[d.Key()] = struct{}{}
			devices = append(devices, d)
		}
	}

	return devices
}

// ListDevices returns the keys of all attached devices. It never returns nil.
func (c *Catalog) ListDevices() []string {
	devices := c.Devices()
	keys := make([]string, 0, len(devices))
	for _, d := range devices {
		keys = append(keys, d.Key())
	}
	return keys
}

// FindByKey returns the attached device with the given key.
func (c *Catalog) FindByKey(key string) (BlockDevice, bool) {
	for _, d := range c.Devices() {
		if d.Key() == key {
			return d, true
		}
	}
	return nil, false
}
