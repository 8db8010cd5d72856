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

package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

const (
	PrompterAuto   = "auto"
	PrompterUDisks = "udisks"

	DefaultWatchDir = "/dev/disk/by-id"
	// WatchDisabled as watch_dir turns off attach and detach watching.
	WatchDisabled = "-"
)

type Storage struct {
	MountTimeout      string `toml:"mount_timeout,omitempty"`
	PermissionTimeout string `toml:"permission_timeout,omitempty"`
	OperationTimeout  string `toml:"operation_timeout,omitempty"`
	Partition         int    `toml:"partition,omitempty"`
}

type Permissions struct {
	Prompter  string   `toml:"prompter,omitempty"`
	AutoGrant []string `toml:"auto_grant,omitempty,multiline"`
}

type Devices struct {
	ScanSysfs   *bool         `toml:"scan_sysfs,omitempty"`
	ScanMounted *bool         `toml:"scan_mounted,omitempty"`
	WatchDir    string        `toml:"watch_dir,omitempty"`
	Image       []DeviceImage `toml:"image,omitempty"`
}

// DeviceImage exposes a FAT disk image file as a block device.
type DeviceImage struct {
	Key  string `toml:"key,omitempty"`
	Name string `toml:"name,omitempty"`
	Path string `toml:"path"`
}

// parseTimeout returns 0 for an empty or invalid value, which callers treat
// as "use the default".
func parseTimeout(name, s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warn().Err(err).Str("setting", name).Msg("invalid duration in config, using default")
		return 0
	}
	return d
}

func (c *Instance) MountTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseTimeout("mount_timeout", c.vals.Storage.MountTimeout)
}

func (c *Instance) PermissionTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseTimeout("permission_timeout", c.vals.Storage.PermissionTimeout)
}

func (c *Instance) OperationTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseTimeout("operation_timeout", c.vals.Storage.OperationTimeout)
}

// Partition is the index of the partition mounted on raw disks.
func (c *Instance) Partition() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Storage.Partition
}

func (c *Instance) Prompter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Permissions.Prompter == "" {
		return PrompterAuto
	}
	return c.vals.Permissions.Prompter
}

func (c *Instance) AutoGrant() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.vals.Permissions.AutoGrant...)
}

func (c *Instance) SetAutoGrant(patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Permissions.AutoGrant = patterns
}

func (c *Instance) ScanSysfs() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Devices.ScanSysfs == nil {
		return true
	}
	return *c.vals.Devices.ScanSysfs
}

func (c *Instance) ScanMounted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Devices.ScanMounted == nil {
		return true
	}
	return *c.vals.Devices.ScanMounted
}

// WatchDir is the directory watched for attach and detach. "-" disables
// watching.
func (c *Instance) WatchDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Devices.WatchDir == "" {
		return DefaultWatchDir
	}
	return c.vals.Devices.WatchDir
}

func (c *Instance) Images() []DeviceImage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]DeviceImage(nil), c.vals.Devices.Image...)
}
