//go:build linux

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

package permissions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2BlockDevices   = "/org/freedesktop/UDisks2/block_devices/"
	udisks2BlockInterface = "org.freedesktop.UDisks2.Block"
)

// UDisksPrompter asks UDisks2 to open the block device on our behalf. UDisks2
// checks the request with polkit, which shows the authorisation prompt on
// desktop systems. A successful open is taken as the user's consent, and
// the returned handle is kept in the store for mounting later.
type UDisksPrompter struct {
	conn    *dbus.Conn
	handles *devices.HandleStore
}

func NewUDisksPrompter(handles *devices.HandleStore) (*UDisksPrompter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return &UDisksPrompter{conn: conn, handles: handles}, nil
}

func (u *UDisksPrompter) Prompt(ctx context.Context, key string, r Resolver) error {
	if devices.CanAccess(key) {
		go r.OnPermissionResult(key, true)
		return nil
	}

	obj, err := blockObjectPath(key)
	if err != nil {
		return err
	}

	go func() {
		granted := u.openDevice(ctx, key, obj)
		r.OnPermissionResult(key, granted)
	}()
	return nil
}

// blockObjectPath maps /dev/sdb to the UDisks2 object of that block device.
func blockObjectPath(key string) (dbus.ObjectPath, error) {
	name := filepath.Base(key)
	if filepath.Dir(key) != "/dev" || name == "" {
		return "", fmt.Errorf("%s is not a device node", key)
	}
	p := dbus.ObjectPath(udisks2BlockDevices + name)
	if !p.IsValid() {
		return "", fmt.Errorf("no UDisks2 object for %s", key)
	}
	return p, nil
}

func (u *UDisksPrompter) openDevice(ctx context.Context, key string, p dbus.ObjectPath) bool {
	opts := map[string]dbus.Variant{
		"auth.no_user_interaction": dbus.MakeVariant(false),
	}

	var fd dbus.UnixFD
	call := u.conn.Object(udisks2Service, p).
		CallWithContext(ctx, udisks2BlockInterface+".OpenDevice", 0, "rw", opts)
	if err := call.Store(&fd); err != nil {
		var dbusErr dbus.Error
		if errors.As(err, &dbusErr) {
			log.Info().Str("object", string(p)).Str("error", dbusErr.Name).Msg("device access refused")
		} else {
			log.Warn().Err(err).Str("object", string(p)).Msg("failed to open device through UDisks2")
		}
		return false
	}

	if u.handles == nil {
		if err := unix.Close(int(fd)); err != nil {
			log.Debug().Err(err).Msg("failed to close UDisks2 device handle")
		}
		return true
	}

	u.handles.Put(key, os.NewFile(uintptr(fd), key))
	log.Debug().Str("key", key).Msg("stored UDisks2 device handle")
	return true
}
