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

package cli

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/config"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/permissions"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrUnknownPrompter = errors.New("unknown permission prompter")

// NewCatalog builds the device catalog from the enabled discovery sources.
// Raw disks open through handles when one is stored for them.
func NewCatalog(cfg *config.Instance, fsys afero.Fs, handles *devices.HandleStore) *devices.Catalog {
	var enums []devices.Enumerator
	if cfg.ScanSysfs() {
		enums = append(enums, devices.NewSysfsEnumerator(fsys).UseHandles(handles))
	}
	if cfg.ScanMounted() {
		enums = append(enums, devices.NewMountedEnumerator(fsys))
	}

	if imgs := cfg.Images(); len(imgs) > 0 {
		images := make([]devices.Image, 0, len(imgs))
		for _, img := range imgs {
			images = append(images, devices.Image{
				Key:  img.Key,
				Name: img.Name,
				Path: img.Path,
			})
		}
		enums = append(enums, devices.NewImageEnumerator(fsys, images))
	}

	return devices.NewCatalog(enums...)
}

// NewPrompter returns the permission prompter selected in the config.
func NewPrompter(cfg *config.Instance, handles *devices.HandleStore) (permissions.Prompter, error) {
	switch p := cfg.Prompter(); p {
	case config.PrompterAuto:
		return permissions.NewAutoPrompter(cfg.AutoGrant()), nil
	case config.PrompterUDisks:
		u, err := permissions.NewUDisksPrompter(handles)
		if err != nil {
			return nil, fmt.Errorf("failed to set up udisks prompter: %w", err)
		}
		return u, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrompter, p)
	}
}

// NewStorageService assembles the storage service described by cfg.
func NewStorageService(cfg *config.Instance, fsys afero.Fs) (*storage.Service, error) {
	handles := devices.NewHandleStore()
	prompter, err := NewPrompter(cfg, handles)
	if err != nil {
		return nil, err
	}

	opts := storage.Options{
		Catalog:           NewCatalog(cfg, fsys, handles),
		Prompter:          prompter,
		Handles:           handles,
		Partition:         cfg.Partition(),
		MountTimeout:      cfg.MountTimeout(),
		PermissionTimeout: cfg.PermissionTimeout(),
		OperationTimeout:  cfg.OperationTimeout(),
	}

	if dir := cfg.WatchDir(); dir != config.WatchDisabled {
		opts.Watcher = devices.NewWatcher(dir)
	} else {
		log.Info().Msg("device watching disabled")
	}

	return storage.New(opts), nil
}
