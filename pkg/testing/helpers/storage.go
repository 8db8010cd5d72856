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

// Package helpers provides test fixtures shared across packages.
package helpers

import (
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/permissions"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// MediaRoot is where the in-memory volumes of a StorageRig live.
const MediaRoot = "/media/"

// StorageRig is a storage service over in-memory volumes, one per key,
// mounted at MediaRoot+key.
type StorageRig struct {
	Service *storage.Service
	Fs      afero.Fs
}

// NewStorageRig starts a service exposing keys. Keys matching a pattern in
// grant are allowed by the prompter, everything else is denied. The
// service is stopped when the test ends.
func NewStorageRig(t *testing.T, keys, grant []string) *StorageRig {
	t.Helper()

	fs := afero.NewMemMapFs()
	devs := make([]devices.BlockDevice, 0, len(keys))
	for _, k := range keys {
		require.NoError(t, fs.MkdirAll(MediaRoot+k, 0o755))
		devs = append(devs, devices.NewHostDevice(fs, k, "Test "+k, MediaRoot+k))
	}

	svc := storage.New(storage.Options{
		Catalog: devices.NewCatalog(devices.EnumeratorFunc(func() ([]devices.BlockDevice, error) {
			return devs, nil
		})),
		Prompter:          permissions.NewAutoPrompter(grant),
		PermissionTimeout: 2 * time.Second,
		OperationTimeout:  2 * time.Second,
	})
	svc.Start()
	t.Cleanup(svc.Stop)

	return &StorageRig{Service: svc, Fs: fs}
}

// ReadFile returns the bytes stored at p on the volume of key.
func (r *StorageRig) ReadFile(t *testing.T, key, p string) []byte {
	t.Helper()
	data, err := afero.ReadFile(r.Fs, MediaRoot+key+p)
	require.NoError(t, err)
	return data
}
