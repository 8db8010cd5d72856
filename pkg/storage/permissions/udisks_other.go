//go:build !linux

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

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
)

var errUDisksUnsupported = errors.New("UDisks2 is only available on Linux")

type UDisksPrompter struct{}

func NewUDisksPrompter(*devices.HandleStore) (*UDisksPrompter, error) {
	return nil, errUDisksUnsupported
}

func (*UDisksPrompter) Prompt(context.Context, string, Resolver) error {
	return errUDisksUnsupported
}
