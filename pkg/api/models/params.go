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

package models

type RequestPermissionParams struct {
	DeviceKey string `json:"deviceKey" validate:"required"`
}

// WriteParams carries text content as-is and binary content base64 encoded.
type WriteParams struct {
	DeviceKey    string `json:"deviceKey" validate:"required"`
	RelativePath string `json:"relativePath" validate:"required,devicepath"`
	Content      string `json:"content"`
	SavingType   string `json:"savingType" validate:"required,savingtype"`
}

type ReadParams struct {
	DeviceKey    string `json:"deviceKey" validate:"required"`
	RelativePath string `json:"relativePath" validate:"required,devicepath"`
	SavingType   string `json:"savingType" validate:"required,savingtype"`
}

type DeleteParams struct {
	DeviceKey string `json:"deviceKey" validate:"required"`
	Path      string `json:"path" validate:"required,devicepath"`
}
