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

type AvailableDevicesResponse struct {
	Devices []string `json:"devices"`
}

type RequestPermissionResponse struct {
	DeviceKey string `json:"deviceKey"`
	Granted   bool   `json:"granted"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// ReadResponse content is base64 encoded for BytesData.
type ReadResponse struct {
	Content    string `json:"content"`
	SavingType string `json:"savingType"`
}

type UnmountResponse struct {
	DeviceKey string `json:"deviceKey,omitempty"`
	Unmounted bool   `json:"unmounted"`
}

type VersionResponse struct {
	Version string `json:"version"`
}

// USBChangedNotification reports a device attach ("Attach") or detach
// ("Detached").
type USBChangedNotification struct {
	Event    string `json:"event"`
	DeviceID string `json:"deviceId"`
}

type USBPermissionNotification struct {
	DeviceID string `json:"deviceId"`
	Granted  bool   `json:"granted"`
}
