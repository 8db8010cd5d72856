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

package notifications

import (
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/events"
)

func USBChanged(ns chan<- models.Notification, kind events.Kind, deviceKey string) {
	ns <- models.Notification{
		Method: models.NotificationUSBChanged,
		Params: models.USBChangedNotification{
			Event:    kind.String(),
			DeviceID: deviceKey,
		},
	}
}

func USBPermission(ns chan<- models.Notification, deviceKey string, granted bool) {
	ns <- models.Notification{
		Method: models.NotificationUSBPermission,
		Params: models.USBPermissionNotification{
			DeviceID: deviceKey,
			Granted:  granted,
		},
	}
}

// Forward converts storage events into API notifications until events is
// closed.
func Forward(ns chan<- models.Notification, evs <-chan events.Event) {
	for ev := range evs {
		switch ev.Kind {
		case events.Attached, events.Detached:
			USBChanged(ns, ev.Kind, ev.DeviceKey)
		case events.PermissionResult:
			USBPermission(ns, ev.DeviceKey, ev.Granted)
		}
	}
}
