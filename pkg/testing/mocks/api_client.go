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

package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models"
	"github.com/stretchr/testify/mock"
)

// MockAPIClient is a mock implementation of client.APIClient for testing.
type MockAPIClient struct {
	mock.Mock
}

func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

func (m *MockAPIClient) Call(ctx context.Context, method, params string) (string, error) {
	args := m.Called(ctx, method, params)
	return args.String(0), args.Error(1)
}

func (m *MockAPIClient) WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	method string,
) (string, error) {
	args := m.Called(ctx, timeout, method)
	return args.String(0), args.Error(1)
}

// SetupDevicesResponse configures the mock to list the given device keys.
func (m *MockAPIClient) SetupDevicesResponse(keys []string) {
	data, _ := json.Marshal(models.AvailableDevicesResponse{Devices: keys})
	m.On("Call", mock.Anything, models.MethodAvailableDevices, "").Return(string(data), nil)
}

// SetupUSBChanged configures the mock to report a single attach or detach.
func (m *MockAPIClient) SetupUSBChanged(event, key string) *mock.Call {
	data, _ := json.Marshal(models.USBChangedNotification{Event: event, DeviceID: key})
	return m.On("WaitNotification", mock.Anything, mock.Anything, models.NotificationUSBChanged).
		Return(string(data), nil).Once()
}
