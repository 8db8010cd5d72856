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
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/stretchr/testify/mock"
)

// MockBlockDevice is a mock implementation of devices.BlockDevice using
// testify/mock.
type MockBlockDevice struct {
	mock.Mock
}

// NewMockBlockDevice returns a mock with Key and Name already answering.
func NewMockBlockDevice(key string) *MockBlockDevice {
	m := &MockBlockDevice{}
	m.On("Key").Return(key).Maybe()
	m.On("Name").Return("mock " + key).Maybe()
	return m
}

func (m *MockBlockDevice) Key() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockBlockDevice) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockBlockDevice) Init() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck // mock passes through the configured error
}

func (m *MockBlockDevice) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck // mock passes through the configured error
}

func (m *MockBlockDevice) Partitions() []devices.Partition {
	args := m.Called()
	if parts, ok := args.Get(0).([]devices.Partition); ok {
		return parts
	}
	return nil
}
