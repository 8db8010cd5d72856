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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/config"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/permissions"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/testing/mocks"
	"github.com/adrg/xdg"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, contents string) *config.Instance {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.CfgFile), []byte(contents), 0o600))
	cfg, err := config.NewConfig(dir, config.BaseDefaults)
	require.NoError(t, err)
	return cfg
}

func TestDefaultDirs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join(xdg.ConfigHome, config.AppName), DefaultConfigDir())
	assert.Equal(t, filepath.Join(xdg.DataHome, config.AppName), DefaultDataDir())

	// logs live under the data dir, not next to the config file
	assert.Equal(t,
		filepath.Join(xdg.DataHome, config.AppName, config.LogsDir),
		LogDir(DefaultDataDir()))
}

func TestCallAPI(t *testing.T) {
	t.Parallel()

	m := mocks.NewMockAPIClient()
	m.SetupDevicesResponse([]string{"usb0"})
	m.On("Call", mock.Anything, models.MethodRead, `{"deviceKey":"usb0","relativePath":"/a:b.txt"}`).
		Return(`{"content":"x"}`, nil)

	resp, err := CallAPI(context.Background(), m, models.MethodAvailableDevices)
	require.NoError(t, err)
	assert.JSONEq(t, `{"devices":["usb0"]}`, resp)

	// only the first colon separates method from params
	resp, err = CallAPI(context.Background(), m, `read:{"deviceKey":"usb0","relativePath":"/a:b.txt"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"x"}`, resp)

	m.AssertExpectations(t)
}

func TestCallAPI_MissingMethod(t *testing.T) {
	t.Parallel()

	m := mocks.NewMockAPIClient()

	_, err := CallAPI(context.Background(), m, ":{}")
	require.ErrorIs(t, err, ErrMissingMethod)
	m.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestWatchNotifications(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := mocks.NewMockAPIClient()
	m.SetupUSBChanged("Attach", "usb0")
	m.SetupUSBChanged("Detached", "usb0")
	m.On("WaitNotification", mock.Anything, mock.Anything, models.NotificationUSBChanged).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)

	var out bytes.Buffer
	require.NoError(t, WatchNotifications(ctx, m, &out, ""))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event":"Attach","deviceId":"usb0"}`, lines[0])
	assert.JSONEq(t, `{"event":"Detached","deviceId":"usb0"}`, lines[1])
	m.AssertNumberOfCalls(t, "WaitNotification", 3)
}

func TestWatchNotifications_Error(t *testing.T) {
	t.Parallel()

	errLost := errors.New("connection lost")
	m := mocks.NewMockAPIClient()
	m.On("WaitNotification", mock.Anything, time.Duration(-1), models.NotificationUSBPermission).
		Return("", errLost)

	var out bytes.Buffer
	err := WatchNotifications(context.Background(), m, &out, models.NotificationUSBPermission)
	require.ErrorIs(t, err, errLost)
	assert.Empty(t, out.String())
}

func TestNewPrompter(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "config_schema = 1\n\n[permissions]\nprompter = \"auto\"\nauto_grant = [\"usb*\"]\n")
	p, err := NewPrompter(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &permissions.AutoPrompter{}, p)

	cfg = testConfig(t, "config_schema = 1\n\n[permissions]\nprompter = \"zenity\"\n")
	_, err = NewPrompter(cfg, nil)
	require.ErrorIs(t, err, ErrUnknownPrompter)
}

func TestNewCatalog_Images(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/srv/fat.img", []byte{0}, 0o644))

	cfg := testConfig(t, `config_schema = 1

[devices]
scan_sysfs = false
scan_mounted = false

[[devices.image]]
key = "img0"
path = "/srv/fat.img"

[[devices.image]]
key = "img1"
path = "/srv/missing.img"
`)

	catalog := NewCatalog(cfg, fs, nil)
	assert.Equal(t, []string{"img0"}, catalog.ListDevices())
}

func TestNewCatalog_NoSources(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "config_schema = 1\n\n[devices]\nscan_sysfs = false\nscan_mounted = false\n")

	catalog := NewCatalog(cfg, afero.NewMemMapFs(), nil)
	assert.Empty(t, catalog.ListDevices())
	assert.NotNil(t, catalog.ListDevices())
}

func TestRunService_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, `config_schema = 1

[api]
listen = "127.0.0.1:0"

[devices]
scan_sysfs = false
scan_mounted = false
watch_dir = "-"
`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunService(ctx, cfg, afero.NewMemMapFs())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestRunService_BadPrompter(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "config_schema = 1\n\n[permissions]\nprompter = \"nope\"\n")

	err := RunService(context.Background(), cfg, afero.NewMemMapFs())
	require.ErrorIs(t, err, ErrUnknownPrompter)
}
