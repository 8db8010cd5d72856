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

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/events"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/files"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/permissions"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeWatcher feeds changes pushed by the test.
type fakeWatcher struct {
	startErr error
	changes  chan devices.Change
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{changes: make(chan devices.Change, 10)}
}

func (f *fakeWatcher) Start() error                    { return f.startErr }
func (f *fakeWatcher) Changes() <-chan devices.Change { return f.changes }
func (*fakeWatcher) Stop()                             {}

type testRig struct {
	svc      *Service
	fs       afero.Fs
	watcher  *fakeWatcher
	attached map[string]bool
}

// newRig builds a service over in-memory volumes mounted at /media/<key>.
// Keys listed in grant are allowed by the auto prompter.
func newRig(t *testing.T, keys []string, grant []string) *testRig {
	t.Helper()

	rig := &testRig{
		fs:       afero.NewMemMapFs(),
		watcher:  newFakeWatcher(),
		attached: make(map[string]bool),
	}
	for _, k := range keys {
		require.NoError(t, rig.fs.MkdirAll("/media/"+k, 0o755))
		rig.attached[k] = true
	}

	catalog := devices.NewCatalog(devices.EnumeratorFunc(func() ([]devices.BlockDevice, error) {
		found := make([]devices.BlockDevice, 0)
		for _, k := range keys {
			if rig.attached[k] {
				found = append(found, devices.NewHostDevice(rig.fs, k, "Test "+k, "/media/"+k))
			}
		}
		return found, nil
	}))

	rig.svc = New(Options{
		Catalog:           catalog,
		Prompter:          permissions.NewAutoPrompter(grant),
		Watcher:           rig.watcher,
		PermissionTimeout: 2 * time.Second,
		OperationTimeout:  2 * time.Second,
	})
	rig.svc.Start()
	t.Cleanup(rig.svc.Stop)

	return rig
}

func (r *testRig) grant(t *testing.T, key string) {
	t.Helper()
	granted, err := r.svc.RequestPermission(context.Background(), key)
	require.NoError(t, err)
	require.True(t, granted)
}

func TestService_EndToEnd(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0"}, []string{"usb*"})
	ctx := context.Background()

	assert.Equal(t, []string{"usb0"}, rig.svc.AvailableDevices())
	rig.grant(t, "usb0")

	require.NoError(t, rig.svc.Write(ctx, "usb0", "/docs/notes.txt", files.Text("hello")))

	got, err := rig.svc.Read(ctx, "usb0", "/docs/notes.txt", files.ModeText)
	require.NoError(t, err)
	assert.Equal(t, files.Text("hello"), got)

	require.NoError(t, rig.svc.Delete(ctx, "usb0", "/docs/notes.txt"))

	_, err = rig.svc.Read(ctx, "usb0", "/docs/notes.txt", files.ModeText)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFileNotFound)
	assert.Equal(t, "FileNotFoundError", errs.Tag(err))

	key, mounted := rig.svc.Mounted()
	assert.True(t, mounted, "operations leave the device mounted")
	assert.Equal(t, "usb0", key)

	data, err := afero.ReadDir(rig.fs, "/media/usb0/docs")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestService_BinaryRoundTrip(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0"}, []string{"*"})
	rig.grant(t, "usb0")
	ctx := context.Background()

	payload := files.Binary{0x00, 0x9f, 0xff}
	require.NoError(t, rig.svc.Write(ctx, "usb0", "saves/slot1.sav", payload))
	require.NoError(t, rig.svc.Write(ctx, "usb0", "saves/slot1.sav", payload))

	got, err := rig.svc.Read(ctx, "usb0", "/saves/slot1.sav", files.ModeBinary)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = rig.svc.Read(ctx, "usb0", "/saves/slot1.sav", files.ModeText)
	assert.ErrorIs(t, err, errs.ErrEncoding)
}

func TestService_UnknownDevice(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0"}, []string{"*"})
	ctx := context.Background()

	_, err := rig.svc.RequestPermission(ctx, "usb9")
	assert.ErrorIs(t, err, errs.ErrDeviceNotFound)

	err = rig.svc.Write(ctx, "usb9", "/a.txt", files.Text("x"))
	assert.ErrorIs(t, err, errs.ErrDeviceNotFound)

	_, err = rig.svc.Read(ctx, "usb9", "/a.txt", files.ModeText)
	assert.ErrorIs(t, err, errs.ErrDeviceNotFound)

	err = rig.svc.Delete(ctx, "usb9", "/a.txt")
	assert.ErrorIs(t, err, errs.ErrDeviceNotFound)

	var se *errs.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "usb9", se.DeviceKey)
}

func TestService_PermissionRequired(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0"}, nil)
	ctx := context.Background()

	err := rig.svc.Write(ctx, "usb0", "/a.txt", files.Text("x"))
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	granted, err := rig.svc.RequestPermission(ctx, "usb0")
	require.NoError(t, err)
	assert.False(t, granted)

	err = rig.svc.Write(ctx, "usb0", "/a.txt", files.Text("x"))
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
	_, mounted := rig.svc.Mounted()
	assert.False(t, mounted)
}

func TestService_WriteNeedsFileName(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0"}, []string{"*"})
	rig.grant(t, "usb0")

	err := rig.svc.Write(context.Background(), "usb0", "/docs/", files.Text("x"))
	assert.ErrorIs(t, err, errs.ErrFileCreation)
}

func TestService_SwitchingDevices(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0", "usb1"}, []string{"*"})
	rig.grant(t, "usb0")
	rig.grant(t, "usb1")
	ctx := context.Background()

	require.NoError(t, rig.svc.Write(ctx, "usb0", "/a.txt", files.Text("zero")))
	require.NoError(t, rig.svc.Write(ctx, "usb1", "/a.txt", files.Text("one")))

	key, _ := rig.svc.Mounted()
	assert.Equal(t, "usb1", key)

	got, err := rig.svc.Read(ctx, "usb0", "/a.txt", files.ModeText)
	require.NoError(t, err)
	assert.Equal(t, files.Text("zero"), got)

	require.NoError(t, rig.svc.Unmount())
	require.NoError(t, rig.svc.Unmount())
	_, mounted := rig.svc.Mounted()
	assert.False(t, mounted)
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestService_Events(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0", "usb1"}, []string{"usb0"})

	ch, id, attached := rig.svc.Subscribe(10)
	defer rig.svc.Unsubscribe(id)
	assert.Equal(t, []string{"usb0", "usb1"}, attached)

	rig.grant(t, "usb0")
	ev := waitEvent(t, ch)
	assert.Equal(t, events.PermissionResult, ev.Kind)
	assert.Equal(t, "usb0", ev.DeviceKey)
	assert.True(t, ev.Granted)

	rig.watcher.changes <- devices.Change{Key: "usb2", Kind: devices.Attached}
	ev = waitEvent(t, ch)
	assert.Equal(t, events.Attached, ev.Kind)
	assert.Equal(t, "usb2", ev.DeviceKey)
}

func TestService_DetachUnmountsAndRevokes(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"usb0"}, []string{"*"})
	rig.grant(t, "usb0")
	require.NoError(t, rig.svc.Write(context.Background(), "usb0", "/a.txt", files.Text("x")))

	ch, id, _ := rig.svc.Subscribe(10)
	defer rig.svc.Unsubscribe(id)

	rig.attached["usb0"] = false
	rig.watcher.changes <- devices.Change{Key: "usb0", Kind: devices.Detached}

	ev := waitEvent(t, ch)
	assert.Equal(t, events.Detached, ev.Kind)
	assert.Equal(t, "usb0", ev.DeviceKey)

	// cleanup is done by the time subscribers hear about it
	_, mounted := rig.svc.Mounted()
	assert.False(t, mounted)
	assert.False(t, rig.svc.HasPermission("usb0"))

	assert.Empty(t, rig.svc.AvailableDevices())
}

func TestService_DiskDetachRevokesPartitions(t *testing.T) {
	t.Parallel()

	rig := newRig(t, []string{"/dev/sdb1", "/dev/sdc1"}, []string{"*"})
	rig.grant(t, "/dev/sdb1")
	rig.grant(t, "/dev/sdc1")
	_, mounted := rig.svc.Mounted()
	require.False(t, mounted)

	ch, id, attached := rig.svc.Subscribe(10)
	defer rig.svc.Unsubscribe(id)
	require.Equal(t, []string{"/dev/sdb1", "/dev/sdc1"}, attached)

	rig.attached["/dev/sdb1"] = false
	rig.watcher.changes <- devices.Change{Key: "/dev/sdb", Kind: devices.Detached}

	first := waitEvent(t, ch)
	second := waitEvent(t, ch)
	assert.Equal(t, events.Detached, first.Kind)
	assert.Equal(t, "/dev/sdb", first.DeviceKey)
	assert.Equal(t, events.Detached, second.Kind)
	assert.Equal(t, "/dev/sdb1", second.DeviceKey)

	assert.False(t, rig.svc.HasPermission("/dev/sdb1"))
	assert.True(t, rig.svc.HasPermission("/dev/sdc1"), "other disks keep their grants")
	assert.Equal(t, []string{"/dev/sdc1"}, rig.svc.AvailableDevices())

	_, id2, attached := rig.svc.Subscribe(10)
	rig.svc.Unsubscribe(id2)
	assert.Equal(t, []string{"/dev/sdc1"}, attached)

	// a different stick on the same node has to ask again
	rig.attached["/dev/sdb1"] = true
	rig.watcher.changes <- devices.Change{Key: "/dev/sdb", Kind: devices.Attached}
	ev := waitEvent(t, ch)
	assert.Equal(t, events.Attached, ev.Kind)
	assert.False(t, rig.svc.HasPermission("/dev/sdb1"))
}

func TestService_DetachDropsStoredHandles(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "dev")
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	handles := devices.NewHandleStore()
	for _, key := range []string{"/dev/sdb", "/dev/sdc"} {
		f, err := os.Open(p)
		require.NoError(t, err)
		handles.Put(key, f)
	}

	w := newFakeWatcher()
	svc := New(Options{
		Catalog:  devices.NewCatalog(),
		Prompter: permissions.NewAutoPrompter(nil),
		Watcher:  w,
		Handles:  handles,
	})
	svc.Start()
	defer svc.Stop()

	ch, id, _ := svc.Subscribe(10)
	defer svc.Unsubscribe(id)

	w.changes <- devices.Change{Key: "/dev/sdb", Kind: devices.Detached}
	waitEvent(t, ch)

	_, ok, err := handles.Open("/dev/sdb")
	require.NoError(t, err)
	assert.False(t, ok)

	f, ok, err := handles.Open("/dev/sdc")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.Close())
}

func TestService_WatcherFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	w := newFakeWatcher()
	w.startErr = errors.New("no inotify")
	svc := New(Options{
		Catalog:  devices.NewCatalog(),
		Prompter: permissions.NewAutoPrompter(nil),
		Watcher:  w,
	})
	svc.Start()
	svc.Stop()
	svc.Stop()

	assert.Empty(t, svc.AvailableDevices())
}
