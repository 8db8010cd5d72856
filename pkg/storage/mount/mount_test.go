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

package mount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/testing/mocks"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func memPartitions(n int) []devices.Partition {
	parts := make([]devices.Partition, 0, n)
	for i := range n {
		parts = append(parts, devices.Partition{Index: i, FileSystem: volume.NewAferoFS(afero.NewMemMapFs())})
	}
	return parts
}

func newDevice(key string, parts []devices.Partition) *mocks.MockBlockDevice {
	dev := mocks.NewMockBlockDevice(key)
	dev.On("Init").Return(nil)
	dev.On("Close").Return(nil)
	dev.On("Partitions").Return(parts)
	return dev
}

func TestEnsureMounted_ReusesSession(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0)
	m := NewManager(Options{Clock: clock})
	parts := memPartitions(1)
	dev := newDevice("usb0", parts)

	s1, err := m.EnsureMounted(context.Background(), dev)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	s2, err := m.EnsureMounted(context.Background(), dev)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Equal(t, t0, s1.MountedAt)
	assert.Same(t, parts[0].FileSystem, s1.FileSystem)
	dev.AssertNumberOfCalls(t, "Init", 1)
	dev.AssertNotCalled(t, "Close")

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "usb0", cur.Device.Key())

	require.NoError(t, m.Unmount())
}

func TestEnsureMounted_SwitchClosesPrevious(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	a := newDevice("usb0", memPartitions(1))
	b := newDevice("usb1", memPartitions(1))

	_, err := m.EnsureMounted(context.Background(), a)
	require.NoError(t, err)
	_, err = m.EnsureMounted(context.Background(), b)
	require.NoError(t, err)

	a.AssertNumberOfCalls(t, "Close", 1)
	b.AssertNotCalled(t, "Close")

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "usb1", cur.Device.Key())

	require.NoError(t, m.Unmount())
	b.AssertNumberOfCalls(t, "Close", 1)
	a.AssertNumberOfCalls(t, "Close", 1)
}

func TestEnsureMounted_NoPartitions(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	dev := newDevice("usb0", nil)

	_, err := m.EnsureMounted(context.Background(), dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.ErrorIs(t, err, errNoPartitions)

	dev.AssertNumberOfCalls(t, "Close", 1)
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestEnsureMounted_PartitionOutOfRange(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{Partition: 1})
	dev := newDevice("usb0", memPartitions(1))

	_, err := m.EnsureMounted(context.Background(), dev)
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.ErrorIs(t, err, errPartitionSpan)
	dev.AssertNumberOfCalls(t, "Close", 1)
}

func TestEnsureMounted_SelectsConfiguredPartition(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{Partition: 1})
	parts := memPartitions(2)
	dev := newDevice("usb0", parts)

	s, err := m.EnsureMounted(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Partition)
	assert.Same(t, parts[1].FileSystem, s.FileSystem)

	require.NoError(t, m.Unmount())
}

func TestEnsureMounted_InitFailure(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	dev := mocks.NewMockBlockDevice("usb0")
	dev.On("Init").Return(errors.New("unsupported filesystem"))

	_, err := m.EnsureMounted(context.Background(), dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.Contains(t, err.Error(), "unsupported filesystem")
	dev.AssertNotCalled(t, "Close")
}

func TestEnsureMounted_InitTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	closed := make(chan struct{})
	m := NewManager(Options{MountTimeout: 50 * time.Millisecond})
	dev := mocks.NewMockBlockDevice("usb0")
	dev.On("Init").Run(func(mock.Arguments) { <-release }).Return(nil)
	dev.On("Close").Run(func(mock.Arguments) { close(closed) }).Return(nil).Once()

	_, err := m.EnsureMounted(context.Background(), dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.ErrorIs(t, err, errInitTimeout)

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("late init was not closed")
	}

	_, ok := m.Current()
	assert.False(t, ok)
}

func TestEnsureMounted_ContextCancelledDuringInit(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	m := NewManager(Options{})
	dev := mocks.NewMockBlockDevice("usb0")
	dev.On("Init").Run(func(mock.Arguments) { <-release }).Return(errors.New("gone"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.EnsureMounted(ctx, dev)
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestUnmount_Idempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	require.NoError(t, m.Unmount(), "nothing mounted")

	dev := newDevice("usb0", memPartitions(1))
	_, err := m.EnsureMounted(context.Background(), dev)
	require.NoError(t, err)

	require.NoError(t, m.Unmount())
	require.NoError(t, m.Unmount())
	dev.AssertNumberOfCalls(t, "Close", 1)

	_, ok := m.Current()
	assert.False(t, ok)
}

func TestUnmountKey(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	dev := newDevice("usb0", memPartitions(1))
	_, err := m.EnsureMounted(context.Background(), dev)
	require.NoError(t, err)

	assert.False(t, m.UnmountKey("usb1"))
	dev.AssertNotCalled(t, "Close")

	assert.True(t, m.UnmountKey("usb0"))
	dev.AssertNumberOfCalls(t, "Close", 1)
	assert.False(t, m.UnmountKey("usb0"))
}

func TestDo_FailureKeepsSession(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	dev := newDevice("usb0", memPartitions(1))

	err := m.Do(context.Background(), dev, func(*Session) error {
		return errs.ErrFileNotFound
	})
	require.ErrorIs(t, err, errs.ErrFileNotFound)

	_, ok := m.Current()
	assert.True(t, ok)
	dev.AssertNotCalled(t, "Close")

	require.NoError(t, m.Unmount())
}

func TestDo_UnmountWaitsForOperation(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	dev := newDevice("usb0", memPartitions(1))

	started := make(chan struct{})
	release := make(chan struct{})
	opDone := make(chan error, 1)
	go func() {
		opDone <- m.Do(context.Background(), dev, func(*Session) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	unmounted := make(chan struct{})
	go func() {
		_ = m.Unmount()
		close(unmounted)
	}()

	select {
	case <-unmounted:
		t.Fatal("unmount did not wait for the running operation")
	case <-time.After(50 * time.Millisecond):
	}
	dev.AssertNotCalled(t, "Close")

	close(release)
	require.NoError(t, <-opDone)
	<-unmounted
	dev.AssertNumberOfCalls(t, "Close", 1)
}

func TestDo_AcquireRespectsContext(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{})
	dev := newDevice("usb0", memPartitions(1))

	started := make(chan struct{})
	release := make(chan struct{})
	opDone := make(chan error, 1)
	go func() {
		opDone <- m.Do(context.Background(), dev, func(*Session) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Do(ctx, dev, func(*Session) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMount)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-opDone)
	require.NoError(t, m.Unmount())
}
