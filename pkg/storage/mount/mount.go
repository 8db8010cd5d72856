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

// Package mount owns the single mounted device session.
//
// At most one device is mounted at a time. Mounting a different device
// closes the current one first. File operations run through Do, which holds
// the session for the whole operation so a detach or unmount waits for it
// to finish.
package mount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const DefaultMountTimeout = 10 * time.Second

var (
	errNoPartitions  = errors.New("device has no usable partitions")
	errInitTimeout   = errors.New("device initialisation timed out")
	errPartitionSpan = errors.New("partition index out of range")
)

// Session is a mounted device.
type Session struct {
	MountedAt  time.Time
	Device     devices.BlockDevice
	FileSystem volume.FileSystem
	Partition  int
}

type Options struct {
	Clock clockwork.Clock
	// Partition selects which usable partition of a device is mounted.
	Partition int
	// MountTimeout bounds device initialisation. Zero disables it.
	MountTimeout time.Duration
}

type Manager struct {
	clock        clockwork.Clock
	sem          *semaphore.Weighted
	session      *Session
	mountTimeout time.Duration
	partition    int
	mu           syncutil.RWMutex
}

func NewManager(opts Options) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		clock:        clock,
		sem:          semaphore.NewWeighted(1),
		partition:    opts.Partition,
		mountTimeout: opts.MountTimeout,
	}
}

// EnsureMounted returns the session for dev, mounting it if needed.
func (m *Manager) EnsureMounted(ctx context.Context, dev devices.BlockDevice) (Session, error) {
	var s Session
	err := m.Do(ctx, dev, func(session *Session) error {
		s = *session
		return nil
	})
	return s, err
}

// Do mounts dev if it is not the current session and runs fn while holding
// the session. A failing fn leaves the session mounted.
func (m *Manager) Do(ctx context.Context, dev devices.BlockDevice, fn func(*Session) error) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return &errs.Error{Kind: errs.ErrMount, Op: "mount", DeviceKey: dev.Key(), Err: err}
	}
	defer m.sem.Release(1)

	session, err := m.ensureLocked(ctx, dev)
	if err != nil {
		return err
	}
	return fn(session)
}

func (m *Manager) ensureLocked(ctx context.Context, dev devices.BlockDevice) (*Session, error) {
	m.mu.RLock()
	current := m.session
	m.mu.RUnlock()

	if current != nil {
		if current.Device.Key() == dev.Key() {
			return current, nil
		}
		m.closeLocked()
	}

	fail := func(err error) (*Session, error) {
		return nil, &errs.Error{Kind: errs.ErrMount, Op: "mount", DeviceKey: dev.Key(), Err: err}
	}

	if err := m.initDevice(ctx, dev); err != nil {
		return fail(err)
	}

	parts := dev.Partitions()
	if len(parts) == 0 {
		closeQuietly(dev)
		return fail(errNoPartitions)
	} else if m.partition < 0 || m.partition >= len(parts) {
		closeQuietly(dev)
		return fail(fmt.Errorf("%w: %d of %d", errPartitionSpan, m.partition, len(parts)))
	}

	session := &Session{
		Device:     dev,
		FileSystem: parts[m.partition].FileSystem,
		Partition:  m.partition,
		MountedAt:  m.clock.Now(),
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	log.Info().
		Str("key", dev.Key()).
		Str("name", dev.Name()).
		Int("partition", m.partition).
		Msg("mounted device")

	return session, nil
}

// initDevice runs dev.Init bounded by the mount timeout and ctx. An Init
// that completes after giving up is closed again.
func (m *Manager) initDevice(ctx context.Context, dev devices.BlockDevice) error {
	done := make(chan error, 1)
	go func() {
		done <- dev.Init()
	}()

	var timeout <-chan time.Time
	if m.mountTimeout > 0 {
		timer := m.clock.NewTimer(m.mountTimeout)
		defer timer.Stop()
		timeout = timer.Chan()
	}

	abandon := func() {
		go func() {
			if err := <-done; err == nil {
				closeQuietly(dev)
			}
		}()
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to initialise device: %w", err)
		}
		return nil
	case <-timeout:
		abandon()
		return fmt.Errorf("%w after %s", errInitTimeout, m.mountTimeout)
	case <-ctx.Done():
		abandon()
		return fmt.Errorf("failed to initialise device: %w", ctx.Err())
	}
}

func closeQuietly(dev devices.BlockDevice) {
	if err := dev.Close(); err != nil {
		log.Warn().Err(err).Str("key", dev.Key()).Msg("failed to close device")
	}
}

func (m *Manager) closeLocked() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if session == nil {
		return
	}
	closeQuietly(session.Device)
	log.Info().Str("key", session.Device.Key()).Msg("unmounted device")
}

// Unmount closes the current session, waiting for a running operation to
// finish first. It does nothing when no device is mounted.
func (m *Manager) Unmount() error {
	if err := m.sem.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}
	defer m.sem.Release(1)

	m.closeLocked()
	return nil
}

// UnmountKey unmounts the session only if it belongs to key.
func (m *Manager) UnmountKey(key string) bool {
	if err := m.sem.Acquire(context.Background(), 1); err != nil {
		return false
	}
	defer m.sem.Release(1)

	m.mu.RLock()
	current := m.session
	m.mu.RUnlock()

	if current == nil || current.Device.Key() != key {
		return false
	}
	m.closeLocked()
	return true
}

// Current returns a snapshot of the mounted session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}
