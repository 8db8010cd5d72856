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

// Package storage is the request/response facade over the USB mass-storage
// core: device discovery, permission gating, the mount session and file
// access, plus attach and detach events.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/devices"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/events"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/files"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/mount"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/permissions"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/volume"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPermissionTimeout = 2 * time.Minute
	DefaultOperationTimeout  = 30 * time.Second
)

// ChangeSource reports devices attaching and detaching.
type ChangeSource interface {
	Start() error
	Changes() <-chan devices.Change
	Stop()
}

type Options struct {
	Catalog  *devices.Catalog
	Prompter permissions.Prompter
	// Watcher is optional. Without it no attach or detach events are
	// published after startup.
	Watcher ChangeSource
	// Handles is optional. Handles of detached devices are dropped and the
	// rest are closed on Stop.
	Handles   *devices.HandleStore
	Clock     clockwork.Clock
	Partition int
	// Zero timeouts select the defaults, negative ones disable the bound.
	MountTimeout      time.Duration
	PermissionTimeout time.Duration
	OperationTimeout  time.Duration
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}

type Service struct {
	catalog           *devices.Catalog
	gate              *permissions.Gate
	mounts            *mount.Manager
	events            *events.Dispatcher
	watcher           ChangeSource
	handles           *devices.HandleStore
	stop              chan struct{}
	wg                sync.WaitGroup
	permissionTimeout time.Duration
	operationTimeout  time.Duration
	stopOnce          sync.Once
}

func New(opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	dispatcher := events.NewDispatcher(clock)

	return &Service{
		catalog: opts.Catalog,
		gate:    permissions.NewGate(opts.Prompter, dispatcher.PublishPermission),
		mounts: mount.NewManager(mount.Options{
			Clock:        clock,
			Partition:    opts.Partition,
			MountTimeout: orDefault(opts.MountTimeout, mount.DefaultMountTimeout),
		}),
		events:            dispatcher,
		watcher:           opts.Watcher,
		handles:           opts.Handles,
		stop:              make(chan struct{}),
		permissionTimeout: orDefault(opts.PermissionTimeout, DefaultPermissionTimeout),
		operationTimeout:  orDefault(opts.OperationTimeout, DefaultOperationTimeout),
	}
}

// Start records the devices attached right now and begins watching for
// changes. A watcher that fails to start is logged and skipped.
func (s *Service) Start() {
	s.events.Seed(s.AvailableDevices())

	if s.watcher == nil {
		return
	}
	if err := s.watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("device watcher unavailable, attach events disabled")
		s.watcher = nil
		return
	}

	s.wg.Add(1)
	go s.watchChanges()
}

func (s *Service) watchChanges() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case change, ok := <-s.watcher.Changes():
			if !ok {
				return
			}
			s.handleChange(change)
		}
	}
}

func (s *Service) handleChange(change devices.Change) {
	switch change.Kind {
	case devices.Attached:
		log.Info().Str("key", change.Key).Msg("device attached")
		s.events.PublishAttached(change.Key)
	case devices.Detached:
		log.Info().Str("key", change.Key).Msg("device detached")
		s.detach(change.Key)
	}
}

// detach drops everything tied to disk or its partitions: grants and
// pending requests first, then the mount session once its in-flight
// operation finishes. Subscribers hear about it last.
func (s *Service) detach(disk string) {
	belongs := func(key string) bool {
		return devices.BelongsTo(key, disk)
	}

	for _, key := range s.gate.RevokeMatching(belongs) {
		log.Debug().Str("key", key).Msg("revoked permission of detached device")
	}

	if cur, ok := s.mounts.Current(); ok && belongs(cur.Device.Key()) {
		s.mounts.UnmountKey(cur.Device.Key())
	}
	if s.handles != nil {
		s.handles.Drop(belongs)
	}

	gone := []string{disk}
	for _, key := range s.events.Attached() {
		if key != disk && belongs(key) {
			gone = append(gone, key)
		}
	}
	for _, key := range gone {
		s.events.PublishDetached(key)
	}
}

// Stop stops watching, closes the mount session and every subscription.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.watcher != nil {
			s.watcher.Stop()
		}
		s.wg.Wait()
		if err := s.mounts.Unmount(); err != nil {
			log.Warn().Err(err).Msg("failed to unmount on shutdown")
		}
		if s.handles != nil {
			s.handles.Close()
		}
		s.events.Stop()
	})
}

// AvailableDevices returns the keys of all attached devices.
func (s *Service) AvailableDevices() []string {
	return s.catalog.ListDevices()
}

// RequestPermission asks the user for access to the device with key.
func (s *Service) RequestPermission(ctx context.Context, key string) (bool, error) {
	if _, ok := s.catalog.FindByKey(key); !ok {
		return false, &errs.Error{Kind: errs.ErrDeviceNotFound, Op: "request permission", DeviceKey: key}
	}

	ctx, cancel := withTimeout(ctx, s.permissionTimeout)
	defer cancel()

	granted, err := s.gate.RequestPermission(ctx, key)
	if err != nil {
		return false, fmt.Errorf("permission request failed: %w", err)
	}
	return granted, nil
}

// HasPermission reports whether access to key was granted.
func (s *Service) HasPermission(key string) bool {
	return s.gate.HasPermission(key)
}

// Write stores content at relativePath on the device, creating missing
// directories and replacing an existing file.
func (s *Service) Write(ctx context.Context, key, relativePath string, content files.Content) error {
	dir, name, err := files.SplitPath(relativePath)
	if err != nil {
		return &errs.Error{Kind: errs.ErrFileCreation, Op: "write", DeviceKey: key, Path: relativePath, Err: err}
	}

	return s.withFileSystem(ctx, "write", key, func(fsys volume.FileSystem) error {
		return files.Write(fsys, dir, name, content)
	})
}

// Read returns the content of the file at relativePath.
func (s *Service) Read(
	ctx context.Context,
	key, relativePath string,
	mode files.SavingMode,
) (files.Content, error) {
	var content files.Content
	err := s.withFileSystem(ctx, "read", key, func(fsys volume.FileSystem) error {
		var err error
		content, err = files.Read(fsys, relativePath, mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Delete removes the file at path. The device stays mounted.
func (s *Service) Delete(ctx context.Context, key, path string) error {
	return s.withFileSystem(ctx, "delete", key, func(fsys volume.FileSystem) error {
		return files.Delete(fsys, path)
	})
}

// Unmount closes the mount session if there is one.
func (s *Service) Unmount() error {
	if err := s.mounts.Unmount(); err != nil {
		return fmt.Errorf("failed to unmount: %w", err)
	}
	return nil
}

// Mounted returns the key of the mounted device.
func (s *Service) Mounted() (string, bool) {
	cur, ok := s.mounts.Current()
	if !ok {
		return "", false
	}
	return cur.Device.Key(), true
}

// Subscribe returns a channel of device events and the devices attached
// at the time of subscribing.
func (s *Service) Subscribe(bufferSize int) (ch <-chan events.Event, id int, attached []string) {
	return s.events.Subscribe(bufferSize)
}

func (s *Service) Unsubscribe(id int) {
	s.events.Unsubscribe(id)
}

// OnPermissionResult delivers the answer to a permission prompt shown by a
// prompter outside this process.
func (s *Service) OnPermissionResult(key string, granted bool) {
	s.gate.OnPermissionResult(key, granted)
}

func (s *Service) withFileSystem(
	ctx context.Context,
	op, key string,
	fn func(volume.FileSystem) error,
) error {
	dev, ok := s.catalog.FindByKey(key)
	if !ok {
		return &errs.Error{Kind: errs.ErrDeviceNotFound, Op: op, DeviceKey: key}
	}
	if !s.gate.HasPermission(key) {
		return &errs.Error{Kind: errs.ErrPermissionDenied, Op: op, DeviceKey: key}
	}

	ctx, cancel := withTimeout(ctx, s.operationTimeout)
	defer cancel()

	err := s.mounts.Do(ctx, dev, func(session *mount.Session) error {
		return fn(session.FileSystem)
	})
	if err != nil {
		log.Debug().Err(err).Str("op", op).Str("key", key).Msg("file operation failed")
		return errs.WithDeviceKey(err, key)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
