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

// Package errs defines the error taxonomy shared by the USB storage core.
//
// Every failure surfaced to a caller matches exactly one of the kind
// sentinels below via errors.Is, and Tag maps it to the name used on the
// wire by the host bridge.
package errs

import (
	"errors"
	"strings"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrPermissionPending = errors.New("permission request already pending")
	ErrMount             = errors.New("mount failed")
	ErrPathCreation      = errors.New("failed to create directory tree")
	ErrFileNotFound      = errors.New("file does not exist")
	ErrFileCreation      = errors.New("failed to create file")
	ErrEncoding          = errors.New("content is not valid UTF-8")
)

const TagInternal = "InternalError"

var tags = []struct {
	kind error
	tag  string
}{
	{ErrDeviceNotFound, "DeviceNotFoundError"},
	{ErrPermissionDenied, "PermissionDeniedError"},
	{ErrPermissionPending, "PermissionPendingError"},
	{ErrMount, "MountError"},
	{ErrPathCreation, "PathCreationError"},
	{ErrFileNotFound, "FileNotFoundError"},
	{ErrFileCreation, "FileCreationError"},
	{ErrEncoding, "EncodingError"},
}

// Error describes a failed storage operation. Kind is one of the package
// sentinels, Err the underlying cause (may be nil).
type Error struct {
	Kind      error
	Err       error
	Op        string
	DeviceKey string
	Path      string
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		if e.Path != "" {
			sb.WriteString(" ")
			sb.WriteString(e.Path)
		}
		if e.DeviceKey != "" {
			sb.WriteString(" on ")
			sb.WriteString(e.DeviceKey)
		}
		sb.WriteString(": ")
	}
	if e.Kind != nil {
		sb.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		if e.Kind != nil {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WithDeviceKey fills in the device key of a storage error that does not have
// one yet. Other errors are returned unchanged.
func WithDeviceKey(err error, key string) error {
	var se *Error
	if errors.As(err, &se) && se.DeviceKey == "" {
		se.DeviceKey = key
	}
	return err
}

// Tag returns the taxonomy name of err, or TagInternal if err does not
// belong to any kind.
func Tag(err error) string {
	for _, t := range tags {
		if errors.Is(err, t.kind) {
			return t.tag
		}
	}
	return TagInternal
}
