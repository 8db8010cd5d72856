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

import (
	"encoding/json"
)

const (
	NotificationUSBChanged    = "usb.changed"
	NotificationUSBPermission = "usb.permission"
)

const (
	MethodAvailableDevices  = "availableusbstoragedevices"
	MethodRequestPermission = "requestusbpermission"
	MethodWrite             = "write"
	MethodRead              = "read"
	MethodDelete            = "delete"
	MethodUnmount           = "unmount"
	MethodVersion           = "version"
)

type Notification struct {
	Params any
	Method string
}

type RequestObject struct {
	ID      *RPCID          `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ErrorData carries the storage error tag, e.g. "FileNotFoundError".
type ErrorData struct {
	Tag string `json:"tag"`
}

type ErrorObject struct {
	Data    *ErrorData `json:"data,omitempty"`
	Message string     `json:"message"`
	Code    int        `json:"code"`
}

func (e *ErrorObject) Error() string {
	if e.Data != nil && e.Data.Tag != "" {
		return e.Data.Tag + ": " + e.Message
	}
	return e.Message
}

type ResponseObject struct {
	Result  any          `json:"result"`
	Error   *ErrorObject `json:"error,omitempty"`
	JSONRPC string       `json:"jsonrpc"`
	ID      RPCID        `json:"id"`
}

// ResponseErrorObject omits result so error responses do not carry a null
// result field.
type ResponseErrorObject struct {
	Error   *ErrorObject `json:"error"`
	JSONRPC string       `json:"jsonrpc"`
	ID      RPCID        `json:"id"`
}

// NotificationObject is a server to client notification.
type NotificationObject struct {
	Params  any    `json:"params,omitempty"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
}
