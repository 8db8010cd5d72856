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

package methods

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models/requests"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/validation"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/files"
	"github.com/rs/zerolog/log"
)

var errUnexpectedContent = errors.New("unexpected content type")

func HandleAvailableDevices(env requests.RequestEnv) (any, error) {
	return models.AvailableDevicesResponse{
		Devices: env.Storage.AvailableDevices(),
	}, nil
}

func HandleRequestPermission(env requests.RequestEnv) (any, error) {
	var params models.RequestPermissionParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, err
	}

	log.Info().Str("key", params.DeviceKey).Msg("permission requested")
	granted, err := env.Storage.RequestPermission(env.Context, params.DeviceKey)
	if err != nil {
		return nil, err
	}

	return models.RequestPermissionResponse{
		DeviceKey: params.DeviceKey,
		Granted:   granted,
	}, nil
}

func HandleWrite(env requests.RequestEnv) (any, error) {
	var params models.WriteParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, err
	}

	content, err := decodeContent(params.Content, params.SavingType)
	if err != nil {
		return nil, err
	}

	err = env.Storage.Write(env.Context, params.DeviceKey, params.RelativePath, content)
	if err != nil {
		return nil, err
	}

	return models.SuccessResponse{Success: true}, nil
}

func HandleRead(env requests.RequestEnv) (any, error) {
	var params models.ReadParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, err
	}

	mode, err := files.ParseSavingMode(params.SavingType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", validation.ErrInvalidParams, err)
	}

	content, err := env.Storage.Read(env.Context, params.DeviceKey, params.RelativePath, mode)
	if err != nil {
		return nil, err
	}

	return encodeContent(content)
}

func HandleDelete(env requests.RequestEnv) (any, error) {
	var params models.DeleteParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, err
	}

	err := env.Storage.Delete(env.Context, params.DeviceKey, params.Path)
	if err != nil {
		return nil, err
	}

	return models.SuccessResponse{Success: true}, nil
}

func HandleUnmount(env requests.RequestEnv) (any, error) {
	key, mounted := env.Storage.Mounted()
	if !mounted {
		return models.UnmountResponse{}, nil
	}

	if err := env.Storage.Unmount(); err != nil {
		return nil, err
	}

	return models.UnmountResponse{DeviceKey: key, Unmounted: true}, nil
}

func decodeContent(s, savingType string) (files.Content, error) {
	mode, err := files.ParseSavingMode(savingType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", validation.ErrInvalidParams, err)
	}

	switch mode {
	case files.ModeBinary:
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: content is not valid base64: %w", validation.ErrInvalidParams, err)
		}
		return files.Binary(data), nil
	default:
		return files.Text(s), nil
	}
}

func encodeContent(content files.Content) (models.ReadResponse, error) {
	switch c := content.(type) {
	case files.Text:
		return models.ReadResponse{Content: string(c), SavingType: files.SavingTypeString}, nil
	case files.Binary:
		return models.ReadResponse{
			Content:    base64.StdEncoding.EncodeToString(c),
			SavingType: files.SavingTypeBytes,
		}, nil
	default:
		return models.ReadResponse{}, fmt.Errorf("%w: %T", errUnexpectedContent, content)
	}
}
