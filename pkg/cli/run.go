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
	"context"
	"fmt"
	"os"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// RunService starts the storage service and its API, and blocks until ctx
// is cancelled or the API fails.
func RunService(ctx context.Context, cfg *config.Instance, fsys afero.Fs) (returnErr error) {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %v\n", r)
			log.Error().Msgf("panic recovered: %v", r)
			returnErr = fmt.Errorf("panic: %v", r)
		}
	}()

	svc, err := NewStorageService(cfg, fsys)
	if err != nil {
		return fmt.Errorf("error creating storage service: %w", err)
	}

	log.Info().
		Str("version", config.AppVersion).
		Str("listen", cfg.APIListen()).
		Msg("starting usb storage service")

	svc.Start()
	defer svc.Stop()

	if err := api.Start(ctx, cfg, svc); err != nil {
		log.Error().Err(err).Msg("api server stopped")
		return fmt.Errorf("error running api: %w", err)
	}

	log.Info().Msg("usb storage service stopped")
	return nil
}
