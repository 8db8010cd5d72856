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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/zaparoo-usbstorage/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/cli"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/config"
	"github.com/spf13/afero"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags()
	flags.Pre()

	var logWriters []io.Writer
	if *flags.LogStderr {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg := cli.Setup(*flags.ConfigDir, *flags.DataDir, config.BaseDefaults, logWriters)
	defer telemetry.Close()

	flags.Post(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//nolint:wrapcheck // already wrapped by RunService
	return cli.RunService(ctx, cfg, afero.NewOsFs())
}
