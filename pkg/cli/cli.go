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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ZaparooProject/zaparoo-usbstorage/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/client"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/config"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/helpers"
	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrMissingMethod = errors.New("api flag requires a method")

type Flags struct {
	API       *string
	Watch     *string
	ConfigDir *string
	DataDir   *string
	Version   *bool
	LogStderr *bool
}

// SetupFlags defines the command line flags.
func SetupFlags() *Flags {
	return &Flags{
		API: flag.String(
			"api",
			"",
			"send method:params to the running API and print the response",
		),
		Watch: flag.String(
			"watch",
			"",
			"print notifications of the given method until interrupted (default usb.changed)",
		),
		ConfigDir: flag.String(
			"config-dir",
			DefaultConfigDir(),
			"directory holding the config file",
		),
		DataDir: flag.String(
			"data-dir",
			DefaultDataDir(),
			"directory holding logs",
		),
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
		LogStderr: flag.Bool(
			"log-stderr",
			false,
			"also write logs to stderr",
		),
	}
}

// DefaultConfigDir is the per-user config directory.
func DefaultConfigDir() string {
	return filepath.Join(xdg.ConfigHome, config.AppName)
}

// DefaultDataDir is the per-user data directory.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, config.AppName)
}

// LogDir is where the log file is written inside dataDir.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, config.LogsDir)
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses flags and actions those that need no config or logging.
func (f *Flags) Pre() {
	flag.Parse()

	if *f.Version {
		_, _ = fmt.Printf("Zaparoo USB Storage v%s\n", config.AppVersion)
		os.Exit(0)
	}
}

// Post actions the client flags, which talk to an already running service
// and exit.
func (f *Flags) Post(cfg *config.Instance) {
	c := client.NewLocalAPIClient(client.LocalAddr(cfg))

	switch {
	case isFlagPassed("api"):
		resp, err := CallAPI(context.Background(), c, *f.API)
		if err != nil {
			log.Error().Err(err).Msg("error calling API")
			_, _ = fmt.Fprintf(os.Stderr, "Error calling API: %v\n", err)
			os.Exit(1)
		}
		_, _ = fmt.Println(resp)
		os.Exit(0)
	case isFlagPassed("watch"):
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err := WatchNotifications(ctx, c, os.Stdout, *f.Watch)
		stop()
		if err != nil {
			log.Error().Err(err).Msg("error waiting for notification")
			_, _ = fmt.Fprintf(os.Stderr, "Error waiting for notification: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
}

// CallAPI sends a "method:params" value, params being optional JSON.
func CallAPI(ctx context.Context, c client.APIClient, value string) (string, error) {
	method, params, _ := strings.Cut(value, ":")
	if method == "" {
		return "", ErrMissingMethod
	}
	//nolint:wrapcheck // client already adds context
	return c.Call(ctx, method, params)
}

// WatchNotifications prints the params of each notification with method
// until ctx is cancelled. An empty method watches attach and detach.
func WatchNotifications(ctx context.Context, c client.APIClient, out io.Writer, method string) error {
	if method == "" {
		method = models.NotificationUSBChanged
	}

	for {
		resp, err := c.WaitNotification(ctx, -1, method)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			//nolint:wrapcheck // client already adds context
			return err
		}
		if _, err := fmt.Fprintln(out, resp); err != nil {
			return fmt.Errorf("failed to print notification: %w", err)
		}
	}
}

// Setup initializes logging, the user config and error reporting.
//
//nolint:gocritic // config struct copied for immutability
func Setup(configDir, dataDir string, defaultConfig config.Values, writers []io.Writer) *config.Instance {
	err := helpers.InitLogging(LogDir(dataDir), false, writers)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.NewConfig(configDir, defaultConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := telemetry.Init(cfg.TelemetryDSN(), config.AppVersion); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg
}
