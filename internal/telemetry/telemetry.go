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


// Package telemetry reports errors to Sentry when a DSN is configured.
// Paths that carry a username, including the per-user media mount points
// UDisks2 creates, are scrubbed before anything leaves the machine.
package telemetry

import (
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/helpers"
	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 2 * time.Second

type pathRule struct {
	re   *regexp.Regexp
	repl string
}

var userPathRules = []pathRule{
	{re: regexp.MustCompile(`(?i)/home/[^/]+/`), repl: "/home/<user>/"},
	{re: regexp.MustCompile(`(?i)/Users/[^/]+/`), repl: "/Users/<user>/"},
	{re: regexp.MustCompile(`(?i)[a-zA-Z]:\\Users\\[^\\]+\\`), repl: `C:\Users\<user>\`},
	{re: regexp.MustCompile(`(/run)?/media/[^/]+/`), repl: "${1}/media/<user>/"},
}

type reporter struct {
	writer    *sentryzerolog.Writer
	closeOnce sync.Once
}

var active atomic.Pointer[reporter]

// Init starts reporting when dsn is set. Error level log events are then
// sent to Sentry as well as the regular log writer.
func Init(dsn, appVersion string) error {
	if dsn == "" {
		log.Debug().Msg("error reporting disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "zaparoo-usbstorage@" + appVersion,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		MaxBreadcrumbs:   0,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(map[string]string{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		})
	})

	w, err := sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:          []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout:    flushTimeout,
		WithBreadcrumbs: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry log writer: %w", err)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(helpers.LogWriter(), w)).
		With().Timestamp().Caller().Logger()

	active.Store(&reporter{writer: w})
	log.Info().Str("release", appVersion).Msg("error reporting enabled")
	return nil
}

// Close sends anything still queued. It is a no-op when reporting is off.
func Close() {
	r := active.Load()
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		if err := r.writer.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close sentry log writer")
		}
		sentry.Flush(flushTimeout)
	})
}

func Enabled() bool {
	return active.Load() != nil
}

func sanitizeEvent(event *sentry.Event) *sentry.Event {
	event.ServerName = ""
	event.Message = sanitizePath(event.Message)

	for i := range event.Exception {
		ex := &event.Exception[i]
		ex.Value = sanitizePath(ex.Value)
		if ex.Stacktrace == nil {
			continue
		}
		for j := range ex.Stacktrace.Frames {
			frame := &ex.Stacktrace.Frames[j]
			frame.AbsPath = sanitizePath(frame.AbsPath)
			frame.Filename = sanitizePath(frame.Filename)
		}
	}

	for k, v := range event.Tags {
		event.Tags[k] = sanitizePath(v)
	}
	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = sanitizePath(s)
		}
	}

	return event
}

func sanitizePath(s string) string {
	if s == "" {
		return s
	}
	for _, rule := range userPathRules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}
