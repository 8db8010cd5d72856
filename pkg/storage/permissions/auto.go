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

package permissions

import (
	"context"
	"path"

	"github.com/rs/zerolog/log"
)

// AutoPrompter answers prompts without user interaction: keys matching one
// of its glob patterns are granted, everything else is denied.
type AutoPrompter struct {
	patterns []string
}

func NewAutoPrompter(patterns []string) *AutoPrompter {
	return &AutoPrompter{patterns: patterns}
}

func (a *AutoPrompter) Prompt(_ context.Context, key string, r Resolver) error {
	granted := a.Allowed(key)
	go r.OnPermissionResult(key, granted)
	return nil
}

// Allowed reports whether key matches a configured pattern. A lone "*"
// matches every key, including ones containing slashes.
func (a *AutoPrompter) Allowed(key string) bool {
	for _, p := range a.patterns {
		if p == "*" {
			return true
		}
		ok, err := path.Match(p, key)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("invalid auto grant pattern")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
