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

// Package permissions tracks which devices the user has allowed access to.
//
// A Gate asks a platform Prompter to show its permission prompt and waits
// for the answer to come back through OnPermissionResult. Each device key
// has at most one request in flight; requests for different keys are
// independent.
package permissions

import (
	"context"
	"slices"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/storage/errs"
	"github.com/rs/zerolog/log"
)

// Resolver receives the outcome of a permission prompt.
type Resolver interface {
	OnPermissionResult(key string, granted bool)
}

// Prompter shows the platform permission prompt for a device. Prompt must
// not wait for the user; the answer is delivered later to the resolver.
// A returned error means the prompt could not be shown at all.
type Prompter interface {
	Prompt(ctx context.Context, key string, r Resolver) error
}

// ResultHook is called after every resolved request.
type ResultHook func(key string, granted bool)

type Gate struct {
	prompter Prompter
	hook     ResultHook
	pending  map[string]chan bool
	granted  map[string]struct{}
	mu       syncutil.Mutex
}

func NewGate(prompter Prompter, hook ResultHook) *Gate {
	return &Gate{
		prompter: prompter,
		hook:     hook,
		pending:  make(map[string]chan bool),
		granted:  make(map[string]struct{}),
	}
}

// RequestPermission prompts for access to key and waits for the answer or
// for ctx to end. An already granted key returns true without prompting.
// A second request while one is pending for the same key fails with
// errs.ErrPermissionPending.
func (g *Gate) RequestPermission(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	if _, ok := g.granted[key]; ok {
		g.mu.Unlock()
		return true, nil
	}
	if _, ok := g.pending[key]; ok {
		g.mu.Unlock()
		return false, &errs.Error{Kind: errs.ErrPermissionPending, Op: "request permission", DeviceKey: key}
	}
	result := make(chan bool, 1)
	g.pending[key] = result
	g.mu.Unlock()

	log.Debug().Str("key", key).Msg("requesting device permission")

	if err := g.prompter.Prompt(ctx, key, g); err != nil {
		g.dropPending(key, result)
		return false, &errs.Error{
			Kind:      errs.ErrPermissionDenied,
			Op:        "request permission",
			DeviceKey: key,
			Err:       err,
		}
	}

	select {
	case granted := <-result:
		return granted, nil
	case <-ctx.Done():
		if !g.dropPending(key, result) {
			// resolved while timing out, the answer is on its way
			return <-result, nil
		}
		log.Warn().Str("key", key).Msg("permission request timed out")
		return false, &errs.Error{
			Kind:      errs.ErrPermissionDenied,
			Op:        "request permission",
			DeviceKey: key,
			Err:       ctx.Err(),
		}
	}
}

// dropPending removes the pending request for key if it is still result.
// It returns false if the request was already resolved.
func (g *Gate) dropPending(key string, result chan bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[key] != result {
		return false
	}
	delete(g.pending, key)
	return true
}

// OnPermissionResult resolves the pending request for key and records the
// answer. Results for keys with nothing pending are ignored.
func (g *Gate) OnPermissionResult(key string, granted bool) {
	g.mu.Lock()
	result, ok := g.pending[key]
	if !ok {
		g.mu.Unlock()
		log.Debug().Str("key", key).Bool("granted", granted).Msg("ignoring unsolicited permission result")
		return
	}
	delete(g.pending, key)
	if granted {
		g.granted[key] = struct{}{}
	} else {
		delete(g.granted, key)
	}
	g.mu.Unlock()

	result <- granted

	log.Info().Str("key", key).Bool("granted", granted).Msg("device permission result")
	if g.hook != nil {
		g.hook(key, granted)
	}
}

func (g *Gate) HasPermission(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.granted[key]
	return ok
}

// Revoke forgets the grant for key and denies a pending request for it.
func (g *Gate) Revoke(key string) {
	g.RevokeMatching(func(k string) bool { return k == key })
}

// RevokeMatching revokes every granted or pending key match accepts and
// returns them sorted. It is called when a device detaches, with match
// covering the disk and its partitions.
func (g *Gate) RevokeMatching(match func(key string) bool) []string {
	g.mu.Lock()
	revoked := make([]string, 0)
	for k := range g.granted {
		if match(k) {
			delete(g.granted, k)
			revoked = append(revoked, k)
		}
	}
	pending := make([]string, 0)
	for k := range g.pending {
		if match(k) {
			pending = append(pending, k)
			if !slices.Contains(revoked, k) {
				revoked = append(revoked, k)
			}
		}
	}
	g.mu.Unlock()

	for _, k := range pending {
		g.OnPermissionResult(k, false)
	}

	slices.Sort(revoked)
	return revoked
}
