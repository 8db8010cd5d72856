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

// Package events fans device attach, detach and permission events out to
// any number of subscribers without blocking the publisher.
package events

import (
	"fmt"
	"slices"
	"time"

	"github.com/ZaparooProject/zaparoo-usbstorage/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Kind int

const (
	Attached Kind = iota
	Detached
	PermissionResult
)

// Wire names of the event kinds.
const (
	NameAttached   = "Attach"
	NameDetached   = "Detached"
	NamePermission = "Permission"
)

func (k Kind) String() string {
	switch k {
	case Attached:
		return NameAttached
	case Detached:
		return NameDetached
	case PermissionResult:
		return NamePermission
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is a device state change. Granted is only meaningful for
// PermissionResult events.
type Event struct {
	Time      time.Time
	DeviceKey string
	Kind      Kind
	Granted   bool
}

// Dispatcher tracks attached devices and broadcasts events to its
// subscribers. Each subscriber has its own buffered channel; when it is
// full the event is dropped for that subscriber only.
type Dispatcher struct {
	clock       clockwork.Clock
	subscribers map[int]chan Event
	attached    map[string]struct{}
	mu          syncutil.RWMutex
	nextID      int
	stopped     bool
}

func NewDispatcher(clock clockwork.Clock) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		clock:       clock,
		subscribers: make(map[int]chan Event),
		attached:    make(map[string]struct{}),
	}
}

// Seed replaces the attached device set without emitting events. It is
// used once at startup with the devices found by enumeration.
func (d *Dispatcher) Seed(keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		d.attached[k] = struct{}{}
	}
}

// Subscribe registers a subscriber and returns its channel, its id for
// Unsubscribe and the keys attached at the time of subscribing. Events
// published after Subscribe returns are delivered on the channel.
func (d *Dispatcher) Subscribe(bufferSize int) (events <-chan Event, id int, attached []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan Event, bufferSize)
	attached = d.attachedLocked()

	if d.stopped {
		close(ch)
		return ch, -1, attached
	}

	id = d.nextID
	d.nextID++
	d.subscribers[id] = ch

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Msg("new event subscriber registered")

	return ch, id, attached
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored.
func (d *Dispatcher) Unsubscribe(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.subscribers[id]; ok {
		delete(d.subscribers, id)
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("event subscriber unsubscribed")
	}
}

// Attached returns the currently attached device keys, sorted.
func (d *Dispatcher) Attached() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attachedLocked()
}

func (d *Dispatcher) attachedLocked() []string {
	keys := make([]string, 0, len(d.attached))
	for k := range d.attached {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// PublishAttached records key as attached and broadcasts it. A key that is
// already attached is not announced again.
func (d *Dispatcher) PublishAttached(key string) {
	d.publish(Event{Kind: Attached, DeviceKey: key})
}

// PublishDetached records key as gone and broadcasts it, also for keys
// that were never announced.
func (d *Dispatcher) PublishDetached(key string) {
	d.publish(Event{Kind: Detached, DeviceKey: key})
}

func (d *Dispatcher) PublishPermission(key string, granted bool) {
	d.publish(Event{Kind: PermissionResult, DeviceKey: key, Granted: granted})
}

func (d *Dispatcher) publish(ev Event) {
	ev.Time = d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch ev.Kind {
	case Attached:
		if _, ok := d.attached[ev.DeviceKey]; ok {
			return
		}
		d.attached[ev.DeviceKey] = struct{}{}
	case Detached:
		delete(d.attached, ev.DeviceKey)
	case PermissionResult:
	}

	if len(d.subscribers) == 0 {
		log.Debug().Stringer("kind", ev.Kind).Str("key", ev.DeviceKey).Msg("no subscribers, dropping event")
		return
	}

	for id, ch := range d.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Stringer("kind", ev.Kind).
				Str("key", ev.DeviceKey).
				Msg("subscriber channel full, dropping event")
		}
	}
}

// Stop closes every subscriber channel. Later publishes are dropped and
// later subscriptions receive a closed channel.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for id, ch := range d.subscribers {
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("closed event subscriber on shutdown")
	}
	d.subscribers = make(map[int]chan Event)
}
