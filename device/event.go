// Copyright (C) 2024 the da Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/dalang/da/value"
)

// EventID identifies one runtime event, returned by CreateRuntimeEvent.
type EventID int

// Event supports the Record/Wait/Query/ElapsedTime surface from
// spec.md §4.3. Recording on one stream and waiting on another
// enforces happens-before between them.
type Event struct {
	mu               sync.Mutex
	blocking         bool
	captureProgress  bool
	recordedOn       StreamID
	recorded         bool
	fired            bool
	recordTime       time.Time
	fireTime         time.Time
	cond             *sync.Cond
}

func newEvent(blocking, captureProgress bool) *Event {
	e := &Event{blocking: blocking, captureProgress: captureProgress}
	e.cond = sync.NewCond(&e.mu)
	return e
}

type eventTable struct {
	mu     sync.Mutex
	next   EventID
	events map[EventID]*Event
}

func newEventTable() *eventTable {
	return &eventTable{next: 1, events: make(map[EventID]*Event)}
}

// CreateRuntimeEvent allocates a new event on dev. blocking events'
// Wait calls park the calling goroutine (via a condition variable)
// until fired; non-blocking events' Wait spins on Query. captureProgress
// additionally timestamps Record/fire for ElapsedTime.
func (m *Manager) CreateRuntimeEvent(dev value.Device, blocking, captureProgress bool) EventID {
	t := m.eventsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.events[id] = newEvent(blocking, captureProgress)
	return id
}

func (m *Manager) event(dev value.Device, id EventID) (*Event, error) {
	t := m.eventsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.events[id]
	if !ok {
		return nil, fmt.Errorf("device: event %d is not live on %s", id, dev)
	}
	return e, nil
}

// Record marks ev as pending completion of every task already
// submitted to streamID; once fired, everything waiting on ev observes
// happens-before with that point in streamID's submission order.
func (m *Manager) Record(dev value.Device, streamID StreamID, id EventID) error {
	e, err := m.event(dev, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.recordedOn = streamID
	e.recorded = true
	e.fired = false
	if e.captureProgress {
		e.recordTime = time.Now()
	}
	e.mu.Unlock()
	return nil
}

// Fire marks ev as having completed. Called by the pipeline's launch
// worker once the recorded stream has actually executed past the
// record point.
func (m *Manager) Fire(dev value.Device, id EventID) error {
	e, err := m.event(dev, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.fired = true
	if e.captureProgress {
		e.fireTime = time.Now()
	}
	if e.blocking {
		e.cond.Broadcast()
	}
	e.mu.Unlock()
	return nil
}

// Wait blocks the caller (for blocking events, via a condition
// variable; for non-blocking events, by spin-querying) until event id
// on dev fires, which orders the caller after whatever stream recorded
// the event.
func (m *Manager) Wait(dev value.Device, id EventID) error {
	e, err := m.event(dev, id)
	if err != nil {
		return err
	}
	if e.blocking {
		e.mu.Lock()
		for !e.fired {
			e.cond.Wait()
		}
		e.mu.Unlock()
		return nil
	}
	for {
		e.mu.Lock()
		fired := e.fired
		e.mu.Unlock()
		if fired {
			return nil
		}
	}
}

// Query reports whether ev has fired without blocking.
func (m *Manager) Query(dev value.Device, id EventID) (bool, error) {
	e, err := m.event(dev, id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired, nil
}

// ElapsedTime returns the duration between Record and Fire for a
// captureProgress event. It is only meaningful once the event has fired.
func (m *Manager) ElapsedTime(dev value.Device, id EventID) (time.Duration, error) {
	e, err := m.event(dev, id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.captureProgress || !e.fired {
		return 0, fmt.Errorf("device: event %d has no elapsed time yet", id)
	}
	return e.fireTime.Sub(e.recordTime), nil
}

// SyncAllEvents waits on every outstanding event across every device
// this manager tracks.
func (m *Manager) SyncAllEvents() error {
	m.mu.Lock()
	type key struct {
		dev value.Device
		id  EventID
	}
	var all []key
	for dev, t := range m.events {
		t.mu.Lock()
		for id := range t.events {
			all = append(all, key{dev, id})
		}
		t.mu.Unlock()
	}
	m.mu.Unlock()
	for _, k := range all {
		if err := m.Wait(k.dev, k.id); err != nil {
			return err
		}
	}
	return nil
}
