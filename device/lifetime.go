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
	"sync"

	"github.com/google/uuid"

	"github.com/dalang/da/value"
)

// MemRef names one (stream, address) pair whose memory a cross-stream
// lifetime entry guards.
type MemRef struct {
	Stream  StreamID
	Addr    uintptr
}

// lifetimeEntry records that the addresses in Refs are in use by
// UserStream until Event fires.
type lifetimeEntry struct {
	dev        value.Device
	userStream StreamID
	refs       []MemRef
	event      EventID
}

// lifetimeTracker implements the cross-stream lifetime bookkeeping
// consumed by the pipeline's refcount recycler (spec.md §4.3/§4.11):
// a node's output storage, once handed to a consumer on a different
// stream, cannot be freed until that consumer's stream-ordering event
// has fired.
type lifetimeTracker struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lifetimeEntry
}

func newLifetimeTracker() *lifetimeTracker {
	return &lifetimeTracker{entries: make(map[uuid.UUID]*lifetimeEntry)}
}

// RecordEvent marks each address in refs as "in use by userStream
// until ev fires" under taskID. taskID lets WaitEvent address the
// exact entry this task created, even if several tasks race to record
// lifetimes for the same stream pair.
func (m *Manager) RecordEvent(taskID uuid.UUID, dev value.Device, userStream StreamID, refs []MemRef, ev EventID) {
	m.lifetime.mu.Lock()
	defer m.lifetime.mu.Unlock()
	m.lifetime.entries[taskID] = &lifetimeEntry{dev: dev, userStream: userStream, refs: refs, event: ev}
}

// WaitEvent waits on the event recorded for taskID (if memStream
// matches one of the memory streams the entry guards) and drops the
// entry once satisfied.
func (m *Manager) WaitEvent(taskID uuid.UUID, userStream, memStream StreamID) error {
	m.lifetime.mu.Lock()
	entry, ok := m.lifetime.entries[taskID]
	m.lifetime.mu.Unlock()
	if !ok || entry.userStream != userStream {
		return nil
	}
	matches := false
	for _, r := range entry.refs {
		if r.Stream == memStream {
			matches = true
			break
		}
	}
	if !matches {
		return nil
	}
	if err := m.Wait(entry.dev, entry.event); err != nil {
		return err
	}
	m.lifetime.mu.Lock()
	delete(m.lifetime.entries, taskID)
	m.lifetime.mu.Unlock()
	return nil
}

// NewTaskID mints a task identifier for use with RecordEvent/WaitEvent
// and the pipeline's refcount recycler.
func NewTaskID() uuid.UUID {
	return uuid.New()
}
