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

	"github.com/dalang/da/value"
)

// StreamID identifies one command stream on a device. Ordering
// guarantees (spec.md §5) hold only for work submitted to the same
// StreamID; ordering across streams is established exclusively
// through Events.
type StreamID int

// DefaultStream is the stream every device starts with, and the
// target for launches when no other stream has been selected.
const DefaultStream StreamID = 0

// streamTable owns the set of live streams for one device. A real
// accelerator backend would back each entry with a native stream
// handle; the CPU backend (and this generic table) only needs to
// track liveness and a simple pending-op counter to model
// synchronization, since CPU kernels execute synchronously relative
// to the goroutine that calls Launch.
type streamTable struct {
	mu      sync.Mutex
	next    StreamID
	live    map[StreamID]*streamState
}

type streamState struct {
	pending int // outstanding launches not yet observed as complete
}

func newStreamTable() *streamTable {
	return &streamTable{
		next: DefaultStream + 1,
		live: map[StreamID]*streamState{DefaultStream: {}},
	}
}

// CreateStream allocates a new stream on dev and returns its id.
func (m *Manager) CreateStream(dev value.Device) StreamID {
	t := m.streamsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.live[id] = &streamState{}
	return id
}

// DestroyStream releases a previously created stream. Destroying the
// default stream is a programming error.
func (m *Manager) DestroyStream(dev value.Device, id StreamID) error {
	if id == DefaultStream {
		return errUnknownStream(dev, id)
	}
	t := m.streamsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return errUnknownStream(dev, id)
	}
	delete(t.live, id)
	return nil
}

// Submit records that a task has been submitted to stream id on dev.
// Kernel-launch code calls this before invoking a kernel's Launch and
// Complete after it returns, so SyncStream has something to wait on.
func (m *Manager) Submit(dev value.Device, id StreamID) error {
	t := m.streamsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.live[id]
	if !ok {
		return errUnknownStream(dev, id)
	}
	s.pending++
	return nil
}

// Complete records that the most recently submitted task on stream id
// has finished.
func (m *Manager) Complete(dev value.Device, id StreamID) {
	t := m.streamsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.live[id]; ok && s.pending > 0 {
		s.pending--
	}
}

// SyncStream reports an error if stream id is not live on dev and
// otherwise returns at once. It does not wait on the stream's pending
// count: the CPU backend runs every launch synchronously on the
// caller's goroutine, so the launch is already complete when it returns.
func (m *Manager) SyncStream(dev value.Device, id StreamID) error {
	t := m.streamsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return errUnknownStream(dev, id)
	}
	return nil
}

// Idle reports whether stream id on dev has no pending work, used by
// tests asserting the post-RunGraph invariant in spec.md §8.
func (m *Manager) Idle(dev value.Device, id StreamID) bool {
	t := m.streamsFor(dev)
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.live[id]
	return ok && s.pending == 0
}
