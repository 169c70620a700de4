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

	"golang.org/x/exp/slices"

	"github.com/dalang/da/value"
)

// Backend is a (device-name, factory) registration, the "pluggable
// device backends" surface named in spec.md §6. The CPU backend is
// always registered; accelerator backends (e.g. "ascend") register
// themselves from an init() in their own package.
type Backend struct {
	Name        string
	DeviceType  value.DeviceType
	ReserveSize int // bytes of arena to reserve per device index
}

var (
	backendsMu sync.Mutex
	backends   = map[string]Backend{}
)

// RegisterBackend installs a device backend under name. Re-registering
// the same name is a no-op, matching the teacher's idempotent registry
// pattern (kernel_lib.h's Register).
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, ok := backends[b.Name]; ok {
		return
	}
	backends[b.Name] = b
}

func init() {
	RegisterBackend(Backend{Name: "cpu", DeviceType: value.CPU, ReserveSize: 1 << 30})
}

// Manager is the device resource manager (C3): it owns one Pool,
// streamTable, and eventTable per value.Device, plus the cross-stream
// lifetime tracker shared across all devices it manages.
type Manager struct {
	mu       sync.Mutex
	pools    map[value.Device]*Pool
	streams  map[value.Device]*streamTable
	events   map[value.Device]*eventTable
	lifetime *lifetimeTracker
}

// NewManager constructs an empty resource manager.
func NewManager() *Manager {
	return &Manager{
		pools:    make(map[value.Device]*Pool),
		streams:  make(map[value.Device]*streamTable),
		events:   make(map[value.Device]*eventTable),
		lifetime: newLifetimeTracker(),
	}
}

func (m *Manager) poolFor(dev value.Device) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[dev]
	if !ok {
		reserve := 1 << 30
		backendsMu.Lock()
		for _, b := range backends {
			if b.DeviceType == dev.Type {
				reserve = b.ReserveSize
				break
			}
		}
		backendsMu.Unlock()
		p = NewPool(dev, reserve)
		m.pools[dev] = p
	}
	return p
}

// Pool returns (creating if necessary) the memory pool for dev.
func (m *Manager) Pool(dev value.Device) *Pool {
	return m.poolFor(dev)
}

func (m *Manager) streamsFor(dev value.Device) *streamTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.streams[dev]
	if !ok {
		t = newStreamTable()
		m.streams[dev] = t
	}
	return t
}

func (m *Manager) eventsFor(dev value.Device) *eventTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.events[dev]
	if !ok {
		t = newEventTable()
		m.events[dev] = t
	}
	return t
}

// Allocate satisfies value.Allocator by dispatching to the per-device pool.
func (m *Manager) Allocate(dev value.Device, size int, streamID int) (value.Block, error) {
	return m.poolFor(dev).Allocate(dev, size, streamID)
}

// Free satisfies value.Allocator.
func (m *Manager) Free(dev value.Device, b value.Block) {
	m.poolFor(dev).Free(dev, b)
}

// SyncAllStreams blocks until every known device's every stream is idle.
// Devices are visited in a deterministic (type, index) order rather than
// Go's randomized map order, so two runs over the same device set sync in
// the same sequence.
func (m *Manager) SyncAllStreams() error {
	m.mu.Lock()
	devs := make([]value.Device, 0, len(m.streams))
	for d := range m.streams {
		devs = append(devs, d)
	}
	m.mu.Unlock()
	slices.SortFunc(devs, func(a, b value.Device) bool {
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Index < b.Index
	})
	for _, d := range devs {
		if err := m.SyncAllStreamsOn(d); err != nil {
			return err
		}
	}
	return nil
}

// SyncAllStreamsOn blocks until every stream on dev is idle.
func (m *Manager) SyncAllStreamsOn(dev value.Device) error {
	t := m.streamsFor(dev)
	t.mu.Lock()
	ids := make([]StreamID, 0, len(t.live))
	for id := range t.live {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	slices.Sort(ids)
	for _, id := range ids {
		if err := m.SyncStream(dev, id); err != nil {
			return err
		}
	}
	return nil
}

// errUnknownStream is returned by operations against a StreamID that
// was never created (or was already destroyed) on dev.
func errUnknownStream(dev value.Device, id StreamID) error {
	return fmt.Errorf("device: stream %d is not live on %s", id, dev)
}
