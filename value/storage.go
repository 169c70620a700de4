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

package value

import (
	"fmt"
	"unsafe"
)

// Block is a device-resident byte range handed out by an Allocator.
// device.Pool is the concrete implementation; Storage only depends on
// this narrow interface so that the value package never imports
// device (the dependency runs the other way, per the component order
// in SPEC_FULL.md §2).
type Block interface {
	// Bytes returns the host-addressable view of the block, if any.
	// Accelerator-resident blocks may return nil; callers must use
	// DataPtr (an opaque device address) instead in that case.
	Bytes() []byte
	// DataPtr returns the device-opaque address of the block.
	DataPtr() uintptr
	// Size returns the block's capacity in bytes.
	Size() int
}

// Allocator is the narrow surface Storage needs from a device memory
// pool: allocate a block of at least size bytes, and free one back.
type Allocator interface {
	Allocate(dev Device, size int, streamID int) (Block, error)
	Free(dev Device, b Block)
}

// Storage is a reference-counted, device-resident byte buffer of known
// size. It is either owned (allocated from a pool, freed on Release)
// or borrowed (wraps externally-owned memory, never freed here).
type Storage struct {
	refcount int32
	dev      Device
	pool     Allocator
	block    Block
	size     int
	borrowed bool
	external []byte // set only when wrapping host memory directly
}

// NewStorage allocates size bytes for dev from pool.
func NewStorage(pool Allocator, dev Device, size int) (*Storage, error) {
	b, err := pool.Allocate(dev, size, 0)
	if err != nil {
		return nil, fmt.Errorf("value: allocate %d bytes on %s: %w", size, dev, err)
	}
	return &Storage{refcount: 1, dev: dev, pool: pool, block: b, size: size}, nil
}

// WrapStorage wraps externally-owned host memory. It is never freed
// back to any pool on destruction.
func WrapStorage(dev Device, mem []byte) *Storage {
	return &Storage{refcount: 1, dev: dev, size: len(mem), borrowed: true, external: mem}
}

// SizeBytes returns the storage's capacity in bytes.
func (s *Storage) SizeBytes() int { return s.size }

// Device returns the device this storage is resident on.
func (s *Storage) Device() Device { return s.dev }

// DataPtr returns the device-opaque address of the storage.
func (s *Storage) DataPtr() uintptr {
	if s.borrowed {
		if len(s.external) == 0 {
			return 0
		}
		return uintptr(unsafe.Pointer(&s.external[0]))
	}
	return s.block.DataPtr()
}

// Bytes returns the host-addressable view of the storage, or nil if
// the storage is resident on a device with no host mapping.
func (s *Storage) Bytes() []byte {
	if s.borrowed {
		return s.external
	}
	return s.block.Bytes()
}

// Resize re-requests storage of the given size from the pool. Resizing
// a borrowed (externally-owned) storage is a programming error.
func (s *Storage) Resize(size int) error {
	if s.borrowed {
		panic("value: Resize called on externally-owned storage")
	}
	if size == s.size {
		return nil
	}
	b, err := s.pool.Allocate(s.dev, size, 0)
	if err != nil {
		return fmt.Errorf("value: resize to %d bytes on %s: %w", size, s.dev, err)
	}
	old := s.block
	s.block = b
	s.size = size
	s.pool.Free(s.dev, old)
	return nil
}

// SetData overwrites the storage's externally-owned memory view. It is
// only meaningful for borrowed storages.
func (s *Storage) SetData(mem []byte) {
	if !s.borrowed {
		panic("value: SetData called on pool-owned storage")
	}
	s.external = mem
	s.size = len(mem)
}

// Ref increments the reference count and returns s, for chaining.
func (s *Storage) Ref() *Storage {
	s.refcount++
	return s
}

// Unref decrements the reference count, freeing the storage back to
// its pool once it reaches zero. Unref on a borrowed storage never
// calls Free.
func (s *Storage) Unref() {
	s.refcount--
	if s.refcount > 0 {
		return
	}
	if !s.borrowed && s.pool != nil && s.block != nil {
		s.pool.Free(s.dev, s.block)
		s.block = nil
	}
}

// Refcount returns the current reference count, exposed for bridge
// code and tests.
func (s *Storage) Refcount() int32 { return s.refcount }
