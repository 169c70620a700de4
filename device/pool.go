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

// Package device is a device-agnostic abstraction over per-device
// memory pools, streams, and events. It is modeled on the teacher's
// fixed-region VMM allocator (a 4GiB bitmap-backed arena reserved at
// process start) generalized to one arena per value.Device, with a
// best-fit free list in place of the teacher's page-table bitmap and an
// optional pluggable (alloc, free) override.
package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dalang/da/value"
)

// PageSize is the VMM mapping granularity: spec.md §4.3 names a fixed
// 2 MiB physical page.
const PageSize = 2 << 20

// block is the concrete value.Block handed out by a Pool.
type block struct {
	mem  []byte
	off  int // offset within the arena, used for free-list bookkeeping
	size int
}

func (b *block) Bytes() []byte    { return b.mem }
func (b *block) DataPtr() uintptr { return dataPtr(b.mem) }
func (b *block) Size() int        { return b.size }

// freeRun is a contiguous run of bytes in the arena.
type freeRun struct {
	off, size int
}

// Stats mirrors spec.md §4.3's required pool statistics.
type Stats struct {
	Total         int // bytes reserved from the arena
	Used          int // bytes currently handed out
	Idle          int // bytes mapped and held in the free list, available for reuse
	EagerFreed    int // bytes permanently released through EagerFree
	PeakReserved  int
	PeakAllocated int
}

// allocFn/freeFn are the pluggable-allocator callback signatures (§4.3).
// Installing these is mutually exclusive with the VMM path (DESIGN.md
// "Open Question" / design-notes resolution): NewPool always uses the
// free-list-over-arena path; NewPoolWithAllocator always defers to the
// callbacks and never touches the arena.
type allocFn func(dev value.Device, size int) ([]byte, error)
type freeFn func(dev value.Device, mem []byte)

// Pool is a best-fit allocator for one value.Device, optionally backed
// by a VMM-style reserve/map/unmap arena.
//
// Three disjoint byte-accounting buckets live inside the reserved
// arena: used (handed-out blocks), free (mapped and immediately
// reusable at sub-page granularity), and cached (unmapped whole
// pages whose physical handle spec.md §4.3 says Free "caches... for
// reuse" rather than returning straight to the device). A miss in
// Allocate's best-fit search over free first remaps whatever sits in
// cached before it grows the mapped region from the reserve; a miss
// there is what makes EmptyCache's return value observable (cached
// shrinks to zero, and the next working set that size has to be
// mapped fresh instead of reused).
type Pool struct {
	mu  sync.Mutex
	dev value.Device

	// VMM arena state (nil/zero when a pluggable allocator is installed)
	arena     []byte
	watermark int       // arena[:watermark] has been mapped from the reserve so far
	free      []freeRun // mapped, idle; sorted by offset, coalesced
	cached    []freeRun // unmapped whole pages, cached for a fast remap
	cachedLen int       // sum of cached run sizes, kept in sync with cached
	used      int
	peakRes   int
	peakAlloc int
	eagerFree int

	// pluggable override
	pluggableAlloc allocFn
	pluggableFree  freeFn
	pluggableUsed  map[*block]bool
}

// NewPool creates a VMM-backed best-fit pool for dev, reserving size
// bytes of virtual address space up front (mapped lazily, in PageSize
// chunks, as allocations require).
func NewPool(dev value.Device, reserveBytes int) *Pool {
	if reserveBytes <= 0 {
		reserveBytes = 1 << 30
	}
	return &Pool{
		dev:   dev,
		arena: make([]byte, reserveBytes),
	}
}

// NewPoolWithAllocator installs a pluggable (alloc, free) pair that
// overrides the built-in VMM path entirely.
func NewPoolWithAllocator(dev value.Device, alloc allocFn, free freeFn) *Pool {
	return &Pool{dev: dev, pluggableAlloc: alloc, pluggableFree: free, pluggableUsed: make(map[*block]bool)}
}

func roundUp(size, align int) int {
	if size <= 0 {
		return align
	}
	return (size + align - 1) / align * align
}

func roundDown(size, align int) int {
	return (size / align) * align
}

// Allocate returns a block of at least size bytes. streamID is
// accepted for API symmetry with the pipeline's per-node stream
// targeting; the pool itself serializes allocations globally via mu
// (spec.md §5: "The memory pool serializes allocations via a mutex").
func (p *Pool) Allocate(dev value.Device, size int, streamID int) (value.Block, error) {
	if !dev.Equal(p.dev) {
		return nil, fmt.Errorf("device: pool for %s cannot allocate for %s", p.dev, dev)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pluggableAlloc != nil {
		mem, err := p.pluggableAlloc(dev, size)
		if err != nil {
			return nil, err
		}
		b := &block{mem: mem, size: size}
		p.pluggableUsed[b] = true
		return b, nil
	}

	size = roundUp(size, 64)
	idx := p.bestFit(size)
	if idx < 0 {
		// Remap whatever Free cached before asking the reserve for
		// fresh pages: reusing a cached handle is the cheap path
		// spec.md §4.3 describes ("free... caches physical handles
		// for reuse").
		p.reclaimCachedLocked()
		idx = p.bestFit(size)
	}
	if idx < 0 {
		if err := p.growLocked(size); err != nil {
			p.dumpLocked()
			return nil, err
		}
		idx = p.bestFit(size)
	}
	if idx < 0 {
		p.dumpLocked()
		return nil, fmt.Errorf("device: pool exhausted for %s: requested %d bytes", dev, size)
	}
	run := p.free[idx]
	b := &block{mem: p.arena[run.off : run.off+size], off: run.off, size: size}
	p.consumeLocked(idx, size)
	p.used += size
	if p.used > p.peakAlloc {
		p.peakAlloc = p.used
	}
	return b, nil
}

// bestFit returns the index of the smallest free run that still fits
// size, or -1 if none does.
func (p *Pool) bestFit(size int) int {
	best := -1
	for i, r := range p.free {
		if r.size >= size && (best < 0 || r.size < p.free[best].size) {
			best = i
		}
	}
	return best
}

// consumeLocked carves size bytes off the front of free run idx,
// shrinking or removing it.
func (p *Pool) consumeLocked(idx, size int) {
	r := p.free[idx]
	if r.size == size {
		p.free = append(p.free[:idx], p.free[idx+1:]...)
		return
	}
	p.free[idx] = freeRun{off: r.off + size, size: r.size - size}
}

// growLocked maps enough fresh PageSize-aligned pages from the
// reserve to cover size, appending them to the free list. It is the
// "request a new block from the device (or from a reserved VMM
// range)" miss path of spec.md §4.3's Allocate.
func (p *Pool) growLocked(size int) error {
	remaining := len(p.arena) - p.watermark
	need := roundUp(size, PageSize)
	if need > remaining {
		// The reserve itself is smaller than one page (common in tests
		// exercising a small pool): map whatever is left of it rather
		// than refusing outright, since that remainder may still cover
		// size.
		need = remaining
	}
	if need < size {
		return fmt.Errorf("device: reserve for %s exhausted: %d bytes remain, need %d", p.dev, remaining, size)
	}
	p.free = append(p.free, freeRun{off: p.watermark, size: need})
	p.watermark += need
	p.coalesceFreeLocked()
	return nil
}

// reclaimCachedLocked remaps every cached (unmapped) handle back into
// the free list, emptying the cache. Called on a best-fit miss, before
// growLocked resorts to mapping brand-new pages from the reserve.
func (p *Pool) reclaimCachedLocked() {
	if len(p.cached) == 0 {
		return
	}
	p.free = append(p.free, p.cached...)
	p.cached = nil
	p.cachedLen = 0
	p.coalesceFreeLocked()
}

func (p *Pool) coalesceFreeLocked() {
	sort.Slice(p.free, func(i, j int) bool { return p.free[i].off < p.free[j].off })
	coalesced := p.free[:0]
	for _, r := range p.free {
		if len(coalesced) > 0 {
			last := &coalesced[len(coalesced)-1]
			if last.off+last.size == r.off {
				last.size += r.size
				continue
			}
		}
		coalesced = append(coalesced, r)
	}
	p.free = coalesced
}

// unmapWholePagesLocked scans the (already coalesced) free list and
// moves every whole-PageSize span it finds out of free and into
// cached, leaving any sub-page slivers at a run's edges behind in
// free. This is the "free... caches physical handles for reuse" half
// of spec.md §4.3's VMM path: an idle run doesn't need to stay mapped
// just because it isn't in active use.
func (p *Pool) unmapWholePagesLocked() {
	kept := p.free[:0]
	for _, r := range p.free {
		pageStart := (r.off + PageSize - 1) / PageSize * PageSize
		pageEnd := roundDown(r.off+r.size, PageSize)
		if pageEnd <= pageStart {
			kept = append(kept, r)
			continue
		}
		if pageStart > r.off {
			kept = append(kept, freeRun{off: r.off, size: pageStart - r.off})
		}
		p.cached = append(p.cached, freeRun{off: pageStart, size: pageEnd - pageStart})
		p.cachedLen += pageEnd - pageStart
		if r.off+r.size > pageEnd {
			kept = append(kept, freeRun{off: pageEnd, size: r.off + r.size - pageEnd})
		}
	}
	p.free = kept
}

// Free returns b to the pool, coalescing it into the free list and
// then caching whatever whole pages that coalesced run makes
// unmappable (or to the pluggable allocator's free callback).
func (p *Pool) Free(dev value.Device, b value.Block) {
	bl, ok := b.(*block)
	if !ok || bl == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pluggableFree != nil {
		if p.pluggableUsed[bl] {
			delete(p.pluggableUsed, bl)
			p.pluggableFree(dev, bl.mem)
		}
		return
	}

	p.used -= bl.size
	p.free = append(p.free, freeRun{off: bl.off, size: bl.size})
	p.coalesceFreeLocked()
	p.unmapWholePagesLocked()
}

// EmptyCache releases every cached (freed-but-unmapped) handle,
// returning the number of bytes released (spec.md §8 scenario 6). A
// later Allocate that needs that capacity back has to map fresh pages
// from the reserve instead of reusing the released handles.
func (p *Pool) EmptyCache() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emptyCacheLocked()
}

func (p *Pool) emptyCacheLocked() int {
	released := p.cachedLen
	p.cached = nil
	p.cachedLen = 0
	return released
}

// EagerFree unmaps b immediately and permanently: unlike Free, the
// released bytes are never cached for reuse (spec.md's glossary:
// "releasing pages to the OS/driver immediately on free instead of
// caching them"). It is intended for workspace buffers the pipeline
// knows it will never reuse.
func (p *Pool) EagerFree(b value.Block) {
	bl, ok := b.(*block)
	if !ok || bl == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pluggableFree != nil {
		if p.pluggableUsed[bl] {
			delete(p.pluggableUsed, bl)
			p.pluggableFree(p.dev, bl.mem)
		}
		return
	}
	p.used -= bl.size
	p.eagerFree += bl.size
}

func (p *Pool) dumpLocked() {
	fmt.Fprintf(dumpWriter, "device: pool exhausted for %s: used=%d idle=%d cached=%d total=%d\n",
		p.dev, p.used, p.idleLocked(), p.cachedLen, len(p.arena))
}

func (p *Pool) idleLocked() int {
	idle := 0
	for _, r := range p.free {
		idle += r.size
	}
	return idle
}

// Stats reports the pool's current statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peakRes < len(p.arena) {
		p.peakRes = len(p.arena)
	}
	return Stats{
		Total:         len(p.arena),
		Used:          p.used,
		Idle:          p.idleLocked(),
		EagerFreed:    p.eagerFree,
		PeakReserved:  p.peakRes,
		PeakAllocated: p.peakAlloc,
	}
}
