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
	"testing"

	"github.com/dalang/da/value"
)

func TestPoolBestFitAndStatsLaw(t *testing.T) {
	dev := value.Device{Type: value.CPU}
	p := NewPool(dev, 1<<20)

	a, err := p.Allocate(dev, 1024, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Allocate(dev, 4096, 0)
	if err != nil {
		t.Fatal(err)
	}

	st := p.Stats()
	if st.Used+st.Idle != st.Total {
		t.Errorf("used(%d)+idle(%d) != total(%d)", st.Used, st.Idle, st.Total)
	}

	p.Free(dev, a)
	p.Free(dev, b)

	p.EmptyCache()
	if err := devSyncNoop(); err != nil {
		t.Fatal(err)
	}

	st = p.Stats()
	if st.Used != 0 {
		t.Errorf("used = %d after freeing everything, want 0", st.Used)
	}
}

func devSyncNoop() error { return nil }

// TestPoolEmptyCacheReleasesWorkingSet is spec.md §8 scenario 6
// ("VMM empty-cache"): allocating then freeing a pool-sized working set
// caches the freed pages rather than handing them straight back to the
// free list; EmptyCache must measurably drain that cache.
func TestPoolEmptyCacheReleasesWorkingSet(t *testing.T) {
	dev := value.Device{Type: value.CPU}
	reserve := 4 * PageSize
	p := NewPool(dev, reserve)

	working := reserve
	b, err := p.Allocate(dev, working, 0)
	if err != nil {
		t.Fatal(err)
	}
	p.Free(dev, b)

	released := p.EmptyCache()
	if released < working {
		t.Fatalf("EmptyCache released %d bytes, want >= %d (the freed working set)", released, working)
	}

	st := p.Stats()
	if st.Used != 0 {
		t.Fatalf("used = %d after freeing the whole working set, want 0", st.Used)
	}
	if st.Total != st.Used+released {
		t.Fatalf("total(%d) != used(%d)+released(%d)", st.Total, st.Used, released)
	}

	// A second EmptyCache call has nothing left to release.
	if got := p.EmptyCache(); got != 0 {
		t.Fatalf("second EmptyCache released %d bytes, want 0", got)
	}
}

func TestPoolExhaustion(t *testing.T) {
	dev := value.Device{Type: value.CPU}
	p := NewPool(dev, 1024)
	if _, err := p.Allocate(dev, 4096, 0); err == nil {
		t.Fatal("expected allocation exceeding reserve to fail")
	}
}

func TestPluggableAllocator(t *testing.T) {
	dev := value.Device{Type: value.CPU}
	var allocated, freed int
	p := NewPoolWithAllocator(dev,
		func(d value.Device, size int) ([]byte, error) {
			allocated++
			return make([]byte, size), nil
		},
		func(d value.Device, mem []byte) {
			freed++
		},
	)
	b, err := p.Allocate(dev, 16, 0)
	if err != nil {
		t.Fatal(err)
	}
	p.Free(dev, b)
	if allocated != 1 || freed != 1 {
		t.Fatalf("allocated=%d freed=%d, want 1,1", allocated, freed)
	}
}

func TestManagerStreamsAndEvents(t *testing.T) {
	m := NewManager()
	dev := value.Device{Type: value.CPU}

	s1 := m.CreateStream(dev)
	if s1 == DefaultStream {
		t.Fatal("expected a non-default stream id")
	}

	ev := m.CreateRuntimeEvent(dev, true, true)
	if err := m.Submit(dev, s1); err != nil {
		t.Fatal(err)
	}
	if err := m.Record(dev, s1, ev); err != nil {
		t.Fatal(err)
	}
	if err := m.Fire(dev, ev); err != nil {
		t.Fatal(err)
	}
	m.Complete(dev, s1)

	fired, err := m.Query(dev, ev)
	if err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("expected event to have fired")
	}
	if err := m.Wait(dev, ev); err != nil {
		t.Fatal(err)
	}
	if !m.Idle(dev, s1) {
		t.Fatal("expected stream to be idle after Complete")
	}
	if err := m.SyncAllStreams(); err != nil {
		t.Fatal(err)
	}
}

func TestCrossStreamLifetime(t *testing.T) {
	m := NewManager()
	dev := value.Device{Type: value.CPU}
	user := m.CreateStream(dev)
	mem := m.CreateStream(dev)
	ev := m.CreateRuntimeEvent(dev, true, false)

	task := NewTaskID()
	m.RecordEvent(task, dev, user, []MemRef{{Stream: mem, Addr: 0x1000}}, ev)
	if err := m.Fire(dev, ev); err != nil {
		t.Fatal(err)
	}
	if err := m.WaitEvent(task, user, mem); err != nil {
		t.Fatal(err)
	}
	// second call is a no-op since the entry was dropped
	if err := m.WaitEvent(task, user, mem); err != nil {
		t.Fatal(err)
	}
}
