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
	"reflect"
	"testing"
)

type memBlock struct {
	mem []byte
}

func (b *memBlock) Bytes() []byte   { return b.mem }
func (b *memBlock) DataPtr() uintptr { return 0 }
func (b *memBlock) Size() int        { return len(b.mem) }

type fakePool struct {
	allocated int
	freed     int
}

func (p *fakePool) Allocate(dev Device, size int, streamID int) (Block, error) {
	p.allocated++
	return &memBlock{mem: make([]byte, size)}, nil
}

func (p *fakePool) Free(dev Device, b Block) {
	p.freed++
}

func TestStridesStatic(t *testing.T) {
	pool := &fakePool{}
	s, err := NewStorage(pool, Device{Type: CPU}, 2*3*4*8)
	if err != nil {
		t.Fatal(err)
	}
	tt := NewTensor(Float64, []int64{2, 3, 4}, s)
	want := []int64{12, 4, 1}
	if !reflect.DeepEqual(tt.Strides(), want) {
		t.Errorf("strides = %v, want %v", tt.Strides(), want)
	}
	if tt.Numel() != 24 {
		t.Errorf("numel = %d, want 24", tt.Numel())
	}
}

func TestStridesDynamic(t *testing.T) {
	pool := &fakePool{}
	s, _ := NewStorage(pool, Device{Type: CPU}, 8)
	tt := NewTensor(Int64, []int64{2, DynamicDim, 4}, s)
	want := []int64{-1, -1, 1}
	if !reflect.DeepEqual(tt.Strides(), want) {
		t.Errorf("strides = %v, want %v", tt.Strides(), want)
	}
	if !tt.HasDynamicShape() {
		t.Error("expected dynamic shape")
	}
	if tt.Numel() != -1 {
		t.Errorf("numel = %d, want -1", tt.Numel())
	}
}

func TestSizeBytesInvariant(t *testing.T) {
	pool := &fakePool{}
	s, err := NewStorage(pool, Device{Type: CPU}, 4*8)
	if err != nil {
		t.Fatal(err)
	}
	tt := NewTensor(Float64, []int64{4}, s)
	if err := tt.ResizeStorage(); err != nil {
		t.Fatal(err)
	}
	need := int(tt.Numel()) * tt.Dtype().Size()
	if s.SizeBytes() < need {
		t.Errorf("SizeBytes %d < numel*size %d", s.SizeBytes(), need)
	}

	tt.SetShape([]int64{8})
	if err := tt.ResizeStorage(); err != nil {
		t.Fatal(err)
	}
	need = int(tt.Numel()) * tt.Dtype().Size()
	if s.SizeBytes() < need {
		t.Errorf("after grow: SizeBytes %d < numel*size %d", s.SizeBytes(), need)
	}
}

func TestStorageRefcountFreesOnZero(t *testing.T) {
	pool := &fakePool{}
	s, _ := NewStorage(pool, Device{Type: CPU}, 16)
	s.Ref()
	if s.Refcount() != 2 {
		t.Fatalf("refcount = %d, want 2", s.Refcount())
	}
	s.Unref()
	if pool.freed != 0 {
		t.Fatalf("freed too early: %d", pool.freed)
	}
	s.Unref()
	if pool.freed != 1 {
		t.Fatalf("expected storage to be freed, freed=%d", pool.freed)
	}
}

func TestWrappedStorageNeverFreed(t *testing.T) {
	pool := &fakePool{}
	s := WrapStorage(Device{Type: CPU}, make([]byte, 8))
	s.Unref()
	if pool.freed != 0 {
		t.Fatal("wrapped storage must never be returned to a pool")
	}
}

func TestValueAccessorsPanicOnWrongVariant(t *testing.T) {
	v := FromInt64(42)
	defer func() {
		if recover() == nil {
			t.Fatal("expected ToDouble on an int64 Value to panic")
		}
	}()
	v.ToDouble()
}

func TestValueFormat(t *testing.T) {
	tup := FromTuple(Tuple{FromInt64(1), FromBool(true), FromString("x")})
	if got, want := tup.Format(), "(1, true, x)"; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}
