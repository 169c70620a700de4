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

package vm

import (
	"fmt"

	"github.com/dalang/da/bytecode"
	"github.com/dalang/da/graph"
	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

// slotKind tags the active field of a Slot, the Go counterpart of
// original_source/dalang/dac/vm/vm.h's SlotType: an operand-stack (or
// local-variable) cell is not always a plain value. While a graph is
// building, a "tensor" slot holds a non-owning *graph.Node instead of
// a computed value.Value (spec.md §3's "Lifetime & ownership").
type slotKind int

const (
	slotVoid slotKind = iota
	slotValue
	slotNodeRef
	slotCallable
	slotIntrinsic
	slotOps
)

// Slot is one cell of a Frame's operand stack or local-variable array.
type Slot struct {
	kind      slotKind
	val       value.Value
	node      *graph.Node
	codeIdx   int
	codeKind  bytecode.Kind
	intrinsic int
	opv       op.Op
}

var voidSlot = Slot{kind: slotVoid}

func valueSlot(v value.Value) Slot   { return Slot{kind: slotValue, val: v} }
func nodeSlot(n *graph.Node) Slot    { return Slot{kind: slotNodeRef, node: n} }
func intrinSlot(id int) Slot         { return Slot{kind: slotIntrinsic, intrinsic: id} }
func opsSlot(o op.Op) Slot           { return Slot{kind: slotOps, opv: o} }
func callableSlot(idx int, k bytecode.Kind) Slot {
	return Slot{kind: slotCallable, codeIdx: idx, codeKind: k}
}

// asValue returns the concrete value.Value this slot wraps, if it is
// not a bare graph-node reference.
func (s Slot) asValue() (value.Value, bool) {
	if s.kind == slotValue {
		return s.val, true
	}
	return value.Value{}, false
}

func (s Slot) asBool() (bool, bool) {
	v, ok := s.asValue()
	if !ok || !v.IsBool() {
		return false, false
	}
	return v.ToBool(), true
}

// describe names a slot's kind for error messages, mirroring
// vm.h's GetSlotTypeStr.
func (s Slot) describe() string {
	switch s.kind {
	case slotVoid:
		return "void"
	case slotValue:
		return s.val.Kind().String()
	case slotNodeRef:
		return "tensor"
	case slotCallable:
		if s.codeKind == bytecode.Graph {
			return "graph"
		}
		return "function"
	case slotIntrinsic:
		return "intrinsic"
	case slotOps:
		return "ops"
	default:
		return "<invalid>"
	}
}

// formatSlot renders s the way the `print` intrinsic and StdCout
// format an operand, mirroring vm.h's GetSlotStr: scalars/tensors in
// their natural form, callables/ops/intrinsics by a short descriptor.
func formatSlot(s Slot) string {
	switch s.kind {
	case slotVoid:
		return "void"
	case slotValue:
		return s.val.Format()
	case slotNodeRef:
		return fmt.Sprintf("tensor:%p", s.node)
	case slotCallable:
		return fmt.Sprintf("%s:%d", s.describe(), s.codeIdx)
	case slotIntrinsic:
		return fmt.Sprintf("intrinsic:%d", s.intrinsic)
	case slotOps:
		return "ops:" + op.ToStr(s.opv)
	default:
		return "<invalid>"
	}
}
