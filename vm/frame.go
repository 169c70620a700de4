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

import "github.com/dalang/da/bytecode"

// frame is one call's operand stack, local-variable array, and program
// counter (spec.md §4.9: "A frame stack; each frame owns an operand
// stack and local-variable array"). codeIdx is frame.code's position
// in the program, recorded so the graph-building bookkeeping in vm.go
// can key its per-graph executor cache by code identity.
type frame struct {
	code    *bytecode.Code
	codeIdx int
	pc      int
	stack   []Slot
	vars    []Slot
}

func newFrame(code *bytecode.Code, codeIdx int) *frame {
	return &frame{
		code:    code,
		codeIdx: codeIdx,
		vars:    make([]Slot, len(code.Symbols)),
	}
}

func (f *frame) push(s Slot) { f.stack = append(f.stack, s) }

// tryPop pops the top slot, reporting false on an empty stack instead
// of panicking; callers that want the fatal-on-underflow behavior
// spec.md §4.9 requires go through vm.pop instead.
func (f *frame) tryPop() (Slot, bool) {
	n := len(f.stack)
	if n == 0 {
		return Slot{}, false
	}
	s := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return s, true
}

// tryPopN pops n slots in call/argument order (stack[-n] first),
// reporting false without mutating the stack if fewer than n are
// available.
func (f *frame) tryPopN(n int) ([]Slot, bool) {
	if len(f.stack) < n {
		return nil, false
	}
	out := make([]Slot, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, true
}

func (f *frame) peek(fromTop int) (Slot, bool) {
	idx := len(f.stack) - 1 - fromTop
	if idx < 0 {
		return Slot{}, false
	}
	return f.stack[idx], true
}
