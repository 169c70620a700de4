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

package bytecode

import (
	"bytes"
	"testing"
)

func TestAddSymbolFirstUseWins(t *testing.T) {
	c := New(Function, "f")
	a := c.AddSymbol("x")
	b := c.AddSymbol("x")
	if a != b {
		t.Fatalf("AddSymbol(x) returned %d then %d, want same index", a, b)
	}
	if len(c.Symbols) != 1 {
		t.Fatalf("Symbols = %v, want 1 entry", c.Symbols)
	}
}

func TestSymbolLookupMiss(t *testing.T) {
	c := New(Function, "f")
	c.AddSymbol("x")
	if _, ok := c.Symbol("y"); ok {
		t.Fatal("Symbol(y) reported found for an unregistered name")
	}
	if idx, ok := c.Symbol("x"); !ok || idx != 0 {
		t.Fatalf("Symbol(x) = (%d, %v), want (0, true)", idx, ok)
	}
}

func TestConstantsNotDeduplicated(t *testing.T) {
	c := New(Function, "f")
	i1 := c.AddConstant(Const{Kind: ConstInt64, I64: 1})
	i2 := c.AddConstant(Const{Kind: ConstInt64, I64: 1})
	if i1 == i2 {
		t.Fatal("AddConstant deduplicated two identical constants")
	}
	if len(c.Constants) != 2 {
		t.Fatalf("Constants = %v, want 2 entries", c.Constants)
	}
}

func TestEmitAndPatchArg(t *testing.T) {
	c := New(Function, "f")
	c.Emit(LoadLocal, 0, 1)
	jmp := c.Emit(JumpFalse, -1, 1)
	c.Emit(LoadConst, 0, 2)
	target := c.NextOffset()
	c.PatchArg(jmp, target)

	if c.Instructions[jmp].Arg != target {
		t.Fatalf("JumpFalse arg = %d, want %d", c.Instructions[jmp].Arg, target)
	}
	if c.Instructions[jmp].Offset != jmp {
		t.Fatalf("JumpFalse offset = %d, want %d", c.Instructions[jmp].Offset, jmp)
	}
}

func TestOpcodeStringKnownAndUnknown(t *testing.T) {
	if got := DoCall.String(); got != "DoCall" {
		t.Fatalf("DoCall.String() = %q, want DoCall", got)
	}
	if got := Opcode(-1).String(); got == "DoCall" {
		t.Fatalf("out-of-range Opcode rendered as a real opcode: %q", got)
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	c := New(Module, "main")
	c.AddSymbol("x")
	c.AddConstant(Const{Kind: ConstInt64, I64: 42})
	c.Emit(LoadConst, 0, 1)
	c.Emit(StoreGlobal, 0, 1)
	c.Emit(ReturnVal, ReturnVoid, 1)
	p := &Program{Codes: []*Code{c}}

	var buf bytes.Buffer
	if err := Dump(&buf, p); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Codes) != 1 {
		t.Fatalf("Load returned %d codes, want 1", len(got.Codes))
	}
	gc := got.Codes[0]
	if gc.Name != "main" || gc.Kind != Module {
		t.Fatalf("round-tripped code = %+v, want Name=main Kind=Module", gc)
	}
	if len(gc.Instructions) != 3 || gc.Instructions[0].Op != LoadConst {
		t.Fatalf("round-tripped instructions = %+v", gc.Instructions)
	}
	if len(gc.Constants) != 1 || gc.Constants[0].I64 != 42 {
		t.Fatalf("round-tripped constants = %+v", gc.Constants)
	}
}
