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

import "fmt"

// Opcode is a named VM instruction (spec.md §4.7: "Opcodes are named,
// not numbered, in the spec"). Grouped the way vm/bytecode.go groups
// its opcode constants: stack, arithmetic, control flow, call/return,
// definition, tensor bridge, I/O.
type Opcode int

const (
	// stack
	LoadConst Opcode = iota
	LoadName
	StoreName
	LoadLocal
	StoreLocal
	LoadGlobal
	StoreGlobal
	PopTop

	// arithmetic
	BinaryAdd
	BinarySub
	BinaryMul
	BinaryDiv
	Compare

	// control flow
	Jump
	JumpTrue
	JumpFalse

	// call/return
	DoCall
	ReturnVal

	// definition
	DefineFunc
	DefineGraph
	EnterBlock

	// tensor bridge
	LoadIntrin
	CallIntrin
	LoadOps
	CallOps

	// I/O
	StdCin
	StdCout

	numOpcodes
)

var opcodeNames = [...]string{
	LoadConst:   "LoadConst",
	LoadName:    "LoadName",
	StoreName:   "StoreName",
	LoadLocal:   "LoadLocal",
	StoreLocal:  "StoreLocal",
	LoadGlobal:  "LoadGlobal",
	StoreGlobal: "StoreGlobal",
	PopTop:      "PopTop",
	BinaryAdd:   "BinaryAdd",
	BinarySub:   "BinarySub",
	BinaryMul:   "BinaryMul",
	BinaryDiv:   "BinaryDiv",
	Compare:     "Compare",
	Jump:        "Jump",
	JumpTrue:    "JumpTrue",
	JumpFalse:   "JumpFalse",
	DoCall:      "DoCall",
	ReturnVal:   "ReturnVal",
	DefineFunc:  "DefineFunc",
	DefineGraph: "DefineGraph",
	EnterBlock:  "EnterBlock",
	LoadIntrin:  "LoadIntrin",
	CallIntrin:  "CallIntrin",
	LoadOps:     "LoadOps",
	CallOps:     "CallOps",
	StdCin:      "StdCin",
	StdCout:     "StdCout",
}

func (o Opcode) String() string {
	if o < 0 || int(o) >= len(opcodeNames) {
		return fmt.Sprintf("Opcode(%d)", int(o))
	}
	return opcodeNames[o]
}

// CmpOp is the comparator selector carried by a Compare instruction's
// Arg field.
type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// ReturnMode is the Arg of a ReturnVal instruction: 0 means "pop and
// return top of stack", nonzero means "return void" (spec.md §4.7).
const (
	ReturnValue = 0
	ReturnVoid  = 1
)

// Instruction is one compiled (opcode, operand, source-position) triple
// (spec.md §4.7: "(opcode, offset, lineno)"; Offset here is the
// instruction's own pc, used as a jump target by callers patching
// forward references, not a field of the instruction's encoding).
type Instruction struct {
	Op     Opcode
	Arg    int
	Offset int
	Lineno int
}

func (i Instruction) String() string {
	return fmt.Sprintf("%4d %-12s %d", i.Offset, i.Op, i.Arg)
}
