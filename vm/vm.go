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

// Package vm is the stack machine that interprets compiled bytecode
// and, while doing so, drives the tensor graph executor (spec.md §4.9,
// C9). Grounded on the teacher's vm/interp.go central-switch dispatch
// loop and vm/ssa.go's code-object-stack discipline, generalized from
// one VM-wide SSA builder to a per-graph executor the VM builds and
// runs on demand. The VM does no CPU feature probing of its own. Fatal
// conditions (stack underflow, unknown intrinsic, type error,
// divide-by-zero, call target not callable) use the shared
// internal/errs panic/recover
// boundary rather than threaded error returns, per spec.md §7.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dalang/da/bytecode"
	"github.com/dalang/da/device"
	"github.com/dalang/da/executor"
	"github.com/dalang/da/graph"
	"github.com/dalang/da/internal/errs"
	"github.com/dalang/da/internal/logflag"
	"github.com/dalang/da/kernel"
	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

// VM is the stack machine for one compiled Program. It owns the
// module-scope global slots and the set of per-graph executors built
// lazily as the program's Graph-kind codes are first called.
type VM struct {
	prog     *bytecode.Program
	filename string

	mgr *device.Manager
	reg *kernel.Registry
	dev value.Device

	stdin  *bufio.Reader
	stdout io.Writer

	globals []Slot

	// graphExecs caches one GraphExecutor per Graph-kind code index,
	// built on that code's first DoCall and reused (RunGraph may be
	// called many times) on every later call to the same code.
	graphExecs map[int]*executor.GraphExecutor
	// building is the executor whose graph is currently between
	// BeginGraph and EndGraph, or nil. Only one graph may build at a
	// time (spec.md §9's Open Question: "entering a second graph while
	// one is already building is disallowed").
	building *executor.GraphExecutor

	single     bool
	singleCode *bytecode.Code
}

// New constructs a VM over prog, targeting dev and binding kernels
// through reg; mgr supplies per-device memory pools and streams to any
// graph executor the VM builds.
func New(prog *bytecode.Program, mgr *device.Manager, reg *kernel.Registry, dev value.Device) *VM {
	return &VM{
		prog:       prog,
		mgr:        mgr,
		reg:        reg,
		dev:        dev,
		stdin:      bufio.NewReader(os.Stdin),
		stdout:     os.Stdout,
		globals:    make([]Slot, len(prog.Codes[0].Symbols)),
		graphExecs: make(map[int]*executor.GraphExecutor),
	}
}

// NewSingleFunction builds a VM pre-seeded with a single function (or
// graph) code, skipping the module-level frame (spec.md §4.9's
// "single-function mode"). Run then binds args directly into the
// code's locals instead of interpreting a module body.
func NewSingleFunction(code *bytecode.Code, mgr *device.Manager, reg *kernel.Registry, dev value.Device) *VM {
	v := New(&bytecode.Program{Codes: []*bytecode.Code{code}}, mgr, reg, dev)
	v.single = true
	v.singleCode = code
	v.globals = make([]Slot, len(code.Symbols))
	return v
}

// SetFilename records the source path used to prefix fatal-error
// locations; the VM only ever sees line numbers (Instruction.Lineno),
// so filename is purely presentational.
func (v *VM) SetFilename(name string) { v.filename = name }

// SetStdin overrides the reader StdCin reads a line from.
func (v *VM) SetStdin(r io.Reader) { v.stdin = bufio.NewReader(r) }

// SetStdout overrides the writer StdCout and the `print` intrinsic
// write to.
func (v *VM) SetStdout(w io.Writer) { v.stdout = w }

// Close stops every graph executor the VM has built. A VM must not be
// used again afterward.
func (v *VM) Close() {
	for _, e := range v.graphExecs {
		e.Close()
	}
	if v.building != nil {
		v.building.Close()
	}
}

func (v *VM) execFor(codeIdx int) *executor.GraphExecutor {
	if e, ok := v.graphExecs[codeIdx]; ok {
		return e
	}
	e := executor.New(v.mgr, v.reg, v.dev)
	v.graphExecs[codeIdx] = e
	return e
}

// Run interprets the program from its module entry point (or, in
// single-function mode, the pre-seeded code) and returns the final
// frame's result. Any fatal condition raised while running is
// recovered here and returned as a plain error, per internal/errs'
// documented boundary.
func (v *VM) Run(args []value.Value) (result value.Value, err error) {
	defer errs.Recover(&err)

	if v.single {
		f := newFrame(v.singleCode, 0)
		if len(args) > len(v.singleCode.ArgIndexes) {
			v.fatalf(0, "single-function mode: %d argument(s) supplied, code takes at most %d", len(args), len(v.singleCode.ArgIndexes))
		}
		for i, a := range args {
			f.vars[v.singleCode.ArgIndexes[i]] = valueSlot(a)
		}
		if v.singleCode.Kind == bytecode.Graph {
			e := v.execFor(0)
			v.building = e
			if err := e.BeginGraph(v.singleCode.Name); err != nil {
				v.fatalf(0, "%v", err)
			}
			for i, idx := range v.singleCode.ArgIndexes {
				n, err := e.AddParameter(v.singleCode.ArgNames[i])
				if err != nil {
					v.fatalf(0, "%v", err)
				}
				f.vars[idx] = nodeSlot(n)
			}
			v.runFrame(f)
			v.building = nil
			if err := e.OptGraph(); err != nil {
				v.fatalf(0, "%v", err)
			}
			if err := e.BuildKernels(); err != nil {
				v.fatalf(0, "%v", err)
			}
			tensorArgs := make([]value.Value, len(args))
			for i, a := range args {
				tensorArgs[i] = v.asTensorValue(a)
			}
			return e.RunGraph(tensorArgs)
		}
		s := v.runFrame(f)
		val, _ := s.asValue()
		return val, nil
	}

	f := newFrame(v.prog.Codes[0], 0)
	s := v.runFrame(f)
	val, _ := s.asValue()
	return val, nil
}

func (v *VM) fatalf(line int, format string, args ...any) {
	loc := v.filename
	if line > 0 {
		if loc != "" {
			loc = fmt.Sprintf("%s:%d", loc, line)
		} else {
			loc = fmt.Sprintf("line %d", line)
		}
	}
	errs.Fatalf(loc, format, args...)
}

func (v *VM) pop(f *frame, line int) Slot {
	s, ok := f.tryPop()
	if !ok {
		v.fatalf(line, "stack underflow")
	}
	return s
}

func (v *VM) popN(f *frame, n int, line int) []Slot {
	s, ok := f.tryPopN(n)
	if !ok {
		v.fatalf(line, "stack underflow: need %d operand(s)", n)
	}
	return s
}

// runFrame drives f's fetch-dispatch loop to completion, returning the
// slot ReturnVal produced (or a void slot if f's code never reaches a
// ReturnVal, which terminate() in the compiler rules out).
func (v *VM) runFrame(f *frame) Slot {
	for {
		if f.pc >= len(f.code.Instructions) {
			return voidSlot
		}
		instr := f.code.Instructions[f.pc]
		f.pc++
		logflag.Tracef(logflag.Bytecode, "%s %s", f.code.Name, instr)

		switch instr.Op {
		case bytecode.LoadConst:
			f.push(valueSlot(v.constValue(f.code.Constants[instr.Arg])))

		case bytecode.LoadName, bytecode.LoadLocal:
			f.push(f.vars[instr.Arg])

		case bytecode.StoreName, bytecode.StoreLocal:
			f.vars[instr.Arg] = v.pop(f, instr.Lineno)

		case bytecode.LoadGlobal:
			f.push(v.globals[instr.Arg])

		case bytecode.StoreGlobal:
			v.globals[instr.Arg] = v.pop(f, instr.Lineno)

		case bytecode.PopTop:
			v.pop(f, instr.Lineno)

		case bytecode.BinaryAdd, bytecode.BinarySub, bytecode.BinaryMul, bytecode.BinaryDiv:
			rhs := v.pop(f, instr.Lineno)
			lhs := v.pop(f, instr.Lineno)
			f.push(valueSlot(v.applyBinary(instr.Op, lhs, rhs, instr.Lineno)))

		case bytecode.Compare:
			rhs := v.pop(f, instr.Lineno)
			lhs := v.pop(f, instr.Lineno)
			f.push(valueSlot(value.FromBool(v.applyCompare(bytecode.CmpOp(instr.Arg), lhs, rhs, instr.Lineno))))

		case bytecode.Jump:
			f.pc = instr.Arg

		case bytecode.JumpTrue:
			b := v.popBool(f, instr.Lineno)
			if b {
				f.pc = instr.Arg
			}

		case bytecode.JumpFalse:
			b := v.popBool(f, instr.Lineno)
			if !b {
				f.pc = instr.Arg
			}

		case bytecode.DoCall:
			v.doCall(f, instr)

		case bytecode.ReturnVal:
			return v.doReturn(f, instr)

		case bytecode.DefineFunc, bytecode.DefineGraph:
			kind := bytecode.Function
			if instr.Op == bytecode.DefineGraph {
				kind = bytecode.Graph
			}
			f.push(callableSlot(instr.Arg, kind))

		case bytecode.EnterBlock:
			block := v.prog.Codes[instr.Arg]
			bf := newFrame(block, instr.Arg)
			v.runFrame(bf)

		case bytecode.LoadIntrin:
			f.push(intrinSlot(instr.Arg))

		case bytecode.CallIntrin:
			v.callIntrin(f, instr)

		case bytecode.LoadOps:
			f.push(opsSlot(op.Op(instr.Arg)))

		case bytecode.CallOps:
			v.callOps(f, instr)

		case bytecode.StdCin:
			line, _ := v.stdin.ReadString('\n')
			f.push(valueSlot(value.FromString(trimNewline(line))))

		case bytecode.StdCout:
			s := v.pop(f, instr.Lineno)
			fmt.Fprintln(v.stdout, formatSlot(s))

		default:
			v.fatalf(instr.Lineno, "unimplemented opcode %s", instr.Op)
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (v *VM) popBool(f *frame, line int) bool {
	s := v.pop(f, line)
	b, ok := s.asBool()
	if !ok {
		v.fatalf(line, "jump condition is not bool (got %s)", s.describe())
	}
	return b
}

func (v *VM) constValue(c bytecode.Const) value.Value {
	switch c.Kind {
	case bytecode.ConstInt64:
		return value.FromInt64(c.I64)
	case bytecode.ConstDouble:
		return value.FromDouble(c.F64)
	case bytecode.ConstBool:
		return value.FromBool(c.B)
	case bytecode.ConstString:
		return value.FromString(c.Str)
	default:
		return value.None()
	}
}

// applyBinary implements the arithmetic promotion rules in spec.md
// §4.9 ("int op int -> int (divide-by-zero fatal); float op float ->
// float; mixed int/float promotes int; string + anything -> string via
// the slot-to-string formatter; other combinations fail"), grounded on
// original_source/dalang/dac/vm/vm.h's BINARY_OP macro.
func (v *VM) applyBinary(op bytecode.Opcode, lhs, rhs Slot, line int) value.Value {
	lv, lok := lhs.asValue()
	rv, rok := rhs.asValue()
	if !lok || !rok {
		v.fatalf(line, "binary operator applied to a non-value operand (%s, %s)", lhs.describe(), rhs.describe())
	}

	if op == bytecode.BinaryAdd && (lv.IsString() || rv.IsString()) {
		return value.FromString(formatSlot(lhs) + formatSlot(rhs))
	}

	if lv.IsInt64() && rv.IsInt64() {
		a, b := lv.ToInt64(), rv.ToInt64()
		switch op {
		case bytecode.BinaryAdd:
			return value.FromInt64(a + b)
		case bytecode.BinarySub:
			return value.FromInt64(a - b)
		case bytecode.BinaryMul:
			return value.FromInt64(a * b)
		case bytecode.BinaryDiv:
			if b == 0 {
				v.fatalf(line, "integer divide by zero")
			}
			return value.FromInt64(a / b)
		}
	}

	if a, ok := asFloat(lv); ok {
		if b, ok := asFloat(rv); ok {
			switch op {
			case bytecode.BinaryAdd:
				return value.FromDouble(a + b)
			case bytecode.BinarySub:
				return value.FromDouble(a - b)
			case bytecode.BinaryMul:
				return value.FromDouble(a * b)
			case bytecode.BinaryDiv:
				if b == 0 {
					v.fatalf(line, "floating-point divide by zero")
				}
				return value.FromDouble(a / b)
			}
		}
	}

	v.fatalf(line, "unsupported operand types for %s: %s and %s", op, lv.Kind(), rv.Kind())
	panic("unreachable")
}

// asFloat reports whether v is a numeric scalar, returning its value
// promoted to float64.
func asFloat(v value.Value) (float64, bool) {
	switch {
	case v.IsDouble():
		return v.ToDouble(), true
	case v.IsInt64():
		return float64(v.ToInt64()), true
	default:
		return 0, false
	}
}

// applyCompare implements spec.md §4.9's "total orders on numeric
// types and lexicographic for strings; mixed-type numeric compare
// promotes int to double", grounded on vm.h's COMPARE_OP macro.
func (v *VM) applyCompare(cmp bytecode.CmpOp, lhs, rhs Slot, line int) bool {
	lv, lok := lhs.asValue()
	rv, rok := rhs.asValue()
	if !lok || !rok {
		v.fatalf(line, "compare applied to a non-value operand (%s, %s)", lhs.describe(), rhs.describe())
	}

	switch {
	case lv.IsString() && rv.IsString():
		return compareOrdered(cmp, stringCompare(lv.ToString(), rv.ToString()))
	case lv.IsBool() && rv.IsBool():
		switch cmp {
		case bytecode.CmpEq:
			return lv.ToBool() == rv.ToBool()
		case bytecode.CmpNe:
			return lv.ToBool() != rv.ToBool()
		default:
			v.fatalf(line, "bool values do not support ordered comparison")
		}
	case (lv.IsInt64() || lv.IsDouble()) && (rv.IsInt64() || rv.IsDouble()):
		a, _ := asFloat(lv)
		b, _ := asFloat(rv)
		return compareOrdered(cmp, floatCompare(a, b))
	}
	v.fatalf(line, "values of type %s and %s are not mutually comparable", lv.Kind(), rv.Kind())
	panic("unreachable")
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floatCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareOrdered(cmp bytecode.CmpOp, c int) bool {
	switch cmp {
	case bytecode.CmpEq:
		return c == 0
	case bytecode.CmpNe:
		return c != 0
	case bytecode.CmpLt:
		return c < 0
	case bytecode.CmpLe:
		return c <= 0
	case bytecode.CmpGt:
		return c > 0
	case bytecode.CmpGe:
		return c >= 0
	default:
		return false
	}
}

// callIntrin implements CallIntrin(argc): spec.md §4.9's "peeks the
// intrinsic slot at stack[-argc-1]; dispatches by intrinsic id;
// `tensor` returns a new value-node added to the current graph; `print`
// formats the top of stack to stdout; pops argc+1 and pushes the
// result."
func (v *VM) callIntrin(f *frame, instr bytecode.Instruction) {
	argc := instr.Arg
	args := v.popN(f, argc, instr.Lineno)
	slot := v.pop(f, instr.Lineno)
	if slot.kind != slotIntrinsic {
		v.fatalf(instr.Lineno, "CallIntrin target is not an intrinsic (got %s)", slot.describe())
	}

	switch bytecode.IntrinsicNames[slot.intrinsic] {
	case "tensor":
		if v.building == nil {
			v.fatalf(instr.Lineno, "tensor() called outside graph construction")
		}
		if len(args) != 1 {
			v.fatalf(instr.Lineno, "tensor() takes exactly one argument, got %d", len(args))
		}
		val, ok := args[0].asValue()
		if !ok {
			v.fatalf(instr.Lineno, "tensor() argument must be a value, got %s", args[0].describe())
		}
		n, err := v.building.AddValueNode(val)
		if err != nil {
			v.fatalf(instr.Lineno, "%v", err)
		}
		f.push(nodeSlot(n))
	case "print":
		var parts []string
		for _, a := range args {
			parts = append(parts, formatSlot(a))
		}
		out := ""
		for i, p := range parts {
			if i > 0 {
				out += " "
			}
			out += p
		}
		fmt.Fprintln(v.stdout, out)
		f.push(voidSlot)
	default:
		v.fatalf(instr.Lineno, "unknown intrinsic id %d", slot.intrinsic)
	}
}

// callOps implements CallOps(argc): peeks the op slot, pops the argc
// tensor/node arguments, calls graphExecutor.AddOpNode, pushes a Tensor
// slot referencing the new node (spec.md §4.9). A value-kind argument
// (a scalar literal used directly as an op operand) is lifted into the
// currently-building graph as a value-node first.
func (v *VM) callOps(f *frame, instr bytecode.Instruction) {
	if v.building == nil {
		v.fatalf(instr.Lineno, "ops.* called outside graph construction")
	}
	argc := instr.Arg
	args := v.popN(f, argc, instr.Lineno)
	slot := v.pop(f, instr.Lineno)
	if slot.kind != slotOps {
		v.fatalf(instr.Lineno, "CallOps target is not an op (got %s)", slot.describe())
	}

	inputs := make([]*graph.Node, argc)
	for i, a := range args {
		inputs[i] = v.nodeFromSlot(a, instr.Lineno)
	}
	n, err := v.building.AddOpNode(slot.opv, inputs)
	if err != nil {
		v.fatalf(instr.Lineno, "%v", err)
	}
	f.push(nodeSlot(n))
}

// nodeFromSlot resolves s to a *graph.Node in the currently-building
// graph, lifting a plain value slot into a value-node on demand.
func (v *VM) nodeFromSlot(s Slot, line int) *graph.Node {
	if s.kind == slotNodeRef {
		return s.node
	}
	val, ok := s.asValue()
	if !ok {
		v.fatalf(line, "expected a tensor or value operand, got %s", s.describe())
	}
	n, err := v.building.AddValueNode(val)
	if err != nil {
		v.fatalf(line, "%v", err)
	}
	return n
}

// asTensorValue promotes a scalar Value to a 0-dimensional Float64
// tensor so it can be bound as a graph parameter or fed through a
// kernel (kernel/cpu.go's libraries only implement Float32/Float64
// math). A tensor value passes through unchanged.
func (v *VM) asTensorValue(val value.Value) value.Value {
	if val.IsTensor() {
		return val
	}
	var f float64
	switch {
	case val.IsInt64():
		f = float64(val.ToInt64())
	case val.IsDouble():
		f = val.ToDouble()
	case val.IsBool():
		if val.ToBool() {
			f = 1
		}
	default:
		v.fatalf(0, "cannot use a %s value as a graph argument", val.Kind())
	}
	st, err := value.NewStorage(v.mgr, v.dev, value.Float64.Size())
	if err != nil {
		v.fatalf(0, "allocating scalar argument storage: %v", err)
	}
	t := value.NewTensor(value.Float64, nil, st)
	buf := t.Storage().Bytes()
	if buf != nil {
		writeFloat64(buf, f)
	}
	return value.FromTensor(t)
}

func writeFloat64(buf []byte, f float64) {
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
}

// doCall implements DoCall(argc) (spec.md §4.9). See the package doc
// comment and DESIGN.md's Open Question entry for the "run now"
// semantics this function resolves: a Graph-kind code is built (and
// eagerly run through the pipeline) in full the first time it is
// called; every subsequent call to the same code reuses its already-
// bound kernels and just runs the pipeline again with fresh arguments,
// either returning a plain Value (a true top-level call) or, when the
// call happens from inside another currently-building graph, wrapping
// the result back into that outer graph via AddValueNode.
func (v *VM) doCall(f *frame, instr bytecode.Instruction) {
	argc := instr.Arg
	args := v.popN(f, argc, instr.Lineno)
	calleeSlot := v.pop(f, instr.Lineno)
	if calleeSlot.kind != slotCallable {
		v.fatalf(instr.Lineno, "call target is not callable (got %s)", calleeSlot.describe())
	}
	code := v.prog.Codes[calleeSlot.codeIdx]
	if argc > len(code.ArgNames) {
		v.fatalf(instr.Lineno, "%s takes at most %d argument(s), got %d", code.Name, len(code.ArgNames), argc)
	}

	argVals := make([]value.Value, argc)
	for i, a := range args {
		val, ok := a.asValue()
		if !ok {
			v.fatalf(instr.Lineno, "call argument %d is not a value (got %s)", i, a.describe())
		}
		argVals[i] = val
	}

	if code.Kind == bytecode.Graph {
		if e, already := v.graphExecs[calleeSlot.codeIdx]; already {
			tensorArgs := make([]value.Value, argc)
			for i, val := range argVals {
				tensorArgs[i] = v.asTensorValue(val)
			}
			result, err := e.RunGraph(tensorArgs)
			if err != nil {
				v.fatalf(instr.Lineno, "%v", err)
			}
			if v.building != nil {
				n, err := v.building.AddValueNode(result)
				if err != nil {
					v.fatalf(instr.Lineno, "%v", err)
				}
				f.push(nodeSlot(n))
				return
			}
			f.push(valueSlot(result))
			return
		}
		if v.building != nil {
			v.fatalf(instr.Lineno, "%s: cannot begin building a graph while %q is already building", code.Name, v.building.CurrentGraph().Name())
		}
	}

	newFr := newFrame(code, calleeSlot.codeIdx)
	for i := 0; i < argc; i++ {
		newFr.vars[code.ArgIndexes[i]] = valueSlot(argVals[i])
	}
	// Arguments omitted by the caller take their compiled default.
	// Defaults never become graph parameters: they are compile-time
	// constants, not values supplied externally at run time.
	for i := argc; i < len(code.ArgNames); i++ {
		newFr.vars[code.ArgIndexes[i]] = valueSlot(v.constValue(code.ArgDefaults[i]))
	}

	var outerBuilding *executor.GraphExecutor
	if code.Kind == bytecode.Graph {
		e := v.execFor(calleeSlot.codeIdx)
		outerBuilding = v.building
		v.building = e
		if err := e.BeginGraph(code.Name); err != nil {
			v.fatalf(instr.Lineno, "%v", err)
		}
		for i := 0; i < argc; i++ {
			n, err := e.AddParameter(code.ArgNames[i])
			if err != nil {
				v.fatalf(instr.Lineno, "%v", err)
			}
			newFr.vars[code.ArgIndexes[i]] = nodeSlot(n)
		}
	}

	retSlot := v.runFrame(newFr)

	if code.Kind != bytecode.Graph {
		// Function-kind: runFrame recurses synchronously, so retSlot is
		// simply the value ReturnVal produced in the callee frame.
		f.push(retSlot)
		return
	}

	v.building = outerBuilding
	e := v.graphExecs[calleeSlot.codeIdx]
	if err := e.OptGraph(); err != nil {
		v.fatalf(instr.Lineno, "%v", err)
	}
	if err := e.BuildKernels(); err != nil {
		v.fatalf(instr.Lineno, "%v", err)
	}
	tensorArgs := make([]value.Value, argc)
	for i, val := range argVals {
		tensorArgs[i] = v.asTensorValue(val)
	}
	result, err := e.RunGraph(tensorArgs)
	if err != nil {
		v.fatalf(instr.Lineno, "%v", err)
	}
	if v.building != nil {
		n, err := v.building.AddValueNode(result)
		if err != nil {
			v.fatalf(instr.Lineno, "%v", err)
		}
		f.push(nodeSlot(n))
		return
	}
	f.push(valueSlot(result))
}

// doReturn implements ReturnVal(mode) (spec.md §4.9): pop a slot
// (mode=0) or use a void slot (mode!=0); if f's code is a Graph, wrap
// it as the graph's return node and finalize construction. The result
// is handed back to runFrame's caller (either Run, for the module/
// single-function frame, or doCall's recursive v.runFrame(newFr) call
// for a Function/Graph frame).
func (v *VM) doReturn(f *frame, instr bytecode.Instruction) Slot {
	var result Slot
	if instr.Arg == bytecode.ReturnValue {
		result = v.pop(f, instr.Lineno)
	} else {
		result = voidSlot
	}

	if f.code.Kind == bytecode.Graph && v.building != nil {
		n := v.nodeFromSlot(result, instr.Lineno)
		if err := v.building.AddReturn(n); err != nil {
			v.fatalf(instr.Lineno, "%v", err)
		}
		if err := v.building.EndGraph(); err != nil {
			v.fatalf(instr.Lineno, "%v", err)
		}
	}
	return result
}
