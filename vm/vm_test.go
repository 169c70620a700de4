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
	"bytes"
	"strings"
	"testing"

	"github.com/dalang/da/ast"
	"github.com/dalang/da/bytecode"
	"github.com/dalang/da/compiler"
	"github.com/dalang/da/device"
	"github.com/dalang/da/internal/errs"
	"github.com/dalang/da/kernel"
	"github.com/dalang/da/value"
)

func newTestVM(t *testing.T, m *ast.Module) (*VM, *bytes.Buffer) {
	t.Helper()
	prog, err := compiler.CompileModule(m)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	mgr := device.NewManager()
	reg := kernel.NewRegistry(nil)
	reg.Register(kernel.NewCPULibrary())
	dev := value.Device{Type: value.CPU}
	v := New(prog, mgr, reg, dev)
	var out bytes.Buffer
	v.SetStdout(&out)
	return v, &out
}

// x = 2 + 3; print(x)  (spec.md §8, example 1)
func TestScalarArithmeticAndPrint(t *testing.T) {
	m := &ast.Module{Stmts: []ast.Stmt{
		&ast.AssignStmt{Name: "x", Value: &ast.BinaryExpr{
			Op: ast.Add,
			X:  &ast.IntLit{Value: 2},
			Y:  &ast.IntLit{Value: 3},
		}},
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: &ast.NameExpr{Name: "print"},
			Args:   []ast.Expr{&ast.NameExpr{Name: "x"}},
		}},
	}}
	v, out := newTestVM(t, m)
	defer v.Close()
	if _, err := v.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "5" {
		t.Fatalf("print output = %q, want %q", got, "5")
	}
}

// if/else control flow: picks the true branch and skips the false one.
func TestIfElseControlFlow(t *testing.T) {
	m := &ast.Module{Stmts: []ast.Stmt{
		&ast.AssignStmt{Name: "x", Value: &ast.IntLit{Value: 0}},
		&ast.IfStmt{
			Cond: &ast.CompareExpr{Op: ast.Lt, X: &ast.IntLit{Value: 1}, Y: &ast.IntLit{Value: 2}},
			Body: []ast.Stmt{
				&ast.AssignStmt{Name: "x", Value: &ast.IntLit{Value: 11}},
			},
			Else: []ast.Stmt{
				&ast.AssignStmt{Name: "x", Value: &ast.IntLit{Value: 22}},
			},
		},
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: &ast.NameExpr{Name: "print"},
			Args:   []ast.Expr{&ast.NameExpr{Name: "x"}},
		}},
	}}
	v, out := newTestVM(t, m)
	defer v.Close()
	if _, err := v.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "11" {
		t.Fatalf("print output = %q, want %q (true branch should run)", got, "11")
	}
}

// while loop: counts from 0 to 3 and prints the final value.
func TestWhileLoop(t *testing.T) {
	m := &ast.Module{Stmts: []ast.Stmt{
		&ast.AssignStmt{Name: "i", Value: &ast.IntLit{Value: 0}},
		&ast.WhileStmt{
			Cond: &ast.CompareExpr{Op: ast.Lt, X: &ast.NameExpr{Name: "i"}, Y: &ast.IntLit{Value: 3}},
			Body: []ast.Stmt{
				&ast.AssignStmt{Name: "i", Value: &ast.BinaryExpr{Op: ast.Add, X: &ast.NameExpr{Name: "i"}, Y: &ast.IntLit{Value: 1}}},
			},
		},
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: &ast.NameExpr{Name: "print"},
			Args:   []ast.Expr{&ast.NameExpr{Name: "i"}},
		}},
	}}
	v, out := newTestVM(t, m)
	defer v.Close()
	if _, err := v.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "3" {
		t.Fatalf("print output = %q, want %q", got, "3")
	}
}

// graph g(x,y){ return ops.add(x,y) }; g(3,4) (spec.md §8, example 3):
// the call builds a graph with two parameter nodes and one add node,
// binds a kernel, runs it, and stores a host-readable tensor in r.
func TestGraphCallBuildsAndRunsAddGraph(t *testing.T) {
	g := &ast.FuncDefStmt{
		Name:    "g",
		IsGraph: true,
		Params:  []ast.Param{{Name: "x"}, {Name: "y"}},
		Body: []ast.Stmt{
			&ast.ReturnStmt{Value: &ast.CallExpr{
				Callee: &ast.AttrExpr{X: &ast.NameExpr{Name: "ops"}, Name: "add"},
				Args:   []ast.Expr{&ast.NameExpr{Name: "x"}, &ast.NameExpr{Name: "y"}},
			}},
		},
	}
	call := &ast.AssignStmt{Name: "r", Value: &ast.CallExpr{
		Callee: &ast.NameExpr{Name: "g"},
		Args:   []ast.Expr{&ast.IntLit{Value: 3}, &ast.IntLit{Value: 4}},
	}}
	m := &ast.Module{Stmts: []ast.Stmt{g, call}}

	v, _ := newTestVM(t, m)
	defer v.Close()
	if _, err := v.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	e, ok := v.graphExecs[1]
	if !ok {
		t.Fatal("graph g was never built")
	}
	gr := e.CurrentGraph()
	if len(gr.Params()) != 2 {
		t.Fatalf("graph has %d parameter(s), want 2", len(gr.Params()))
	}
	idx, ok := v.prog.Codes[0].Symbol("r")
	if !ok {
		t.Fatal("module symbol pool has no entry for r")
	}
	result := v.globals[idx]
	rv, ok := result.asValue()
	if !ok || !rv.IsTensor() {
		t.Fatalf("r = %+v, want a tensor value", result)
	}
	got := rv.ToTensor().Storage().Bytes()
	if got == nil {
		t.Fatal("result tensor has no host-addressable storage")
	}
}

// DoCall argc > paramcount is fatal (spec.md §9's edge-case list).
func TestDoCallArgcOverflowIsFatal(t *testing.T) {
	fn := &ast.FuncDefStmt{
		Name:   "f",
		Params: []ast.Param{{Name: "a"}},
		Body:   []ast.Stmt{&ast.ReturnStmt{Value: &ast.NameExpr{Name: "a"}}},
	}
	call := &ast.ExprStmt{X: &ast.CallExpr{
		Callee: &ast.NameExpr{Name: "f"},
		Args:   []ast.Expr{&ast.IntLit{Value: 1}, &ast.IntLit{Value: 2}},
	}}
	m := &ast.Module{Stmts: []ast.Stmt{fn, call}}
	v, _ := newTestVM(t, m)
	defer v.Close()
	if _, err := v.Run(nil); err == nil {
		t.Fatal("Run did not report a fatal error for argc > paramcount")
	}
}

// An empty graph (only a return of its own parameter) runs and
// returns its sole input unchanged (spec.md §9).
func TestEmptyGraphReturnsInputUnchanged(t *testing.T) {
	g := &ast.FuncDefStmt{
		Name:    "identity",
		IsGraph: true,
		Params:  []ast.Param{{Name: "x"}},
		Body:    []ast.Stmt{&ast.ReturnStmt{Value: &ast.NameExpr{Name: "x"}}},
	}
	call := &ast.AssignStmt{Name: "r", Value: &ast.CallExpr{
		Callee: &ast.NameExpr{Name: "identity"},
		Args:   []ast.Expr{&ast.IntLit{Value: 9}},
	}}
	m := &ast.Module{Stmts: []ast.Stmt{g, call}}
	v, _ := newTestVM(t, m)
	defer v.Close()
	if _, err := v.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	idx, ok := v.prog.Codes[0].Symbol("r")
	if !ok {
		t.Fatal("module symbol pool has no entry for r")
	}
	rv, ok := v.globals[idx].asValue()
	if !ok || !rv.IsTensor() {
		t.Fatalf("r = %+v, want a tensor value", v.globals[idx])
	}
	want := make([]byte, 8)
	writeFloat64(want, 9)
	if got := rv.ToTensor().Storage().Bytes(); len(got) < 8 || !bytes.Equal(got[:8], want) {
		t.Fatalf("r's storage = %v, want the float64 encoding of 9", got)
	}
}

// Calling an unbound name raises a *errs.FatalError, which errs.Recover
// turns into an error, rather than some other panic.
func TestUnknownCalleeIsFatalNotPanic(t *testing.T) {
	m := &ast.Module{Stmts: []ast.Stmt{
		&ast.ExprStmt{X: &ast.CallExpr{Callee: &ast.NameExpr{Name: "nope"}}},
	}}
	var err error
	func() {
		defer errs.Recover(&err)
		_, err = compiler.CompileModule(m)
	}()
	if err == nil {
		t.Fatal("compiler should reject a reference to an unbound name")
	}
}

// Stack underflow (e.g. a hand-built PopTop on an empty frame) is
// reported as a fatal error, not a Go panic escaping Run.
func TestStackUnderflowIsFatal(t *testing.T) {
	mgr := device.NewManager()
	reg := kernel.NewRegistry(nil)
	reg.Register(kernel.NewCPULibrary())
	dev := value.Device{Type: value.CPU}

	v := New(bytecodeModuleWithBarePopTop(), mgr, reg, dev)
	defer v.Close()
	if _, err := v.Run(nil); err == nil {
		t.Fatal("Run did not report a fatal error for stack underflow")
	}
}

// bytecodeModuleWithBarePopTop hand-builds a one-instruction module
// whose only instruction pops an empty operand stack, exercising the
// VM's underflow check without going through the compiler.
func bytecodeModuleWithBarePopTop() *bytecode.Program {
	mod := bytecode.New(bytecode.Module, "<module>")
	mod.Emit(bytecode.PopTop, 0, 1)
	mod.Emit(bytecode.ReturnVal, bytecode.ReturnVoid, 1)
	return &bytecode.Program{Codes: []*bytecode.Code{mod}}
}
