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

package frontend

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dalang/da/ast"
	"github.com/dalang/da/compiler"
	"github.com/dalang/da/device"
	"github.com/dalang/da/kernel"
	"github.com/dalang/da/value"
	"github.com/dalang/da/vm"
)

func TestLexTokenStream(t *testing.T) {
	toks := Lex("t.da", "x = 2 + 3")
	wantKinds := []TokenKind{TokIdent, TokAssign, TokInt, TokPlus, TokInt, TokEOF}
	if len(toks) != len(wantKinds) {
		t.Fatalf("Lex returned %d tokens, want %d: %v", len(toks), len(wantKinds), toks)
	}
	for i, k := range wantKinds {
		if toks[i].Kind != k {
			t.Fatalf("token %d = %v, want %v", i, toks[i].Kind, k)
		}
	}
}

func TestLexStringEscapesAndComment(t *testing.T) {
	toks := Lex("t.da", `print("a\nb") // trailing comment`)
	var strTok *Token
	for i := range toks {
		if toks[i].Kind == TokString {
			strTok = &toks[i]
		}
	}
	if strTok == nil {
		t.Fatalf("no string token found in %v", toks)
	}
	if strTok.Str != "a\nb" {
		t.Fatalf("string literal = %q, want %q", strTok.Str, "a\nb")
	}
}

func TestParseScalarArithmeticAndPrint(t *testing.T) {
	m := Parse("t.da", "x=2+3\nprint(x)\n")
	if len(m.Stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %#v", len(m.Stmts), m.Stmts)
	}
	assign, ok := m.Stmts[0].(*ast.AssignStmt)
	if !ok {
		t.Fatalf("Stmts[0] = %T, want *ast.AssignStmt", m.Stmts[0])
	}
	if assign.Name != "x" {
		t.Fatalf("assign target = %q, want x", assign.Name)
	}
	bin, ok := assign.Value.(*ast.BinaryExpr)
	if !ok || bin.Op != ast.Add {
		t.Fatalf("assign value = %#v, want Add binary expr", assign.Value)
	}
	exprStmt, ok := m.Stmts[1].(*ast.ExprStmt)
	if !ok {
		t.Fatalf("Stmts[1] = %T, want *ast.ExprStmt", m.Stmts[1])
	}
	call, ok := exprStmt.X.(*ast.CallExpr)
	if !ok {
		t.Fatalf("expr = %T, want *ast.CallExpr", exprStmt.X)
	}
	callee, ok := call.Callee.(*ast.NameExpr)
	if !ok || callee.Name != "print" {
		t.Fatalf("callee = %#v, want print", call.Callee)
	}
}

func TestParseIfElse(t *testing.T) {
	m := Parse("t.da", `if 1<2 { print("a") } else { print("b") }`)
	if len(m.Stmts) != 1 {
		t.Fatalf("got %d statements, want 1", len(m.Stmts))
	}
	ifStmt, ok := m.Stmts[0].(*ast.IfStmt)
	if !ok {
		t.Fatalf("Stmts[0] = %T, want *ast.IfStmt", m.Stmts[0])
	}
	if len(ifStmt.Body) != 1 || len(ifStmt.Else) != 1 {
		t.Fatalf("if body/else = %d/%d statements, want 1/1", len(ifStmt.Body), len(ifStmt.Else))
	}
}

func TestParseGraphDefAndCall(t *testing.T) {
	m := Parse("t.da", `graph g(x, y) { return ops.add(x, y) }
g(3, 4)`)
	if len(m.Stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(m.Stmts))
	}
	def, ok := m.Stmts[0].(*ast.FuncDefStmt)
	if !ok || !def.IsGraph || def.Name != "g" || len(def.Params) != 2 {
		t.Fatalf("graph def = %#v", def)
	}
	ret, ok := def.Body[0].(*ast.ReturnStmt)
	if !ok {
		t.Fatalf("graph body[0] = %T, want *ast.ReturnStmt", def.Body[0])
	}
	call, ok := ret.Value.(*ast.CallExpr)
	if !ok {
		t.Fatalf("return value = %T, want *ast.CallExpr", ret.Value)
	}
	attr, ok := call.Callee.(*ast.AttrExpr)
	if !ok || attr.Name != "add" {
		t.Fatalf("callee = %#v, want ops.add", call.Callee)
	}
	recv, ok := attr.X.(*ast.NameExpr)
	if !ok || recv.Name != "ops" {
		t.Fatalf("attribute receiver = %#v, want ops", attr.X)
	}
}

// End-to-end: source text all the way through to VM output, exercising
// Parse -> CompileModule -> vm.Run in one pass (spec.md §8 scenario 1).
func TestParseCompileRunScalarArithmetic(t *testing.T) {
	m := Parse("t.da", "x = 2 + 3\nprint(x)\n")
	prog, err := compiler.CompileModule(m)
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	mgr := device.NewManager()
	reg := kernel.NewRegistry(nil)
	reg.Register(kernel.NewCPULibrary())
	v := vm.New(prog, mgr, reg, value.Device{Type: value.CPU})
	defer v.Close()
	var out bytes.Buffer
	v.SetStdout(&out)
	if _, err := v.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "5" {
		t.Fatalf("output = %q, want %q", got, "5")
	}
}

func TestDumpASTAndTokensDoNotPanic(t *testing.T) {
	toks := Lex("t.da", "x = 1")
	var buf bytes.Buffer
	DumpTokens(&buf, toks)
	if buf.Len() == 0 {
		t.Fatalf("DumpTokens produced no output")
	}

	m := Parse("t.da", "x = 1\nif x < 2 { print(x) }")
	buf.Reset()
	DumpAST(&buf, m)
	if !strings.Contains(buf.String(), "If") {
		t.Fatalf("DumpAST output missing If node: %s", buf.String())
	}
}
