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

// Package compiler walks an ast.Module and emits bytecode.Code objects
// (spec.md §4.8). Grounded on original_source/dalang/dac/parser and
// dalang/parser/parser.cc for symbol-resolution order, and on the
// teacher's vm/ssa.go PushPath/PopPath code-object-stack discipline,
// generalized here to a stack of *bytecode.Code under construction.
package compiler

import (
	"fmt"

	"github.com/dalang/da/ast"
	"github.com/dalang/da/bytecode"
	"github.com/dalang/da/internal/errs"
	"github.com/dalang/da/op"
)

// Compiler holds the in-progress code-object stack and the flat list
// of every Code produced so far; codes[0] is always the module.
type Compiler struct {
	codes []*bytecode.Code
	stack []*bytecode.Code
}

// New constructs a Compiler with an empty module Code and the
// intrinsic-name prefix already registered in its symbol pool.
func New() *Compiler {
	module := bytecode.New(bytecode.Module, "<module>")
	for _, name := range bytecode.IntrinsicNames {
		module.AddSymbol(name)
	}
	c := &Compiler{codes: []*bytecode.Code{module}}
	c.stack = []*bytecode.Code{module}
	return c
}

// CompileModule compiles m in one shot and returns the resulting
// Program (codes[0] is the module, spec.md §4.8).
func CompileModule(m *ast.Module) (*bytecode.Program, error) {
	c := New()
	if err := c.compileStmts(m.Stmts); err != nil {
		return nil, err
	}
	c.terminate(c.module())
	return &bytecode.Program{Codes: c.codes}, nil
}

func (c *Compiler) module() *bytecode.Code { return c.codes[0] }

func (c *Compiler) current() *bytecode.Code { return c.stack[len(c.stack)-1] }

// pushCode registers code both in the flat codes list (its position
// there is the "code-idx" operand DefineFunc/DefineGraph/EnterBlock
// carry) and as the new top of the active compilation stack.
func (c *Compiler) pushCode(code *bytecode.Code) int {
	idx := len(c.codes)
	c.codes = append(c.codes, code)
	c.stack = append(c.stack, code)
	return idx
}

func (c *Compiler) popCode() {
	c.stack = c.stack[:len(c.stack)-1]
}

// terminate appends a tail ReturnVal(void) unless the code already
// ends in one, per CompileFunction's "emit a tail ReturnVal(void) if
// none was emitted" rule (spec.md §4.8), applied uniformly to every
// Code kind including the module itself.
func (c *Compiler) terminate(code *bytecode.Code) {
	if n := len(code.Instructions); n > 0 && code.Instructions[n-1].Op == bytecode.ReturnVal {
		return
	}
	code.Emit(bytecode.ReturnVal, bytecode.ReturnVoid, 0)
}

func (c *Compiler) compileStmts(stmts []ast.Stmt) error {
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileStmt(s ast.Stmt) error {
	switch n := s.(type) {
	case *ast.AssignStmt:
		return c.compileAssign(n)
	case *ast.ExprStmt:
		if err := c.compileExpr(n.X); err != nil {
			return err
		}
		c.current().Emit(bytecode.PopTop, 0, n.Line())
		return nil
	case *ast.IfStmt:
		return c.compileIf(n)
	case *ast.WhileStmt:
		return c.compileWhile(n)
	case *ast.ReturnStmt:
		return c.compileReturn(n)
	case *ast.BlockStmt:
		return c.compileBlock(n)
	case *ast.FuncDefStmt:
		return c.compileFuncDef(n)
	default:
		return fmt.Errorf("compiler:%d: unhandled statement kind %T", s.Line(), s)
	}
}

func (c *Compiler) compileAssign(n *ast.AssignStmt) error {
	if err := c.compileExpr(n.Value); err != nil {
		return err
	}
	code := c.current()
	if idx, ok := code.Symbol(n.Name); ok {
		if code.Kind == bytecode.Module {
			code.Emit(bytecode.StoreGlobal, idx, n.Line())
		} else {
			code.Emit(bytecode.StoreLocal, idx, n.Line())
		}
		return nil
	}
	if code.Kind != bytecode.Module {
		if idx, ok := c.module().Symbol(n.Name); ok {
			code.Emit(bytecode.StoreGlobal, idx, n.Line())
			return nil
		}
	}
	// First use inside a function/graph registers a local binding
	// (spec.md §4.8); at module scope, the local and global pools
	// coincide, so the new binding is a global one.
	idx := code.AddSymbol(n.Name)
	if code.Kind == bytecode.Module {
		code.Emit(bytecode.StoreGlobal, idx, n.Line())
	} else {
		code.Emit(bytecode.StoreLocal, idx, n.Line())
	}
	return nil
}

func (c *Compiler) compileIf(n *ast.IfStmt) error {
	if err := c.compileExpr(n.Cond); err != nil {
		return err
	}
	code := c.current()
	p1 := code.Emit(bytecode.JumpFalse, -1, n.Line())
	if err := c.compileStmts(n.Body); err != nil {
		return err
	}
	endsInReturn := endsInReturnVal(code)
	var p2 int
	if !endsInReturn {
		p2 = code.Emit(bytecode.Jump, -1, n.Line())
	}
	code.PatchArg(p1, code.NextOffset())
	if err := c.compileStmts(n.Else); err != nil {
		return err
	}
	if !endsInReturn {
		code.PatchArg(p2, code.NextOffset())
	}
	return nil
}

func endsInReturnVal(code *bytecode.Code) bool {
	n := len(code.Instructions)
	return n > 0 && code.Instructions[n-1].Op == bytecode.ReturnVal
}

func (c *Compiler) compileWhile(n *ast.WhileStmt) error {
	code := c.current()
	condPC := code.NextOffset()
	if err := c.compileExpr(n.Cond); err != nil {
		return err
	}
	p := code.Emit(bytecode.JumpFalse, -1, n.Line())
	if err := c.compileStmts(n.Body); err != nil {
		return err
	}
	code.Emit(bytecode.Jump, condPC, n.Line())
	code.PatchArg(p, code.NextOffset())
	return nil
}

func (c *Compiler) compileReturn(n *ast.ReturnStmt) error {
	code := c.current()
	if n.Value == nil {
		code.Emit(bytecode.ReturnVal, bytecode.ReturnVoid, n.Line())
		return nil
	}
	if err := c.compileExpr(n.Value); err != nil {
		return err
	}
	code.Emit(bytecode.ReturnVal, bytecode.ReturnValue, n.Line())
	return nil
}

func (c *Compiler) compileBlock(n *ast.BlockStmt) error {
	block := bytecode.New(bytecode.Block, "<block>")
	idx := c.pushCode(block)
	if err := c.compileStmts(n.Body); err != nil {
		return err
	}
	c.terminate(block)
	c.popCode()
	c.current().Emit(bytecode.EnterBlock, idx, n.Line())
	return nil
}

func (c *Compiler) compileFuncDef(n *ast.FuncDefStmt) error {
	kind := bytecode.Function
	if n.IsGraph {
		kind = bytecode.Graph
	}
	code := bytecode.New(kind, n.Name)
	for _, p := range n.Params {
		idx := code.AddSymbol(p.Name)
		code.ArgNames = append(code.ArgNames, p.Name)
		code.ArgIndexes = append(code.ArgIndexes, idx)
		def := bytecode.Const{Kind: bytecode.ConstNone}
		if p.Default != nil {
			k, err := literalConst(p.Default)
			if err != nil {
				return err
			}
			def = k
		}
		code.ArgDefaults = append(code.ArgDefaults, def)
	}

	codeIdx := c.pushCode(code)
	if err := c.compileStmts(n.Body); err != nil {
		return err
	}
	c.terminate(code)
	c.popCode()

	defOp := bytecode.DefineFunc
	if n.IsGraph {
		defOp = bytecode.DefineGraph
	}
	outer := c.current()
	outer.Emit(defOp, codeIdx, n.Line())
	nameIdx := c.module().AddSymbol(n.Name)
	outer.Emit(bytecode.StoreGlobal, nameIdx, n.Line())
	return nil
}

// literalConst folds a parameter default that is a bare literal into a
// bytecode.Const. Non-literal defaults (an expression referencing a
// name or a call) are not supported: the compiler has no constant
// folder beyond literals, and a default evaluated at call time would
// need its own code object, which this language does not specify.
func literalConst(e ast.Expr) (bytecode.Const, error) {
	switch v := e.(type) {
	case *ast.IntLit:
		return bytecode.Const{Kind: bytecode.ConstInt64, I64: v.Value}, nil
	case *ast.FloatLit:
		return bytecode.Const{Kind: bytecode.ConstDouble, F64: v.Value}, nil
	case *ast.BoolLit:
		return bytecode.Const{Kind: bytecode.ConstBool, B: v.Value}, nil
	case *ast.StringLit:
		return bytecode.Const{Kind: bytecode.ConstString, Str: v.Value}, nil
	default:
		return bytecode.Const{}, fmt.Errorf("compiler:%d: unsupported non-literal parameter default", e.Line())
	}
}

func (c *Compiler) compileExpr(e ast.Expr) error {
	code := c.current()
	switch n := e.(type) {
	case *ast.NameExpr:
		return c.compileName(n)
	case *ast.IntLit:
		idx := code.AddConstant(bytecode.Const{Kind: bytecode.ConstInt64, I64: n.Value})
		code.Emit(bytecode.LoadConst, idx, n.Line())
		return nil
	case *ast.FloatLit:
		idx := code.AddConstant(bytecode.Const{Kind: bytecode.ConstDouble, F64: n.Value})
		code.Emit(bytecode.LoadConst, idx, n.Line())
		return nil
	case *ast.BoolLit:
		idx := code.AddConstant(bytecode.Const{Kind: bytecode.ConstBool, B: n.Value})
		code.Emit(bytecode.LoadConst, idx, n.Line())
		return nil
	case *ast.StringLit:
		idx := code.AddConstant(bytecode.Const{Kind: bytecode.ConstString, Str: n.Value})
		code.Emit(bytecode.LoadConst, idx, n.Line())
		return nil
	case *ast.BinaryExpr:
		return c.compileBinary(n)
	case *ast.CompareExpr:
		return c.compileCompare(n)
	case *ast.CallExpr:
		return c.compileCall(n)
	case *ast.AttrExpr:
		return fmt.Errorf("compiler:%d: attribute reference %q is only meaningful as a call target (ops.%s(...))", n.Line(), n.Name, n.Name)
	default:
		return fmt.Errorf("compiler:%d: unhandled expression kind %T", e.Line(), e)
	}
}

func (c *Compiler) compileName(n *ast.NameExpr) error {
	code := c.current()
	if idx, ok := code.Symbol(n.Name); ok {
		if code.Kind == bytecode.Module {
			code.Emit(bytecode.LoadGlobal, idx, n.Line())
		} else {
			code.Emit(bytecode.LoadLocal, idx, n.Line())
		}
		return nil
	}
	if code.Kind != bytecode.Module {
		if idx, ok := c.module().Symbol(n.Name); ok {
			code.Emit(bytecode.LoadGlobal, idx, n.Line())
			return nil
		}
	}
	errs.Fatalf(fmt.Sprintf("line %d", n.Line()), "unknown symbol %q", n.Name)
	return nil
}

func (c *Compiler) compileBinary(n *ast.BinaryExpr) error {
	if err := c.compileExpr(n.X); err != nil {
		return err
	}
	if err := c.compileExpr(n.Y); err != nil {
		return err
	}
	code := c.current()
	var bop bytecode.Opcode
	switch n.Op {
	case ast.Add:
		bop = bytecode.BinaryAdd
	case ast.Sub:
		bop = bytecode.BinarySub
	case ast.Mul:
		bop = bytecode.BinaryMul
	case ast.Div:
		bop = bytecode.BinaryDiv
	default:
		return fmt.Errorf("compiler:%d: unknown binary operator %v", n.Line(), n.Op)
	}
	code.Emit(bop, 0, n.Line())
	return nil
}

func (c *Compiler) compileCompare(n *ast.CompareExpr) error {
	if err := c.compileExpr(n.X); err != nil {
		return err
	}
	if err := c.compileExpr(n.Y); err != nil {
		return err
	}
	var cmp bytecode.CmpOp
	switch n.Op {
	case ast.Eq:
		cmp = bytecode.CmpEq
	case ast.Ne:
		cmp = bytecode.CmpNe
	case ast.Lt:
		cmp = bytecode.CmpLt
	case ast.Le:
		cmp = bytecode.CmpLe
	case ast.Gt:
		cmp = bytecode.CmpGt
	case ast.Ge:
		cmp = bytecode.CmpGe
	default:
		return fmt.Errorf("compiler:%d: unknown compare operator %v", n.Line(), n.Op)
	}
	c.current().Emit(bytecode.Compare, int(cmp), n.Line())
	return nil
}

// compileCall implements CompileCall (spec.md §4.8): a bare-name
// callee matching a preset intrinsic name compiles to
// LoadIntrin/CallIntrin; an ops.NAME attribute callee compiles to
// LoadOps/CallOps; anything else compiles to LoadGlobal/DoCall.
func (c *Compiler) compileCall(n *ast.CallExpr) error {
	code := c.current()
	if name, ok := n.Callee.(*ast.NameExpr); ok {
		if idx, ok := bytecode.IntrinsicIndex(name.Name); ok {
			code.Emit(bytecode.LoadIntrin, idx, n.Line())
			if err := c.compileArgs(n.Args); err != nil {
				return err
			}
			code.Emit(bytecode.CallIntrin, len(n.Args), n.Line())
			return nil
		}
	}
	if attr, ok := n.Callee.(*ast.AttrExpr); ok {
		if recv, ok := attr.X.(*ast.NameExpr); ok && recv.Name == "ops" {
			o, ok := op.TryMatchOp(attr.Name)
			if !ok {
				return fmt.Errorf("compiler:%d: unknown op %q", n.Line(), attr.Name)
			}
			code.Emit(bytecode.LoadOps, int(o), n.Line())
			if err := c.compileArgs(n.Args); err != nil {
				return err
			}
			code.Emit(bytecode.CallOps, len(n.Args), n.Line())
			return nil
		}
	}
	if err := c.compileExpr(n.Callee); err != nil {
		return err
	}
	if err := c.compileArgs(n.Args); err != nil {
		return err
	}
	code.Emit(bytecode.DoCall, len(n.Args), n.Line())
	return nil
}

func (c *Compiler) compileArgs(args []ast.Expr) error {
	for _, a := range args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	return nil
}

