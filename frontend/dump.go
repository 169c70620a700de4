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
	"fmt"
	"io"
	"strings"

	"github.com/dalang/da/ast"
)

// DumpTokens writes one line per token, backing the CLI's -l flag.
func DumpTokens(w io.Writer, toks []Token) {
	for _, t := range toks {
		fmt.Fprintf(w, "%4d  %s\n", t.Line, t)
	}
}

// DumpAST writes an indented tree of m, the same indent-by-step-count
// shape as original_source/dalang/parser/parser.cc's DumpAst, backing
// the CLI's -p flag.
func DumpAST(w io.Writer, m *ast.Module) {
	fmt.Fprintln(w, "*Module {")
	for _, s := range m.Stmts {
		dumpStmt(w, s, 1)
	}
	fmt.Fprintln(w, "}")
}

func indent(w io.Writer, depth int, format string, args ...any) {
	fmt.Fprint(w, strings.Repeat("    ", depth)+"|-")
	fmt.Fprintf(w, format, args...)
	fmt.Fprintln(w)
}

func dumpStmt(w io.Writer, s ast.Stmt, depth int) {
	switch n := s.(type) {
	case *ast.AssignStmt:
		indent(w, depth, "Assign %s", n.Name)
		dumpExpr(w, n.Value, depth+1)
	case *ast.ExprStmt:
		indent(w, depth, "ExprStmt")
		dumpExpr(w, n.X, depth+1)
	case *ast.IfStmt:
		indent(w, depth, "If")
		dumpExpr(w, n.Cond, depth+1)
		for _, b := range n.Body {
			dumpStmt(w, b, depth+1)
		}
		if len(n.Else) > 0 {
			indent(w, depth, "Else")
			for _, b := range n.Else {
				dumpStmt(w, b, depth+1)
			}
		}
	case *ast.WhileStmt:
		indent(w, depth, "While")
		dumpExpr(w, n.Cond, depth+1)
		for _, b := range n.Body {
			dumpStmt(w, b, depth+1)
		}
	case *ast.ReturnStmt:
		indent(w, depth, "Return")
		if n.Value != nil {
			dumpExpr(w, n.Value, depth+1)
		}
	case *ast.BlockStmt:
		indent(w, depth, "Block")
		for _, b := range n.Body {
			dumpStmt(w, b, depth+1)
		}
	case *ast.FuncDefStmt:
		kind := "Func"
		if n.IsGraph {
			kind = "Graph"
		}
		indent(w, depth, "%s %s(%s)", kind, n.Name, paramList(n.Params))
		for _, b := range n.Body {
			dumpStmt(w, b, depth+1)
		}
	default:
		indent(w, depth, "<unknown stmt %T>", s)
	}
}

func paramList(params []ast.Param) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

func dumpExpr(w io.Writer, e ast.Expr, depth int) {
	switch n := e.(type) {
	case *ast.NameExpr:
		indent(w, depth, "Name %s", n.Name)
	case *ast.IntLit:
		indent(w, depth, "Int %d", n.Value)
	case *ast.FloatLit:
		indent(w, depth, "Float %g", n.Value)
	case *ast.BoolLit:
		indent(w, depth, "Bool %v", n.Value)
	case *ast.StringLit:
		indent(w, depth, "String %q", n.Value)
	case *ast.BinaryExpr:
		indent(w, depth, "Binary %v", n.Op)
		dumpExpr(w, n.X, depth+1)
		dumpExpr(w, n.Y, depth+1)
	case *ast.CompareExpr:
		indent(w, depth, "Compare %v", n.Op)
		dumpExpr(w, n.X, depth+1)
		dumpExpr(w, n.Y, depth+1)
	case *ast.CallExpr:
		indent(w, depth, "Call")
		dumpExpr(w, n.Callee, depth+1)
		for _, a := range n.Args {
			dumpExpr(w, a, depth+1)
		}
	case *ast.AttrExpr:
		indent(w, depth, "Attr .%s", n.Name)
		dumpExpr(w, n.X, depth+1)
	default:
		indent(w, depth, "<unknown expr %T>", e)
	}
}
