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
	"strconv"

	"github.com/dalang/da/ast"
	"github.com/dalang/da/internal/errs"
)

// Parse lexes and parses src into an *ast.Module, the interface
// compiler.CompileModule consumes. filename is used only to prefix
// fatal parse-error locations (spec.md §7).
func Parse(filename, src string) *ast.Module {
	p := &parser{filename: filename, toks: Lex(filename, src)}
	var stmts []ast.Stmt
	for p.cur().Kind != TokEOF {
		stmts = append(stmts, p.parseStmt())
	}
	return &ast.Module{Stmts: stmts}
}

type parser struct {
	filename string
	toks     []Token
	pos      int
}

func (p *parser) cur() Token  { return p.toks[p.pos] }
func (p *parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) loc() string {
	return p.filename + ":" + strconv.Itoa(p.cur().Line)
}

func (p *parser) expect(kind TokenKind) Token {
	if p.cur().Kind != kind {
		errs.Fatalf(p.loc(), "expected %v, got %v", kind, p.cur().Kind)
	}
	return p.advance()
}

// --- statements ---

func (p *parser) parseStmt() ast.Stmt {
	switch p.cur().Kind {
	case TokReturn:
		return p.parseReturn()
	case TokIf:
		return p.parseIf()
	case TokWhile:
		return p.parseWhile()
	case TokFunc, TokGraph:
		return p.parseFuncDef()
	case TokLBrace:
		return p.parseBlock()
	default:
		return p.parseAssignOrExpr()
	}
}

func (p *parser) parseStmtsUntilRBrace() []ast.Stmt {
	p.expect(TokLBrace)
	var stmts []ast.Stmt
	for p.cur().Kind != TokRBrace {
		if p.cur().Kind == TokEOF {
			errs.Fatalf(p.loc(), "unterminated block, expected '}'")
		}
		stmts = append(stmts, p.parseStmt())
	}
	p.expect(TokRBrace)
	return stmts
}

func (p *parser) parseBlock() ast.Stmt {
	line := p.cur().Line
	body := p.parseStmtsUntilRBrace()
	return &ast.BlockStmt{Pos: ast.Pos{LineNo: line}, Body: body}
}

func (p *parser) parseReturn() ast.Stmt {
	tok := p.expect(TokReturn)
	if stmtEnd(p.cur().Kind) {
		return &ast.ReturnStmt{Pos: ast.Pos{LineNo: tok.Line}}
	}
	v := p.parseExpr()
	return &ast.ReturnStmt{Pos: ast.Pos{LineNo: tok.Line}, Value: v}
}

// stmtEnd reports whether kind can only begin a new statement (or end
// the enclosing block), meaning a bare `return` has no value here.
func stmtEnd(kind TokenKind) bool {
	switch kind {
	case TokRBrace, TokEOF:
		return true
	default:
		return false
	}
}

func (p *parser) parseIf() ast.Stmt {
	tok := p.expect(TokIf)
	cond := p.parseExpr()
	body := p.parseStmtsUntilRBrace()
	var elseBody []ast.Stmt
	if p.cur().Kind == TokElse {
		p.advance()
		if p.cur().Kind == TokIf {
			elseBody = []ast.Stmt{p.parseIf()}
		} else {
			elseBody = p.parseStmtsUntilRBrace()
		}
	}
	return &ast.IfStmt{Pos: ast.Pos{LineNo: tok.Line}, Cond: cond, Body: body, Else: elseBody}
}

func (p *parser) parseWhile() ast.Stmt {
	tok := p.expect(TokWhile)
	cond := p.parseExpr()
	body := p.parseStmtsUntilRBrace()
	return &ast.WhileStmt{Pos: ast.Pos{LineNo: tok.Line}, Cond: cond, Body: body}
}

func (p *parser) parseFuncDef() ast.Stmt {
	isGraph := p.cur().Kind == TokGraph
	tok := p.advance() // func | graph
	name := p.expect(TokIdent)
	p.expect(TokLParen)
	var params []ast.Param
	for p.cur().Kind != TokRParen {
		pname := p.expect(TokIdent)
		param := ast.Param{Name: pname.Str}
		if p.cur().Kind == TokAssign {
			p.advance()
			param.Default = p.parseUnary()
		}
		params = append(params, param)
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	p.expect(TokRParen)
	body := p.parseStmtsUntilRBrace()
	return &ast.FuncDefStmt{
		Pos:     ast.Pos{LineNo: tok.Line},
		Name:    name.Str,
		Params:  params,
		Body:    body,
		IsGraph: isGraph,
	}
}

func (p *parser) parseAssignOrExpr() ast.Stmt {
	line := p.cur().Line
	x := p.parseExpr()
	if p.cur().Kind == TokAssign {
		name, ok := x.(*ast.NameExpr)
		if !ok {
			errs.Fatalf(p.loc(), "left side of '=' must be a name")
		}
		p.advance()
		v := p.parseExpr()
		return &ast.AssignStmt{Pos: ast.Pos{LineNo: line}, Name: name.Name, Value: v}
	}
	return &ast.ExprStmt{Pos: ast.Pos{LineNo: line}, X: x}
}

// --- expressions ---
//
// Precedence climbs Comparison -> Additive -> Multiplicative -> Unary
// -> call/attribute -> Primary, the same chain as
// original_source/dalang/parser/parser.cc's ParseLogical/ParseComparison/
// ParseAdditive/ParseMultiplicative/ParseUnary/ParseAttribute/ParseCall,
// trimmed of the logical-and/or tier the spec's expression grammar
// (§4.7's Compare/BinaryAdd family) has no instruction for.

func (p *parser) parseExpr() ast.Expr { return p.parseComparison() }

func (p *parser) parseComparison() ast.Expr {
	left := p.parseAdditive()
	for {
		var op ast.CompareOp
		switch p.cur().Kind {
		case TokEq:
			op = ast.Eq
		case TokNe:
			op = ast.Ne
		case TokLt:
			op = ast.Lt
		case TokLe:
			op = ast.Le
		case TokGt:
			op = ast.Gt
		case TokGe:
			op = ast.Ge
		default:
			return left
		}
		tok := p.advance()
		right := p.parseAdditive()
		left = &ast.CompareExpr{Pos: ast.Pos{LineNo: tok.Line}, Op: op, X: left, Y: right}
	}
}

func (p *parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for {
		var op ast.BinaryOp
		switch p.cur().Kind {
		case TokPlus:
			op = ast.Add
		case TokMinus:
			op = ast.Sub
		default:
			return left
		}
		tok := p.advance()
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{Pos: ast.Pos{LineNo: tok.Line}, Op: op, X: left, Y: right}
	}
}

func (p *parser) parseMultiplicative() ast.Expr {
	left := p.parseUnary()
	for {
		var op ast.BinaryOp
		switch p.cur().Kind {
		case TokStar:
			op = ast.Mul
		case TokSlash:
			op = ast.Div
		default:
			return left
		}
		tok := p.advance()
		right := p.parseUnary()
		left = &ast.BinaryExpr{Pos: ast.Pos{LineNo: tok.Line}, Op: op, X: left, Y: right}
	}
}

func (p *parser) parseUnary() ast.Expr {
	return p.parseCallAttr()
}

func (p *parser) parseCallAttr() ast.Expr {
	x := p.parsePrimary()
	for {
		switch p.cur().Kind {
		case TokDot:
			tok := p.advance()
			name := p.expect(TokIdent)
			x = &ast.AttrExpr{Pos: ast.Pos{LineNo: tok.Line}, X: x, Name: name.Str}
		case TokLParen:
			tok := p.advance()
			var args []ast.Expr
			for p.cur().Kind != TokRParen {
				args = append(args, p.parseExpr())
				if p.cur().Kind == TokComma {
					p.advance()
					continue
				}
				break
			}
			p.expect(TokRParen)
			x = &ast.CallExpr{Pos: ast.Pos{LineNo: tok.Line}, Callee: x, Args: args}
		default:
			return x
		}
	}
}

func (p *parser) parsePrimary() ast.Expr {
	tok := p.cur()
	switch tok.Kind {
	case TokIdent:
		p.advance()
		return &ast.NameExpr{Pos: ast.Pos{LineNo: tok.Line}, Name: tok.Str}
	case TokInt:
		p.advance()
		return &ast.IntLit{Pos: ast.Pos{LineNo: tok.Line}, Value: tok.I64}
	case TokFloat:
		p.advance()
		return &ast.FloatLit{Pos: ast.Pos{LineNo: tok.Line}, Value: tok.F64}
	case TokString:
		p.advance()
		return &ast.StringLit{Pos: ast.Pos{LineNo: tok.Line}, Value: tok.Str}
	case TokTrue:
		p.advance()
		return &ast.BoolLit{Pos: ast.Pos{LineNo: tok.Line}, Value: true}
	case TokFalse:
		p.advance()
		return &ast.BoolLit{Pos: ast.Pos{LineNo: tok.Line}, Value: false}
	case TokLParen:
		p.advance()
		x := p.parseExpr()
		p.expect(TokRParen)
		return x
	}
	errs.Fatalf(p.loc(), "unexpected token %v in expression", tok.Kind)
	panic("unreachable")
}
