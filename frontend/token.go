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

// Package frontend is a minimal lexer/parser for the "da" source
// language, producing the ast.Module the compiler consumes. spec.md
// §1/§6 declare the lexer and parser external collaborators out of
// scope for the VM/graph/device core; this package exists only so
// cmd/da has something to hand FILE.da to. It is grounded on the
// token/keyword/separator split in original_source/lexer/token.h and
// the recursive-descent shape of original_source/dalang/parser/parser.cc,
// trimmed to the statement and expression forms spec.md §4.7/§4.8
// actually describe the compiler emitting bytecode for.
package frontend

import "fmt"

// TokenKind is the closed set of lexical token kinds.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokInt
	TokFloat
	TokString

	TokFunc
	TokGraph
	TokIf
	TokElse
	TokWhile
	TokReturn
	TokTrue
	TokFalse

	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokComma
	TokDot
	TokAssign

	TokEq
	TokNe
	TokLt
	TokLe
	TokGt
	TokGe

	TokPlus
	TokMinus
	TokStar
	TokSlash
)

var tokenNames = map[TokenKind]string{
	TokEOF:    "EOF",
	TokIdent:  "identifier",
	TokInt:    "int",
	TokFloat:  "float",
	TokString: "string",
	TokFunc:   "func",
	TokGraph:  "graph",
	TokIf:     "if",
	TokElse:   "else",
	TokWhile:  "while",
	TokReturn: "return",
	TokTrue:   "true",
	TokFalse:  "false",
	TokLParen: "(",
	TokRParen: ")",
	TokLBrace: "{",
	TokRBrace: "}",
	TokComma:  ",",
	TokDot:    ".",
	TokAssign: "=",
	TokEq:     "==",
	TokNe:     "!=",
	TokLt:     "<",
	TokLe:     "<=",
	TokGt:     ">",
	TokGe:     ">=",
	TokPlus:   "+",
	TokMinus:  "-",
	TokStar:   "*",
	TokSlash:  "/",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

var keywords = map[string]TokenKind{
	"func":   TokFunc,
	"graph":  TokGraph,
	"if":     TokIf,
	"else":   TokElse,
	"while":  TokWhile,
	"return": TokReturn,
	"true":   TokTrue,
	"false":  TokFalse,
}

// Token is one lexed unit: a kind plus its decoded literal payload (for
// TokIdent/TokString) and source line.
type Token struct {
	Kind TokenKind
	Str  string
	I64  int64
	F64  float64
	Line int
}

func (t Token) String() string {
	switch t.Kind {
	case TokIdent:
		return fmt.Sprintf("%-10s %q", t.Kind, t.Str)
	case TokString:
		return fmt.Sprintf("%-10s %q", t.Kind, t.Str)
	case TokInt:
		return fmt.Sprintf("%-10s %d", t.Kind, t.I64)
	case TokFloat:
		return fmt.Sprintf("%-10s %g", t.Kind, t.F64)
	default:
		return t.Kind.String()
	}
}
