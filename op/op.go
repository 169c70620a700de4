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

// Package op declares the closed set of tensor-graph operator kinds
// and a reversible name<->tag mapping for them.
package op

// Op identifies a kind of graph node. The set of Ops is closed: new
// kernels are registered against an existing Op, never a new one
// discovered at runtime.
type Op int

// OP is the x-macro-style list of every op in the registry. Adding a
// new op means adding one line here and one entry to the info table
// in info.go.
const (
	MakeTuple Op = iota
	TupleGetItem
	Return
	Depend
	UpdateState
	Load
	Add
	Sub
	Mul
	Div
	MatMul
	Neg
	Relu
	Sigmoid
	Tanh
	Reshape
	Transpose
	Cast
	Broadcast
	ReduceSum
	ReduceMean
	Concat
	Unique
	End // sentinel: always last, used to size tables
)

var opNames = [...]string{
	MakeTuple:    "make_tuple",
	TupleGetItem: "tuple_getitem",
	Return:       "return",
	Depend:       "depend",
	UpdateState:  "update_state",
	Load:         "load",
	Add:          "add",
	Sub:          "sub",
	Mul:          "mul",
	Div:          "div",
	MatMul:       "matmul",
	Neg:          "neg",
	Relu:         "relu",
	Sigmoid:      "sigmoid",
	Tanh:         "tanh",
	Reshape:      "reshape",
	Transpose:    "transpose",
	Cast:         "cast",
	Broadcast:    "broadcast",
	ReduceSum:    "reduce_sum",
	ReduceMean:   "reduce_mean",
	Concat:       "concat",
	Unique:       "unique",
	End:          "End",
}

var opByName map[string]Op

func init() {
	opByName = make(map[string]Op, len(opNames))
	for op, name := range opNames {
		opByName[name] = Op(op)
	}
}

// ToStr returns the canonical name of op. ToStr is total: every valid
// Op has a name.
func ToStr(o Op) string {
	if int(o) < 0 || int(o) >= len(opNames) {
		panic("op: ToStr called with out-of-range Op")
	}
	return opNames[o]
}

// MatchOp resolves a textual op name to its Op value. An unknown name
// panics: a caller that has no sensible way to recover from
// referencing an op that does not exist uses MatchOp; the compiler,
// resolving an `ops.NAME` callee, uses TryMatchOp and reports an error.
func MatchOp(name string) Op {
	o, ok := opByName[name]
	if !ok {
		panic("op: unknown op name " + name)
	}
	return o
}

// TryMatchOp is the non-fatal counterpart of MatchOp, used by code
// that wants to decide for itself whether an unknown name is an error.
func TryMatchOp(name string) (Op, bool) {
	o, ok := opByName[name]
	return o, ok
}
