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

// Package graph is the incrementally-built tensor computation graph
// (spec.md §4.5), grounded on the teacher's prog/value SSA builder in
// vm/ssa.go: a flat slice of nodes, a common-subexpression dictionary
// keyed by a cheap structural hash, and Begin/Return bracketing one
// graph's construction.
package graph

import "github.com/dalang/da/op"
import "github.com/dalang/da/value"

// Kind distinguishes what a Node represents.
type Kind int

const (
	// KindParameter is an externally-bound input, added by AddParameter.
	KindParameter Kind = iota
	// KindValue wraps a constant value.Value, added by AddValueNode.
	KindValue
	// KindOp is a graph.Node computed by a kernel, added by AddOpNode.
	KindOp
)

// Node is one entry in a Graph. Its Op/NumInputs/Input/Output methods
// satisfy kernel.Node, so a *Node can be passed directly to a
// kernel.Kernel without graph importing kernel.
type Node struct {
	id     int
	kind   Kind
	name   string // parameter name; empty for KindValue/KindOp
	opcode op.Op
	val    value.Value // meaningful only for KindValue
	inputs []*Node
	output *value.Tensor

	users int // use-def count, maintained by passes.Index (see passes package)
}

// ID returns the node's position in its graph's build order.
func (n *Node) ID() int { return n.id }

// Kind reports what this node represents.
func (n *Node) Kind() Kind { return n.kind }

// Name returns the parameter name for a KindParameter node.
func (n *Node) Name() string { return n.name }

// Op returns the node's operator. Zero value (MakeTuple) for
// non-KindOp nodes; callers should check Kind first.
func (n *Node) Op() op.Op { return n.opcode }

// Value returns the constant this KindValue node wraps.
func (n *Node) Value() value.Value { return n.val }

// NumInputs returns the number of input edges.
func (n *Node) NumInputs() int { return len(n.inputs) }

// InputNode returns the i'th input node itself (use Input for its
// tensor, the kernel.Node surface).
func (n *Node) InputNode(i int) *Node { return n.inputs[i] }

// SetInput rewires n's i'th input edge to point at repl, used by
// passes.Manager.Replace when splicing a rewritten node into an
// existing consumer (spec.md §4.6: "splice new into every
// (consumer, idx) in old's user list").
func (n *Node) SetInput(i int, repl *Node) { n.inputs[i] = repl }

// Input returns the i'th input's output tensor.
func (n *Node) Input(i int) *value.Tensor { return n.inputs[i].output }

// Output returns (and, before shape inference runs, exposes for
// mutation) the node's output tensor.
func (n *Node) Output() *value.Tensor { return n.output }

// SetOutput replaces the node's output tensor, used when binding a
// parameter to externally-supplied storage.
func (n *Node) SetOutput(t *value.Tensor) { n.output = t }

// Users returns the node's current use-def count.
func (n *Node) Users() int { return n.users }

// ResetUsers zeroes the use-def count, called by passes.BuildIndex at
// the start of each fixpoint iteration before re-walking the graph.
func (n *Node) ResetUsers() { n.users = 0 }

// IncUsers increments the use-def count by one, called once per
// (consumer, input-index) edge passes.Index discovers pointing at n.
func (n *Node) IncUsers() { n.users++ }

// DecUsers decrements the use-def count by one, called by
// passes.Manager.Replace when one of n's consumers is itself removed
// or rewired away from n. Reaching zero marks n unused; the caller is
// responsible for enqueuing it onto the pass's unused list.
func (n *Node) DecUsers() { n.users-- }
