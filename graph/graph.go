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

package graph

import (
	"fmt"

	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

// noCSE is the set of ops CSE dedup never applies to: they carry
// side-effect semantics (state update, load-from-state) rather than
// pure data computation, so two textually-identical call sites must
// still produce distinct nodes.
var noCSE = map[op.Op]bool{
	op.UpdateState: true,
	op.Load:        true,
}

// Graph is a tensor computation graph under incremental construction
// (spec.md §4.5). BeginGraph/AddParameter/AddValueNode/AddOpNode/
// AddReturn/EndGraph is the required call sequence.
type Graph struct {
	name   string
	nodes  []*Node
	params []*Node
	ret    *Node
	exprs  map[hashcode]*Node
}

// BeginGraph starts a new graph named name.
func BeginGraph(name string) *Graph {
	return &Graph{name: name, exprs: make(map[hashcode]*Node)}
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Nodes returns every node in build (and therefore topological) order.
// The returned slice must not be mutated.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Params returns the graph's parameters in insertion order, the order
// external binding at run time uses.
func (g *Graph) Params() []*Node { return g.params }

// Return returns the graph's single return node, or nil before
// AddReturn/EndGraph.
func (g *Graph) Return() *Node { return g.ret }

func (g *Graph) append(n *Node) *Node {
	n.id = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return n
}

// AddParameter appends a parameter node named name. Parameters appear
// in insertion order and drive external binding at run time.
func (g *Graph) AddParameter(name string) *Node {
	n := g.append(&Node{kind: KindParameter, name: name})
	g.params = append(g.params, n)
	return n
}

// AddValueNode appends a node wrapping a constant value.
func (g *Graph) AddValueNode(v value.Value) *Node {
	n := &Node{kind: KindValue, val: v}
	if v.IsTensor() {
		n.output = v.ToTensor()
	}
	return g.append(n)
}

// AddOpNode appends a node computing o over inputs, each of which must
// already be appended to g. Before allocating a new node, it consults
// the CSE dictionary: a prior op node with the same opcode and input
// identities is returned unchanged instead of appending a duplicate.
func (g *Graph) AddOpNode(o op.Op, inputs []*Node) (*Node, error) {
	for i, in := range inputs {
		if in == nil || in.id < 0 || in.id >= len(g.nodes) || g.nodes[in.id] != in {
			return nil, fmt.Errorf("graph: AddOpNode(%s): input %d is not a node of this graph", op.ToStr(o), i)
		}
	}
	if !noCSE[o] {
		hc := opHashcode(o, inputs)
		if existing, ok := g.exprs[hc]; ok {
			return existing, nil
		}
		n := g.newOpNode(o, inputs)
		g.exprs[hc] = n
		return n, nil
	}
	return g.newOpNode(o, inputs), nil
}

func (g *Graph) newOpNode(o op.Op, inputs []*Node) *Node {
	n := &Node{
		kind:   KindOp,
		opcode: o,
		inputs: append([]*Node(nil), inputs...),
		output: value.NewTensor(value.Float32, []int64{value.DynamicDim}, nil),
	}
	return g.append(n)
}

// AddReturn synthesizes a return node wrapping top, the node the VM's
// Tensor slot at the top of its operand stack referenced at the point
// ReturnVal triggered graph finalization.
func (g *Graph) AddReturn(top *Node) (*Node, error) {
	if top == nil {
		return nil, fmt.Errorf("graph: AddReturn with no operand to wrap")
	}
	n, err := g.AddOpNode(op.Return, []*Node{top})
	if err != nil {
		return nil, err
	}
	g.ret = n
	return n, nil
}

// SetNodes physically replaces g's node list, renumbering each node's
// ID to its new position. Used by passes.Manager.Flush to remove nodes
// whose use-def count reached zero (spec.md §4.6: "flush the unused
// list at pass end; they are physically removed from the graph").
func (g *Graph) SetNodes(nodes []*Node) {
	for i, n := range nodes {
		n.id = i
	}
	g.nodes = nodes
}

// SetReturn updates the graph's return node, used when a rewrite pass
// replaces the node AddReturn originally produced.
func (g *Graph) SetReturn(n *Node) { g.ret = n }

// EndGraph finalizes construction, checking the invariants spec.md
// §4.5 requires: exactly one return node terminating the graph, and
// the node list forms a DAG. Construction via AddOpNode already
// guarantees every input points to an already-appended node, so the
// only remaining check is that AddReturn ran and produced the last node.
func (g *Graph) EndGraph() error {
	if g.ret == nil {
		return fmt.Errorf("graph: EndGraph called before AddReturn")
	}
	if g.nodes[len(g.nodes)-1] != g.ret {
		return fmt.Errorf("graph: return node is not the last node in the graph")
	}
	return nil
}

// CheckAcyclic verifies that every node's inputs appear earlier in g's
// node order (spec.md §8: "For every Node n ... every n.inputs[i]
// appears earlier in the ordering"). passes.Manager.Run calls this once
// an iteration makes no change, since a rewrite pass that spliced a
// node out of order
// would otherwise only surface as a panic deep inside the pipeline.
func (g *Graph) CheckAcyclic() error {
	pos := make(map[*Node]int, len(g.nodes))
	for i, n := range g.nodes {
		pos[n] = i
	}
	for i, n := range g.nodes {
		for j := 0; j < n.NumInputs(); j++ {
			in := n.InputNode(j)
			ip, ok := pos[in]
			if !ok {
				return fmt.Errorf("graph: node %d (%s) has input not present in graph", i, op.ToStr(n.Op()))
			}
			if ip >= i {
				return fmt.Errorf("graph: node %d (%s) has input %d appearing at or after its own position", i, op.ToStr(n.Op()), ip)
			}
		}
	}
	return nil
}
