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

// Package passes is the graph rewrite pass manager (spec.md §4.6),
// grounded on vm/simplify.go's reverse-postorder rewrite/simplify
// fixpoint loop: a list of registered passes runs over the graph's
// nodes until no pass matches anything, or a safety iteration limit is
// hit. passes imports graph, op, and passes/pattern (never kernel,
// device, or value beyond what graph already re-exports), per the
// module's import direction table.
package passes

import (
	"fmt"

	"github.com/dalang/da/graph"
)

// Pass is one rewrite rule: Match decides whether n should be
// rewritten, Replacement produces the node that should take its place
// (spec.md §4.6: "each pass is an object with Match(node) -> bool and
// Replacement() -> Node*"). Replacement is only called when Match
// returned true for the same node.
type Pass interface {
	Match(n *graph.Node) bool
	Replacement(n *graph.Node) *graph.Node
}

// maxIterations bounds the fixpoint loop; a pass set that never
// converges within this many sweeps is a bug in the pass set, not a
// larger graph than expected.
const maxIterations = 64

// use records one (consumer, input-index) edge pointing at a node.
type use struct {
	consumer *graph.Node
	index    int
}

// Index is the use-def index spec.md §4.6 describes: "a map node ->
// ordered list<(consumer, input-index)>", rebuilt once per fixpoint
// iteration rather than maintained incrementally, since a full rebuild
// over a graph in this system's size range is cheap and avoids the
// bookkeeping of keeping an incremental index consistent across
// arbitrary Replace calls.
type Index struct {
	users map[*graph.Node][]use
}

// BuildIndex walks g's current node list and records, for every node,
// the list of (consumer, input-index) pairs referencing it. It also
// resets and recomputes each node's intrusive use-def counter
// (graph.Node.Users) so external callers have a consistent count to
// inspect after a pass run.
func BuildIndex(g *graph.Graph) *Index {
	idx := &Index{users: make(map[*graph.Node][]use, len(g.Nodes()))}
	for _, n := range g.Nodes() {
		n.ResetUsers()
	}
	for _, n := range g.Nodes() {
		for i := 0; i < n.NumInputs(); i++ {
			in := n.InputNode(i)
			idx.users[in] = append(idx.users[in], use{consumer: n, index: i})
			in.IncUsers()
		}
	}
	return idx
}

// Users returns the number of recorded (consumer, input-index) edges
// pointing at n.
func (idx *Index) Users(n *graph.Node) int { return len(idx.users[n]) }

// Manager runs a fixed list of passes to a fixpoint (spec.md §4.6).
type Manager struct {
	passes []Pass
}

// NewManager constructs a Manager running exactly the given passes, in
// order, on every iteration.
func NewManager(passes ...Pass) *Manager {
	return &Manager{passes: passes}
}

// Add appends a pass to the manager's pass list.
func (m *Manager) Add(p Pass) { m.passes = append(m.passes, p) }

// Run drives the fixpoint loop over g: each iteration rebuilds the
// use-def index, walks every live node, and applies the first
// matching pass's Replacement by splicing it into every consumer
// edge. A node whose use-def count drops to zero (and is not the
// graph's return node) is queued for physical removal at the end of
// the iteration (spec.md §4.6: "flush the unused list at pass end").
// Run stops when an iteration makes no changes, then validates the
// result is still an acyclic DAG (spec.md §4.6's "detection is via a
// topological check at Flush").
func (m *Manager) Run(g *graph.Graph) error {
	for iter := 0; iter < maxIterations; iter++ {
		idx := BuildIndex(g)
		changed := false
		unused := map[*graph.Node]bool{}

		for _, n := range g.Nodes() {
			if unused[n] {
				continue
			}
			for _, p := range m.passes {
				if !p.Match(n) {
					continue
				}
				repl := p.Replacement(n)
				if repl == nil || repl == n {
					continue
				}
				m.replace(g, idx, n, repl, unused)
				changed = true
				break
			}
		}

		if len(unused) > 0 {
			if err := m.flush(g, unused); err != nil {
				return err
			}
		}
		if !changed {
			return g.CheckAcyclic()
		}
	}
	return fmt.Errorf("passes: fixpoint not reached after %d iterations", maxIterations)
}

// replace splices repl into every edge that currently points at old,
// per spec.md §4.6: "splice new into every (consumer, idx) in old's
// user list; transfer the user list; decrement all of old's inputs'
// user lists; enqueue nodes whose user list becomes empty onto the
// unused list."
func (m *Manager) replace(g *graph.Graph, idx *Index, old, repl *graph.Node, unused map[*graph.Node]bool) {
	if g.Return() == old {
		g.SetReturn(repl)
	}
	for _, u := range idx.users[old] {
		u.consumer.SetInput(u.index, repl)
		old.DecUsers()
		repl.IncUsers()
	}
	delete(idx.users, old)

	if old.Users() <= 0 && g.Return() != old {
		unused[old] = true
		for i := 0; i < old.NumInputs(); i++ {
			in := old.InputNode(i)
			in.DecUsers()
			if in.Users() <= 0 && g.Return() != in {
				unused[in] = true
			}
		}
	}
}

// flush physically removes every node in unused from g's node list. A
// node spliced in by Replace was appended to g's node list at its own
// construction time, which may be arbitrarily far from the position
// of the old node it replaces; rather than maintain the literal
// auxiliary doubly-linked list spec.md §4.6 describes for tracking
// each node's logical position, flush recomputes a topological order
// for the survivors directly from their actual input edges. This is
// the iteration's topological check and its reordering in one pass:
// a genuine cycle introduced by a bad pass surfaces here as an error
// instead of silently producing an invalid order that CheckAcyclic
// would merely detect after the fact.
func (m *Manager) flush(g *graph.Graph, unused map[*graph.Node]bool) error {
	kept := make([]*graph.Node, 0, len(g.Nodes()))
	for _, n := range g.Nodes() {
		if !unused[n] {
			kept = append(kept, n)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[*graph.Node]int, len(kept))
	order := make([]*graph.Node, 0, len(kept))

	var visit func(n *graph.Node) error
	visit = func(n *graph.Node) error {
		switch state[n] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("passes: rewrite introduced a cycle at node %p", n)
		}
		state[n] = gray
		for i := 0; i < n.NumInputs(); i++ {
			in := n.InputNode(i)
			if unused[in] {
				continue
			}
			if err := visit(in); err != nil {
				return err
			}
		}
		state[n] = black
		order = append(order, n)
		return nil
	}

	for _, n := range kept {
		if err := visit(n); err != nil {
			return err
		}
	}
	g.SetNodes(order)
	return nil
}
