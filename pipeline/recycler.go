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

package pipeline

import (
	"github.com/dalang/da/graph"
	"github.com/dalang/da/op"
)

// ComputeUseCounts counts, for every node in nodes, how many (consumer,
// input-index) edges point at it. The graph executor uses this to seed
// each node's output storage refcount (spec.md §4.11's "refcount-driven
// lifetime recycling"): a node whose output feeds three consumers keeps
// three outstanding references instead of the one value.NewStorage
// grants by default.
func ComputeUseCounts(nodes []*graph.Node) map[*graph.Node]int {
	counts := make(map[*graph.Node]int, len(nodes))
	for _, n := range nodes {
		for i := 0; i < n.NumInputs(); i++ {
			counts[n.InputNode(i)]++
		}
	}
	return counts
}

// ReleaseInputs drops one reference from each of n's data inputs, the
// step the launch stage takes immediately after a kernel finishes
// (spec.md §4.11: "once a node's last consumer has launched, its
// output storage is released back to the pool"). For ops marked
// op.Info.SkipRefcount (control-dependency-only consumers such as
// UpdateState/Load) ReleaseInputs returns without releasing anything.
func ReleaseInputs(n *graph.Node) {
	if op.InfoOf(n.Op()).SkipRefcount {
		return
	}
	for i := 0; i < n.NumInputs(); i++ {
		in := n.InputNode(i)
		if st := in.Output().Storage(); st != nil {
			st.Unref()
		}
	}
}
