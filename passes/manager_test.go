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

package passes

import (
	"testing"

	"github.com/dalang/da/graph"
	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

func buildZeroAddGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.BeginGraph("f")
	p := g.AddParameter("x")
	zero := g.AddValueNode(value.FromInt64(0))
	sum, err := g.AddOpNode(op.Add, []*graph.Node{zero, p})
	if err != nil {
		t.Fatalf("AddOpNode(add): %v", err)
	}
	if _, err := g.AddReturn(sum); err != nil {
		t.Fatalf("AddReturn: %v", err)
	}
	if err := g.EndGraph(); err != nil {
		t.Fatalf("EndGraph: %v", err)
	}
	return g
}

func TestStandardManagerFoldsZeroAdd(t *testing.T) {
	g := buildZeroAddGraph(t)
	m := StandardManager()
	if err := m.Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ret := g.Return()
	if ret == nil {
		t.Fatal("graph has no return node after Run")
	}
	if ret.NumInputs() != 1 {
		t.Fatalf("return has %d inputs, want 1", ret.NumInputs())
	}
	wrapped := ret.InputNode(0)
	if wrapped.Kind() != graph.KindParameter {
		t.Fatalf("return wraps a %v node, want the parameter directly (add x:(zero) y:(any)) -> y should fold away the add", wrapped.Kind())
	}
	if err := g.CheckAcyclic(); err != nil {
		t.Fatalf("CheckAcyclic after fold: %v", err)
	}
}

func TestStandardManagerLeavesNonMatchingGraphAlone(t *testing.T) {
	g := graph.BeginGraph("f")
	a := g.AddParameter("a")
	b := g.AddParameter("b")
	sum, err := g.AddOpNode(op.Add, []*graph.Node{a, b})
	if err != nil {
		t.Fatalf("AddOpNode: %v", err)
	}
	if _, err := g.AddReturn(sum); err != nil {
		t.Fatalf("AddReturn: %v", err)
	}
	if err := g.EndGraph(); err != nil {
		t.Fatalf("EndGraph: %v", err)
	}

	m := StandardManager()
	if err := m.Run(g); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ret := g.Return()
	if ret.InputNode(0) != sum {
		t.Fatal("Run rewrote an add of two non-constant parameters, which no standard rule should match")
	}
}

func TestBuildIndexCountsUsers(t *testing.T) {
	g := buildZeroAddGraph(t)
	idx := BuildIndex(g)
	zero := g.Nodes()[1] // parameter, zero value, add, return
	if got := idx.Users(zero); got != 1 {
		t.Fatalf("Users(zero) = %d, want 1", got)
	}
}

func TestCompileRulesRejectsMalformedSyntax(t *testing.T) {
	if _, err := CompileRules("(add x y ->"); err == nil {
		t.Fatal("CompileRules accepted malformed rule text")
	}
}
