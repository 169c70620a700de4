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
	"fmt"
	"strings"

	"github.com/dalang/da/graph"
	"github.com/dalang/da/op"
	"github.com/dalang/da/passes/pattern"
)

// compiledRule adapts a parsed pattern.Rule into a Pass. The teacher
// code-generates its rules/*.rules files into Go source at build time
// (rules/parse.go feeding a go:generate step); da instead interprets
// the same rule syntax directly against graph.Node shapes once, when
// the registry is constructed, trading a build step for a small
// runtime matcher.
type compiledRule struct {
	rule *pattern.Rule
}

// CompileRules parses text (the pattern package's rule syntax) and
// returns one Pass per rule, in source order.
func CompileRules(text string) ([]Pass, error) {
	rules, err := pattern.Parse(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("passes: parsing rules: %w", err)
	}
	out := make([]Pass, len(rules))
	for i := range rules {
		out[i] = &compiledRule{rule: &rules[i]}
	}
	return out, nil
}

func (r *compiledRule) Match(n *graph.Node) bool {
	bind := make(map[string]*graph.Node)
	for _, v := range r.rule.From {
		if !matchValue(v, n, bind) {
			return false
		}
	}
	_, ok := bind[r.rule.To.Name]
	return ok
}

func (r *compiledRule) Replacement(n *graph.Node) *graph.Node {
	bind := make(map[string]*graph.Node)
	for _, v := range r.rule.From {
		if !matchValue(v, n, bind) {
			return nil
		}
	}
	return bind[r.rule.To.Name]
}

// matchValue matches a pattern.Value (only List is meaningful against
// a graph.Node; bare literals never appear as a rule's top-level
// From entries in this dialect).
func matchValue(v pattern.Value, n *graph.Node, bind map[string]*graph.Node) bool {
	l, ok := v.(pattern.List)
	if !ok {
		return false
	}
	return matchList(l, n, bind)
}

// matchList matches n against a parenthesized pattern `(head terms...)`.
// head selects either a registered op name or one of four predicate
// keywords: "any" (matches unconditionally), "const" (any constant
// value node), "zero"/"one" (a constant numeric value node equal to
// 0/1). Anything else is matched as an op name via op.TryMatchOp, with
// the remaining terms matched positionally against n's input edges.
func matchList(l pattern.List, n *graph.Node, bind map[string]*graph.Node) bool {
	if len(l) == 0 || l[0].Value != nil {
		return false
	}
	switch l[0].Name {
	case "any":
		return true
	case "const":
		return n.Kind() == graph.KindValue
	case "zero":
		return n.Kind() == graph.KindValue && isConstNumber(n, 0)
	case "one":
		return n.Kind() == graph.KindValue && isConstNumber(n, 1)
	}

	o, ok := op.TryMatchOp(l[0].Name)
	if !ok || n.Kind() != graph.KindOp || n.Op() != o {
		return false
	}
	rest := l[1:]
	if n.NumInputs() != len(rest) {
		return false
	}
	for i, t := range rest {
		if !matchTerm(t, n.InputNode(i), bind) {
			return false
		}
	}
	return true
}

// matchTerm matches one input position: t.Value, if present, is
// matched structurally; otherwise a named bare identifier is either a
// first binding (always matches, recorded) or a backreference (must
// resolve to the same node already bound under that name, spec.md
// §4.6's "find the same node used twice" style of CSE-aware pattern).
func matchTerm(t pattern.Term, n *graph.Node, bind map[string]*graph.Node) bool {
	if t.Value != nil {
		if !matchValue(t.Value, n, bind) {
			return false
		}
	} else if t.Name != "" && t.Name != "any" {
		if prior, ok := bind[t.Name]; ok && prior != n {
			return false
		}
	}
	if t.Name != "" {
		bind[t.Name] = n
	}
	return true
}

// isConstNumber reports whether n is a KindValue node wrapping an
// Int64 or Double value numerically equal to want.
func isConstNumber(n *graph.Node, want float64) bool {
	v := n.Value()
	switch {
	case v.IsInt64():
		return float64(v.ToInt64()) == want
	case v.IsDouble():
		return v.ToDouble() == want
	default:
		return false
	}
}
