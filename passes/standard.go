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

// standardRules is the default peephole rule set OptGraph runs, the
// same style of small algebraic-identity simplification the teacher's
// rules/*.rules files describe for SQL expression trees (zero/one
// identities, double-negation elimination), adapted to this module's
// tensor op set.
const standardRules = `
(add x:(zero) y:(any)) -> y
(add x:(any) y:(zero)) -> x
(mul x:(one) y:(any)) -> y
(mul x:(any) y:(one)) -> x
(neg x:(neg y:(any))) -> y
`

// StandardManager builds a Manager running the standard algebraic
// simplification rules. It panics if standardRules fails to parse,
// which would indicate a bug in this file, not in user input.
func StandardManager() *Manager {
	passes, err := CompileRules(standardRules)
	if err != nil {
		panic("passes: standardRules failed to compile: " + err.Error())
	}
	return NewManager(passes...)
}
