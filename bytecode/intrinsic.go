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

package bytecode

// IntrinsicNames lists every intrinsic in the fixed order the compiler
// pre-installs them into a module's symbol pool (spec.md §4.8:
// "Intrinsic names are pre-installed at module-pool indices
// [0, intrinsic-size)"). A LoadIntrin/CallIntrin operand is an index
// into this table; both compiler and vm share it so the two never
// drift out of sync.
var IntrinsicNames = []string{"tensor", "print"}

// IntrinsicIndex returns the LoadIntrin operand for name, if it names
// an intrinsic.
func IntrinsicIndex(name string) (int, bool) {
	for i, n := range IntrinsicNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
