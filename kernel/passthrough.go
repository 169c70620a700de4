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

package kernel

import "github.com/dalang/da/device"
import "github.com/dalang/da/value"

// passThrough is the internal kernel BuildKernels binds to every
// output-aliases-input node (spec.md §4.10): its output tensor is the
// aliased input's own (BuildKernels and RunGraph point it there), so
// its shape and storage are already the input's and Launch has nothing
// left to do.
type passThrough struct{}

// PassThrough returns the builtin kernel for output-aliases-input ops.
// It is never looked up through a Registry; BuildKernels binds it
// directly once op.AliasesInput reports true for a node's op.
func PassThrough() Kernel { return passThrough{} }

func (passThrough) Init(Node) error        { return nil }
func (passThrough) InferShape(Node) error  { return nil }
func (passThrough) Resize(Node) (int, error) { return 0, nil }
func (passThrough) Launch(Node, []*value.Tensor, *value.Tensor, *value.Tensor, device.StreamID) error {
	return nil
}
