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

// Package kernel is the name->factory registry for kernel libraries
// (spec.md §4.4), grounded on kernel_lib.h's KernelLib/KernelLibRegistry
// pattern: an eager Register(name, creator) map, a lazy Load(path) map
// of not-yet-instantiated libraries, and a Get that falls back from an
// already-instantiated library to running its creator.
package kernel

import (
	"github.com/dalang/da/device"
	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

// Node is the narrow view of a graph node a Kernel needs. graph.Node
// satisfies this interface; kernel does not import graph (pipeline and
// executor sit above both and wire them together) so the dependency
// stays one-directional per the module's import-direction table.
type Node interface {
	Op() op.Op
	NumInputs() int
	Input(i int) *value.Tensor
	Output() *value.Tensor
}

// Kernel is the per-node, per-library unit of execution (spec.md §4.4,
// §6 "Kernel library ABI"). Init/InferShape/Resize/Launch are each
// idempotent between calls on different node states, but the pipeline
// always calls them in this order for a given node.
type Kernel interface {
	// Init runs once per node, before the first InferShape.
	Init(n Node) error
	// InferShape writes n.Output()'s shape (dtype stays whatever the
	// graph builder defaulted it to, unless this kernel changes it).
	InferShape(n Node) error
	// Resize reports the workspace size in bytes this node's Launch
	// will need, allocated by the pipeline's workspace stage.
	Resize(n Node) (workspaceBytes int, err error)
	// Launch computes the node's output. workspace is nil when Resize
	// reported zero bytes. stream is the device stream the pipeline
	// submitted this launch to.
	Launch(n Node, inputs []*value.Tensor, workspace *value.Tensor, output *value.Tensor, stream device.StreamID) error
}

// Factory creates a Kernel for n, or returns nil if this library does
// not implement n's op.
type Factory func(n Node) Kernel

// Library is one named kernel library (spec.md §6: "implements name()
// and CreateKernel(Node*)").
type Library interface {
	Name() string
	CreateKernel(n Node) Kernel
}

// funcLibrary adapts a bare name + Factory pair into a Library, the
// shape eagerly-registered builtin libraries use.
type funcLibrary struct {
	name    string
	factory Factory
}

func (f funcLibrary) Name() string                { return f.name }
func (f funcLibrary) CreateKernel(n Node) Kernel   { return f.factory(n) }

// NewLibrary wraps a name and Factory as a Library.
func NewLibrary(name string, factory Factory) Library {
	return funcLibrary{name: name, factory: factory}
}
