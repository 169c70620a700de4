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

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/dalang/da/device"
	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

// cpuLibrary is the always-registered reference library: plain Go
// arithmetic over Float32/Float64 tensors, no vectorization. A real
// accelerator library would be loaded lazily via RegisterLazy/Get
// instead; this one exists so a graph is runnable without any external
// manifest, mirroring the teacher shipping its own vm bytecode
// interpreter rather than requiring a JIT backend to run at all.
type cpuLibrary struct{}

// NewCPULibrary returns the builtin elementwise CPU kernel library.
func NewCPULibrary() Library { return cpuLibrary{} }

func (cpuLibrary) Name() string { return "cpu" }

func (cpuLibrary) CreateKernel(n Node) Kernel {
	switch n.Op() {
	case op.Add, op.Sub, op.Mul, op.Div:
		return binaryKernel{op: n.Op()}
	case op.Neg, op.Relu, op.Sigmoid, op.Tanh:
		return unaryKernel{op: n.Op()}
	default:
		return nil
	}
}

func floatSlice(t *value.Tensor) ([]float64, []float32, error) {
	buf := t.Storage().Bytes()
	switch t.Dtype() {
	case value.Float64:
		return unsafe.Slice((*float64)(unsafe.Pointer(&buf[0])), len(buf)/8), nil, nil
	case value.Float32:
		return nil, unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), len(buf)/4), nil
	default:
		return nil, nil, fmt.Errorf("kernel: cpu library only handles Float32/Float64, got %s", t.Dtype())
	}
}

type unaryKernel struct{ op op.Op }

func (unaryKernel) Init(Node) error { return nil }

func (unaryKernel) InferShape(n Node) error {
	n.Output().SetDtype(n.Input(0).Dtype())
	n.Output().SetShape(n.Input(0).Shape())
	return n.Output().ResizeStorage()
}

func (unaryKernel) Resize(Node) (int, error) { return 0, nil }

func (k unaryKernel) Launch(n Node, inputs []*value.Tensor, workspace, output *value.Tensor, stream device.StreamID) error {
	in64, in32, err := floatSlice(inputs[0])
	if err != nil {
		return err
	}
	out64, out32, err := floatSlice(output)
	if err != nil {
		return err
	}
	apply := func(x float64) float64 {
		switch k.op {
		case op.Neg:
			return -x
		case op.Relu:
			if x < 0 {
				return 0
			}
			return x
		case op.Sigmoid:
			return 1 / (1 + math.Exp(-x))
		case op.Tanh:
			return math.Tanh(x)
		default:
			return x
		}
	}
	if in64 != nil {
		for i, x := range in64 {
			out64[i] = apply(x)
		}
		return nil
	}
	for i, x := range in32 {
		out32[i] = float32(apply(float64(x)))
	}
	return nil
}

type binaryKernel struct{ op op.Op }

func (binaryKernel) Init(Node) error { return nil }

func (binaryKernel) InferShape(n Node) error {
	shape := n.Input(0).Shape()
	if n.Input(0).HasDynamicShape() && !n.Input(1).HasDynamicShape() {
		shape = n.Input(1).Shape()
	}
	n.Output().SetDtype(n.Input(0).Dtype())
	n.Output().SetShape(shape)
	return n.Output().ResizeStorage()
}

func (binaryKernel) Resize(Node) (int, error) { return 0, nil }

func (k binaryKernel) Launch(n Node, inputs []*value.Tensor, workspace, output *value.Tensor, stream device.StreamID) error {
	a64, a32, err := floatSlice(inputs[0])
	if err != nil {
		return err
	}
	b64, b32, err := floatSlice(inputs[1])
	if err != nil {
		return err
	}
	out64, out32, err := floatSlice(output)
	if err != nil {
		return err
	}
	apply := func(x, y float64) (float64, error) {
		switch k.op {
		case op.Add:
			return x + y, nil
		case op.Sub:
			return x - y, nil
		case op.Mul:
			return x * y, nil
		case op.Div:
			if y == 0 {
				return 0, fmt.Errorf("kernel: divide by zero")
			}
			return x / y, nil
		default:
			return 0, fmt.Errorf("kernel: cpu library cannot launch op %s", op.ToStr(k.op))
		}
	}
	if a64 != nil {
		for i := range a64 {
			v, err := apply(a64[i], b64[i])
			if err != nil {
				return err
			}
			out64[i] = v
		}
		return nil
	}
	for i := range a32 {
		v, err := apply(float64(a32[i]), float64(b32[i]))
		if err != nil {
			return err
		}
		out32[i] = float32(v)
	}
	return nil
}
