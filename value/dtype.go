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

// Package value implements the reference-counted value variants
// (tensor, tuple, scalar, none) that flow through the VM's operand
// stack and the graph executor, plus the Tensor/Storage/DataType/Device
// types a Tensor value is built from.
package value

import "fmt"

// DataType is the closed enum of tensor element types.
type DataType int

const (
	Bool DataType = iota
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float16
	Float32
	Float64
	BFloat16
	dtypeEnd
)

var dtypeSizes = [dtypeEnd]int{
	Bool:     1,
	Int8:     1,
	Int16:    2,
	Int32:    4,
	Int64:    8,
	UInt8:    1,
	UInt16:   2,
	UInt32:   4,
	UInt64:   8,
	Float16:  2,
	Float32:  4,
	Float64:  8,
	BFloat16: 2,
}

var dtypeNames = [dtypeEnd]string{
	Bool:     "bool",
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	UInt8:    "uint8",
	UInt16:   "uint16",
	UInt32:   "uint32",
	UInt64:   "uint64",
	Float16:  "float16",
	Float32:  "float32",
	Float64:  "float64",
	BFloat16: "bfloat16",
}

// Size returns the fixed byte size of one element of dtype d.
func (d DataType) Size() int {
	if d < 0 || d >= dtypeEnd {
		panic("value: invalid DataType")
	}
	return dtypeSizes[d]
}

func (d DataType) String() string {
	if d < 0 || d >= dtypeEnd {
		return fmt.Sprintf("DataType(%d)", int(d))
	}
	return dtypeNames[d]
}

// DeviceType distinguishes device backends. Ascend is the accelerator
// backend named explicitly by the spec; additional accelerator types
// register their own DeviceType constants starting at deviceTypeEnd.
type DeviceType int

const (
	CPU DeviceType = iota
	Ascend
	deviceTypeEnd
)

func (t DeviceType) String() string {
	switch {
	case t == CPU:
		return "cpu"
	case t == Ascend:
		return "ascend"
	default:
		return fmt.Sprintf("device(%d)", int(t))
	}
}

// Device identifies one physical or virtual compute device. Devices
// compare by both Type and Index.
type Device struct {
	Type  DeviceType
	Index int
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.Index)
}

// Equal reports whether d and o name the same device.
func (d Device) Equal(o Device) bool {
	return d.Type == o.Type && d.Index == o.Index
}
