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

package graph

import (
	"encoding/binary"

	"github.com/dchest/siphash"

	"github.com/dalang/da/op"
)

// hashcode is the CSE key for an op node: its opcode plus the ids of
// its input nodes, siphashed the way the teacher's vm/siphash_generic.go
// mixes a value's (op, args, imm) tuple into a fixed-width key.
type hashcode uint64

var cseKey0, cseKey1 uint64 = 0x6461_6c61_6e67_6b30, 0x6461_6c61_6e67_6b31

func opHashcode(o op.Op, inputs []*Node) hashcode {
	buf := make([]byte, 8+8*len(inputs))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(o))
	for i, in := range inputs {
		binary.LittleEndian.PutUint64(buf[8+8*i:16+8*i], uint64(in.id))
	}
	return hashcode(siphash.Hash(cseKey0, cseKey1, buf))
}
