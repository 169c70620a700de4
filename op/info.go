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

package op

// Info carries the classification bits that the shape-inferer, the
// kernel binder, and the lifetime/refcount recycler all consult.
type Info struct {
	// Structural ops compute no data; they never launch a kernel.
	Structural bool
	// AliasInput, when >= 0, is the index of the input whose storage
	// this op's output shares instead of allocating its own.
	AliasInput int
	// SkipRefcount excludes this op's inputs from refcount-driven
	// lifetime recycling (e.g. a control-dependency-only input).
	SkipRefcount bool
	// SyncBeforeReturn marks ops whose kernel may rewrite the output
	// shape during Launch (e.g. Unique); the pipeline synchronizes the
	// owning stream immediately after such a kernel's Launch returns,
	// before materializing the output shape for downstream consumers.
	SyncBeforeReturn bool
}

const noAlias = -1

var infoTable = [End + 1]Info{
	MakeTuple:    {Structural: true, AliasInput: noAlias},
	TupleGetItem: {Structural: true, AliasInput: noAlias},
	Return:       {Structural: true, AliasInput: 0},
	Depend:       {Structural: true, AliasInput: 0},
	UpdateState:  {Structural: true, AliasInput: 0, SkipRefcount: true},
	Load:         {Structural: true, AliasInput: 0, SkipRefcount: true},
	Unique:       {AliasInput: noAlias, SyncBeforeReturn: true},
}

func init() {
	// fill the default (non-structural, no alias) for every op not
	// explicitly listed above
	for o := range infoTable {
		if infoTable[o] == (Info{}) {
			infoTable[o] = Info{AliasInput: noAlias}
		}
	}
	infoTable[End] = Info{Structural: true, AliasInput: noAlias, SkipRefcount: true}
}

// InfoOf returns the classification for op.
func InfoOf(o Op) Info {
	return infoTable[o]
}

// IsStructural reports whether op computes no data and therefore
// requires no kernel binding.
func IsStructural(o Op) bool {
	return infoTable[o].Structural
}

// AliasesInput reports whether op's output shares storage with one of
// its inputs, and if so, which input index.
func AliasesInput(o Op) (int, bool) {
	idx := infoTable[o].AliasInput
	return idx, idx >= 0
}
