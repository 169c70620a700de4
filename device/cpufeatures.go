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

package device

import "golang.org/x/sys/cpu"

// CPUKernelVariant names the preferred default kernel-library variant
// for the host CPU, the way the teacher's vm/avx512level.go probes
// golang.org/x/sys/cpu once to pick an AVX512 code path. da's CPU
// kernels are not hand-vectorized, so this only distinguishes a
// "wide" variant name (used by kernel.Registry's manifest defaulting,
// see kernel/manifest.go) from the portable one.
func CPUKernelVariant() string {
	switch {
	case cpu.X86.HasAVX512F:
		return "cpu-avx512"
	case cpu.X86.HasAVX2:
		return "cpu-avx2"
	default:
		return "cpu-generic"
	}
}
