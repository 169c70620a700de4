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

import "testing"

func TestCPUKernelVariantIsOneOfTheKnownNames(t *testing.T) {
	switch v := CPUKernelVariant(); v {
	case "cpu-avx512", "cpu-avx2", "cpu-generic":
	default:
		t.Fatalf("CPUKernelVariant() = %q, want one of cpu-avx512/cpu-avx2/cpu-generic", v)
	}
}

func TestCPUKernelVariantIsStable(t *testing.T) {
	if CPUKernelVariant() != CPUKernelVariant() {
		t.Fatal("CPUKernelVariant() should be deterministic within one process")
	}
}
