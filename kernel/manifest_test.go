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
	"os"
	"path/filepath"
	"testing"

	"github.com/dalang/da/device"
)

const testManifestYAML = `
libraries:
  - name: fancy
    path: /opt/da/libfancy.so
defaults:
  cpu-avx512: fancy
  cpu-avx2: fancy
  cpu-generic: cpu
`

func TestLoadManifestApplyAndDefaultLibraryName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte(testManifestYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Libraries) != 1 || m.Libraries[0].Name != "fancy" {
		t.Fatalf("Libraries = %#v, want one entry named fancy", m.Libraries)
	}

	r := NewRegistry(nil)
	m.Apply(r)
	if _, ok := r.lazy["fancy"]; !ok {
		t.Fatalf("Apply did not register %q lazily", "fancy")
	}

	name, ok := m.DefaultLibraryName(device.CPUKernelVariant())
	if !ok {
		t.Fatalf("DefaultLibraryName(%s) not found in %#v", device.CPUKernelVariant(), m.Defaults)
	}
	if name != "fancy" && name != "cpu" {
		t.Fatalf("DefaultLibraryName = %q, want fancy or cpu", name)
	}

	if _, ok := m.DefaultLibraryName("no-such-variant-xyz"); !ok {
		t.Fatalf("DefaultLibraryName should have fallen back to device.CPUKernelVariant()'s own entry")
	}
}

func TestDefaultLibraryNameNilManifest(t *testing.T) {
	var m *Manifest
	if _, ok := m.DefaultLibraryName("cpu-generic"); ok {
		t.Fatalf("nil manifest should never resolve a default library name")
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := LoadManifest("/no/such/manifest.yaml"); err == nil {
		t.Fatal("expected an error loading a missing manifest")
	}
}
