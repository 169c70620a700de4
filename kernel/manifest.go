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
	"os"

	"sigs.k8s.io/yaml"

	"github.com/dalang/da/device"
)

// Manifest is the declarative library-loading configuration consumed
// at registry-construction time, the way the teacher's db/sync.go
// recognizes a definition.yaml sibling. It names libraries to load
// lazily by path and, per device type, which library name to prefer
// when more than one could serve a node.
type Manifest struct {
	Libraries []ManifestLibrary `json:"libraries"`
	Defaults  map[string]string `json:"defaults"` // device type name -> library name
}

// ManifestLibrary names one lazily-loaded library and the path it is
// loaded from.
type ManifestLibrary struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// LoadManifest reads and parses a kernel library manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kernel: reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("kernel: parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// Apply registers every library named in m as a lazy library on r.
func (m *Manifest) Apply(r *Registry) {
	for _, lib := range m.Libraries {
		r.RegisterLazy(lib.Name, lib.Path)
	}
}

// DefaultLibraryName returns the manifest's preferred library name for
// variant, falling back to device.CPUKernelVariant()'s own preference
// order when the manifest names nothing for it.
func (m *Manifest) DefaultLibraryName(variant string) (string, bool) {
	if m == nil {
		return "", false
	}
	name, ok := m.Defaults[variant]
	if ok {
		return name, true
	}
	name, ok = m.Defaults[device.CPUKernelVariant()]
	return name, ok
}
