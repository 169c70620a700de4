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
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Loader lazily materializes a Library given the path it was
// registered under (RegisterLazy). The builtin CLI installs no Loader
// (cmd/da builds its registry with NewRegistry(nil)); tests install a
// fake.
type Loader func(path string) (Library, error)

// Registry is the process-wide name->factory registry (spec.md §4.4):
// "registered libraries are owned by the process". Libraries registered
// eagerly are available immediately; libraries registered lazily are
// loaded (and fingerprinted) on first Get.
type Registry struct {
	mu sync.Mutex

	order  []string // registration order, consulted by BuildKernels (deterministic)
	eager  map[string]Library
	lazy   map[string]string // name -> path, not yet loaded
	loaded map[string]Library
	fpr    map[string][32]byte // content fingerprint of loaded libraries, keyed by path

	loader Loader
}

// NewRegistry creates an empty registry. loader is used to materialize
// libraries registered via RegisterLazy; a nil loader makes RegisterLazy
// libraries permanently unavailable until SetLoader is called.
func NewRegistry(loader Loader) *Registry {
	return &Registry{
		eager:  make(map[string]Library),
		lazy:   make(map[string]string),
		loaded: make(map[string]Library),
		fpr:    make(map[string][32]byte),
		loader: loader,
	}
}

// SetLoader installs (or replaces) the lazy-library loader.
func (r *Registry) SetLoader(loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loader = loader
}

// Register installs lib eagerly, matching kernel_lib.h's
// KernelLibRegistry::Register: a name already registered is left
// untouched rather than replaced.
func (r *Registry) Register(lib Library) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := lib.Name()
	if _, ok := r.eager[name]; ok {
		return
	}
	if _, ok := r.lazy[name]; ok {
		return
	}
	r.eager[name] = lib
	r.order = append(r.order, name)
}

// RegisterLazy records that name's library is available by loading
// path, without loading it yet (kernel_lib.h's Load, deferred until Get).
func (r *Registry) RegisterLazy(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.eager[name]; ok {
		return
	}
	if _, ok := r.lazy[name]; ok {
		return
	}
	r.lazy[name] = path
	r.order = append(r.order, name)
}

// Get returns the library registered under name, loading it lazily (and
// fingerprinting its content with blake2b) the first time it is asked
// for, mirroring KernelLibRegistry::Get's "instantiated, else run the
// creator" fallback.
func (r *Registry) Get(name string) (Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lib, ok := r.eager[name]; ok {
		return lib, nil
	}
	if lib, ok := r.loaded[name]; ok {
		return lib, nil
	}
	path, ok := r.lazy[name]
	if !ok {
		return nil, fmt.Errorf("kernel: library %q is not registered", name)
	}
	if r.loader == nil {
		return nil, fmt.Errorf("kernel: library %q has no loader installed", name)
	}
	lib, err := r.loader(path)
	if err != nil {
		return nil, fmt.Errorf("kernel: loading %q from %s: %w", name, path, err)
	}
	if sum, err := fingerprintFile(path); err == nil {
		r.fpr[path] = sum
	}
	r.loaded[name] = lib
	return lib, nil
}

// Fingerprint returns the blake2b content hash recorded the last time
// path was loaded via RegisterLazy/Get, used as a cache key by callers
// that want to detect a kernel library changing on disk between runs.
func (r *Registry) Fingerprint(path string) ([32]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum, ok := r.fpr[path]
	return sum, ok
}

func fingerprintFile(path string) ([32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(data), nil
}

// CreateKernel queries every registered library in registration order
// (spec.md §4.10: "a deterministic order"), returning the first
// non-nil Kernel a library's CreateKernel produces for n.
func (r *Registry) CreateKernel(n Node) (Kernel, error) {
	r.mu.Lock()
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, name := range names {
		lib, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		if k := lib.CreateKernel(n); k != nil {
			return k, nil
		}
	}
	return nil, nil
}
