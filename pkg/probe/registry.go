/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package probe

import (
	"fmt"
	"sort"
)

// Handle binds a protocol name to its contract and implementation.
type Handle struct {
	Name     string
	Contract Contract
	Prober   Prober
}

// Registry resolves protocol names to handles. It is immutable once built
// and safe for concurrent use.
type Registry struct {
	handles map[string]Handle
}

// NewRegistry builds a registry from handles. A later handle with the same
// name replaces an earlier one.
func NewRegistry(handles ...Handle) *Registry {
	r := &Registry{handles: make(map[string]Handle, len(handles))}

	for _, h := range handles {
		r.handles[h.Name] = h
	}

	return r
}

// Resolve returns the handle registered for name.
func (r *Registry) Resolve(name string) (Handle, error) {
	h, ok := r.handles[name]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
	}

	return h, nil
}

// Names lists the registered protocols in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
