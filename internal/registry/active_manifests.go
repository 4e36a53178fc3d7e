// Package registry holds the process-wide singleton state shared by every
// component: the active-manifest table, the run report, temp-directory
// lifecycle, and display options (§4.F).
package registry

import "sync"

// ActiveManifests tracks which manifest names have been fetched during the
// current run and where their local copies live. It serves two purposes: it
// is the resolver's sole cycle-termination mechanism (§9 open-question
// decision — a name already marked is never re-descended), and after
// resolution it supplies the live set the cleanup pass preserves against
// (§4.C cleanup).
type ActiveManifests struct {
	mu    sync.Mutex
	paths map[string]string
	order []string
}

// NewActiveManifests constructs an empty table, fresh for one run.
func NewActiveManifests() *ActiveManifests {
	return &ActiveManifests{paths: make(map[string]string)}
}

// Lookup reports whether name has already been marked this run, and its
// local path if so.
func (a *ActiveManifests) Lookup(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	path, ok := a.paths[name]
	return path, ok
}

// Mark records that name has been fetched to path. Returns false if name was
// already marked (the caller should treat this as a repeat/cycle and not
// descend again).
func (a *ActiveManifests) Mark(name, path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.paths[name]; exists {
		return false
	}
	a.paths[name] = path
	a.order = append(a.order, name)
	return true
}

// List returns the local paths of every manifest marked so far, in the order
// they were first marked. The cleanup pass computes its live set from Names.
func (a *ActiveManifests) List() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.paths[name])
	}
	return out
}

// Names returns the manifest names marked so far, in first-marked order.
func (a *ActiveManifests) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.order...)
}
