package registry

import (
	"sort"
	"sync"

	"github.com/fleetline/mdmclient/internal/plist"
)

// Report is the append-only record of labeled values accumulated over a run
// and saved atomically to a well-known document (§4.F). Grounded on the
// teacher's internal/metrics/store.go: a mutex-guarded in-memory map with a
// point-in-time Snapshot, here persisted through the Property-List Store
// instead of rendered as Prometheus text, since this domain's "metrics" are
// external-facing report fields (§6 preferences), not a scrape target.
type Report struct {
	mu     sync.Mutex
	values map[string]any
}

// NewReport constructs an empty Report.
func NewReport() *Report {
	return &Report{values: make(map[string]any)}
}

// Set records label=value, overwriting any prior value for the same label.
func (r *Report) Set(label string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[label] = value
}

// Snapshot returns a point-in-time copy of every recorded label/value pair.
func (r *Report) Snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Labels returns the recorded label names in sorted order, for stable
// iteration and deterministic test output.
func (r *Report) Labels() []string {
	snap := r.Snapshot()
	out := make([]string, 0, len(snap))
	for k := range snap {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Save atomically persists the report to path as a property list.
func (r *Report) Save(path string) error {
	return plist.WriteRaw(r.Snapshot(), path, plist.BinaryFormat)
}
