package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TempDirs allocates per-process and per-job scratch directories. The
// "shared" directory is cleaned on process exit; directories allocated
// "private" to a caller (e.g. one launchd job's own scratch space) are left
// for that caller to clean up, matching §4.F.
type TempDirs struct {
	root string

	mu      sync.Mutex
	private []string
}

// NewTempDirs creates the shared root under base (typically the managed
// installs directory's a temp subdirectory) and returns a manager for it.
func NewTempDirs(base string) (*TempDirs, error) {
	root, err := os.MkdirTemp(base, "mdmclient-")
	if err != nil {
		return nil, fmt.Errorf("create shared temp root: %w", err)
	}
	return &TempDirs{root: root}, nil
}

// Shared returns the process-wide temp directory, created once and removed by
// Close.
func (t *TempDirs) Shared() string {
	return t.root
}

// Private allocates a new temp directory beside the shared root for a single
// caller (e.g. one install item's disk-image copy). It is not removed by
// Close; the caller owns its lifecycle.
func (t *TempDirs) Private(label string) (string, error) {
	dir, err := os.MkdirTemp(filepath.Dir(t.root), sanitizeLabel(label)+"-")
	if err != nil {
		return "", fmt.Errorf("create private temp dir for %q: %w", label, err)
	}
	t.mu.Lock()
	t.private = append(t.private, dir)
	t.mu.Unlock()
	return dir, nil
}

// Close removes the shared temp root and everything still under it. Private
// directories live outside the shared root and are left in place.
func (t *TempDirs) Close() error {
	return os.RemoveAll(t.root)
}

func sanitizeLabel(label string) string {
	clean := filepath.Base(label)
	if clean == "" || clean == "." || clean == string(filepath.Separator) {
		return "item"
	}
	return clean
}
