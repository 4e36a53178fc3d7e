package registry

import "sync/atomic"

// DisplayOptions is process-wide state controlling verbosity and whether
// install/download progress is routed to a GUI status channel (§4.F). It is
// a plain struct owned by the top-level driver and threaded explicitly,
// per §9's design note, rather than a package-level global.
type DisplayOptions struct {
	verbosity int32
	guiStatus int32
}

// NewDisplayOptions constructs DisplayOptions with the given initial
// verbosity level; GUI status reporting starts disabled.
func NewDisplayOptions(verbosity int) *DisplayOptions {
	d := &DisplayOptions{}
	atomic.StoreInt32(&d.verbosity, int32(verbosity))
	return d
}

// Verbosity returns the current verbosity level.
func (d *DisplayOptions) Verbosity() int {
	return int(atomic.LoadInt32(&d.verbosity))
}

// SetVerbosity updates the verbosity level.
func (d *DisplayOptions) SetVerbosity(level int) {
	atomic.StoreInt32(&d.verbosity, int32(level))
}

// GUIStatusEnabled reports whether progress should be routed to the GUI
// status channel in addition to the log.
func (d *DisplayOptions) GUIStatusEnabled() bool {
	return atomic.LoadInt32(&d.guiStatus) != 0
}

// SetGUIStatusEnabled toggles GUI status routing.
func (d *DisplayOptions) SetGUIStatusEnabled(enabled bool) {
	v := int32(0)
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&d.guiStatus, v)
}
