// Package install implements the Install Executor (§4.E): disk-image
// mount/copy/unmount, embedded/external script execution under a permission
// gate, and launchd-supervised child job lifecycle.
package install

// PostAction is the exit semantics an install pass reports (§6): the
// maximum consequence across everything it ran. Ordered least to most
// severe so composing two passes' results is a plain max.
type PostAction int

const (
	PostActionNone PostAction = iota
	PostActionLogout
	PostActionRestart
	PostActionShutdown
)

func (a PostAction) String() string {
	switch a {
	case PostActionRestart:
		return "restart"
	case PostActionLogout:
		return "logout"
	case PostActionShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// MaxPostAction composes two post-actions, keeping the more severe one
// (§6: "Callers compose the maximum across Munki and Apple passes").
func MaxPostAction(a, b PostAction) PostAction {
	if b > a {
		return b
	}
	return a
}
