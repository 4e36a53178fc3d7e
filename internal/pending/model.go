// Package pending implements the Pending-Update Tracker (§4.D): a
// notification-tracking document recording when each pending item was first
// seen, an Apple-update-history document carrying firstSeen/displayName/
// version for Apple updates across runs where the server may stop listing an
// item temporarily, and the force-install severity state machine.
package pending

import (
	"time"

	"github.com/fleetline/mdmclient/internal/manifest"
)

// Category names the bucket a pending item belongs to in the notification
// document. The values are the category names listed in SPEC_FULL.md §3 and
// are persisted on disk across runs.
type Category string

const (
	CategoryInstall  Category = "managed_installs"
	CategoryRemoval  Category = "removals"
	CategoryApple    Category = "AppleUpdates"
	CategoryStagedOS Category = "StagedOSUpdates"
)

// AppleUpdate is one staged Apple software update item. Apple-update
// discovery itself is out of scope for this module (native OS update-service
// management); the Tracker only consumes already-staged records carrying a
// stable productKey, following the same shape as a catalog PackageRecord.
type AppleUpdate struct {
	ProductKey            string
	DisplayName           string
	Version               string
	RestartAction         manifest.RestartAction
	ForceInstallAfterDate *time.Time
	UnattendedInstall     bool
}

// StagedOSUpdate is one staged macOS installer item already downloaded and
// awaiting its reboot-driven install step. Staging itself is out of scope
// for this module (native OS update-service management); the Tracker only
// consumes already-staged records carrying a stable Name key, the same
// shape AppleUpdate follows for Apple updates.
type StagedOSUpdate struct {
	Name                  string
	DisplayName           string
	Version               string
	RestartAction         manifest.RestartAction
	ForceInstallAfterDate *time.Time
	UnattendedInstall     bool
}

// ForceInstallStatus is the escalating severity forceInstallPackageCheck
// reports, ordered least to most severe so the aggregate is a simple max.
type ForceInstallStatus int

const (
	StatusNone ForceInstallStatus = iota
	StatusSoon
	StatusNow
	StatusLogout
	StatusRestart
)

func (s ForceInstallStatus) String() string {
	switch s {
	case StatusSoon:
		return "soon"
	case StatusNow:
		return "now"
	case StatusRestart:
		return "restart"
	case StatusLogout:
		return "logout"
	default:
		return "none"
	}
}

func maxStatus(a, b ForceInstallStatus) ForceInstallStatus {
	if b > a {
		return b
	}
	return a
}

// PendingUpdateInfo is the combined report record produced by
// GetPendingUpdateInfo (§4.D).
type PendingUpdateInfo struct {
	InstallCount           int
	RemovalCount           int
	AppleCount             int
	StagedOSCount          int
	TotalCount             int
	OldestPendingDays      float64
	EarliestForceInstallAt *time.Time
}

// appleHistoryEntry is one record in the Apple-history document.
type appleHistoryEntry struct {
	FirstSeen   time.Time
	DisplayName string
	Version     string
}
