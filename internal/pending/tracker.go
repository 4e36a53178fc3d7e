package pending

import (
	"time"

	"github.com/fleetline/mdmclient/internal/manifest"
)

// Tracker implements the Pending-Update Tracker (§4.D) against a pair of
// on-disk documents rooted at the paths given.
type Tracker struct {
	TrackingPath     string
	AppleHistoryPath string
}

// SavePendingUpdateTimes recomputes the notification-tracking document from
// the current set of pending items, carrying forward any firstSeen already
// on record and consulting (and updating) the Apple-history document for
// Apple updates new to tracking. stagedOSUpdates carries any staged
// OS-installer items through the same tracking document, keyed by Name. The
// result is written atomically.
func (t *Tracker) SavePendingUpdateTimes(info *manifest.InstallInfo, appleUpdates []AppleUpdate, stagedOSUpdates []StagedOSUpdate, now time.Time) error {
	prior := loadNotificationDocument(t.TrackingPath)
	appleHistory := loadAppleHistoryDocument(t.AppleHistoryPath)
	appleHistoryDirty := false

	next := make(notificationDocument)

	carryOrNow := func(category Category, name string) time.Time {
		if names, ok := prior[category]; ok {
			if t, ok := names[name]; ok {
				return t
			}
		}
		return now
	}

	installNames := make(map[string]time.Time)
	for _, rec := range info.ManagedInstalls {
		installNames[rec.Name] = carryOrNow(CategoryInstall, rec.Name)
	}
	for _, rec := range info.ManagedUpdates {
		if _, exists := installNames[rec.Name]; !exists {
			installNames[rec.Name] = carryOrNow(CategoryInstall, rec.Name)
		}
	}
	if len(installNames) > 0 {
		next[CategoryInstall] = installNames
	}

	if len(info.Removals) > 0 {
		removalNames := make(map[string]time.Time, len(info.Removals))
		for _, rec := range info.Removals {
			removalNames[rec.Name] = carryOrNow(CategoryRemoval, rec.Name)
		}
		next[CategoryRemoval] = removalNames
	}

	if len(appleUpdates) > 0 {
		appleNames := make(map[string]time.Time, len(appleUpdates))
		for _, update := range appleUpdates {
			if names, ok := prior[CategoryApple]; ok {
				if seen, ok := names[update.ProductKey]; ok {
					appleNames[update.ProductKey] = seen
					continue
				}
			}
			if entry, ok := appleHistory[update.ProductKey]; ok {
				appleNames[update.ProductKey] = entry.FirstSeen
				continue
			}
			appleHistory[update.ProductKey] = appleHistoryEntry{
				FirstSeen:   now,
				DisplayName: update.DisplayName,
				Version:     update.Version,
			}
			appleHistoryDirty = true
			appleNames[update.ProductKey] = now
		}
		next[CategoryApple] = appleNames
	}

	if len(stagedOSUpdates) > 0 {
		stagedNames := make(map[string]time.Time, len(stagedOSUpdates))
		for _, update := range stagedOSUpdates {
			stagedNames[update.Name] = carryOrNow(CategoryStagedOS, update.Name)
		}
		next[CategoryStagedOS] = stagedNames
	}

	if appleHistoryDirty {
		if err := saveAppleHistoryDocument(t.AppleHistoryPath, appleHistory); err != nil {
			return err
		}
	}
	return saveNotificationDocument(t.TrackingPath, next)
}

// OldestPendingUpdateInDays returns the age in days of the oldest pending
// item's firstSeen, or 0 if the tracking document is missing, malformed, or
// empty.
func (t *Tracker) OldestPendingUpdateInDays(now time.Time) float64 {
	doc := loadNotificationDocument(t.TrackingPath)
	oldest, ok := minFirstSeen(doc)
	if !ok {
		return 0
	}
	return now.Sub(oldest).Hours() / 24
}

func minFirstSeen(doc notificationDocument) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, names := range doc {
		for _, t := range names {
			if !found || t.Before(oldest) {
				oldest = t
				found = true
			}
		}
	}
	return oldest, found
}

// GetPendingUpdateInfo produces the combined report record (§4.D).
func (t *Tracker) GetPendingUpdateInfo(info *manifest.InstallInfo, appleUpdates []AppleUpdate, stagedOSUpdates []StagedOSUpdate, now time.Time) PendingUpdateInfo {
	result := PendingUpdateInfo{
		InstallCount:  len(info.ManagedInstalls) + len(info.ManagedUpdates),
		RemovalCount:  len(info.Removals),
		AppleCount:    len(appleUpdates),
		StagedOSCount: len(stagedOSUpdates),
	}
	result.TotalCount = result.InstallCount + result.RemovalCount + result.AppleCount + result.StagedOSCount
	result.OldestPendingDays = t.OldestPendingUpdateInDays(now)

	var earliest *time.Time
	considerDeadline := func(d *time.Time) {
		if d == nil {
			return
		}
		if earliest == nil || d.Before(*earliest) {
			local := *d
			earliest = &local
		}
	}
	for _, rec := range info.ManagedInstalls {
		considerDeadline(rec.ForceInstallAfterDate)
	}
	for _, rec := range info.ManagedUpdates {
		considerDeadline(rec.ForceInstallAfterDate)
	}
	for _, update := range appleUpdates {
		considerDeadline(update.ForceInstallAfterDate)
	}
	for _, update := range stagedOSUpdates {
		considerDeadline(update.ForceInstallAfterDate)
	}
	result.EarliestForceInstallAt = earliest
	return result
}

// ForceInstallPackageCheck implements the monotone force-install severity
// state machine (§4.D, §8 scenarios 4-6). managedInstalls is mutated in place
// when an item crosses its deadline with no RestartAction and no prior
// unattended_install flag; mutated reports true and the caller is responsible
// for persisting the owning document (the Tracker itself does not know which
// document a PackageRecord came from). stagedOSUpdates is evaluated the same
// way as managedInstalls, unconditionally: an already-staged OS installer
// carries no equivalent of appleInstallEnabled gating whether it is
// considered at all.
func ForceInstallPackageCheck(managedInstalls []*manifest.PackageRecord, appleUpdates []*AppleUpdate, appleInstallEnabled bool, stagedOSUpdates []*StagedOSUpdate, now time.Time) (ForceInstallStatus, bool) {
	overall := StatusNone
	mutated := false

	soonCutoff := now.Add(4 * time.Hour)

	for _, rec := range managedInstalls {
		status, itemMutated := evaluateDeadline(rec.ForceInstallAfterDate, rec.RestartAction, &rec.UnattendedInstall, now, soonCutoff, overall)
		overall = maxStatus(overall, status)
		mutated = mutated || itemMutated
	}

	if appleInstallEnabled {
		for _, update := range appleUpdates {
			status, itemMutated := evaluateDeadline(update.ForceInstallAfterDate, update.RestartAction, &update.UnattendedInstall, now, soonCutoff, overall)
			overall = maxStatus(overall, status)
			mutated = mutated || itemMutated
		}
	}

	for _, update := range stagedOSUpdates {
		status, itemMutated := evaluateDeadline(update.ForceInstallAfterDate, update.RestartAction, &update.UnattendedInstall, now, soonCutoff, overall)
		overall = maxStatus(overall, status)
		mutated = mutated || itemMutated
	}

	return overall, mutated
}

func evaluateDeadline(deadline *time.Time, restart manifest.RestartAction, unattended *bool, now, soonCutoff time.Time, overallSoFar ForceInstallStatus) (ForceInstallStatus, bool) {
	if deadline == nil {
		return StatusNone, false
	}

	if !now.Before(*deadline) {
		status := StatusNow
		switch restart {
		case manifest.RestartRequireLogout:
			status = StatusLogout
		case manifest.RestartRequire, manifest.RestartRecommend:
			status = StatusRestart
		}
		mutated := false
		if restart == manifest.RestartNone && !*unattended {
			*unattended = true
			mutated = true
		}
		return status, mutated
	}

	if overallSoFar == StatusNone && !soonCutoff.Before(*deadline) {
		return StatusSoon, false
	}
	return StatusNone, false
}
