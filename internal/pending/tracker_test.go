package pending

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetline/mdmclient/internal/manifest"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}

// Scenario 4: force-install soon, no writeback.
func TestForceInstallSoonNoWriteback(t *testing.T) {
	now := mustTime(t, "2024-06-01T12:00:00Z")
	deadline := mustTime(t, "2024-06-01T14:00:00Z")
	rec := &manifest.PackageRecord{Name: "AppX", ForceInstallAfterDate: &deadline}

	status, mutated := ForceInstallPackageCheck([]*manifest.PackageRecord{rec}, nil, false, nil, now)
	if status != StatusSoon {
		t.Fatalf("status = %v, want soon", status)
	}
	if mutated {
		t.Fatalf("expected no writeback before the deadline")
	}
	if rec.UnattendedInstall {
		t.Fatalf("unattended_install should not be set before the deadline")
	}
}

// Scenario 5: force-install past deadline with RequireRestart, no unattended flip.
func TestForceInstallPastWithRestartAction(t *testing.T) {
	now := mustTime(t, "2024-06-01T15:00:00Z")
	deadline := mustTime(t, "2024-06-01T14:00:00Z")
	rec := &manifest.PackageRecord{
		Name:                  "AppX",
		ForceInstallAfterDate: &deadline,
		RestartAction:         manifest.RestartRequire,
	}

	status, mutated := ForceInstallPackageCheck([]*manifest.PackageRecord{rec}, nil, false, nil, now)
	if status != StatusRestart {
		t.Fatalf("status = %v, want restart", status)
	}
	if mutated {
		t.Fatalf("an item with a RestartAction should never be flipped to unattended")
	}
	if rec.UnattendedInstall {
		t.Fatalf("unattended_install should remain false")
	}
}

// Scenario 6: force-install past deadline with no RestartAction, unattended flip + writeback.
func TestForceInstallPastUnattendedFlip(t *testing.T) {
	now := mustTime(t, "2024-06-01T15:00:00Z")
	deadline := mustTime(t, "2024-06-01T14:00:00Z")
	rec := &manifest.PackageRecord{Name: "AppX", ForceInstallAfterDate: &deadline}

	status, mutated := ForceInstallPackageCheck([]*manifest.PackageRecord{rec}, nil, false, nil, now)
	if status != StatusNow {
		t.Fatalf("status = %v, want now", status)
	}
	if !mutated {
		t.Fatalf("expected a writeback when an item flips to unattended")
	}
	if !rec.UnattendedInstall {
		t.Fatalf("expected unattended_install to be set")
	}
}

func TestForceInstallRequireLogoutEscalates(t *testing.T) {
	now := mustTime(t, "2024-06-01T15:00:00Z")
	deadline := mustTime(t, "2024-06-01T14:00:00Z")
	rec := &manifest.PackageRecord{
		Name:                  "AppX",
		ForceInstallAfterDate: &deadline,
		RestartAction:         manifest.RestartRequireLogout,
	}

	status, _ := ForceInstallPackageCheck([]*manifest.PackageRecord{rec}, nil, false, nil, now)
	if status != StatusLogout {
		t.Fatalf("status = %v, want logout", status)
	}
}

// Force-install ordering invariant: adding a past-deadline item can only
// raise the overall status, never lower it.
func TestForceInstallMonotone(t *testing.T) {
	now := mustTime(t, "2024-06-01T15:00:00Z")
	soonDeadline := mustTime(t, "2024-06-01T17:00:00Z")
	pastDeadline := mustTime(t, "2024-06-01T14:00:00Z")

	soonOnly := &manifest.PackageRecord{Name: "Soon", ForceInstallAfterDate: &soonDeadline}
	statusBefore, _ := ForceInstallPackageCheck([]*manifest.PackageRecord{soonOnly}, nil, false, nil, now)

	pastItem := &manifest.PackageRecord{Name: "Past", ForceInstallAfterDate: &pastDeadline, RestartAction: manifest.RestartRequireLogout}
	statusAfter, _ := ForceInstallPackageCheck([]*manifest.PackageRecord{soonOnly, pastItem}, nil, false, nil, now)

	if statusAfter < statusBefore {
		t.Fatalf("adding a past-deadline item lowered status: before=%v after=%v", statusBefore, statusAfter)
	}
	if statusAfter != StatusLogout {
		t.Fatalf("status = %v, want logout", statusAfter)
	}
}

// Pending-update continuity: an Apple update present in run N, absent in run
// N+1, present again in run N+2 keeps its run-N firstSeen.
func TestPendingUpdateContinuityAcrossGap(t *testing.T) {
	dir := t.TempDir()
	tracker := &Tracker{
		TrackingPath:     filepath.Join(dir, "UpdateNotificationTracking"),
		AppleHistoryPath: filepath.Join(dir, "AppleUpdateHistory"),
	}

	runN := mustTime(t, "2024-01-01T00:00:00Z")
	update := AppleUpdate{ProductKey: "com.apple.pkg.Safari", DisplayName: "Safari", Version: "17.0"}

	if err := tracker.SavePendingUpdateTimes(manifest.NewInstallInfo(), []AppleUpdate{update}, nil, runN); err != nil {
		t.Fatalf("run N: %v", err)
	}

	runN1 := mustTime(t, "2024-01-02T00:00:00Z")
	if err := tracker.SavePendingUpdateTimes(manifest.NewInstallInfo(), nil, nil, runN1); err != nil {
		t.Fatalf("run N+1: %v", err)
	}

	runN2 := mustTime(t, "2024-01-03T00:00:00Z")
	if err := tracker.SavePendingUpdateTimes(manifest.NewInstallInfo(), []AppleUpdate{update}, nil, runN2); err != nil {
		t.Fatalf("run N+2: %v", err)
	}

	doc := loadNotificationDocument(tracker.TrackingPath)
	names, ok := doc[CategoryApple]
	if !ok {
		t.Fatalf("expected an AppleUpdates category in the tracking document")
	}
	firstSeen, ok := names[update.ProductKey]
	if !ok {
		t.Fatalf("expected %q to be tracked in run N+2", update.ProductKey)
	}
	if !firstSeen.Equal(runN) {
		t.Fatalf("firstSeen = %v, want %v (carried forward from Apple history across the gap)", firstSeen, runN)
	}
}

func TestOldestPendingUpdateInDaysMissingDocument(t *testing.T) {
	tracker := &Tracker{TrackingPath: filepath.Join(t.TempDir(), "does-not-exist")}
	days := tracker.OldestPendingUpdateInDays(time.Now())
	if days != 0 {
		t.Fatalf("days = %v, want 0 for a missing document", days)
	}
}

func TestGetPendingUpdateInfoCounts(t *testing.T) {
	dir := t.TempDir()
	tracker := &Tracker{
		TrackingPath:     filepath.Join(dir, "UpdateNotificationTracking"),
		AppleHistoryPath: filepath.Join(dir, "AppleUpdateHistory"),
	}

	now := mustTime(t, "2024-01-10T00:00:00Z")
	deadline := mustTime(t, "2024-01-15T00:00:00Z")
	info := manifest.NewInstallInfo()
	info.ManagedInstalls = []manifest.PackageRecord{{Name: "AppX", ForceInstallAfterDate: &deadline}}
	info.Removals = []manifest.PackageRecord{{Name: "OldApp"}}

	if err := tracker.SavePendingUpdateTimes(info, nil, nil, now); err != nil {
		t.Fatalf("SavePendingUpdateTimes: %v", err)
	}

	report := tracker.GetPendingUpdateInfo(info, nil, nil, now)
	if report.InstallCount != 1 || report.RemovalCount != 1 || report.TotalCount != 2 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if report.EarliestForceInstallAt == nil || !report.EarliestForceInstallAt.Equal(deadline) {
		t.Fatalf("EarliestForceInstallAt = %v, want %v", report.EarliestForceInstallAt, deadline)
	}
}

// A staged OS-installer item threads through tracking, counts, and
// force-install evaluation the same way a managed install does.
func TestStagedOSUpdateTrackedAndCounted(t *testing.T) {
	dir := t.TempDir()
	tracker := &Tracker{
		TrackingPath:     filepath.Join(dir, "UpdateNotificationTracking"),
		AppleHistoryPath: filepath.Join(dir, "AppleUpdateHistory"),
	}

	runN := mustTime(t, "2024-01-01T00:00:00Z")
	staged := StagedOSUpdate{Name: "macOS Sequoia 15.1", DisplayName: "macOS Sequoia 15.1", Version: "15.1"}

	if err := tracker.SavePendingUpdateTimes(manifest.NewInstallInfo(), nil, []StagedOSUpdate{staged}, runN); err != nil {
		t.Fatalf("run N: %v", err)
	}

	runN1 := mustTime(t, "2024-01-02T00:00:00Z")
	if err := tracker.SavePendingUpdateTimes(manifest.NewInstallInfo(), nil, []StagedOSUpdate{staged}, runN1); err != nil {
		t.Fatalf("run N+1: %v", err)
	}

	doc := loadNotificationDocument(tracker.TrackingPath)
	names, ok := doc[CategoryStagedOS]
	if !ok {
		t.Fatalf("expected a StagedOSUpdates category in the tracking document")
	}
	if firstSeen, ok := names[staged.Name]; !ok || !firstSeen.Equal(runN) {
		t.Fatalf("firstSeen = %v, ok=%v, want %v carried forward from run N", firstSeen, ok, runN)
	}

	report := tracker.GetPendingUpdateInfo(manifest.NewInstallInfo(), nil, []StagedOSUpdate{staged}, runN1)
	if report.StagedOSCount != 1 || report.TotalCount != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
}

// A staged OS update past its force-install deadline escalates severity and
// flips unattended_install exactly like a managed install (§4.D).
func TestStagedOSUpdateForceInstallEscalates(t *testing.T) {
	now := mustTime(t, "2024-06-01T15:00:00Z")
	deadline := mustTime(t, "2024-06-01T14:00:00Z")
	staged := &StagedOSUpdate{Name: "macOS Sequoia 15.1", ForceInstallAfterDate: &deadline}

	status, mutated := ForceInstallPackageCheck(nil, nil, false, []*StagedOSUpdate{staged}, now)
	if status != StatusNow {
		t.Fatalf("status = %v, want now", status)
	}
	if !mutated || !staged.UnattendedInstall {
		t.Fatalf("expected the staged update to flip to unattended_install")
	}
}
