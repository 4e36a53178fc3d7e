package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPreferencesMissingIsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ManagedInstalls.plist")
	prefs, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if prefs.DaysBetweenNotifications != 1 {
		t.Fatalf("DaysBetweenNotifications = %d, want 1", prefs.DaysBetweenNotifications)
	}
}

func TestSavePreferencesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ManagedInstalls.plist")
	now := time.Now().UTC().Truncate(time.Second)

	prefs := DefaultPreferences()
	prefs.ClientIdentifier = "site_default"
	prefs.InstallAppleSoftwareUpdates = true
	prefs.PendingUpdateCount = 3
	prefs.LastCheckDate = &now

	if err := SavePreferences(path, prefs); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	loaded, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if loaded.ClientIdentifier != "site_default" {
		t.Fatalf("ClientIdentifier = %q", loaded.ClientIdentifier)
	}
	if !loaded.InstallAppleSoftwareUpdates {
		t.Fatalf("InstallAppleSoftwareUpdates not preserved")
	}
	if loaded.PendingUpdateCount != 3 {
		t.Fatalf("PendingUpdateCount = %d, want 3", loaded.PendingUpdateCount)
	}
	if loaded.LastCheckDate == nil || !loaded.LastCheckDate.Equal(now) {
		t.Fatalf("LastCheckDate = %v, want %v", loaded.LastCheckDate, now)
	}
}
