package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

func TestActiveManifestsMarkIsOnceOnly(t *testing.T) {
	a := NewActiveManifests()
	if !a.Mark("site_default", "/tmp/manifests/site_default") {
		t.Fatalf("first Mark should succeed")
	}
	if a.Mark("site_default", "/tmp/manifests/site_default") {
		t.Fatalf("second Mark of the same name should report already-marked")
	}
	path, ok := a.Lookup("site_default")
	if !ok || path != "/tmp/manifests/site_default" {
		t.Fatalf("Lookup = (%q, %v)", path, ok)
	}
	if got := a.Names(); len(got) != 1 || got[0] != "site_default" {
		t.Fatalf("Names() = %v", got)
	}
}

func TestReportSnapshotAndSave(t *testing.T) {
	r := NewReport()
	r.Set("ManifestName", "site_default")
	r.Set("PendingUpdateCount", int64(3))

	snap := r.Snapshot()
	if snap["ManifestName"] != "site_default" {
		t.Fatalf("snapshot missing ManifestName")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "report")
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestTempDirsPrivateSurvivesClose(t *testing.T) {
	td, err := NewTempDirs(t.TempDir())
	if err != nil {
		t.Fatalf("NewTempDirs: %v", err)
	}
	priv, err := td.Private("AppX.pkg")
	if err != nil {
		t.Fatalf("Private: %v", err)
	}
	if priv == "" {
		t.Fatalf("expected non-empty private dir")
	}
	if err := td.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(priv); err != nil {
		t.Fatalf("private dir removed by Close: %v", err)
	}
}

func TestAwaitDoneStopRequested(t *testing.T) {
	stop := NewStopToken()
	stop.Stop()

	done := func() bool { return false }
	err := AwaitDone(context.Background(), stop, done)
	if !agenterr.Is(err, agenterr.StopRequested) {
		t.Fatalf("expected StopRequested, got %v", err)
	}
}

func TestAwaitDoneCompletes(t *testing.T) {
	calls := 0
	done := func() bool {
		calls++
		return calls >= 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := AwaitDone(ctx, nil, done); err != nil {
		t.Fatalf("AwaitDone: %v", err)
	}
}
