package install

import (
	"context"
	"testing"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/manifest"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return &Executor{TempDir: t.TempDir()}
}

func TestExecutorInstallRunsLifecycleScriptsWithoutInstallerItem(t *testing.T) {
	executor := newTestExecutor(t)
	rec := manifest.PackageRecord{
		Name:              "NoOpItem",
		PreinstallScript:  "#!/bin/sh\nexit 0\n",
		PostinstallScript: "#!/bin/sh\nexit 0\n",
	}

	action, err := executor.Install(context.Background(), rec, "")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if action != PostActionNone {
		t.Fatalf("action = %v, want PostActionNone for RestartNone", action)
	}
}

func TestExecutorInstallFailsOnPreinstallFailure(t *testing.T) {
	executor := newTestExecutor(t)
	rec := manifest.PackageRecord{
		Name:             "BadPreflight",
		PreinstallScript: "#!/bin/sh\nexit 3\n",
	}

	if _, err := executor.Install(context.Background(), rec, ""); err == nil {
		t.Fatal("expected a non-zero preinstall exit to fail the install")
	}
}

func TestExecutorInstallReportsRestartAction(t *testing.T) {
	executor := newTestExecutor(t)
	rec := manifest.PackageRecord{Name: "NeedsRestart", RestartAction: manifest.RestartRequire}

	action, err := executor.Install(context.Background(), rec, "")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if action != PostActionRestart {
		t.Fatalf("action = %v, want PostActionRestart", action)
	}
}

func TestExecutorInstallReportsRestartActionForRecommend(t *testing.T) {
	executor := newTestExecutor(t)
	rec := manifest.PackageRecord{Name: "NiceToRestart", RestartAction: manifest.RestartRecommend}

	action, err := executor.Install(context.Background(), rec, "")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if action != PostActionRestart {
		t.Fatalf("action = %v, want PostActionRestart for RestartRecommend, matching the Tracker's own severity aggregation", action)
	}
}

func TestExecutorInstallVerifiesInstallsAfterward(t *testing.T) {
	executor := newTestExecutor(t)
	rec := manifest.PackageRecord{
		Name:     "MissingArtifact",
		Installs: []manifest.InstallCheck{{Path: "/nonexistent/path/for/this/test", Type: "file"}},
	}

	_, err := executor.Install(context.Background(), rec, "")
	if err == nil {
		t.Fatal("expected a missing installs-check target to fail the install")
	}
	if !agenterr.Is(err, agenterr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestExecutorRemoveRequiresUninstallScript(t *testing.T) {
	executor := newTestExecutor(t)
	rec := manifest.PackageRecord{Name: "NoUninstaller"}

	if _, err := executor.Remove(context.Background(), rec); err == nil {
		t.Fatal("expected an error when the record has no uninstall script")
	}
}

func TestExecutorRemoveRunsUninstallScript(t *testing.T) {
	executor := newTestExecutor(t)
	rec := manifest.PackageRecord{
		Name:            "Removable",
		UninstallScript: "#!/bin/sh\nexit 0\n",
		RestartAction:   manifest.RestartRequireLogout,
	}

	action, err := executor.Remove(context.Background(), rec)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if action != PostActionLogout {
		t.Fatalf("action = %v, want PostActionLogout", action)
	}
}
