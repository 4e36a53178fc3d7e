package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

func TestCheckScriptPermissionsRejectsWorldWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postinstall.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o777); err != nil {
		t.Fatal(err)
	}

	err := checkScriptPermissions(path)
	if err == nil {
		t.Fatal("expected world-writable script to be rejected")
	}
	if !agenterr.Is(err, agenterr.Insecure) {
		t.Fatalf("expected Insecure, got %v", err)
	}
}

func TestCheckScriptPermissionsRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postinstall.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := checkScriptPermissions(path)
	if err == nil {
		t.Fatal("expected non-executable script to be rejected")
	}
	if !agenterr.Is(err, agenterr.Insecure) {
		t.Fatalf("expected Insecure, got %v", err)
	}
}

func TestRunScriptCapturesNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fails.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hello\nexit 7\n"), 0o700); err != nil {
		t.Fatal(err)
	}

	code, err := RunScript(context.Background(), path, nil, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("RunScript returned error for a clean non-zero exit: %v", err)
	}
	if code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
}

func TestRunEmbeddedScriptBypassesPermissionGate(t *testing.T) {
	dir := t.TempDir()
	code, err := RunEmbeddedScript(context.Background(), "preinstall", "#!/bin/sh\nexit 0\n", dir, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("RunEmbeddedScript failed: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}
