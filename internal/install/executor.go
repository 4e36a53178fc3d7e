package install

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/manifest"
	"github.com/fleetline/mdmclient/internal/registry"
)

// Executor is the Install Executor's top-level entry point (§4.E): it mounts
// disk images, copies their items, runs a package record's lifecycle
// scripts, supervises long-running scripts under launchd, and verifies the
// result, reporting the most severe PostAction any of that required.
type Executor struct {
	TempDir       string
	JobsDir       string
	DefaultOwner  string
	DefaultGroup  string
	ScriptArgs    []string
	ScriptTimeout time.Duration
	Logger        *log.Logger
	Stop          *registry.StopToken
}

func (e *Executor) scriptTimeout() time.Duration {
	if e.ScriptTimeout > 0 {
		return e.ScriptTimeout
	}
	return defaultScriptTimeout
}

// Install runs one package record's disk-image copy (if any), preinstall
// script, and postinstall script, verifying installs afterward.
// installerPath is the already-fetched local path to the record's installer
// item (§4.B fetched it; this package only consumes the result).
func (e *Executor) Install(ctx context.Context, rec manifest.PackageRecord, installerPath string) (PostAction, error) {
	action := PostAction(restartActionToPostAction(rec.RestartAction))

	if rec.PreinstallScript != "" {
		if err := e.runLifecycleScript(ctx, "preinstall", rec.Name, rec.PreinstallScript); err != nil {
			return PostActionNone, err
		}
	}

	if rec.IsDiskImage() {
		if err := e.installFromDiskImage(ctx, rec, installerPath); err != nil {
			return PostActionNone, err
		}
	} else if installerPath != "" {
		if err := e.installFlatPackage(ctx, installerPath); err != nil {
			return PostActionNone, err
		}
	}

	if rec.PostinstallScript != "" {
		if err := e.runLifecycleScript(ctx, "postinstall", rec.Name, rec.PostinstallScript); err != nil {
			return PostActionNone, err
		}
	}

	if len(rec.Installs) > 0 {
		if err := VerifyInstalls(ctx, rec.Installs); err != nil {
			return PostActionNone, err
		}
	}

	return action, nil
}

// Remove runs a package record's uninstall script, the only removal path
// this module understands. A record without an uninstall script is an
// Invalid error; flat-package and disk-image installs are not reversed.
func (e *Executor) Remove(ctx context.Context, rec manifest.PackageRecord) (PostAction, error) {
	if rec.UninstallScript == "" {
		return PostActionNone, agenterr.New(agenterr.Invalid, "install.Executor.Remove", rec.Name, errNoUninstallScript)
	}
	if err := e.runLifecycleScript(ctx, "uninstall", rec.Name, rec.UninstallScript); err != nil {
		return PostActionNone, err
	}
	return restartActionToPostAction(rec.RestartAction), nil
}

func (e *Executor) installFromDiskImage(ctx context.Context, rec manifest.PackageRecord, imagePath string) error {
	image, err := mountDiskImage(ctx, imagePath)
	if err != nil {
		return err
	}
	defer image.unmount(ctx)

	for _, item := range rec.ItemsToCopy {
		if err := CopyItem(ctx, image, item, e.TempDir, e.DefaultOwner, e.DefaultGroup); err != nil {
			return err
		}
	}
	return nil
}

// installFlatPackage runs a non-disk-image installer item (a flat .pkg) via
// /usr/sbin/installer, supervised as a launchd job so the installation
// survives an agent restart or logout mid-install (§4.E).
func (e *Executor) installFlatPackage(ctx context.Context, installerPath string) error {
	args := append([]string{"/usr/sbin/installer", "-pkg", installerPath, "-target", "/"}, e.ScriptArgs...)
	return e.RunSupervised(ctx, args, nil)
}

func (e *Executor) runLifecycleScript(ctx context.Context, phase, recordName, content string) error {
	name := phase + "-" + recordName
	exitCode, err := RunEmbeddedScript(ctx, name, content, e.TempDir, e.scriptTimeout(), e.Logger)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return agenterr.New(agenterr.IO, "install.runLifecycleScript", filepath.Join(e.TempDir, name), errNonZeroExit)
	}
	return nil
}

// RunSupervised launches programArgs as a launchd job and blocks until it is
// no longer listed as running, polling at registry.PollResolution through
// registry.AwaitDone (§5: "yielding ... for roughly 100 ms per poll"), here
// driving a launchd-job state query.
func (e *Executor) RunSupervised(ctx context.Context, programArgs []string, env map[string]string) error {
	job, err := NewJob(programArgs, env, e.JobsDir, e.TempDir)
	if err != nil {
		return err
	}
	defer job.Close(ctx, true)

	if err := job.Load(ctx); err != nil {
		return err
	}
	if err := job.Start(ctx); err != nil {
		return err
	}

	var runningErr error
	notRunning := func() bool {
		running, err := job.Running(ctx)
		if err != nil {
			runningErr = err
			return true
		}
		return !running
	}
	if err := registry.AwaitDone(ctx, e.Stop, notRunning); err != nil {
		return err
	}
	if runningErr != nil {
		return runningErr
	}

	status, err := job.ExitStatus(ctx)
	if err != nil {
		return err
	}
	if status != 0 {
		return agenterr.New(agenterr.IO, "install.Executor.RunSupervised", job.Descriptor.Label, errNonZeroExit)
	}
	return nil
}

func restartActionToPostAction(r manifest.RestartAction) PostAction {
	switch r {
	case manifest.RestartRequireLogout:
		return PostActionLogout
	case manifest.RestartRequire, manifest.RestartRecommend:
		return PostActionRestart
	default:
		return PostActionNone
	}
}

var (
	errNoUninstallScript = noUninstallScriptErr{}
	errNonZeroExit       = nonZeroExitErr{}
)

type noUninstallScriptErr struct{}

func (noUninstallScriptErr) Error() string { return "package record has no uninstall script" }

type nonZeroExitErr struct{}

func (nonZeroExitErr) Error() string { return "script exited non-zero" }

// ensureTempDir creates dir, and any missing parents, with mode 0755 as a
// scratch temp directory for an Executor.
func ensureTempDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
