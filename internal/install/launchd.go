package install

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/plist"
)

var exitStatusPattern = regexp.MustCompile(`"LastExitStatus"\s*=\s*(-?\d+)`)

// JobDescriptor is a launchd job's property-list contents (§4.E).
type JobDescriptor struct {
	Label                string            `plist:"Label"`
	ProgramArguments     []string          `plist:"ProgramArguments"`
	EnvironmentVariables map[string]string `plist:"EnvironmentVariables,omitempty"`
	StandardOutPath      string            `plist:"StandardOutPath"`
	StandardErrorPath    string            `plist:"StandardErrorPath"`
}

// Job is a launchd-supervised child process (§4.E). It is created with a
// unique label, loaded, started, and polled until completion, then torn
// down.
type Job struct {
	Descriptor JobDescriptor
	PlistPath  string
	cleanup    []string
}

// NewJob builds a job descriptor with a unique label and writes its plist to
// jobsDir. stdoutPath/stderrPath live under tempDir so Close can remove them
// alongside the descriptor.
func NewJob(programArgs []string, env map[string]string, jobsDir, tempDir string) (*Job, error) {
	label := "com.googlecode.munki." + uuid.NewString()
	stdoutPath := tempDir + "/" + label + ".out"
	stderrPath := tempDir + "/" + label + ".err"

	descriptor := JobDescriptor{
		Label:                label,
		ProgramArguments:     programArgs,
		EnvironmentVariables: env,
		StandardOutPath:      stdoutPath,
		StandardErrorPath:    stderrPath,
	}

	plistPath := jobsDir + "/" + label + ".plist"
	data, err := plist.Encode(descriptor, plist.XMLFormat)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(plistPath, data, 0o644); err != nil {
		return nil, agenterr.New(agenterr.IO, "install.NewJob", plistPath, err)
	}

	uid, err := lookupUID("root")
	if err != nil {
		return nil, err
	}
	gid, err := lookupGID("wheel")
	if err != nil {
		return nil, err
	}
	if err := unix.Chown(plistPath, uid, gid); err != nil {
		return nil, agenterr.New(agenterr.IO, "install.NewJob", plistPath, err)
	}

	return &Job{
		Descriptor: descriptor,
		PlistPath:  plistPath,
		cleanup:    []string{plistPath, stdoutPath, stderrPath},
	}, nil
}

// Load loads the job descriptor into launchd.
func (j *Job) Load(ctx context.Context) error {
	return runLaunchctl(ctx, "load", j.PlistPath)
}

// Start starts the loaded job.
func (j *Job) Start(ctx context.Context) error {
	return runLaunchctl(ctx, "start", j.Descriptor.Label)
}

// Unload removes the job from launchd.
func (j *Job) Unload(ctx context.Context) error {
	return runLaunchctl(ctx, "unload", j.PlistPath)
}

// Running reports whether launchd still lists the job as active, by
// grep-parsing `launchctl list` output for the label (§4.E: "poll job state
// by parsing the supervisor's list output").
func (j *Job) Running(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "launchctl", "list")
	out, err := cmd.Output()
	if err != nil {
		return false, agenterr.New(agenterr.IO, "install.Job.Running", j.Descriptor.Label, err)
	}
	return strings.Contains(string(out), j.Descriptor.Label), nil
}

// ExitStatus queries `launchctl list <label>`'s descriptive-plist-style
// output for the job's LastExitStatus field, valid only once Running
// reports false. Munki-derived tooling has always scraped this output by
// text rather than structured decoding, since launchctl list does not
// support -plist for a single label the way hdiutil attach does.
func (j *Job) ExitStatus(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, "launchctl", "list", j.Descriptor.Label)
	out, err := cmd.Output()
	if err != nil {
		return -1, agenterr.New(agenterr.IO, "install.Job.ExitStatus", j.Descriptor.Label, err)
	}
	match := exitStatusPattern.FindSubmatch(out)
	if match == nil {
		return -1, agenterr.New(agenterr.Malformed, "install.Job.ExitStatus", j.Descriptor.Label, fmt.Errorf("LastExitStatus not found in launchctl output"))
	}
	status, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return -1, agenterr.New(agenterr.Malformed, "install.Job.ExitStatus", j.Descriptor.Label, err)
	}
	return status, nil
}

// Close unloads the job and deletes every temp file it created, when
// cleanup is enabled (§4.E: "on destruction... unload the job and delete
// all temp files it created").
func (j *Job) Close(ctx context.Context, cleanupEnabled bool) error {
	if !cleanupEnabled {
		return nil
	}
	if err := j.Unload(ctx); err != nil {
		return err
	}
	for _, path := range j.cleanup {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return agenterr.New(agenterr.IO, "install.Job.Close", path, err)
		}
	}
	return nil
}

func runLaunchctl(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "launchctl", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return agenterr.New(agenterr.IO, "install.launchctl", strings.Join(args, " "), fmt.Errorf("%w: %s", err, out))
	}
	return nil
}
