package install

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

// checkScriptPermissions enforces §4.E's external-script permission gate:
// owner must be root or the current process owner; group must be wheel or
// admin; the file must not be world-writable; it must be executable.
// Violating any check raises agenterr.Insecure.
func checkScriptPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return agenterr.New(agenterr.IO, "install.checkScriptPermissions", path, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return agenterr.New(agenterr.Insecure, "install.checkScriptPermissions", path, fmt.Errorf("cannot determine ownership"))
	}

	processUID := os.Getuid()
	if int(stat.Uid) != 0 && int(stat.Uid) != processUID {
		return agenterr.New(agenterr.Insecure, "install.checkScriptPermissions", path, fmt.Errorf("owner uid %d is neither root nor the current process owner", stat.Uid))
	}

	if !isAllowedGroup(int(stat.Gid)) {
		return agenterr.New(agenterr.Insecure, "install.checkScriptPermissions", path, fmt.Errorf("group gid %d is neither wheel nor admin", stat.Gid))
	}

	if info.Mode().Perm()&0o002 != 0 {
		return agenterr.New(agenterr.Insecure, "install.checkScriptPermissions", path, fmt.Errorf("script is world-writable"))
	}
	if info.Mode().Perm()&0o111 == 0 {
		return agenterr.New(agenterr.Insecure, "install.checkScriptPermissions", path, fmt.Errorf("script is not executable"))
	}
	return nil
}

func isAllowedGroup(gid int) bool {
	for _, name := range []string{"wheel", "admin"} {
		g, err := user.LookupGroup(name)
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(g.Gid); err == nil && n == gid {
			return true
		}
	}
	return false
}

// RunScript executes path under timeout, streaming stdout line-buffered to
// logger and capturing stderr. On nonzero exit the full captured output is
// emitted at error level framed by dashed separators (§4.E).
func RunScript(ctx context.Context, path string, args []string, timeout time.Duration, logger *log.Logger) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, agenterr.New(agenterr.IO, "install.RunScript", path, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return -1, agenterr.New(agenterr.IO, "install.RunScript", path, err)
	}

	var captured bytes.Buffer
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		captured.WriteString(line)
		captured.WriteByte('\n')
		if logger != nil {
			logger.Print(line)
		}
	}

	err = cmd.Wait()
	captured.Write(stderr.Bytes())

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return -1, agenterr.New(agenterr.IO, "install.RunScript", path, err)
		}
	}

	if exitCode != 0 && logger != nil {
		logger.Printf("--- %s exited %d ---\n%s\n---", path, exitCode, captured.String())
	}
	return exitCode, nil
}

// RunExternalScript enforces the permission gate before running path.
func RunExternalScript(ctx context.Context, path string, args []string, timeout time.Duration, logger *log.Logger) (int, error) {
	if err := checkScriptPermissions(path); err != nil {
		return -1, err
	}
	return RunScript(ctx, path, args, timeout, logger)
}

// RunEmbeddedScript materializes content (a pkginfo field's string value) to
// a mode-0700 temp file and executes it. Embedded scripts are authored by
// the same party that signs off on the catalog entry, so they bypass the
// external-script permission gate (§4.E).
func RunEmbeddedScript(ctx context.Context, name, content, tempDir string, timeout time.Duration, logger *log.Logger) (int, error) {
	path := filepath.Join(tempDir, name)
	if err := os.WriteFile(path, []byte(content), 0o700); err != nil {
		return -1, agenterr.New(agenterr.IO, "install.RunEmbeddedScript", path, err)
	}
	return RunScript(ctx, path, nil, timeout, logger)
}
