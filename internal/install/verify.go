package install

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/manifest"
)

// VerifyInstalls fans out a package record's installs presence checks
// concurrently, cancelling the remaining checks on the first failure
// (§5: the one place independent checks are allowed to run concurrently).
// A check's Type selects the predicate applied to Path; unrecognized types
// are treated as a plain existence check.
func VerifyInstalls(ctx context.Context, checks []manifest.InstallCheck) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, check := range checks {
		check := check
		group.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return verifyOne(check)
		})
	}
	return group.Wait()
}

func verifyOne(check manifest.InstallCheck) error {
	info, err := os.Stat(check.Path)
	if err != nil {
		return agenterr.New(agenterr.NotFound, "install.VerifyInstalls", check.Path, err)
	}
	switch check.Type {
	case "directory":
		if !info.IsDir() {
			return agenterr.New(agenterr.NotFound, "install.VerifyInstalls", check.Path, errNotDirectory)
		}
	case "file", "":
		if info.IsDir() {
			return agenterr.New(agenterr.NotFound, "install.VerifyInstalls", check.Path, errNotFile)
		}
	}
	return nil
}

var (
	errNotDirectory = notDirectoryErr{}
	errNotFile      = notFileErr{}
)

type notDirectoryErr struct{}

func (notDirectoryErr) Error() string { return "expected a directory" }

type notFileErr struct{}

func (notFileErr) Error() string { return "expected a file" }
