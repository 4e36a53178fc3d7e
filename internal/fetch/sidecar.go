package fetch

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/plist"
)

// downloadDataAttr is the extended attribute name under which sidecar
// metadata is stored on the destination file (§6).
const downloadDataAttr = "com.googlecode.munki.downloadData"

// quarantineAttr is the macOS Gatekeeper quarantine attribute stripped from
// copied disk-image payloads by the Install Executor (§4.E, scenario 7).
const quarantineAttr = "com.apple.quarantine"

// Sidecar is the per-file download bookkeeping used for cache validation and
// resume (§3 FetchResource, §6).
type Sidecar struct {
	ETag           string `plist:"etag"`
	LastModified   string `plist:"last-modified"`
	ExpectedLength string `plist:"expected-length"`
}

// readSidecar loads the sidecar attribute from destination. A missing
// attribute is not an error: it simply means no prior download bookkeeping
// exists, returning a zero Sidecar.
func readSidecar(destination string) (Sidecar, error) {
	size, err := unix.Getxattr(destination, downloadDataAttr, nil)
	if err != nil {
		if err == unix.ENODATA || err == unix.ENOATTR {
			return Sidecar{}, nil
		}
		if err == unix.ENOENT {
			return Sidecar{}, nil
		}
		return Sidecar{}, agenterr.New(agenterr.IO, "fetch.readSidecar", destination, err)
	}
	if size == 0 {
		return Sidecar{}, nil
	}
	buf := make([]byte, size)
	if _, err := unix.Getxattr(destination, downloadDataAttr, buf); err != nil {
		return Sidecar{}, agenterr.New(agenterr.IO, "fetch.readSidecar", destination, err)
	}

	var sc Sidecar
	if err := plist.Decode(buf, &sc); err != nil {
		return Sidecar{}, err
	}
	return sc, nil
}

// writeSidecar persists the sidecar attribute on destination.
func writeSidecar(destination string, sc Sidecar) error {
	data, err := plist.Encode(sc, plist.BinaryFormat)
	if err != nil {
		return err
	}
	if err := unix.Setxattr(destination, downloadDataAttr, data, 0); err != nil {
		return agenterr.New(agenterr.IO, "fetch.writeSidecar", destination, err)
	}
	return nil
}

// clearExpectedLength removes the in-progress-download marker from the
// sidecar after a successful full download, so a subsequent fetch does not
// attempt to resume against a file that is already complete (§4.B, §8
// "Sidecar clearing").
func clearExpectedLength(destination string) error {
	sc, err := readSidecar(destination)
	if err != nil {
		return err
	}
	if sc.ExpectedLength == "" {
		return nil
	}
	sc.ExpectedLength = ""
	return writeSidecar(destination, sc)
}

// StripQuarantine recursively removes the quarantine attribute from path and
// every descendant, used by the Install Executor after copying disk-image
// payloads (§4.E, §8 scenario 7). It lives here because it shares the xattr
// plumbing with the sidecar helpers above.
func StripQuarantine(path string) error {
	return removeXattrRecursive(path, quarantineAttr)
}

func removeXattrRecursive(root, attr string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return removeXattr(path, attr)
	})
}

func removeXattr(path, attr string) error {
	err := unix.Removexattr(path, attr)
	if err != nil && err != unix.ENODATA && err != unix.ENOATTR && err != unix.ENOENT {
		return agenterr.New(agenterr.IO, "fetch.removeXattr", path, err)
	}
	return nil
}
