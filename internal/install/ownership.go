package install

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

// applyOwnership recursively sets owner/group and mode under root.
// explicitMode, when non-empty, is applied verbatim to every entry; an empty
// explicitMode applies §4.E's default instead: "o-w,go+rX" (strip world
// write, add group/other read, and add group/other execute only where the
// owner already has execute — directories always gain traversal).
func applyOwnership(root, owner, group, explicitMode string) error {
	uid, err := lookupUID(owner)
	if err != nil {
		return err
	}
	gid, err := lookupGID(group)
	if err != nil {
		return err
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := unix.Lchown(path, uid, gid); err != nil {
			return agenterr.New(agenterr.IO, "install.applyOwnership", path, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		mode := resolveMode(explicitMode, info)
		if err := os.Chmod(path, mode); err != nil {
			return agenterr.New(agenterr.IO, "install.applyOwnership", path, err)
		}
		return nil
	})
}

func resolveMode(explicitMode string, info os.FileInfo) os.FileMode {
	if explicitMode != "" {
		return parseMode(explicitMode, info.Mode().Perm())
	}
	mode := info.Mode().Perm()
	mode &^= 0o002
	mode |= 0o044
	if info.IsDir() || mode&0o100 != 0 {
		mode |= 0o011
	}
	return mode
}

func lookupUID(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return -1, agenterr.New(agenterr.Invalid, "install.lookupUID", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return -1, agenterr.New(agenterr.Invalid, "install.lookupUID", name, err)
	}
	return uid, nil
}

func lookupGID(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return -1, agenterr.New(agenterr.Invalid, "install.lookupGID", name, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return -1, agenterr.New(agenterr.Invalid, "install.lookupGID", name, err)
	}
	return gid, nil
}
