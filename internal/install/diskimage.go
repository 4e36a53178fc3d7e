package install

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/fetch"
	"github.com/fleetline/mdmclient/internal/manifest"
	"github.com/fleetline/mdmclient/internal/plist"
)

// MountedImage is an attached disk image and the mountpoint it exposes,
// along with whether this executor is responsible for unmounting it (§4.E:
// "honoring already-mounted reuse").
type MountedImage struct {
	Path        string
	MountPoint  string
	mountedByUs bool
}

// mountDiskImage attaches path via hdiutil, parsing its plist-formatted
// attach report for the mounted volume's path. If the image is already
// attached, it reuses that mount instead of attaching a second copy, and
// does not take ownership of unmounting it.
func mountDiskImage(ctx context.Context, path string) (MountedImage, error) {
	if existing, ok, err := alreadyMountedImage(ctx, path); err != nil {
		return MountedImage{}, err
	} else if ok {
		return existing, nil
	}

	cmd := exec.CommandContext(ctx, "hdiutil", "attach", "-nobrowse", "-plist", "-mountrandom", "/tmp", path)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return MountedImage{}, agenterr.New(agenterr.IO, "install.mountDiskImage", path, fmt.Errorf("hdiutil attach: %w: %s", err, stderr.String()))
	}

	var report struct {
		SystemEntities []struct {
			MountPoint string `plist:"mount-point"`
		} `plist:"system-entities"`
	}
	if err := plist.Decode(stdout.Bytes(), &report); err != nil {
		return MountedImage{}, agenterr.New(agenterr.Malformed, "install.mountDiskImage", path, err)
	}
	for _, entity := range report.SystemEntities {
		if entity.MountPoint != "" {
			return MountedImage{Path: path, MountPoint: entity.MountPoint, mountedByUs: true}, nil
		}
	}
	return MountedImage{}, agenterr.New(agenterr.Malformed, "install.mountDiskImage", path, fmt.Errorf("no mount point reported"))
}

// alreadyMountedImage consults `hdiutil info -plist` for an already-attached
// copy of path, matched by absolute image path. A hit is reported with
// mountedByUs false so unmount never detaches a mount this executor didn't
// create (§4.E: "honoring already-mounted reuse").
func alreadyMountedImage(ctx context.Context, path string) (MountedImage, bool, error) {
	cmd := exec.CommandContext(ctx, "hdiutil", "info", "-plist")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return MountedImage{}, false, agenterr.New(agenterr.IO, "install.mountDiskImage", path, fmt.Errorf("hdiutil info: %w: %s", err, stderr.String()))
	}
	return parseHdiutilInfo(stdout.Bytes(), path)
}

// parseHdiutilInfo finds path within an `hdiutil info -plist` report,
// matched by absolute image path, and returns its current mount point if
// any. Split out from alreadyMountedImage so the matching logic is testable
// without a real hdiutil invocation.
func parseHdiutilInfo(data []byte, path string) (MountedImage, bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	var report struct {
		Images []struct {
			ImagePath      string `plist:"image-path"`
			SystemEntities []struct {
				MountPoint string `plist:"mount-point"`
			} `plist:"system-entities"`
		} `plist:"images"`
	}
	if err := plist.Decode(data, &report); err != nil {
		return MountedImage{}, false, agenterr.New(agenterr.Malformed, "install.mountDiskImage", path, err)
	}

	for _, img := range report.Images {
		imgAbs, err := filepath.Abs(img.ImagePath)
		if err != nil {
			imgAbs = img.ImagePath
		}
		if imgAbs != absPath {
			continue
		}
		for _, entity := range img.SystemEntities {
			if entity.MountPoint != "" {
				return MountedImage{Path: path, MountPoint: entity.MountPoint, mountedByUs: false}, true, nil
			}
		}
	}
	return MountedImage{}, false, nil
}

// unmount detaches the image, forcing detach if needed. A no-op if this
// executor did not mount it.
func (m MountedImage) unmount(ctx context.Context) error {
	if !m.mountedByUs || m.MountPoint == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "hdiutil", "detach", m.MountPoint, "-force")
	if out, err := cmd.CombinedOutput(); err != nil {
		return agenterr.New(agenterr.IO, "install.unmount", m.MountPoint, fmt.Errorf("hdiutil detach: %w: %s", err, out))
	}
	return nil
}

// resolveDestination computes the absolute destination path for an
// ItemToCopy, applying the fallback rule from §4.E: if only
// DestinationItem is set and contains a directory component, it is split
// into a parent directory plus filename; the final filename defaults to the
// source item's basename.
func resolveDestination(item manifest.ItemToCopy) (dir, filename string, err error) {
	if item.DestinationPath != "" {
		dir = item.DestinationPath
		filename = item.DestinationItem
		if filename == "" {
			filename = filepath.Base(item.SourceItem)
		}
		return dir, filename, nil
	}
	if item.DestinationItem == "" {
		return "", "", agenterr.New(agenterr.Invalid, "install.resolveDestination", item.SourceItem, fmt.Errorf("item_to_copy has neither destination_path nor destination_item"))
	}
	dir, filename = filepath.Split(item.DestinationItem)
	dir = filepath.Clean(dir)
	if filename == "" {
		filename = filepath.Base(item.SourceItem)
	}
	return dir, filename, nil
}

// CopyItem copies one items_to_copy entry from the mounted image into its
// final destination: recursive copy to a temp location, quarantine strip,
// ownership/mode application, then an atomic replace of the existing
// destination (§4.E).
func CopyItem(ctx context.Context, image MountedImage, item manifest.ItemToCopy, tempDir string, defaultOwner, defaultGroup string) error {
	sourcePath := filepath.Join(image.MountPoint, item.SourceItem)
	if _, err := os.Stat(sourcePath); err != nil {
		return agenterr.New(agenterr.NotFound, "install.CopyItem", sourcePath, err)
	}

	destDir, filename, err := resolveDestination(item)
	if err != nil {
		return err
	}
	destination := filepath.Join(destDir, filename)

	if err := ensureDir(destDir); err != nil {
		return err
	}

	stagingPath := filepath.Join(tempDir, filename)
	if err := copyTree(sourcePath, stagingPath); err != nil {
		return err
	}

	if err := fetch.StripQuarantine(stagingPath); err != nil {
		return err
	}

	owner := item.User
	if owner == "" {
		owner = defaultOwner
	}
	group := item.Group
	if group == "" {
		group = defaultGroup
	}
	if err := applyOwnership(stagingPath, owner, group, item.Mode); err != nil {
		return err
	}

	if err := os.RemoveAll(destination); err != nil && !os.IsNotExist(err) {
		return agenterr.New(agenterr.IO, "install.CopyItem", destination, err)
	}
	if err := os.Rename(stagingPath, destination); err != nil {
		return agenterr.New(agenterr.IO, "install.CopyItem", destination, err)
	}
	return nil
}

// ensureDir creates dir and any missing intermediate directories, inheriting
// owner/group/mode from the nearest existing ancestor (§4.E), defaulting to
// mode 0755 when no ancestor exists.
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	ancestor, mode, uid, gid := nearestExistingAncestor(dir)
	if err := os.MkdirAll(dir, mode); err != nil {
		return agenterr.New(agenterr.IO, "install.ensureDir", dir, err)
	}
	if ancestor != "" {
		return chownCreatedPath(dir, ancestor, uid, gid)
	}
	return nil
}

func nearestExistingAncestor(dir string) (path string, mode os.FileMode, uid, gid int) {
	current := dir
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return "", 0o755, -1, -1
		}
		if info, err := os.Stat(parent); err == nil {
			mode = info.Mode().Perm()
			uid, gid = -1, -1
			if sys, ok := info.Sys().(*syscall.Stat_t); ok {
				uid, gid = int(sys.Uid), int(sys.Gid)
			}
			return parent, mode, uid, gid
		}
		current = parent
	}
}

// chownCreatedPath recursively applies the ancestor's ownership to every
// directory created under ancestor up to and including dir.
func chownCreatedPath(dir, ancestor string, uid, gid int) error {
	if uid < 0 || gid < 0 {
		return nil
	}
	rel, err := filepath.Rel(ancestor, dir)
	if err != nil {
		return nil
	}
	current := ancestor
	for _, part := range splitPath(rel) {
		current = filepath.Join(current, part)
		if err := unix.Chown(current, uid, gid); err != nil {
			return agenterr.New(agenterr.IO, "install.chownCreatedPath", current, err)
		}
	}
	return nil
}

func splitPath(rel string) []string {
	if rel == "." || rel == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(filepath.ToSlash(rel), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// copyTree recursively copies src (file or directory) to dst.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return agenterr.New(agenterr.IO, "install.copyTree", src, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return agenterr.New(agenterr.IO, "install.copyTree", src, err)
		}
		return os.Symlink(target, dst)
	}

	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return agenterr.New(agenterr.IO, "install.copyTree", dst, err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return agenterr.New(agenterr.IO, "install.copyTree", src, err)
		}
		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	return copyRegularFile(src, dst, info.Mode().Perm())
}

func copyRegularFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return agenterr.New(agenterr.IO, "install.copyRegularFile", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return agenterr.New(agenterr.IO, "install.copyRegularFile", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return agenterr.New(agenterr.IO, "install.copyRegularFile", dst, err)
	}
	return out.Sync()
}

func parseMode(s string, fallback os.FileMode) os.FileMode {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return fallback
	}
	return os.FileMode(n)
}
