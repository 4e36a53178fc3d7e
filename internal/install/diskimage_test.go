package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetline/mdmclient/internal/manifest"
)

func TestResolveDestinationPrefersDestinationPath(t *testing.T) {
	item := manifest.ItemToCopy{
		SourceItem:      "MyApp.app",
		DestinationPath: "/Applications",
	}
	dir, name, err := resolveDestination(item)
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/Applications" || name != "MyApp.app" {
		t.Fatalf("got dir=%q name=%q", dir, name)
	}
}

func TestResolveDestinationPrefersDestinationPathWithExplicitItem(t *testing.T) {
	item := manifest.ItemToCopy{
		SourceItem:      "MyApp.app",
		DestinationPath: "/Applications",
		DestinationItem: "Renamed.app",
	}
	_, name, err := resolveDestination(item)
	if err != nil {
		t.Fatal(err)
	}
	if name != "Renamed.app" {
		t.Fatalf("name = %q, want Renamed.app", name)
	}
}

func TestResolveDestinationSplitsDestinationItem(t *testing.T) {
	item := manifest.ItemToCopy{
		SourceItem:      "MyApp.app",
		DestinationItem: "/Applications/Renamed.app",
	}
	dir, name, err := resolveDestination(item)
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/Applications" || name != "Renamed.app" {
		t.Fatalf("got dir=%q name=%q", dir, name)
	}
}

func TestResolveDestinationDefaultsFilenameFromSource(t *testing.T) {
	item := manifest.ItemToCopy{
		SourceItem:      "MyApp.app",
		DestinationItem: "/Applications/",
	}
	dir, name, err := resolveDestination(item)
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/Applications" || name != "MyApp.app" {
		t.Fatalf("got dir=%q name=%q", dir, name)
	}
}

func TestResolveDestinationRequiresSomeTarget(t *testing.T) {
	item := manifest.ItemToCopy{SourceItem: "MyApp.app"}
	if _, _, err := resolveDestination(item); err == nil {
		t.Fatal("expected an error when neither destination field is set")
	}
}

func TestCopyTreePreservesDirectoryStructure(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "Contents", "MacOS"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "Contents", "MacOS", "bin"), []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "MyApp.app")
	if err := copyTree(src, dst); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "Contents", "MacOS", "bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "binary" {
		t.Fatalf("copied content = %q, want %q", data, "binary")
	}
}

func TestEnsureDirInheritsAncestorMode(t *testing.T) {
	root := t.TempDir()
	if err := os.Chmod(root, 0o750); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(root, "a", "b", "c")
	if err := ensureDir(target); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("ensureDir did not create a directory")
	}
	if info.Mode().Perm() != 0o750 {
		t.Fatalf("mode = %o, want 750 inherited from ancestor", info.Mode().Perm())
	}
}

func TestResolveModeDefaultStripsWorldWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("x"), 0o767); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	mode := resolveMode("", info)
	if mode&0o002 != 0 {
		t.Fatalf("mode %o still has world-write bit set", mode)
	}
	if mode&0o044 != 0o044 {
		t.Fatalf("mode %o missing group/other read", mode)
	}
}

func TestResolveModeHonorsExplicitMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	mode := resolveMode("755", info)
	if mode != 0o755 {
		t.Fatalf("mode = %o, want 0755", mode)
	}
}

func TestResolveModeAddsExecuteOnlyWhenOwnerExecutable(t *testing.T) {
	dir := t.TempDir()

	execPath := filepath.Join(dir, "exec")
	os.WriteFile(execPath, []byte("x"), 0o744)
	execInfo, _ := os.Stat(execPath)
	if mode := resolveMode("", execInfo); mode&0o011 != 0o011 {
		t.Fatalf("owner-executable file should gain group/other execute, got %o", mode)
	}

	plainPath := filepath.Join(dir, "plain")
	os.WriteFile(plainPath, []byte("x"), 0o644)
	plainInfo, _ := os.Stat(plainPath)
	if mode := resolveMode("", plainInfo); mode&0o011 != 0 {
		t.Fatalf("non-executable file should not gain group/other execute, got %o", mode)
	}
}

func TestParseHdiutilInfoFindsAlreadyMountedImage(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "AppX.dmg")
	if err := os.WriteFile(imagePath, []byte("fake-dmg"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>images</key>
	<array>
		<dict>
			<key>image-path</key>
			<string>` + imagePath + `</string>
			<key>system-entities</key>
			<array>
				<dict>
					<key>mount-point</key>
					<string>/Volumes/AppX</string>
				</dict>
			</array>
		</dict>
	</array>
</dict>
</plist>`)

	image, ok, err := parseHdiutilInfo(report, imagePath)
	if err != nil {
		t.Fatalf("parseHdiutilInfo: %v", err)
	}
	if !ok {
		t.Fatal("expected an already-mounted match")
	}
	if image.MountPoint != "/Volumes/AppX" {
		t.Fatalf("MountPoint = %q, want /Volumes/AppX", image.MountPoint)
	}
	if image.mountedByUs {
		t.Fatal("a reused mount must not be marked mountedByUs, so unmount never detaches it")
	}
}

func TestParseHdiutilInfoNoMatch(t *testing.T) {
	report := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>images</key>
	<array/>
</dict>
</plist>`)

	_, ok, err := parseHdiutilInfo(report, "/tmp/NotMounted.dmg")
	if err != nil {
		t.Fatalf("parseHdiutilInfo: %v", err)
	}
	if ok {
		t.Fatal("expected no match against an empty images list")
	}
}
