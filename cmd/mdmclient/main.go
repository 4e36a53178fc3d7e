package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fleetline/mdmclient/internal/config"
	"github.com/fleetline/mdmclient/internal/fetch"
	"github.com/fleetline/mdmclient/internal/install"
	"github.com/fleetline/mdmclient/internal/logging"
	"github.com/fleetline/mdmclient/internal/manifest"
	"github.com/fleetline/mdmclient/internal/pending"
	"github.com/fleetline/mdmclient/internal/registry"
)

var passSelectors = []manifest.SelectorKey{
	manifest.SelectorManagedInstalls,
	manifest.SelectorManagedUpdates,
	manifest.SelectorOptionalInstalls,
	manifest.SelectorManagedUninstalls,
	manifest.SelectorDefaultInstalls,
	manifest.SelectorFeaturedItems,
}

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runPass(ctx, os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("mdmclient")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mdmclient run [--config /etc/mdmclient/config.yaml]")
}

// runPass resolves a machine's manifests, fetches and installs whatever
// those manifests select, tracks pending-update state, and persists the
// result, in one cooperative-cancellation pass (§5).
func runPass(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to agent configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Repo.ManagedInstallsDir == "" {
		return fmt.Errorf("repo.managed_installs_dir must be configured")
	}

	layout := newDirLayout(cfg.Repo.ManagedInstallsDir)
	if err := layout.ensure(); err != nil {
		return fmt.Errorf("prepare managed installs dir: %w", err)
	}

	logger := logging.New()
	logger.Printf("run starting (repo=%s, managed_installs_dir=%s)", cfg.Repo.URL, cfg.Repo.ManagedInstallsDir)

	prefs, err := config.LoadPreferences(layout.preferencesPath)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	runCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	stop := registry.NewStopToken()
	go func() {
		<-runCtx.Done()
		stop.Stop()
	}()

	active := registry.NewActiveManifests()
	report := registry.NewReport()
	tempDirs, err := registry.NewTempDirs(layout.tempRoot)
	if err != nil {
		return fmt.Errorf("create temp dirs: %w", err)
	}
	defer tempDirs.Close()

	fetchOptions := fetchOptionsFromConfig(cfg.Fetch)
	fetchClient := fetch.NewClient(cfg.Repo.URL, fetch.WithBandwidthLimit(cfg.Fetch.BandwidthLimitBytesPS))

	docFetcher := &manifest.DocumentFetcher{
		Client:       fetchClient,
		ManifestsDir: layout.manifestsDir,
		CatalogsDir:  layout.catalogsDir,
		Options:      fetchOptions,
	}
	catalogs := manifest.NewCatalogStore(docFetcher)
	resolver := &manifest.Resolver{
		Fetcher:  docFetcher,
		Catalogs: catalogs,
		Active:   active,
		Stop:     stop,
		Logger:   logger,
	}

	candidates := manifest.PrimaryManifestCandidates(prefs.ClientIdentifier, hostname(), shortHostname(), hardwareSerial())
	primary, err := resolver.DiscoverPrimary(runCtx, candidates)
	if err != nil {
		prefs.LastCheckResult = "FAILED: " + err.Error()
		_ = config.SavePreferences(layout.preferencesPath, prefs)
		return fmt.Errorf("discover primary manifest: %w", err)
	}

	info := manifest.NewInstallInfo()
	evalCtx := manifest.EvaluationContext{}
	for _, selector := range passSelectors {
		if err := resolver.Resolve(runCtx, primary, selector, evalCtx, info); err != nil {
			return fmt.Errorf("resolve %s: %w", selector, err)
		}
	}

	if err := manifest.Cleanup(active, layout.manifestsDir); err != nil {
		logger.Printf("manifest cleanup failed: %v", err)
	}

	executor := &install.Executor{
		TempDir:       tempDirs.Shared(),
		JobsDir:       cfg.Install.LaunchdJobsDir,
		DefaultOwner:  firstNonEmpty(cfg.Install.DefaultOwner, "root"),
		DefaultGroup:  firstNonEmpty(cfg.Install.DefaultGroup, "admin"),
		ScriptTimeout: cfg.Install.ScriptTimeout,
		Logger:        logger,
		Stop:          stop,
	}

	overallAction := install.PostActionNone
	for _, rec := range info.ManagedInstalls {
		if stop.Requested() {
			break
		}
		action, err := fetchAndInstall(runCtx, fetchClient, fetchOptions, executor, rec, layout.packagesDir)
		if err != nil {
			logger.Printf("install %q failed: %v", rec.Name, err)
			continue
		}
		overallAction = install.MaxPostAction(overallAction, action)
	}
	for _, rec := range info.Removals {
		if stop.Requested() {
			break
		}
		action, err := executor.Remove(runCtx, rec)
		if err != nil {
			logger.Printf("remove %q failed: %v", rec.Name, err)
			continue
		}
		overallAction = install.MaxPostAction(overallAction, action)
	}

	tracker := &pending.Tracker{
		TrackingPath:     layout.pendingTrackingPath,
		AppleHistoryPath: layout.appleHistoryPath,
	}
	now := runStartTime()
	if err := tracker.SavePendingUpdateTimes(info, nil, nil, now); err != nil {
		logger.Printf("save pending update times failed: %v", err)
	}
	pendingInfo := tracker.GetPendingUpdateInfo(info, nil, nil, now)

	status, _ := pending.ForceInstallPackageCheck(toPackagePointers(info.ManagedInstalls), nil, prefs.InstallAppleSoftwareUpdates, nil, now)
	logger.Printf("force-install status: %s", status)

	prefs.LastCheckDate = &now
	prefs.LastCheckResult = "SUCCESS"
	prefs.PendingUpdateCount = pendingInfo.TotalCount
	prefs.OldestUpdateDays = pendingInfo.OldestPendingDays
	prefs.ForcedUpdateDueDate = pendingInfo.EarliestForceInstallAt
	if err := config.SavePreferences(layout.preferencesPath, prefs); err != nil {
		logger.Printf("save preferences failed: %v", err)
	}

	report.Set("ManifestName", primary.Name)
	report.Set("PendingUpdateCount", int64(pendingInfo.TotalCount))
	report.Set("OldestUpdateDays", pendingInfo.OldestPendingDays)
	report.Set("PostAction", overallAction.String())
	if err := report.Save(layout.reportPath); err != nil {
		logger.Printf("save report failed: %v", err)
	}

	logger.Printf("run complete: installs=%d removals=%d postAction=%s", len(info.ManagedInstalls), len(info.Removals), overallAction)
	return nil
}

// fetchAndInstall downloads a package record's installer item (or, for a
// disk-image record, the image itself) and runs it through the executor.
func fetchAndInstall(ctx context.Context, client *fetch.Client, opts fetch.Options, executor *install.Executor, rec manifest.PackageRecord, packagesDir string) (install.PostAction, error) {
	if rec.InstallerItem == "" {
		return install.PostActionNone, fmt.Errorf("package record %q has no installer_item", rec.Name)
	}
	dest := filepath.Join(packagesDir, rec.InstallerItem)
	if _, err := client.Fetch(ctx, fetch.Package, rec.InstallerItem, dest, opts); err != nil {
		return install.PostActionNone, fmt.Errorf("fetch %q: %w", rec.InstallerItem, err)
	}
	return executor.Install(ctx, rec, dest)
}

func toPackagePointers(records []manifest.PackageRecord) []*manifest.PackageRecord {
	out := make([]*manifest.PackageRecord, len(records))
	for i := range records {
		out[i] = &records[i]
	}
	return out
}

func fetchOptionsFromConfig(cfg config.FetchConfig) fetch.Options {
	opts := fetch.Options{
		Timeout:       cfg.Timeout,
		MinTLS:        minTLSVersion(cfg.MinTLSVersion),
		CABundlePath:  cfg.CABundlePath,
		OnlyIfChanged: true,
		Resume:        true,
	}
	if cfg.FollowRedirects {
		opts.FollowRedirects = fetch.RedirectAllowAll
	} else {
		opts.FollowRedirects = fetch.RedirectDenyAll
	}
	return opts
}

func minTLSVersion(name string) uint16 {
	switch name {
	case "1.3":
		return tlsVersion13
	case "1.1":
		return tlsVersion11
	case "1.0":
		return tlsVersion10
	default:
		return tlsVersion12
	}
}

const (
	tlsVersion10 = 0x0301
	tlsVersion11 = 0x0302
	tlsVersion12 = 0x0303
	tlsVersion13 = 0x0304
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// runStartTime stamps the current pass. A single call site keeps every
// timestamp recorded during a run consistent.
func runStartTime() time.Time {
	return time.Now().UTC()
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func shortHostname() string {
	full := hostname()
	if idx := strings.Index(full, "."); idx >= 0 {
		return full[:idx]
	}
	return full
}

// hardwareSerial reads the hardware serial number via ioreg, the same
// source munki-derived tooling has always used on macOS. Empty on any
// failure, which simply drops it from the fallback-candidate list.
func hardwareSerial() string {
	out, err := exec.Command("ioreg", "-c", "IOPlatformExpertDevice", "-d", "2").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformSerialNumber") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		return strings.Trim(strings.TrimSpace(parts[1]), "\"")
	}
	return ""
}

// dirLayout is the on-disk directory structure rooted at the configured
// managed-installs directory (§6).
type dirLayout struct {
	root                string
	manifestsDir        string
	catalogsDir         string
	packagesDir         string
	tempRoot            string
	preferencesPath     string
	reportPath          string
	pendingTrackingPath string
	appleHistoryPath    string
}

func newDirLayout(root string) dirLayout {
	return dirLayout{
		root:                root,
		manifestsDir:        filepath.Join(root, "manifests"),
		catalogsDir:         filepath.Join(root, "catalogs"),
		packagesDir:         filepath.Join(root, "Cache"),
		tempRoot:            filepath.Join(root, "tmp"),
		preferencesPath:     filepath.Join(root, "Preferences.plist"),
		reportPath:          filepath.Join(root, "ManagedInstallReport.plist"),
		pendingTrackingPath: filepath.Join(root, "PendingUpdateNotifications.plist"),
		appleHistoryPath:    filepath.Join(root, "AppleUpdateHistory.plist"),
	}
}

func (d dirLayout) ensure() error {
	for _, dir := range []string{d.root, d.manifestsDir, d.catalogsDir, d.packagesDir, d.tempRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
