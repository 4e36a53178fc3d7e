package manifest

import "time"

// RestartAction is a package record's declared restart requirement (§3).
type RestartAction int

const (
	RestartNone RestartAction = iota
	RestartRecommend
	RestartRequire
	RestartRequireLogout
)

func (r RestartAction) String() string {
	switch r {
	case RestartRecommend:
		return "RecommendRestart"
	case RestartRequire:
		return "RequireRestart"
	case RestartRequireLogout:
		return "RequireLogout"
	default:
		return "None"
	}
}

// InstallCheck is one file-presence check from a package record's optional
// installs list. The Executor evaluates these after an install through
// install.VerifyInstalls.
type InstallCheck struct {
	Path string
	Type string
}

// ItemToCopy is one entry in a disk-image package's items_to_copy list
// (§4.E disk-image items): a source path relative to the mounted image, a
// destination, and the ownership/mode to apply after copy.
type ItemToCopy struct {
	SourceItem      string
	DestinationPath string
	DestinationItem string
	User            string
	Group           string
	Mode            string
}

// PackageRecord is one entry in an InstallInfo accumulator list (§3).
type PackageRecord struct {
	Name                  string
	VersionToInstall      string
	InstallerItem         string
	InstallerItemHash     string
	InstallerItemSize     int64
	Installs              []InstallCheck
	ItemsToCopy           []ItemToCopy
	RestartAction         RestartAction
	ForceInstallAfterDate *time.Time
	UnattendedInstall     bool
	BlockingApplications  []string
	PreinstallScript      string
	PostinstallScript     string
	UninstallScript       string
}

// IsDiskImage reports whether this record's installer item is a disk image
// carrying an items_to_copy list, as opposed to a flat package installer
// (§4.E: "disk-image items").
func (p PackageRecord) IsDiskImage() bool {
	return len(p.ItemsToCopy) > 0
}

// InstallInfo is the Resolver's accumulator (§3). It is owned exclusively by
// the Resolver during resolution (§3 Ownership) and consumed by the Tracker
// and Executor afterward; the Tracker's ForceInstallPackageCheck may set
// UnattendedInstall on its records in place.
type InstallInfo struct {
	ManagedInstalls  []PackageRecord
	Removals         []PackageRecord
	OptionalInstalls []PackageRecord
	ManagedUpdates   []PackageRecord

	featuredSeen  map[string]struct{}
	FeaturedItems []string
}

// NewInstallInfo constructs an empty accumulator.
func NewInstallInfo() *InstallInfo {
	return &InstallInfo{featuredSeen: make(map[string]struct{})}
}

// AddFeatured merges names into the deduplicated featured-items set,
// preserving first-seen order (§8 featured-items-deduplication invariant).
func (i *InstallInfo) AddFeatured(names ...string) {
	if i.featuredSeen == nil {
		i.featuredSeen = make(map[string]struct{})
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, seen := i.featuredSeen[name]; seen {
			continue
		}
		i.featuredSeen[name] = struct{}{}
		i.FeaturedItems = append(i.FeaturedItems, name)
	}
}

func (i *InstallInfo) addInstall(rec PackageRecord)  { i.ManagedInstalls = append(i.ManagedInstalls, rec) }
func (i *InstallInfo) addRemoval(rec PackageRecord)  { i.Removals = append(i.Removals, rec) }
func (i *InstallInfo) addOptional(rec PackageRecord) { i.OptionalInstalls = append(i.OptionalInstalls, rec) }
func (i *InstallInfo) addUpdate(rec PackageRecord)   { i.ManagedUpdates = append(i.ManagedUpdates, rec) }
