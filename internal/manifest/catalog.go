package manifest

import (
	"context"
	"sync"
	"time"

	"github.com/fleetline/mdmclient/internal/plist"
)

// CatalogStore caches fetched catalog documents for the duration of a run
// and resolves an item name against a scoped catalog list. The Resolver
// itself never parses catalogs (§4.C: "the resolver's job is to carry a
// catalog list to each item, not to parse catalogs itself") — this type is
// the thing that does, invoked by the Resolver's processItem.
type CatalogStore struct {
	fetcher *DocumentFetcher

	mu    sync.Mutex
	cache map[string][]plist.Dict
}

// NewCatalogStore constructs a store backed by fetcher.
func NewCatalogStore(fetcher *DocumentFetcher) *CatalogStore {
	return &CatalogStore{fetcher: fetcher, cache: make(map[string][]plist.Dict)}
}

func (c *CatalogStore) load(ctx context.Context, name string) ([]plist.Dict, error) {
	c.mu.Lock()
	if entries, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return entries, nil
	}
	c.mu.Unlock()

	entries, err := c.fetcher.FetchCatalog(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[name] = entries
	c.mu.Unlock()
	return entries, nil
}

// Lookup finds the first pkginfo entry named itemName across catalogs, in
// order, and decodes it into a PackageRecord. Returns ok=false if no catalog
// in the list carries a matching entry.
func (c *CatalogStore) Lookup(ctx context.Context, itemName string, catalogs []string) (PackageRecord, bool, error) {
	for _, catalogName := range catalogs {
		entries, err := c.load(ctx, catalogName)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.Get("name").StringOr("") == itemName {
				return decodePackageRecord(entry), true, nil
			}
		}
	}
	return PackageRecord{}, false, nil
}

func decodePackageRecord(d plist.Dict) PackageRecord {
	rec := PackageRecord{
		Name:              d.Get("name").StringOr(""),
		VersionToInstall:  d.Get("version").StringOr(""),
		InstallerItem:     d.Get("installer_item_location").StringOr(""),
		InstallerItemHash: d.Get("installer_item_hash").StringOr(""),
		InstallerItemSize: d.Get("installer_item_size").IntOr(0),
		RestartAction:     decodeRestartAction(d.Get("RestartAction").StringOr("None")),
		UnattendedInstall: d.Get("unattended_install").BoolOr(false),
	}

	if blocking := d.Get("blocking_applications"); blocking != nil {
		rec.BlockingApplications = blocking.StringArray()
	}

	if installs, err := d.Get("installs").Array(); err == nil {
		for _, item := range installs {
			if itemDict, err := item.Dict(); err == nil {
				rec.Installs = append(rec.Installs, InstallCheck{
					Path: itemDict.Get("path").StringOr(""),
					Type: itemDict.Get("type").StringOr(""),
				})
			}
		}
	}

	if items, err := d.Get("items_to_copy").Array(); err == nil {
		for _, item := range items {
			if itemDict, err := item.Dict(); err == nil {
				rec.ItemsToCopy = append(rec.ItemsToCopy, ItemToCopy{
					SourceItem:      itemDict.Get("source_item").StringOr(""),
					DestinationPath: itemDict.Get("destination_path").StringOr(""),
					DestinationItem: itemDict.Get("destination_item").StringOr(""),
					User:            itemDict.Get("user").StringOr(""),
					Group:           itemDict.Get("group").StringOr(""),
					Mode:            itemDict.Get("mode").StringOr(""),
				})
			}
		}
	}

	rec.PreinstallScript = d.Get("preinstall_script").StringOr("")
	rec.PostinstallScript = d.Get("postinstall_script").StringOr("")
	rec.UninstallScript = d.Get("uninstall_script").StringOr("")

	// force_install_after_date is normalized to local time exactly once,
	// here at decode time (§9 open-question decision).
	if t, err := d.Get("force_install_after_date").Time(); err == nil {
		local := t.Local()
		rec.ForceInstallAfterDate = &local
	} else if raw := d.Get("force_install_after_date").StringOr(""); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			local := parsed.Local()
			rec.ForceInstallAfterDate = &local
		}
	}

	return rec
}

func decodeRestartAction(s string) RestartAction {
	switch s {
	case "RecommendRestart":
		return RestartRecommend
	case "RequireRestart":
		return RestartRequire
	case "RequireLogout":
		return RestartRequireLogout
	default:
		return RestartNone
	}
}
