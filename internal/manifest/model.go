// Package manifest implements the Manifest Resolver (§4.C): hierarchical
// manifest inclusion, conditional predicates, and the catalog-scoped
// install/remove/featured/default accumulation that produces an InstallInfo.
package manifest

import (
	"github.com/fleetline/mdmclient/internal/plist"
)

// SelectorKey names one of the list-name fields a resolution pass flattens.
type SelectorKey string

const (
	SelectorManagedInstalls   SelectorKey = "managed_installs"
	SelectorManagedUpdates    SelectorKey = "managed_updates"
	SelectorOptionalInstalls  SelectorKey = "optional_installs"
	SelectorManagedUninstalls SelectorKey = "managed_uninstalls"
	SelectorDefaultInstalls   SelectorKey = "default_installs"
	SelectorFeaturedItems     SelectorKey = "featured_items"
)

// ConditionalItem is an entry in a manifest's conditional_items list: a
// predicate plus a nested set of manifest-shaped fields applied when the
// predicate evaluates true (§3, §4.C step 3).
type ConditionalItem struct {
	Condition string
	Fields    ManifestFields
}

// ManifestFields holds the list-typed fields shared by both top-level
// manifests and conditional_items entries, since a conditional item is
// processed "as if it were an embedded manifest" (§4.C).
type ManifestFields struct {
	Catalogs          []string
	IncludedManifests []string
	ConditionalItems  []ConditionalItem
	ManagedInstalls   []string
	ManagedUninstalls []string
	ManagedUpdates    []string
	OptionalInstalls  []string
	DefaultInstalls   []string
	FeaturedItems     []string
}

// Manifest is a document enumerating what a client should install/remove/
// offer, possibly including other manifests and conditional subtrees (§3).
type Manifest struct {
	Name string
	ManifestFields
}

// Selector returns the name list selected by key, or nil for a key this
// manifest's fields don't carry (default_installs/featured_items only apply
// via their own fields, both of which are always present in ManifestFields).
func (f ManifestFields) Selector(key SelectorKey) []string {
	switch key {
	case SelectorManagedInstalls:
		return f.ManagedInstalls
	case SelectorManagedUpdates:
		return f.ManagedUpdates
	case SelectorOptionalInstalls:
		return f.OptionalInstalls
	case SelectorManagedUninstalls:
		return f.ManagedUninstalls
	case SelectorDefaultInstalls:
		return f.DefaultInstalls
	case SelectorFeaturedItems:
		return f.FeaturedItems
	default:
		return nil
	}
}

// DecodeManifest parses a plist document into a Manifest. Unknown keys are
// ignored; missing list fields decode as nil (treated as empty by callers).
func DecodeManifest(name string, doc plist.Document) Manifest {
	return Manifest{
		Name:           name,
		ManifestFields: decodeManifestFields(doc.Dict),
	}
}

func decodeManifestFields(d plist.Dict) ManifestFields {
	f := ManifestFields{
		Catalogs:          d.Get("catalogs").StringArray(),
		IncludedManifests: d.Get("included_manifests").StringArray(),
		ManagedInstalls:   d.Get("managed_installs").StringArray(),
		ManagedUninstalls: d.Get("managed_uninstalls").StringArray(),
		ManagedUpdates:    d.Get("managed_updates").StringArray(),
		OptionalInstalls:  d.Get("optional_installs").StringArray(),
		DefaultInstalls:   d.Get("default_installs").StringArray(),
		FeaturedItems:     d.Get("featured_items").StringArray(),
	}

	items, err := d.Get("conditional_items").Array()
	if err == nil {
		f.ConditionalItems = make([]ConditionalItem, 0, len(items))
		for _, item := range items {
			itemDict, err := item.Dict()
			if err != nil {
				continue
			}
			f.ConditionalItems = append(f.ConditionalItems, ConditionalItem{
				Condition: itemDict.Get("condition").StringOr(""),
				Fields:    decodeManifestFields(itemDict),
			})
		}
	}
	return f
}
