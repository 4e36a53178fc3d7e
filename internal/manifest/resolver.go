package manifest

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/fleetline/mdmclient/internal/agenterr"
	"github.com/fleetline/mdmclient/internal/registry"
)

// Resolver implements the Manifest Resolver (§4.C): primary-manifest
// fallback discovery, recursive inclusion/conditional processing with
// catalog inheritance, selector application, and post-resolution cleanup.
type Resolver struct {
	Fetcher  *DocumentFetcher
	Catalogs *CatalogStore
	Active   *registry.ActiveManifests
	Stop     *registry.StopToken
	Logger   *log.Logger
}

// manifestNotRetrieved reports whether err represents a failure to retrieve
// a manifest that should be swallowed during primary-manifest fallback
// (§4.C: "not-retrieved (including HTTP 404)").
func manifestNotRetrieved(err error) bool {
	return agenterr.Is(err, agenterr.NotFound) || agenterr.Is(err, agenterr.HTTP)
}

// PrimaryManifestCandidates builds the ordered list of manifest names tried
// during primary-manifest discovery (§4.C). If clientIdentifier is set, it
// is the sole candidate.
func PrimaryManifestCandidates(clientIdentifier, fqdn, shortHostname, serial string) []string {
	if clientIdentifier != "" {
		return []string{clientIdentifier}
	}
	var candidates []string
	if fqdn != "" {
		candidates = append(candidates, fqdn)
	}
	if shortHostname != "" && shortHostname != fqdn {
		candidates = append(candidates, shortHostname)
	}
	if serial != "" {
		candidates = append(candidates, serial)
	}
	candidates = append(candidates, "site_default")
	return candidates
}

// DiscoverPrimary fetches the first candidate manifest that succeeds,
// swallowing not-retrieved failures on every candidate but the last (§4.C).
// The winning candidate is marked in the active-manifest table so the
// cleanup pass preserves it alongside everything it recursively includes.
func (r *Resolver) DiscoverPrimary(ctx context.Context, candidates []string) (Manifest, error) {
	var lastErr error
	for i, name := range candidates {
		m, path, err := r.Fetcher.FetchManifest(ctx, name)
		if err == nil {
			r.Active.Mark(name, path)
			return m, nil
		}
		lastErr = err
		isLast := i == len(candidates)-1
		if isLast {
			return Manifest{}, err
		}
		if !manifestNotRetrieved(err) {
			return Manifest{}, err
		}
		if r.Logger != nil {
			r.Logger.Printf("primary manifest %q not retrieved, trying next candidate", name)
		}
	}
	return Manifest{}, lastErr
}

// Resolve runs one selector pass over primary and everything it recursively
// includes, writing results into info. Callers typically call Resolve once
// per SelectorKey against the same accumulator.
func (r *Resolver) Resolve(ctx context.Context, primary Manifest, selector SelectorKey, evalCtx EvaluationContext, info *InstallInfo) error {
	return r.resolveManifest(ctx, primary, nil, selector, evalCtx, info)
}

func (r *Resolver) resolveManifest(ctx context.Context, m Manifest, parentCatalogs []string, selector SelectorKey, evalCtx EvaluationContext, info *InstallInfo) error {
	if r.Stop != nil && r.Stop.Requested() {
		return nil
	}

	catalogs := m.Catalogs
	if len(catalogs) == 0 {
		catalogs = parentCatalogs
	}
	if len(catalogs) == 0 {
		if r.Logger != nil {
			r.Logger.Printf("manifest %q has no catalogs (own or inherited); skipping", m.Name)
		}
		return nil
	}

	for _, name := range m.IncludedManifests {
		if name == "" {
			continue
		}
		if r.Stop != nil && r.Stop.Requested() {
			return nil
		}
		included, path, err := r.Fetcher.FetchManifest(ctx, name)
		if err != nil {
			return err
		}
		if !r.Active.Mark(name, path) {
			if r.Logger != nil {
				r.Logger.Printf("manifest %q already processed this run, skipping repeat include", name)
			}
			continue
		}
		if err := r.resolveManifest(ctx, included, catalogs, selector, evalCtx, info); err != nil {
			return err
		}
	}

	scopedCtx := evalCtx.WithCatalogs(catalogs)
	for _, cond := range m.ConditionalItems {
		if !EvaluateCondition(cond.Condition, scopedCtx) {
			continue
		}
		embedded := Manifest{Name: m.Name + "#conditional", ManifestFields: cond.Fields}
		if err := r.resolveManifest(ctx, embedded, catalogs, selector, evalCtx, info); err != nil {
			return err
		}
	}

	names := m.Selector(selector)
	if selector == SelectorDefaultInstalls || selector == SelectorFeaturedItems {
		info.AddFeatured(names...)
		return nil
	}

	for _, name := range names {
		if err := r.processItem(ctx, selector, name, catalogs, info); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) processItem(ctx context.Context, selector SelectorKey, name string, catalogs []string, info *InstallInfo) error {
	rec, found, err := r.Catalogs.Lookup(ctx, name, catalogs)
	if err != nil {
		return err
	}
	if !found {
		if r.Logger != nil {
			r.Logger.Printf("item %q not found in catalogs %v", name, catalogs)
		}
		return nil
	}

	switch selector {
	case SelectorManagedInstalls, SelectorOptionalInstalls, SelectorManagedUpdates, SelectorManagedUninstalls:
		switch selector {
		case SelectorManagedInstalls:
			info.addInstall(rec)
		case SelectorOptionalInstalls:
			info.addOptional(rec)
		case SelectorManagedUpdates:
			info.addUpdate(rec)
		case SelectorManagedUninstalls:
			info.addRemoval(rec)
		}
	}
	return nil
}

// Cleanup deletes every file in manifestsDir whose basename is neither in the
// active-manifest table nor in the whitelist (§4.C cleanup).
func Cleanup(active *registry.ActiveManifests, manifestsDir string) error {
	whitelist := map[string]struct{}{"SelfServeManifest": {}}
	live := make(map[string]struct{})
	for _, name := range active.Names() {
		live[name] = struct{}{}
	}

	entries, err := os.ReadDir(manifestsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return agenterr.New(agenterr.IO, "manifest.Cleanup", manifestsDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		if _, ok := live[base]; ok {
			continue
		}
		if _, ok := whitelist[base]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(manifestsDir, base)); err != nil && !os.IsNotExist(err) {
			return agenterr.New(agenterr.IO, "manifest.Cleanup", base, err)
		}
	}
	return nil
}
