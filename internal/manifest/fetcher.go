package manifest

import (
	"context"
	"path/filepath"

	"github.com/fleetline/mdmclient/internal/fetch"
	"github.com/fleetline/mdmclient/internal/plist"
)

// DocumentFetcher retrieves manifest and catalog documents to the local
// on-disk layout (§6) via the Fetcher, then parses them through the
// Property-List Store. It is the Resolver's sole dependency on §4.B/§4.A;
// the Resolver's tests drive it against an httptest server.
type DocumentFetcher struct {
	Client       *fetch.Client
	ManifestsDir string
	CatalogsDir  string
	Options      fetch.Options
}

// FetchManifest downloads (if needed) and decodes the named manifest.
func (d *DocumentFetcher) FetchManifest(ctx context.Context, name string) (Manifest, string, error) {
	dest := filepath.Join(d.ManifestsDir, name)
	if _, err := d.Client.Fetch(ctx, fetch.Manifest, name, dest, d.Options); err != nil {
		return Manifest{}, dest, err
	}
	doc, err := plist.Read(dest)
	if err != nil {
		return Manifest{}, dest, err
	}
	return DecodeManifest(name, doc), dest, nil
}

// FetchCatalog downloads (if needed) the catalog document and returns the
// pkginfo dictionaries listed under its "items" key.
func (d *DocumentFetcher) FetchCatalog(ctx context.Context, name string) ([]plist.Dict, error) {
	dest := filepath.Join(d.CatalogsDir, name)
	if _, err := d.Client.Fetch(ctx, fetch.Catalog, name, dest, d.Options); err != nil {
		return nil, err
	}
	doc, err := plist.Read(dest)
	if err != nil {
		return nil, err
	}
	// A catalog document's root, unusually, is an array rather than a dict;
	// plist.Document always wraps a dict root, so catalogs are read as a
	// single-key wrapper {"items": [...]} by convention of this fetcher. A
	// bare top-level array is not supported: plist.Read rejects it as
	// Malformed.
	items, err := doc.Get("items").Array()
	if err != nil {
		return nil, err
	}
	out := make([]plist.Dict, 0, len(items))
	for _, item := range items {
		if d, err := item.Dict(); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}
