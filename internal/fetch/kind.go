// Package fetch implements the cache-validating, resumable HTTP client that
// downloads manifests, catalogs, packages, icons and client resources to
// disk, maintaining per-file sidecar metadata for conditional requests and
// range-resume.
package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies the class of resource being fetched, which determines its
// position in the repository's URL namespace (§6).
type Kind int

const (
	Manifest Kind = iota
	Catalog
	Package
	Icon
	ClientResource
)

func (k Kind) String() string {
	switch k {
	case Manifest:
		return "manifest"
	case Catalog:
		return "catalog"
	case Package:
		return "package"
	case Icon:
		return "icon"
	case ClientResource:
		return "clientresource"
	default:
		return "unknown"
	}
}

func (k Kind) urlSegment() string {
	switch k {
	case Manifest:
		return "manifests"
	case Catalog:
		return "catalogs"
	case Package:
		return "pkgs"
	case Icon:
		return "icons"
	case ClientResource:
		return "client_resources"
	default:
		return "unknown"
	}
}

// ResourceURL builds the canonical remote URL for name under baseRepoURL,
// following the namespace in §6: <repoURL>/manifests/<name>, /catalogs/<name>,
// /pkgs/<relativepath>, /icons/<name>, /client_resources/<name>.
func ResourceURL(baseRepoURL string, kind Kind, name string) (string, error) {
	base, err := url.Parse(baseRepoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo URL %q: %w", baseRepoURL, err)
	}
	segments := append(splitPath(base.Path), kind.urlSegment())
	segments = append(segments, splitPath(name)...)
	base.Path = "/" + strings.Join(segments, "/")
	return base.String(), nil
}

func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
