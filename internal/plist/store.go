package plist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"howett.net/plist"

	"github.com/fleetline/mdmclient/internal/agenterr"
)

// Format selects the on-disk plist encoding used by Write. Binary is the
// compact form Apple's own tools write by default; XML is human-diffable and
// useful for fixtures.
type Format int

const (
	BinaryFormat Format = iota
	XMLFormat
)

func (f Format) codecFormat() int {
	if f == XMLFormat {
		return plist.XMLFormat
	}
	return plist.BinaryFormat
}

// Read loads and decodes the document at path. A missing file surfaces as
// NotFound; a file that fails to parse as a top-level dictionary surfaces as
// Malformed; any other filesystem failure surfaces as IO.
func Read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, agenterr.New(agenterr.NotFound, "plist.Read", path, err)
		}
		return Document{}, agenterr.New(agenterr.IO, "plist.Read", path, err)
	}

	var raw any
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return Document{}, agenterr.New(agenterr.Malformed, "plist.Read", path, err)
	}

	doc, err := newDocument(raw)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Write atomically persists doc to path: encode to a temp file in the same
// directory, then rename over the destination. This is the same
// write-temp-then-rename idiom used for every state document in this module,
// generalized here from a fixed struct shape to an arbitrary document.
func Write(doc Document, path string, format Format) error {
	return WriteRaw(ToRaw(doc.Dict), path, format)
}

// WriteRaw is like Write but accepts a plain Go value tree, for callers that
// built up a document without going through Dict/Value (e.g. marshaling a
// typed struct via the codec's own reflection support).
func WriteRaw(raw any, path string, format Format) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return agenterr.New(agenterr.IO, "plist.Write", path, fmt.Errorf("ensure dir %q: %w", dir, err))
	}

	data, err := plist.MarshalIndent(raw, format.codecFormat(), "\t")
	if err != nil {
		return agenterr.New(agenterr.Malformed, "plist.Write", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return agenterr.New(agenterr.IO, "plist.Write", path, fmt.Errorf("write temp file %q: %w", tmp, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return agenterr.New(agenterr.IO, "plist.Write", path, fmt.Errorf("commit %q: %w", path, err))
	}
	return nil
}

// Decode unmarshals raw plist bytes into dst using the codec's own reflection
// support, for callers that have a concrete Go struct to decode into (e.g. the
// Fetcher's sidecar metadata) rather than a generic Document.
func Decode(data []byte, dst any) error {
	if _, err := plist.Unmarshal(data, dst); err != nil {
		return agenterr.New(agenterr.Malformed, "plist.Decode", "", err)
	}
	return nil
}

// Encode marshals dst (a concrete Go struct) to plist bytes.
func Encode(dst any, format Format) ([]byte, error) {
	data, err := plist.MarshalIndent(dst, format.codecFormat(), "\t")
	if err != nil {
		return nil, agenterr.New(agenterr.Malformed, "plist.Encode", "", err)
	}
	return data, nil
}
