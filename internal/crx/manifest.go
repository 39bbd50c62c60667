package crx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
)

// ManifestEntryName is the required top-level manifest entry.
const ManifestEntryName = "manifest.json"

// Manifest is the extension's declarative metadata. Fields this system does
// not interpret are preserved opaquely in Extra so a newer manifest schema
// never causes a parse failure.
type Manifest struct {
	Name                   string                     `json:"name,omitempty"`
	Version                string                     `json:"version,omitempty"`
	ManifestVersion        int                        `json:"manifest_version,omitempty"`
	Permissions            []string                   `json:"permissions,omitempty"`
	OptionalPermissions    []string                   `json:"optional_permissions,omitempty"`
	HostPermissions        []string                   `json:"host_permissions,omitempty"`
	ContentScripts         []ContentScript            `json:"content_scripts,omitempty"`
	ExternallyConnectable  *Connectable               `json:"externally_connectable,omitempty"`
	WebAccessibleResources []AccessibleEntry          `json:"web_accessible_resources,omitempty"`
	Background             *Background                `json:"background,omitempty"`
	Extra                  map[string]json.RawMessage `json:"-"`
}

// ContentScript declares scripts injected into pages matching the patterns.
type ContentScript struct {
	Matches []string `json:"matches,omitempty"`
	JS      []string `json:"js,omitempty"`
}

// Connectable declares which origins may message the extension.
type Connectable struct {
	Matches []string `json:"matches,omitempty"`
}

// Background declares the extension's background execution surface.
type Background struct {
	ServiceWorker string   `json:"service_worker,omitempty"`
	Scripts       []string `json:"scripts,omitempty"`
}

// AccessibleEntry covers both web_accessible_resources shapes: manifest v2
// uses bare strings, v3 uses objects with resources and matches lists.
type AccessibleEntry struct {
	Resources []string `json:"resources,omitempty"`
	Matches   []string `json:"matches,omitempty"`
}

func (e *AccessibleEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Resources = []string{s}
		return nil
	}
	type plain AccessibleEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = AccessibleEntry(p)
	return nil
}

// knownManifestFields are the top-level keys decoded into struct fields;
// everything else lands in Extra.
var knownManifestFields = map[string]struct{}{
	"name":                     {},
	"version":                  {},
	"manifest_version":         {},
	"permissions":              {},
	"optional_permissions":     {},
	"host_permissions":         {},
	"content_scripts":          {},
	"externally_connectable":   {},
	"web_accessible_resources": {},
	"background":               {},
}

// LoadManifest reads and parses manifest.json from the archive. A missing
// entry, an undecodable byte stream, and a syntactically invalid document are
// three distinct failures.
func LoadManifest(a *Archive) (*Manifest, error) {
	data, err := a.Read(ManifestEntryName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sharedErrors.ErrManifestMissing, ManifestEntryName)
	}
	return ParseManifest(data)
}

// ParseManifest decodes manifest bytes as UTF-8, falling back to UTF-16, and
// parses the resulting JSON document.
func ParseManifest(data []byte) (*Manifest, error) {
	text, err := decodeManifestText(data)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(text, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrManifestMalformed, err)
	}

	// Second pass for forward compatibility: keep unknown top-level fields
	// as raw JSON rather than interpreting or rejecting them.
	var all map[string]json.RawMessage
	if err := json.Unmarshal(text, &all); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrManifestMalformed, err)
	}
	for k := range knownManifestFields {
		delete(all, k)
	}
	if len(all) > 0 {
		m.Extra = all
	}

	return &m, nil
}

func decodeManifestText(data []byte) ([]byte, error) {
	text := bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(text) && !hasUTF16BOM(data) {
		return text, nil
	}

	// Some store packages ship UTF-16 manifests; honor a BOM when present
	// and default to little-endian otherwise.
	dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	decoded, err := dec.Bytes(data)
	if err != nil || !utf8.Valid(decoded) {
		return nil, fmt.Errorf("%w: not UTF-8 or UTF-16", sharedErrors.ErrManifestEncoding)
	}
	return decoded, nil
}

func hasUTF16BOM(data []byte) bool {
	return len(data) >= 2 &&
		((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF))
}
