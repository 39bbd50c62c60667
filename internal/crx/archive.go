package crx

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	consts "github.com/crxlens/crxlens/internal/shared/constants"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
)

// Archive wraps the ZIP payload of an extension package. All reads are
// in-memory; entry names never touch the filesystem, which sidesteps path
// traversal entirely.
type Archive struct {
	reader *zip.Reader
}

// OpenArchive parses archive bytes produced by DecodeContainer.
func OpenArchive(data []byte) (*Archive, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrArchiveCorrupt, err)
	}
	return &Archive{reader: r}, nil
}

// Entries lists the entry names in archive order. Extension packages hold at
// most a few hundred entries, so materializing the list is fine.
func (a *Archive) Entries() []string {
	names := make([]string, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		names = append(names, f.Name)
	}
	return names
}

// Read returns the decompressed contents of the named entry. Reads are capped
// so a hostile package cannot expand without bound.
func (a *Archive) Read(name string) ([]byte, error) {
	for _, f := range a.reader.File {
		if f.Name != name {
			continue
		}
		return readEntry(f, consts.MaxEntryBytes)
	}
	return nil, fmt.Errorf("%w: %q", sharedErrors.ErrEntryNotFound, name)
}

// Scripts returns the contents of every .js entry, each capped at
// MaxScriptBytes. Unreadable entries are skipped; script scanning is a
// best-effort secondary signal, not a pipeline stage that can fail.
func (a *Archive) Scripts() [][]byte {
	var scripts [][]byte
	for _, f := range a.reader.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".js") {
			continue
		}
		data, err := readEntry(f, consts.MaxScriptBytes)
		if err != nil {
			continue
		}
		scripts = append(scripts, data)
	}
	return scripts
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", sharedErrors.ErrArchiveCorrupt, f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", sharedErrors.ErrArchiveCorrupt, f.Name, err)
	}
	return data, nil
}
