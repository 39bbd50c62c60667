package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// MaxPackageBytes caps how large a downloaded extension package may be.
	MaxPackageBytes = 256 << 20
	// MaxEntryBytes caps the decompressed size read from a single archive
	// entry, so a hostile package cannot expand without bound.
	MaxEntryBytes = 32 << 20
	// MaxScriptBytes caps how much script text is scanned for URL literals.
	MaxScriptBytes = 4 << 20
	// DefaultMaxDomains bounds the third-party domain set in a result.
	DefaultMaxDomains = 100
	// DownloadTimeout bounds a single package download.
	DownloadTimeout = 60 * time.Second
)
