// Package store identifies extension stores and downloads their packages.
package store

import (
	"fmt"
	"strings"

	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
)

// Store identifies which extension store an identifier belongs to. The same
// identifier string is not guaranteed unique across stores, so Store is part
// of every cache key.
type Store string

const (
	Chrome Store = "chrome"
	Edge   Store = "edge"
)

// ParseStore normalizes user input into a Store.
func ParseStore(s string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chrome":
		return Chrome, nil
	case "edge":
		return Edge, nil
	default:
		return "", fmt.Errorf("%w: %q", sharedErrors.ErrUnknownStore, s)
	}
}

// String implements fmt.Stringer.
func (s Store) String() string {
	return string(s)
}
