package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape indicates the resolved path would escape the trusted root directory.
	ErrPathEscape = errors.New("path escapes base directory")
	// ErrBadComponent indicates a value is not usable as a single path component.
	ErrBadComponent = errors.New("invalid path component")
)

// ResolveWithin joins the provided path elements under the given base directory and ensures
// the resulting path never traverses outside of that base. The returned path is absolute.
func ResolveWithin(base string, elems ...string) (string, error) {
	if base == "" {
		return "", errors.New("base directory is required")
	}

	cleanBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base path: %w", err)
	}

	joined := filepath.Join(append([]string{cleanBase}, elems...)...)
	target, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve target path: %w", err)
	}

	rel, err := filepath.Rel(cleanBase, target)
	if err != nil {
		return "", fmt.Errorf("relativize path: %w", err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, target)
	}

	return target, nil
}

// FileComponent validates an untrusted identifier (an extension ID from user
// input) for use as a single on-disk file name component. Separators and
// traversal sequences are rejected rather than rewritten.
func FileComponent(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrBadComponent)
	}
	if strings.ContainsAny(s, "/\\") || strings.Contains(s, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadComponent, s)
	}
	if s == "." {
		return "", fmt.Errorf("%w: %q", ErrBadComponent, s)
	}
	return s, nil
}
