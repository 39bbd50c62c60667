package errors

import (
	"errors"
	"fmt"
)

// Pipeline errors
var (
	// Container errors
	ErrTruncated     = errors.New("package truncated")
	ErrUnknownFormat = errors.New("unrecognized package format")

	// Archive errors
	ErrArchiveCorrupt = errors.New("archive is corrupt")
	ErrEntryNotFound  = errors.New("archive entry not found")

	// Manifest errors
	ErrManifestMissing   = errors.New("manifest not found in package")
	ErrManifestMalformed = errors.New("manifest is malformed")
	ErrManifestEncoding  = errors.New("manifest has unsupported encoding")

	// Cache errors
	ErrCacheMiss = errors.New("no cached analysis for key")

	// Input errors
	ErrUnknownStore = errors.New("unknown extension store")
	ErrEmptyID      = errors.New("extension ID cannot be empty")
)

// StageError tags a pipeline failure with the stage that produced it so
// callers can tell a bad download from a bad package from a bad manifest.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AtStage wraps err with the pipeline stage name. Returns nil for a nil err.
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Stage reports the pipeline stage recorded on err, or "" when err carries
// no stage tag.
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
