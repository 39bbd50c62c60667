// Package cache persists analysis results keyed by (extension ID, store).
package cache

import (
	"context"
	"time"

	"github.com/crxlens/crxlens/internal/analysis"
)

// Key identifies one cached analysis; an alias for the orchestrator's key so
// every backend satisfies analysis.ResultCache directly. The store is part of
// the key because the same identifier string can exist in more than one store.
type Key = analysis.Key

// Cache is the keyed upsert/lookup contract. Get is a pure lookup and never
// triggers computation; Put fully replaces any prior record for the key.
type Cache interface {
	Get(ctx context.Context, key Key) (*analysis.Result, error)
	Put(ctx context.Context, key Key, result *analysis.Result) error
	Close() error
}

// Entry is the persisted envelope wrapping a result.
type Entry struct {
	ExtensionID string           `json:"extension_id"`
	Store       string           `json:"store"`
	Result      *analysis.Result `json:"result"`
	LastUpdated time.Time        `json:"last_updated"`
}
