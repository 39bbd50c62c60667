package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crxlens/crxlens/internal/analysis"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/store"
)

func sampleResult(score float64) *analysis.Result {
	return &analysis.Result{
		Permissions:       []string{"storage", "tabs"},
		PermissionsScore:  score,
		ThirdPartyDomains: []string{"api.example.com"},
	}
}

func TestFileCache_RoundTrip(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	key := Key{ExtensionID: "abcdefghijklmnop", Store: store.Chrome}

	if _, err := c.Get(ctx, key); !errors.Is(err, sharedErrors.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss before put, got %v", err)
	}

	want := sampleResult(2.5)
	if err := c.Put(ctx, key, want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PermissionsScore != want.PermissionsScore || len(got.Permissions) != 2 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestFileCache_OverwriteReplacesWholeRecord(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	ctx := context.Background()
	key := Key{ExtensionID: "ext", Store: store.Edge}

	first := sampleResult(1)
	first.ThirdPartyDomains = []string{"old.example.com", "gone.example.com"}
	if err := c.Put(ctx, key, first); err != nil {
		t.Fatalf("first put: %v", err)
	}

	second := sampleResult(3)
	second.ThirdPartyDomains = []string{"new.example.com"}
	if err := c.Put(ctx, key, second); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PermissionsScore != 3 {
		t.Errorf("expected second record, got score %v", got.PermissionsScore)
	}
	// Replace, never merge.
	if len(got.ThirdPartyDomains) != 1 || got.ThirdPartyDomains[0] != "new.example.com" {
		t.Errorf("old record leaked into new one: %v", got.ThirdPartyDomains)
	}
}

func TestFileCache_KeyIncludesStore(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	ctx := context.Background()
	if err := c.Put(ctx, Key{ExtensionID: "same-id", Store: store.Chrome}, sampleResult(1)); err != nil {
		t.Fatalf("put chrome: %v", err)
	}
	if err := c.Put(ctx, Key{ExtensionID: "same-id", Store: store.Edge}, sampleResult(2)); err != nil {
		t.Fatalf("put edge: %v", err)
	}

	chrome, err := c.Get(ctx, Key{ExtensionID: "same-id", Store: store.Chrome})
	if err != nil {
		t.Fatalf("get chrome: %v", err)
	}
	edge, err := c.Get(ctx, Key{ExtensionID: "same-id", Store: store.Edge})
	if err != nil {
		t.Fatalf("get edge: %v", err)
	}
	if chrome.PermissionsScore == edge.PermissionsScore {
		t.Error("the same ID in different stores must be distinct entries")
	}
}

func TestFileCache_RejectsTraversalID(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"../escape", "a/b", `a\b`, "", "."} {
		if err := c.Put(ctx, Key{ExtensionID: id, Store: store.Chrome}, sampleResult(1)); err == nil {
			t.Errorf("expected rejection for ID %q", id)
		}
	}
}

func TestFileCache_NoPartialFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	ctx := context.Background()
	if err := c.Put(ctx, Key{ExtensionID: "ext", Store: store.Chrome}, sampleResult(1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// The write path stages through temp files; none may survive a put.
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".tmp") {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
}
