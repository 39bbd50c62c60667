package analysis

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/store"
)

// fakeCache records puts and serves canned results.
type fakeCache struct {
	entries map[Key]*Result
	puts    int
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[Key]*Result)}
}

func (f *fakeCache) Get(ctx context.Context, key Key) (*Result, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if r, ok := f.entries[key]; ok {
		return r, nil
	}
	return nil, sharedErrors.ErrCacheMiss
}

func (f *fakeCache) Put(ctx context.Context, key Key, result *Result) error {
	f.puts++
	f.entries[key] = result
	return nil
}

func packageWithManifest(t *testing.T, manifest string) []byte {
	t.Helper()
	zipBuf := &bytes.Buffer{}
	w := zip.NewWriter(zipBuf)
	f, err := w.Create("manifest.json")
	if err != nil {
		t.Fatalf("create manifest entry: %v", err)
	}
	if _, err := f.Write([]byte(manifest)); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	out := &bytes.Buffer{}
	out.WriteString("Cr24")
	_ = binary.Write(out, binary.LittleEndian, uint32(3))
	_ = binary.Write(out, binary.LittleEndian, uint32(8))
	out.Write(bytes.Repeat([]byte{0}, 8+32))
	out.Write(zipBuf.Bytes())
	return out.Bytes()
}

func TestAnalyze_ComputesAndCaches(t *testing.T) {
	c := newFakeCache()
	a := NewAnalyzer(c, nil, 0, nil)

	raw := packageWithManifest(t, `{"permissions": ["storage", "tabs", "webRequest"]}`)
	result, err := a.Analyze(context.Background(), "ext-1", store.Chrome, raw, Options{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(result.Permissions) != 3 {
		t.Errorf("expected 3 permissions, got %v", result.Permissions)
	}
	if result.PermissionsScore <= 0 {
		t.Errorf("expected positive score, got %v", result.PermissionsScore)
	}
	if c.puts != 1 {
		t.Errorf("expected exactly one cache put, got %d", c.puts)
	}
}

func TestAnalyze_CacheHitSkipsPipeline(t *testing.T) {
	c := newFakeCache()
	key := Key{ExtensionID: "ext-1", Store: store.Chrome}
	cached := &Result{PermissionsScore: 1.25, Permissions: []string{"storage"}}
	c.entries[key] = cached

	a := NewAnalyzer(c, nil, 0, nil)

	// Garbage bytes prove the hit path does no decoding at all.
	result, err := a.Analyze(context.Background(), "ext-1", store.Chrome, []byte("garbage"), Options{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result != cached {
		t.Error("expected the cached result to be returned as-is")
	}
	if c.puts != 0 {
		t.Errorf("cache hit must not write, got %d puts", c.puts)
	}
}

func TestAnalyze_RefreshRecomputes(t *testing.T) {
	c := newFakeCache()
	key := Key{ExtensionID: "ext-1", Store: store.Chrome}
	c.entries[key] = &Result{PermissionsScore: 99}

	a := NewAnalyzer(c, nil, 0, nil)
	raw := packageWithManifest(t, `{"permissions": ["storage"]}`)

	result, err := a.Analyze(context.Background(), "ext-1", store.Chrome, raw, Options{Refresh: true})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.PermissionsScore == 99 {
		t.Error("refresh should have recomputed, not reused the cached result")
	}
	if c.entries[key].PermissionsScore == 99 {
		t.Error("refresh should have overwritten the cache entry")
	}
}

func TestAnalyze_StageTagging(t *testing.T) {
	a := NewAnalyzer(newFakeCache(), nil, 0, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		raw   []byte
		stage string
	}{
		{"bad container", []byte("not a crx"), StageContainer},
		{"bad archive", append(packageWithManifest(t, "{}")[:60:60], []byte("trailing junk not zip")...), StageArchive},
		{"missing manifest", emptyZipPackage(t), StageManifest},
	}
	for _, tc := range cases {
		_, err := a.Analyze(ctx, "ext-1", store.Edge, tc.raw, Options{})
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if got := sharedErrors.Stage(err); got != tc.stage {
			t.Errorf("%s: expected stage %q, got %q (%v)", tc.name, tc.stage, got, err)
		}
	}
}

func emptyZipPackage(t *testing.T) []byte {
	t.Helper()
	zipBuf := &bytes.Buffer{}
	w := zip.NewWriter(zipBuf)
	f, _ := w.Create("readme.txt")
	_, _ = f.Write([]byte("no manifest here"))
	_ = w.Close()

	out := &bytes.Buffer{}
	out.WriteString("Cr24")
	_ = binary.Write(out, binary.LittleEndian, uint32(3))
	_ = binary.Write(out, binary.LittleEndian, uint32(0))
	out.Write(bytes.Repeat([]byte{0}, 32))
	out.Write(zipBuf.Bytes())
	return out.Bytes()
}

func TestAnalyze_FailureLeavesCacheUntouched(t *testing.T) {
	c := newFakeCache()
	a := NewAnalyzer(c, nil, 0, nil)

	_, err := a.Analyze(context.Background(), "ext-1", store.Chrome, emptyZipPackage(t), Options{})
	if err == nil {
		t.Fatal("expected manifest error")
	}
	if !errors.Is(err, sharedErrors.ErrManifestMissing) {
		t.Errorf("expected ErrManifestMissing, got %v", err)
	}
	if c.puts != 0 {
		t.Errorf("failed pipeline must not cache, got %d puts", c.puts)
	}

	if _, err := c.Get(context.Background(), Key{ExtensionID: "ext-1", Store: store.Chrome}); !errors.Is(err, sharedErrors.ErrCacheMiss) {
		t.Errorf("cache should remain empty, got %v", err)
	}
}

func TestAnalyze_CancelledContextSkipsCacheWrite(t *testing.T) {
	c := newFakeCache()
	a := NewAnalyzer(c, nil, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := packageWithManifest(t, `{"permissions": ["storage"]}`)
	_, err := a.Analyze(ctx, "ext-1", store.Chrome, raw, Options{Refresh: true})
	if err == nil {
		t.Fatal("expected context error")
	}
	if c.puts != 0 {
		t.Errorf("abandoned request must not write the cache, got %d puts", c.puts)
	}
}

func TestAnalyze_EmptyID(t *testing.T) {
	a := NewAnalyzer(newFakeCache(), nil, 0, nil)
	_, err := a.Analyze(context.Background(), "", store.Chrome, nil, Options{})
	if !errors.Is(err, sharedErrors.ErrEmptyID) {
		t.Errorf("expected ErrEmptyID, got %v", err)
	}
}
