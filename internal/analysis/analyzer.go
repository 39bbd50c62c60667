package analysis

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/crxlens/crxlens/internal/crx"
	consts "github.com/crxlens/crxlens/internal/shared/constants"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/store"
)

// Pipeline stage names carried on StageError.
const (
	StageDownload  = "download"
	StageContainer = "container"
	StageArchive   = "archive"
	StageManifest  = "manifest"
	StageCache     = "cache"
)

// ResultCache is the subset of the cache contract the orchestrator needs.
// Defined here so the cache package can depend on the Result type without a
// cycle, and so tests can substitute fakes.
type ResultCache interface {
	Get(ctx context.Context, key Key) (*Result, error)
	Put(ctx context.Context, key Key, result *Result) error
}

// Key mirrors cache.Key; see ResultCache.
type Key struct {
	ExtensionID string
	Store       store.Store
}

// Options tune a single Analyze call.
type Options struct {
	// Refresh bypasses the cache read and recomputes, overwriting the
	// previous record on success.
	Refresh bool
	// ScanScripts additionally scans bundled .js files for URL literals.
	ScanScripts bool
}

// Analyzer composes decode, extract, validate, score, and domain extraction
// into the one entry point callers invoke. The cache is the only shared
// mutable state; every other step is a pure transform.
type Analyzer struct {
	cache      ResultCache
	policy     *Policy
	maxDomains int
	logger     *zap.SugaredLogger
}

// NewAnalyzer wires an Analyzer. A nil policy falls back to the built-in
// catalogue; a nil logger is replaced with a no-op one.
func NewAnalyzer(c ResultCache, policy *Policy, maxDomains int, logger *zap.SugaredLogger) *Analyzer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if maxDomains <= 0 {
		maxDomains = consts.DefaultMaxDomains
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Analyzer{cache: c, policy: policy, maxDomains: maxDomains, logger: logger}
}

// Analyze runs the pipeline for raw package bytes. A cache hit returns the
// stored result without any decode work. On a miss, any stage failure aborts
// the pipeline, tagged with the stage name, and leaves the cache untouched;
// only a fully successful analysis is cached.
func (a *Analyzer) Analyze(ctx context.Context, id string, st store.Store, raw []byte, opts Options) (*Result, error) {
	if id == "" {
		return nil, sharedErrors.ErrEmptyID
	}
	key := Key{ExtensionID: id, Store: st}

	if !opts.Refresh {
		cached, err := a.cache.Get(ctx, key)
		switch {
		case err == nil:
			a.logger.Debugw("cache hit", "extension_id", id, "store", st)
			return cached, nil
		case errors.Is(err, sharedErrors.ErrCacheMiss):
			// fall through to compute
		default:
			return nil, sharedErrors.AtStage(StageCache, err)
		}
	}

	result, err := a.compute(raw, opts)
	if err != nil {
		return nil, err
	}

	// The caller may have gone away while we were decoding; an abandoned
	// request must not write to the cache.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := a.cache.Put(ctx, key, result); err != nil {
		// The result is still valid; a failed write only costs a recompute.
		a.logger.Warnw("cache write failed", "extension_id", id, "store", st, "error", err)
	}
	return result, nil
}

func (a *Analyzer) compute(raw []byte, opts Options) (*Result, error) {
	payload, err := crx.DecodeContainer(raw)
	if err != nil {
		return nil, sharedErrors.AtStage(StageContainer, err)
	}

	archive, err := crx.OpenArchive(payload)
	if err != nil {
		return nil, sharedErrors.AtStage(StageArchive, err)
	}

	manifest, err := crx.LoadManifest(archive)
	if err != nil {
		return nil, sharedErrors.AtStage(StageManifest, err)
	}

	var scripts [][]byte
	if opts.ScanScripts {
		scripts = archive.Scripts()
	}

	return &Result{
		Permissions:       UnionPermissions(manifest),
		PermissionsScore:  a.policy.Score(manifest),
		ThirdPartyDomains: ExtractDomains(manifest, scripts, a.maxDomains),
		Manifest:          manifest,
	}, nil
}
