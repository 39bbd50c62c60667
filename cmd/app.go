package cmd

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/crxlens/crxlens/internal/analysis"
	"github.com/crxlens/crxlens/internal/cache"
)

// newCache picks the cache backend from configuration; the file backend is
// the default, Redis is opt-in for multi-host deployments.
func newCache() (cache.Cache, error) {
	switch backend := viper.GetString("cache_backend"); backend {
	case "", "file":
		return cache.NewFileCache(cacheDir)
	case "redis":
		url := viper.GetString("redis_url")
		if url == "" {
			url = "redis://localhost:6379"
		}
		return cache.NewRedisCache(url)
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want file or redis)", backend)
	}
}

// newPolicy loads the risk catalogue from the configured policy file, or the
// built-in one.
func newPolicy() (*analysis.Policy, error) {
	path := viper.GetString("policy_file")
	if path == "" {
		return analysis.DefaultPolicy(), nil
	}
	return analysis.LoadPolicy(path)
}

// newAnalyzer wires the orchestrator from configuration.
func newAnalyzer(c cache.Cache) (*analysis.Analyzer, error) {
	policy, err := newPolicy()
	if err != nil {
		return nil, err
	}
	return analysis.NewAnalyzer(c, policy, viper.GetInt("max_domains"), logger), nil
}
