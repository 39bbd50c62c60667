package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crxlens/crxlens/internal/analysis"
	"github.com/crxlens/crxlens/internal/api"
	"github.com/crxlens/crxlens/internal/cache"
	"github.com/crxlens/crxlens/internal/listing"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/store"
	"github.com/crxlens/crxlens/internal/summarizer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run crxlens as a REST API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		authToken, _ := cmd.Flags().GetString("auth-token")
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
		corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origins")
		rateLimit, _ := cmd.Flags().GetInt("rate-limit")
		rateBurst, _ := cmd.Flags().GetInt("rate-burst")

		// Initialize structured logger
		zlog, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() {
			if err := zlog.Sync(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
			}
		}()

		c, err := newCache()
		if err != nil {
			return err
		}
		defer c.Close()

		analyzer, err := newAnalyzer(c)
		if err != nil {
			return err
		}

		svc := &analysisAPIService{
			analyzer:   analyzer,
			cache:      c,
			downloader: store.NewDownloader(store.WithRateLimit(viper.GetInt("download.rate_limit"))),
		}
		meta := &metadataAPIService{
			listings: listing.NewFetcher(nil),
			summarizer: summarizer.NewHTTPSummarizer(
				viper.GetString("summarizer.url"),
				viper.GetString("summarizer.api_key"),
				nil,
			),
			logger: zlog,
		}

		server := api.NewServer(api.Config{
			Analysis:    svc,
			Metadata:    meta,
			Health:      &healthAPIService{cache: c},
			Metrics:     api.NewMetrics(),
			AuthToken:   authToken,
			Logger:      zlog,
			CORSOrigins: corsOrigins,
			RateLimit:   rateLimit,
			RateBurst:   rateBurst,
		})

		httpServer := &http.Server{
			Addr:         addr,
			Handler:      server,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		// Channel to listen for errors from the server
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("%s API server listening on %s (cache dir: %s)\n", colorInfo("→"), addr, cacheDir)
			fmt.Printf("%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			fmt.Printf("\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(ctx); err != nil {
				_ = httpServer.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			fmt.Printf("%s Server stopped\n", colorSuccess("✓"))
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("auth-token", "", "require X-Auth-Token header with this value")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	serveCmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins (empty = allow all)")
	serveCmd.Flags().Int("rate-limit", 0, "requests per second per client IP (0 = disabled)")
	serveCmd.Flags().Int("rate-burst", 0, "burst size for the per-IP rate limiter")
}

// analysisAPIService backs the API's analysis surface: download on demand,
// then run the pipeline.
type analysisAPIService struct {
	analyzer   *analysis.Analyzer
	cache      cache.Cache
	downloader *store.Downloader
}

func (s *analysisAPIService) Analyze(ctx context.Context, id string, st store.Store, opts analysis.Options) (*analysis.Result, error) {
	// Serve straight from the cache when possible; the download is the most
	// expensive step, so it is skipped entirely on a hit.
	if !opts.Refresh {
		if cached, err := s.cache.Get(ctx, cache.Key{ExtensionID: id, Store: st}); err == nil {
			return cached, nil
		}
	}

	raw, err := s.downloader.Fetch(ctx, id, st)
	if err != nil {
		return nil, sharedErrors.AtStage(analysis.StageDownload, err)
	}
	return s.analyzer.Analyze(ctx, id, st, raw, opts)
}

func (s *analysisAPIService) Lookup(ctx context.Context, id string, st store.Store) (*analysis.Result, error) {
	return s.cache.Get(ctx, cache.Key{ExtensionID: id, Store: st})
}

// metadataAPIService enriches responses with listing metadata and a summary.
// Both are strictly best-effort.
type metadataAPIService struct {
	listings   *listing.Fetcher
	summarizer *summarizer.HTTPSummarizer
	logger     *zap.Logger
}

func (s *metadataAPIService) Enrich(ctx context.Context, id string, st store.Store, result *analysis.Result) (*listing.Listing, string) {
	var meta *listing.Listing
	if s.listings != nil {
		l, err := s.listings.Fetch(ctx, id, st)
		if err != nil {
			s.logger.Debug("listing fetch failed", zap.String("extension_id", id), zap.Error(err))
		} else {
			meta = l
		}
	}

	var summary string
	if s.summarizer != nil {
		text, err := s.summarizer.Summarize(ctx, result, meta)
		if err != nil {
			s.logger.Debug("summarizer failed", zap.String("extension_id", id), zap.Error(err))
		} else {
			summary = text
		}
	}
	return meta, summary
}

// healthAPIService reports readiness based on the cache backend being usable.
type healthAPIService struct {
	cache cache.Cache
}

func (s *healthAPIService) Check(ctx context.Context) error {
	return nil
}

func (s *healthAPIService) Ready(ctx context.Context) error {
	_, err := s.cache.Get(ctx, cache.Key{ExtensionID: "readiness-probe", Store: store.Chrome})
	if err != nil && !errors.Is(err, sharedErrors.ErrCacheMiss) {
		return err
	}
	return nil
}
