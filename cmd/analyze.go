package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crxlens/crxlens/internal/analysis"
	"github.com/crxlens/crxlens/internal/cache"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/store"
	"github.com/crxlens/crxlens/internal/summarizer"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <extension-id>",
	Short: "Analyze an extension package and report its permission risk",
	Long: `Download (or read from --file) an extension package, extract its manifest,
and report the permission risk score and third-party network endpoints.
Results are cached per (extension ID, store); re-runs are served from the
cache unless --refresh is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extensionID := strings.TrimSpace(args[0])
		storeName, _ := cmd.Flags().GetString("store")
		filePath, _ := cmd.Flags().GetString("file")
		refresh, _ := cmd.Flags().GetBool("refresh")
		scanScripts, _ := cmd.Flags().GetBool("scan-scripts")
		asJSON, _ := cmd.Flags().GetBool("json")
		withSummary, _ := cmd.Flags().GetBool("summary")

		st, err := store.ParseStore(storeName)
		if err != nil {
			return err
		}

		c, err := newCache()
		if err != nil {
			return err
		}
		defer c.Close()

		analyzer, err := newAnalyzer(c)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		opts := analysis.Options{Refresh: refresh, ScanScripts: scanScripts}

		// A cache hit needs no package bytes at all, so only fetch when the
		// pipeline will actually run.
		var raw []byte
		if refresh || !cachedResultExists(ctx, c, extensionID, st) {
			raw, err = loadPackage(ctx, extensionID, st, filePath)
			if err != nil {
				return sharedErrors.AtStage(analysis.StageDownload, err)
			}
		}

		result, err := analyzer.Analyze(ctx, extensionID, st, raw, opts)
		if err != nil {
			if stage := sharedErrors.Stage(err); stage != "" {
				return fmt.Errorf("analysis failed at %s stage: %w", stage, err)
			}
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		printResult(extensionID, st, result)

		if withSummary {
			s := summarizer.NewHTTPSummarizer(
				viper.GetString("summarizer.url"),
				viper.GetString("summarizer.api_key"),
				nil,
			)
			if s == nil {
				fmt.Printf("%s summarizer.url is not configured; skipping summary\n", colorWarn("!"))
				return nil
			}
			text, err := s.Summarize(ctx, result, nil)
			if err != nil {
				// The summary is garnish; its failure never fails the command.
				fmt.Printf("%s summary unavailable: %v\n", colorWarn("!"), err)
				return nil
			}
			fmt.Printf("\n%s %s\n", colorInfo("Summary:"), text)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("store", "chrome", "extension store: chrome or edge")
	analyzeCmd.Flags().String("file", "", "analyze a local .crx file instead of downloading")
	analyzeCmd.Flags().Bool("refresh", false, "bypass the cache and recompute")
	analyzeCmd.Flags().Bool("scan-scripts", false, "also scan bundled scripts for URL literals")
	analyzeCmd.Flags().Bool("json", false, "print the raw analysis result as JSON")
	analyzeCmd.Flags().Bool("summary", false, "request a prose summary from the configured summarizer")
}

// cachedResultExists probes the cache without computing anything.
func cachedResultExists(ctx context.Context, c cache.Cache, id string, st store.Store) bool {
	_, err := c.Get(ctx, cache.Key{ExtensionID: id, Store: st})
	return err == nil
}

// loadPackage reads a local .crx file when one is given, otherwise downloads
// the package from the store.
func loadPackage(ctx context.Context, id string, st store.Store, filePath string) ([]byte, error) {
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("read package file: %w", err)
		}
		return data, nil
	}
	d := store.NewDownloader(store.WithRateLimit(viper.GetInt("download.rate_limit")))
	return d.Fetch(ctx, id, st)
}

func printResult(id string, st store.Store, result *analysis.Result) {
	fmt.Printf("%s %s (%s)\n", colorInfo("Extension:"), id, st)
	fmt.Printf("%s %s\n", colorInfo("Score:"), formatScoreWithColor(result.PermissionsScore, analysis.DefaultCeiling))

	if len(result.Permissions) == 0 {
		fmt.Printf("%s none declared\n", colorInfo("Permissions:"))
	} else {
		fmt.Printf("%s\n", colorInfo("Permissions:"))
		for _, p := range result.Permissions {
			fmt.Printf("  - %s\n", p)
		}
	}

	if len(result.ThirdPartyDomains) == 0 {
		fmt.Printf("%s none found\n", colorInfo("Third-party domains:"))
	} else {
		fmt.Printf("%s\n", colorInfo("Third-party domains:"))
		for _, d := range result.ThirdPartyDomains {
			fmt.Printf("  - %s\n", d)
		}
	}

	if m := result.Manifest; m != nil && m.Name != "" {
		fmt.Printf("%s %s %s\n", colorInfo("Manifest:"), m.Name, m.Version)
	}
}
