package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string
var logger *zap.SugaredLogger
var cacheDir string

var rootCmd = &cobra.Command{
	Use:   "crxlens",
	Short: "Inspect browser extensions: permissions risk and third-party endpoints",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init config
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath("$HOME")
			viper.SetConfigName(".crxlens")
			viper.SetConfigType("yaml")
		}

		_ = viper.ReadInConfig()
		if cacheDir == "" {
			cacheDir = viper.GetString("cache_dir")
		}
		if cacheDir == "" {
			cacheDir = "./cache"
		}

		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %s", err.Error())
		}

		// init logger
		l, _ := zap.NewProduction()
		logger = l.Sugar()

		// Make the cache dir absolute for clarity in logs
		if abs, err := filepath.Abs(cacheDir); err == nil {
			cacheDir = abs
		}

		logger.Debugf("cache_dir=%s", cacheDir)

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Accept snake_case flag spellings for consistency with the config file.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	// config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.crxlens.yaml)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "directory for cached analyses (default ./cache)")

	// add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
