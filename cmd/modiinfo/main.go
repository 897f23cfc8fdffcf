// modiinfo is a thin CLI front end over modi.Handle: it opens a MODI
// source, prints its detected variant and media size, and exits. The
// mount layer, FUSE/Dokan integration, and language bindings are external
// collaborators per spec §1 — this binary exists only to exercise and
// demonstrate the core's Open/Describe/Close contract, following the
// teacher's cmd/installer-scraper cobra/flag/logging conventions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-modi/internal/config"
	"github.com/deploymenttheory/go-modi/internal/logger"
	"github.com/deploymenttheory/go-modi/modi"
)

var cfg config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:              "modiinfo <source>",
		Short:            "Print metadata about a Mac OS Disk Image container",
		Long:             `modiinfo opens a sparse-image, sparse-bundle, UDIF, or raw image and reports its detected variant, media size, and segment count.`,
		Args:             cobra.ExactArgs(1),
		PersistentPreRun: setupLogging,
		RunE:             runInfo,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored log output")
	rootCmd.Flags().IntVar(&cfg.MaxOpenHandles, "max-open-handles", modi.DefaultMaxOpenHandles, "max simultaneously open sparse-bundle band files")
	rootCmd.Flags().IntVar(&cfg.CacheCapacity, "cache-capacity", 0, "decoded data-block cache capacity (0 = default)")
	rootCmd.Flags().StringVar(&cfg.BandsPath, "bands-path", "", "override the directory a sparse-bundle reads its band files from (default: <source>/bands)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, _ []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	noColor, _ := cmd.Flags().GetBool("no-color")

	level := logger.LevelInfo
	if verbose {
		level = logger.LevelDebug
	}
	cfg.LogLevel = level.String()
	cfg.NoColor = noColor
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg.Source = args[0]

	level, _ := logger.ParseLevel(cfg.LogLevel)
	sink := logger.NewSink(os.Stderr, os.Stderr, level, !cfg.NoColor)

	h := modi.New(sink)
	if cfg.BandsPath != "" {
		if err := h.SetBandDataFilesPath(cfg.BandsPath); err != nil {
			return fmt.Errorf("setting bands path: %w", err)
		}
	}
	if err := h.Open(cfg.Source, cfg.MaxOpenHandles, cfg.CacheCapacity); err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Source, err)
	}
	defer h.Close()

	desc, err := h.Describe()
	if err != nil {
		return fmt.Errorf("describing %s: %w", cfg.Source, err)
	}
	fmt.Print(desc)
	return nil
}
