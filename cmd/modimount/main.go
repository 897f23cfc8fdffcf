// modimount is a thin stub front end over modi.Handle demonstrating the
// read/seek contract a real FUSE/Dokan mount layer would drive — the mount
// layer itself is an external collaborator per spec §1. Rather than
// exposing a filesystem, this binary opens a source and copies the whole
// logical media stream to stdout (or an --out file), reading through the
// same Open/Read/Close sequence a mount driver's read callback would.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-modi/internal/config"
	"github.com/deploymenttheory/go-modi/internal/logger"
	"github.com/deploymenttheory/go-modi/modi"
)

var cfg config.Config

func main() {
	var outPath string

	rootCmd := &cobra.Command{
		Use:              "modimount <source>",
		Short:            "Stream a Mac OS Disk Image container's logical media to a file or stdout",
		Long:             `modimount demonstrates the read/seek contract a FUSE/Dokan mount layer drives: it opens source, then serves sequential reads against the unified segment list until the logical media is exhausted.`,
		Args:             cobra.ExactArgs(1),
		PersistentPreRun: setupLogging,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(args[0], outPath)
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored log output")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "write decoded media to this file instead of stdout")
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

func runMount(source, outPath string) error {
	cfg.Source = source

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

	out := io.Writer(os.Stdout)
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer f.Close()
		out = f
	}

	size, err := h.Size()
	if err != nil {
		return fmt.Errorf("sizing %s: %w", cfg.Source, err)
	}
	sink.Infof("streaming %d bytes from %s", size, cfg.Source)

	const chunk = 1 << 20
	buf := make([]byte, chunk)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing output: %w", werr)
			}
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", cfg.Source, err)
		}
		if n == 0 {
			break
		}
	}
	return nil
}
