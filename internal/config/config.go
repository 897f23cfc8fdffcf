// Package config holds the plain CLI configuration struct cmd/modiinfo and
// cmd/modimount populate from cobra flags, following the teacher's
// internal/config convention (a flat struct, no viper/env-binding layer).
package config

// Config holds the settings both CLIs in cmd/ need.
type Config struct {
	// Source is the path to a MODI image file or sparse-bundle directory.
	Source string

	// MaxOpenHandles caps how many band files a sparse-bundle pool keeps
	// open simultaneously (spec §4.7's max_open_handles).
	MaxOpenHandles int

	// CacheCapacity sizes the decoded data-block LRU cache (spec §4.5).
	CacheCapacity int

	// BandsPath overrides the directory a sparse-bundle reads its band
	// files from; empty uses the default "<source>/bands".
	BandsPath string

	// LogLevel selects verbosity: "error", "warning", "info", or "debug".
	LogLevel string

	// NoColor disables ANSI color codes in log output.
	NoColor bool
}
