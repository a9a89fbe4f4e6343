// SPDX-License-Identifier: MIT

// Package config defines the explicit configuration for the portal daemon.
// All components receive their settings from here at construction; there is
// no ambient global state.
package config

import (
	"fmt"
	"os"
	"time"
)

// Environment variable names recognised by FromEnv.
const (
	EnvListenAddr  = "WTF_LISTEN"
	EnvDataDir     = "WTF_DATA_DIR"
	EnvUploadDir   = "WTF_UPLOAD_DIR"
	EnvOutputDir   = "WTF_OUTPUT_DIR"
	EnvTempDir     = "WTF_TEMP_DIR"
	EnvTemplateDir = "WTF_TEMPLATE_DIR"
	EnvFFmpegBin   = "WTF_FFMPEG_BIN"
	EnvFetchBin    = "WTF_FETCH_BIN"
	EnvAuthKey     = "WTF_PORTAL_KEY"
	EnvMemFloorMB  = "WTF_MEMORY_FLOOR_MB"
	EnvMemSoftMB   = "WTF_MEMORY_SOFT_MB"
	EnvTimeoutSec  = "WTF_TRANSCODE_TIMEOUT_SEC"
	EnvMaxJobs     = "WTF_MAX_CONCURRENT_JOBS"
	EnvMaxUploadMB = "WTF_MAX_UPLOAD_MB"
	EnvLowMemory   = "WTF_LOW_MEMORY"

	EnvTraceEndpoint = "WTF_OTLP_ENDPOINT"
	EnvTraceExporter = "WTF_OTLP_PROTOCOL"
)

// Config carries every tunable the daemon and its components need.
type Config struct {
	ListenAddr string

	// Filesystem areas. UploadDir receives intake files, OutputDir holds
	// finished renders, TempDir holds in-flight render output, TemplateDir
	// holds brand overlay assets (with a watermarks/ subdirectory).
	DataDir     string
	UploadDir   string
	OutputDir   string
	TempDir     string
	TemplateDir string

	FFmpegBin string
	FetchBin  string

	// AuthKey guards the /api surface; empty disables the check.
	AuthKey string

	// MemoryFloorBytes is the hard floor: below it a job is refused before
	// the transcoder is spawned. MemorySoftBytes only triggers a warning.
	MemoryFloorBytes uint64
	MemorySoftBytes  uint64

	TranscodeTimeout  time.Duration
	MaxConcurrentJobs int
	MaxUploadBytes    int64
	MaxFetchURLs      int

	// LowMemoryMode trades encode quality for survivability: single encoder
	// thread, fast preset, bounded mux queues.
	LowMemoryMode bool

	// TraceEndpoint is the OTLP collector address; empty disables tracing.
	// TraceExporter selects the OTLP transport ("http" or "grpc").
	TraceEndpoint string
	TraceExporter string
}

// Default returns the built-in configuration, anchored at dataDir.
func Default(dataDir string) Config {
	if dataDir == "" {
		dataDir = "./data"
	}
	return Config{
		ListenAddr:        ":8080",
		DataDir:           dataDir,
		UploadDir:         dataDir + "/uploads",
		OutputDir:         dataDir + "/output",
		TempDir:           dataDir + "/tmp",
		TemplateDir:       dataDir + "/templates",
		FFmpegBin:         "ffmpeg",
		FetchBin:          "yt-dlp",
		MemoryFloorBytes:  100 * 1024 * 1024,
		MemorySoftBytes:   200 * 1024 * 1024,
		TranscodeTimeout:  600 * time.Second,
		MaxConcurrentJobs: 2,
		MaxUploadBytes:    500 * 1024 * 1024,
		MaxFetchURLs:      5,
		LowMemoryMode:     true,
		TraceExporter:     "http",
	}
}

// FromEnv builds a Config from environment variables on top of Default.
func FromEnv() Config {
	cfg := Default(ParseString(EnvDataDir, "./data"))

	cfg.ListenAddr = ParseString(EnvListenAddr, cfg.ListenAddr)
	cfg.UploadDir = ParseString(EnvUploadDir, cfg.UploadDir)
	cfg.OutputDir = ParseString(EnvOutputDir, cfg.OutputDir)
	cfg.TempDir = ParseString(EnvTempDir, cfg.TempDir)
	cfg.TemplateDir = ParseString(EnvTemplateDir, cfg.TemplateDir)
	cfg.FFmpegBin = ParseString(EnvFFmpegBin, cfg.FFmpegBin)
	cfg.FetchBin = ParseString(EnvFetchBin, cfg.FetchBin)
	cfg.AuthKey = os.Getenv(EnvAuthKey)

	cfg.MemoryFloorBytes = uint64(ParseInt(EnvMemFloorMB, 100)) * 1024 * 1024
	cfg.MemorySoftBytes = uint64(ParseInt(EnvMemSoftMB, 200)) * 1024 * 1024
	cfg.TranscodeTimeout = time.Duration(ParseInt(EnvTimeoutSec, 600)) * time.Second
	cfg.MaxConcurrentJobs = ParseInt(EnvMaxJobs, cfg.MaxConcurrentJobs)
	cfg.MaxUploadBytes = int64(ParseInt(EnvMaxUploadMB, 500)) * 1024 * 1024
	cfg.LowMemoryMode = ParseBool(EnvLowMemory, cfg.LowMemoryMode)

	cfg.TraceEndpoint = os.Getenv(EnvTraceEndpoint)
	cfg.TraceExporter = ParseString(EnvTraceExporter, cfg.TraceExporter)

	return cfg
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	for name, dir := range map[string]string{
		"upload dir":   c.UploadDir,
		"output dir":   c.OutputDir,
		"temp dir":     c.TempDir,
		"template dir": c.TemplateDir,
	} {
		if dir == "" {
			return fmt.Errorf("config: %s must not be empty", name)
		}
	}
	if c.FFmpegBin == "" {
		return fmt.Errorf("config: ffmpeg binary path must not be empty")
	}
	if c.MemoryFloorBytes == 0 {
		return fmt.Errorf("config: memory floor must be positive")
	}
	if c.MemorySoftBytes < c.MemoryFloorBytes {
		return fmt.Errorf("config: memory soft floor %d below hard floor %d", c.MemorySoftBytes, c.MemoryFloorBytes)
	}
	if c.TranscodeTimeout <= 0 {
		return fmt.Errorf("config: transcode timeout must be positive")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("config: max concurrent jobs must be at least 1")
	}
	if c.MaxFetchURLs < 1 {
		return fmt.Errorf("config: max fetch urls must be at least 1")
	}
	if c.TraceEndpoint != "" && c.TraceExporter != "http" && c.TraceExporter != "grpc" {
		return fmt.Errorf("config: trace exporter must be http or grpc, got %q", c.TraceExporter)
	}
	return nil
}

// EnsureDirs creates the working directories if they do not exist yet.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadDir, c.OutputDir, c.TempDir} {
		// #nosec G301 -- media areas are group readable on purpose
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}
