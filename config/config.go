// Package config loads dobbin's own configuration: the data directory a
// [dobbin.Database] opens and a couple of tuning knobs, following the
// same precedence chain and JSONC (via hujson) loading the teacher
// codebase uses for its own config file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config holds dobbin's configuration options.
type Config struct {
	// DataDir is the directory holding the database file and its
	// ".lock" sibling.
	DataDir string `json:"data_dir"` //nolint:tagliatelle // snake_case for config file

	// CommitLockTimeout bounds how long tpc_begin retries commit-lock
	// acquisition before giving up with a retryable error (spec §5).
	CommitLockTimeout time.Duration `json:"commit_lock_timeout_ms"`

	// StreamChunkSize bounds a single read from a persisted stream
	// (spec §8 scenario 4: "≤32 KiB chunks").
	StreamChunkSize int `json:"stream_chunk_size"`
}

// FileName is the default config file name, analogous to the teacher's
// ConfigFileName.
const FileName = ".dobbin.json"

// DefaultConfig returns dobbin's built-in defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:           ".",
		CommitLockTimeout: 5 * time.Second,
		StreamChunkSize:   32 * 1024,
	}
}

var (
	errConfigFileNotFound = errors.New("config: file not found")
	errConfigFileRead     = errors.New("config: failed to read file")
	errConfigInvalid      = errors.New("config: invalid")
)

// Load loads configuration with the following precedence (highest
// wins): defaults, then the project config file at workDir/.dobbin.json
// (or an explicit configPath, which must exist if given), then
// cliOverrides.DataDir when hasDataDirOverride is set. No other field of
// cliOverrides is applied.
func Load(workDir, configPath string, cliOverrides Config, hasDataDirOverride bool) (Config, error) {
	cfg := DefaultConfig()

	fileCfg, loaded, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = mergeConfig(cfg, fileCfg)
	}

	if hasDataDirOverride {
		cfg.DataDir = cliOverrides.DataDir
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadProjectConfig(workDir, configPath string) (Config, bool, error) {
	var (
		path      string
		mustExist bool
	)

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		if _, err := os.Stat(path); err != nil {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, FileName)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled, same as the teacher's config loader
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var raw struct {
		DataDir           string `json:"data_dir"` //nolint:tagliatelle
		CommitLockTimeout int64  `json:"commit_lock_timeout_ms"`
		StreamChunkSize   int    `json:"stream_chunk_size"`
	}

	if err := json.Unmarshal(standardized, &raw); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	cfg := Config{DataDir: raw.DataDir, StreamChunkSize: raw.StreamChunkSize}
	if raw.CommitLockTimeout > 0 {
		cfg.CommitLockTimeout = time.Duration(raw.CommitLockTimeout) * time.Millisecond
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.CommitLockTimeout > 0 {
		base.CommitLockTimeout = overlay.CommitLockTimeout
	}

	if overlay.StreamChunkSize > 0 {
		base.StreamChunkSize = overlay.StreamChunkSize
	}

	return base
}

// Save writes cfg as JSON to path via a temp-file-then-rename, so a
// process that crashes mid-write never leaves the project config file
// torn (the same atomic-replace concern the teacher's own config writer
// handles with natefinch/atomic, here applied to dobbin's config instead
// of a ticket file).
func Save(path string, cfg Config) error {
	raw := struct {
		DataDir           string `json:"data_dir"` //nolint:tagliatelle
		CommitLockTimeout int64  `json:"commit_lock_timeout_ms"`
		StreamChunkSize   int    `json:"stream_chunk_size"`
	}{
		DataDir:           cfg.DataDir,
		CommitLockTimeout: int64(cfg.CommitLockTimeout / time.Millisecond),
		StreamChunkSize:   cfg.StreamChunkSize,
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("%w: data_dir must not be empty", errConfigInvalid)
	}

	if cfg.StreamChunkSize <= 0 {
		return fmt.Errorf("%w: stream_chunk_size must be positive", errConfigInvalid)
	}

	return nil
}
