package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

// FindRoot locates the project root containing a .wreckit directory. The
// WRECKIT_HOME environment variable overrides the search; otherwise the walk
// starts at startDir and climbs to the filesystem root. An empty string is
// returned when no root is found.
func FindRoot(startDir string) (string, error) {
	if home := os.Getenv("WRECKIT_HOME"); home != "" {
		return home, nil
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Path returns the config file path for a project root.
func Path(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// Load reads and migrates the config file at path. Missing file returns the
// defaults. Unknown top-level keys are retained so Save can write them back.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, werr.Wrap(werr.KindConfig, err, "reading config")
	}

	// First pass: raw keys, so unknown ones survive the round-trip.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, werr.Wrap(werr.KindConfig, err, "parsing config")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, werr.Wrap(werr.KindConfig, err, "decoding config")
	}

	cfg.extra = map[string][]byte{}
	for key, val := range raw {
		if !knownTopLevelKeys[key] {
			cfg.extra[key] = append([]byte(nil), val...)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, werr.Wrap(werr.KindConfig, err, "validating config")
	}
	return cfg, nil
}

// Save writes cfg to path atomically (temp file then rename), carrying any
// unknown keys captured at load time. This is the only place the migrated
// tagged-union agent form reaches disk.
func Save(cfg *Config, path string) error {
	known, err := json.Marshal(cfg)
	if err != nil {
		return werr.Wrap(werr.KindConfig, err, "encoding config")
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return werr.Wrap(werr.KindConfig, err, "encoding config")
	}
	for key, val := range cfg.extra {
		if _, exists := merged[key]; !exists {
			merged[key] = val
		}
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return werr.Wrap(werr.KindConfig, err, "encoding config")
	}
	out = append(out, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return werr.Wrap(werr.KindConfig, err, "creating config directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return werr.Wrap(werr.KindConfig, err, "writing config")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return werr.Wrap(werr.KindConfig, err, "replacing config")
	}
	return nil
}

// knownTopLevelKeys mirrors the JSON tags on Config. Keys outside this set
// are preserved verbatim by Save.
var knownTopLevelKeys = map[string]bool{
	"base_branch":                true,
	"branch_prefix":              true,
	"merge_mode":                 true,
	"allow_unsafe_direct_merge":  true,
	"allowed_remote_patterns":    true,
	"agent":                      true,
	"max_iterations":             true,
	"timeout_seconds":            true,
	"pr_checks":                  true,
	"branch_cleanup":             true,
	"sandbox":                    true,
	"critique":                   true,
	"workers":                    true,
	"section_priority":           true,
	"drain_timeout_seconds":      true,
	"runner_force_kill_after_ms": true,
}
