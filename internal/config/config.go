// Package config persists kestrel.Config to disk as YAML, preferring
// a config file next to the binary and falling back to the user's
// config directory, with an atomic temp-file-then-rename write.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk representation. Durations are stored as
// seconds so the YAML stays human-editable.
type File struct {
	BindAddr            string `yaml:"bind_addr"`
	CertCacheCapacity   int    `yaml:"cert_cache_capacity"`
	CertCacheTTLSecs    int    `yaml:"cert_cache_ttl_secs"`
	Intercept           bool   `yaml:"intercept"`
	HTTP2Outbound       bool   `yaml:"http2_outbound"`
	SSEChannelDepth     int    `yaml:"sse_channel_depth"`
	EventChannelDepth   int    `yaml:"event_channel_depth"`
}

// CertCacheTTL returns the configured TTL as a time.Duration.
func (f File) CertCacheTTL() time.Duration {
	return time.Duration(f.CertCacheTTLSecs) * time.Second
}

const fileName = "kestrel.yaml"

// candidatePaths returns, in preference order, the locations Load
// searches: the current directory first, then the user's per-OS
// config directory.
func candidatePaths() []string {
	paths := []string{fileName}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "kestrel", fileName))
	}
	return paths
}

// Load reads the first config file found among the candidate paths.
// If none exists, it returns a zero File and no error; the caller is
// expected to layer DefaultConfig on top.
func Load() (File, error) {
	for _, path := range candidatePaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return File{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		return f, nil
	}
	return File{}, nil
}

// Save writes f to the user's config directory (creating it if
// needed), falling back to the current directory if that fails. The
// write is atomic: data lands in a temp file in the same directory,
// then os.Rename swaps it into place.
func Save(f File) error {
	dir, err := os.UserConfigDir()
	path := fileName
	if err == nil {
		dir = filepath.Join(dir, "kestrel")
		if mkErr := os.MkdirAll(dir, 0o755); mkErr == nil {
			path = filepath.Join(dir, fileName)
		}
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
