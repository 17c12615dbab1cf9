// Package config provides configuration loading and structs for the georank service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Client     ClientConfig     `yaml:"client"`
	Analyze    AnalyzeConfig    `yaml:"analyze"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Trace      TraceConfig      `yaml:"trace"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
}

// ServerConfig holds HTTP front-door settings.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	AuthToken        string `yaml:"auth_token"`
	CORSAllowOrigins string `yaml:"cors_allow_origins"`
	TLSCertFile      string `yaml:"tls_cert_file"`
	TLSKeyFile       string `yaml:"tls_key_file"`
	TLSHTTPRedirect  bool   `yaml:"tls_http_redirect"`
	TLSRedirectPort  int    `yaml:"tls_redirect_port"`
	TLSRedirectHost  string `yaml:"tls_redirect_host"`
	FaultInjection   bool   `yaml:"fault_injection"`
}

// ClientConfig holds upstream HTTP client settings.
type ClientConfig struct {
	TimeoutSeconds     float64 `yaml:"timeout_seconds"`
	Retries            int     `yaml:"retries"`
	BackoffSeconds     float64 `yaml:"backoff_seconds"`
	MinIntervalSeconds float64 `yaml:"min_interval_seconds"`
	MaxRetryAfter      float64 `yaml:"max_retry_after_seconds"`
	CacheTTLSeconds    float64 `yaml:"cache_ttl_seconds"`
	DiskCacheDir       string  `yaml:"disk_cache_dir"`
	UserAgent          string  `yaml:"user_agent"`
}

// AnalyzeConfig holds resolution pipeline settings.
type AnalyzeConfig struct {
	DefaultTimeoutSeconds float64 `yaml:"default_timeout_seconds"`
	MaxTimeoutSeconds     float64 `yaml:"max_timeout_seconds"`
	CandidateLimit        int     `yaml:"candidate_limit"`
	CandidatePreview      int     `yaml:"candidate_preview"`
	OSMMinDelaySeconds    float64 `yaml:"osm_min_delay_seconds"`
}

// JobsConfig holds async job store and worker settings.
type JobsConfig struct {
	StoreFile          string  `yaml:"store_file"`
	StageDelayMillis   int     `yaml:"stage_delay_ms"`
	ResultsTTLSeconds  float64 `yaml:"results_ttl_seconds"`
	EventsTTLSeconds   float64 `yaml:"events_ttl_seconds"`
	StageCount         int     `yaml:"stage_count"`
}

// TraceConfig holds the dev-only request trace lookup settings.
type TraceConfig struct {
	Enabled         bool   `yaml:"enabled"`
	LogPath         string `yaml:"log_path"`
	LookbackSeconds int    `yaml:"lookback_seconds"`
	MaxEvents       int    `yaml:"max_events"`
}

// DictionaryConfig pins the published code-table version.
type DictionaryConfig struct {
	Version string `yaml:"version"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Client.DiskCacheDir = expandPath(cfg.Client.DiskCacheDir, configDir)
	cfg.Jobs.StoreFile = expandPath(cfg.Jobs.StoreFile, configDir)
	if cfg.Trace.LogPath != "" {
		cfg.Trace.LogPath = expandPath(cfg.Trace.LogPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
