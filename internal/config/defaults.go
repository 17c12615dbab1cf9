package config

import (
	"os"
	"strconv"
	"strings"
)

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TLSRedirectPort == 0 {
		cfg.Server.TLSRedirectPort = 8080
	}
	if cfg.Client.TimeoutSeconds == 0 {
		cfg.Client.TimeoutSeconds = 15
	}
	if cfg.Client.Retries == 0 {
		cfg.Client.Retries = 2
	}
	if cfg.Client.BackoffSeconds == 0 {
		cfg.Client.BackoffSeconds = 0.6
	}
	if cfg.Client.MinIntervalSeconds == 0 {
		cfg.Client.MinIntervalSeconds = 0.25
	}
	if cfg.Client.MaxRetryAfter == 0 {
		cfg.Client.MaxRetryAfter = 30
	}
	if cfg.Client.CacheTTLSeconds == 0 {
		cfg.Client.CacheTTLSeconds = 120
	}
	if cfg.Client.DiskCacheDir == "" {
		cfg.Client.DiskCacheDir = ".cache/http_json"
	}
	if cfg.Client.UserAgent == "" {
		cfg.Client.UserAgent = "openclaw-swisstopo-address-intel/2.2"
	}
	if cfg.Analyze.DefaultTimeoutSeconds == 0 {
		cfg.Analyze.DefaultTimeoutSeconds = 15
	}
	if cfg.Analyze.MaxTimeoutSeconds == 0 {
		cfg.Analyze.MaxTimeoutSeconds = 45
	}
	if cfg.Analyze.CandidateLimit == 0 {
		cfg.Analyze.CandidateLimit = 8
	}
	if cfg.Analyze.CandidatePreview == 0 {
		cfg.Analyze.CandidatePreview = 3
	}
	if cfg.Analyze.OSMMinDelaySeconds == 0 {
		cfg.Analyze.OSMMinDelaySeconds = 1.0
	}
	if cfg.Jobs.StoreFile == "" {
		cfg.Jobs.StoreFile = "runtime/async_jobs/store.v2.json"
	}
	if cfg.Jobs.StageDelayMillis == 0 {
		cfg.Jobs.StageDelayMillis = 150
	}
	if cfg.Jobs.StageCount == 0 {
		cfg.Jobs.StageCount = 2
	}
	if cfg.Jobs.ResultsTTLSeconds == 0 {
		cfg.Jobs.ResultsTTLSeconds = 7 * 24 * 3600
	}
	if cfg.Jobs.EventsTTLSeconds == 0 {
		cfg.Jobs.EventsTTLSeconds = 3 * 24 * 3600
	}
	if cfg.Trace.LookbackSeconds == 0 {
		cfg.Trace.LookbackSeconds = 48 * 3600
	}
	if cfg.Trace.MaxEvents == 0 {
		cfg.Trace.MaxEvents = 200
	}
	if cfg.Dictionary.Version == "" {
		cfg.Dictionary.Version = "2026-02-27"
	}
}

// ApplyEnv overlays environment variables onto cfg. The variable names are
// part of the deployment contract and override file values when set.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "HOST")
	setInt(&cfg.Server.Port, "PORT", "WEB_PORT")
	setString(&cfg.Server.AuthToken, "API_AUTH_TOKEN")
	setString(&cfg.Server.CORSAllowOrigins, "CORS_ALLOW_ORIGINS")
	setString(&cfg.Server.TLSCertFile, "TLS_CERT_FILE")
	setString(&cfg.Server.TLSKeyFile, "TLS_KEY_FILE")
	setBool(&cfg.Server.TLSHTTPRedirect, "TLS_ENABLE_HTTP_REDIRECT")
	setInt(&cfg.Server.TLSRedirectPort, "TLS_REDIRECT_HTTP_PORT")
	setString(&cfg.Server.TLSRedirectHost, "TLS_REDIRECT_HOST")
	setBool(&cfg.Server.FaultInjection, "ENABLE_E2E_FAULT_INJECTION")

	setFloat(&cfg.Client.MinIntervalSeconds, "ADDRESS_INTEL_MIN_REQUEST_INTERVAL")
	setFloat(&cfg.Client.MaxRetryAfter, "ADDRESS_INTEL_MAX_RETRY_AFTER")

	setFloat(&cfg.Analyze.DefaultTimeoutSeconds, "ANALYZE_DEFAULT_TIMEOUT_SECONDS")
	setFloat(&cfg.Analyze.MaxTimeoutSeconds, "ANALYZE_MAX_TIMEOUT_SECONDS")

	setString(&cfg.Jobs.StoreFile, "ASYNC_JOBS_STORE_FILE")
	setInt(&cfg.Jobs.StageDelayMillis, "ASYNC_WORKER_STAGE_DELAY_MS")
	setFloat(&cfg.Jobs.ResultsTTLSeconds, "ASYNC_JOB_RESULTS_RETENTION_SECONDS")
	setFloat(&cfg.Jobs.EventsTTLSeconds, "ASYNC_JOB_EVENTS_RETENTION_SECONDS")

	setBool(&cfg.Trace.Enabled, "TRACE_DEBUG_ENABLED")
	setString(&cfg.Trace.LogPath, "TRACE_DEBUG_LOG_PATH")
	setInt(&cfg.Trace.LookbackSeconds, "TRACE_DEBUG_LOOKBACK_SECONDS")
	setInt(&cfg.Trace.MaxEvents, "TRACE_DEBUG_MAX_EVENTS")

	setString(&cfg.Dictionary.Version, "DICTIONARY_VERSION")
}

// EnvFlagEnabled reports whether a raw flag value means "on".
func EnvFlagEnabled(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func setString(dst *string, names ...string) {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, names ...string) {
	for _, name := range names {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
			return
		}
	}
}

func setFloat(dst *float64, names ...string) {
	for _, name := range names {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			*dst = v
			return
		}
	}
}

func setBool(dst *bool, names ...string) {
	for _, name := range names {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		*dst = EnvFlagEnabled(raw)
		return
	}
}
