// Package httpclient provides the shared upstream HTTP client with retries,
// rate limiting, two-tier response caching, and structured telemetry.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Retryable upstream status codes.
var retryableStatusCodes = map[int]bool{
	408: true, 409: true, 425: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// Error classes reported in telemetry.
const (
	ErrClassHTTP    = "http_error"
	ErrClassNetwork = "network_error"
	ErrClassDecode  = "decode_error"
)

// ExternalRequestError is the terminal failure of an upstream call.
type ExternalRequestError struct {
	Source     string
	URL        string
	StatusCode int
	Attempt    int
	Class      string
	Retryable  bool
	Err        error
}

func (e *ExternalRequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: upstream request failed (status %d, attempt %d): %v", e.Source, e.StatusCode, e.Attempt, e.Err)
	}
	return fmt.Sprintf("%s: upstream request failed (attempt %d): %v", e.Source, e.Attempt, e.Err)
}

func (e *ExternalRequestError) Unwrap() error { return e.Err }

// EmitFunc receives upstream telemetry events. The emitter owns redaction.
type EmitFunc func(event, level string, fields map[string]any)

// Options configures a Client.
type Options struct {
	Timeout         time.Duration
	Retries         int
	Backoff         time.Duration
	MinInterval     time.Duration
	MaxRetryAfter   time.Duration
	CacheTTL        time.Duration
	DiskCacheDir    string // empty disables the disk tier
	UserAgent       string
	Emit            EmitFunc
	TraceID         string
	RequestID       string
	SessionID       string
}

type cacheEntry struct {
	at      time.Time
	payload any
}

// Client performs upstream GETs with well-defined retry, caching, and
// telemetry behavior. Safe for concurrent use.
type Client struct {
	http          *http.Client
	timeout       time.Duration
	retries       int
	backoff       time.Duration
	minInterval   time.Duration
	maxRetryAfter time.Duration
	cacheTTL      time.Duration
	userAgent     string
	emit          EmitFunc

	traceID   string
	requestID string
	sessionID string

	mu            sync.Mutex
	nextAllowedAt time.Time
	perSourceNext map[string]time.Time
	memCache      map[string]cacheEntry

	disk *diskCache
}

// New creates a client. Zero option fields fall back to conservative defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 600 * time.Millisecond
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "openclaw-swisstopo-address-intel/2.2"
	}

	c := &Client{
		http:          &http.Client{Timeout: opts.Timeout},
		timeout:       opts.Timeout,
		retries:       opts.Retries,
		backoff:       opts.Backoff,
		minInterval:   opts.MinInterval,
		maxRetryAfter: opts.MaxRetryAfter,
		cacheTTL:      opts.CacheTTL,
		userAgent:     opts.UserAgent,
		emit:          opts.Emit,
		traceID:       opts.TraceID,
		requestID:     opts.RequestID,
		sessionID:     opts.SessionID,
		perSourceNext: make(map[string]time.Time),
		memCache:      make(map[string]cacheEntry),
	}
	if opts.DiskCacheDir != "" {
		c.disk = newDiskCache(opts.DiskCacheDir, minDuration(opts.CacheTTL, 7*24*time.Hour))
	}
	return c
}

// SetCorrelation attaches per-request correlation ids to upstream telemetry.
func (c *Client) SetCorrelation(traceID, requestID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if traceID != "" || requestID != "" {
		c.traceID = firstNonEmpty(traceID, requestID)
		c.requestID = firstNonEmpty(requestID, traceID)
	}
	if sessionID != "" {
		c.sessionID = sessionID
	}
}

// SetEmitter replaces the telemetry emitter.
func (c *Client) SetEmitter(emit EmitFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit = emit
}

// GetJSON fetches url and decodes the JSON body. sourceDelay adds a
// per-source minimum spacing on top of the global inter-request interval
// (used for community providers).
func (c *Client) GetJSON(ctx context.Context, rawURL, source string, sourceDelay time.Duration) (any, error) {
	if payload, tier, ok := c.cacheLookup(rawURL, ""); ok {
		c.emitSummary(source, rawURL, payload, tier)
		return payload, nil
	}

	body, err := c.fetch(ctx, rawURL, source, sourceDelay, "application/json")
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		derr := &ExternalRequestError{
			Source: source, URL: rawURL, Attempt: c.retries + 1,
			Class: ErrClassDecode, Retryable: false,
			Err: fmt.Errorf("decode response: %w", err),
		}
		c.emitEnd(source, rawURL, "error", 0, 0, c.retries, ErrClassDecode, err.Error())
		return nil, derr
	}

	c.cacheStore(rawURL, "", payload)
	c.emitSummary(source, rawURL, payload, "miss")
	return payload, nil
}

// GetBytes fetches url and returns the raw body; used for RSS and tile
// streams. Byte payloads use a separate disk key prefix.
func (c *Client) GetBytes(ctx context.Context, rawURL, source string, sourceDelay time.Duration) ([]byte, error) {
	if payload, tier, ok := c.cacheLookup(rawURL, "rss::"); ok {
		if s, ok := payload.(string); ok {
			c.emitSummary(source, rawURL, payload, tier)
			return []byte(s), nil
		}
	}

	body, err := c.fetch(ctx, rawURL, source, sourceDelay, "")
	if err != nil {
		return nil, err
	}

	c.cacheStore(rawURL, "rss::", string(body))
	c.emitSummary(source, rawURL, string(body), "miss")
	return body, nil
}

func (c *Client) fetch(ctx context.Context, rawURL, source string, sourceDelay time.Duration, accept string) ([]byte, error) {
	maxAttempts := c.retries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.waitTurn(source, sourceDelay)
		c.emitStart(source, rawURL, attempt, maxAttempts)

		startedAt := time.Now()
		body, status, retryAfter, err := c.doOnce(ctx, rawURL, accept)
		durationMS := float64(time.Since(startedAt)) / float64(time.Millisecond)

		if err == nil && status < 400 {
			c.emitEnd(source, rawURL, "ok", status, durationMS, attempt-1, "", "")
			return body, nil
		}

		var class string
		var retryable bool
		switch {
		case err != nil:
			class = ErrClassNetwork
			retryable = true
			lastErr = err
		default:
			class = ErrClassHTTP
			retryable = retryableStatusCodes[status]
			lastErr = fmt.Errorf("http status %d", status)
		}

		if retryable && attempt < maxAttempts {
			c.emitEnd(source, rawURL, "retrying", status, durationMS, attempt-1, class, lastErr.Error())
			c.sleepBackoff(ctx, attempt, status, retryAfter)
			continue
		}

		c.emitEnd(source, rawURL, "error", status, durationMS, attempt-1, class, lastErr.Error())
		return nil, &ExternalRequestError{
			Source: source, URL: rawURL, StatusCode: status,
			Attempt: attempt, Class: class, Retryable: retryable, Err: lastErr,
		}
	}

	return nil, &ExternalRequestError{
		Source: source, URL: rawURL, Attempt: maxAttempts,
		Class: ErrClassNetwork, Retryable: true, Err: lastErr,
	}
}

func (c *Client) doOnce(ctx context.Context, rawURL, accept string) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, resp.StatusCode, retryAfter, err
	}
	return body, resp.StatusCode, retryAfter, nil
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) sleepBackoff(ctx context.Context, attempt, status int, retryAfter time.Duration) {
	wait := time.Duration(float64(c.backoff) * float64(uint(1)<<uint(attempt-1)))
	wait += time.Duration(rand.Int63n(int64(c.backoff)/3 + 1))

	if (status == 429 || status == 503) && retryAfter > 0 {
		if retryAfter > wait {
			wait = retryAfter
		}
		if wait > c.maxRetryAfter {
			wait = c.maxRetryAfter
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// waitTurn enforces the global minimum inter-request interval plus any
// per-source minimum delay.
func (c *Client) waitTurn(source string, sourceDelay time.Duration) {
	for {
		c.mu.Lock()
		now := time.Now()
		next := c.nextAllowedAt
		if sd, ok := c.perSourceNext[source]; ok && sourceDelay > 0 && sd.After(next) {
			next = sd
		}
		if !now.Before(next) {
			if c.minInterval > 0 {
				c.nextAllowedAt = now.Add(c.minInterval)
			}
			if sourceDelay > 0 {
				c.perSourceNext[source] = now.Add(sourceDelay)
			}
			c.mu.Unlock()
			return
		}
		wait := next.Sub(now)
		c.mu.Unlock()
		time.Sleep(wait)
	}
}

func (c *Client) cacheLookup(rawURL, prefix string) (any, string, bool) {
	if c.cacheTTL <= 0 {
		return nil, "", false
	}
	key := prefix + rawURL

	c.mu.Lock()
	entry, ok := c.memCache[key]
	c.mu.Unlock()
	if ok && time.Since(entry.at) < c.cacheTTL {
		return entry.payload, "memory", true
	}

	if c.disk != nil {
		if payload, ok := c.disk.load(key); ok {
			c.mu.Lock()
			c.memCache[key] = cacheEntry{at: time.Now(), payload: payload}
			c.mu.Unlock()
			return payload, "disk", true
		}
	}
	return nil, "", false
}

func (c *Client) cacheStore(rawURL, prefix string, payload any) {
	if c.cacheTTL <= 0 {
		return
	}
	key := prefix + rawURL
	c.mu.Lock()
	c.memCache[key] = cacheEntry{at: time.Now(), payload: payload}
	c.mu.Unlock()
	if c.disk != nil {
		c.disk.store(key, payload)
	}
}

// IsRetryable reports whether err is an upstream failure that a caller may
// reasonably retry at a higher level.
func IsRetryable(err error) bool {
	var ext *ExternalRequestError
	if errors.As(err, &ext) {
		return ext.Retryable
	}
	return false
}

func (c *Client) emitStart(source, rawURL string, attempt, maxAttempts int) {
	if c.emit == nil {
		return
	}
	fields := map[string]any{
		"source":          source,
		"attempt":         attempt,
		"max_attempts":    maxAttempts,
		"timeout_seconds": c.timeout.Seconds(),
	}
	addTargetFields(fields, rawURL)
	c.emit("api.upstream.request.start", "info", c.withCorrelation(fields))
}

func (c *Client) emitEnd(source, rawURL, status string, statusCode int, durationMS float64, retryCount int, errClass, errMessage string) {
	if c.emit == nil {
		return
	}
	level := "info"
	if status == "error" {
		level = "error"
	} else if status == "retrying" {
		level = "warn"
	}
	fields := map[string]any{
		"source":      source,
		"status":      status,
		"duration_ms": durationMS,
		"retry_count": retryCount,
	}
	if statusCode > 0 {
		fields["status_code"] = statusCode
	}
	if errClass != "" {
		fields["error_class"] = errClass
		fields["error_message"] = errMessage
	}
	addTargetFields(fields, rawURL)
	c.emit("api.upstream.request.end", level, c.withCorrelation(fields))
}

func (c *Client) emitSummary(source, rawURL string, payload any, cacheTier string) {
	if c.emit == nil {
		return
	}
	fields := map[string]any{
		"source":       source,
		"records":      inferRecordCount(payload),
		"payload_kind": payloadKind(payload),
		"cache":        cacheTier,
	}
	addTargetFields(fields, rawURL)
	c.emit("api.upstream.response.summary", "info", c.withCorrelation(fields))
}

func (c *Client) withCorrelation(fields map[string]any) map[string]any {
	c.mu.Lock()
	fields["trace_id"] = c.traceID
	fields["request_id"] = c.requestID
	fields["session_id"] = c.sessionID
	c.mu.Unlock()
	fields["component"] = "api.http_client"
	fields["direction"] = "api->upstream"
	return fields
}

func addTargetFields(fields map[string]any, rawURL string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	fields["target_host"] = strings.ToLower(parsed.Host)
	fields["target_path"] = path
}

// inferRecordCount estimates how many records a payload carries for
// telemetry summaries.
func inferRecordCount(payload any) int {
	switch v := payload.(type) {
	case map[string]any:
		for _, key := range []string{"results", "features", "elements", "events", "items"} {
			if list, ok := v[key].([]any); ok {
				return len(list)
			}
		}
		return 1
	case []any:
		return len(v)
	case string:
		if v == "" {
			return 0
		}
		return 1
	}
	return 0
}

func payloadKind(payload any) string {
	switch payload.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "bytes"
	}
	return "unknown"
}

func minDuration(a, b time.Duration) time.Duration {
	if a <= 0 {
		return b
	}
	if a < b {
		return a
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
