// Package logging emits structured JSON log events with best-effort redaction.
//
// Every event carries a minimal envelope (ts, level, event, trace_id,
// request_id, session_id); sensitive values are masked before the line is
// written. Emission must never break the primary request path.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fields is a free-form structured payload attached to an event.
type Fields map[string]any

// RequiredEnvelopeFields are always present in an emitted event,
// empty strings when unknown.
var RequiredEnvelopeFields = []string{"ts", "level", "event", "trace_id", "request_id", "session_id"}

// Exact keys treated as PII-like request payload fields.
var sensitiveKeysExact = map[string]bool{
	"query":          true,
	"resolved_query": true,
	"matched_address": true,
	"street":         true,
	"house_number":   true,
	"postal_code":    true,
	"postcode":       true,
}

// Marker substrings for credential-ish keys.
var sensitiveKeyMarkers = []string{
	"authorization", "token", "secret", "password", "api_key", "apikey", "cookie", "set-cookie",
}

var (
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s]+`)
	emailRe       = regexp.MustCompile(`\b([A-Za-z0-9._%+\-])([A-Za-z0-9._%+\-]{0,63})@([A-Za-z0-9.\-]+\.[A-Za-z]{2,})\b`)
)

func looksSensitiveKey(key string) bool {
	lowered := strings.ToLower(strings.TrimSpace(key))
	if sensitiveKeysExact[lowered] {
		return true
	}
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func maskEmail(value string) string {
	return emailRe.ReplaceAllString(value, "$1***@$3")
}

// RedactScalar masks sensitive scalar values using key- and pattern-based rules.
func RedactScalar(key string, value any) any {
	if value == nil {
		return nil
	}
	if looksSensitiveKey(key) {
		return "[REDACTED]"
	}
	if s, ok := value.(string); ok {
		sanitized := bearerTokenRe.ReplaceAllString(s, "Bearer [REDACTED]")
		return maskEmail(sanitized)
	}
	return value
}

// RedactMap returns a recursively redacted copy of payload. When a key is
// sensitive the entire value is masked regardless of its shape, so nested
// sub-objects cannot leak.
func RedactMap(payload map[string]any) map[string]any {
	redacted := make(map[string]any, len(payload))
	for key, value := range payload {
		if looksSensitiveKey(key) {
			redacted[key] = "[REDACTED]"
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			redacted[key] = RedactMap(v)
		case Fields:
			redacted[key] = RedactMap(v)
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					items[i] = RedactMap(m)
				} else {
					items[i] = RedactScalar(key, item)
				}
			}
			redacted[key] = items
		default:
			redacted[key] = RedactScalar(key, value)
		}
	}
	return redacted
}

// UTCTimestamp returns a UTC ISO8601 timestamp with trailing Z.
func UTCTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Emitter writes one redacted JSON line per event.
type Emitter struct {
	mu  sync.Mutex
	out io.Writer
	now func() string
}

// NewEmitter creates an emitter writing to out; nil means stdout.
func NewEmitter(out io.Writer) *Emitter {
	if out == nil {
		out = os.Stdout
	}
	return &Emitter{out: out, now: UTCTimestamp}
}

// Emit builds the envelope, redacts, and writes one JSON line.
// Failures are swallowed: logging must never break service logic.
func (e *Emitter) Emit(event string, level string, traceID, requestID, sessionID string, fields Fields) {
	defer func() {
		_ = recover()
	}()

	if strings.TrimSpace(event) == "" {
		return
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}

	payload := map[string]any{
		"ts":         e.now(),
		"level":      level,
		"event":      strings.TrimSpace(event),
		"trace_id":   strings.TrimSpace(traceID),
		"request_id": strings.TrimSpace(requestID),
		"session_id": strings.TrimSpace(sessionID),
	}
	for key, value := range fields {
		payload[key] = value
	}
	for _, required := range RequiredEnvelopeFields {
		if _, ok := payload[required]; !ok {
			payload[required] = ""
		}
	}

	line, err := marshalSorted(RedactMap(payload))
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.out.Write(append(line, '\n'))
}

// marshalSorted serializes with deterministic key order for stable log lines.
func marshalSorted(payload map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(payload[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}
