package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Trace lookup defaults and caps.
const (
	DefaultTraceLookbackSeconds = 48 * 60 * 60
	MaxTraceLookbackSeconds     = 7 * 24 * 60 * 60
	DefaultTraceMaxEvents       = 200
	HardTraceMaxEvents          = 500
)

var allowedTimelineEvents = map[string]bool{
	"api.request.start":             true,
	"api.request.end":               true,
	"api.upstream.request.start":    true,
	"api.upstream.request.end":      true,
	"api.upstream.response.summary": true,
}

var envelopeCoreFields = map[string]bool{
	"ts": true, "level": true, "event": true,
	"trace_id": true, "request_id": true, "session_id": true,
}

// TraceEvent is one redacted timeline entry.
type TraceEvent struct {
	TS        string         `json:"ts"`
	Event     string         `json:"event"`
	Phase     string         `json:"phase"`
	Level     string         `json:"level"`
	Status    string         `json:"status"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details"`
	Component string         `json:"component,omitempty"`
	Direction string         `json:"direction,omitempty"`
}

// TraceTimeline is the result of a request-id trace lookup.
type TraceTimeline struct {
	OK             bool           `json:"ok"`
	Error          string         `json:"error,omitempty"`
	Message        string         `json:"message,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	State          string         `json:"state,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Found          bool           `json:"found"`
	Events         []TraceEvent   `json:"events"`
	EventCount     int            `json:"event_count"`
	WindowSeconds  int            `json:"window_seconds"`
	MaxEvents      int            `json:"max_events"`
	Source         map[string]any `json:"source,omitempty"`
	Incomplete     bool           `json:"incomplete"`
}

// NormalizeBoundedInt parses raw with permissive defaults and hard bounds.
func NormalizeBoundedInt(raw string, def, min, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if parsed < min {
		return min
	}
	if parsed > max {
		return max
	}
	return parsed
}

// NormalizeLookbackSeconds bounds a lookback window into [60, 7d].
func NormalizeLookbackSeconds(raw string) int {
	return NormalizeBoundedInt(raw, DefaultTraceLookbackSeconds, 60, MaxTraceLookbackSeconds)
}

// NormalizeMaxEvents bounds the event cap into [1, 500].
func NormalizeMaxEvents(raw string) int {
	return NormalizeBoundedInt(raw, DefaultTraceMaxEvents, 1, HardTraceMaxEvents)
}

// NormalizeRequestID validates a request id for lookups; invalid input yields "".
func NormalizeRequestID(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" || len(candidate) > 128 {
		return ""
	}
	if strings.ContainsAny(candidate, ",;") {
		return ""
	}
	for _, r := range candidate {
		if r > 127 || r <= 32 || r == 127 {
			return ""
		}
	}
	return candidate
}

func eventPhase(name string) string {
	switch name {
	case "api.request.start":
		return "start"
	case "api.request.end":
		return "end"
	}
	return "upstream"
}

func summarizeEvent(name string, payload map[string]any) string {
	status := strings.TrimSpace(stringField(payload, "status"))
	statusCode, hasCode := intField(payload, "status_code")
	source := strings.TrimSpace(stringField(payload, "source"))

	switch name {
	case "api.request.start":
		route := strings.TrimSpace(stringField(payload, "route"))
		if route == "" {
			route = "/analyze"
		}
		method := strings.ToUpper(strings.TrimSpace(stringField(payload, "method")))
		if method == "" {
			method = "POST"
		}
		return fmt.Sprintf("%s %s started", method, route)
	case "api.request.end":
		if status == "" {
			status = "unknown"
		}
		if hasCode {
			return fmt.Sprintf("request finished (%s, status %d)", status, statusCode)
		}
		return fmt.Sprintf("request finished (%s)", status)
	case "api.upstream.request.start":
		if source == "" {
			source = "unknown source"
		}
		return fmt.Sprintf("upstream request started (%s)", source)
	case "api.upstream.request.end":
		if status == "" {
			status = "unknown"
		}
		if hasCode {
			return fmt.Sprintf("upstream request ended (%s, status %d)", status, statusCode)
		}
		return fmt.Sprintf("upstream request ended (%s)", status)
	case "api.upstream.response.summary":
		if records, ok := intField(payload, "records"); ok {
			return fmt.Sprintf("upstream response summary (%d records)", records)
		}
		return "upstream response summary"
	}
	return name
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intField(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func normalizeTraceEvent(payload map[string]any) (TraceEvent, bool) {
	name := strings.TrimSpace(stringField(payload, "event"))
	if !allowedTimelineEvents[name] {
		return TraceEvent{}, false
	}

	details := make(map[string]any)
	for key, value := range payload {
		if envelopeCoreFields[key] {
			continue
		}
		details[key] = value
	}

	level := strings.ToLower(strings.TrimSpace(stringField(payload, "level")))
	if level == "" {
		level = "info"
	}

	return TraceEvent{
		TS:        strings.TrimSpace(stringField(payload, "ts")),
		Event:     name,
		Phase:     eventPhase(name),
		Level:     level,
		Status:    strings.TrimSpace(stringField(payload, "status")),
		Summary:   summarizeEvent(name, payload),
		Details:   RedactMap(details),
		Component: strings.TrimSpace(stringField(payload, "component")),
		Direction: strings.TrimSpace(stringField(payload, "direction")),
	}, true
}

func parseEventTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type traceCandidate struct {
	ts   time.Time
	line int
	ev   TraceEvent
}

// BuildTraceTimeline reads a JSONL event log and projects the matching
// request's events into a redacted, chronological timeline.
func BuildTraceTimeline(requestID, logPath string, lookbackSeconds, maxEvents int, now time.Time) TraceTimeline {
	normalizedID := NormalizeRequestID(requestID)
	if normalizedID == "" {
		return TraceTimeline{OK: false, Error: "invalid_request_id", Message: "request_id is missing or invalid"}
	}

	logPath = strings.TrimSpace(logPath)
	if logPath == "" {
		return TraceTimeline{OK: false, Error: "trace_source_unavailable", Message: "TRACE_DEBUG_LOG_PATH is not configured"}
	}
	info, err := os.Stat(logPath)
	if err != nil || info.IsDir() {
		return TraceTimeline{OK: false, Error: "trace_source_unavailable", Message: fmt.Sprintf("trace source not found: %s", logPath)}
	}

	if lookbackSeconds < 60 {
		lookbackSeconds = DefaultTraceLookbackSeconds
	}
	if lookbackSeconds > MaxTraceLookbackSeconds {
		lookbackSeconds = MaxTraceLookbackSeconds
	}
	if maxEvents < 1 {
		maxEvents = DefaultTraceMaxEvents
	}
	if maxEvents > HardTraceMaxEvents {
		maxEvents = HardTraceMaxEvents
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := now.Add(-time.Duration(lookbackSeconds) * time.Second)

	file, err := os.Open(logPath)
	if err != nil {
		return TraceTimeline{OK: false, Error: "trace_source_unavailable", Message: fmt.Sprintf("trace source unreadable: %v", err)}
	}
	defer file.Close()

	var (
		candidates              []traceCandidate
		matchedOutsideWindow    bool
		matchedWithoutTimestamp bool
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		if strings.TrimSpace(stringField(payload, "request_id")) != normalizedID {
			continue
		}
		event, ok := normalizeTraceEvent(payload)
		if !ok {
			continue
		}
		ts, parsed := parseEventTimestamp(stringField(payload, "ts"))
		if !parsed {
			matchedWithoutTimestamp = true
			ts = time.Unix(0, 0).UTC()
		} else if ts.Before(cutoff) {
			matchedOutsideWindow = true
			continue
		}
		candidates = append(candidates, traceCandidate{ts: ts, line: lineNumber, ev: event})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].ts.Equal(candidates[j].ts) {
			return candidates[i].ts.Before(candidates[j].ts)
		}
		return candidates[i].line < candidates[j].line
	})
	if len(candidates) > maxEvents {
		candidates = candidates[:maxEvents]
	}

	events := make([]TraceEvent, len(candidates))
	for i, c := range candidates {
		events[i] = c.ev
	}

	state, reason := "ready", ""
	if len(events) == 0 {
		state = "empty"
		if matchedOutsideWindow {
			reason = "request_id_outside_window"
		} else {
			reason = "request_id_unknown_or_no_events"
		}
	}

	return TraceTimeline{
		OK:            true,
		RequestID:     normalizedID,
		State:         state,
		Reason:        reason,
		Found:         len(events) > 0,
		Events:        events,
		EventCount:    len(events),
		WindowSeconds: lookbackSeconds,
		MaxEvents:     maxEvents,
		Source:        map[string]any{"kind": "jsonl_file", "path": logPath},
		Incomplete:    matchedWithoutTimestamp,
	}
}
