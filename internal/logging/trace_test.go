package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTraceLog(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildTraceTimelineReady(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := now.Add(-time.Hour).Format(time.RFC3339)
	path := writeTraceLog(t, []string{
		fmt.Sprintf(`{"ts":%q,"level":"info","event":"api.request.start","request_id":"req-xyz","route":"/analyze","method":"POST"}`, ts),
		fmt.Sprintf(`{"ts":%q,"level":"info","event":"api.upstream.request.start","request_id":"req-xyz","source":"geoadmin_search"}`, ts),
		fmt.Sprintf(`{"ts":%q,"level":"info","event":"api.request.end","request_id":"req-xyz","status":"ok","status_code":200}`, ts),
		fmt.Sprintf(`{"ts":%q,"level":"info","event":"api.request.start","request_id":"req-other"}`, ts),
		`not json`,
		fmt.Sprintf(`{"ts":%q,"level":"debug","event":"internal.only","request_id":"req-xyz"}`, ts),
	})

	tl := BuildTraceTimeline("req-xyz", path, 7200, 100, now)
	if !tl.OK {
		t.Fatalf("timeline not ok: %+v", tl)
	}
	if tl.State != "ready" || !tl.Found {
		t.Errorf("state = %q found = %v", tl.State, tl.Found)
	}
	if tl.EventCount != 3 {
		t.Fatalf("event count = %d, want 3", tl.EventCount)
	}
	if tl.Events[0].Phase != "start" || tl.Events[1].Phase != "upstream" || tl.Events[2].Phase != "end" {
		t.Errorf("unexpected phases: %v %v %v", tl.Events[0].Phase, tl.Events[1].Phase, tl.Events[2].Phase)
	}
	if tl.Events[2].Summary != "request finished (ok, status 200)" {
		t.Errorf("end summary = %q", tl.Events[2].Summary)
	}
}

func TestBuildTraceTimelineOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-80 * time.Hour).Format(time.RFC3339)
	path := writeTraceLog(t, []string{
		fmt.Sprintf(`{"ts":%q,"event":"api.request.start","request_id":"req-old"}`, old),
	})

	tl := BuildTraceTimeline("req-old", path, 3600, 100, now)
	if !tl.OK || tl.State != "empty" {
		t.Fatalf("state = %q", tl.State)
	}
	if tl.Reason != "request_id_outside_window" {
		t.Errorf("reason = %q", tl.Reason)
	}
}

func TestBuildTraceTimelineUnknownRequest(t *testing.T) {
	path := writeTraceLog(t, nil)
	tl := BuildTraceTimeline("req-none", path, 3600, 10, time.Now().UTC())
	if tl.State != "empty" || tl.Reason != "request_id_unknown_or_no_events" {
		t.Errorf("state = %q reason = %q", tl.State, tl.Reason)
	}
}

func TestBuildTraceTimelineInvalidInputs(t *testing.T) {
	if tl := BuildTraceTimeline("", "/tmp/x.jsonl", 0, 0, time.Time{}); tl.OK || tl.Error != "invalid_request_id" {
		t.Errorf("invalid id: %+v", tl)
	}
	if tl := BuildTraceTimeline("req with space", "/tmp/x.jsonl", 0, 0, time.Time{}); tl.OK {
		t.Errorf("whitespace id accepted")
	}
	if tl := BuildTraceTimeline("req-1", "", 0, 0, time.Time{}); tl.OK || tl.Error != "trace_source_unavailable" {
		t.Errorf("missing path: %+v", tl)
	}
	if tl := BuildTraceTimeline("req-1", "/nonexistent/trace.jsonl", 0, 0, time.Time{}); tl.OK {
		t.Errorf("missing file accepted")
	}
}

func TestNormalizeRequestID(t *testing.T) {
	if got := NormalizeRequestID(" req-abc "); got != "req-abc" {
		t.Errorf("trim: %q", got)
	}
	for _, bad := range []string{"", "a,b", "a;b", "a b", "ümlaut", string(make([]byte, 200))} {
		if got := NormalizeRequestID(bad); got != "" {
			t.Errorf("NormalizeRequestID(%q) = %q, want empty", bad, got)
		}
	}
}

func TestNormalizeBounds(t *testing.T) {
	if got := NormalizeLookbackSeconds("30"); got != 60 {
		t.Errorf("lookback floor = %d", got)
	}
	if got := NormalizeLookbackSeconds("junk"); got != DefaultTraceLookbackSeconds {
		t.Errorf("lookback default = %d", got)
	}
	if got := NormalizeMaxEvents("9999"); got != HardTraceMaxEvents {
		t.Errorf("events cap = %d", got)
	}
}
