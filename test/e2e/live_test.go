package e2e

import (
	"net/http"
	"os"
	"testing"

	"github.com/openclaw/georanking/internal/config"
)

// Live tests call api3.geo.admin.ch and only run when GEORANK_E2E_LIVE=1.
func requireLive(t *testing.T) {
	t.Helper()
	if os.Getenv("GEORANK_E2E_LIVE") != "1" {
		t.Skip("set GEORANK_E2E_LIVE=1 to run live upstream tests")
	}
}

func TestLiveAnalyzeByAddress(t *testing.T) {
	requireLive(t)
	st := newStack(t, func(cfg *config.Config) {
		cfg.Server.FaultInjection = false
	})

	status, _, payload := st.do(t, http.MethodPost, "/analyze", nil, map[string]any{
		"query":             "Bundesplatz 3, 3005 Bern",
		"intelligence_mode": "extended",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d (payload %v)", status, payload)
	}
	match, ok := dig(t, payload, "result", "data", "modules", "match").(map[string]any)
	if !ok {
		t.Fatal("match module missing")
	}
	if got, _ := match["status"].(string); got != "" && got != "ok" {
		// status keys are stripped in compact mode; tolerate both shapes
		t.Errorf("match status = %q", got)
	}
	score, ok := dig(t, payload, "result", "status", "quality", "confidence", "score").(float64)
	if !ok || score <= 0 {
		t.Errorf("confidence score = %v, want > 0", score)
	}
	sources, ok := dig(t, payload, "result", "data", "by_source").(map[string]any)
	if !ok || len(sources) == 0 {
		t.Error("by_source attribution empty")
	}
}

func TestLiveCoordinateResolution(t *testing.T) {
	requireLive(t)
	st := newStack(t, func(cfg *config.Config) {
		cfg.Server.FaultInjection = false
	})

	// Zürich main station, well inside Swiss coverage.
	status, _, payload := st.do(t, http.MethodPost, "/analyze", nil, map[string]any{
		"coordinates": map[string]any{"lat": 47.3779, "lon": 8.5403},
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d (payload %v)", status, payload)
	}
	resolution, ok := dig(t, payload, "result", "data", "modules", "match", "resolution").(map[string]any)
	if !ok {
		t.Fatal("match resolution missing")
	}
	input, ok := resolution["coordinate_input"].(map[string]any)
	if !ok {
		t.Fatal("coordinate_input missing")
	}
	if got := input["input_mode"]; got != "coordinates" {
		t.Errorf("input_mode = %v, want coordinates", got)
	}
}
