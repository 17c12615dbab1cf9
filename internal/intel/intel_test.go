package intel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openclaw/georanking/internal/news"
	"github.com/openclaw/georanking/internal/osm"
	"github.com/openclaw/georanking/internal/query"
	"github.com/openclaw/georanking/internal/sources"
)

func fixedNow(t *testing.T, value string) func() {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse fixed time: %v", err)
	}
	old := timeNow
	timeNow = func() time.Time { return parsed }
	return func() { timeNow = old }
}

func TestClassifyStatementStatus(t *testing.T) {
	official := []map[string]any{EvidenceItem(EvidenceSpec{Source: "geoadmin_gwr", Confidence: 0.9})}
	community := []map[string]any{EvidenceItem(EvidenceSpec{Source: "osm_poi_overpass", Confidence: 0.9})}

	if got := ClassifyStatementStatus(0.9, official); got != "gesichert" {
		t.Fatalf("official high confidence = %q, want gesichert", got)
	}
	if got := ClassifyStatementStatus(0.9, community); got != "indiz" {
		t.Fatalf("community high confidence = %q, want indiz", got)
	}
	if got := ClassifyStatementStatus(0.55, official); got != "indiz" {
		t.Fatalf("medium confidence = %q, want indiz", got)
	}
	if got := ClassifyStatementStatus(0.3, official); got != "unklar" {
		t.Fatalf("low confidence = %q, want unklar", got)
	}
}

func TestStatementCarriesPrimaryProvenance(t *testing.T) {
	ev := []map[string]any{
		EvidenceItem(EvidenceSpec{Source: "geoadmin_gwr", Confidence: 0.9, URL: "https://example.org/a"}),
		EvidenceItem(EvidenceSpec{Source: "osm_poi_overpass", Confidence: 0.4}),
	}
	st := Statement("Testaussage", 0.85, ev, "intelligence.test")
	prov := st["field_provenance"].(map[string]any)
	if prov["primary_source"] != "geoadmin_gwr" {
		t.Fatalf("primary_source = %v", prov["primary_source"])
	}
	if prov["primary_url"] != "https://example.org/a" {
		t.Fatalf("primary_url = %v", prov["primary_url"])
	}
	if st["status"] != "gesichert" {
		t.Fatalf("status = %v", st["status"])
	}
}

func TestSettingsForModes(t *testing.T) {
	risk := SettingsFor("risk")
	if !risk.EnableExternal || risk.POIRadiusM != 280 || risk.POILimit != 140 || risk.TenantLimit != 14 || risk.IncidentLimit != 12 {
		t.Fatalf("risk settings = %+v", risk)
	}
	extended := SettingsFor("extended")
	if !extended.EnableExternal || extended.POIRadiusM != 190 || extended.POILimit != 90 {
		t.Fatalf("extended settings = %+v", extended)
	}
	basic := SettingsFor("basic")
	if basic.EnableExternal {
		t.Fatal("basic mode must not enable external lookups")
	}
	if unknown := SettingsFor("made-up"); unknown.EnableExternal {
		t.Fatal("unknown mode must fall back to basic settings")
	}
}

func TestDefaultAdaptiveFetch(t *testing.T) {
	cfg := DefaultAdaptiveFetch()
	if cfg.ThinThreshold != 18 || cfg.GrowthFactor != 1.6 || cfg.MaxSteps != 2 || cfg.MaxRadiusM != 900 {
		t.Fatalf("adaptive defaults = %+v", cfg)
	}
}

func TestBuildTenantsBusinessesLayer(t *testing.T) {
	pois := []osm.POI{
		{Name: "Cafe Sprüngli", Category: "amenity", Subcategory: "cafe", DistanceM: 40},
		{Name: "Coop", Category: "shop", Subcategory: "supermarket", DistanceM: 90},
		{Name: "Spielplatz", Category: "leisure", Subcategory: "playground", DistanceM: 60},
	}
	layer := BuildTenantsBusinessesLayer(pois, "https://overpass.example/api", 10)
	if layer["status"] != "ok" {
		t.Fatalf("status = %v", layer["status"])
	}
	entities := layer["entities"].([]map[string]any)
	if len(entities) != 2 {
		t.Fatalf("entities = %d, want 2 (playground is not a business)", len(entities))
	}
	counts := layer["counts_by_category"].(map[string]int)
	if counts["amenity:cafe"] != 1 || counts["shop:supermarket"] != 1 {
		t.Fatalf("counts_by_category = %v", counts)
	}
}

func TestBuildTenantsBusinessesLayerLimitAndNoData(t *testing.T) {
	pois := []osm.POI{
		{Name: "A", Category: "shop", Subcategory: "bakery", DistanceM: 10},
		{Name: "B", Category: "shop", Subcategory: "bakery", DistanceM: 20},
		{Name: "C", Category: "shop", Subcategory: "bakery", DistanceM: 30},
	}
	layer := BuildTenantsBusinessesLayer(pois, "", 2)
	if got := len(layer["entities"].([]map[string]any)); got != 2 {
		t.Fatalf("tenant limit not applied, entities = %d", got)
	}

	empty := BuildTenantsBusinessesLayer(nil, "", 10)
	if empty["status"] != "no_data" {
		t.Fatalf("empty status = %v", empty["status"])
	}
	signals := empty["registry_signals"].(map[string]any)
	if signals["status"] != "not_configured" {
		t.Fatalf("registry_signals = %v", signals)
	}
}

func TestBuildIncidentsTimelineLayer(t *testing.T) {
	defer fixedNow(t, "2026-09-01T12:00:00Z")()

	payload := news.Result{
		SourceURL: "https://news.example/rss",
		Events: []news.Event{
			{Title: "Brand an der Bahnhofstrasse 10 in Zürich", PublishedAt: "2026-08-20T08:00:00Z", Source: "Zeitung", URL: "https://news.example/1"},
			{Title: "Gemeindeversammlung verschoben", PublishedAt: "2025-01-01T08:00:00Z", Source: "Amtsblatt"},
		},
	}
	layer := BuildIncidentsTimelineLayer(payload, "Bahnhofstrasse 10, 8001 Zürich", 6)
	if layer["status"] != "ok" {
		t.Fatalf("status = %v", layer["status"])
	}
	events := layer["events"].([]map[string]any)
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	// Newest first.
	if events[0]["title"] != "Brand an der Bahnhofstrasse 10 in Zürich" {
		t.Fatalf("sort order wrong, first = %v", events[0]["title"])
	}
	first, _ := events[0]["confidence"].(float64)
	second, _ := events[1]["confidence"].(float64)
	if first <= second {
		t.Fatalf("incident with keyword+tokens+recency must outscore filler: %v vs %v", first, second)
	}
	if got := layer["relevant_event_count"].(int); got < 1 {
		t.Fatalf("relevant_event_count = %d", got)
	}
}

func TestBuildIncidentsTimelineLayerNoData(t *testing.T) {
	layer := BuildIncidentsTimelineLayer(news.Result{Error: "timeout"}, "Testweg 1", 6)
	if layer["status"] != "no_data" {
		t.Fatalf("status = %v", layer["status"])
	}
	statements := layer["statements"].([]map[string]any)
	if len(statements) != 1 {
		t.Fatalf("statements = %d", len(statements))
	}
}

func TestBuildEnvironmentProfileLayer(t *testing.T) {
	pois := []osm.POI{
		{Name: "Bushof", Category: "amenity", Subcategory: "bus_station", DistanceM: 30},
		{Name: "Bäckerei", Category: "shop", Subcategory: "bakery", DistanceM: 55},
		{Name: "Schule", Category: "amenity", Subcategory: "school", DistanceM: 120},
		{Name: "Park", Category: "leisure", Subcategory: "park", DistanceM: 170},
	}
	layer := BuildEnvironmentProfileLayer(pois, "https://overpass.example", 190, "extended")
	if layer["status"] != "ok" {
		t.Fatalf("status = %v", layer["status"])
	}
	counts := layer["counts"].(map[string]any)
	if counts["poi_total"] != 4 {
		t.Fatalf("poi_total = %v", counts["poi_total"])
	}
	byDomain := counts["by_domain"].(map[string]int)
	if byDomain["transit"] != 1 || byDomain["daily_needs"] != 1 || byDomain["education_family"] != 1 || byDomain["leisure_green"] != 1 {
		t.Fatalf("by_domain = %v", byDomain)
	}
	metrics := layer["metrics"].(map[string]any)
	diversity := metrics["diversity_score"].(int)
	if diversity != 67 {
		t.Fatalf("diversity_score = %d, want 67 (4 of 6 core domains)", diversity)
	}
	model := layer["model"].(map[string]any)
	if model["id"] != "radius-v1" || model["radius_m"] != 190 {
		t.Fatalf("model = %v", model)
	}
	scoreModel := layer["score_model"].(map[string]any)
	if scoreModel["id"] != "environment-profile-scoring-v1" {
		t.Fatalf("score_model id = %v", scoreModel["id"])
	}
	if factors := scoreModel["factors"].([]map[string]any); len(factors) != 6 {
		t.Fatalf("score factors = %d", len(factors))
	}
}

func TestBuildEnvironmentProfileLayerNoData(t *testing.T) {
	layer := BuildEnvironmentProfileLayer(nil, "", 190, "extended")
	if layer["status"] != "no_data" {
		t.Fatalf("status = %v", layer["status"])
	}
	metrics := layer["metrics"].(map[string]any)
	if metrics["overall_score"] != 0 {
		t.Fatalf("overall_score = %v", metrics["overall_score"])
	}
}

func TestBuildEnvironmentNoiseRiskLayer(t *testing.T) {
	pois := []osm.POI{
		{Name: "Club X", Category: "amenity", Subcategory: "nightclub", DistanceM: 20},
		{Name: "Bar Y", Category: "amenity", Subcategory: "bar", DistanceM: 40},
		{Name: "Pub Z", Category: "amenity", Subcategory: "pub", DistanceM: 50},
		{Name: "Bäckerei", Category: "shop", Subcategory: "bakery", DistanceM: 30},
	}
	layer := BuildEnvironmentNoiseRiskLayer(pois, "https://overpass.example", 190, "risk")
	score := layer["score"].(int)
	if score < 28 {
		t.Fatalf("score = %d, expected medium or higher for close nightlife", score)
	}
	if layer["level"] == "low" {
		t.Fatalf("level = %v with score %d in risk mode", layer["level"], score)
	}
	indicators := layer["indicators"].([]map[string]any)
	if len(indicators) != 3 {
		t.Fatalf("indicators = %d, bakery must not count", len(indicators))
	}
	if indicators[0]["name"] != "Club X" {
		t.Fatalf("indicators not sorted by impact: %v", indicators[0]["name"])
	}
}

func TestNoiseRiskThresholdsByMode(t *testing.T) {
	// Bar at 50m and pub at 60m within 200m score ~31 points, which sits
	// between the risk-mode (28) and default (34) medium thresholds.
	pois := []osm.POI{
		{Name: "Bar", Category: "amenity", Subcategory: "bar", DistanceM: 50},
		{Name: "Pub", Category: "amenity", Subcategory: "pub", DistanceM: 60},
	}
	risk := BuildEnvironmentNoiseRiskLayer(pois, "", 200, "risk")
	extended := BuildEnvironmentNoiseRiskLayer(pois, "", 200, "extended")
	if risk["level"] != "medium" || extended["level"] != "low" {
		t.Fatalf("risk thresholds not stricter: risk=%v extended=%v (score %v)", risk["level"], extended["level"], risk["score"])
	}
}

func TestBuildConsistencyChecksLayer(t *testing.T) {
	defer fixedNow(t, "2026-09-01T12:00:00Z")()

	q := query.Parse("Bahnhofstrasse 10, 8001 Zürich")
	subject := Subject{
		Label:        "Bahnhofstrasse 10 8001 Zürich",
		AddressAttrs: map[string]any{"adr_official": true},
		GWRAttrs: map[string]any{
			"plz_plz6": "800100",
			"dplzname": "Zürich",
			"gbauj":    1925.0,
		},
	}
	layer := BuildConsistencyChecksLayer(q, subject, map[string]any{}, map[string]any{"gemname": "Zürich"})
	if layer["overall"] != "stable" {
		t.Fatalf("overall = %v", layer["overall"])
	}
	counts := layer["counts"].(map[string]any)
	if counts["fail"] != 0 {
		t.Fatalf("fail count = %v", counts["fail"])
	}
	checks := layer["checks"].([]map[string]any)
	seen := map[string]string{}
	for _, c := range checks {
		seen[c["id"].(string)] = c["result"].(string)
	}
	for _, id := range []string{"address_registry_official", "postal_code_query_vs_gwr", "city_query_vs_gwr", "baujahr_plausibility", "gwr_vs_boundary_city", "incident_vs_baujahr"} {
		if seen[id] != "pass" {
			t.Fatalf("check %s = %q, want pass (all: %v)", id, seen[id], seen)
		}
	}
}

func TestConsistencyChecksFlagMismatches(t *testing.T) {
	defer fixedNow(t, "2026-09-01T12:00:00Z")()

	q := query.Parse("Bahnhofstrasse 10, 8001 Zürich")
	subject := Subject{
		AddressAttrs: map[string]any{"adr_official": false},
		GWRAttrs: map[string]any{
			"plz_plz6": "300000",
			"dplzname": "Bern",
			"gbauj":    2024.0,
		},
	}
	incidents := map[string]any{
		"events": []any{
			map[string]any{"date": "1990-05-01T00:00:00Z"},
		},
	}
	layer := BuildConsistencyChecksLayer(q, subject, incidents, map[string]any{"gemname": "Bern"})
	if layer["overall"] != "critical" {
		t.Fatalf("overall = %v, PLZ mismatch must be critical", layer["overall"])
	}
	counts := layer["counts"].(map[string]any)
	if counts["fail"].(int) < 1 || counts["warn"].(int) < 2 {
		t.Fatalf("counts = %v", counts)
	}
	riskScore := layer["risk_score"].(int)
	if riskScore < 28 {
		t.Fatalf("risk_score = %d", riskScore)
	}
}

func TestBuildExecutiveRiskSummary(t *testing.T) {
	calm := BuildExecutiveRiskSummary(
		"extended",
		map[string]any{"level": "high"},
		map[string]any{"level": "none"},
		map[string]any{"relevant_event_count": 0},
		map[string]any{"score": 0},
		map[string]any{"risk_score": 0},
	)
	if calm["traffic_light"] != "green" {
		t.Fatalf("calm traffic_light = %v (score %v)", calm["traffic_light"], calm["risk_score"])
	}
	reasons := calm["reasons"].([]string)
	if len(reasons) != 1 || reasons[0] != "Keine auffälligen Risikoindikatoren" {
		t.Fatalf("calm reasons = %v", reasons)
	}

	hot := BuildExecutiveRiskSummary(
		"risk",
		map[string]any{"level": "low"},
		map[string]any{"level": "high"},
		map[string]any{"relevant_event_count": 3},
		map[string]any{"score": 60},
		map[string]any{"risk_score": 50},
	)
	if hot["traffic_light"] != "red" {
		t.Fatalf("hot traffic_light = %v (score %v)", hot["traffic_light"], hot["risk_score"])
	}
	if got := hot["risk_score"].(int); got != 100 {
		t.Fatalf("hot risk_score = %d, want clamp at 100", got)
	}
}

func TestExecutiveRiskModeBias(t *testing.T) {
	base := map[string]any{"level": "high"}
	none := map[string]any{"level": "none"}
	quiet := map[string]any{"score": 0}
	clean := map[string]any{"risk_score": 0}
	noEvents := map[string]any{"relevant_event_count": 0}

	extended := BuildExecutiveRiskSummary("extended", base, none, noEvents, quiet, clean)
	risk := BuildExecutiveRiskSummary("risk", base, none, noEvents, quiet, clean)
	if risk["risk_score"].(int) != extended["risk_score"].(int)+6 {
		t.Fatalf("risk mode bias missing: %v vs %v", risk["risk_score"], extended["risk_score"])
	}
	found := false
	for _, r := range risk["reasons"].([]string) {
		if strings.Contains(r, "Risk-Modus") {
			found = true
		}
	}
	if !found {
		t.Fatalf("risk mode reason missing: %v", risk["reasons"])
	}
}

func TestBuildLayersBasicMode(t *testing.T) {
	reg := sources.NewRegistry()
	deps := Deps{Registry: reg}

	q := query.Parse("Teststrasse 1, 8000 Zürich")
	layers := BuildLayers(context.Background(), deps, "basic", q, Subject{}, map[string]any{"level": "high"}, nil)

	for _, key := range []string{"tenants_businesses", "incidents_timeline", "environment_profile", "environment_noise_risk"} {
		layer := layers[key].(map[string]any)
		if layer["status"] != "disabled_by_mode" {
			t.Fatalf("%s status = %v", key, layer["status"])
		}
	}
	if layers["consistency_checks"].(map[string]any)["status"] != "ok" {
		t.Fatal("consistency checks must run in basic mode")
	}
	if _, ok := layers["executive_risk_summary"].(map[string]any); !ok {
		t.Fatal("executive risk summary must run in basic mode")
	}
	if _, ok := layers["poi_fetch"]; ok {
		t.Fatal("poi_fetch annotation must be absent in basic mode")
	}

	snapshot := reg.Snapshot()
	if snapshot["osm_poi_overpass"].Status != "disabled" || snapshot["google_news_rss"].Status != "disabled" {
		t.Fatalf("external sources not disabled: %v", snapshot)
	}
}

func TestBuildLayersRejectsUnknownMode(t *testing.T) {
	reg := sources.NewRegistry()
	layers := BuildLayers(context.Background(), Deps{Registry: reg}, "turbo", query.Parse("X 1"), Subject{}, nil, nil)
	if layers["mode"] != "basic" {
		t.Fatalf("mode = %v, want basic fallback", layers["mode"])
	}
}
