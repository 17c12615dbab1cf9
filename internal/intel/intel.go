package intel

import (
	"context"
	"math"

	"github.com/openclaw/georanking/internal/news"
	"github.com/openclaw/georanking/internal/osm"
	"github.com/openclaw/georanking/internal/query"
	"github.com/openclaw/georanking/internal/sources"
)

// Deps wires the external clients the intelligence layers need.
type Deps struct {
	OSM      *osm.Client
	News     *news.Client
	Registry *sources.Registry
	Adaptive AdaptiveFetch
}

// fetchPOIsAdaptive widens the radius when the first fetch stays below the
// thin-result threshold, up to MaxSteps extra attempts capped at MaxRadiusM.
func fetchPOIsAdaptive(ctx context.Context, deps Deps, lat, lon *float64, settings ModeSettings) (osm.POIResult, int, map[string]any) {
	cfg := deps.Adaptive
	if cfg.ThinThreshold <= 0 {
		cfg = DefaultAdaptiveFetch()
	}

	radius := settings.POIRadiusM
	attempts := []map[string]any{}
	fallbackApplied := false
	limitReached := false

	var result osm.POIResult
	for step := 0; ; step++ {
		result = deps.OSM.POIs(ctx, lat, lon, radius, settings.POILimit)
		attempts = append(attempts, map[string]any{
			"radius_m":  radius,
			"poi_count": len(result.POIs),
		})
		if len(result.POIs) >= cfg.ThinThreshold || step >= cfg.MaxSteps {
			break
		}
		next := int(math.Round(float64(radius) * cfg.GrowthFactor))
		if next >= cfg.MaxRadiusM {
			next = cfg.MaxRadiusM
			limitReached = true
		}
		if next <= radius {
			break
		}
		radius = next
		fallbackApplied = true
	}

	annotation := map[string]any{
		"attempts":           attempts,
		"fallback_applied":   fallbackApplied,
		"limit_reached":      limitReached,
		"low_confidence":     len(result.POIs) < cfg.ThinThreshold,
		"thin_poi_threshold": cfg.ThinThreshold,
		"final_radius_m":     radius,
	}
	return result, radius, annotation
}

// BuildLayers runs every intelligence layer for the given mode. External
// layers are fetched only in extended and risk mode; consistency checks and
// the executive risk summary are always computed.
func BuildLayers(
	ctx context.Context,
	deps Deps,
	mode string,
	q query.Parts,
	subject Subject,
	confidence map[string]any,
	adminBoundary map[string]any,
) map[string]any {
	if !ValidMode(mode) {
		mode = "basic"
	}
	settings := SettingsFor(mode)

	var tenants, incidents, noiseRisk, environmentProfile map[string]any
	var poiFetch map[string]any

	if settings.EnableExternal {
		poiResult, radius, annotation := fetchPOIsAdaptive(ctx, deps, subject.Lat, subject.Lon, settings)
		poiFetch = annotation

		tenants = BuildTenantsBusinessesLayer(poiResult.POIs, poiResult.SourceURL, settings.TenantLimit)
		noiseRisk = BuildEnvironmentNoiseRiskLayer(poiResult.POIs, poiResult.SourceURL, radius, mode)
		environmentProfile = BuildEnvironmentProfileLayer(poiResult.POIs, poiResult.SourceURL, radius, mode)

		incidentQuery := "\"" + subject.Label + "\" OR \"" + q.Raw + "\""
		if settings.NewsFocus == "address_and_incident" {
			incidentQuery += " (Brand OR Feuer OR Polizei OR Unfall OR Einbruch)"
		}
		newsPayload := deps.News.Search(ctx, "google_news_rss", incidentQuery, settings.IncidentLimit)
		incidents = BuildIncidentsTimelineLayer(newsPayload, q.Raw, settings.IncidentLimit)
	} else {
		deps.Registry.Disable("osm_poi_overpass", "im basic-Modus deaktiviert")
		deps.Registry.Disable("google_news_rss", "im basic-Modus deaktiviert")
		tenants = disabledTenantsLayer()
		incidents = disabledIncidentsLayer()
		noiseRisk = disabledNoiseLayer()
		environmentProfile = disabledEnvironmentLayer(mode, settings.POIRadiusM)
	}

	consistency := BuildConsistencyChecksLayer(q, subject, incidents, adminBoundary)

	ambiguity := map[string]any{}
	if amb, ok := confidence["ambiguity"].(map[string]any); ok {
		ambiguity = amb
	}
	executiveRisk := BuildExecutiveRiskSummary(mode, confidence, ambiguity, incidents, noiseRisk, consistency)

	result := map[string]any{
		"mode": mode,
		"source_policy": map[string]any{
			"priority":    sources.PolicyOrder,
			"description": "official > licensed > community > web",
		},
		"tenants_businesses":     tenants,
		"incidents_timeline":     incidents,
		"environment_profile":    environmentProfile,
		"environment_noise_risk": noiseRisk,
		"consistency_checks":     consistency,
		"executive_risk_summary": executiveRisk,
	}
	if poiFetch != nil {
		result["poi_fetch"] = poiFetch
	}
	return result
}

func disabledTenantsLayer() map[string]any {
	return map[string]any{
		"status":             "disabled_by_mode",
		"entities":           []map[string]any{},
		"counts_by_category": map[string]int{},
		"statements": []map[string]any{
			Statement(
				"Mieter-/Geschäftsindizien sind im basic-Modus deaktiviert.",
				0.6,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "osm_poi_overpass",
					Confidence: 0.6,
					Snippet:    "Mode basic",
					FieldPath:  "intelligence.tenants_businesses",
				})},
				"intelligence.tenants_businesses",
			),
		},
	}
}

func disabledIncidentsLayer() map[string]any {
	return map[string]any{
		"status":               "disabled_by_mode",
		"events":               []map[string]any{},
		"relevant_event_count": 0,
		"statements": []map[string]any{
			Statement(
				"Incident-Timeline ist im basic-Modus deaktiviert.",
				0.6,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "google_news_rss",
					Confidence: 0.6,
					Snippet:    "Mode basic",
					FieldPath:  "intelligence.incidents_timeline",
				})},
				"intelligence.incidents_timeline",
			),
		},
	}
}

func disabledNoiseLayer() map[string]any {
	return map[string]any{
		"status":        "disabled_by_mode",
		"score":         0,
		"level":         "unknown",
		"traffic_light": "green",
		"reasons":       []string{"Noise-Risk-Layer im basic-Modus deaktiviert"},
		"indicators":    []map[string]any{},
		"statements": []map[string]any{
			Statement(
				"Umfeld-Lärmrisiko ist im basic-Modus deaktiviert.",
				0.6,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "osm_poi_overpass",
					Confidence: 0.6,
					Snippet:    "Mode basic",
					FieldPath:  "intelligence.environment_noise_risk",
				})},
				"intelligence.environment_noise_risk",
			),
		},
	}
}

func disabledEnvironmentLayer(mode string, radiusM int) map[string]any {
	return map[string]any{
		"status": "disabled_by_mode",
		"model": map[string]any{
			"id":                 "radius-v1",
			"mode":               mode,
			"radius_m":           radiusM,
			"rings":              []map[string]any{},
			"distance_weighting": "ring_weight * (0.4 + 0.6 * proximity)",
		},
		"counts": map[string]any{
			"poi_total": 0,
			"by_domain": map[string]int{},
			"by_ring":   map[string]int{},
		},
		"metrics": map[string]any{
			"density_score":        0,
			"diversity_score":      0,
			"accessibility_score":  0,
			"family_support_score": 0,
			"vitality_score":       0,
			"quietness_score":      0,
			"overall_score":        0,
		},
		"signals": []map[string]any{},
		"statements": []map[string]any{
			Statement(
				"Umfeldprofil ist im basic-Modus deaktiviert.",
				0.6,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "osm_poi_overpass",
					Confidence: 0.6,
					Snippet:    "Mode basic",
					FieldPath:  "intelligence.environment_profile",
				})},
				"intelligence.environment_profile",
			),
		},
	}
}
