package resolver

import (
	"strings"

	"github.com/openclaw/georanking/internal/sources"
	"github.com/openclaw/georanking/pkg/utils"
)

// SourceCatalogView projects the source catalog plus the per-request
// status snapshot into the classification block of a report.
func SourceCatalogView(status map[string]sources.Info) map[string]any {
	view := make(map[string]any, len(sources.Catalog))
	for name, entry := range sources.Catalog {
		state := "not_used"
		optional := entry.Tier != "core"
		if info, ok := status[name]; ok {
			if info.Status != "" {
				state = info.Status
			}
			optional = info.Optional
		}
		view[name] = map[string]any{
			"tier":        entry.Tier,
			"authority":   entry.Authority,
			"policy_rank": sources.RankOf(entry.Authority),
			"purpose":     entry.Purpose,
			"status":      state,
			"optional":    optional,
		}
	}
	return view
}

// GetNested walks a dotted path through nested maps.
func GetNested(data map[string]any, dotted string) any {
	var current any = data
	for _, part := range strings.Split(dotted, ".") {
		m := utils.AsMap(current)
		if m == nil {
			return nil
		}
		next, ok := m[part]
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

var fieldSourceMap = map[string][]string{
	"ids.egid":                                  {"geoadmin_gwr"},
	"ids.egrid":                                 {"geoadmin_gwr"},
	"administrative.gemeinde":                   {"geoadmin_gwr", "swissboundaries_identify"},
	"administrative.kanton":                     {"geoadmin_gwr", "swissboundaries_identify"},
	"cross_source.plz_layer.plz":                {"plz_layer_identify"},
	"cross_source.admin_boundary.gemeinde":      {"swissboundaries_identify"},
	"cross_source.elevation.height_m":           {"swisstopo_height"},
	"building.codes":                            {"geoadmin_gwr"},
	"building.decoded":                          {"geoadmin_gwr", "gwr_codes"},
	"energy.raw_codes":                          {"geoadmin_gwr"},
	"energy.heating_layer":                      {"bfs_heating_layer"},
	"cross_source.osm_reverse":                  {"osm_reverse"},
	"intelligence.tenants_businesses.entities":  {"osm_poi_overpass"},
	"intelligence.incidents_timeline.events":    {"google_news_rss"},
	"intelligence.environment_noise_risk.score": {"osm_poi_overpass"},
	"intelligence.consistency_checks":           {"geoadmin_gwr", "geoadmin_address", "google_news_rss"},
	"intelligence.executive_risk_summary":       {"geoadmin_gwr", "osm_poi_overpass", "google_news_rss"},
	"suitability_light.score":                   {"swisstopo_height", "plz_layer_identify", "swissboundaries_identify", "geoadmin_gwr", "osm_reverse"},
	"suitability_light.traffic_light":           {"swisstopo_height", "plz_layer_identify", "swissboundaries_identify", "geoadmin_gwr", "osm_reverse"},
}

// BuildFieldProvenance annotates the key report fields with the sources
// they were derived from and whether a value is actually present.
func BuildFieldProvenance(report map[string]any) map[string]any {
	provenance := make(map[string]any, len(fieldSourceMap))
	for path, srcs := range fieldSourceMap {
		value := GetNested(report, path)
		present := value != nil
		if present {
			switch v := value.(type) {
			case string:
				present = v != ""
			case []any:
				present = len(v) > 0
			}
		}
		authority := ""
		if entry, ok := sources.Catalog[srcs[0]]; ok {
			authority = entry.Authority
		}
		provenance[path] = map[string]any{
			"sources":        srcs,
			"primary_source": srcs[0],
			"present":        present,
			"authority":      authority,
		}
	}
	return provenance
}

// BuildExecutiveSummary condenses confidence and ambiguity into a single
// review verdict for the report head.
func BuildExecutiveSummary(report map[string]any) map[string]any {
	conf := utils.AsMap(report["confidence"])
	ambiguity := utils.AsMap(conf["ambiguity"])
	level := utils.AsString(conf["level"])
	ambLevel := utils.AsString(ambiguity["level"])

	needsReview := level == "low" || ambLevel == "medium" || ambLevel == "high"
	verdict := "ok"
	headline := "Treffer wirkt stabil"
	if needsReview {
		verdict = "review"
		headline = "Treffer prüfen (Ambiguität oder geringe Confidence)"
	}
	if ambLevel == "" {
		ambLevel = "none"
	}
	return map[string]any{
		"verdict":         verdict,
		"needs_review":    needsReview,
		"headline":        headline,
		"ambiguity_level": ambLevel,
		"ambiguity_gap":   ambiguity["score_gap_to_next"],
		"warnings":        conf["warnings"],
	}
}
