package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/openclaw/georanking/internal/geoadmin"
	"github.com/openclaw/georanking/internal/gwr"
	"github.com/openclaw/georanking/internal/intel"
	"github.com/openclaw/georanking/internal/news"
	"github.com/openclaw/georanking/internal/osm"
	"github.com/openclaw/georanking/internal/query"
	"github.com/openclaw/georanking/internal/sources"
	"github.com/openclaw/georanking/pkg/utils"
)

// Resolver bundles the clients a single address resolution needs. All
// calls share one source registry, so a Resolver is built per request.
type Resolver struct {
	Geo      *geoadmin.Client
	OSM      *osm.Client
	News     *news.Client
	Registry *sources.Registry
	Logger   *zap.Logger
	Adaptive intel.AdaptiveFetch
}

// Options controls a single BuildReport run.
type Options struct {
	IncludeOSM       bool
	CandidateLimit   int
	CandidatePreview int
	Mode             string
}

// DefaultOptions matches the defaults of the analyze endpoint.
func DefaultOptions() Options {
	return Options{
		IncludeOSM:       true,
		CandidateLimit:   8,
		CandidatePreview: 3,
		Mode:             "basic",
	}
}

func (r *Resolver) searchCandidates(ctx context.Context, q query.Parts, limit int) ([]map[string]any, error) {
	results, err := r.Geo.Search(ctx, "geoadmin_search", q.Normalized, limit, "address", false)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		fallbackLimit := limit
		if fallbackLimit < 8 {
			fallbackLimit = 8
		}
		results, err = r.Geo.Search(ctx, "geoadmin_search_fallback", q.Normalized, fallbackLimit, "", true)
		if err != nil {
			return nil, err
		}
	}
	attrs := make([]map[string]any, 0, len(results))
	for _, entry := range results {
		if a := utils.AsMap(entry["attrs"]); a != nil {
			attrs = append(attrs, a)
		}
	}
	return attrs, nil
}

func (r *Resolver) hydrateCandidates(ctx context.Context, candidates []*Candidate, q query.Parts, maxHydrated int) (*Candidate, []*Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil, &NoMatchError{Message: "Keine Adresse gefunden für: " + q.Raw}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].PreScore > candidates[j].PreScore })

	if maxHydrated < 1 {
		maxHydrated = 1
	}
	if maxHydrated > len(candidates) {
		maxHydrated = len(candidates)
	}

	var hydrated []*Candidate
	for _, cand := range candidates[:maxHydrated] {
		addrAttrs, err := r.Geo.FeatureAttributes(ctx, geoadmin.LayerAddress, cand.FeatureID, "geoadmin_address", true)
		if err != nil {
			addrAttrs = map[string]any{}
		}
		gwrAttrs, err := r.Geo.FeatureAttributes(ctx, geoadmin.LayerGWR, cand.FeatureID, "geoadmin_gwr", false)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Debug("candidate hydration failed",
					zap.String("feature_id", cand.FeatureID),
					zap.Error(err))
			}
			continue
		}
		cand.AddressAttrs = addrAttrs
		cand.GWRAttrs = gwrAttrs
		cand.DetailScore, cand.DetailReasons = ScoreCandidateDetail(q, addrAttrs, gwrAttrs)
		cand.TotalScore = cand.PreScore + cand.DetailScore
		hydrated = append(hydrated, cand)
	}

	if len(hydrated) == 0 {
		top := candidates[0]
		return nil, nil, &NoMatchError{Message: fmt.Sprintf(
			"Keine verwertbaren Gebäudedaten für Adresse gefunden. Bester Suchtreffer: %s (%s)",
			top.Label, top.FeatureID)}
	}

	sort.SliceStable(hydrated, func(i, j int) bool {
		if hydrated[i].TotalScore != hydrated[j].TotalScore {
			return hydrated[i].TotalScore > hydrated[j].TotalScore
		}
		oi, oj := officialRank(hydrated[i]), officialRank(hydrated[j])
		if oi != oj {
			return oi > oj
		}
		return egidRank(hydrated[i]) > egidRank(hydrated[j])
	})
	return hydrated[0], candidates, nil
}

func officialRank(c *Candidate) int {
	if official, ok := c.AddressAttrs["adr_official"].(bool); ok && official {
		return 1
	}
	return 0
}

func egidRank(c *Candidate) int {
	if isPresentValue(c.GWRAttrs["egid"]) {
		return 1
	}
	return 0
}

func mapserverFeatureURL(layer, featureID string) string {
	return fmt.Sprintf("https://api3.geo.admin.ch/rest/services/ech/MapServer/%s/%s", layer, featureID)
}

// BuildReport resolves an address query end to end and assembles the
// complete report map, including confidence, intelligence layers and
// field provenance.
func (r *Resolver) BuildReport(ctx context.Context, addressQuery string, opts Options) (map[string]any, error) {
	q := query.Parse(addressQuery)
	mode := opts.Mode
	if !intel.ValidMode(mode) {
		mode = "basic"
	}

	rawResults, err := r.searchCandidates(ctx, q, opts.CandidateLimit)
	if err != nil {
		return nil, err
	}
	candidates := BuildCandidateList(rawResults, q)

	maxHydrated := opts.CandidateLimit
	if maxHydrated > 6 {
		maxHydrated = 6
	}
	selected, candidates, err := r.hydrateCandidates(ctx, candidates, q, maxHydrated)
	if err != nil {
		return nil, err
	}
	gwrAttrs := selected.GWRAttrs
	addrAttrs := selected.AddressAttrs

	egid := strings.TrimSpace(utils.AsString(gwrAttrs["egid"]))
	if egid == "" {
		egid = strings.TrimSpace(utils.AsString(addrAttrs["bdg_egid"]))
	}
	var heating map[string]any
	if egid != "" {
		heating = r.Geo.HeatingLayer(ctx, egid)
	} else {
		r.Registry.Disable("bfs_heating_layer", "kein EGID vorhanden")
	}

	var lv95E, lv95N *float64
	if e, ok := utils.AsFloat(gwrAttrs["gkode"]); ok {
		lv95E = &e
	}
	if n, ok := utils.AsFloat(gwrAttrs["gkodn"]); ok {
		lv95N = &n
	}

	plzLayer := r.Geo.PLZLayerAtLV95(ctx, lv95E, lv95N)
	adminBoundary := r.Geo.BoundariesAtLV95(ctx, lv95E, lv95N)

	elevation := map[string]any{}
	if lv95E != nil && lv95N != nil {
		if h := r.Geo.Height(ctx, lv95E, lv95N); h != nil {
			elevation["height_m"] = *h
		} else {
			elevation["height_m"] = nil
		}
	}

	var osmReverse map[string]any
	if opts.IncludeOSM {
		osmReverse = r.OSM.Reverse(ctx, selected.Lat, selected.Lon)
	} else {
		r.Registry.Disable("osm_reverse", "per Flag deaktiviert")
		osmReverse = map[string]any{}
	}

	decoded := gwr.SummarizeBuilding(gwrAttrs)
	r.Registry.NoteSuccess("gwr_codes", "local://gwr_codes", 1, false)

	var heatingLayerText map[string]any
	if heating != nil {
		heatingLayerText = map[string]any{
			"waermeerzeuger_heizung_1":     heating["gwaerzh1_de"],
			"energiequelle_heizung_1":      heating["genh1_de"],
			"informationsquelle_heizung_1": heating["gwaersceh1_de"],
			"aktualisiert_heizung_1":       heating["gwaerdath1"],
			"datenstand_layer":             heating["gexpdat"],
		}
	}

	confidence := ComputeConfidence(selected, candidates, r.Registry, heating, plzLayer, adminBoundary, osmReverse)
	confidenceScore, _ := utils.AsInt(confidence["score"])

	hasRoadAccess := isPresentValue(utils.AsMap(osmReverse["address"])["road"]) || isPresentValue(gwrAttrs["strname_deinr"])
	hasPLZ := isPresentValue(plzLayer["plz"]) || isPresentValue(gwrAttrs["plz_plz6"])
	hasBoundary := isPresentValue(adminBoundary["gemname"]) || isPresentValue(gwrAttrs["ggdename"])
	suitability := EvaluateSuitabilityLight(
		elevation["height_m"], hasRoadAccess, confidenceScore,
		utils.AsString(decoded["status"]), hasPLZ, hasBoundary)

	previewCount := 0
	if len(candidates) > 0 {
		previewCount = opts.CandidatePreview
		if previewCount > len(candidates) {
			previewCount = len(candidates)
		}
		if previewCount < 1 {
			previewCount = 1
		}
	}
	preview := make([]map[string]any, 0, previewCount)
	previewSlice := append([]*Candidate{}, candidates[:previewCount]...)
	sort.SliceStable(previewSlice, func(i, j int) bool { return previewSlice[i].scoreOrPre() > previewSlice[j].scoreOrPre() })
	for _, cand := range previewSlice {
		preview = append(preview, cand.ToPreview())
	}

	matchedAddress := strings.TrimSpace(utils.AsString(gwrAttrs["strname_deinr"]))
	if matchedAddress == "" {
		matchedAddress = utils.StripHTML(selected.Label)
	}

	intelLayers := intel.BuildLayers(ctx, intel.Deps{
		OSM:      r.OSM,
		News:     r.News,
		Registry: r.Registry,
		Adaptive: r.Adaptive,
	}, mode, q, intel.Subject{
		Label:        matchedAddress,
		Lat:          selected.Lat,
		Lon:          selected.Lon,
		AddressAttrs: addrAttrs,
		GWRAttrs:     gwrAttrs,
	}, confidence, adminBoundary)

	buildingProfile := BuildBuildingCoreProfile(gwrAttrs, decoded, addrAttrs)
	identifiers := DeriveResolutionIdentifiers(selected.FeatureID, gwrAttrs, selected.Lat, selected.Lon)

	sourceStatus := map[string]any{}
	for name, info := range r.Registry.Snapshot() {
		sourceStatus[name] = info.Status
	}

	execRisk := utils.AsMap(intelLayers["executive_risk_summary"])
	tenantsLayer := utils.AsMap(intelLayers["tenants_businesses"])
	incidentsLayer := utils.AsMap(intelLayers["incidents_timeline"])
	envProfileLayer := utils.AsMap(intelLayers["environment_profile"])
	noiseLayer := utils.AsMap(intelLayers["environment_noise_risk"])
	consistencyLayer := utils.AsMap(intelLayers["consistency_checks"])

	mapLink := fmt.Sprintf(
		"https://map.geo.admin.ch/?lang=de&topic=ech&bgLayer=ch.swisstopo.pixelkarte-farbe&layers=ch.bfs.gebaeude_wohnungs_register&E=%v&N=%v&zoom=10",
		gwrAttrs["gkode"], gwrAttrs["gkodn"])

	summaryCompact := map[string]any{
		"query":           q.Raw,
		"matched_address": matchedAddress,
		"confidence": map[string]any{
			"score": confidence["score"],
			"max":   100,
			"level": confidence["level"],
		},
		"egid":        gwrAttrs["egid"],
		"egrid":       gwrAttrs["egrid"],
		"gemeinde":    gwrAttrs["ggdename"],
		"kanton":      gwrAttrs["gdekt"],
		"baujahr":     gwrAttrs["gbauj"],
		"elevation_m": elevation["height_m"],
		"energie":     CompactEnergySummary(decoded),
		"sources":     sourceStatus,
		"executive": map[string]any{
			"needs_review":    false,
			"verdict":         "ok",
			"ambiguity_level": utils.AsMap(confidence["ambiguity"])["level"],
			"ambiguity_gap":   utils.AsMap(confidence["ambiguity"])["score_gap_to_next"],
			"warnings":        confidence["warnings"],
		},
		"intelligence": map[string]any{
			"mode": mode,
			"tenants_businesses": map[string]any{
				"status": tenantsLayer["status"],
				"count":  listLen(tenantsLayer["entities"]),
			},
			"incidents_timeline": map[string]any{
				"status":          incidentsLayer["status"],
				"events":          listLen(incidentsLayer["events"]),
				"relevant_events": relevantEventCount(incidentsLayer),
			},
			"environment_profile": map[string]any{
				"status":        envProfileLayer["status"],
				"overall_score": utils.AsMap(envProfileLayer["metrics"])["overall_score"],
				"poi_total":     utils.AsMap(envProfileLayer["counts"])["poi_total"],
			},
			"environment_noise_risk": map[string]any{
				"status": noiseLayer["status"],
				"level":  noiseLayer["level"],
				"score":  noiseLayer["score"],
			},
			"consistency_checks": map[string]any{
				"status":     consistencyLayer["status"],
				"overall":    consistencyLayer["overall"],
				"risk_score": consistencyLayer["risk_score"],
			},
			"executive_risk": map[string]any{
				"traffic_light": execRisk["traffic_light"],
				"risk_score":    execRisk["risk_score"],
				"summary":       execRisk["summary"],
				"reasons":       execRisk["reasons"],
			},
		},
		"suitability_light": map[string]any{
			"status":         suitability["status"],
			"score":          suitability["score"],
			"traffic_light":  suitability["traffic_light"],
			"classification": suitability["classification"],
		},
		"map": mapLink,
	}

	report := map[string]any{
		"query":           q.Raw,
		"matched_address": matchedAddress,
		"match": map[string]any{
			"selected_feature_id": selected.FeatureID,
			"selected_score":      utils.RoundTo(selected.TotalScore, 2),
			"candidate_count":     len(candidates),
			"candidates_preview":  preview,
			"query_parts": map[string]any{
				"street":       q.Street,
				"house_number": q.HouseNumber,
				"postal_code":  q.PostalCode,
				"city":         q.City,
			},
			"resolution": map[string]any{
				"pipeline_version":    "v1",
				"strategy":            "provider_neutral_address_resolution",
				"provider_path":       []string{"candidate_search", "candidate_hydration", "cross_source_enrichment"},
				"selected_origin":     selected.Origin,
				"selected_feature_id": selected.FeatureID,
			},
		},
		"confidence": confidence,
		"coordinates": map[string]any{
			"lat":    floatOrNil(selected.Lat),
			"lon":    floatOrNil(selected.Lon),
			"lv95_e": gwrAttrs["gkode"],
			"lv95_n": gwrAttrs["gkodn"],
		},
		"ids": map[string]any{
			"feature_id":    selected.FeatureID,
			"egid":          gwrAttrs["egid"],
			"egaid":         gwrAttrs["egaid"],
			"egrid":         gwrAttrs["egrid"],
			"esid":          gwrAttrs["esid"],
			"edid":          gwrAttrs["edid"],
			"entity_id":     identifiers["entity_id"],
			"location_id":   identifiers["location_id"],
			"resolution_id": identifiers["resolution_id"],
		},
		"administrative": map[string]any{
			"strasse_nummer": gwrAttrs["strname_deinr"],
			"plz_plz6":       gwrAttrs["plz_plz6"],
			"ort":            gwrAttrs["dplzname"],
			"gemeinde":       gwrAttrs["ggdename"],
			"gemeinde_bfs":   gwrAttrs["ggdenr"],
			"kanton":         gwrAttrs["gdekt"],
		},
		"building": buildingProfile,
		"energy": map[string]any{
			"raw_codes": map[string]any{
				"gwaerzh1": gwrAttrs["gwaerzh1"],
				"genh1":    gwrAttrs["genh1"],
				"gwaerzh2": gwrAttrs["gwaerzh2"],
				"genh2":    gwrAttrs["genh2"],
				"gwaerzw1": gwrAttrs["gwaerzw1"],
				"genw1":    gwrAttrs["genw1"],
				"gwaerzw2": gwrAttrs["gwaerzw2"],
				"genw2":    gwrAttrs["genw2"],
			},
			"decoded_summary": CompactEnergySummary(decoded),
			"heating_layer":   heatingLayerText,
		},
		"address_registry": map[string]any{
			"adr_egaid":    addrAttrs["adr_egaid"],
			"adr_status":   addrAttrs["adr_status"],
			"adr_official": addrAttrs["adr_official"],
			"adr_modified": addrAttrs["adr_modified"],
			"bdg_category": addrAttrs["bdg_category"],
		},
		"cross_source": map[string]any{
			"plz_layer": map[string]any{
				"plz":       plzLayer["plz"],
				"zusatz":    plzLayer["zusziff"],
				"ortschaft": plzLayer["langtext"],
				"status":    plzLayer["status"],
				"modified":  plzLayer["modified"],
			},
			"admin_boundary": map[string]any{
				"gemeinde":     adminBoundary["gemname"],
				"gemeinde_bfs": adminBoundary["gde_nr"],
				"kanton":       adminBoundary["kanton"],
				"stand_jahr":   adminBoundary["jahr"],
				"is_current":   adminBoundary["is_current_jahr"],
			},
			"elevation":   elevation,
			"osm_reverse": osmReverse,
		},
		"sources":               r.Registry.AsDict(),
		"source_classification": SourceCatalogView(r.Registry.Snapshot()),
		"source_attribution": map[string]any{
			"match":              []string{"geoadmin_search", "geoadmin_address", "geoadmin_gwr"},
			"building_energy":    []string{"geoadmin_gwr", "bfs_heating_layer", "gwr_codes"},
			"postal_consistency": []string{"plz_layer_identify", "swissboundaries_identify", "osm_reverse"},
			"elevation_context":  []string{"swisstopo_height"},
			"intelligence":       []string{"osm_poi_overpass", "google_news_rss"},
		},
		"intelligence":      intelLayers,
		"suitability_light": suitability,
		"summary_compact":   summaryCompact,
		"links": map[string]any{
			"map_geo_admin":      mapLink,
			"gwr_api_object":     mapserverFeatureURL(geoadmin.LayerGWR, selected.FeatureID),
			"address_api_object": mapserverFeatureURL(geoadmin.LayerAddress, selected.FeatureID),
		},
	}

	report["field_provenance"] = BuildFieldProvenance(report)
	executive := BuildExecutiveSummary(report)
	report["executive_summary"] = executive
	summaryCompact["executive"] = executive
	utils.AsMap(summaryCompact["intelligence"])["executive_risk"] = intelLayers["executive_risk_summary"]

	return report, nil
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func listLen(v any) int {
	switch l := v.(type) {
	case []any:
		return len(l)
	case []map[string]any:
		return len(l)
	}
	return 0
}

func relevantEventCount(layer map[string]any) int {
	if n, ok := utils.AsInt(layer["relevant_event_count"]); ok {
		return n
	}
	return 0
}
