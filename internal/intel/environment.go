package intel

import (
	"fmt"
	"math"
	"sort"

	"github.com/openclaw/georanking/internal/osm"
	"github.com/openclaw/georanking/pkg/utils"
)

var coreDomains = []string{"transit", "daily_needs", "education_family", "health_care", "leisure_green", "nightlife"}

var amenityDomains = map[string]string{
	"bus_station":      "transit",
	"ferry_terminal":   "transit",
	"taxi":             "transit",
	"parking":          "transit",
	"parking_entrance": "transit",
	"charging_station": "transit",
	"school":           "education_family",
	"kindergarten":     "education_family",
	"childcare":        "education_family",
	"college":          "education_family",
	"university":       "education_family",
	"library":          "education_family",
	"hospital":         "health_care",
	"clinic":           "health_care",
	"doctors":          "health_care",
	"pharmacy":         "health_care",
	"dentist":          "health_care",
	"social_facility":  "health_care",
	"nursing_home":     "health_care",
	"bar":              "nightlife",
	"pub":              "nightlife",
	"nightclub":        "nightlife",
	"casino":           "nightlife",
	"restaurant":       "daily_needs",
	"cafe":             "daily_needs",
	"fast_food":        "daily_needs",
	"marketplace":      "daily_needs",
	"bank":             "daily_needs",
	"post_office":      "daily_needs",
	"atm":              "daily_needs",
	"fuel":             "daily_needs",
	"car_rental":       "daily_needs",
}

var nightlifeLeisure = map[string]bool{"nightclub": true, "adult_gaming_centre": true, "dance": true}

func classifyDomain(category, subcategory string) string {
	switch category {
	case "amenity":
		if domain, ok := amenityDomains[subcategory]; ok {
			return domain
		}
	case "shop":
		return "daily_needs"
	case "leisure":
		if nightlifeLeisure[subcategory] {
			return "nightlife"
		}
		return "leisure_green"
	case "tourism":
		return "nightlife"
	case "office", "craft":
		return "daily_needs"
	}
	return "other"
}

// BuildEnvironmentProfileLayer computes the radial 3-ring environment model:
// each POI contributes ring_weight * (0.4 + 0.6 * proximity) to its domain
// bucket, and six factor scores aggregate into the overall score.
func BuildEnvironmentProfileLayer(pois []osm.POI, sourceURL string, radiusM int, mode string) map[string]any {
	radius := int(utils.Clamp(float64(radiusM), 120, 900))
	ring1 := int(math.Round(float64(radius) * 0.33))
	if ring1 < 70 {
		ring1 = 70
	}
	ring2 := int(math.Round(float64(radius) * 0.66))
	if ring2 < ring1+45 {
		ring2 = ring1 + 45
	}
	ring3 := radius

	ringDefs := []map[string]any{
		{"id": "inner", "max_distance_m": ring1, "weight": 1.0},
		{"id": "mid", "max_distance_m": ring2, "weight": 0.7},
		{"id": "outer", "max_distance_m": ring3, "weight": 0.45},
	}
	ringWeights := map[string]float64{"inner": 1.0, "mid": 0.7, "outer": 0.45}

	assignRing := func(distance float64) string {
		if distance <= float64(ring1) {
			return "inner"
		}
		if distance <= float64(ring2) {
			return "mid"
		}
		return "outer"
	}

	countsByRing := map[string]int{"inner": 0, "mid": 0, "outer": 0}
	countsByDomain := map[string]int{}
	domainSignals := map[string]float64{}
	for _, domain := range coreDomains {
		countsByDomain[domain] = 0
		domainSignals[domain] = 0
	}
	countsByDomain["other"] = 0
	domainSignals["other"] = 0

	samples := make([]map[string]any, 0, len(pois))
	for _, poi := range pois {
		domain := classifyDomain(poi.Category, poi.Subcategory)
		ringID := assignRing(poi.DistanceM)

		countsByRing[ringID]++
		countsByDomain[domain]++

		proximity := utils.Clamp(1.0-poi.DistanceM/maxFloat(float64(radius), 1), 0, 1)
		weighted := ringWeights[ringID] * (0.4 + 0.6*proximity)
		domainSignals[domain] += weighted

		samples = append(samples, map[string]any{
			"name":       poi.Name,
			"domain":     domain,
			"ring":       ringID,
			"distance_m": utils.RoundTo(poi.DistanceM, 1),
			"weight":     utils.RoundTo(weighted, 4),
		})
	}

	normDomain := func(domain string) float64 {
		return utils.Clamp(domainSignals[domain]/3.0, 0, 1)
	}

	areaKm2 := math.Pi * math.Pow(float64(radius)/1000.0, 2)
	poiTotal := len(pois)
	densityPerKm2 := float64(poiTotal) / maxFloat(areaKm2, 1e-6)

	densityScore := utils.Clamp(densityPerKm2/220.0*100.0, 0, 100)
	coreDomainsPresent := 0
	for _, domain := range coreDomains {
		if countsByDomain[domain] > 0 {
			coreDomainsPresent++
		}
	}
	diversityScore := float64(coreDomainsPresent) / float64(len(coreDomains)) * 100.0

	transitN := normDomain("transit")
	dailyN := normDomain("daily_needs")
	eduN := normDomain("education_family")
	healthN := normDomain("health_care")
	greenN := normDomain("leisure_green")
	nightlifeN := normDomain("nightlife")

	accessibilityScore := utils.Clamp((transitN*0.4+dailyN*0.3+healthN*0.2+eduN*0.1)*100, 0, 100)
	familySupportScore := utils.Clamp((eduN*0.4+healthN*0.25+greenN*0.35)*100, 0, 100)
	vitalityScore := utils.Clamp((dailyN*0.5+nightlifeN*0.3+transitN*0.2)*100, 0, 100)
	quietnessScore := utils.Clamp(((1.0-nightlifeN)*0.55+greenN*0.45)*100, 0, 100)
	overallScore := utils.Clamp(
		(accessibilityScore+familySupportScore+vitalityScore+quietnessScore+diversityScore+densityScore)/6.0,
		0, 100,
	)

	factorOrder := []string{
		"density_score", "diversity_score", "accessibility_score",
		"family_support_score", "vitality_score", "quietness_score",
	}
	factorValues := map[string]float64{
		"density_score":        densityScore,
		"diversity_score":      diversityScore,
		"accessibility_score":  accessibilityScore,
		"family_support_score": familySupportScore,
		"vitality_score":       vitalityScore,
		"quietness_score":      quietnessScore,
	}
	factorWeight := 1.0 / float64(len(factorOrder))
	scoreFactors := make([]map[string]any, 0, len(factorOrder))
	weightedSum := 0.0
	for _, key := range factorOrder {
		raw := utils.Clamp(factorValues[key], 0, 100)
		weightedSum += raw * factorWeight
		scoreFactors = append(scoreFactors, map[string]any{
			"key":             key,
			"score":           utils.RoundTo(raw, 2),
			"weight":          utils.RoundTo(factorWeight, 6),
			"weighted_points": utils.RoundTo(raw*factorWeight, 2),
		})
	}
	scoreModel := map[string]any{
		"id":                    "environment-profile-scoring-v1",
		"formula":               "overall_score = Σ(factor_score * factor_weight), factor_weight = 1/6",
		"factors":               scoreFactors,
		"overall_score_raw":     utils.RoundTo(weightedSum, 2),
		"calibration_reference": "docs/api/environment-profile-scoring-v1.md",
	}

	model := map[string]any{
		"id":                 "radius-v1",
		"mode":               mode,
		"radius_m":           radius,
		"rings":              ringDefs,
		"distance_weighting": "ring_weight * (0.4 + 0.6 * proximity)",
	}

	if poiTotal == 0 {
		return map[string]any{
			"status": "no_data",
			"model":  model,
			"counts": map[string]any{
				"poi_total": 0,
				"by_domain": countsByDomain,
				"by_ring":   countsByRing,
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
			"score_model": scoreModel,
			"signals":     []map[string]any{},
			"statements": []map[string]any{
				Statement(
					"Keine POI-Signale im Radiusmodell verfügbar; Umfeldprofil bleibt unbestimmt.",
					0.4,
					[]map[string]any{EvidenceItem(EvidenceSpec{
						Source:     "osm_poi_overpass",
						Confidence: 0.4,
						URL:        sourceURL,
						Snippet:    "environment_profile:no_data",
						FieldPath:  "intelligence.environment_profile",
					})},
					"intelligence.environment_profile",
				),
			},
		}
	}

	sort.SliceStable(samples, func(i, j int) bool {
		wi, _ := utils.AsFloat(samples[i]["weight"])
		wj, _ := utils.AsFloat(samples[j]["weight"])
		return wi > wj
	})
	topSignals := samples
	if len(topSignals) > 8 {
		topSignals = topSignals[:8]
	}
	layerConf := utils.Clamp(0.44+math.Min(float64(poiTotal), 36)/120.0, 0.42, 0.82)

	return map[string]any{
		"status": "ok",
		"model":  model,
		"counts": map[string]any{
			"poi_total":       poiTotal,
			"by_domain":       countsByDomain,
			"by_ring":         countsByRing,
			"density_per_km2": utils.RoundTo(densityPerKm2, 2),
		},
		"metrics": map[string]any{
			"density_score":        int(math.Round(densityScore)),
			"diversity_score":      int(math.Round(diversityScore)),
			"accessibility_score":  int(math.Round(accessibilityScore)),
			"family_support_score": int(math.Round(familySupportScore)),
			"vitality_score":       int(math.Round(vitalityScore)),
			"quietness_score":      int(math.Round(quietnessScore)),
			"overall_score":        int(math.Round(overallScore)),
		},
		"score_model": scoreModel,
		"signals":     topSignals,
		"statements": []map[string]any{
			Statement(
				"Umfeldprofil aus radialem 3-Ring-POI-Modell berechnet (Kernkennzahlen + Explainability).",
				layerConf,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "osm_poi_overpass",
					Confidence: layerConf,
					URL:        sourceURL,
					Snippet:    fmt.Sprintf("environment_profile:poi=%d,overall=%.1f", poiTotal, overallScore),
					FieldPath:  "intelligence.environment_profile.metrics.overall_score",
				})},
				"intelligence.environment_profile",
			),
		},
	}
}
