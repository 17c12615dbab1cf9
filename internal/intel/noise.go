package intel

import (
	"fmt"
	"math"
	"sort"

	"github.com/openclaw/georanking/internal/osm"
	"github.com/openclaw/georanking/pkg/utils"
)

var noisyWeights = map[string]float64{
	"amenity:nightclub":     28,
	"amenity:bar":           22,
	"amenity:pub":           20,
	"amenity:casino":        20,
	"amenity:restaurant":    10,
	"amenity:fast_food":     12,
	"leisure:stadium":       25,
	"leisure:sports_centre": 13,
	"tourism:hotel":         8,
	"amenity:bus_station":   15,
	"railway:station":       17,
	"amenity:school":        6,
	"amenity:kindergarten":  6,
}

// BuildEnvironmentNoiseRiskLayer estimates activity and noise pressure from
// distance-weighted POI indicators. Risk mode lowers the traffic-light
// thresholds.
func BuildEnvironmentNoiseRiskLayer(pois []osm.POI, sourceURL string, radiusM int, mode string) map[string]any {
	indicators := []map[string]any{}
	total := 0.0

	for _, poi := range pois {
		weight, ok := noisyWeights[poi.Category+":"+poi.Subcategory]
		if !ok {
			continue
		}

		distance := poi.DistanceM
		distanceFactor := utils.Clamp(1.0-distance/maxFloat(float64(radiusM), 1), 0, 1)
		impact := weight * distanceFactor
		if impact <= 0 {
			continue
		}

		conf := utils.Clamp(0.35+distanceFactor*0.35, 0.3, 0.75)
		ev := []map[string]any{
			EvidenceItem(EvidenceSpec{
				Source:     "osm_poi_overpass",
				Confidence: conf,
				URL:        sourceURL,
				Snippet:    fmt.Sprintf("%s (%s:%s)", poi.Name, poi.Category, poi.Subcategory),
				FieldPath:  fmt.Sprintf("intelligence.environment_noise_risk.indicators[%d]", len(indicators)),
			}),
		}
		indicators = append(indicators, map[string]any{
			"name":        poi.Name,
			"category":    poi.Category,
			"subcategory": poi.Subcategory,
			"distance_m":  distance,
			"impact":      utils.RoundTo(impact, 2),
			"status":      ClassifyStatementStatus(conf, ev),
			"confidence":  utils.RoundTo(conf, 2),
			"evidence":    ev,
		})
		total += impact
	}

	score := int(math.Round(utils.Clamp(total, 0, 100)))
	sort.SliceStable(indicators, func(i, j int) bool {
		a, _ := utils.AsFloat(indicators[i]["impact"])
		b, _ := utils.AsFloat(indicators[j]["impact"])
		return a > b
	})
	top := indicators
	if len(top) > 8 {
		top = top[:8]
	}

	highThr, medThr := 65, 34
	if mode == "risk" {
		highThr, medThr = 55, 28
	}

	level, trafficLight := "low", "green"
	switch {
	case score >= highThr:
		level, trafficLight = "high", "red"
	case score >= medThr:
		level, trafficLight = "medium", "yellow"
	}

	msg := "Keine starken Lärm-/Aktivitätsindikatoren im unmittelbaren Umfeld."
	if level != "low" {
		msg = "Erhöhtes Aktivitäts-/Lärmrisiko durch umliegende POI-Indikatoren."
	}

	reasons := []string{}
	for i, ind := range top {
		if i >= 4 {
			break
		}
		d, _ := utils.AsFloat(ind["distance_m"])
		reasons = append(reasons, fmt.Sprintf("%v (%v:%v, %dm)", ind["name"], ind["category"], ind["subcategory"], int(d)))
	}

	status := "ok"
	if len(pois) == 0 {
		status = "no_data"
	}

	layerConf := utils.Clamp(0.44+float64(len(top))/16.0, 0.42, 0.78)
	return map[string]any{
		"status":        status,
		"score":         score,
		"level":         level,
		"traffic_light": trafficLight,
		"indicators":    top,
		"reasons":       reasons,
		"statements": []map[string]any{
			Statement(
				msg,
				layerConf,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "osm_poi_overpass",
					Confidence: layerConf,
					URL:        sourceURL,
					Snippet:    fmt.Sprintf("noise_score=%d", score),
					FieldPath:  "intelligence.environment_noise_risk.score",
				})},
				"intelligence.environment_noise_risk",
			),
		},
	}
}
