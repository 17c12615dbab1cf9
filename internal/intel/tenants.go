package intel

import (
	"fmt"

	"github.com/openclaw/georanking/internal/osm"
	"github.com/openclaw/georanking/pkg/utils"
)

var businessAmenities = map[string]bool{
	"restaurant":   true,
	"cafe":         true,
	"bar":          true,
	"pub":          true,
	"bank":         true,
	"pharmacy":     true,
	"clinic":       true,
	"dentist":      true,
	"fast_food":    true,
	"kindergarten": true,
	"school":       true,
	"marketplace":  true,
}

// BuildTenantsBusinessesLayer derives tenant and business hints from
// community POIs. No licensed company register is consulted, so everything
// here stays at indication strength.
func BuildTenantsBusinessesLayer(pois []osm.POI, sourceURL string, tenantLimit int) map[string]any {
	entities := []map[string]any{}
	for _, poi := range pois {
		isBusiness := poi.Category == "shop" || poi.Category == "office" || poi.Category == "craft"
		if poi.Category == "amenity" && businessAmenities[poi.Subcategory] {
			isBusiness = true
		}
		if !isBusiness {
			continue
		}

		confidence := utils.Clamp(0.25+maxFloat(0, (200.0-poi.DistanceM)/200.0)*0.5, 0.2, 0.78)
		evidence := []map[string]any{
			EvidenceItem(EvidenceSpec{
				Source:     "osm_poi_overpass",
				Confidence: confidence,
				URL:        sourceURL,
				Snippet:    fmt.Sprintf("%s (%s:%s) in %.0fm", poi.Name, poi.Category, poi.Subcategory, poi.DistanceM),
				FieldPath:  fmt.Sprintf("intelligence.tenants_businesses.entities[%d]", len(entities)),
			}),
		}
		entities = append(entities, map[string]any{
			"name":         poi.Name,
			"category":     poi.Category,
			"subcategory":  poi.Subcategory,
			"distance_m":   poi.DistanceM,
			"address_hint": nilIfEmpty(poi.AddressHint),
			"status":       ClassifyStatementStatus(confidence, evidence),
			"confidence":   utils.RoundTo(confidence, 2),
			"evidence":     evidence,
		})
		if len(entities) >= tenantLimit {
			break
		}
	}

	if len(entities) == 0 {
		return map[string]any{
			"status":              "no_data",
			"source_policy_class": "community",
			"registry_signals": map[string]any{
				"status": "not_configured",
				"note":   "Keine lizenzierte/amtliche Firmenregister-Quelle angebunden; daher konservativ nur POI-Indizien.",
			},
			"entities":           []map[string]any{},
			"counts_by_category": map[string]int{},
			"statements": []map[string]any{
				Statement(
					"Keine belastbaren Geschäfts-/Mieter-Signale aus zulässigen Community-POIs gefunden.",
					0.42,
					[]map[string]any{EvidenceItem(EvidenceSpec{
						Source:     "osm_poi_overpass",
						Confidence: 0.42,
						URL:        sourceURL,
						Snippet:    "Keine geeigneten POI-Datensätze",
						FieldPath:  "intelligence.tenants_businesses.entities",
					})},
					"intelligence.tenants_businesses",
				),
			},
		}
	}

	counts := map[string]int{}
	sum := 0.0
	for _, entity := range entities {
		counts[fmt.Sprintf("%v:%v", entity["category"], entity["subcategory"])]++
		d, _ := utils.AsFloat(entity["distance_m"])
		sum += d
	}
	avgDistance := sum / float64(len(entities))
	conf := utils.Clamp(0.48+maxFloat(0, (160.0-avgDistance)/260.0)*0.25, 0.45, 0.76)

	summary := Statement(
		fmt.Sprintf("%d potenzielle Geschäfts-/Mieter-Indizien im Nahbereich identifiziert (Community-Quelle).", len(entities)),
		conf,
		[]map[string]any{EvidenceItem(EvidenceSpec{
			Source:     "osm_poi_overpass",
			Confidence: conf,
			URL:        sourceURL,
			Snippet:    "Aggregierte POI-Auswertung im Umkreis",
			FieldPath:  "intelligence.tenants_businesses.entities",
		})},
		"intelligence.tenants_businesses.entities",
	)

	return map[string]any{
		"status":              "ok",
		"source_policy_class": "community",
		"registry_signals": map[string]any{
			"status": "not_configured",
			"note":   "Kein direkter Handelsregister-Abzug ohne Lizenz/API-Key verwendet (Policy-konservativ).",
		},
		"entities":           entities,
		"counts_by_category": counts,
		"statements":         []map[string]any{summary},
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
