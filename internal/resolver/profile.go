package resolver

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/openclaw/georanking/pkg/utils"
)

// isPresentValue treats common null-ish placeholders as absent.
func isPresentValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		trimmed := strings.ToLower(strings.TrimSpace(val))
		switch trimmed {
		case "", "null", "none", "n/a", "nan", "-":
			return false
		}
		return true
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	case float64:
		return !math.IsNaN(val) && !math.IsInf(val, 0)
	case float32:
		f := float64(val)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return true
	}
}

func firstPresent(values ...any) any {
	for _, v := range values {
		if isPresentValue(v) {
			return v
		}
	}
	return nil
}

func optionalInt(v any) any {
	if !isPresentValue(v) {
		return nil
	}
	f, ok := utils.AsFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return int(f)
}

func optionalFloat(v any) any {
	if !isPresentValue(v) {
		return nil
	}
	f, ok := utils.AsFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return f
}

// BuildBuildingCoreProfile merges GWR attributes, decoded code values and the
// address registry into the building section of a report.
func BuildBuildingCoreProfile(gwr, decoded, addressRegistry map[string]any) map[string]any {
	var name any
	if raw := firstPresent(gwr["gbez"], gwr["strname_deinr"], addressRegistry["adr_street"]); raw != nil {
		if s := strings.TrimSpace(utils.AsString(raw)); s != "" {
			name = s
		}
	}
	return map[string]any{
		"name":       name,
		"baujahr":    optionalInt(firstPresent(gwr["gbauj"], decoded["baujahr"])),
		"flaeche_m2": optionalFloat(firstPresent(gwr["garea"], decoded["grundflaeche_m2"])),
		"geschosse":  optionalInt(firstPresent(gwr["gastw"], decoded["stockwerke"])),
		"wohnungen":  optionalInt(gwr["ganzwhg"]),
		"bauperiode": firstPresent(gwr["gbaup"]),
		"codes": map[string]any{
			"gstat": gwr["gstat"],
			"gkat":  gwr["gkat"],
			"gklas": gwr["gklas"],
		},
		"decoded": decoded,
	}
}

// CompactEnergySummary renders the decoded heating and hot-water summaries
// as single display strings.
func CompactEnergySummary(decoded map[string]any) map[string]any {
	join := func(v any) string {
		items := utils.AsList(v)
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s := utils.AsString(item); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "keine Angabe"
		}
		return strings.Join(parts, ", ")
	}
	return map[string]any{
		"heizung":    join(decoded["heizung"]),
		"warmwasser": join(decoded["warmwasser"]),
	}
}

// DeriveResolutionIdentifiers assigns provider-neutral entity and location
// identifiers plus a stable resolution id for the selected building.
func DeriveResolutionIdentifiers(featureID string, gwr map[string]any, lat, lon *float64) map[string]any {
	var entityID, locationID any

	if egid := strings.TrimSpace(utils.AsString(gwr["egid"])); egid != "" {
		entityID = "ch:egid:" + egid
	} else if egrid := strings.TrimSpace(utils.AsString(gwr["egrid"])); egrid != "" {
		entityID = "ch:egrid:" + strings.ToUpper(egrid)
	} else if featureID != "" {
		entityID = "ch:feature:" + featureID
	}

	e, eok := utils.AsFloat(gwr["gkode"])
	n, nok := utils.AsFloat(gwr["gkodn"])
	if eok && nok {
		locationID = fmt.Sprintf("ch:lv95:%d:%d", int(e), int(n))
	} else if lat != nil && lon != nil {
		locationID = fmt.Sprintf("ch:wgs84:%.6f:%.6f", *lat, *lon)
	}

	var featurePart any
	if featureID != "" {
		featurePart = "ch:feature:" + featureID
	}

	seedParts := []string{asSeedString(entityID), asSeedString(locationID), asSeedString(featurePart)}
	seed := strings.Join(seedParts, "|")
	sum := sha1.Sum([]byte(seed))
	resolutionID := "ch:resolution:v1:" + hex.EncodeToString(sum[:])[:16]

	return map[string]any{
		"entity_id":     entityID,
		"location_id":   locationID,
		"resolution_id": resolutionID,
	}
}

func asSeedString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
