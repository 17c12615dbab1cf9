package resolver

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/openclaw/georanking/internal/sources"
	"github.com/openclaw/georanking/pkg/utils"
)

// AssessAmbiguity measures how clearly the selected candidate beats its
// field and how consistent its own matching reasons are.
func AssessAmbiguity(selected *Candidate, candidates []*Candidate) map[string]any {
	warnings := []string{}
	level := "none"
	var scoreGap any

	if len(candidates) > 1 {
		var others []*Candidate
		for _, c := range candidates {
			if c.FeatureID != selected.FeatureID {
				others = append(others, c)
			}
		}
		if len(others) > 0 {
			sort.SliceStable(others, func(i, j int) bool { return others[i].scoreOrPre() > others[j].scoreOrPre() })
			gap := utils.RoundTo(selected.scoreOrPre()-others[0].scoreOrPre(), 2)
			scoreGap = gap
			if gap < 5 {
				level = "high"
				warnings = append(warnings, "Sehr geringe Distanz zum nächstbesten Kandidaten")
			} else if gap < 12 {
				level = "medium"
				warnings = append(warnings, "Mehrere Kandidaten mit ähnlichem Score")
			}
		}
	}

	mismatchHits := 0
	for _, reason := range append(append([]string{}, selected.PreReasons...), selected.DetailReasons...) {
		lower := strings.ToLower(reason)
		if strings.Contains(lower, "weicht ab") || strings.Contains(lower, "nicht") || strings.Contains(lower, "fehlt") {
			mismatchHits++
		}
	}
	if mismatchHits >= 3 {
		if level == "none" {
			level = "medium"
		}
		warnings = append(warnings, "Mehrere Matching-Indizien sind inkonsistent")
	}

	return map[string]any{
		"level":             level,
		"score_gap_to_next": scoreGap,
		"warnings":          warnings,
	}
}

// ComputeConfidence aggregates match quality, data completeness,
// cross-source consistency and required-source health into a 0..100 score.
func ComputeConfidence(
	selected *Candidate,
	candidates []*Candidate,
	registry *sources.Registry,
	heatingLayer, plzLayer, adminBoundary, osmReverse map[string]any,
) map[string]any {
	gwr := selected.GWRAttrs
	addr := selected.AddressAttrs

	notes := []string{}
	explanations := []map[string]any{}

	// Match quality (0-40)
	matchComponent := utils.Clamp(selected.scoreOrPre(), 0, 120) / 120 * 40
	notes = append(notes, fmt.Sprintf("Match-Komponente: %.1f/40", matchComponent))
	explanations = append(explanations, map[string]any{
		"factor": "match_quality",
		"impact": utils.RoundTo(matchComponent, 1),
		"text":   "Adress-Matching aus Such- und Detailscore",
	})

	// Data completeness (0-30)
	completeness := 0.0
	if selected.FeatureID != "" {
		completeness += 4
	}
	if isPresentValue(gwr["egid"]) {
		completeness += 9
	}
	if isPresentValue(gwr["egrid"]) {
		completeness += 5
	}
	if isPresentValue(gwr["esid"]) || isPresentValue(gwr["edid"]) || isPresentValue(addr["adr_egaid"]) {
		completeness += 4
	}
	if isPresentValue(gwr["gstat"]) {
		completeness += 3
	}
	if isPresentValue(gwr["gbauj"]) {
		completeness += 2
	}
	if isPresentValue(gwr["garea"]) {
		completeness += 1.5
	}
	if isPresentValue(gwr["gastw"]) {
		completeness += 1.5
	}
	if gwr["ganzwhg"] != nil {
		completeness += 1.0
	}
	completeness = utils.Clamp(completeness, 0, 30)
	notes = append(notes, fmt.Sprintf("Vollständigkeit: %.1f/30", completeness))
	explanations = append(explanations, map[string]any{
		"factor": "data_completeness",
		"impact": utils.RoundTo(completeness, 1),
		"text":   "Verfügbarkeit von IDs, Status und Basis-Gebäudeattributen",
	})

	// Cross-source consistency (0-20)
	consistency := 0.0
	gwrPLZ := postalPrefix(gwr["plz_plz6"])
	gwrCity := utils.NormalizeText(utils.AsString(gwr["dplzname"]))
	if gwrCity == "" {
		gwrCity = utils.NormalizeText(utils.AsString(gwr["ggdename"]))
	}

	plzLayerPLZ := postalPrefix(plzLayer["plz"])
	plzLayerCity := utils.NormalizeText(utils.AsString(plzLayer["langtext"]))

	if gwrPLZ != "" && plzLayerPLZ != "" {
		if gwrPLZ == plzLayerPLZ {
			consistency += 6
			notes = append(notes, "PLZ-Konsistenz: GWR ↔ PLZ-Layer passt")
		} else {
			consistency -= 3
			notes = append(notes, "PLZ-Konsistenz: Abweichung GWR ↔ PLZ-Layer")
		}
	}

	if gwrCity != "" && plzLayerCity != "" {
		if strings.Contains(plzLayerCity, gwrCity) || strings.Contains(gwrCity, plzLayerCity) {
			consistency += 4
			notes = append(notes, "Ortskonsistenz: GWR ↔ PLZ-Layer passt")
		} else {
			consistency -= 2
			notes = append(notes, "Ortskonsistenz: Abweichung GWR ↔ PLZ-Layer")
		}
	}

	boundaryCity := utils.NormalizeText(utils.AsString(adminBoundary["gemname"]))
	boundaryKanton := utils.NormalizeText(utils.AsString(adminBoundary["kanton"]))
	gwrKanton := utils.NormalizeText(utils.AsString(gwr["gdekt"]))
	if boundaryCity != "" && gwrCity != "" {
		if strings.Contains(gwrCity, boundaryCity) || strings.Contains(boundaryCity, gwrCity) {
			consistency += 3
			notes = append(notes, "Ortskonsistenz: GWR ↔ SwissBoundaries passt")
		} else {
			consistency -= 2
			notes = append(notes, "Ortskonsistenz: Abweichung GWR ↔ SwissBoundaries")
		}
	}
	if boundaryKanton != "" && gwrKanton != "" {
		if boundaryKanton == gwrKanton {
			consistency += 2
			notes = append(notes, "Kantonskonsistenz: GWR ↔ SwissBoundaries passt")
		} else {
			consistency -= 2
			notes = append(notes, "Kantonskonsistenz: Abweichung GWR ↔ SwissBoundaries")
		}
	}

	osmAddr := utils.AsMap(osmReverse["address"])
	osmPostcode := postalPrefix(osmAddr["postcode"])
	osmCity := utils.NormalizeText(utils.AsString(osmAddr["city"]))
	if osmCity == "" {
		osmCity = utils.NormalizeText(utils.AsString(osmAddr["town"]))
	}
	if osmCity == "" {
		osmCity = utils.NormalizeText(utils.AsString(osmAddr["village"]))
	}

	if gwrPLZ != "" && osmPostcode != "" {
		if gwrPLZ == osmPostcode {
			consistency += 2.5
			notes = append(notes, "PLZ-Konsistenz: GWR ↔ OSM passt")
		} else {
			consistency -= 1.5
			notes = append(notes, "PLZ-Konsistenz: GWR ↔ OSM abweichend")
		}
	}

	if gwrCity != "" && osmCity != "" {
		if strings.Contains(osmCity, gwrCity) || strings.Contains(gwrCity, osmCity) {
			consistency += 1.5
			notes = append(notes, "Ortskonsistenz: GWR ↔ OSM passt")
		} else {
			consistency -= 1
			notes = append(notes, "Ortskonsistenz: GWR ↔ OSM abweichend")
		}
	}

	if isPresentValue(heatingLayer["genh1_de"]) {
		consistency += 1.5
		notes = append(notes, "Energie-Layer liefert Klartextwerte")
	}

	consistency = utils.Clamp(consistency, 0, 20)
	explanations = append(explanations, map[string]any{
		"factor": "cross_source_consistency",
		"impact": utils.RoundTo(consistency, 1),
		"text":   "Übereinstimmung zwischen GWR, PLZ-Layer, SwissBoundaries und optional OSM",
	})

	// Required source health (0-10)
	sourceComponent := registry.RequiredSuccessRatio(sources.Required) * 10
	explanations = append(explanations, map[string]any{
		"factor": "required_source_health",
		"impact": utils.RoundTo(sourceComponent, 1),
		"text":   "Verfügbarkeit der Pflichtquellen (Search, GWR, Adressregister)",
	})

	mismatchPenalty := 0.0
	if containsReason(selected.PreReasons, "Strasse nicht ausreichend enthalten") {
		mismatchPenalty += 8.0
	}
	if containsReason(selected.DetailReasons, "GWR-Strasse weicht ab") {
		mismatchPenalty += 14.0
	}
	if containsReason(selected.DetailReasons, "Hausnummer abweichend") {
		mismatchPenalty += 4.0
	}

	ambiguity := AssessAmbiguity(selected, candidates)
	ambiguityPenalty := 0.0
	switch ambiguity["level"] {
	case "high":
		ambiguityPenalty = 10.0
	case "medium":
		ambiguityPenalty = 4.0
	}

	if mismatchPenalty > 0 {
		notes = append(notes, fmt.Sprintf("Mismatch-Penalty: -%.1f (Adressabweichung)", mismatchPenalty))
	}
	if ambiguityPenalty > 0 {
		notes = append(notes, fmt.Sprintf("Ambiguitäts-Penalty: -%.1f", ambiguityPenalty))
	}

	scoreRaw := matchComponent + completeness + consistency + sourceComponent - mismatchPenalty - ambiguityPenalty
	score := int(math.Round(utils.Clamp(scoreRaw, 0, 100)))
	level := "low"
	switch {
	case score >= 82:
		level = "high"
	case score >= 62:
		level = "medium"
	}

	warnings := append([]string{}, ambiguity["warnings"].([]string)...)
	if score < 60 {
		warnings = append(warnings, "Niedrige Gesamt-Confidence: manuelle Prüfung empfohlen")
	}

	return map[string]any{
		"score": score,
		"max":   100,
		"level": level,
		"components": map[string]any{
			"match_quality":            utils.RoundTo(matchComponent, 1),
			"data_completeness":        utils.RoundTo(completeness, 1),
			"cross_source_consistency": utils.RoundTo(consistency, 1),
			"required_source_health":   utils.RoundTo(sourceComponent, 1),
			"mismatch_penalty":         utils.RoundTo(mismatchPenalty, 1),
			"ambiguity_penalty":        utils.RoundTo(ambiguityPenalty, 1),
		},
		"notes":        notes,
		"explanations": explanations,
		"ambiguity":    ambiguity,
		"warnings":     warnings,
	}
}

func containsReason(reasons []string, needle string) bool {
	for _, r := range reasons {
		if strings.Contains(r, needle) {
			return true
		}
	}
	return false
}
