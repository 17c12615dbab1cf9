package scoring

import (
	"math"

	"github.com/openclaw/georanking/pkg/utils"
)

// DerivePersonalizationStatus summarizes how the personalized score was
// obtained for the status block of a report.
func DerivePersonalizationStatus(preferencesSupplied, fallbackApplied bool, signalStrength float64) map[string]any {
	state := "active"
	source := "personalized_reweighting"
	switch {
	case !preferencesSupplied:
		state = "deactivated"
		source = "base_score_default"
	case fallbackApplied || signalStrength <= 0:
		state = "partial"
		source = "base_score_fallback"
	}
	return map[string]any{
		"state":            state,
		"source":           source,
		"fallback_applied": fallbackApplied,
		"signal_strength":  utils.RoundTo(signalStrength, 4),
	}
}

func factorRowsFromReport(raw any) []FactorRow {
	var rows []FactorRow
	appendRow := func(m map[string]any) {
		key := utils.AsString(m["key"])
		if key == "" {
			return
		}
		score, _ := utils.AsFloat(m["score"])
		weight, _ := utils.AsFloat(m["weight"])
		rows = append(rows, FactorRow{Key: key, Score: score, Weight: weight})
	}
	switch list := raw.(type) {
	case []map[string]any:
		for _, m := range list {
			appendRow(m)
		}
	case []any:
		for _, item := range list {
			if m := utils.AsMap(item); m != nil {
				appendRow(m)
			}
		}
	}
	return rows
}

// ApplyPersonalizedSuitability runs the two-stage scoring over the report's
// suitability factors and writes base score, personalized score and the
// personalization status into the report and its compact summary.
func ApplyPersonalizedSuitability(report map[string]any, preferences map[string]any, preferencesSupplied bool) {
	suitability := utils.AsMap(report["suitability_light"])
	if suitability == nil {
		return
	}
	factors := factorRowsFromReport(suitability["factors"])
	if len(factors) == 0 {
		return
	}

	result := ComputeTwoStageScores(factors, preferences)

	baseScore := result.BaseScore
	if existing, ok := utils.AsFloat(suitability["base_score"]); ok && !math.IsNaN(existing) {
		baseScore = existing
	} else {
		suitability["base_score"] = utils.RoundTo(baseScore, 4)
	}

	personalizedScore := result.PersonalizedScore
	if result.FallbackApplied {
		personalizedScore = baseScore
	}

	status := DerivePersonalizationStatus(preferencesSupplied, result.FallbackApplied, result.SignalStrength)

	personalization := map[string]any{
		"weights": result.Weights(),
	}
	for k, v := range status {
		personalization[k] = v
	}

	suitability["personalized_score"] = utils.RoundTo(personalizedScore, 4)
	suitability["personalization"] = personalization
	report["personalization_status"] = status

	compact := utils.AsMap(report["summary_compact"])
	if compact == nil {
		return
	}
	compactSuitability := utils.AsMap(compact["suitability_light"])
	if compactSuitability == nil {
		return
	}
	compactSuitability["base_score"] = utils.RoundTo(baseScore, 4)
	compactSuitability["personalized_score"] = utils.RoundTo(personalizedScore, 4)
	compactSuitability["personalization"] = personalization
}
