// Package scoring implements the two-stage suitability weighting: a base
// score from the factor rows plus a personalized score from preference-driven
// weight deltas.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/openclaw/georanking/pkg/utils"
)

// PresetVersion is the only accepted preferences.preset_version value.
const PresetVersion = "v1"

// PreferenceEnums lists the allowed values per preference dimension.
var PreferenceEnums = map[string][]string{
	"lifestyle_density":     {"rural", "suburban", "urban"},
	"noise_tolerance":       {"low", "medium", "high"},
	"nightlife_preference":  {"avoid", "neutral", "prefer"},
	"school_proximity":      {"avoid", "neutral", "prefer"},
	"family_friendly_focus": {"low", "medium", "high"},
	"commute_priority":      {"car", "pt", "bike", "mixed"},
}

// DefaultPreferences is the neutral profile used when no preferences are
// supplied.
var DefaultPreferences = map[string]any{
	"lifestyle_density":     "suburban",
	"noise_tolerance":       "medium",
	"nightlife_preference":  "neutral",
	"school_proximity":      "neutral",
	"family_friendly_focus": "medium",
	"commute_priority":      "mixed",
	"weights":               map[string]any{},
}

// Presets are the named preference profiles clients can select.
var Presets = map[string]map[string]any{
	"urban_lifestyle": {
		"lifestyle_density":     "urban",
		"noise_tolerance":       "medium",
		"nightlife_preference":  "prefer",
		"school_proximity":      "neutral",
		"family_friendly_focus": "low",
		"commute_priority":      "pt",
		"weights": map[string]any{
			"nightlife_preference": 0.85,
			"commute_priority":     0.9,
			"noise_tolerance":      0.45,
		},
	},
	"family_friendly": {
		"lifestyle_density":     "suburban",
		"noise_tolerance":       "low",
		"nightlife_preference":  "avoid",
		"school_proximity":      "prefer",
		"family_friendly_focus": "high",
		"commute_priority":      "mixed",
		"weights": map[string]any{
			"school_proximity":      0.95,
			"family_friendly_focus": 0.95,
			"noise_tolerance":       0.75,
		},
	},
	"quiet_residential": {
		"lifestyle_density":     "suburban",
		"noise_tolerance":       "low",
		"nightlife_preference":  "avoid",
		"school_proximity":      "neutral",
		"family_friendly_focus": "medium",
		"commute_priority":      "mixed",
		"weights": map[string]any{
			"noise_tolerance":      0.95,
			"nightlife_preference": 0.7,
			"lifestyle_density":    0.6,
		},
	},
	"car_commuter": {
		"lifestyle_density":     "suburban",
		"noise_tolerance":       "medium",
		"nightlife_preference":  "neutral",
		"school_proximity":      "neutral",
		"family_friendly_focus": "medium",
		"commute_priority":      "car",
		"weights": map[string]any{
			"commute_priority":  0.95,
			"lifestyle_density": 0.55,
			"noise_tolerance":   0.4,
		},
	},
	"pt_commuter": {
		"lifestyle_density":     "urban",
		"noise_tolerance":       "medium",
		"nightlife_preference":  "neutral",
		"school_proximity":      "neutral",
		"family_friendly_focus": "medium",
		"commute_priority":      "pt",
		"weights": map[string]any{
			"commute_priority":  0.95,
			"lifestyle_density": 0.55,
			"noise_tolerance":   0.4,
		},
	},
}

// deltaMatrix maps preference dimension values to additive weight deltas per
// suitability factor. +0.10 means +10% on the factor's base weight.
var deltaMatrix = map[string]map[string]map[string]float64{
	"lifestyle_density": {
		"urban":    {"access": 0.12, "topography": -0.04, "building_state": -0.03},
		"suburban": {},
		"rural":    {"topography": 0.10, "building_state": 0.03, "access": -0.08},
	},
	"noise_tolerance": {
		"low":    {"topography": 0.04, "access": 0.06},
		"medium": {},
		"high":   {"topography": -0.02, "access": -0.03},
	},
	"nightlife_preference": {
		"avoid":   {"topography": 0.03, "access": -0.02},
		"neutral": {},
		"prefer":  {"access": 0.05, "building_state": -0.01},
	},
	"school_proximity": {
		"avoid":   {"building_state": -0.04, "access": -0.01},
		"neutral": {},
		"prefer":  {"building_state": 0.06, "access": 0.03},
	},
	"family_friendly_focus": {
		"low":    {"building_state": -0.06, "access": -0.02},
		"medium": {},
		"high":   {"building_state": 0.08, "topography": 0.03},
	},
	"commute_priority": {
		"car":   {"access": -0.04, "topography": 0.04},
		"pt":    {"access": 0.10, "topography": -0.02},
		"bike":  {"access": 0.08, "topography": -0.01},
		"mixed": {},
	},
}

// FactorRow is one suitability factor entering the two-stage scoring.
type FactorRow struct {
	Key    string
	Score  float64
	Weight float64
}

// TwoStageResult carries both scoring stages plus the weight breakdown.
type TwoStageResult struct {
	BaseScore         float64
	PersonalizedScore float64
	FallbackApplied   bool
	SignalStrength    float64
	BaseWeights       map[string]float64
	Personalized      map[string]float64
	Delta             map[string]float64
}

// Weights renders the per-factor weight breakdown for the report.
func (r TwoStageResult) Weights() map[string]any {
	round6 := func(m map[string]float64) map[string]any {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = utils.RoundTo(v, 6)
		}
		return out
	}
	return map[string]any{
		"base":         round6(r.BaseWeights),
		"personalized": round6(r.Personalized),
		"delta":        round6(r.Delta),
	}
}

func normalizeFactorRows(factors []FactorRow) []FactorRow {
	rows := make([]FactorRow, 0, len(factors))
	for _, f := range factors {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		score := utils.Clamp(finite(f.Score), 0, 100)
		weight := finite(f.Weight)
		if weight < 0 {
			weight = 0
		}
		rows = append(rows, FactorRow{Key: key, Score: score, Weight: weight})
	}
	return rows
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func effectivePreferences(preferences map[string]any) map[string]any {
	out := make(map[string]any, len(DefaultPreferences))
	for k, v := range DefaultPreferences {
		out[k] = v
	}
	if preferences == nil {
		out["weights"] = map[string]float64{}
		return out
	}

	for key := range DefaultPreferences {
		if key == "weights" {
			continue
		}
		if raw, ok := preferences[key]; ok {
			val := strings.ToLower(strings.TrimSpace(utils.AsString(raw)))
			if val != "" {
				out[key] = val
			}
		}
	}

	weights := map[string]float64{}
	for key, raw := range utils.AsMap(preferences["weights"]) {
		if f, ok := utils.AsFloat(raw); ok && f >= 0 && f <= 1 {
			weights[key] = f
		}
	}
	out["weights"] = weights
	return out
}

func personalizationDelta(factorKeys []string, preferences map[string]any) (map[string]float64, bool) {
	deltas := make(map[string]float64, len(factorKeys))
	for _, key := range factorKeys {
		deltas[key] = 0
	}
	hasSignal := false

	customWeights, _ := preferences["weights"].(map[string]float64)

	for dimension, profileMap := range deltaMatrix {
		selected := strings.ToLower(strings.TrimSpace(utils.AsString(preferences[dimension])))
		perFactor := profileMap[selected]
		if len(perFactor) == 0 {
			continue
		}

		intensity := 1.0
		if w, ok := customWeights[dimension]; ok {
			intensity = utils.Clamp(w, 0, 1)
		}
		if intensity <= 0 {
			continue
		}

		for factorKey, delta := range perFactor {
			if _, known := deltas[factorKey]; !known {
				continue
			}
			applied := delta * intensity
			if math.Abs(applied) <= 1e-12 {
				continue
			}
			deltas[factorKey] += applied
			hasSignal = true
		}
	}
	return deltas, hasSignal
}

// ComputeTwoStageScores derives the base score and the personalized score
// from the factor rows. Without a preference signal the personalized score
// falls back to the base score exactly.
func ComputeTwoStageScores(factors []FactorRow, preferences map[string]any) TwoStageResult {
	rows := normalizeFactorRows(factors)
	if len(rows) == 0 {
		return TwoStageResult{
			FallbackApplied: true,
			BaseWeights:     map[string]float64{},
			Personalized:    map[string]float64{},
			Delta:           map[string]float64{},
		}
	}

	baseWeights := make(map[string]float64, len(rows))
	factorKeys := make([]string, 0, len(rows))
	baseTotalWeight := 0.0
	baseScore := 0.0
	for _, row := range rows {
		baseWeights[row.Key] = row.Weight
		factorKeys = append(factorKeys, row.Key)
		baseTotalWeight += row.Weight
		baseScore += row.Score * row.Weight
	}
	baseScore = utils.RoundTo(baseScore, 4)

	effective := effectivePreferences(preferences)
	deltaMap, hasSignal := personalizationDelta(factorKeys, effective)

	if !hasSignal || baseTotalWeight <= 0 {
		return TwoStageResult{
			BaseScore:         baseScore,
			PersonalizedScore: baseScore,
			FallbackApplied:   true,
			BaseWeights:       baseWeights,
			Personalized:      copyWeights(baseWeights),
			Delta:             deltaMap,
		}
	}

	rawPersonalized := make(map[string]float64, len(baseWeights))
	personalizedTotal := 0.0
	for key, weight := range baseWeights {
		multiplier := math.Max(0.05, 1.0+deltaMap[key])
		rawPersonalized[key] = weight * multiplier
		personalizedTotal += rawPersonalized[key]
	}

	personalized := copyWeights(baseWeights)
	if personalizedTotal > 0 {
		// Renormalize to the base total so both stages stay comparable.
		norm := baseTotalWeight / personalizedTotal
		for key, value := range rawPersonalized {
			personalized[key] = value * norm
		}
	}

	personalizedScore := 0.0
	for _, row := range rows {
		personalizedScore += row.Score * personalized[row.Key]
	}

	signalStrength := 0.0
	for _, key := range factorKeys {
		signalStrength += math.Abs(deltaMap[key])
	}

	return TwoStageResult{
		BaseScore:         baseScore,
		PersonalizedScore: utils.RoundTo(personalizedScore, 4),
		FallbackApplied:   false,
		SignalStrength:    utils.RoundTo(signalStrength, 6),
		BaseWeights:       baseWeights,
		Personalized:      personalized,
		Delta:             deltaMap,
	}
}

func copyWeights(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PresetNames returns the sorted preset identifiers for error messages.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnumValues returns the sorted allowed values of one preference dimension.
func EnumValues(dimension string) []string {
	values := append([]string{}, PreferenceEnums[dimension]...)
	sort.Strings(values)
	return values
}

// ValidationError reports an invalid preferences payload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ExtractPreferences validates the optional preferences object of an analyze
// request and merges defaults, preset, field overrides and weight overrides
// in that order.
func ExtractPreferences(raw any) (map[string]any, error) {
	effective := make(map[string]any, len(DefaultPreferences))
	for k, v := range DefaultPreferences {
		effective[k] = v
	}
	effective["weights"] = map[string]any{}

	if raw == nil {
		return effective, nil
	}
	prefs, ok := raw.(map[string]any)
	if !ok {
		return nil, &ValidationError{Message: "preferences must be an object when provided"}
	}

	var unknown []string
	for key := range prefs {
		if key == "weights" || key == "preset" || key == "preset_version" {
			continue
		}
		if _, known := PreferenceEnums[key]; !known {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, validationErrorf("preferences contains unknown keys: %v", unknown)
	}

	if rawPreset, hasPreset := prefs["preset"]; hasPreset && rawPreset != nil {
		name, isString := rawPreset.(string)
		if !isString || strings.TrimSpace(name) == "" {
			return nil, &ValidationError{Message: "preferences.preset must be a non-empty string"}
		}
		presetName := strings.ToLower(strings.TrimSpace(name))
		preset, found := Presets[presetName]
		if !found {
			return nil, validationErrorf("preferences.preset must be one of %v", PresetNames())
		}

		presetVersion := PresetVersion
		if rawVersion, hasVersion := prefs["preset_version"]; hasVersion && rawVersion != nil {
			version, isStr := rawVersion.(string)
			if !isStr || strings.TrimSpace(version) == "" {
				return nil, &ValidationError{Message: "preferences.preset_version must be a non-empty string"}
			}
			presetVersion = strings.ToLower(strings.TrimSpace(version))
			if presetVersion != PresetVersion {
				return nil, validationErrorf("preferences.preset_version must be %s", PresetVersion)
			}
		}

		for k, v := range preset {
			if k == "weights" {
				merged := map[string]any{}
				for wk, wv := range utils.AsMap(v) {
					merged[wk] = wv
				}
				effective["weights"] = merged
				continue
			}
			effective[k] = v
		}
		effective["preset"] = presetName
		effective["preset_version"] = presetVersion
	} else if v, has := prefs["preset_version"]; has && v != nil {
		return nil, &ValidationError{Message: "preferences.preset_version requires preferences.preset"}
	}

	for field, allowed := range PreferenceEnums {
		raw, present := prefs[field]
		if !present {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(utils.AsString(raw)))
		valid := false
		for _, v := range allowed {
			if v == normalized {
				valid = true
				break
			}
		}
		if !valid {
			return nil, validationErrorf("preferences.%s must be one of %v", field, EnumValues(field))
		}
		effective[field] = normalized
	}

	rawWeights, hasWeights := prefs["weights"]
	if !hasWeights || rawWeights == nil {
		return effective, nil
	}
	weightMap, isMap := rawWeights.(map[string]any)
	if !isMap {
		return nil, &ValidationError{Message: "preferences.weights must be an object"}
	}

	var unknownWeights []string
	for key := range weightMap {
		if _, known := PreferenceEnums[key]; !known {
			unknownWeights = append(unknownWeights, key)
		}
	}
	if len(unknownWeights) > 0 {
		sort.Strings(unknownWeights)
		return nil, validationErrorf("preferences.weights contains unknown keys: %v", unknownWeights)
	}

	merged := map[string]any{}
	for k, v := range utils.AsMap(effective["weights"]) {
		merged[k] = v
	}
	for key, value := range weightMap {
		f, err := unitInterval(value, "preferences.weights."+key)
		if err != nil {
			return nil, err
		}
		merged[key] = f
	}
	effective["weights"] = merged
	return effective, nil
}

func unitInterval(value any, fieldName string) (float64, error) {
	switch v := value.(type) {
	case bool:
		return 0, validationErrorf("%s must be a number between 0 and 1", fieldName)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, validationErrorf("%s must be a finite number between 0 and 1", fieldName)
		}
		if v < 0 || v > 1 {
			return 0, validationErrorf("%s must be between 0 and 1", fieldName)
		}
		return v, nil
	case int:
		if v < 0 || v > 1 {
			return 0, validationErrorf("%s must be between 0 and 1", fieldName)
		}
		return float64(v), nil
	}
	return 0, validationErrorf("%s must be a number between 0 and 1", fieldName)
}
