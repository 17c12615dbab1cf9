package scoring

import (
	"math"
	"strings"
	"testing"
)

func testFactors() []FactorRow {
	return []FactorRow{
		{Key: "confidence", Score: 90, Weight: 0.40},
		{Key: "access", Score: 100, Weight: 0.20},
		{Key: "coverage", Score: 50, Weight: 0.20},
		{Key: "building_state", Score: 100, Weight: 0.15},
		{Key: "topography", Score: 0, Weight: 0.05},
	}
}

func TestComputeTwoStageScoresNoSignalFallsBack(t *testing.T) {
	result := ComputeTwoStageScores(testFactors(), nil)
	if !result.FallbackApplied {
		t.Error("neutral profile must fall back")
	}
	if result.PersonalizedScore != result.BaseScore {
		t.Errorf("personalized %v != base %v", result.PersonalizedScore, result.BaseScore)
	}
	if result.BaseScore != 81.0 {
		t.Errorf("base score = %v, want 81", result.BaseScore)
	}
}

func TestComputeTwoStageScoresUrbanProfile(t *testing.T) {
	prefs := map[string]any{"lifestyle_density": "urban"}
	result := ComputeTwoStageScores(testFactors(), prefs)
	if result.FallbackApplied {
		t.Fatal("urban profile must produce a signal")
	}
	if result.PersonalizedScore == result.BaseScore {
		t.Error("personalized score must differ from base")
	}
	if got, want := result.SignalStrength, 0.19; math.Abs(got-want) > 1e-9 {
		t.Errorf("signal strength = %v, want %v", got, want)
	}
	if result.Delta["access"] != 0.12 {
		t.Errorf("access delta = %v", result.Delta["access"])
	}

	baseTotal, personalizedTotal := 0.0, 0.0
	for _, w := range result.BaseWeights {
		baseTotal += w
	}
	for _, w := range result.Personalized {
		personalizedTotal += w
	}
	if math.Abs(baseTotal-personalizedTotal) > 1e-9 {
		t.Errorf("weight totals diverge: base %v personalized %v", baseTotal, personalizedTotal)
	}
}

func TestComputeTwoStageScoresZeroIntensityDisablesDimension(t *testing.T) {
	prefs := map[string]any{
		"lifestyle_density": "urban",
		"weights":           map[string]any{"lifestyle_density": float64(0)},
	}
	result := ComputeTwoStageScores(testFactors(), prefs)
	if !result.FallbackApplied {
		t.Error("zero intensity must neutralize the only signal")
	}
}

func TestComputeTwoStageScoresHalfIntensity(t *testing.T) {
	full := ComputeTwoStageScores(testFactors(), map[string]any{"lifestyle_density": "urban"})
	half := ComputeTwoStageScores(testFactors(), map[string]any{
		"lifestyle_density": "urban",
		"weights":           map[string]any{"lifestyle_density": 0.5},
	})
	if math.Abs(half.Delta["access"]-0.06) > 1e-9 {
		t.Errorf("half-intensity access delta = %v, want 0.06", half.Delta["access"])
	}
	if half.SignalStrength >= full.SignalStrength {
		t.Errorf("half signal %v must be below full %v", half.SignalStrength, full.SignalStrength)
	}
}

func TestComputeTwoStageScoresEmptyFactors(t *testing.T) {
	result := ComputeTwoStageScores(nil, nil)
	if !result.FallbackApplied || result.BaseScore != 0 {
		t.Errorf("empty factors: %+v", result)
	}
}

func TestExtractPreferencesDefaults(t *testing.T) {
	prefs, err := ExtractPreferences(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prefs["lifestyle_density"] != "suburban" || prefs["commute_priority"] != "mixed" {
		t.Errorf("defaults wrong: %v", prefs)
	}
}

func TestExtractPreferencesPresetThenOverrides(t *testing.T) {
	prefs, err := ExtractPreferences(map[string]any{
		"preset":          "family_friendly",
		"noise_tolerance": "medium",
		"weights":         map[string]any{"noise_tolerance": 0.2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prefs["preset"] != "family_friendly" {
		t.Errorf("preset = %v", prefs["preset"])
	}
	if prefs["school_proximity"] != "prefer" {
		t.Errorf("preset field not applied: %v", prefs["school_proximity"])
	}
	if prefs["noise_tolerance"] != "medium" {
		t.Errorf("field override lost: %v", prefs["noise_tolerance"])
	}
	weights := prefs["weights"].(map[string]any)
	if weights["noise_tolerance"] != 0.2 {
		t.Errorf("weight override lost: %v", weights)
	}
	if weights["school_proximity"] != 0.95 {
		t.Errorf("preset weight lost: %v", weights)
	}
}

func TestExtractPreferencesValidation(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   any
		want string
	}{
		{"not object", "fast", "must be an object"},
		{"unknown key", map[string]any{"speed": "fast"}, "unknown keys"},
		{"unknown preset", map[string]any{"preset": "penthouse"}, "preset must be one of"},
		{"version without preset", map[string]any{"preset_version": "v1"}, "requires preferences.preset"},
		{"wrong version", map[string]any{"preset": "pt_commuter", "preset_version": "v2"}, "preset_version must be v1"},
		{"bad enum", map[string]any{"noise_tolerance": "extreme"}, "noise_tolerance must be one of"},
		{"weight range", map[string]any{"weights": map[string]any{"noise_tolerance": 1.5}}, "between 0 and 1"},
		{"weight type", map[string]any{"weights": map[string]any{"noise_tolerance": true}}, "must be a number"},
		{"unknown weight", map[string]any{"weights": map[string]any{"speed": 0.5}}, "weights contains unknown keys"},
	} {
		_, err := ExtractPreferences(tt.in)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err.Error(), tt.want)
		}
	}
}

func TestDerivePersonalizationStatus(t *testing.T) {
	for _, tt := range []struct {
		supplied bool
		fallback bool
		signal   float64
		state    string
		source   string
	}{
		{false, true, 0, "deactivated", "base_score_default"},
		{true, true, 0.19, "partial", "base_score_fallback"},
		{true, false, 0, "partial", "base_score_fallback"},
		{true, false, 0.19, "active", "personalized_reweighting"},
	} {
		got := DerivePersonalizationStatus(tt.supplied, tt.fallback, tt.signal)
		if got["state"] != tt.state || got["source"] != tt.source {
			t.Errorf("(%v,%v,%v) = %v/%v, want %v/%v",
				tt.supplied, tt.fallback, tt.signal, got["state"], got["source"], tt.state, tt.source)
		}
	}
}

func TestApplyPersonalizedSuitability(t *testing.T) {
	report := map[string]any{
		"suitability_light": map[string]any{
			"score": 81,
			"factors": []map[string]any{
				{"key": "confidence", "score": float64(90), "weight": 0.40},
				{"key": "access", "score": float64(100), "weight": 0.20},
				{"key": "coverage", "score": float64(50), "weight": 0.20},
				{"key": "building_state", "score": float64(100), "weight": 0.15},
				{"key": "topography", "score": float64(0), "weight": 0.05},
			},
		},
		"summary_compact": map[string]any{
			"suitability_light": map[string]any{"score": 81},
		},
	}
	prefs := map[string]any{"lifestyle_density": "urban"}

	ApplyPersonalizedSuitability(report, prefs, true)

	suitability := report["suitability_light"].(map[string]any)
	if suitability["base_score"] != 81.0 {
		t.Errorf("base_score = %v", suitability["base_score"])
	}
	if suitability["personalized_score"] == nil || suitability["personalized_score"] == 81.0 {
		t.Errorf("personalized_score = %v", suitability["personalized_score"])
	}
	status := report["personalization_status"].(map[string]any)
	if status["state"] != "active" {
		t.Errorf("state = %v", status["state"])
	}

	compact := report["summary_compact"].(map[string]any)["suitability_light"].(map[string]any)
	if compact["personalized_score"] != suitability["personalized_score"] {
		t.Errorf("compact personalized_score = %v", compact["personalized_score"])
	}
}

func TestApplyPersonalizedSuitabilityWithoutPreferences(t *testing.T) {
	report := map[string]any{
		"suitability_light": map[string]any{
			"factors": []map[string]any{
				{"key": "confidence", "score": float64(70), "weight": 1.0},
			},
		},
	}
	ApplyPersonalizedSuitability(report, nil, false)

	suitability := report["suitability_light"].(map[string]any)
	if suitability["personalized_score"] != suitability["base_score"] {
		t.Errorf("fallback must equal base: %v vs %v",
			suitability["personalized_score"], suitability["base_score"])
	}
	status := report["personalization_status"].(map[string]any)
	if status["state"] != "deactivated" {
		t.Errorf("state = %v", status["state"])
	}
}
