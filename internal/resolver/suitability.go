package resolver

import (
	"math"

	"github.com/openclaw/georanking/pkg/utils"
)

// EvaluateSuitabilityLight scores a resolved building on a coarse
// green/yellow/red scale. The factor rows carry their base weights so the
// personalization stage can reweight them afterwards.
func EvaluateSuitabilityLight(
	elevationM any,
	hasRoadAccess bool,
	confidenceScore int,
	buildingStatus string,
	hasPLZ bool,
	hasAdminBoundary bool,
) map[string]any {
	confidence := utils.Clamp(float64(confidenceScore), 0, 100)

	access := 0.0
	if hasRoadAccess {
		access = 100
	}

	buildingState := 0.0
	switch buildingStatus {
	case "Bestehend":
		buildingState = 100
	case "Im Bau", "Projektiert", "Bewilligt":
		buildingState = 55
	}

	coverage := 0.0
	if hasPLZ {
		coverage += 50
	}
	if hasAdminBoundary {
		coverage += 50
	}

	topography := 0.0
	if elevationM != nil {
		topography = 100
	}

	factors := []map[string]any{
		{"key": "confidence", "score": confidence, "weight": 0.40},
		{"key": "access", "score": access, "weight": 0.20},
		{"key": "coverage", "score": coverage, "weight": 0.20},
		{"key": "building_state", "score": buildingState, "weight": 0.15},
		{"key": "topography", "score": topography, "weight": 0.05},
	}

	total := 0.0
	for _, f := range factors {
		total += f["score"].(float64) * f["weight"].(float64)
	}
	score := int(math.Round(utils.Clamp(total, 0, 100)))

	trafficLight := "red"
	classification := "kritisch"
	switch {
	case score >= 75:
		trafficLight = "green"
		classification = "geeignet"
	case score >= 50:
		trafficLight = "yellow"
		classification = "bedingt geeignet"
	}

	return map[string]any{
		"status":         "ok",
		"score":          score,
		"max":            100,
		"traffic_light":  trafficLight,
		"classification": classification,
		"factors":        factors,
	}
}
