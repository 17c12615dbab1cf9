package intel

import (
	"fmt"
	"math"
	"strings"

	"github.com/openclaw/georanking/pkg/utils"
)

var trafficEmojis = map[string]string{"green": "🟢", "yellow": "🟡", "red": "🔴"}

// BuildExecutiveRiskSummary condenses confidence, ambiguity, incidents,
// noise and consistency findings into one traffic-light score.
func BuildExecutiveRiskSummary(mode string, confidence, ambiguity, incidents, noiseRisk, consistency map[string]any) map[string]any {
	reasons := []string{}
	riskPoints := 0.0

	switch utils.AsString(confidence["level"]) {
	case "low":
		riskPoints += 34
		reasons = append(reasons, "Niedrige Match-Confidence")
	case "medium":
		riskPoints += 15
		reasons = append(reasons, "Mittlere Match-Confidence")
	}

	switch utils.AsString(ambiguity["level"]) {
	case "high":
		riskPoints += 24
		reasons = append(reasons, "Hohe Kandidaten-Ambiguität")
	case "medium":
		riskPoints += 10
		reasons = append(reasons, "Mehrdeutigkeit im Kandidatenfeld")
	}

	consistencyRisk, _ := utils.AsFloat(consistency["risk_score"])
	riskPoints += consistencyRisk * 0.45
	if consistencyRisk >= 45 {
		reasons = append(reasons, "Konsistenzchecks mit erhöhtem Risiko")
	}

	incidentRelevant, _ := utils.AsInt(incidents["relevant_event_count"])
	if incidentRelevant > 0 {
		riskPoints += math.Min(24, float64(incidentRelevant)*6)
		reasons = append(reasons, fmt.Sprintf("%d relevante Incident-Hinweise im Web", incidentRelevant))
	}

	noiseScore, _ := utils.AsFloat(noiseRisk["score"])
	if mode == "extended" || mode == "risk" {
		factor := 0.18
		if mode == "risk" {
			factor = 0.25
		}
		riskPoints += noiseScore * factor
		if noiseScore >= 35 {
			reasons = append(reasons, "Umfeld zeigt Aktivitäts-/Lärmindikatoren")
		}
	}

	if mode == "risk" {
		riskPoints += 6
		reasons = append(reasons, "Risk-Modus: konservativere Schwellen")
	}

	riskScore := int(math.Round(utils.Clamp(riskPoints, 0, 100)))
	trafficLight := "red"
	switch {
	case riskScore < 34:
		trafficLight = "green"
	case riskScore < 67:
		trafficLight = "yellow"
	}
	emoji := trafficEmojis[trafficLight]

	if len(reasons) == 0 {
		reasons = append(reasons, "Keine auffälligen Risikoindikatoren")
	}
	if len(reasons) > 6 {
		reasons = reasons[:6]
	}

	evidence := []map[string]any{
		EvidenceItem(EvidenceSpec{Source: "geoadmin_gwr", Confidence: 0.9, FieldPath: "confidence.level"}),
		EvidenceItem(EvidenceSpec{Source: "osm_poi_overpass", Confidence: 0.55, FieldPath: "intelligence.environment_noise_risk.score"}),
		EvidenceItem(EvidenceSpec{Source: "google_news_rss", Confidence: 0.52, FieldPath: "intelligence.incidents_timeline.relevant_event_count"}),
	}

	return map[string]any{
		"mode":          mode,
		"risk_score":    riskScore,
		"traffic_light": trafficLight,
		"traffic_emoji": emoji,
		"summary":       fmt.Sprintf("%s Risikoampel: %s (Score %d/100)", emoji, strings.ToUpper(trafficLight), riskScore),
		"reasons":       reasons,
		"status":        ClassifyStatementStatus(0.72, evidence),
		"evidence":      evidence,
		"field_provenance": map[string]any{
			"field":          "intelligence.executive_risk_summary",
			"primary_source": "geoadmin_gwr",
			"observed_at":    utcNowISO(),
		},
	}
}
