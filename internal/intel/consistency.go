package intel

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/georanking/internal/query"
	"github.com/openclaw/georanking/pkg/utils"
)

// Subject carries the resolved candidate's attributes into the intelligence
// layers without pulling in the resolver package.
type Subject struct {
	Label        string
	Lat          *float64
	Lon          *float64
	AddressAttrs map[string]any
	GWRAttrs     map[string]any
}

// BuildConsistencyChecksLayer cross-checks the query, the building register,
// the boundary layer and the incident timeline against each other.
func BuildConsistencyChecksLayer(q query.Parts, subject Subject, incidents map[string]any, adminBoundary map[string]any) map[string]any {
	gwr := subject.GWRAttrs
	addr := subject.AddressAttrs
	checks := []map[string]any{}

	addCheck := func(id, result, severity, message string, confidence float64, evidence []map[string]any) {
		checks = append(checks, map[string]any{
			"id":         id,
			"result":     result,
			"severity":   severity,
			"message":    message,
			"status":     ClassifyStatementStatus(confidence, evidence),
			"confidence": utils.RoundTo(confidence, 2),
			"evidence":   evidence,
		})
	}

	isOfficial := addr["adr_official"] == true
	if isOfficial {
		addCheck("address_registry_official", "pass", "medium",
			"Adresse ist im amtlichen Register als offiziell markiert.", 0.95,
			[]map[string]any{EvidenceItem(EvidenceSpec{
				Source: "geoadmin_address", Confidence: 0.95, FieldPath: "address_registry.adr_official",
			})})
	} else {
		addCheck("address_registry_official", "warn", "high",
			"Adresse nicht als offiziell markiert.", 0.7,
			[]map[string]any{EvidenceItem(EvidenceSpec{
				Source: "geoadmin_address", Confidence: 0.7, FieldPath: "address_registry.adr_official",
			})})
	}

	gwrPLZ := utils.AsString(gwr["plz_plz6"])
	if len(gwrPLZ) > 4 {
		gwrPLZ = gwrPLZ[:4]
	}
	if q.PostalCode != "" && gwrPLZ != "" {
		ev := []map[string]any{
			EvidenceItem(EvidenceSpec{Source: "geoadmin_gwr", Confidence: 0.92, FieldPath: "administrative.plz_plz6"}),
			EvidenceItem(EvidenceSpec{Source: "geoadmin_search", Confidence: 0.78, FieldPath: "match.query_parts.postal_code"}),
		}
		if q.PostalCode == gwrPLZ {
			addCheck("postal_code_query_vs_gwr", "pass", "low",
				fmt.Sprintf("PLZ Query (%s) stimmt mit GWR (%s) überein.", q.PostalCode, gwrPLZ), 0.94, ev)
		} else {
			addCheck("postal_code_query_vs_gwr", "fail", "high",
				fmt.Sprintf("PLZ Query (%s) weicht von GWR (%s) ab.", q.PostalCode, gwrPLZ), 0.88, ev)
		}
	}

	queryCity := utils.NormalizeText(q.City)
	gwrCity := utils.NormalizeText(utils.AsString(gwr["dplzname"]))
	if gwrCity == "" {
		gwrCity = utils.NormalizeText(utils.AsString(gwr["ggdename"]))
	}
	if queryCity != "" && gwrCity != "" {
		ev := []map[string]any{
			EvidenceItem(EvidenceSpec{Source: "geoadmin_gwr", Confidence: 0.86, FieldPath: "administrative.ort"}),
			EvidenceItem(EvidenceSpec{Source: "geoadmin_search", Confidence: 0.72, FieldPath: "match.query_parts.city"}),
		}
		if strings.Contains(gwrCity, queryCity) || strings.Contains(queryCity, gwrCity) {
			addCheck("city_query_vs_gwr", "pass", "low",
				"Ortsbezeichnung Query/GWR konsistent.", 0.87, ev)
		} else {
			addCheck("city_query_vs_gwr", "warn", "medium",
				"Ortsbezeichnung Query/GWR nicht eindeutig konsistent.", 0.62, ev)
		}
	}

	buildYear, hasBuildYear := parseBuildYear(gwr["gbauj"])
	currentYear := timeNow().Year()
	if !hasBuildYear {
		addCheck("baujahr_plausibility", "unknown", "medium",
			"Baujahr fehlt oder ist nicht interpretierbar.", 0.45,
			[]map[string]any{EvidenceItem(EvidenceSpec{
				Source: "geoadmin_gwr", Confidence: 0.45, FieldPath: "building.baujahr",
			})})
	} else if buildYear >= 1000 && buildYear <= currentYear+1 {
		addCheck("baujahr_plausibility", "pass", "low",
			fmt.Sprintf("Baujahr %d ist plausibel.", buildYear), 0.94,
			[]map[string]any{EvidenceItem(EvidenceSpec{
				Source: "geoadmin_gwr", Confidence: 0.94, FieldPath: "building.baujahr",
			})})
	} else {
		addCheck("baujahr_plausibility", "fail", "high",
			fmt.Sprintf("Baujahr %d ist unplausibel.", buildYear), 0.9,
			[]map[string]any{EvidenceItem(EvidenceSpec{
				Source: "geoadmin_gwr", Confidence: 0.9, FieldPath: "building.baujahr",
			})})
	}

	boundaryCity := utils.NormalizeText(utils.AsString(adminBoundary["gemname"]))
	if boundaryCity != "" && gwrCity != "" {
		ev := []map[string]any{
			EvidenceItem(EvidenceSpec{Source: "geoadmin_gwr", Confidence: 0.84, FieldPath: "administrative.gemeinde"}),
			EvidenceItem(EvidenceSpec{Source: "swissboundaries_identify", Confidence: 0.82, FieldPath: "cross_source.admin_boundary.gemeinde"}),
		}
		if strings.Contains(gwrCity, boundaryCity) || strings.Contains(boundaryCity, gwrCity) {
			addCheck("gwr_vs_boundary_city", "pass", "low",
				"GWR-Gemeinde passt zu SwissBoundaries.", 0.88, ev)
		} else {
			addCheck("gwr_vs_boundary_city", "warn", "medium",
				"GWR-Gemeinde weicht von SwissBoundaries ab.", 0.63, ev)
		}
	}

	incidentWarnings := 0
	if hasBuildYear {
		for _, raw := range utils.AsList(incidents["events"]) {
			event := utils.AsMap(raw)
			date := utils.AsString(event["date"])
			if date == "" {
				continue
			}
			dt, err := time.Parse(time.RFC3339, date)
			if err != nil {
				continue
			}
			if dt.Year() < buildYear-1 {
				incidentWarnings++
			}
		}
	}
	if incidentWarnings > 0 {
		addCheck("incident_vs_baujahr", "warn", "medium",
			fmt.Sprintf("%d Web-Hinweise liegen deutlich vor dem Baujahr und könnten auf Adress-Homonyme hindeuten.", incidentWarnings),
			0.58,
			[]map[string]any{EvidenceItem(EvidenceSpec{
				Source:     "google_news_rss",
				Confidence: 0.58,
				FieldPath:  "intelligence.incidents_timeline.events",
				Snippet:    "Eventjahr vor Baujahr",
			})})
	} else {
		addCheck("incident_vs_baujahr", "pass", "low",
			"Keine offensichtliche Zeitachsen-Inkonsistenz zwischen Baujahr und Incident-Hinweisen.", 0.62,
			[]map[string]any{
				EvidenceItem(EvidenceSpec{Source: "geoadmin_gwr", Confidence: 0.75, FieldPath: "building.baujahr"}),
				EvidenceItem(EvidenceSpec{Source: "google_news_rss", Confidence: 0.55, FieldPath: "intelligence.incidents_timeline.events"}),
			})
	}

	passCount, warnCount, failCount, unknownCount := 0, 0, 0, 0
	for _, c := range checks {
		switch c["result"] {
		case "pass":
			passCount++
		case "warn":
			warnCount++
		case "fail":
			failCount++
		case "unknown":
			unknownCount++
		}
	}
	riskScore := int(utils.Clamp(float64(failCount*28+warnCount*11+unknownCount*5), 0, 100))

	overall := "stable"
	statementText := "Konsistenzprüfung ohne harte Widersprüche."
	statementConf := 0.9
	if failCount > 0 {
		overall = "critical"
		statementText = "Konsistenzprüfung zeigt kritische Widersprüche."
		statementConf = 0.83
	} else if warnCount >= 2 {
		overall = "attention"
		statementText = "Konsistenzprüfung mit einzelnen Warnsignalen."
		statementConf = 0.72
	}

	return map[string]any{
		"status":     "ok",
		"overall":    overall,
		"risk_score": riskScore,
		"counts": map[string]any{
			"pass":    passCount,
			"warn":    warnCount,
			"fail":    failCount,
			"unknown": unknownCount,
		},
		"checks": checks,
		"statements": []map[string]any{
			Statement(
				statementText,
				statementConf,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "geoadmin_gwr",
					Confidence: 0.85,
					FieldPath:  "intelligence.consistency_checks",
				})},
				"intelligence.consistency_checks",
			),
		},
	}
}

func parseBuildYear(raw any) (int, bool) {
	s := utils.AsString(raw)
	if s == "" {
		return 0, false
	}
	if len(s) > 4 {
		s = s[:4]
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return year, true
}
