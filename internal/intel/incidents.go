package intel

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/georanking/internal/news"
	"github.com/openclaw/georanking/pkg/utils"
)

var incidentKeywords = []string{"brand", "feuer", "einbruch", "polizei", "unfall", "delikt", "evaku"}

// BuildIncidentsTimelineLayer scores web news hits against the address query
// and incident keywords. News hints are never treated as verified facts.
func BuildIncidentsTimelineLayer(payload news.Result, addressQuery string, maxItems int) map[string]any {
	if maxItems < 0 {
		maxItems = 0
	}
	eventsIn := payload.Events
	if len(eventsIn) > maxItems {
		eventsIn = eventsIn[:maxItems]
	}

	if len(eventsIn) == 0 {
		snippet := payload.Error
		if snippet == "" {
			snippet = "Leere Trefferliste"
		}
		return map[string]any{
			"status": "no_data",
			"events": []map[string]any{},
			"statements": []map[string]any{
				Statement(
					"Keine aktuellen Web-/News-Hinweise zur Adresse gefunden.",
					0.35,
					[]map[string]any{EvidenceItem(EvidenceSpec{
						Source:     "google_news_rss",
						Confidence: 0.35,
						URL:        payload.SourceURL,
						Snippet:    snippet,
						FieldPath:  "intelligence.incidents_timeline.events",
					})},
					"intelligence.incidents_timeline",
				),
			},
		}
	}

	var queryTokens []string
	for _, t := range utils.Tokens(addressQuery) {
		if len(t) >= 3 {
			queryTokens = append(queryTokens, t)
		}
	}

	events := make([]map[string]any, 0, len(eventsIn))
	for idx, raw := range eventsIn {
		titleNorm := utils.NormalizeText(raw.Title)
		tokenHits := 0
		for _, t := range queryTokens {
			if strings.Contains(titleNorm, t) {
				tokenHits++
			}
		}
		keywordHits := 0
		for _, kw := range incidentKeywords {
			if strings.Contains(titleNorm, kw) {
				keywordHits++
			}
		}

		recencyBonus := 0.0
		if raw.PublishedAt != "" {
			if dt, err := time.Parse(time.RFC3339, raw.PublishedAt); err == nil {
				days := timeNow().UTC().Sub(dt.UTC()).Hours() / 24
				if days < 0 {
					days = 0
				}
				switch {
				case days < 30:
					recencyBonus = 0.16
				case days < 180:
					recencyBonus = 0.08
				}
			}
		}

		confidence := utils.Clamp(0.25+float64(tokenHits)*0.1+float64(keywordHits)*0.08+recencyBonus, 0.2, 0.8)
		ev := []map[string]any{
			EvidenceItem(EvidenceSpec{
				Source:     "google_news_rss",
				Confidence: confidence,
				URL:        firstNonEmpty(raw.URL, payload.SourceURL),
				ObservedAt: raw.PublishedAt,
				Snippet:    raw.Title,
				FieldPath:  fmt.Sprintf("intelligence.incidents_timeline.events[%d]", idx),
			}),
		}
		events = append(events, map[string]any{
			"title":       raw.Title,
			"date":        nilIfEmpty(raw.PublishedAt),
			"source":      raw.Source,
			"url":         nilIfEmpty(raw.URL),
			"description": nilIfEmpty(raw.Description),
			"status":      ClassifyStatementStatus(confidence, ev),
			"confidence":  utils.RoundTo(confidence, 2),
			"evidence":    ev,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return utils.AsString(events[i]["date"]) > utils.AsString(events[j]["date"])
	})

	relevantCount := 0
	for _, ev := range events {
		if c, ok := utils.AsFloat(ev["confidence"]); ok && c >= 0.55 {
			relevantCount++
		}
	}
	layerConf := utils.Clamp(0.4+float64(relevantCount)*0.08, 0.38, 0.79)

	headline := "Nur schwache oder indirekte Web-Hinweise gefunden."
	if relevantCount > 0 {
		headline = fmt.Sprintf("%d zeitnahe Incident-Indizien gefunden (Web-Hinweise, nicht amtlich verifiziert).", relevantCount)
	}

	return map[string]any{
		"status":               "ok",
		"events":               events,
		"relevant_event_count": relevantCount,
		"statements": []map[string]any{
			Statement(
				headline,
				layerConf,
				[]map[string]any{EvidenceItem(EvidenceSpec{
					Source:     "google_news_rss",
					Confidence: layerConf,
					URL:        payload.SourceURL,
					Snippet:    "Aggregierte News-RSS-Auswertung",
					FieldPath:  "intelligence.incidents_timeline.events",
				})},
				"intelligence.incidents_timeline",
			),
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
