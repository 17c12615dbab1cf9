package intel

import (
	"time"

	"github.com/openclaw/georanking/internal/sources"
	"github.com/openclaw/georanking/pkg/utils"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

func utcNowISO() string {
	return timeNow().UTC().Truncate(time.Second).Format(time.RFC3339)
}

// EvidenceSpec describes one piece of evidence backing a statement. Source
// authority and policy rank are looked up from the source catalog.
type EvidenceSpec struct {
	Source     string
	Confidence float64
	URL        string
	ObservedAt string
	Snippet    string
	FieldPath  string
}

func EvidenceItem(spec EvidenceSpec) map[string]any {
	authority := "unknown"
	tier := "unknown"
	if entry, ok := sources.Catalog[spec.Source]; ok {
		authority = entry.Authority
		tier = entry.Tier
	}
	observed := spec.ObservedAt
	if observed == "" {
		observed = utcNowISO()
	}
	return map[string]any{
		"source":             spec.Source,
		"source_authority":   authority,
		"source_tier":        tier,
		"source_policy_rank": sources.RankOf(authority),
		"url":                nilIfEmpty(spec.URL),
		"observed_at":        observed,
		"confidence":         utils.RoundTo(utils.Clamp(spec.Confidence, 0, 1), 2),
		"snippet":            nilIfEmpty(spec.Snippet),
		"field_path":         nilIfEmpty(spec.FieldPath),
	}
}

// ClassifyStatementStatus grades a statement: "gesichert" needs high
// confidence plus at least licensed-grade evidence, "indiz" medium
// confidence, anything weaker stays "unklar".
func ClassifyStatementStatus(confidence float64, evidence []map[string]any) string {
	bestRank := sources.RankOf("unknown")
	for _, ev := range evidence {
		rank := sources.RankOf(utils.AsString(ev["source_authority"]))
		if rank < bestRank {
			bestRank = rank
		}
	}
	if confidence >= 0.8 && bestRank <= sources.RankOf("licensed") {
		return "gesichert"
	}
	if confidence >= 0.5 {
		return "indiz"
	}
	return "unklar"
}

// Statement wraps a human-readable finding with its grading, provenance and
// evidence list. The first evidence item is treated as primary.
func Statement(text string, confidence float64, evidence []map[string]any, fieldPath string) map[string]any {
	var primary map[string]any
	if len(evidence) > 0 {
		primary = evidence[0]
	}
	return map[string]any{
		"text":       text,
		"status":     ClassifyStatementStatus(confidence, evidence),
		"confidence": utils.RoundTo(utils.Clamp(confidence, 0, 1), 2),
		"field_provenance": map[string]any{
			"field":          nilIfEmpty(fieldPath),
			"primary_source": primary["source"],
			"primary_url":    primary["url"],
			"observed_at":    primary["observed_at"],
		},
		"evidence": evidence,
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
