package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/openclaw/georanking/internal/query"
	"github.com/openclaw/georanking/pkg/utils"
)

// Candidate is one search hit moving through the scoring pipeline. The
// pre-score comes from the search response alone; the detail score is added
// after register hydration, and then TotalScore = PreScore + DetailScore.
type Candidate struct {
	FeatureID     string
	Label         string
	Detail        string
	Origin        string
	Rank          *int
	Lat           *float64
	Lon           *float64
	PreScore      float64
	PreReasons    []string
	DetailScore   float64
	DetailReasons []string
	TotalScore    float64
	Attrs         map[string]any
	AddressAttrs  map[string]any
	GWRAttrs      map[string]any
}

// scoreOrPre prefers the hydrated total over the raw pre-score.
func (c *Candidate) scoreOrPre() float64 {
	if c.TotalScore != 0 {
		return c.TotalScore
	}
	return c.PreScore
}

// ToPreview flattens the candidate for the report's preview list.
func (c *Candidate) ToPreview() map[string]any {
	var rank any
	if c.Rank != nil {
		rank = *c.Rank
	}
	reasons := make([]string, 0, len(c.PreReasons)+len(c.DetailReasons))
	reasons = append(reasons, c.PreReasons...)
	reasons = append(reasons, c.DetailReasons...)
	return map[string]any{
		"feature_id":   c.FeatureID,
		"label":        c.Label,
		"origin":       nilIfEmpty(c.Origin),
		"rank":         rank,
		"score":        utils.RoundTo(c.scoreOrPre(), 2),
		"pre_score":    utils.RoundTo(c.PreScore, 2),
		"detail_score": utils.RoundTo(c.DetailScore, 2),
		"reasons":      reasons,
	}
}

func wordBoundaryMatch(haystack, needle string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(needle) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(haystack)
}

func allTokensIn(haystack string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}

// ScoreCandidatePre grades a raw search hit against the parsed query using
// only label and detail text.
func ScoreCandidatePre(attrs map[string]any, q query.Parts) (float64, []string) {
	score := 0.0
	var reasons []string

	label := utils.StripHTML(utils.AsString(attrs["label"]))
	detail := utils.AsString(attrs["detail"])
	haystack := utils.NormalizeText(label) + " " + utils.NormalizeText(detail)

	if q.Street != "" {
		streetNorm := utils.NormalizeText(q.Street)
		streetTokens := utils.Tokens(streetNorm)
		switch {
		case streetNorm != "" && strings.Contains(haystack, streetNorm):
			score += 35
			reasons = append(reasons, "Strasse exakt im Treffertext")
		case allTokensIn(haystack, streetTokens):
			score += 18
			reasons = append(reasons, "Strassen-Tokens vollständig enthalten")
		default:
			score -= 20
			reasons = append(reasons, "Strasse nicht ausreichend enthalten")
		}
	}

	if q.HouseNumber != "" {
		if wordBoundaryMatch(haystack, q.HouseNumber) {
			score += 14
			reasons = append(reasons, "Hausnummer passt")
		} else {
			score -= 8
			reasons = append(reasons, "Hausnummer fehlt")
		}
	}

	if q.PostalCode != "" {
		if wordBoundaryMatch(haystack, q.PostalCode) {
			score += 20
			reasons = append(reasons, "PLZ passt")
		} else {
			score -= 8
			reasons = append(reasons, "PLZ fehlt")
		}
	}

	if q.City != "" {
		cityNorm := utils.NormalizeText(q.City)
		cityTokens := utils.Tokens(cityNorm)
		switch {
		case cityNorm != "" && strings.Contains(haystack, cityNorm):
			score += 15
			reasons = append(reasons, "Ort passt")
		case allTokensIn(haystack, cityTokens):
			score += 10
			reasons = append(reasons, "Orts-Tokens passen")
		default:
			score -= 6
			reasons = append(reasons, "Ort nicht erkannt")
		}
	}

	if utils.AsString(attrs["origin"]) == "address" {
		score += 5
		reasons = append(reasons, "Origin=address")
	}

	if rank, ok := utils.AsFloat(attrs["rank"]); ok {
		rankBonus := utils.Clamp(10-rank, 0, 8)
		score += rankBonus
		reasons = append(reasons, fmt.Sprintf("Search-Rank-Bonus %.1f", rankBonus))
	}

	if utils.AsString(attrs["featureId"]) != "" {
		score += 5
		reasons = append(reasons, "Feature-ID vorhanden")
	}

	if q.Street != "" && label != "" {
		if strings.HasPrefix(utils.NormalizeText(label), utils.NormalizeText(q.Street)) {
			score += 6
			reasons = append(reasons, "Label startet mit Strasse")
		}
	}

	return score, reasons
}

// ScoreCandidateDetail grades the hydrated register attributes against the
// parsed query.
func ScoreCandidateDetail(q query.Parts, addressAttrs, gwrAttrs map[string]any) (float64, []string) {
	score := 0.0
	var reasons []string

	gwrStreet := utils.NormalizeText(utils.AsString(gwrAttrs["strname_deinr"]))

	if q.Street != "" && gwrStreet != "" {
		streetNorm := utils.NormalizeText(q.Street)
		switch {
		case streetNorm != "" && strings.Contains(gwrStreet, streetNorm):
			score += 20
			reasons = append(reasons, "GWR-Strasse bestätigt")
		case allTokensIn(gwrStreet, utils.Tokens(streetNorm)):
			score += 10
			reasons = append(reasons, "GWR-Strassen-Tokens bestätigt")
		default:
			score -= 8
			reasons = append(reasons, "GWR-Strasse weicht ab")
		}
	}

	if q.HouseNumber != "" && gwrStreet != "" {
		if wordBoundaryMatch(gwrStreet, q.HouseNumber) {
			score += 8
			reasons = append(reasons, "GWR-Hausnummer bestätigt")
		} else {
			score -= 4
			reasons = append(reasons, "GWR-Hausnummer abweichend")
		}
	}

	gwrPLZ := postalPrefix(gwrAttrs["plz_plz6"])
	if q.PostalCode != "" && gwrPLZ != "" {
		if gwrPLZ == q.PostalCode {
			score += 12
			reasons = append(reasons, "GWR-PLZ bestätigt")
		} else {
			score -= 7
			reasons = append(reasons, "GWR-PLZ abweichend")
		}
	}

	if q.City != "" {
		cityNorm := utils.NormalizeText(q.City)
		gwrCity := utils.NormalizeText(utils.AsString(gwrAttrs["dplzname"]))
		if gwrCity == "" {
			gwrCity = utils.NormalizeText(utils.AsString(gwrAttrs["ggdename"]))
		}
		if cityNorm != "" && gwrCity != "" {
			switch {
			case strings.Contains(gwrCity, cityNorm) || strings.Contains(cityNorm, gwrCity):
				score += 8
				reasons = append(reasons, "GWR-Ort/Gemeinde bestätigt")
			case allTokensIn(gwrCity, utils.Tokens(cityNorm)):
				score += 5
				reasons = append(reasons, "GWR-Orts-Tokens bestätigt")
			default:
				score -= 4
				reasons = append(reasons, "GWR-Ort/Gemeinde abweichend")
			}
		}
	}

	if addressAttrs["adr_official"] == true {
		score += 5
		reasons = append(reasons, "Amtliche Adresse")
	}

	if status, ok := utils.AsInt(gwrAttrs["gstat"]); ok && status == 1004 {
		score += 3
		reasons = append(reasons, "Gebäudestatus=Bestehend")
	}

	return score, reasons
}

// BuildCandidateList pre-scores raw search hits and sorts them best first.
// Hits without a feature id are unusable and dropped.
func BuildCandidateList(rawResults []map[string]any, q query.Parts) []*Candidate {
	out := make([]*Candidate, 0, len(rawResults))
	for _, attrs := range rawResults {
		featureID := strings.TrimSpace(utils.AsString(attrs["featureId"]))
		if featureID == "" {
			continue
		}

		preScore, preReasons := ScoreCandidatePre(attrs, q)
		cand := &Candidate{
			FeatureID:  featureID,
			Label:      utils.StripHTML(utils.AsString(attrs["label"])),
			Detail:     utils.AsString(attrs["detail"]),
			Origin:     utils.AsString(attrs["origin"]),
			PreScore:   preScore,
			PreReasons: preReasons,
			Attrs:      attrs,
		}
		if rank, ok := utils.AsFloat(attrs["rank"]); ok {
			r := int(rank)
			cand.Rank = &r
		}
		if lat, ok := utils.AsFloat(attrs["lat"]); ok {
			cand.Lat = &lat
		}
		if lon, ok := utils.AsFloat(attrs["lon"]); ok {
			cand.Lon = &lon
		}
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PreScore > out[j].PreScore })
	return out
}

// postalPrefix reduces a PLZ6 value to its 4-digit postal code.
func postalPrefix(v any) string {
	s := utils.AsString(v)
	if len(s) > 4 {
		s = s[:4]
	}
	return s
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
