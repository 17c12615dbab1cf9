// Package query parses free-form Swiss address input into structured parts.
package query

import (
	"regexp"
	"strings"

	"github.com/openclaw/georanking/pkg/utils"
)

// Parts is the structured form of an address query. Missing components stay
// empty; parsing never fails.
type Parts struct {
	Raw         string   `json:"raw"`
	Normalized  string   `json:"normalized"`
	Street      string   `json:"street,omitempty"`
	HouseNumber string   `json:"house_number,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	City        string   `json:"city,omitempty"`
	Tokens      []string `json:"tokens"`
}

var (
	separatorRe   = regexp.MustCompile(`[;|\n\r]+`)
	commaSpacesRe = regexp.MustCompile(`\s*,\s*`)
	spacesRe      = regexp.MustCompile(`\s+`)
	postalRe      = regexp.MustCompile(`\b(\d{4})\b`)
	houseNumberRe = regexp.MustCompile(`^(.+?)\s+(\d+[a-zA-Z]?(?:[/-]\d+[a-zA-Z]?)?)\s*$`)
	strAbbrevRe   = regexp.MustCompile(`\bstr\.?\b`)
	fourDigitsRe  = regexp.MustCompile(`^\d{4}$`)
	leadPostalRe  = regexp.MustCompile(`^\d{4}\s*`)
)

// NormalizeInput de-noises raw address input: non-breaking spaces become
// spaces, alternative separators become commas, runs of whitespace collapse.
func NormalizeInput(query string) string {
	text := strings.ReplaceAll(query, " ", " ")
	text = separatorRe.ReplaceAllString(text, ",")
	text = commaSpacesRe.ReplaceAllString(text, ", ")
	text = spacesRe.ReplaceAllString(text, " ")
	return strings.Trim(text, " ,")
}

func normalizeStreetFragment(fragment string) string {
	street := utils.NormalizeText(fragment)
	if street == "" {
		return ""
	}
	street = strAbbrevRe.ReplaceAllString(street, "strasse")
	street = spacesRe.ReplaceAllString(street, " ")
	return strings.Trim(street, " ,.-")
}

// Parse splits a free-form query into street, house number, postal code, and
// city. The result is stable under re-parsing its own normalized form.
func Parse(raw string) Parts {
	normalizedInput := NormalizeInput(raw)
	norm := utils.NormalizeText(normalizedInput)
	tokens := utils.Tokens(norm)

	parts := Parts{Raw: raw, Normalized: norm, Tokens: tokens}

	if m := postalRe.FindStringSubmatch(norm); m != nil {
		parts.PostalCode = m[1]
	}

	segments := splitSegments(normalizedInput)
	first := normalizedInput
	if len(segments) > 0 {
		first = segments[0]
	}
	firstNorm := utils.NormalizeText(first)

	if m := houseNumberRe.FindStringSubmatch(firstNorm); m != nil {
		parts.Street = normalizeStreetFragment(m[1])
		parts.HouseNumber = strings.ToLower(m[2])
	} else {
		parts.Street = normalizeStreetFragment(firstNorm)
	}

	if parts.PostalCode != "" {
		cityRe := regexp.MustCompile(`\b` + parts.PostalCode + `\b\s*([a-z0-9\-\.\s'/]+)$`)
		if m := cityRe.FindStringSubmatch(norm); m != nil {
			parts.City = strings.Trim(m[1], " ,")
		}
	}
	if parts.City == "" && len(segments) >= 2 {
		last := utils.NormalizeText(segments[len(segments)-1])
		if last != "" && !fourDigitsRe.MatchString(last) {
			parts.City = strings.TrimSpace(leadPostalRe.ReplaceAllString(last, ""))
		}
	}

	return parts
}

func splitSegments(input string) []string {
	var out []string
	for _, seg := range strings.Split(input, ",") {
		if s := strings.TrimSpace(seg); s != "" {
			out = append(out, s)
		}
	}
	return out
}
