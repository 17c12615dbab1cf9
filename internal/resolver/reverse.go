package resolver

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/openclaw/georanking/pkg/utils"
)

// Swiss coverage bounds and snap limits for coordinate input.
const (
	CHLatMin = 45.8179
	CHLatMax = 47.8084
	CHLonMin = 5.9559
	CHLonMax = 10.4921

	SnapToleranceDeg   = 0.02
	IdentifyToleranceM = 180.0
	MaxSnapDistanceM   = 120.0
	ProviderGWR        = "ch.bfs.gebaeude_wohnungs_register"
)

// NormalizeSnapMode validates the snap_mode field of a coordinate input.
// Booleans are accepted for backwards compatibility with older clients.
func NormalizeSnapMode(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "ch_bounds", nil
	case bool:
		if v {
			return "ch_bounds", nil
		}
		return "strict", nil
	case string:
		mode := strings.ToLower(strings.TrimSpace(v))
		if mode == "" {
			return "ch_bounds", nil
		}
		if mode == "strict" || mode == "ch_bounds" {
			return mode, nil
		}
	}
	return "", &ValidationError{Message: "coordinates.snap_mode must be one of ['strict', 'ch_bounds']"}
}

// SnapCoordinates validates a WGS84 point against the Swiss coverage bounds
// and, in ch_bounds mode, snaps near-boundary points inside. The returned
// flag reports whether snapping changed the point.
func SnapCoordinates(lat, lon float64, snapMode string) (float64, float64, bool, error) {
	if lat < -90 || lat > 90 {
		return 0, 0, false, &ValidationError{Message: "coordinates.lat must be between -90 and 90"}
	}
	if lon < -180 || lon > 180 {
		return 0, 0, false, &ValidationError{Message: "coordinates.lon must be between -180 and 180"}
	}

	insideCH := lat >= CHLatMin && lat <= CHLatMax && lon >= CHLonMin && lon <= CHLonMax
	if insideCH {
		return lat, lon, false, nil
	}
	if snapMode == "strict" {
		return 0, 0, false, &ValidationError{Message: "coordinates are outside Swiss coverage bounds"}
	}

	snappedLat := utils.Clamp(lat, CHLatMin, CHLatMax)
	snappedLon := utils.Clamp(lon, CHLonMin, CHLonMax)
	if math.Abs(snappedLat-lat) > SnapToleranceDeg || math.Abs(snappedLon-lon) > SnapToleranceDeg {
		return 0, 0, false, &ValidationError{Message: fmt.Sprintf(
			"coordinates are outside Swiss coverage bounds (snap tolerance ±%.2f° exceeded)", SnapToleranceDeg)}
	}
	return snappedLat, snappedLon, true, nil
}

var postalPattern = regexp.MustCompile(`\b(\d{4})\b`)

func extractPostalPrefix(v any) string {
	if m := postalPattern.FindStringSubmatch(utils.AsString(v)); m != nil {
		return m[1]
	}
	return ""
}

type reverseCandidate struct {
	FeatureID  string
	Street     string
	PostalCode string
	City       string
	LV95E      *float64
	LV95N      *float64
}

// ResolveQueryFromCoordinates snaps a clicked WGS84 point to the nearest
// register building and returns the reconstructed address query plus a
// resolution context for the report.
func (r *Resolver) ResolveQueryFromCoordinates(ctx context.Context, lat, lon float64) (string, map[string]any, error) {
	clickE, clickN, err := r.Geo.WGS84ToLV95(ctx, lat, lon)
	if err != nil {
		return "", nil, err
	}
	rows, err := r.Geo.IdentifyGWRCandidates(ctx, lat, lon, IdentifyToleranceM)
	if err != nil {
		return "", nil, err
	}

	var candidates []reverseCandidate
	for _, row := range rows {
		attrs := utils.AsMap(row["attributes"])
		if attrs == nil {
			continue
		}
		featureID := strings.TrimSpace(utils.AsString(row["featureId"]))
		if featureID == "" {
			featureID = strings.TrimSpace(utils.AsString(attrs["featureId"]))
		}
		if featureID == "" {
			continue
		}

		street := strings.TrimSpace(utils.AsString(attrs["strname_deinr"]))
		city := strings.TrimSpace(utils.AsString(attrs["dplzname"]))
		if city == "" {
			city = strings.TrimSpace(utils.AsString(attrs["ggdename"]))
		}
		postalCode := extractPostalPrefix(attrs["plz_plz6"])
		if street == "" || postalCode == "" {
			continue
		}

		cand := reverseCandidate{
			FeatureID:  featureID,
			Street:     street,
			PostalCode: postalCode,
			City:       city,
		}
		if e, ok := utils.AsFloat(attrs["gkode"]); ok {
			cand.LV95E = &e
		}
		if n, ok := utils.AsFloat(attrs["gkodn"]); ok {
			cand.LV95N = &n
		}
		candidates = append(candidates, cand)
	}

	if len(candidates) == 0 {
		return "", nil, &ValidationError{Message: "coordinates could not be resolved to a Swiss building candidate"}
	}

	bestDistance := math.Inf(1)
	best := candidates[0]
	for _, cand := range candidates {
		distance := math.Inf(1)
		if cand.LV95E != nil && cand.LV95N != nil {
			distance = math.Hypot(*cand.LV95E-clickE, *cand.LV95N-clickN)
		}
		if distance < bestDistance {
			bestDistance = distance
			best = cand
		}
	}

	if !math.IsInf(bestDistance, 1) && bestDistance > MaxSnapDistanceM {
		return "", nil, &ValidationError{Message: fmt.Sprintf(
			"no building candidate found within %dm of the clicked coordinates", int(MaxSnapDistanceM))}
	}

	resolvedQuery := strings.TrimSpace(fmt.Sprintf("%s, %s %s", best.Street, best.PostalCode, best.City))

	var distanceM any
	if !math.IsInf(bestDistance, 1) {
		distanceM = utils.RoundTo(bestDistance, 2)
	}
	resolution := map[string]any{
		"provider":       ProviderGWR,
		"feature_id":     best.FeatureID,
		"distance_m":     distanceM,
		"resolved_query": resolvedQuery,
		"clickpoint_wgs84": map[string]any{
			"lat": utils.RoundTo(lat, 6),
			"lon": utils.RoundTo(lon, 6),
		},
	}
	return resolvedQuery, resolution, nil
}
