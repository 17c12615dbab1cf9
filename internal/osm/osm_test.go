package osm

import (
	"strings"
	"testing"
)

func TestOverpassQuery(t *testing.T) {
	q := OverpassQuery(47.376888, 8.541694, 190)
	if !strings.HasPrefix(q, "[out:json][timeout:25];(") {
		t.Errorf("query prologue wrong: %q", q)
	}
	if !strings.HasSuffix(q, ");out body center;") {
		t.Errorf("query epilogue wrong: %q", q)
	}
	if !strings.Contains(q, "node(around:190,47.376888,8.541694)[name][shop];") {
		t.Errorf("node clause missing: %q", q)
	}
	if !strings.Contains(q, "relation(around:190,47.376888,8.541694)[name][amenity];") {
		t.Errorf("relation clause missing: %q", q)
	}
	if strings.Count(q, "(around:") != 10 {
		t.Errorf("expected 10 union clauses, got %d", strings.Count(q, "(around:"))
	}
}

func TestParseElements(t *testing.T) {
	elements := []any{
		map[string]any{
			"type": "node",
			"lat":  47.3771,
			"lon":  8.5418,
			"tags": map[string]any{
				"name":             "Bäckerei Vollkorn",
				"shop":             "bakery",
				"addr:street":      "Bahnhofstrasse",
				"addr:housenumber": "14",
			},
		},
		map[string]any{
			"type":   "way",
			"center": map[string]any{"lat": 47.3780, "lon": 8.5430},
			"tags":   map[string]any{"name": "Fitnesscenter", "leisure": "fitness_centre"},
		},
		// untagged element is skipped
		map[string]any{"type": "node", "lat": 47.0, "lon": 8.0},
		// tagged but uncategorised element is skipped
		map[string]any{
			"type": "node", "lat": 47.0, "lon": 8.0,
			"tags": map[string]any{"name": "Nur Name"},
		},
		// element without coordinates is skipped
		map[string]any{"tags": map[string]any{"name": "X", "shop": "kiosk"}},
	}

	pois := ParseElements(elements, 47.376888, 8.541694)
	if len(pois) != 2 {
		t.Fatalf("expected 2 POIs, got %d", len(pois))
	}
	if pois[0].Name != "Bäckerei Vollkorn" || pois[0].Category != "shop" || pois[0].Subcategory != "bakery" {
		t.Errorf("first poi wrong: %+v", pois[0])
	}
	if pois[0].AddressHint != "Bahnhofstrasse, 14" {
		t.Errorf("address hint = %q", pois[0].AddressHint)
	}
	if pois[0].DistanceM >= pois[1].DistanceM {
		t.Error("POIs must be sorted by distance")
	}
	if pois[0].DistanceM <= 0 || pois[0].DistanceM > 100 {
		t.Errorf("implausible distance: %v", pois[0].DistanceM)
	}
}

func TestParseElementsCategoryPriority(t *testing.T) {
	pois := ParseElements([]any{
		map[string]any{
			"lat": 47.0, "lon": 8.0,
			"tags": map[string]any{"name": "Mixed", "amenity": "cafe", "shop": "coffee"},
		},
	}, 47.0, 8.0)
	if len(pois) != 1 {
		t.Fatalf("expected 1 POI, got %d", len(pois))
	}
	// shop ranks before amenity in the category key order
	if pois[0].Category != "shop" || pois[0].Subcategory != "coffee" {
		t.Errorf("category priority wrong: %+v", pois[0])
	}
}
