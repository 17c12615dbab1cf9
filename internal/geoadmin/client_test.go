package geoadmin

import (
	"net/url"
	"strings"
	"testing"
)

func TestSearchURL(t *testing.T) {
	raw := SearchURL("Bahnhofstrasse 12 8001", 8, "address")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("searchText") != "Bahnhofstrasse 12 8001" {
		t.Errorf("searchText = %q", q.Get("searchText"))
	}
	if q.Get("type") != "locations" || q.Get("lang") != "de" {
		t.Errorf("unexpected params: %v", q)
	}
	if q.Get("limit") != "8" || q.Get("origins") != "address" {
		t.Errorf("limit/origins: %v", q)
	}
}

func TestSearchURLClampsLimit(t *testing.T) {
	for _, tt := range []struct {
		limit int
		want  string
	}{
		{0, "1"},
		{-3, "1"},
		{50, "50"},
		{999, "50"},
	} {
		u, _ := url.Parse(SearchURL("x", tt.limit, ""))
		if got := u.Query().Get("limit"); got != tt.want {
			t.Errorf("limit %d -> %q, want %q", tt.limit, got, tt.want)
		}
	}
}

func TestSearchURLOmitsEmptyOrigins(t *testing.T) {
	u, _ := url.Parse(SearchURL("x", 5, ""))
	if _, present := u.Query()["origins"]; present {
		t.Error("origins must be omitted when empty")
	}
}

func TestIdentifyParams(t *testing.T) {
	params := identifyParams(2683432.5, 1247931.25, LayerPLZ)
	if got := params.Get("layers"); got != "all:"+LayerPLZ {
		t.Errorf("layers = %q", got)
	}
	if params.Get("sr") != "2056" {
		t.Errorf("sr = %q", params.Get("sr"))
	}
	extent := params.Get("mapExtent")
	if !strings.Contains(extent, "2683232.5") || !strings.Contains(extent, "1248131.25") {
		t.Errorf("mapExtent margin wrong: %q", extent)
	}
}

func TestMathCosFloor(t *testing.T) {
	if got := mathCos(47.0); got < 0.6 || got > 0.72 {
		t.Errorf("cos(47°) = %v", got)
	}
	if got := mathCos(89.9); got != 0.2 {
		t.Errorf("near-pole cosine must floor at 0.2, got %v", got)
	}
}
