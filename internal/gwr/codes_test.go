package gwr

import (
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		code  any
		table map[int]string
		want  string
	}{
		{1004, GSTAT, "Bestehend"},
		{"1004", GSTAT, "Bestehend"},
		{float64(1004), GSTAT, "Bestehend"},
		{7430, GWAERZ, "Heizkessel (generisch) für ein Gebäude"},
		{7660, GWAERZ, "Wärmetauscher (inkl. Fernwärme) für ein Gebäude"},
		{7520, GENH, "Gas"},
		{7530, GENH, "Heizöl"},
		{1040, GKAT, "Gebäude mit teilweiser Wohnnutzung"},
		{3004, DWST, "Bestehend"},
		{9999, GSTAT, "Code 9999"},
		{"n/a", GSTAT, "n/a"},
		{nil, GSTAT, ""},
	}
	for _, tt := range tests {
		if got := Decode(tt.code, tt.table); got != tt.want {
			t.Errorf("Decode(%v) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestSummarizeBuilding(t *testing.T) {
	attrs := map[string]any{
		"gstat":    float64(1004),
		"gkat":     float64(1020),
		"gklas":    float64(1122),
		"gbauj":    float64(1987),
		"gastw":    float64(5),
		"garea":    float64(420),
		"gwaerzh1": float64(7410),
		"genh1":    float64(7501),
		"gwaerzw1": float64(7650),
		"genw1":    float64(7560),
	}
	s := SummarizeBuilding(attrs)
	if s["status"] != "Bestehend" {
		t.Errorf("status = %v", s["status"])
	}
	heizung, ok := s["heizung"].([]string)
	if !ok || len(heizung) != 1 {
		t.Fatalf("heizung = %v", s["heizung"])
	}
	if !strings.Contains(heizung[0], "Wärmepumpe") || !strings.Contains(heizung[0], "Luft") {
		t.Errorf("heizung[0] = %q", heizung[0])
	}
	warmwasser, ok := s["warmwasser"].([]string)
	if !ok || len(warmwasser) != 1 {
		t.Fatalf("warmwasser = %v", s["warmwasser"])
	}
	if !strings.Contains(warmwasser[0], "Elektroboiler") {
		t.Errorf("warmwasser[0] = %q", warmwasser[0])
	}
}

func TestSummarizeBuildingSkipsNoneSentinels(t *testing.T) {
	s := SummarizeBuilding(map[string]any{
		"gwaerzh1": float64(7400),
		"gwaerzw1": float64(7600),
	})
	if s["heizung"] != nil {
		t.Errorf("heizung should be nil for sentinel 7400, got %v", s["heizung"])
	}
	if s["warmwasser"] != nil {
		t.Errorf("warmwasser should be nil for sentinel 7600, got %v", s["warmwasser"])
	}
}

func TestBuildDictionaries(t *testing.T) {
	d := BuildDictionaries("2026-02-27")

	building := d.Domain("building")
	if building == nil {
		t.Fatal("missing building domain")
	}
	if building["version"] != "gwr-building-v1" {
		t.Errorf("building version = %v", building["version"])
	}
	tables := building["tables"].(map[string]any)
	gstatTable := tables["gstat"].(map[string]string)
	if gstatTable["1004"] != "Bestehend" {
		t.Errorf("gstat[1004] = %q", gstatTable["1004"])
	}

	heating := d.Domain("heating")
	if heating == nil || heating["version"] != "gwr-heating-v1" {
		t.Fatalf("heating domain wrong: %v", heating)
	}

	if d.Domain("nonexistent") != nil {
		t.Error("unknown domain must return nil")
	}

	etag, _ := building["etag"].(string)
	if !strings.HasPrefix(etag, `"dict-building-`) || !strings.HasSuffix(etag, `"`) {
		t.Errorf("etag format: %q", etag)
	}

	// Same content must yield the same tag.
	again := BuildDictionaries("2026-02-27")
	if again.Domain("building")["etag"] != etag {
		t.Error("etag not stable across builds")
	}
	if BuildDictionaries("other").Index["version"] == d.Index["version"] {
		t.Error("index version must follow global version")
	}
}

func TestBuildDictionariesIndex(t *testing.T) {
	d := BuildDictionaries("2026-02-27")
	domains := d.Index["domains"].(map[string]any)
	entry := domains["heating"].(map[string]any)
	if entry["path"] != "/api/v1/dictionaries/heating" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["etag"] != d.Domain("heating")["etag"] {
		t.Error("index etag must match domain etag")
	}
	status := d.StatusPayload()
	if status["etag"] != d.Index["etag"] || status["version"] != "2026-02-27" {
		t.Errorf("status payload wrong: %v", status)
	}
}

func TestIfNoneMatchMatches(t *testing.T) {
	current := `"dict-index-abcdef0123456789"`
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{current, true},
		{`W/` + current, true},
		{`w/ ` + current, true},
		{"*", true},
		{`"other", ` + current, true},
		{`"other"`, false},
		{" , ", false},
	}
	for _, tt := range tests {
		if got := IfNoneMatchMatches(tt.header, current); got != tt.want {
			t.Errorf("IfNoneMatchMatches(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
