package utils

import (
	"reflect"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Zürich", "zurich"},
		{"  Bahnhofstrasse   1 ", "bahnhofstrasse 1"},
		{"Genève", "geneve"},
		{"ABC", "abc"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML("<b>Bahnhofstrasse 1</b> <i>8001 Zürich</i>")
	want := "Bahnhofstrasse 1 8001 Zürich"
	if got != want {
		t.Errorf("StripHTML = %q, want %q", got, want)
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("Bahnhofstrasse 1, 8001 Zürich")
	want := []string{"bahnhofstrasse", "1", "8001", "zurich"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(120, 0, 100); got != 100 {
		t.Errorf("Clamp high = %v", got)
	}
	if got := Clamp(-5, 0, 100); got != 0 {
		t.Errorf("Clamp low = %v", got)
	}
	if got := Clamp(40, 0, 100); got != 40 {
		t.Errorf("Clamp mid = %v", got)
	}
}

func TestHaversineMeters(t *testing.T) {
	// Zurich HB to Bern, roughly 95km.
	d := HaversineMeters(47.3779, 8.5403, 46.9480, 7.4474)
	if d < 90000 || d > 100000 {
		t.Errorf("HaversineMeters = %v, want ~95000", d)
	}
	if d := HaversineMeters(47.0, 8.0, 47.0, 8.0); d != 0 {
		t.Errorf("zero distance = %v", d)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 3); got != "hel..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("hi", 10); got != "hi" {
		t.Errorf("Truncate short = %q", got)
	}
}
