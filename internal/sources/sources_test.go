package sources

import "testing"

func TestStatusTransitions(t *testing.T) {
	r := NewRegistry()

	r.NoteSuccess("geoadmin_search", "https://api3.geo.admin.ch/rest/services/api/SearchServer", 3, false)
	if got := r.Snapshot()["geoadmin_search"].Status; got != "ok" {
		t.Errorf("status after success = %q, want ok", got)
	}

	r.NoteError("geoadmin_search", "https://api3.geo.admin.ch/rest/services/api/SearchServer", "http status 503", false)
	if got := r.Snapshot()["geoadmin_search"].Status; got != "partial" {
		t.Errorf("status after mixed outcomes = %q, want partial", got)
	}

	r.NoteError("osm_reverse", "https://nominatim.openstreetmap.org/reverse", "timeout", true)
	info := r.Snapshot()["osm_reverse"]
	if info.Status != "error" {
		t.Errorf("status after only failures = %q, want error", info.Status)
	}
	if !info.Optional {
		t.Error("optional flag lost")
	}

	r.Disable("google_news_rss", "mode=basic")
	if got := r.Snapshot()["google_news_rss"].Status; got != "disabled" {
		t.Errorf("status after disable = %q, want disabled", got)
	}
}

func TestPartialRecoversFromError(t *testing.T) {
	r := NewRegistry()
	r.NoteError("geoadmin_gwr", "u1", "boom", false)
	r.NoteSuccess("geoadmin_gwr", "u2", 1, false)
	info := r.Snapshot()["geoadmin_gwr"]
	if info.Status != "partial" {
		t.Errorf("status = %q, want partial", info.Status)
	}
	if info.Attempts != 2 || info.Successes != 1 || info.Failures != 1 {
		t.Errorf("unexpected counters: %+v", info)
	}
	if info.LastError != "" {
		t.Errorf("last_error should clear on success, got %q", info.LastError)
	}
}

func TestRequiredSuccessRatio(t *testing.T) {
	r := NewRegistry()
	if got := r.RequiredSuccessRatio(nil); got != 1.0 {
		t.Errorf("empty required ratio = %v, want 1.0", got)
	}
	r.NoteSuccess("geoadmin_search", "u", 5, false)
	r.NoteSuccess("geoadmin_gwr", "u", 1, false)
	r.NoteError("geoadmin_address", "u", "http status 500", false)
	got := r.RequiredSuccessRatio(Required)
	want := 2.0 / 3.0
	if got < want-1e-9 || got > want+1e-9 {
		t.Errorf("ratio = %v, want %v", got, want)
	}
}

func TestAsDictShape(t *testing.T) {
	r := NewRegistry()
	r.NoteSuccess("swisstopo_height", "https://api3.geo.admin.ch/rest/services/height", 1, true)
	d := r.AsDict()
	entry, ok := d["swisstopo_height"].(map[string]any)
	if !ok {
		t.Fatalf("missing entry: %v", d)
	}
	if entry["status"] != "ok" || entry["records"] != 1 {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["last_error"] != nil {
		t.Errorf("last_error should be nil, got %v", entry["last_error"])
	}
}

func TestPolicyRank(t *testing.T) {
	if RankOf("official") != 0 {
		t.Error("official must rank first")
	}
	if RankOf("web") >= RankOf("local_mapping") {
		t.Error("web must rank above local_mapping")
	}
	if RankOf("nonsense") != len(PolicyOrder)-1 {
		t.Error("unknown authority must rank last")
	}
}

func TestCatalogCoversRequired(t *testing.T) {
	for _, name := range Required {
		if _, ok := Catalog[name]; !ok {
			t.Errorf("required source %q missing from catalog", name)
		}
	}
}
