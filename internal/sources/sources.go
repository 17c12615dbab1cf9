// Package sources tracks which upstream data providers participated in a
// request and how reliable each one was.
package sources

import "sync"

// Authority tiers in descending trust order.
var PolicyOrder = []string{"official", "licensed", "community", "web", "local_mapping", "unknown"}

// PolicyRank maps an authority name to its index in PolicyOrder. Unknown
// authorities rank last.
var PolicyRank = func() map[string]int {
	m := make(map[string]int, len(PolicyOrder))
	for i, name := range PolicyOrder {
		m[name] = i
	}
	return m
}()

// RankOf returns the policy rank of an authority name.
func RankOf(authority string) int {
	if r, ok := PolicyRank[authority]; ok {
		return r
	}
	return len(PolicyOrder) - 1
}

// CatalogEntry describes a known provider.
type CatalogEntry struct {
	Tier      string `json:"tier"`
	Authority string `json:"authority"`
	Purpose   string `json:"purpose"`
}

// Catalog lists every provider the service can consult.
var Catalog = map[string]CatalogEntry{
	"geoadmin_search":          {Tier: "core", Authority: "official", Purpose: "candidate_search"},
	"geoadmin_search_fallback": {Tier: "fallback", Authority: "official", Purpose: "candidate_search"},
	"geoadmin_address":         {Tier: "core", Authority: "official", Purpose: "address_registry"},
	"geoadmin_gwr":             {Tier: "core", Authority: "official", Purpose: "building_registry"},
	"bfs_heating_layer":        {Tier: "enrichment", Authority: "official", Purpose: "heating_clarification"},
	"plz_layer_identify":       {Tier: "crosscheck", Authority: "official", Purpose: "postal_consistency"},
	"swissboundaries_identify": {Tier: "crosscheck", Authority: "official", Purpose: "admin_consistency"},
	"swisstopo_height":         {Tier: "enrichment", Authority: "official", Purpose: "elevation_context"},
	"osm_reverse":              {Tier: "crosscheck", Authority: "community", Purpose: "external_consistency"},
	"osm_poi_overpass":         {Tier: "intelligence", Authority: "community", Purpose: "poi_tenant_noise_signals"},
	"google_news_rss":          {Tier: "intelligence", Authority: "web", Purpose: "incident_hints"},
	"gwr_codes":                {Tier: "local", Authority: "local_mapping", Purpose: "code_decoding"},
}

// Required providers for a full-confidence resolution.
var Required = []string{"geoadmin_search", "geoadmin_gwr", "geoadmin_address"}

// Info is the per-request health record of one provider.
type Info struct {
	Status    string `json:"status"` // ok|partial|error|disabled|not_used
	Optional  bool   `json:"optional"`
	Attempts  int    `json:"attempts"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
	Records   int    `json:"records"`
	LastError string `json:"last_error,omitempty"`
	LastURL   string `json:"last_url,omitempty"`
}

// Registry accumulates provider health for one request. Safe for concurrent
// use by enrichment goroutines.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Info
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Info)}
}

func (r *Registry) get(name string) *Info {
	info, ok := r.entries[name]
	if !ok {
		info = &Info{Status: "not_used"}
		r.entries[name] = info
	}
	return info
}

// Disable marks a provider as intentionally skipped for this request.
func (r *Registry) Disable(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.get(name)
	info.Status = "disabled"
	info.LastError = reason
}

// NoteSuccess records a successful provider call.
func (r *Registry) NoteSuccess(name, url string, records int, optional bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.get(name)
	info.Optional = optional
	info.Attempts++
	info.Successes++
	if records > 0 {
		info.Records += records
	}
	info.LastURL = url
	info.LastError = ""
	if info.Failures == 0 {
		info.Status = "ok"
	} else {
		info.Status = "partial"
	}
}

// NoteError records a failed provider call.
func (r *Registry) NoteError(name, url, errMessage string, optional bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.get(name)
	info.Optional = optional
	info.Attempts++
	info.Failures++
	info.LastURL = url
	info.LastError = errMessage
	if info.Successes == 0 {
		info.Status = "error"
	} else {
		info.Status = "partial"
	}
}

// Snapshot returns a copy of all provider records.
func (r *Registry) Snapshot() map[string]Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Info, len(r.entries))
	for name, info := range r.entries {
		out[name] = *info
	}
	return out
}

// AsDict renders the registry for report payloads.
func (r *Registry) AsDict() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.entries))
	for name, info := range r.entries {
		entry := map[string]any{
			"status":     info.Status,
			"optional":   info.Optional,
			"attempts":   info.Attempts,
			"successes":  info.Successes,
			"failures":   info.Failures,
			"records":    info.Records,
			"last_error": nilIfEmpty(info.LastError),
			"last_url":   nilIfEmpty(info.LastURL),
		}
		out[name] = entry
	}
	return out
}

// RequiredSuccessRatio is the fraction of required providers that produced
// at least one successful call.
func (r *Registry) RequiredSuccessRatio(requiredNames []string) float64 {
	if len(requiredNames) == 0 {
		return 1.0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ok := 0
	for _, name := range requiredNames {
		if info, found := r.entries[name]; found && info.Successes > 0 {
			ok++
		}
	}
	return float64(ok) / float64(len(requiredNames))
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
