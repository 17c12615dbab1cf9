package gwr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DictionaryCacheControl is the caching policy served with every dictionary
// response.
const DictionaryCacheControl = "public, max-age=86400, stale-while-revalidate=3600"

var dictionaryDomainVersions = map[string]string{
	"building": "gwr-building-v1",
	"heating":  "gwr-heating-v1",
}

var dictionaryDomainTables = map[string]map[string]map[int]string{
	"building": {
		"gklas": GKLAS,
		"gkat":  GKAT,
		"gstat": GSTAT,
		"dwst":  DWST,
	},
	"heating": {
		"gwaerzh": GWAERZH,
		"gwaerzw": GWAERZW,
		"genh":    GENH,
	},
}

// Dictionaries holds the precomputed index and per-domain payloads together
// with their strong ETags.
type Dictionaries struct {
	Index   map[string]any
	Domains map[string]map[string]any
}

// BuildDictionaries computes dictionary payloads for the given global
// version. ETags are stable across processes for identical content.
func BuildDictionaries(globalVersion string) *Dictionaries {
	domainNames := make([]string, 0, len(dictionaryDomainTables))
	for name := range dictionaryDomainTables {
		domainNames = append(domainNames, name)
	}
	sort.Strings(domainNames)

	index := map[string]any{}
	domains := map[string]any{}
	domainPayloads := map[string]map[string]any{}

	for _, domain := range domainNames {
		version := dictionaryDomainVersions[domain]
		tables := map[string]any{}
		for tableName, table := range dictionaryDomainTables[domain] {
			tables[tableName] = normalizeDictionaryTable(table)
		}
		payload := map[string]any{
			"domain":  domain,
			"version": version,
			"tables":  tables,
		}
		payload["etag"] = StableETag(map[string]any{
			"domain":  domain,
			"version": version,
			"tables":  tables,
		}, "dict-"+domain)
		domainPayloads[domain] = payload

		domains[domain] = map[string]any{
			"version": version,
			"etag":    payload["etag"],
			"path":    "/api/v1/dictionaries/" + domain,
		}
	}

	index["version"] = globalVersion
	index["domains"] = domains
	index["etag"] = StableETag(map[string]any{
		"version": globalVersion,
		"domains": domains,
	}, "dict-index")

	return &Dictionaries{Index: index, Domains: domainPayloads}
}

// Domain returns the payload for a dictionary domain, or nil.
func (d *Dictionaries) Domain(name string) map[string]any {
	return d.Domains[name]
}

// StatusPayload is the additive dictionary envelope embedded in analyze
// responses.
func (d *Dictionaries) StatusPayload() map[string]any {
	return map[string]any{
		"version": d.Index["version"],
		"etag":    d.Index["etag"],
		"domains": d.Index["domains"],
	}
}

func normalizeDictionaryTable(table map[int]string) map[string]string {
	out := make(map[string]string, len(table))
	for code, label := range table {
		out[strconv.Itoa(code)] = label
	}
	return out
}

// StableETag computes a strong ETag over the canonical JSON serialization of
// payload (sorted keys, compact separators).
func StableETag(payload map[string]any, prefix string) string {
	serialized := canonicalJSON(payload)
	sum := sha256.Sum256(serialized)
	return fmt.Sprintf("%q", prefix+"-"+hex.EncodeToString(sum[:])[:16])
}

// canonicalJSON serializes with deterministic key order at every nesting
// level, matching compact separators.
func canonicalJSON(value any) []byte {
	var b strings.Builder
	writeCanonical(&b, value)
	return []byte(b.String())
}

func writeCanonical(b *strings.Builder, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteByte(':')
			writeCanonical(b, v[k])
		}
		b.WriteByte('}')
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteByte(':')
			writeCanonical(b, v[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(raw)
	}
}

func normalizeETagForCompare(tag string) string {
	value := strings.TrimSpace(tag)
	if len(value) >= 2 && strings.EqualFold(value[:2], "w/") {
		value = strings.TrimSpace(value[2:])
	}
	return value
}

// IfNoneMatchMatches implements conditional-request matching for dictionary
// responses: weak comparison, comma lists, and the "*" wildcard.
func IfNoneMatchMatches(headerValue, currentETag string) bool {
	if strings.TrimSpace(headerValue) == "" {
		return false
	}
	current := normalizeETagForCompare(currentETag)
	for _, part := range strings.Split(headerValue, ",") {
		candidate := strings.TrimSpace(part)
		if candidate == "" {
			continue
		}
		if candidate == "*" {
			return true
		}
		if normalizeETagForCompare(candidate) == current {
			return true
		}
	}
	return false
}
