package server

import (
	"strings"

	"github.com/openclaw/georanking/internal/gwr"
	"github.com/openclaw/georanking/pkg/utils"
)

// Report keys that move into result.status instead of result.data.
var topLevelStatusKeys = []string{
	"confidence",
	"sources",
	"source_classification",
	"source_attribution",
	"executive_summary",
	"personalization_status",
	"capabilities_status",
	"entitlements_status",
}

// Report keys that form the entity block of the grouped payload.
var entityKeys = []string{"query", "matched_address", "ids", "coordinates", "administrative"}

// Maps source attribution groups onto the data modules they describe.
var sourceGroupModuleMap = map[string][]string{
	"match":              {"match"},
	"building_energy":    {"building", "energy"},
	"postal_consistency": {"cross_source"},
	"elevation_context":  {"cross_source"},
	"intelligence":       {"intelligence"},
}

func moduleRef(moduleKey string) string {
	return "#/result/data/modules/" + moduleKey
}

func isStatusLikeKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "status" || normalized == "source_health" || normalized == "source_meta" {
		return true
	}
	return strings.HasPrefix(normalized, "status_") || strings.HasSuffix(normalized, "_status")
}

// stripStatusFields removes status-like keys recursively from data payloads.
func stripStatusFields(payload any) any {
	switch value := payload.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, item := range value {
			if isStatusLikeKey(key) {
				continue
			}
			out[key] = stripStatusFields(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = stripStatusFields(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = stripStatusFields(item)
		}
		return out
	default:
		return value
	}
}

// buildStatusBlock lifts quality, source health and source metadata out of
// the flat report.
func buildStatusBlock(dicts *gwr.Dictionaries, report map[string]any) map[string]any {
	quality := map[string]any{}
	if confidence := report["confidence"]; confidence != nil {
		quality["confidence"] = confidence
	}
	if executive := report["executive_summary"]; executive != nil {
		quality["executive_summary"] = executive
	}

	sourceHealth := utils.AsMap(report["sources"])
	if sourceHealth == nil {
		sourceHealth = map[string]any{}
	}

	sourceMeta := map[string]any{}
	if classification := report["source_classification"]; classification != nil {
		sourceMeta["source_classification"] = classification
	}
	if attribution := report["source_attribution"]; attribution != nil {
		sourceMeta["source_attribution"] = attribution
	}
	if provenance := report["field_provenance"]; provenance != nil {
		sourceMeta["field_provenance"] = provenance
	}

	status := map[string]any{
		"quality":       quality,
		"source_health": sourceHealth,
		"source_meta":   sourceMeta,
		"dictionary":    dicts.StatusPayload(),
	}
	if personalization := utils.AsMap(report["personalization_status"]); personalization != nil {
		status["personalization"] = personalization
	}
	if capabilities := utils.AsMap(report["capabilities_status"]); len(capabilities) > 0 {
		status["capabilities"] = capabilities
	}
	if entitlements := utils.AsMap(report["entitlements_status"]); len(entitlements) > 0 {
		status["entitlements"] = entitlements
	}
	return status
}

func normalizeCodeScalar(value any) (string, bool) {
	switch v := value.(type) {
	case nil, bool:
		return "", false
	case string:
		text := strings.TrimSpace(v)
		return text, text != ""
	default:
		f, ok := utils.AsFloat(value)
		if !ok {
			return "", false
		}
		return utils.AsString(f), true
	}
}

func normalizeCodeMapping(payload any) map[string]any {
	source := utils.AsMap(payload)
	out := map[string]any{}
	for key, value := range source {
		if normalized, ok := normalizeCodeScalar(value); ok {
			out[key] = normalized
		}
	}
	return out
}

// toCodeFirstModules drops decoded label duplication from module payloads,
// leaving normalized raw codes for dictionary-based decoding on the client.
func toCodeFirstModules(modules map[string]any) map[string]any {
	if building := utils.AsMap(modules["building"]); building != nil {
		delete(building, "decoded")
		if codes := normalizeCodeMapping(building["codes"]); len(codes) > 0 {
			building["codes"] = codes
		} else {
			delete(building, "codes")
		}
	}
	if energy := utils.AsMap(modules["energy"]); energy != nil {
		rawCodes := normalizeCodeMapping(energy["raw_codes"])
		delete(energy, "raw_codes")
		merged := normalizeCodeMapping(energy["codes"])
		for key, value := range rawCodes {
			merged[key] = value
		}
		if len(merged) > 0 {
			energy["codes"] = merged
		} else {
			delete(energy, "codes")
		}
		delete(energy, "decoded_summary")
	}
	return modules
}

// compactProjectionForGroup builds the by_source slice for one attribution
// group without re-serializing full modules.
func compactProjectionForGroup(groupName string, moduleKeys []string, modules map[string]any) map[string]any {
	if len(moduleKeys) == 0 {
		return nil
	}
	refs := make([]any, 0, len(moduleKeys))
	for _, key := range moduleKeys {
		refs = append(refs, moduleRef(key))
	}

	projection := map[string]any{}
	if len(refs) == 1 {
		projection["module_ref"] = refs[0]
	} else {
		projection["module_refs"] = refs
	}

	if len(moduleKeys) == 1 {
		modulePayload := utils.AsMap(modules[moduleKeys[0]])

		if groupName == "match" && modulePayload != nil {
			if score := modulePayload["selected_score"]; score != nil {
				projection["selected_score"] = score
			}
			if count := modulePayload["candidate_count"]; count != nil {
				projection["candidate_count"] = count
			}
		}
		if groupName == "intelligence" && modulePayload != nil {
			tenants := utils.AsMap(modulePayload["tenants_businesses"])
			var compactEntities []any
			for _, entry := range utils.AsList(tenants["entities"]) {
				if name, ok := utils.AsMap(entry)["name"].(string); ok && name != "" {
					compactEntities = append(compactEntities, map[string]any{"name": name})
				}
			}
			if len(compactEntities) > 0 {
				projection["tenants_businesses"] = map[string]any{"entities": compactEntities}
			}
		}
	}
	return projection
}

func buildBySourcePayload(modules map[string]any, sourceAttribution, sourceHealth map[string]any, responseMode string) map[string]any {
	bySource := map[string]any{}
	ensure := func(name string) map[string]any {
		if entry, ok := bySource[name].(map[string]any); ok {
			return entry
		}
		entry := map[string]any{"source": name, "data": map[string]any{}}
		bySource[name] = entry
		return entry
	}

	for groupName, groupSources := range sourceAttribution {
		mapped, ok := sourceGroupModuleMap[groupName]
		if !ok {
			mapped = []string{groupName}
		}
		var moduleKeys []string
		for _, key := range mapped {
			if _, present := modules[key]; present {
				moduleKeys = append(moduleKeys, key)
			}
		}
		if len(moduleKeys) == 0 {
			continue
		}

		var groupValue any
		if responseMode == "verbose" {
			if len(moduleKeys) == 1 {
				groupValue = modules[moduleKeys[0]]
			} else {
				grouped := map[string]any{}
				for _, key := range moduleKeys {
					grouped[key] = modules[key]
				}
				groupValue = grouped
			}
		} else {
			projection := compactProjectionForGroup(groupName, moduleKeys, modules)
			if len(projection) == 0 {
				continue
			}
			groupValue = projection
		}

		for _, rawName := range utils.AsList(groupSources) {
			name, ok := rawName.(string)
			if !ok || strings.TrimSpace(name) == "" {
				continue
			}
			entry := ensure(name)
			utils.AsMap(entry["data"])[groupName] = groupValue
		}
	}

	for name := range sourceHealth {
		if strings.TrimSpace(name) != "" {
			ensure(name)
		}
	}
	return bySource
}

func (s *Server) groupedAPIResult(report map[string]any, responseMode string) map[string]any {
	return GroupedResult(s.dicts, report, responseMode)
}

// GroupedResult turns a flat report into the grouped response envelope
// {status, data: {entity, modules, by_source}}.
func GroupedResult(dicts *gwr.Dictionaries, report map[string]any, responseMode string) map[string]any {
	if responseMode != "verbose" {
		responseMode = "compact"
	}

	status := buildStatusBlock(dicts, report)

	cleaned := utils.AsMap(stripStatusFields(report))
	if cleaned == nil {
		cleaned = map[string]any{}
	}
	for _, key := range topLevelStatusKeys {
		delete(cleaned, key)
	}

	entity := map[string]any{}
	for _, key := range entityKeys {
		if value, ok := cleaned[key]; ok {
			entity[key] = value
			delete(cleaned, key)
		}
	}

	modules := toCodeFirstModules(cleaned)

	sourceMeta := utils.AsMap(status["source_meta"])
	sourceAttribution := utils.AsMap(sourceMeta["source_attribution"])
	if sourceAttribution == nil {
		sourceAttribution = map[string]any{}
	}
	sourceHealth := utils.AsMap(status["source_health"])
	if sourceHealth == nil {
		sourceHealth = map[string]any{}
	}

	return map[string]any{
		"status": status,
		"data": map[string]any{
			"entity":    entity,
			"modules":   modules,
			"by_source": buildBySourcePayload(modules, sourceAttribution, sourceHealth, responseMode),
		},
	}
}
