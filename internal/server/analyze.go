package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openclaw/georanking/internal/httpclient"
	"github.com/openclaw/georanking/internal/resolver"
	"github.com/openclaw/georanking/internal/scoring"
	"github.com/openclaw/georanking/pkg/utils"
)

var supportedIntelligenceModes = map[string]bool{
	"basic":    true,
	"extended": true,
	"risk":     true,
}

var responseModes = map[string]bool{
	"compact": true,
	"verbose": true,
}

// badRequestError marks caller input problems so the analyze error taxonomy
// can answer 400 instead of 500.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func analyzeErrorStatus(err error) (int, string) {
	var noMatch *resolver.NoMatchError
	var external *httpclient.ExternalRequestError
	var resolverInvalid *resolver.ValidationError
	var scoringInvalid *scoring.ValidationError
	var badReq *badRequestError
	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &noMatch), errors.As(err, &external):
		return http.StatusUnprocessableEntity, "address_intel"
	case errors.As(err, &resolverInvalid), errors.As(err, &scoringInvalid),
		errors.As(err, &badReq), errors.As(err, &jsonSyntax), errors.As(err, &jsonType):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeAnalyzeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := analyzeErrorStatus(err)
	s.writeError(w, r, status, code, err.Error())
}

func positiveFiniteNumber(value any, fieldName string) (float64, error) {
	parsed, ok := utils.AsFloat(value)
	if !ok || !finiteNumber(parsed) || parsed <= 0 {
		return 0, badRequestf("%s must be a finite number > 0", fieldName)
	}
	return parsed, nil
}

func finiteNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// decodeJSONBody parses the request body as a UTF-8 JSON object. An empty
// body yields an empty object only when allowEmpty is set.
func decodeJSONBody(r *http.Request, allowEmpty bool) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, badRequestf("failed to read request body")
	}
	if len(raw) == 0 {
		if allowEmpty {
			return map[string]any{}, nil
		}
		return nil, badRequestf("empty body")
	}
	if !utf8.Valid(raw) {
		return nil, badRequestf("body must be valid utf-8 json")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, badRequestf("%s", err.Error())
	}
	data, ok := decoded.(map[string]any)
	if !ok {
		return nil, badRequestf("json body must be an object")
	}
	return data, nil
}

// extractRequestOptions reads the optional additive options envelope.
// Unknown keys are tolerated for forward compatibility.
func extractRequestOptions(data map[string]any) (map[string]any, error) {
	raw, present := data["options"]
	if !present || raw == nil {
		return map[string]any{}, nil
	}
	options, ok := raw.(map[string]any)
	if !ok {
		return nil, badRequestf("options must be an object when provided")
	}
	return options, nil
}

func rejectLegacyOptions(options map[string]any) error {
	if _, present := options["include_labels"]; present {
		return badRequestf("options.include_labels is no longer supported; use code-first responses via result.status.dictionary")
	}
	return nil
}

func extractResponseMode(options map[string]any) (string, error) {
	raw, present := options["response_mode"]
	if !present {
		return "compact", nil
	}
	text, ok := raw.(string)
	if !ok {
		return "", badRequestf("options.response_mode must be a string when provided")
	}
	mode := strings.ToLower(strings.TrimSpace(text))
	if mode == "" {
		mode = "compact"
	}
	if !responseModes[mode] {
		return "", badRequestf("options.response_mode must be one of ['compact', 'verbose']")
	}
	return mode, nil
}

func extractAsyncModeRequest(options map[string]any) (bool, error) {
	raw, present := options["async_mode"]
	if !present || raw == nil {
		return false, nil
	}
	asyncMode, ok := raw.(map[string]any)
	if !ok {
		return false, badRequestf("options.async_mode must be an object when provided")
	}
	requested, present := asyncMode["requested"]
	if !present {
		return false, nil
	}
	flag, ok := requested.(bool)
	if !ok {
		return false, badRequestf("options.async_mode.requested must be a boolean")
	}
	return flag, nil
}

// extractQueryAndCoordinateContext resolves the request input. A non-empty
// query wins; otherwise coordinates are validated, snapped into the Swiss
// coverage bounds, and reverse-resolved to an address query.
func (s *Server) extractQueryAndCoordinateContext(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	query := strings.TrimSpace(utils.AsString(data["query"]))
	if query != "" {
		return query, nil, nil
	}

	rawCoordinates, present := data["coordinates"]
	if !present || rawCoordinates == nil {
		return "", nil, badRequestf("query is required")
	}
	coordinates, ok := rawCoordinates.(map[string]any)
	if !ok {
		return "", nil, badRequestf("coordinates must be an object when provided")
	}

	rawLat := coordinates["lat"]
	rawLon := coordinates["lon"]
	if rawLon == nil {
		rawLon = coordinates["lng"]
	}
	if rawLon == nil {
		rawLon = coordinates["longitude"]
	}
	if rawLat == nil || rawLon == nil {
		return "", nil, badRequestf("coordinates.lat and coordinates.lon are required when query is missing")
	}

	lat, ok := utils.AsFloat(rawLat)
	if !ok {
		return "", nil, badRequestf("coordinates.lat must be a finite number")
	}
	lon, ok := utils.AsFloat(rawLon)
	if !ok {
		return "", nil, badRequestf("coordinates.lon must be a finite number")
	}

	snapMode, err := resolver.NormalizeSnapMode(coordinates["snap_mode"])
	if err != nil {
		return "", nil, err
	}
	lat, lon, snapApplied, err := resolver.SnapCoordinates(lat, lon, snapMode)
	if err != nil {
		return "", nil, err
	}

	if s.resolveCoords == nil {
		return "", nil, errors.New("coordinate resolution is not configured")
	}
	resolvedQuery, resolution, err := s.resolveCoords(ctx, lat, lon)
	if err != nil {
		return "", nil, err
	}

	coordinateContext := map[string]any{
		"input_mode":         "coordinates",
		"snap_mode":          snapMode,
		"snap_applied":       snapApplied,
		"snap_tolerance_deg": resolver.SnapToleranceDeg,
		"resolved":           resolution,
	}
	return resolvedQuery, coordinateContext, nil
}

func attachCoordinateResolutionContext(report, coordinateContext map[string]any) {
	if len(coordinateContext) == 0 {
		return
	}
	matchBlock := utils.AsMap(report["match"])
	if matchBlock == nil {
		matchBlock = map[string]any{}
		report["match"] = matchBlock
	}
	resolution := utils.AsMap(matchBlock["resolution"])
	if resolution == nil {
		resolution = map[string]any{}
		matchBlock["resolution"] = resolution
	}
	resolution["input_mode"] = "coordinates"
	resolution["coordinate_input"] = coordinateContext
}

// faultStubReport is the deterministic report behind the __ok__ fault
// injection query. It exercises the full grouped envelope without any
// upstream calls.
func faultStubReport(query string) map[string]any {
	return map[string]any{
		"query":           query,
		"matched_address": query,
		"ids":             map[string]any{},
		"coordinates":     map[string]any{},
		"administrative":  map[string]any{},
		"match":           map[string]any{"mode": "e2e_stub"},
		"building": map[string]any{
			"codes": map[string]any{"gstat": 1004, "gkat": 1020},
			"decoded": map[string]any{
				"status":    "Bestehend",
				"kategorie": "Wohngebäude",
			},
		},
		"energy": map[string]any{
			"raw_codes":       map[string]any{"gwaerzh1": 7410, "genh1": 7501},
			"decoded_summary": map[string]any{"heizung": []any{"Wärmepumpe (Luft)"}},
		},
		"suitability_light": map[string]any{
			"status":             "ok",
			"heuristic_version":  "e2e-stub-v1",
			"score":              80,
			"traffic_light":      "green",
			"classification":     "geeignet",
			"base_score":         80.1,
			"personalized_score": 80.1,
			"factors": []any{
				map[string]any{"key": "topography", "score": 82.0, "weight": 0.34},
				map[string]any{"key": "access", "score": 76.0, "weight": 0.29},
				map[string]any{"key": "building_state", "score": 74.0, "weight": 0.17},
				map[string]any{"key": "data_quality", "score": 88.0, "weight": 0.20},
			},
		},
		"summary_compact": map[string]any{
			"suitability_light": map[string]any{
				"status":             "ok",
				"score":              80,
				"traffic_light":      "green",
				"classification":     "geeignet",
				"base_score":         80.1,
				"personalized_score": 80.1,
			},
		},
		"sources": map[string]any{"e2e_fault_injection": map[string]any{"status": "ok"}},
		"source_classification": map[string]any{
			"e2e_fault_injection": map[string]any{
				"source":    "e2e_fault_injection",
				"authority": "internal",
				"present":   true,
			},
		},
		"source_attribution": map[string]any{"match": []any{"e2e_fault_injection"}},
		"confidence":         map[string]any{"score": 100, "max": 100, "level": "high"},
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	corsHeaders := s.corsHeadersFor(r, corsAllowMethodsAnalyze, false)
	if corsHeaders == nil {
		s.writeError(w, r, http.StatusForbidden, "cors_origin_not_allowed", "")
		return
	}
	scope.corsHeaders = corsHeaders

	if required := strings.TrimSpace(s.cfg.Server.AuthToken); required != "" {
		if extractBearerToken(r.Header.Get("Authorization")) != required {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
			return
		}
	}

	data, err := decodeJSONBody(r, false)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}

	query, coordinateContext, err := s.extractQueryAndCoordinateContext(r.Context(), data)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}

	mode := strings.ToLower(strings.TrimSpace(utils.AsString(data["intelligence_mode"])))
	if mode == "" {
		mode = "basic"
	}
	if !supportedIntelligenceModes[mode] {
		s.writeAnalyzeError(w, r, badRequestf("intelligence_mode must be one of ['basic', 'extended', 'risk']"))
		return
	}

	options, err := extractRequestOptions(data)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}
	if err := rejectLegacyOptions(options); err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}
	responseMode, err := extractResponseMode(options)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}
	asyncRequested, err := extractAsyncModeRequest(options)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}

	preferencesSupplied := data["preferences"] != nil
	preferences, err := scoring.ExtractPreferences(data["preferences"])
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}

	timeoutSeconds := s.cfg.Analyze.DefaultTimeoutSeconds
	if raw, present := data["timeout_seconds"]; present {
		timeoutSeconds, err = positiveFiniteNumber(raw, "timeout_seconds")
		if err != nil {
			s.writeAnalyzeError(w, r, err)
			return
		}
	}
	if timeoutSeconds > s.cfg.Analyze.MaxTimeoutSeconds {
		timeoutSeconds = s.cfg.Analyze.MaxTimeoutSeconds
	}
	timeout := time.Duration(timeoutSeconds * float64(time.Second))

	if asyncRequested {
		s.runtime.Start()
		job, err := s.store.CreateJob(data, scope.requestID, query, mode, "")
		if err != nil {
			s.writeAnalyzeError(w, r, err)
			return
		}
		s.runtime.Enqueue(job.JobID)
		s.writeJSON(w, r, http.StatusAccepted, map[string]any{
			"ok":         true,
			"accepted":   true,
			"job":        s.projectJobStatus(job, true),
			"request_id": scope.requestID,
		}, map[string]string{"Cache-Control": "no-store"})
		return
	}

	if s.cfg.Server.FaultInjection {
		switch query {
		case "__timeout__":
			s.writeError(w, r, http.StatusGatewayTimeout, "timeout", "forced timeout for e2e")
			return
		case "__internal__":
			s.writeError(w, r, http.StatusInternalServerError, "internal", "forced internal error for e2e")
			return
		case "__address_intel__":
			s.writeError(w, r, http.StatusUnprocessableEntity, "address_intel", "forced address intel error for e2e")
			return
		case "__ok__":
			stub := faultStubReport(query)
			scoring.ApplyPersonalizedSuitability(stub, preferences, preferencesSupplied)
			if err := s.applyDeepModeRuntime(scope, stub, options, mode, timeout); err != nil {
				s.writeAnalyzeError(w, r, err)
				return
			}
			s.writeJSON(w, r, http.StatusOK, map[string]any{
				"ok":         true,
				"result":     s.groupedAPIResult(stub, responseMode),
				"request_id": scope.requestID,
			}, nil)
			return
		}
	}

	if s.analyze == nil {
		s.writeError(w, r, http.StatusInternalServerError, "internal", "analyze pipeline is not configured")
		return
	}
	report, err := s.analyze(r.Context(), query, mode, timeout, scope.requestID, scope.sessionID)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}

	scoring.ApplyPersonalizedSuitability(report, preferences, preferencesSupplied)
	if coordinateContext != nil {
		attachCoordinateResolutionContext(report, coordinateContext)
	}
	if err := s.applyDeepModeRuntime(scope, report, options, mode, timeout); err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"ok":         true,
		"result":     s.groupedAPIResult(report, responseMode),
		"request_id": scope.requestID,
	}, nil)
}
