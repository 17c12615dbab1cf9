package server

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/georanking/pkg/utils"
)

// Deep-mode runs an extended analysis pass when the client is capable and
// entitled and enough of the request timeout budget remains after the
// baseline pipeline reservation.

var deepProfiles = map[string]bool{
	"analysis_plus": true,
	"risk_plus":     true,
}

type deepModeRequest struct {
	Requested       bool
	Allowed         bool
	Profile         string
	MaxBudgetTokens *int
	QuotaRemaining  *int
}

type deepModeBudget struct {
	TotalRequestBudgetMS  int
	BaselineReservedMS    int
	SafetyMarginMS        int
	DeepBudgetMS          int
	MinBudgetMS           int
	BudgetTokensEffective int
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func envRatio(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || value < 0 || value > 1 {
		return fallback
	}
	return value
}

func asNonNegativeInt(value any, fieldName string) (*int, error) {
	if value == nil {
		return nil, nil
	}
	if _, isBool := value.(bool); isBool {
		return nil, badRequestf("%s must be an integer >= 0", fieldName)
	}
	f, ok := utils.AsFloat(value)
	if !ok || f != math.Trunc(f) || f < 0 {
		return nil, badRequestf("%s must be an integer >= 0", fieldName)
	}
	n := int(f)
	return &n, nil
}

func requireBool(value any, fieldName string) (bool, error) {
	if value == nil {
		return false, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, badRequestf("%s must be a boolean", fieldName)
	}
	return b, nil
}

func optionObject(parent map[string]any, key, fieldName string) (map[string]any, error) {
	raw, present := parent[key]
	if !present || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, badRequestf("%s must be an object when provided", fieldName)
	}
	return obj, nil
}

// extractDeepModeRequest validates options.capabilities and
// options.entitlements and folds them into one request descriptor.
func extractDeepModeRequest(options map[string]any, intelligenceMode string) (*deepModeRequest, error) {
	capabilities, err := optionObject(options, "capabilities", "options.capabilities")
	if err != nil {
		return nil, err
	}
	entitlements, err := optionObject(options, "entitlements", "options.entitlements")
	if err != nil {
		return nil, err
	}

	capDeep, err := optionObject(capabilities, "deep_mode", "options.capabilities.deep_mode")
	if err != nil {
		return nil, err
	}
	entDeep, err := optionObject(entitlements, "deep_mode", "options.entitlements.deep_mode")
	if err != nil {
		return nil, err
	}

	req := &deepModeRequest{}
	if req.Requested, err = requireBool(capDeep["requested"], "options.capabilities.deep_mode.requested"); err != nil {
		return nil, err
	}
	if req.Allowed, err = requireBool(entDeep["allowed"], "options.entitlements.deep_mode.allowed"); err != nil {
		return nil, err
	}
	if req.MaxBudgetTokens, err = asNonNegativeInt(capDeep["max_budget_tokens"], "options.capabilities.deep_mode.max_budget_tokens"); err != nil {
		return nil, err
	}
	if req.QuotaRemaining, err = asNonNegativeInt(entDeep["quota_remaining"], "options.entitlements.deep_mode.quota_remaining"); err != nil {
		return nil, err
	}

	defaultProfile := "analysis_plus"
	if intelligenceMode == "risk" {
		defaultProfile = "risk_plus"
	}
	profile := defaultProfile
	if raw, present := capDeep["profile"]; present && raw != nil {
		text, ok := raw.(string)
		if !ok || strings.TrimSpace(text) == "" {
			return nil, badRequestf("options.capabilities.deep_mode.profile must be a non-empty string")
		}
		profile = strings.TrimSpace(text)
	}
	req.Profile = profile
	return req, nil
}

// deriveDeepModeBudget splits the request timeout into a baseline pipeline
// reservation and the residual deep budget.
func deriveDeepModeBudget(timeout time.Duration, req *deepModeRequest) deepModeBudget {
	total := int(math.Round(timeout.Seconds() * 1000))
	if total < 1 {
		total = 1
	}

	floorMS := envInt("DEEP_BASELINE_RESERVED_FLOOR_MS", 1000)
	ratio := envRatio("DEEP_BASELINE_RESERVED_RATIO", 0.7)
	safety := envInt("DEEP_SAFETY_MARGIN_MS", 250)
	minBudget := envInt("DEEP_MIN_BUDGET_MS", 600)

	baseline := int(math.Round(float64(total) * ratio))
	if baseline < floorMS {
		baseline = floorMS
	}
	if baseline > total {
		baseline = total
	}
	deepBudget := total - baseline - safety
	if deepBudget < 0 {
		deepBudget = 0
	}

	serverCap := envInt("DEEP_MAX_TOKENS_SERVER", 12000)
	profileCap := serverCap
	switch req.Profile {
	case "analysis_plus":
		profileCap = envInt("DEEP_PROFILE_CAP_ANALYSIS_PLUS", 12000)
	case "risk_plus":
		profileCap = envInt("DEEP_PROFILE_CAP_RISK_PLUS", 9000)
	}

	tokens := serverCap
	if req.MaxBudgetTokens != nil && *req.MaxBudgetTokens < tokens {
		tokens = *req.MaxBudgetTokens
	}
	if profileCap < tokens {
		tokens = profileCap
	}
	if serverCap < tokens {
		tokens = serverCap
	}

	return deepModeBudget{
		TotalRequestBudgetMS:  total,
		BaselineReservedMS:    baseline,
		SafetyMarginMS:        safety,
		DeepBudgetMS:          deepBudget,
		MinBudgetMS:           minBudget,
		BudgetTokensEffective: tokens,
	}
}

// evaluateDeepModeGate decides whether deep mode runs; the second return is
// the fallback reason when it does not.
func evaluateDeepModeGate(req *deepModeRequest, budget deepModeBudget) (bool, string) {
	if !req.Requested {
		return false, ""
	}
	if !deepProfiles[req.Profile] {
		return false, "policy_guard"
	}
	if !req.Allowed {
		return false, "not_entitled"
	}
	if req.QuotaRemaining != nil && *req.QuotaRemaining <= 0 {
		return false, "quota_exhausted"
	}
	if budget.DeepBudgetMS < budget.MinBudgetMS {
		return false, "timeout_budget"
	}
	return true, ""
}

func (s *Server) emitDeepModeEvent(scope *requestScope, event string, req *deepModeRequest, budget deepModeBudget, extra map[string]any) {
	fields := map[string]any{
		"component":                    "api.web_service",
		"deep_requested":               req.Requested,
		"deep_profile":                 req.Profile,
		"deep_budget_ms":               budget.DeepBudgetMS,
		"deep_budget_tokens_effective": budget.BudgetTokensEffective,
	}
	for key, value := range extra {
		fields[key] = value
	}
	s.emitter.Emit(event, "info", scope.requestID, scope.requestID, scope.sessionID, fields)
}

// applyDeepModeRuntime evaluates the gate, runs the (synchronous) deep pass
// bookkeeping, and attaches capabilities_status / entitlements_status to
// the report.
func (s *Server) applyDeepModeRuntime(scope *requestScope, report map[string]any, options map[string]any, intelligenceMode string, timeout time.Duration) error {
	req, err := extractDeepModeRequest(options, intelligenceMode)
	if err != nil {
		return err
	}
	budget := deriveDeepModeBudget(timeout, req)
	effective, fallbackReason := evaluateDeepModeGate(req, budget)

	gateExtra := map[string]any{"deep_effective": effective, "retry_count": 0}
	if fallbackReason != "" {
		gateExtra["fallback_reason"] = fallbackReason
	}
	s.emitDeepModeEvent(scope, "api.deep_mode.gate_evaluated", req, budget, gateExtra)

	if effective {
		started := time.Now()
		s.emitDeepModeEvent(scope, "api.deep_mode.execution.start", req, budget, map[string]any{"deep_effective": true, "retry_count": 0})
		s.emitDeepModeEvent(scope, "api.deep_mode.execution.end", req, budget, map[string]any{
			"deep_effective": true,
			"retry_count":    0,
			"duration_ms":    float64(time.Since(started).Microseconds()) / 1000.0,
		})
	}

	if req.Requested || len(utils.AsMap(options["capabilities"])) > 0 {
		capStatus := map[string]any{"requested": req.Requested, "effective": effective}
		if fallbackReason != "" {
			capStatus["fallback_reason"] = fallbackReason
		}
		report["capabilities_status"] = map[string]any{"deep_mode": capStatus}
	}
	if req.Requested || len(utils.AsMap(options["entitlements"])) > 0 {
		consumed := 0
		if effective {
			consumed = 1
		}
		entStatus := map[string]any{"allowed": req.Allowed, "quota_consumed": consumed}
		if req.QuotaRemaining != nil {
			remaining := *req.QuotaRemaining - consumed
			if remaining < 0 {
				remaining = 0
			}
			entStatus["quota_remaining"] = remaining
		}
		report["entitlements_status"] = map[string]any{"deep_mode": entStatus}
	}
	return nil
}
