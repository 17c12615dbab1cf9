package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/georanking/internal/logging"
)

// Blocked interactive login paths. Provisioning happens through internal
// workflows only, so every direct login surface answers 403.
var blockedLoginPaths = map[string]bool{
	"/login":        true,
	"/signin":       true,
	"/sign-in":      true,
	"/auth/login":   true,
	"/auth/signin":  true,
	"/auth/sign-in": true,
	"/oauth/login":  true,
	"/oauth2/login": true,
}

const directLoginError = "external_direct_login_disabled"
const directLoginMessage = "direct login is disabled; access is only allowed via internal provisioning/export workflows"

const (
	corsAllowMethodsAnalyze = "POST, OPTIONS"
	corsAllowMethodsTrace   = "GET, OPTIONS"
	corsAllowHeaders        = "Content-Type, Authorization, X-Request-Id, X-Session-Id"
	corsMaxAgeSeconds       = "600"
)

var bearerAuthRe = regexp.MustCompile(`(?i)^\s*Bearer\s+(\S+)\s*$`)
var multiSlashRe = regexp.MustCompile(`/{2,}`)

// requestScope carries per-request lifecycle state between the front-door
// middleware and the response helpers.
type requestScope struct {
	requestID   string
	sessionID   string
	route       string
	method      string
	startedAt   time.Time
	statusCode  int
	errorCode   string
	corsHeaders map[string]string
}

type scopeKeyType struct{}

var scopeKey scopeKeyType

func scopeFrom(r *http.Request) *requestScope {
	if scope, ok := r.Context().Value(scopeKey).(*requestScope); ok {
		return scope
	}
	return &requestScope{requestID: "req-unknown", method: r.Method, route: r.URL.Path, startedAt: time.Now()}
}

// normalizePath collapses duplicate slashes and strips trailing slashes
// except on the root.
func normalizePath(raw string) string {
	path := raw
	if path == "" {
		path = "/"
	}
	path = multiSlashRe.ReplaceAllString(path, "/")
	if path != "/" {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// sanitizeRequestID accepts printable ASCII without whitespace, commas or
// semicolons, capped at 128 characters.
func sanitizeRequestID(candidate string) string {
	value := strings.TrimSpace(candidate)
	if value == "" || len(value) > 128 {
		return ""
	}
	for _, ch := range value {
		if ch < 33 || ch > 126 {
			return ""
		}
		if ch == ',' || ch == ';' {
			return ""
		}
	}
	return value
}

var requestIDHeaders = []string{
	"X-Request-Id", "X_Request_Id",
	"Request-Id", "Request_Id",
	"X-Correlation-Id", "X_Correlation_Id",
	"Correlation-Id", "Correlation_Id",
}

func requestIDFrom(r *http.Request) string {
	for _, header := range requestIDHeaders {
		if id := sanitizeRequestID(r.Header.Get(header)); id != "" {
			return id
		}
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "req-0000000000000000"
	}
	return "req-" + hex.EncodeToString(buf)
}

func isBlockedLoginPath(path string) bool {
	return blockedLoginPaths[strings.ToLower(path)]
}

// extractBearerToken accepts a case-insensitive Bearer scheme with tolerant
// whitespace and exactly one token segment.
func extractBearerToken(authHeader string) string {
	match := bearerAuthRe.FindStringSubmatch(authHeader)
	if match == nil {
		return ""
	}
	return match[1]
}

// canonicalOrigin normalizes an Origin to scheme://host[:port], or "".
func canonicalOrigin(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	if parsed.Host == "" || parsed.User != nil {
		return ""
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return ""
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	authority := host
	if port := parsed.Port(); port != "" {
		authority += ":" + port
	}
	return scheme + "://" + authority
}

func parseCORSAllowOrigins(raw string) map[string]bool {
	allowed := map[string]bool{}
	for _, chunk := range strings.Split(raw, ",") {
		if origin := canonicalOrigin(chunk); origin != "" {
			allowed[origin] = true
		}
	}
	return allowed
}

// corsHeadersFor evaluates the allowlist for a request. A nil return means
// the origin is explicitly rejected; an empty map means no CORS headers are
// needed.
func (s *Server) corsHeadersFor(r *http.Request, allowMethods string, preflight bool) map[string]string {
	allowed := parseCORSAllowOrigins(s.cfg.Server.CORSAllowOrigins)
	if len(allowed) == 0 {
		return map[string]string{}
	}
	origin := canonicalOrigin(r.Header.Get("Origin"))
	if origin == "" {
		return map[string]string{}
	}
	if !allowed[origin] {
		return nil
	}
	headers := map[string]string{
		"Access-Control-Allow-Origin": origin,
		"Vary":                        "Origin",
	}
	if preflight {
		headers["Access-Control-Allow-Methods"] = allowMethods
		headers["Access-Control-Allow-Headers"] = corsAllowHeaders
		headers["Access-Control-Max-Age"] = corsMaxAgeSeconds
	}
	return headers
}

func lifecycleStatus(statusCode int, errorCode string) string {
	if errorCode != "" {
		return errorCode
	}
	switch {
	case statusCode < 400:
		return "ok"
	case statusCode < 500:
		return "client_error"
	default:
		return "server_error"
	}
}

func lifecycleErrorClass(statusCode int, errorCode string) string {
	if normalized := strings.ToLower(strings.TrimSpace(errorCode)); normalized != "" {
		return normalized
	}
	switch {
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return "timeout"
	case statusCode >= 500:
		return "internal"
	case statusCode >= 400:
		return "client_error"
	}
	return ""
}

func lifecycleLevel(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "error"
	case statusCode >= 400:
		return "warn"
	}
	return "info"
}

// frontDoor normalizes the path, assigns the request id, blocks direct
// login paths, and emits the request lifecycle events.
func (s *Server) frontDoor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := &requestScope{
			requestID: requestIDFrom(r),
			sessionID: strings.TrimSpace(r.Header.Get("X-Session-Id")),
			route:     normalizePath(r.URL.Path),
			method:    r.Method,
			startedAt: time.Now(),
		}
		r.URL.Path = scope.route
		r = r.WithContext(context.WithValue(r.Context(), scopeKey, scope))

		s.emitter.Emit("api.request.start", "info", scope.requestID, scope.requestID, scope.sessionID, logging.Fields{
			"component": "api.web_service",
			"direction": "client->api",
			"status":    "received",
			"route":     scope.route,
			"method":    scope.method,
		})

		if isBlockedLoginPath(scope.route) {
			s.emitter.Emit("api.auth.direct_login.blocked", "warn", scope.requestID, scope.requestID, scope.sessionID, logging.Fields{
				"component": "api.web_service",
				"direction": "client->api",
				"status":    "blocked",
				"route":     scope.route,
				"method":    scope.method,
				"reason":    directLoginError,
			})
			s.writeJSON(w, r, http.StatusForbidden, map[string]any{
				"ok":         false,
				"error":      directLoginError,
				"message":    directLoginMessage,
				"request_id": scope.requestID,
			}, map[string]string{"Cache-Control": "no-store"})
		} else {
			next.ServeHTTP(w, r)
		}

		statusCode := scope.statusCode
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		durationMS := float64(time.Since(scope.startedAt).Microseconds()) / 1000.0
		fields := logging.Fields{
			"component":   "api.web_service",
			"direction":   "api->client",
			"status":      lifecycleStatus(statusCode, scope.errorCode),
			"route":       scope.route,
			"method":      scope.method,
			"status_code": statusCode,
			"duration_ms": durationMS,
		}
		if scope.errorCode != "" {
			fields["error_code"] = scope.errorCode
			fields["error_class"] = lifecycleErrorClass(statusCode, scope.errorCode)
		}
		s.emitter.Emit("api.request.end", lifecycleLevel(statusCode), scope.requestID, scope.requestID, scope.sessionID, fields)
	})
}

// writeJSON sends a JSON payload with the request-id echo, pending CORS
// headers, and lifecycle capture.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload map[string]any, extraHeaders map[string]string) {
	scope := scopeFrom(r)
	scope.statusCode = status
	scope.errorCode = ""
	if status >= 400 {
		if ok, present := payload["ok"].(bool); present && !ok {
			if code, present := payload["error"].(string); present {
				scope.errorCode = strings.ToLower(strings.TrimSpace(code))
			}
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if scope.requestID != "" {
		w.Header().Set("X-Request-Id", scope.requestID)
	}
	for key, value := range scope.corsHeaders {
		w.Header().Set(key, value)
	}
	for key, value := range extraHeaders {
		w.Header().Set(key, value)
	}
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, errorCode, message string) {
	scope := scopeFrom(r)
	payload := map[string]any{
		"ok":         false,
		"error":      errorCode,
		"request_id": scope.requestID,
	}
	if message != "" {
		payload["message"] = message
	}
	s.writeJSON(w, r, status, payload, nil)
}

func (s *Server) writeHTML(w http.ResponseWriter, r *http.Request, status int, body string, extraHeaders map[string]string) {
	scope := scopeFrom(r)
	scope.statusCode = status
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if scope.requestID != "" {
		w.Header().Set("X-Request-Id", scope.requestID)
	}
	for key, value := range extraHeaders {
		w.Header().Set(key, value)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
