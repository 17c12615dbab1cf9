package server

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/georanking/internal/gwr"
	"github.com/openclaw/georanking/internal/jobs"
	"github.com/openclaw/georanking/internal/logging"
	"github.com/openclaw/georanking/pkg/utils"
)

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// projectJobStatus is the public projection of a job record. Internals such
// as the payload hash stay out of API responses.
func (s *Server) projectJobStatus(job jobs.Job, includeEvents bool) map[string]any {
	projected := map[string]any{
		"job_id":              job.JobID,
		"status":              job.Status,
		"progress_percent":    job.ProgressPercent,
		"partial_count":       job.PartialCount,
		"error_count":         job.ErrorCount,
		"result_id":           nullableString(job.ResultID),
		"queued_at":           nullableString(job.QueuedAt),
		"started_at":          nullableString(job.StartedAt),
		"finished_at":         nullableString(job.FinishedAt),
		"updated_at":          nullableString(job.UpdatedAt),
		"error_code":          nullableString(job.ErrorCode),
		"error_message":       nullableString(job.ErrorMessage),
		"retryable":           anyRetryable(job.Retryable),
		"retry_hint":          nullableString(job.RetryHint),
		"cancel_requested_at": nullableString(job.CancelRequestedAt),
		"canceled_at":         nullableString(job.CanceledAt),
		"canceled_by":         nullableString(job.CanceledBy),
		"cancel_reason":       nullableString(job.CancelReason),
	}
	if includeEvents {
		projected["events"] = s.store.ListEvents(job.JobID)
	}
	return projected
}

func anyRetryable(retryable *bool) any {
	if retryable == nil {
		return nil
	}
	return *retryable
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	s.emitter.Emit("api.health.response", "info", scope.requestID, scope.requestID, scope.sessionID, logging.Fields{
		"component": "api.web_service",
		"direction": "api->client",
		"status":    "ok",
		"route":     "/health",
		"method":    "GET",
	})
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"ok":         true,
		"service":    ServiceName,
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"request_id": scope.requestID,
	}, nil)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	commit := os.Getenv("GIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"service":    ServiceName,
		"version":    s.appVersion(),
		"commit":     commit,
		"request_id": scope.requestID,
	}, nil)
}

func (s *Server) handleGUI(w http.ResponseWriter, r *http.Request) {
	s.writeHTML(w, r, http.StatusOK, renderGUIHTML(s.appVersion()), map[string]string{"Cache-Control": "no-store"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "not_found", "")
}

// sendDictionaryPayload answers with the payload or a 304 when the client
// already holds the current ETag.
func (s *Server) sendDictionaryPayload(w http.ResponseWriter, r *http.Request, payload map[string]any) {
	scope := scopeFrom(r)
	etag := strings.TrimSpace(utils.AsString(payload["etag"]))
	if etag != "" && gwr.IfNoneMatchMatches(r.Header.Get("If-None-Match"), etag) {
		scope.statusCode = http.StatusNotModified
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", gwr.DictionaryCacheControl)
		if scope.requestID != "" {
			w.Header().Set("X-Request-Id", scope.requestID)
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}

	headers := map[string]string{"Cache-Control": gwr.DictionaryCacheControl}
	if etag != "" {
		headers["ETag"] = etag
	}
	s.writeJSON(w, r, http.StatusOK, payload, headers)
}

func (s *Server) handleDictionaryIndex(w http.ResponseWriter, r *http.Request) {
	s.sendDictionaryPayload(w, r, s.dicts.Index)
}

func (s *Server) handleDictionaryDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "domain")))
	payload := s.dicts.Domain(domain)
	if payload == nil {
		s.writeError(w, r, http.StatusNotFound, "not_found", "unknown dictionary domain: "+domain)
		return
	}
	s.sendDictionaryPayload(w, r, payload)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		s.handleNotFound(w, r)
		return
	}
	job, ok := s.store.GetJob(jobID)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "not_found", "unknown job_id")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"ok":         true,
		"job":        s.projectJobStatus(job, true),
		"request_id": scope.requestID,
	}, map[string]string{"Cache-Control": "no-store"})
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	resultID := strings.TrimSpace(chi.URLParam(r, "resultID"))
	if resultID == "" {
		s.handleNotFound(w, r)
		return
	}
	result, ok := s.store.GetResult(resultID)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "not_found", "unknown result_id")
		return
	}
	payload := result.ResultPayload
	if payload == nil {
		payload = map[string]any{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"ok":          true,
		"result_id":   result.ResultID,
		"job_id":      result.JobID,
		"result_kind": result.ResultKind,
		"result":      payload,
		"request_id":  scope.requestID,
	}, map[string]string{"Cache-Control": "no-store"})
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
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

	data, err := decodeJSONBody(r, true)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" || strings.Contains(jobID, "/") {
		s.handleNotFound(w, r)
		return
	}

	reason := strings.TrimSpace(utils.AsString(data["reason"]))
	if reason == "" {
		reason = "cancel_requested"
	}
	canceledBy := strings.TrimSpace(utils.AsString(data["canceled_by"]))
	if canceledBy == "" {
		canceledBy = "user"
	}

	s.runtime.Start()
	outcome, err := s.store.RequestCancel(jobID, canceledBy, reason, "user")
	if err != nil {
		var unknown *jobs.UnknownJobError
		if errors.As(err, &unknown) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "unknown job_id")
			return
		}
		s.writeAnalyzeError(w, r, err)
		return
	}

	currentJob, ok := s.store.GetJob(jobID)
	if !ok {
		currentJob = outcome.Job
	}
	status := currentJob.Status
	accepted := status == "running" || status == "partial" || status == "queued" || status == "canceled"

	statusCode := http.StatusOK
	if status == "running" || status == "partial" {
		s.runtime.Enqueue(jobID)
		statusCode = http.StatusAccepted
	}

	s.writeJSON(w, r, statusCode, map[string]any{
		"ok":         true,
		"accepted":   accepted,
		"job":        s.projectJobStatus(currentJob, true),
		"request_id": scope.requestID,
	}, map[string]string{"Cache-Control": "no-store"})
}

func (s *Server) handleDebugTrace(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	corsHeaders := s.corsHeadersFor(r, corsAllowMethodsTrace, false)
	if corsHeaders == nil {
		s.writeJSON(w, r, http.StatusForbidden, map[string]any{
			"ok":         false,
			"error":      "cors_origin_not_allowed",
			"request_id": scope.requestID,
		}, map[string]string{"Cache-Control": "no-store"})
		return
	}
	scope.corsHeaders = corsHeaders

	if !s.cfg.Trace.Enabled {
		s.writeJSON(w, r, http.StatusForbidden, map[string]any{
			"ok":         false,
			"error":      "debug_trace_disabled",
			"message":    "trace debug endpoint is disabled",
			"request_id": scope.requestID,
		}, map[string]string{"Cache-Control": "no-store"})
		return
	}

	query := r.URL.Query()
	traceRequestID := logging.NormalizeRequestID(query.Get("request_id"))
	if traceRequestID == "" {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]any{
			"ok":         false,
			"error":      "invalid_request_id",
			"message":    "request_id query parameter is required",
			"request_id": scope.requestID,
		}, map[string]string{"Cache-Control": "no-store"})
		return
	}

	lookback := logging.NormalizeBoundedInt(query.Get("lookback_seconds"),
		s.cfg.Trace.LookbackSeconds, 60, logging.MaxTraceLookbackSeconds)
	maxEvents := logging.NormalizeBoundedInt(query.Get("max_events"),
		s.cfg.Trace.MaxEvents, 1, logging.HardTraceMaxEvents)

	timeline := logging.BuildTraceTimeline(traceRequestID, s.cfg.Trace.LogPath, lookback, maxEvents, time.Now())
	if !timeline.OK {
		errCode := timeline.Error
		if errCode == "" {
			errCode = "trace_unavailable"
		}
		message := timeline.Message
		if message == "" {
			message = "trace unavailable"
		}
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{
			"ok":               false,
			"error":            errCode,
			"message":          message,
			"request_id":       scope.requestID,
			"trace_request_id": traceRequestID,
		}, map[string]string{"Cache-Control": "no-store"})
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"ok":               true,
		"request_id":       scope.requestID,
		"trace_request_id": traceRequestID,
		"trace":            timeline,
	}, map[string]string{"Cache-Control": "no-store"})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	allowMethods := corsAllowMethodsAnalyze
	if scope.route == "/debug/trace" {
		allowMethods = corsAllowMethodsTrace
	}
	corsHeaders := s.corsHeadersFor(r, allowMethods, true)
	if corsHeaders == nil {
		s.writeError(w, r, http.StatusForbidden, "cors_origin_not_allowed", "")
		return
	}

	scope.statusCode = http.StatusNoContent
	if scope.requestID != "" {
		w.Header().Set("X-Request-Id", scope.requestID)
	}
	w.Header().Set("Content-Length", "0")
	for key, value := range corsHeaders {
		w.Header().Set(key, value)
	}
	w.WriteHeader(http.StatusNoContent)
}
