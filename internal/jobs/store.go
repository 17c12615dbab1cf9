// Package jobs implements the persistent async-job subsystem: a file-backed
// store for jobs, results and events with a strict state machine, a
// single-worker runtime, and retention cleanup.
package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current store file schema. Older files are migrated
// on load.
const SchemaVersion = 2

// DefaultStoreFile is used when ASYNC_JOBS_STORE_FILE is not set.
const DefaultStoreFile = "runtime/async_jobs/store.v2.json"

var terminalStates = map[string]bool{
	"completed": true,
	"failed":    true,
	"canceled":  true,
}

var allowedTransitions = map[string]map[string]bool{
	"queued":    {"running": true, "canceled": true},
	"running":   {"partial": true, "completed": true, "failed": true, "canceled": true},
	"partial":   {"partial": true, "completed": true, "failed": true, "canceled": true},
	"completed": {},
	"failed":    {},
	"canceled":  {},
}

// IsTerminal reports whether status permits no further transitions.
func IsTerminal(status string) bool { return terminalStates[status] }

// UnknownJobError marks lookups of job IDs the store has never seen.
type UnknownJobError struct {
	JobID string
}

func (e *UnknownJobError) Error() string {
	return "unknown job_id: " + e.JobID
}

// InvalidTransitionError marks a state-machine edge that does not exist.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Job is one async analyze job.
type Job struct {
	JobID              string `json:"job_id"`
	OrgID              string `json:"org_id"`
	Status             string `json:"status"`
	RequestPayloadHash string `json:"request_payload_hash"`
	RequestPayloadRef  string `json:"request_payload_ref"`
	Query              string `json:"query"`
	IntelligenceMode   string `json:"intelligence_mode"`
	ProgressPercent    int    `json:"progress_percent"`
	PartialCount       int    `json:"partial_count"`
	ErrorCount         int    `json:"error_count"`
	ResultID           string `json:"result_id,omitempty"`
	ErrorCode          string `json:"error_code,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	Retryable          *bool  `json:"retryable,omitempty"`
	RetryHint          string `json:"retry_hint,omitempty"`
	CancelRequestedAt  string `json:"cancel_requested_at,omitempty"`
	CancelReason       string `json:"cancel_reason,omitempty"`
	CanceledAt         string `json:"canceled_at,omitempty"`
	CanceledBy         string `json:"canceled_by,omitempty"`
	QueuedAt           string `json:"queued_at"`
	StartedAt          string `json:"started_at,omitempty"`
	FinishedAt         string `json:"finished_at,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

// Result is one partial or final job result snapshot.
type Result struct {
	ResultID      string         `json:"result_id"`
	JobID         string         `json:"job_id"`
	ResultKind    string         `json:"result_kind"`
	ResultSeq     int            `json:"result_seq"`
	SchemaVersion string         `json:"schema_version"`
	ResultPayload map[string]any `json:"result_payload"`
	Summary       map[string]any `json:"summary_json"`
	CreatedAt     string         `json:"created_at"`
}

// Event is one audit entry of a job's lifecycle.
type Event struct {
	EventID    string         `json:"event_id"`
	JobID      string         `json:"job_id"`
	EventType  string         `json:"event_type"`
	EventSeq   int            `json:"event_seq"`
	OccurredAt string         `json:"occurred_at"`
	ActorType  string         `json:"actor_type"`
	Payload    map[string]any `json:"payload_json"`
}

type storeState struct {
	SchemaVersion int                 `json:"schema_version"`
	Jobs          map[string]*Job     `json:"jobs"`
	Results       map[string]*Result  `json:"results"`
	Events        map[string][]*Event `json:"events"`
}

// Store owns the persistent job file. All mutations happen inside one mutex
// and are committed atomically via temp file and rename.
type Store struct {
	path  string
	mu    sync.Mutex
	state storeState
	now   func() time.Time
}

// Open loads the store file, migrating older schemas, or initializes an
// empty one.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if err := s.loadOrInit(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenFromEnv opens the store at ASYNC_JOBS_STORE_FILE or the default path.
func OpenFromEnv() (*Store, error) {
	path := os.Getenv("ASYNC_JOBS_STORE_FILE")
	if path == "" {
		path = DefaultStoreFile
	}
	return Open(path)
}

func emptyState() storeState {
	return storeState{
		SchemaVersion: SchemaVersion,
		Jobs:          map[string]*Job{},
		Results:       map[string]*Result{},
		Events:        map[string][]*Event{},
	}
}

func (s *Store) loadOrInit() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) || (err == nil && len(raw) == 0) {
		s.state = emptyState()
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("jobs: read store: %w", err)
	}

	var loaded storeState
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return fmt.Errorf("jobs: parse store: %w", err)
	}
	s.state = migrateState(loaded)
	return s.persistLocked()
}

// migrateState backfills missing maps and renumbers result_seq densely per
// job in created_at order.
func migrateState(state storeState) storeState {
	if state.Jobs == nil {
		state.Jobs = map[string]*Job{}
	}
	if state.Results == nil {
		state.Results = map[string]*Result{}
	}
	if state.Events == nil {
		state.Events = map[string][]*Event{}
	}

	if state.SchemaVersion < SchemaVersion {
		byJob := map[string][]*Result{}
		for _, result := range state.Results {
			byJob[result.JobID] = append(byJob[result.JobID], result)
		}
		for _, results := range byJob {
			sort.SliceStable(results, func(i, j int) bool {
				if results[i].CreatedAt != results[j].CreatedAt {
					return results[i].CreatedAt < results[j].CreatedAt
				}
				return results[i].ResultID < results[j].ResultID
			})
			for i, result := range results {
				result.ResultSeq = i + 1
				if result.ResultKind == "" {
					result.ResultKind = "final"
				}
			}
		}
		state.SchemaVersion = SchemaVersion
	}
	return state
}

func (s *Store) persistLocked() error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("jobs: create store dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("jobs: encode store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("jobs: write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("jobs: replace store: %w", err)
	}
	return nil
}

func (s *Store) nowISO() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CanonicalPayloadHash hashes a request payload over its sorted compact JSON
// form, so equivalent payloads share a hash.
func CanonicalPayloadHash(payload map[string]any) string {
	serialized, err := json.Marshal(sortedValue(payload))
	if err != nil {
		serialized = []byte("{}")
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// sortedValue rebuilds nested maps so json.Marshal emits sorted keys at
// every level. encoding/json already sorts map keys, so recursion only has
// to normalize nested []any and map values.
func sortedValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sortedValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortedValue(item)
		}
		return out
	default:
		return v
	}
}

func (s *Store) appendEventLocked(jobID, eventType, actorType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	events := s.state.Events[jobID]
	event := &Event{
		EventID:    uuid.NewString(),
		JobID:      jobID,
		EventType:  eventType,
		EventSeq:   len(events) + 1,
		OccurredAt: s.nowISO(),
		ActorType:  actorType,
		Payload:    payload,
	}
	s.state.Events[jobID] = append(events, event)
}

// CreateJob persists a new queued job and its job.queued event.
func (s *Store) CreateJob(requestPayload map[string]any, requestID, query, intelligenceMode, orgID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if orgID == "" {
		orgID = "default-org"
	}
	jobID := uuid.NewString()
	now := s.nowISO()
	job := &Job{
		JobID:              jobID,
		OrgID:              orgID,
		Status:             "queued",
		RequestPayloadHash: CanonicalPayloadHash(requestPayload),
		RequestPayloadRef:  "inline:" + jobID,
		Query:              query,
		IntelligenceMode:   intelligenceMode,
		QueuedAt:           now,
		UpdatedAt:          now,
	}
	s.state.Jobs[jobID] = job
	s.appendEventLocked(jobID, "job.queued", "system", map[string]any{
		"request_id": requestID,
		"status":     "queued",
	})
	if err := s.persistLocked(); err != nil {
		return Job{}, err
	}
	return *job, nil
}

// Transition describes one state-machine step.
type Transition struct {
	ToStatus        string
	ProgressPercent *int
	ResultID        string
	ErrorCode       string
	ErrorMessage    string
	Retryable       *bool
	RetryHint       string
	ActorType       string
}

// TransitionJob applies one validated state-machine step and appends the
// matching job.<status> event.
func (s *Store) TransitionJob(jobID string, t Transition) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionJobLocked(jobID, t)
}

func (s *Store) transitionJobLocked(jobID string, t Transition) (Job, error) {
	job, ok := s.state.Jobs[jobID]
	if !ok {
		return Job{}, &UnknownJobError{JobID: jobID}
	}

	current := job.Status
	if current == "" {
		current = "queued"
	}
	if !allowedTransitions[current][t.ToStatus] {
		return Job{}, &InvalidTransitionError{From: current, To: t.ToStatus}
	}

	if t.ProgressPercent != nil {
		p := *t.ProgressPercent
		if p < 0 || p > 100 {
			return Job{}, fmt.Errorf("jobs: progress_percent must be within 0..100")
		}
		if p < job.ProgressPercent {
			return Job{}, fmt.Errorf("jobs: progress_percent must be monotonic")
		}
		job.ProgressPercent = p
	}

	now := s.nowISO()
	if t.ToStatus == "running" && job.StartedAt == "" {
		job.StartedAt = now
	}
	if terminalStates[t.ToStatus] {
		job.FinishedAt = now
	}

	switch t.ToStatus {
	case "failed":
		job.ErrorCount++
		job.ErrorCode = t.ErrorCode
		if job.ErrorCode == "" {
			job.ErrorCode = "runtime_error"
		}
		job.ErrorMessage = t.ErrorMessage
		if job.ErrorMessage == "" {
			job.ErrorMessage = "async job failed"
		}
		job.Retryable = t.Retryable
		job.RetryHint = t.RetryHint
	case "partial":
		// Keep any earlier error block during partial progress.
	default:
		job.ErrorCode = ""
		job.ErrorMessage = ""
		job.Retryable = nil
		job.RetryHint = ""
	}

	if t.ResultID != "" {
		job.ResultID = t.ResultID
	}

	actor := t.ActorType
	if actor == "" {
		actor = "system"
	}

	job.Status = t.ToStatus
	job.UpdatedAt = now

	s.appendEventLocked(jobID, "job."+t.ToStatus, actor, map[string]any{
		"status":           t.ToStatus,
		"progress_percent": job.ProgressPercent,
		"result_id":        nilIfEmpty(job.ResultID),
		"error_code":       nilIfEmpty(job.ErrorCode),
	})
	if err := s.persistLocked(); err != nil {
		return Job{}, err
	}
	return *job, nil
}

// CreateResult appends a partial or final result. result_seq stays dense per
// job, at most one final is accepted, and no result may follow a terminal
// state.
func (s *Store) CreateResult(jobID string, payload map[string]any, kind string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.state.Jobs[jobID]
	if !ok {
		return Result{}, &UnknownJobError{JobID: jobID}
	}
	if terminalStates[job.Status] {
		return Result{}, fmt.Errorf("jobs: cannot attach result to terminal job %s", jobID)
	}
	if kind != "partial" && kind != "final" {
		return Result{}, fmt.Errorf("jobs: result_kind must be partial or final")
	}

	maxSeq := 0
	for _, result := range s.state.Results {
		if result.JobID != jobID {
			continue
		}
		if result.ResultKind == "final" && kind == "final" {
			return Result{}, fmt.Errorf("jobs: job %s already has a final result", jobID)
		}
		if result.ResultSeq > maxSeq {
			maxSeq = result.ResultSeq
		}
	}

	result := &Result{
		ResultID:      uuid.NewString(),
		JobID:         jobID,
		ResultKind:    kind,
		ResultSeq:     maxSeq + 1,
		SchemaVersion: "v1",
		ResultPayload: payload,
		Summary: map[string]any{
			"status":            job.Status,
			"query":             job.Query,
			"intelligence_mode": job.IntelligenceMode,
		},
		CreatedAt: s.nowISO(),
	}
	s.state.Results[result.ResultID] = result
	if kind == "partial" {
		job.PartialCount++
	}
	if err := s.persistLocked(); err != nil {
		return Result{}, err
	}
	return *result, nil
}

// GetJob returns a copy of the job, or false when unknown.
func (s *Store) GetJob(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.state.Jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// GetResult returns a copy of the result, or false when unknown.
func (s *Store) GetResult(resultID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.state.Results[resultID]
	if !ok {
		return Result{}, false
	}
	return *result, true
}

// ListEvents returns copies of a job's events in seq order.
func (s *Store) ListEvents(jobID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.state.Events[jobID]
	out := make([]Event, 0, len(events))
	for _, e := range events {
		out = append(out, *e)
	}
	return out
}

// ListJobIDs returns the IDs of jobs in any of the given statuses, sorted by
// queue time so restart re-enqueueing stays FIFO.
func (s *Store) ListJobIDs(statuses ...string) []string {
	wanted := map[string]bool{}
	for _, st := range statuses {
		wanted[st] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type entry struct {
		id       string
		queuedAt string
	}
	var entries []entry
	for id, job := range s.state.Jobs {
		if len(wanted) == 0 || wanted[job.Status] {
			entries = append(entries, entry{id: id, queuedAt: job.QueuedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].queuedAt != entries[j].queuedAt {
			return entries[i].queuedAt < entries[j].queuedAt
		}
		return entries[i].id < entries[j].id
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}

// CancelOutcome reports what a cancel request did.
type CancelOutcome struct {
	Accepted         bool
	AlreadyTerminal  bool
	AlreadyRequested bool
	Job              Job
}

// RequestCancel is idempotent: terminal jobs are a no-op, queued jobs cancel
// immediately, running/partial jobs are flagged for the worker. canceledBy is
// the caller-supplied attribution; actorType labels the recorded event.
func (s *Store) RequestCancel(jobID, canceledBy, reason, actorType string) (CancelOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.state.Jobs[jobID]
	if !ok {
		return CancelOutcome{}, &UnknownJobError{JobID: jobID}
	}
	if actorType == "" {
		actorType = "client"
	}
	if canceledBy == "" {
		canceledBy = actorType
	}

	if terminalStates[job.Status] {
		return CancelOutcome{AlreadyTerminal: true, Job: *job}, nil
	}

	if job.Status == "queued" {
		job.CancelReason = reason
		job.CanceledBy = canceledBy
		job.CanceledAt = s.nowISO()
		updated, err := s.transitionJobLocked(jobID, Transition{ToStatus: "canceled", ActorType: actorType})
		if err != nil {
			return CancelOutcome{}, err
		}
		return CancelOutcome{Accepted: true, Job: updated}, nil
	}

	if job.CancelRequestedAt != "" {
		return CancelOutcome{Accepted: true, AlreadyRequested: true, Job: *job}, nil
	}

	now := s.nowISO()
	job.CancelRequestedAt = now
	job.CancelReason = reason
	job.CanceledBy = canceledBy
	job.UpdatedAt = now
	s.appendEventLocked(jobID, "job.cancel_requested", actorType, map[string]any{
		"status": job.Status,
		"reason": nilIfEmpty(reason),
	})
	if err := s.persistLocked(); err != nil {
		return CancelOutcome{}, err
	}
	return CancelOutcome{Accepted: true, Job: *job}, nil
}

// ConsumeCancelRequest finalizes a pending cancel: running/partial jobs with
// a requested cancel transition to canceled. Returns false when there was
// nothing to consume.
func (s *Store) ConsumeCancelRequest(jobID, actorType string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.state.Jobs[jobID]
	if !ok || terminalStates[job.Status] || job.CancelRequestedAt == "" {
		return Job{}, false, nil
	}
	job.CanceledAt = s.nowISO()
	if job.CanceledBy == "" {
		job.CanceledBy = actorType
	}
	updated, err := s.transitionJobLocked(jobID, Transition{ToStatus: "canceled", ActorType: actorType})
	if err != nil {
		return Job{}, false, err
	}
	return updated, true, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
