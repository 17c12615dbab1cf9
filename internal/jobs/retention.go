package jobs

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Retention defaults. Only results and events of terminal jobs are ever
// deleted.
const (
	DefaultResultsRetention = 7 * 24 * time.Hour
	DefaultEventsRetention  = 3 * 24 * time.Hour
)

// RetentionTTLFromEnv reads a retention TTL override. A missing variable
// returns the fallback; a set variable must parse as a non-negative number
// of seconds.
func RetentionTTLFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return fallback, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("jobs: %s must be numeric, got %q", name, raw)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("jobs: %s must be >= 0, got %q", name, raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// CleanupSummary reports what a retention pass deleted (or would delete in
// dry-run mode).
type CleanupSummary struct {
	DryRun          bool `json:"dry_run"`
	ResultsExamined int  `json:"results_examined"`
	ResultsDeleted  int  `json:"results_deleted"`
	EventsExamined  int  `json:"events_examined"`
	EventsDeleted   int  `json:"events_deleted"`
	JobsTouched     int  `json:"jobs_touched"`
}

// CleanupRetention deletes results and events older than their TTL for jobs
// in terminal states. A nil TTL disables that retention class entirely.
func (s *Store) CleanupRetention(resultsTTL, eventsTTL *time.Duration, dryRun bool) (CleanupSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	summary := CleanupSummary{DryRun: dryRun}
	touched := map[string]bool{}

	terminalJob := func(jobID string) bool {
		job, ok := s.state.Jobs[jobID]
		return ok && terminalStates[job.Status]
	}
	expired := func(createdAt string, ttl time.Duration) bool {
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return false
		}
		return now.Sub(ts) > ttl
	}

	if resultsTTL != nil {
		for id, result := range s.state.Results {
			if !terminalJob(result.JobID) {
				continue
			}
			summary.ResultsExamined++
			if !expired(result.CreatedAt, *resultsTTL) {
				continue
			}
			summary.ResultsDeleted++
			touched[result.JobID] = true
			if !dryRun {
				delete(s.state.Results, id)
			}
		}
	}

	if eventsTTL != nil {
		for jobID, events := range s.state.Events {
			if !terminalJob(jobID) {
				continue
			}
			kept := events[:0:0]
			for _, event := range events {
				summary.EventsExamined++
				if expired(event.OccurredAt, *eventsTTL) {
					summary.EventsDeleted++
					touched[jobID] = true
					continue
				}
				kept = append(kept, event)
			}
			if !dryRun && len(kept) != len(events) {
				if len(kept) == 0 {
					delete(s.state.Events, jobID)
				} else {
					s.state.Events[jobID] = kept
				}
			}
		}
	}

	summary.JobsTouched = len(touched)
	if dryRun {
		return summary, nil
	}
	if err := s.persistLocked(); err != nil {
		return CleanupSummary{}, err
	}
	return summary, nil
}
