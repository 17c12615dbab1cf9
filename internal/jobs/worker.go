package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/georanking/internal/resolver"
)

const workerTotalStages = 2

// Fault-injection queries recognized when ENABLE_E2E_FAULT_INJECTION is on.
const (
	FaultQueryTimeout      = "__timeout__"
	FaultQueryInternal     = "__internal__"
	FaultQueryAddressIntel = "__address_intel__"
)

// AnalyzeFunc produces the final result payload for a job. When nil the
// runtime emits a self-describing stub payload instead.
type AnalyzeFunc func(ctx context.Context, query, intelligenceMode string) (map[string]any, error)

// RuntimeOptions configure the background worker.
type RuntimeOptions struct {
	StageDelay           time.Duration
	EnableFaultInjection bool
	Analyze              AnalyzeFunc
	Logger               *zap.Logger
}

// StageDelayFromEnv reads ASYNC_WORKER_STAGE_DELAY_MS (default 150ms,
// clamped at zero).
func StageDelayFromEnv() time.Duration {
	raw := os.Getenv("ASYNC_WORKER_STAGE_DELAY_MS")
	if raw == "" {
		return 150 * time.Millisecond
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || ms < 0 {
		return 150 * time.Millisecond
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// FaultInjectionEnabledFromEnv reads ENABLE_E2E_FAULT_INJECTION.
func FaultInjectionEnabledFromEnv() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_E2E_FAULT_INJECTION")))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Runtime drains queued jobs on a single background goroutine. Enqueueing is
// FIFO with duplicate suppression.
type Runtime struct {
	store   *Store
	log     *zap.Logger
	delay   time.Duration
	faults  bool
	analyze AnalyzeFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	pending map[string]bool
	stopped bool
	started bool
	done    chan struct{}
}

// NewRuntime wires a worker runtime over the given store.
func NewRuntime(store *Store, opts RuntimeOptions) *Runtime {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runtime{
		store:   store,
		log:     log,
		delay:   opts.StageDelay,
		faults:  opts.EnableFaultInjection,
		analyze: opts.Analyze,
		pending: map[string]bool{},
		done:    make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the worker goroutine. Safe to call once.
func (r *Runtime) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go r.run()
}

// Stop signals the worker to exit and waits for it.
func (r *Runtime) Stop() {
	r.mu.Lock()
	started := r.started
	r.stopped = true
	r.cond.Broadcast()
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

// Enqueue adds a job to the queue unless it is already pending.
func (r *Runtime) Enqueue(jobID string) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[jobID] {
		return
	}
	r.pending[jobID] = true
	r.queue = append(r.queue, jobID)
	r.cond.Signal()
}

// EnqueuePendingJobs re-enqueues unfinished jobs after a restart.
func (r *Runtime) EnqueuePendingJobs() int {
	ids := r.store.ListJobIDs("queued", "running", "partial")
	for _, id := range ids {
		r.Enqueue(id)
	}
	return len(ids)
}

func (r *Runtime) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped {
			r.mu.Unlock()
			return
		}
		jobID := r.queue[0]
		r.queue = r.queue[1:]
		delete(r.pending, jobID)
		r.mu.Unlock()

		r.processOne(jobID)
	}
}

func (r *Runtime) processOne(jobID string) {
	job, ok := r.store.GetJob(jobID)
	if !ok || IsTerminal(job.Status) {
		return
	}

	if _, consumed, err := r.store.ConsumeCancelRequest(jobID, "worker"); err != nil {
		r.log.Warn("worker cancel consume failed", zap.String("job_id", jobID), zap.Error(err))
		return
	} else if consumed {
		return
	}

	if job.Status == "queued" {
		progress := job.ProgressPercent
		if progress < 5 {
			progress = 5
		}
		if _, err := r.store.TransitionJob(jobID, Transition{
			ToStatus:        "running",
			ProgressPercent: &progress,
			ActorType:       "worker",
		}); err != nil {
			r.log.Warn("worker start transition failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
	}

	job, ok = r.store.GetJob(jobID)
	if !ok || (job.Status != "running" && job.Status != "partial") {
		return
	}

	if err := r.executeStages(job); err != nil {
		r.failJob(jobID, err)
	}
}

func (r *Runtime) executeStages(job Job) error {
	if r.faults {
		switch job.Query {
		case FaultQueryTimeout:
			return fmt.Errorf("forced timeout for async e2e: %w", context.DeadlineExceeded)
		case FaultQueryInternal:
			return errors.New("forced internal error for async e2e")
		case FaultQueryAddressIntel:
			return &resolver.NoMatchError{Message: "forced address intel error for async e2e"}
		}
	}

	stageProgress := [workerTotalStages]int{35, 70}
	for stage := 1; stage <= workerTotalStages; stage++ {
		if _, consumed, err := r.store.ConsumeCancelRequest(job.JobID, "worker"); err != nil {
			return err
		} else if consumed {
			return nil
		}
		if r.delay > 0 {
			time.Sleep(r.delay)
		}

		partial, err := r.store.CreateResult(job.JobID, r.partialPayload(job, stage), "partial")
		if err != nil {
			return err
		}
		progress := stageProgress[stage-1]
		if _, err := r.store.TransitionJob(job.JobID, Transition{
			ToStatus:        "partial",
			ProgressPercent: &progress,
			ResultID:        partial.ResultID,
			ActorType:       "worker",
		}); err != nil {
			return err
		}
	}

	if _, consumed, err := r.store.ConsumeCancelRequest(job.JobID, "worker"); err != nil {
		return err
	} else if consumed {
		return nil
	}

	finalPayload, err := r.finalPayload(job)
	if err != nil {
		return err
	}
	final, err := r.store.CreateResult(job.JobID, finalPayload, "final")
	if err != nil {
		return err
	}
	progress := 100
	_, err = r.store.TransitionJob(job.JobID, Transition{
		ToStatus:        "completed",
		ProgressPercent: &progress,
		ResultID:        final.ResultID,
		ActorType:       "worker",
	})
	return err
}

func (r *Runtime) failJob(jobID string, cause error) {
	job, ok := r.store.GetJob(jobID)
	if !ok || IsTerminal(job.Status) {
		return
	}
	code, retryable, hint := classifyFailure(cause)
	progress := job.ProgressPercent
	if _, err := r.store.TransitionJob(jobID, Transition{
		ToStatus:        "failed",
		ProgressPercent: &progress,
		ErrorCode:       code,
		ErrorMessage:    cause.Error(),
		Retryable:       &retryable,
		RetryHint:       hint,
		ActorType:       "worker",
	}); err != nil {
		// Another actor won the race to a terminal state.
		r.log.Debug("worker fail transition skipped", zap.String("job_id", jobID), zap.Error(err))
	}
}

func classifyFailure(err error) (code string, retryable bool, hint string) {
	var noMatch *resolver.NoMatchError
	var invalid *resolver.ValidationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", true, "retry_with_backoff"
	case errors.As(err, &noMatch), errors.As(err, &invalid):
		return "address_intel", false, "check_input_and_retry"
	default:
		return "internal", true, "retry_with_backoff"
	}
}

func (r *Runtime) partialPayload(job Job, stage int) map[string]any {
	percent := int(math.Round(float64(stage) / float64(workerTotalStages) * 100))
	if percent < 1 {
		percent = 1
	}
	if percent > 99 {
		percent = 99
	}
	return map[string]any{
		"ok": true,
		"result": map[string]any{
			"status": map[string]any{
				"confidence": map[string]any{
					"score": nil,
					"max":   100,
					"level": "pending_implementation",
				},
				"sources": map[string]any{
					"async_runtime": map[string]any{"status": "partial"},
				},
				"source_attribution": map[string]any{
					"match": []any{"async_runtime"},
				},
			},
			"data": map[string]any{
				"entity": map[string]any{"query": job.Query},
				"modules": map[string]any{
					"runtime": map[string]any{
						"status":            "partial",
						"intelligence_mode": job.IntelligenceMode,
						"stage_index":       stage,
						"total_stages":      workerTotalStages,
						"progress_percent":  percent,
						"message":           "Async worker partial snapshot",
					},
				},
				"by_source": map[string]any{
					"async_runtime": map[string]any{"module_refs": []any{"runtime"}},
				},
			},
		},
	}
}

func (r *Runtime) finalPayload(job Job) (map[string]any, error) {
	if r.analyze != nil {
		return r.analyze(context.Background(), job.Query, job.IntelligenceMode)
	}
	return map[string]any{
		"ok": true,
		"result": map[string]any{
			"status": map[string]any{
				"confidence": map[string]any{
					"score": nil,
					"max":   100,
					"level": "pending_implementation",
				},
				"sources": map[string]any{
					"async_runtime": map[string]any{"status": "ok"},
				},
				"source_attribution": map[string]any{
					"match": []any{"async_runtime"},
				},
			},
			"data": map[string]any{
				"entity": map[string]any{"query": job.Query},
				"modules": map[string]any{
					"runtime": map[string]any{
						"status":            "completed",
						"intelligence_mode": job.IntelligenceMode,
						"message":           "Async worker final result",
					},
				},
				"by_source": map[string]any{
					"async_runtime": map[string]any{"module_refs": []any{"runtime"}},
				},
			},
		},
	}, nil
}
