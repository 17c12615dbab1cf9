package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openclaw/georanking/internal/resolver"
)

func newTestRuntime(t *testing.T, opts RuntimeOptions) (*Runtime, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewRuntime(store, opts), store
}

func TestProcessOneCompletesWithStubResults(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{})
	job, _ := store.CreateJob(nil, "req", "Bahnhofstrasse 1, 8001 Zürich", "basic", "")

	runtime.processOne(job.JobID)

	done, _ := store.GetJob(job.JobID)
	if done.Status != "completed" {
		t.Fatalf("status = %q, want completed", done.Status)
	}
	if done.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", done.ProgressPercent)
	}
	if done.PartialCount != 2 {
		t.Errorf("partial_count = %d, want 2", done.PartialCount)
	}
	if done.ResultID == "" {
		t.Fatal("result_id must point at the final result")
	}

	final, ok := store.GetResult(done.ResultID)
	if !ok || final.ResultKind != "final" {
		t.Fatalf("final result = %+v", final)
	}
	result := final.ResultPayload["result"].(map[string]any)
	modules := result["data"].(map[string]any)["modules"].(map[string]any)
	runtimeModule := modules["runtime"].(map[string]any)
	if runtimeModule["message"] != "Async worker final result" {
		t.Errorf("final message = %v", runtimeModule["message"])
	}

	var statuses []string
	for _, event := range store.ListEvents(job.JobID) {
		statuses = append(statuses, event.EventType)
	}
	want := []string{"job.queued", "job.running", "job.partial", "job.partial", "job.completed"}
	if len(statuses) != len(want) {
		t.Fatalf("events = %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestProcessOneStageProgress(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{})
	job, _ := store.CreateJob(nil, "req", "q", "extended", "")

	runtime.processOne(job.JobID)

	var progress []int
	for _, event := range store.ListEvents(job.JobID) {
		if event.EventType == "job.partial" {
			progress = append(progress, event.Payload["progress_percent"].(int))
		}
	}
	if len(progress) != 2 || progress[0] != 35 || progress[1] != 70 {
		t.Errorf("partial progress = %v, want [35 70]", progress)
	}
}

func TestProcessOneHonorsCancelRequest(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{})
	job, _ := store.CreateJob(nil, "req", "q", "basic", "")
	store.TransitionJob(job.JobID, Transition{ToStatus: "running"})
	store.RequestCancel(job.JobID, "client", "changed my mind", "user")

	runtime.processOne(job.JobID)

	canceled, _ := store.GetJob(job.JobID)
	if canceled.Status != "canceled" {
		t.Fatalf("status = %q, want canceled", canceled.Status)
	}
	if canceled.CanceledBy != "client" || canceled.CancelReason != "changed my mind" {
		t.Errorf("cancel block = %q %q", canceled.CanceledBy, canceled.CancelReason)
	}
	if canceled.PartialCount != 0 {
		t.Errorf("no stages may run after cancel, partial_count = %d", canceled.PartialCount)
	}
}

func TestProcessOneSkipsTerminalJob(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{})
	job, _ := store.CreateJob(nil, "req", "q", "basic", "")
	store.TransitionJob(job.JobID, Transition{ToStatus: "running"})
	store.TransitionJob(job.JobID, Transition{ToStatus: "completed"})
	before := len(store.ListEvents(job.JobID))

	runtime.processOne(job.JobID)

	if after := len(store.ListEvents(job.JobID)); after != before {
		t.Errorf("terminal job gained events: %d -> %d", before, after)
	}
}

func TestFaultInjectionTimeout(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{EnableFaultInjection: true})
	job, _ := store.CreateJob(nil, "req", FaultQueryTimeout, "basic", "")

	runtime.processOne(job.JobID)

	failed, _ := store.GetJob(job.JobID)
	if failed.Status != "failed" {
		t.Fatalf("status = %q, want failed", failed.Status)
	}
	if failed.ErrorCode != "timeout" {
		t.Errorf("error_code = %q, want timeout", failed.ErrorCode)
	}
	if failed.Retryable == nil || !*failed.Retryable {
		t.Error("timeout must be retryable")
	}
	if failed.RetryHint != "retry_with_backoff" {
		t.Errorf("retry_hint = %q", failed.RetryHint)
	}
}

func TestFaultInjectionAddressIntel(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{EnableFaultInjection: true})
	job, _ := store.CreateJob(nil, "req", FaultQueryAddressIntel, "basic", "")

	runtime.processOne(job.JobID)

	failed, _ := store.GetJob(job.JobID)
	if failed.ErrorCode != "address_intel" {
		t.Errorf("error_code = %q, want address_intel", failed.ErrorCode)
	}
	if failed.Retryable == nil || *failed.Retryable {
		t.Error("address_intel must not be retryable")
	}
	if failed.RetryHint != "check_input_and_retry" {
		t.Errorf("retry_hint = %q", failed.RetryHint)
	}
}

func TestFaultInjectionDisabledRunsNormally(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{})
	job, _ := store.CreateJob(nil, "req", FaultQueryInternal, "basic", "")

	runtime.processOne(job.JobID)

	done, _ := store.GetJob(job.JobID)
	if done.Status != "completed" {
		t.Errorf("status = %q, fault queries must be inert without the flag", done.Status)
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		err       error
		code      string
		retryable bool
		hint      string
	}{
		{context.DeadlineExceeded, "timeout", true, "retry_with_backoff"},
		{&resolver.NoMatchError{Message: "x"}, "address_intel", false, "check_input_and_retry"},
		{&resolver.ValidationError{Message: "x"}, "address_intel", false, "check_input_and_retry"},
		{errors.New("boom"), "internal", true, "retry_with_backoff"},
	}
	for _, tc := range cases {
		code, retryable, hint := classifyFailure(tc.err)
		if code != tc.code || retryable != tc.retryable || hint != tc.hint {
			t.Errorf("classifyFailure(%v) = %s %v %s, want %s %v %s",
				tc.err, code, retryable, hint, tc.code, tc.retryable, tc.hint)
		}
	}
}

func TestAnalyzeHookSuppliesFinalPayload(t *testing.T) {
	analyze := func(ctx context.Context, query, mode string) (map[string]any, error) {
		return map[string]any{"ok": true, "query": query, "mode": mode}, nil
	}
	runtime, store := newTestRuntime(t, RuntimeOptions{Analyze: analyze})
	job, _ := store.CreateJob(nil, "req", "Seestrasse 12", "risk", "")

	runtime.processOne(job.JobID)

	done, _ := store.GetJob(job.JobID)
	final, _ := store.GetResult(done.ResultID)
	if final.ResultPayload["query"] != "Seestrasse 12" || final.ResultPayload["mode"] != "risk" {
		t.Errorf("final payload = %v", final.ResultPayload)
	}
}

func TestAnalyzeHookErrorFailsJob(t *testing.T) {
	analyze := func(ctx context.Context, query, mode string) (map[string]any, error) {
		return nil, &resolver.NoMatchError{Message: "Keine Adresse gefunden für: " + query}
	}
	runtime, store := newTestRuntime(t, RuntimeOptions{Analyze: analyze})
	job, _ := store.CreateJob(nil, "req", "Nirgendwo 99", "basic", "")

	runtime.processOne(job.JobID)

	failed, _ := store.GetJob(job.JobID)
	if failed.Status != "failed" || failed.ErrorCode != "address_intel" {
		t.Errorf("job = %s / %s, want failed / address_intel", failed.Status, failed.ErrorCode)
	}
	if failed.ProgressPercent != 70 {
		t.Errorf("progress = %d, failed jobs keep their last progress", failed.ProgressPercent)
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	runtime, _ := newTestRuntime(t, RuntimeOptions{})
	runtime.Enqueue("job-a")
	runtime.Enqueue("job-a")
	runtime.Enqueue("  ")
	runtime.Enqueue("job-b")

	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	if len(runtime.queue) != 2 || runtime.queue[0] != "job-a" || runtime.queue[1] != "job-b" {
		t.Errorf("queue = %v, want [job-a job-b]", runtime.queue)
	}
}

func TestEnqueuePendingJobs(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{})
	a, _ := store.CreateJob(nil, "req", "a", "basic", "")
	b, _ := store.CreateJob(nil, "req", "b", "basic", "")
	store.TransitionJob(b.JobID, Transition{ToStatus: "running"})
	c, _ := store.CreateJob(nil, "req", "c", "basic", "")
	store.TransitionJob(c.JobID, Transition{ToStatus: "running"})
	store.TransitionJob(c.JobID, Transition{ToStatus: "completed"})

	if got := runtime.EnqueuePendingJobs(); got != 2 {
		t.Errorf("re-enqueued = %d, want 2", got)
	}
	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	if len(runtime.queue) != 2 || runtime.queue[0] != a.JobID || runtime.queue[1] != b.JobID {
		t.Errorf("queue = %v", runtime.queue)
	}
}

func TestRuntimeStartStopDrainsQueue(t *testing.T) {
	runtime, store := newTestRuntime(t, RuntimeOptions{})
	job, _ := store.CreateJob(nil, "req", "q", "basic", "")

	runtime.Start()
	runtime.Enqueue(job.JobID)

	deadline := make(chan struct{})
	go func() {
		for {
			done, _ := store.GetJob(job.JobID)
			if IsTerminal(done.Status) {
				close(deadline)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	<-deadline
	runtime.Stop()

	done, _ := store.GetJob(job.JobID)
	if done.Status != "completed" {
		t.Errorf("status = %q, want completed", done.Status)
	}
}
