package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

type taskServiceFixture struct {
	svc        *TaskService
	tasks      *memTaskRepo
	agents     *memAgentRepo
	tenants    *memTenantRepo
	audit      *memAuditRepo
	quota      *memQuota
	dispatcher *fakeDispatcher
	tc         domain.TenantContext
	agent      *domain.Agent
	clock      *time.Time
}

func newTaskServiceFixture(t *testing.T, maxTasksPerHour int) *taskServiceFixture {
	t.Helper()

	tasks := newMemTaskRepo()
	agents := newMemAgentRepo()
	tenants := newMemTenantRepo()
	audit := newMemAuditRepo()
	dispatcher := &fakeDispatcher{}

	tenant := &domain.Tenant{
		ID:              uuid.New(),
		Name:            "Acme",
		Slug:            "acme",
		Tier:            domain.TierFree,
		MaxAgents:       2,
		MaxTasksPerHour: maxTasksPerHour,
		Active:          true,
	}
	if err := tenants.Create(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	agent := &domain.Agent{
		ID:       uuid.New(),
		TenantID: tenant.ID,
		Name:     "worker-1",
		Type:     "generic",
		Status:   domain.AgentStatusIdle,
	}
	if err := agents.Create(context.Background(), agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	cfg := config.TaskConfig{
		RetryBaseDelay: 2 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
		QuotaWindow:    time.Hour,
		QuotaDeferral:  time.Minute,
	}

	quota := newMemQuota()
	svc := NewTaskService(tasks, agents, tenants, audit, NewGuard(audit), quota, dispatcher, cfg)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }
	svc.runAsync = func(*domain.Task) {}

	return &taskServiceFixture{
		svc:        svc,
		tasks:      tasks,
		agents:     agents,
		tenants:    tenants,
		audit:      audit,
		quota:      quota,
		dispatcher: dispatcher,
		tc: domain.TenantContext{
			UserID:   uuid.New(),
			TenantID: tenant.ID,
			Role:     domain.RoleDeveloper,
		},
		agent: agent,
		clock: clock,
	}
}

func (f *taskServiceFixture) createTask(t *testing.T, req *CreateTaskRequest) *domain.Task {
	t.Helper()
	if req == nil {
		req = &CreateTaskRequest{
			AgentID: f.agent.ID,
			Type:    string(domain.TaskTypeTextProcessing),
			Input:   json.RawMessage(`{"operation":"echo","text":"hi"}`),
		}
	}
	task, err := f.svc.Create(context.Background(), f.tc, req)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskAppliesDefaults(t *testing.T) {
	f := newTaskServiceFixture(t, 100)

	task := f.createTask(t, nil)

	if task.Status != domain.TaskStatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
	if task.Priority != 0 {
		t.Errorf("priority = %d, want 0", task.Priority)
	}
	if task.MaxRetries != domain.DefaultMaxRetries {
		t.Errorf("max retries = %d, want %d", task.MaxRetries, domain.DefaultMaxRetries)
	}
	if task.TimeoutSeconds != domain.DefaultTaskTimeoutSec {
		t.Errorf("timeout = %d, want %d", task.TimeoutSeconds, domain.DefaultTaskTimeoutSec)
	}
	if !task.ReadyAt.Equal(*f.clock) {
		t.Errorf("ready_at = %v, want %v", task.ReadyAt, *f.clock)
	}
	if task.CreatedBy != f.tc.UserID {
		t.Errorf("created_by = %s, want %s", task.CreatedBy, f.tc.UserID)
	}
}

func TestCreateTaskUnknownAgent(t *testing.T) {
	f := newTaskServiceFixture(t, 100)

	_, err := f.svc.Create(context.Background(), f.tc, &CreateTaskRequest{
		AgentID: uuid.New(),
		Type:    string(domain.TaskTypeTextProcessing),
		Input:   json.RawMessage(`{}`),
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateTaskDeniedForViewer(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	viewer := f.tc
	viewer.Role = domain.RoleViewer

	_, err := f.svc.Create(context.Background(), viewer, &CreateTaskRequest{
		AgentID: f.agent.ID,
		Type:    string(domain.TaskTypeTextProcessing),
		Input:   json.RawMessage(`{}`),
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	denials := f.audit.byEvent(string(domain.CapCreateTasks))
	if len(denials) != 1 || denials[0].Outcome != domain.AuditDenied {
		t.Fatalf("expected one denied audit entry, got %d", len(denials))
	}
}

func TestExecuteClaimsAndCompletes(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	claimed, err := f.svc.Execute(context.Background(), f.tc, task.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if claimed.Status != domain.TaskStatusRunning {
		t.Fatalf("status = %s, want running", claimed.Status)
	}
	if claimed.LeaseExpiresAt == nil {
		t.Fatal("expected a lease to be set")
	}
	wantLease := f.clock.Add(time.Duration(claimed.TimeoutSeconds) * time.Second)
	if !claimed.LeaseExpiresAt.Equal(wantLease) {
		t.Errorf("lease = %v, want %v", claimed.LeaseExpiresAt, wantLease)
	}

	f.dispatcher.dispatch = func(context.Context, *domain.Task) (json.RawMessage, error) {
		return json.RawMessage(`{"result":"HI"}`), nil
	}
	f.svc.Run(context.Background(), claimed)

	got, err := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if string(got.Output) != `{"result":"HI"}` {
		t.Errorf("output = %s", got.Output)
	}
}

func TestExecuteRejectsNonPending(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	if _, err := f.svc.Execute(context.Background(), f.tc, task.ID); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	_, err := f.svc.Execute(context.Background(), f.tc, task.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestExecuteOverQuotaDefersTask(t *testing.T) {
	f := newTaskServiceFixture(t, 0)
	task := f.createTask(t, nil)

	got, err := f.svc.Execute(context.Background(), f.tc, task.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.Status != domain.TaskStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	wantReady := f.clock.Add(time.Minute)
	if !got.ReadyAt.Equal(wantReady) {
		t.Errorf("ready_at = %v, want %v", got.ReadyAt, wantReady)
	}

	deferred := f.audit.byEvent("task.quota_deferred")
	if len(deferred) != 1 {
		t.Fatalf("expected one quota deferral audit entry, got %d", len(deferred))
	}
}

func TestExecuteQuotaErrorReleasesClaim(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	f.quota.err = errors.New("quota backend unavailable")

	if _, err := f.svc.Execute(context.Background(), f.tc, task.ID); err == nil {
		t.Fatal("expected the quota error to surface")
	}

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusPending {
		t.Fatalf("status = %s, want pending after release", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", got.RetryCount)
	}
	if got.LeaseExpiresAt != nil {
		t.Error("lease still set after release")
	}

	// The task is immediately claimable once the backend recovers.
	f.quota.err = nil
	if _, err := f.svc.Execute(context.Background(), f.tc, task.ID); err != nil {
		t.Fatalf("execute after recovery: %v", err)
	}
}

func TestClaimNextQuotaErrorReleasesClaim(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	f.quota.err = errors.New("quota backend unavailable")

	if _, err := f.svc.ClaimNext(context.Background()); err == nil {
		t.Fatal("expected the quota error to surface")
	}

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusPending || got.RetryCount != 0 {
		t.Fatalf("status=%s retries=%d, want pending/0 after release", got.Status, got.RetryCount)
	}
}

func TestConcurrentExecuteClaimsOnce(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	const callers = 16
	var wg sync.WaitGroup
	var successes int32

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Execute(context.Background(), f.tc, task.ID)
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrInvalidTransition):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("%d callers claimed the task, want exactly 1", successes)
	}

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusRunning {
		t.Fatalf("status = %s, want running", got.Status)
	}
}

func TestRunFailureKeepsPartialOutput(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	one := 1
	task := f.createTask(t, &CreateTaskRequest{
		AgentID:    f.agent.ID,
		Type:       string(domain.TaskTypeWorkflow),
		Input:      json.RawMessage(`{"steps":[{"type":"log","params":{"message":"hi"}}]}`),
		MaxRetries: &one,
	})

	f.dispatcher.dispatch = func(context.Context, *domain.Task) (json.RawMessage, error) {
		return json.RawMessage(`{"steps":[{"index":0,"type":"log"}]}`), errors.New("step 1 (api_call): boom")
	}

	claimed, err := f.svc.Execute(context.Background(), f.tc, task.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	f.svc.Run(context.Background(), claimed)

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusPending {
		t.Fatalf("status = %s, want pending for retry", got.Status)
	}
	if string(got.Output) != `{"steps":[{"index":0,"type":"log"}]}` {
		t.Errorf("requeued output = %s, want the partial step results", got.Output)
	}

	*f.clock = f.clock.Add(time.Minute)
	claimed, err = f.svc.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	f.svc.Run(context.Background(), claimed)

	got, _ = f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if string(got.Output) != `{"steps":[{"index":0,"type":"log"}]}` {
		t.Errorf("failed output = %s, want the partial step results", got.Output)
	}
	if got.LastError == nil || *got.LastError != "step 1 (api_call): boom" {
		t.Errorf("last_error = %v", got.LastError)
	}
}

func TestRunRetriesWithBackoffThenFails(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	two := 2
	task := f.createTask(t, &CreateTaskRequest{
		AgentID:    f.agent.ID,
		Type:       string(domain.TaskTypeTextProcessing),
		Input:      json.RawMessage(`{"operation":"echo","text":"x"}`),
		MaxRetries: &two,
	})

	f.dispatcher.dispatch = func(context.Context, *domain.Task) (json.RawMessage, error) {
		return nil, errors.New("boom")
	}

	// Attempt 1: retry delay is the base.
	claimed, err := f.svc.Execute(context.Background(), f.tc, task.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	f.svc.Run(context.Background(), claimed)

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusPending || got.RetryCount != 1 {
		t.Fatalf("after first failure: status=%s retries=%d", got.Status, got.RetryCount)
	}
	if want := f.clock.Add(2 * time.Second); !got.ReadyAt.Equal(want) {
		t.Errorf("first retry ready_at = %v, want %v", got.ReadyAt, want)
	}
	if got.LastError == nil || *got.LastError != "boom" {
		t.Errorf("last_error = %v, want boom", got.LastError)
	}

	// Attempt 2: delay doubles.
	*f.clock = f.clock.Add(time.Minute)
	claimed, err = f.svc.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	f.svc.Run(context.Background(), claimed)

	got, _ = f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusPending || got.RetryCount != 2 {
		t.Fatalf("after second failure: status=%s retries=%d", got.Status, got.RetryCount)
	}
	if want := f.clock.Add(4 * time.Second); !got.ReadyAt.Equal(want) {
		t.Errorf("second retry ready_at = %v, want %v", got.ReadyAt, want)
	}

	// Attempt 3: retries exhausted, terminal failure.
	*f.clock = f.clock.Add(time.Minute)
	claimed, err = f.svc.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	f.svc.Run(context.Background(), claimed)

	got, _ = f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != got.MaxRetries {
		t.Errorf("retry_count = %d, want %d", got.RetryCount, got.MaxRetries)
	}
}

func TestCancelBeatsCompletion(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	claimed, err := f.svc.Execute(context.Background(), f.tc, task.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), f.tc, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The worker finishes afterwards; its result must be discarded.
	f.dispatcher.dispatch = func(context.Context, *domain.Task) (json.RawMessage, error) {
		return json.RawMessage(`{"late":true}`), nil
	}
	f.svc.Run(context.Background(), claimed)

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.Output != nil {
		t.Errorf("output = %s, want none", got.Output)
	}
}

func TestCancelTerminalTaskRejected(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	claimed, _ := f.svc.Execute(context.Background(), f.tc, task.ID)
	f.svc.Run(context.Background(), claimed)

	_, err := f.svc.Cancel(context.Background(), f.tc, task.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestClaimNextPrefersPriority(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	low := f.createTask(t, nil)

	five := 5
	high := f.createTask(t, &CreateTaskRequest{
		AgentID:  f.agent.ID,
		Type:     string(domain.TaskTypeTextProcessing),
		Input:    json.RawMessage(`{"operation":"echo","text":"x"}`),
		Priority: &five,
	})

	claimed, err := f.svc.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	if claimed.ID != high.ID {
		t.Fatalf("claimed %s, want high-priority %s", claimed.ID, high.ID)
	}

	claimed, err = f.svc.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim next: %v", err)
	}
	if claimed.ID != low.ID {
		t.Fatalf("claimed %s, want %s", claimed.ID, low.ID)
	}

	if _, err := f.svc.ClaimNext(context.Background()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound on empty queue", err)
	}
}

func TestClaimNextSkipsOverQuotaTenant(t *testing.T) {
	f := newTaskServiceFixture(t, 0)
	task := f.createTask(t, nil)

	_, err := f.svc.ClaimNext(context.Background())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after deferring over-quota task", err)
	}

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if !got.ReadyAt.After(*f.clock) {
		t.Errorf("ready_at = %v, want pushed past %v", got.ReadyAt, *f.clock)
	}
}

func TestReapExpiredRequeuesRunningTask(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	if _, err := f.svc.Execute(context.Background(), f.tc, task.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Nothing to reap while the lease holds.
	n, err := f.svc.ReapExpired(context.Background(), 10)
	if err != nil || n != 0 {
		t.Fatalf("reap = %d, %v; want 0, nil", n, err)
	}

	*f.clock = f.clock.Add(time.Duration(task.TimeoutSeconds+1) * time.Second)
	n, err = f.svc.ReapExpired(context.Background(), 10)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}

	got, _ := f.tasks.GetByID(context.Background(), f.tc.TenantID, task.ID)
	if got.Status != domain.TaskStatusPending || got.RetryCount != 1 {
		t.Fatalf("after reap: status=%s retries=%d, want pending/1", got.Status, got.RetryCount)
	}
}

func TestGetTaskFromOtherTenantNotFound(t *testing.T) {
	f := newTaskServiceFixture(t, 100)
	task := f.createTask(t, nil)

	other := domain.TenantContext{
		UserID:   uuid.New(),
		TenantID: uuid.New(),
		Role:     domain.RoleOwner,
	}

	_, err := f.svc.Get(context.Background(), other, task.ID)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRetryDelayCaps(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{3, 16 * time.Second},
		{10, 5 * time.Minute},
		{63, 5 * time.Minute},
	}

	for _, tc := range cases {
		if got := retryDelay(base, max, tc.retry); got != tc.want {
			t.Errorf("retryDelay(retry=%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}
