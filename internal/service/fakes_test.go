package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

// In-memory repository fakes mirroring the conditional-update semantics of
// the Postgres implementations.

type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (r *memTaskRepo) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *memTaskRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTaskRepo) List(_ context.Context, tenantID uuid.UUID, filter repository.TaskFilter) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.TenantID != tenantID {
			continue
		}
		if filter.AgentID != nil && t.AgentID != *filter.AgentID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memTaskRepo) ClaimByID(_ context.Context, tenantID, id uuid.UUID, now time.Time) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.TenantID != tenantID || t.Status != domain.TaskStatusPending {
		return nil, repository.ErrNoTransition
	}
	r.claim(t, now)
	cp := *t
	return &cp, nil
}

func (r *memTaskRepo) ClaimNext(_ context.Context, now time.Time) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Task
	for _, t := range r.tasks {
		if t.Status != domain.TaskStatusPending || t.ReadyAt.After(now) {
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.CreatedAt.Before(best.CreatedAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	r.claim(best, now)
	cp := *best
	return &cp, nil
}

func (r *memTaskRepo) claim(t *domain.Task, now time.Time) {
	lease := now.Add(t.Timeout())
	t.Status = domain.TaskStatusRunning
	t.StartedAt = &now
	t.LeaseExpiresAt = &lease
	t.UpdatedAt = now
}

func (r *memTaskRepo) Complete(_ context.Context, id uuid.UUID, output []byte, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return repository.ErrNoTransition
	}
	t.Status = domain.TaskStatusCompleted
	t.Output = output
	t.LeaseExpiresAt = nil
	t.CompletedAt = &completedAt
	return nil
}

func (r *memTaskRepo) Requeue(_ context.Context, id uuid.UUID, retryCount int, readyAt time.Time, cause string, output []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning || t.RetryCount >= t.MaxRetries {
		return repository.ErrNoTransition
	}
	t.Status = domain.TaskStatusPending
	t.RetryCount = retryCount
	t.ReadyAt = readyAt
	t.LastError = &cause
	if output != nil {
		t.Output = output
	}
	t.LeaseExpiresAt = nil
	t.StartedAt = nil
	return nil
}

func (r *memTaskRepo) FailTerminal(_ context.Context, id uuid.UUID, cause string, output []byte, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return repository.ErrNoTransition
	}
	t.Status = domain.TaskStatusFailed
	t.LastError = &cause
	if output != nil {
		t.Output = output
	}
	t.LeaseExpiresAt = nil
	t.CompletedAt = &completedAt
	return nil
}

func (r *memTaskRepo) Cancel(_ context.Context, tenantID, id uuid.UUID, cancelledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.TenantID != tenantID {
		return repository.ErrNoTransition
	}
	if t.Status != domain.TaskStatusPending && t.Status != domain.TaskStatusRunning {
		return repository.ErrNoTransition
	}
	t.Status = domain.TaskStatusCancelled
	t.LeaseExpiresAt = nil
	t.CompletedAt = &cancelledAt
	return nil
}

func (r *memTaskRepo) Defer(_ context.Context, id uuid.UUID, readyAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.TaskStatusPending {
		return repository.ErrNoTransition
	}
	t.ReadyAt = readyAt
	return nil
}

func (r *memTaskRepo) Release(_ context.Context, id uuid.UUID, readyAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning {
		return repository.ErrNoTransition
	}
	t.Status = domain.TaskStatusPending
	t.ReadyAt = readyAt
	t.LeaseExpiresAt = nil
	t.StartedAt = nil
	return nil
}

func (r *memTaskRepo) ExpiredLeases(_ context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.Status == domain.TaskStatusRunning && t.LeaseExpiresAt != nil && !t.LeaseExpiresAt.After(now) {
			cp := *t
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memAgentRepo struct {
	mu     sync.Mutex
	agents map[uuid.UUID]*domain.Agent
}

func newMemAgentRepo() *memAgentRepo {
	return &memAgentRepo{agents: make(map[uuid.UUID]*domain.Agent)}
}

func (r *memAgentRepo) Create(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.TenantID == agent.TenantID && a.Name == agent.Name {
			return repository.ErrDuplicate
		}
	}
	cp := *agent
	r.agents[agent.ID] = &cp
	return nil
}

func (r *memAgentRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || a.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAgentRepo) List(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Agent
	for _, a := range r.agents {
		if a.TenantID == tenantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memAgentRepo) CountByTenant(_ context.Context, tenantID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.agents {
		if a.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (r *memAgentRepo) Update(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agent.ID]
	if !ok || a.TenantID != agent.TenantID {
		return repository.ErrNotFound
	}
	cp := *agent
	r.agents[agent.ID] = &cp
	return nil
}

func (r *memAgentRepo) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || a.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(r.agents, id)
	return nil
}

type memTenantRepo struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*domain.Tenant
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{tenants: make(map[uuid.UUID]*domain.Tenant)}
}

func (r *memTenantRepo) Create(_ context.Context, tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Slug == tenant.Slug {
			return repository.ErrDuplicate
		}
	}
	cp := *tenant
	r.tenants[tenant.ID] = &cp
	return nil
}

func (r *memTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTenantRepo) GetBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memTenantRepo) Update(_ context.Context, tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenant.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *tenant
	r.tenants[tenant.ID] = &cp
	return nil
}

func (r *memTenantRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Active = false
	return nil
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.TenantID == user.TenantID && u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, tenantID uuid.UUID, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.TenantID == tenantID && strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) List(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.User
	for _, u := range r.users {
		if u.TenantID == tenantID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[user.ID]
	if !ok || u.TenantID != user.TenantID {
		return repository.ErrNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

func (r *memUserRepo) IncrementFailedLogins(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.FailedLogins++
	return u.FailedLogins, nil
}

func (r *memUserRepo) ResetFailedLogins(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.FailedLogins = 0
		u.LockedUntil = nil
	}
	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) Rotate(_ context.Context, id, currentRotationID, newRotationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.RotationID != currentRotationID {
		return repository.ErrNoTransition
	}
	s.RotationID = newRotationID
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

type memInvitationRepo struct {
	mu          sync.Mutex
	invitations map[uuid.UUID]*domain.Invitation
}

func newMemInvitationRepo() *memInvitationRepo {
	return &memInvitationRepo{invitations: make(map[uuid.UUID]*domain.Invitation)}
}

func (r *memInvitationRepo) Create(_ context.Context, inv *domain.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inv
	r.invitations[inv.ID] = &cp
	return nil
}

func (r *memInvitationRepo) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		if inv.TokenHash == tokenHash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memInvitationRepo) List(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Invitation
	for _, inv := range r.invitations {
		if inv.TenantID == tenantID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memInvitationRepo) Consume(_ context.Context, id uuid.UUID, consumedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || inv.ConsumedAt != nil {
		return repository.ErrNoTransition
	}
	inv.ConsumedAt = &consumedAt
	return nil
}

func (r *memInvitationRepo) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || inv.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(r.invitations, id)
	return nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditLogEntry
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (r *memAuditRepo) Append(_ context.Context, entry *domain.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLogEntry
	for _, e := range r.entries {
		if e.TenantID == tenantID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// byEvent returns the entries recorded for one event name.
func (r *memAuditRepo) byEvent(event string) []*domain.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLogEntry
	for _, e := range r.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type memRevoker struct {
	mu       sync.Mutex
	families map[string]bool
	users    map[string]time.Time
}

func newMemRevoker() *memRevoker {
	return &memRevoker{families: make(map[string]bool), users: make(map[string]time.Time)}
}

func (r *memRevoker) RevokeFamily(_ context.Context, sessionID string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[sessionID] = true
	return nil
}

func (r *memRevoker) IsFamilyRevoked(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.families[sessionID], nil
}

func (r *memRevoker) RevokeUser(_ context.Context, userID string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = time.Now()
	return nil
}

func (r *memRevoker) IsUserRevoked(_ context.Context, userID string, issuedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	return issuedAt.Before(at), nil
}

// memQuota admits up to limit executions per tenant, ignoring the window.
// Setting err makes every Allow call fail with it.
type memQuota struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
	err    error
}

func newMemQuota() *memQuota {
	return &memQuota{counts: make(map[uuid.UUID]int)}
}

func (q *memQuota) Allow(_ context.Context, tenantID uuid.UUID, limit int, _ time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if q.counts[tenantID] >= limit {
		return false, nil
	}
	q.counts[tenantID]++
	return true, nil
}

// fakeDispatcher returns canned results keyed by nothing: tests set the
// function fields directly.
type fakeDispatcher struct {
	dispatch func(ctx context.Context, task *domain.Task) (json.RawMessage, error)
	validate func(taskType domain.TaskType, input json.RawMessage) error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	if d.dispatch == nil {
		return json.RawMessage(`{"ok":true}`), nil
	}
	return d.dispatch(ctx, task)
}

func (d *fakeDispatcher) ValidateInput(taskType domain.TaskType, input json.RawMessage) error {
	if d.validate == nil {
		return nil
	}
	return d.validate(taskType, input)
}
