package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

type CreateAgentRequest struct {
	Name   string          `json:"name" validate:"required,min=1,max=100"`
	Type   string          `json:"type" validate:"required,min=1,max=50"`
	Config json.RawMessage `json:"config"`
}

type UpdateAgentRequest struct {
	Name   *string         `json:"name" validate:"omitempty,min=1,max=100"`
	Status *string         `json:"status" validate:"omitempty,oneof=idle running paused error terminated"`
	Config json.RawMessage `json:"config"`
}

// AgentService manages tenant-owned agents, enforcing the tenant's snapshotted
// agent ceiling on creation.
type AgentService struct {
	agents  repository.AgentRepository
	tenants repository.TenantRepository
	audit   repository.AuditRepository
	guard   *Guard

	now func() time.Time
}

func NewAgentService(
	agents repository.AgentRepository,
	tenants repository.TenantRepository,
	audit repository.AuditRepository,
	guard *Guard,
) *AgentService {
	return &AgentService{
		agents:  agents,
		tenants: tenants,
		audit:   audit,
		guard:   guard,
		now:     time.Now,
	}
}

func (s *AgentService) Create(ctx context.Context, tc domain.TenantContext, req *CreateAgentRequest) (*domain.Agent, error) {
	if err := s.guard.Check(ctx, tc, domain.CapCreateAgents, tc.TenantID); err != nil {
		return nil, err
	}

	tenant, err := s.tenants.GetByID(ctx, tc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	count, err := s.agents.CountByTenant(ctx, tc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}
	if count >= tenant.MaxAgents {
		return nil, ErrAgentLimit
	}

	now := s.now()
	agent := &domain.Agent{
		ID:        uuid.New(),
		TenantID:  tc.TenantID,
		Name:      req.Name,
		Type:      req.Type,
		Status:    domain.AgentStatusIdle,
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"agent.create", "agent", agent.ID.String(), domain.AuditAllowed, agent.Name)

	return agent, nil
}

func (s *AgentService) Get(ctx context.Context, tc domain.TenantContext, id uuid.UUID) (*domain.Agent, error) {
	if err := s.guard.Check(ctx, tc, domain.CapViewAgents, tc.TenantID); err != nil {
		return nil, err
	}

	return s.agents.GetByID(ctx, tc.TenantID, id)
}

func (s *AgentService) List(ctx context.Context, tc domain.TenantContext, limit, offset int) ([]*domain.Agent, error) {
	if err := s.guard.Check(ctx, tc, domain.CapViewAgents, tc.TenantID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return s.agents.List(ctx, tc.TenantID, limit, offset)
}

func (s *AgentService) Update(ctx context.Context, tc domain.TenantContext, id uuid.UUID, req *UpdateAgentRequest) (*domain.Agent, error) {
	if err := s.guard.Check(ctx, tc, domain.CapManageAgents, tc.TenantID); err != nil {
		return nil, err
	}

	agent, err := s.agents.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Status != nil {
		agent.Status = domain.AgentStatus(*req.Status)
	}
	if req.Config != nil {
		agent.Config = req.Config
	}
	agent.UpdatedAt = s.now()

	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"agent.update", "agent", agent.ID.String(), domain.AuditAllowed, "")

	return agent, nil
}

func (s *AgentService) Delete(ctx context.Context, tc domain.TenantContext, id uuid.UUID) error {
	if err := s.guard.Check(ctx, tc, domain.CapDeleteAgents, tc.TenantID); err != nil {
		return err
	}

	if err := s.agents.Delete(ctx, tc.TenantID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"agent.delete", "agent", id.String(), domain.AuditAllowed, "")

	return nil
}
