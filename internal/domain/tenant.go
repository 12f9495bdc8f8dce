package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier determines the resource limits a tenant operates under.
type SubscriptionTier string

const (
	TierFree         SubscriptionTier = "free"
	TierBasic        SubscriptionTier = "basic"
	TierProfessional SubscriptionTier = "professional"
	TierEnterprise   SubscriptionTier = "enterprise"
)

// TierLimits are the per-tier resource ceilings snapshotted onto a tenant at
// registration time.
type TierLimits struct {
	MaxAgents       int
	MaxTasksPerHour int
}

// DefaultTierLimits maps each subscription tier to its default limits.
// Deployments can override these through configuration.
var DefaultTierLimits = map[SubscriptionTier]TierLimits{
	TierFree:         {MaxAgents: 2, MaxTasksPerHour: 20},
	TierBasic:        {MaxAgents: 10, MaxTasksPerHour: 200},
	TierProfessional: {MaxAgents: 50, MaxTasksPerHour: 2000},
	TierEnterprise:   {MaxAgents: 500, MaxTasksPerHour: 20000},
}

// ValidTier reports whether t is a known subscription tier.
func ValidTier(t SubscriptionTier) bool {
	_, ok := DefaultTierLimits[t]
	return ok
}

// Tenant represents an isolated organization. Every other entity belongs to
// exactly one tenant. Tenants are never hard-deleted, only deactivated.
type Tenant struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	Name            string           `json:"name" db:"name"`
	Slug            string           `json:"slug" db:"slug"`
	Tier            SubscriptionTier `json:"tier" db:"tier"`
	MaxAgents       int              `json:"max_agents" db:"max_agents"`
	MaxTasksPerHour int              `json:"max_tasks_per_hour" db:"max_tasks_per_hour"`
	Active          bool             `json:"active" db:"active"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}
