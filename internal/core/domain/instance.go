package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Instance Errors
// =============================================================================

var (
	ErrInstanceOrgRequired      = errors.New("instance organization ID is required")
	ErrInstanceProviderRequired = errors.New("instance provider ID is required")
	ErrInstancePlanRequired     = errors.New("instance plan ID is required")
	ErrInstanceLabelRequired    = errors.New("instance label is required")
	ErrInvalidStatusTransition  = errors.New("invalid instance status transition")
	ErrUnknownAction            = errors.New("unknown instance action")
)

// =============================================================================
// Instance Status
// =============================================================================

// InstanceStatus represents the lifecycle state of a resource instance.
type InstanceStatus string

const (
	StatusProvisioning InstanceStatus = "provisioning"
	StatusRunning      InstanceStatus = "running"
	StatusStopped      InstanceStatus = "stopped"
	StatusDeleted      InstanceStatus = "deleted"
	StatusError        InstanceStatus = "error"
)

// IsValid checks if the instance status is valid.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case StatusProvisioning, StatusRunning, StatusStopped, StatusDeleted, StatusError:
		return true
	default:
		return false
	}
}

// IsBillable returns true if the status accrues hourly usage.
func (s InstanceStatus) IsBillable() bool {
	return s == StatusRunning || s == StatusStopped
}

// IsTerminal returns true if no further transitions are possible.
func (s InstanceStatus) IsTerminal() bool {
	return s == StatusDeleted
}

// validStatusTransitions defines the allowed state transitions.
// Only the initial provisioning state is set optimistically; every other
// transition is driven by confirmed upstream status. Error is reachable
// from any non-terminal state on an adapter-reported failure.
var validStatusTransitions = map[InstanceStatus][]InstanceStatus{
	StatusProvisioning: {StatusRunning, StatusError, StatusDeleted},
	StatusRunning:      {StatusStopped, StatusDeleted, StatusError},
	StatusStopped:      {StatusRunning, StatusDeleted, StatusError},
	StatusError:        {StatusRunning, StatusStopped, StatusDeleted},
	StatusDeleted:      {}, // terminal
}

// ValidateStatusTransition checks if an instance status transition is valid.
func ValidateStatusTransition(from, to InstanceStatus) error {
	if from == to {
		return nil
	}
	allowed, exists := validStatusTransitions[from]
	if !exists {
		return ErrInvalidStatusTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidStatusTransition
}

// =============================================================================
// Instance Actions
// =============================================================================

// InstanceAction is a lifecycle action applied to an instance.
// Actions are fire-and-forget against the upstream API.
type InstanceAction string

const (
	ActionBoot       InstanceAction = "boot"
	ActionShutdown   InstanceAction = "shutdown"
	ActionReboot     InstanceAction = "reboot"
	ActionPowerCycle InstanceAction = "power_cycle"
	ActionDelete     InstanceAction = "delete"
)

// IsValid checks if the action is supported.
func (a InstanceAction) IsValid() bool {
	switch a {
	case ActionBoot, ActionShutdown, ActionReboot, ActionPowerCycle, ActionDelete:
		return true
	default:
		return false
	}
}

// =============================================================================
// Resource Instance
// =============================================================================

// ResourceInstance is a provisioned virtual server bound to one provider.
// LastBilledAt is the checkpoint up to which usage has been charged; it is
// the idempotency token of the billing reconciliation engine.
type ResourceInstance struct {
	ID                 string         `json:"id"`
	OrgID              string         `json:"org_id"`
	ProviderID         string         `json:"provider_id"`
	ProviderInstanceID string         `json:"provider_instance_id,omitempty"`
	PlanID             string         `json:"plan_id"`
	Label              string         `json:"label"`
	Region             string         `json:"region"`
	Status             InstanceStatus `json:"status"`
	PublicIPv4         string         `json:"public_ipv4,omitempty"`
	PublicIPv6         string         `json:"public_ipv6,omitempty"`
	PrivateIPv4        string         `json:"private_ipv4,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	LastBilledAt       time.Time      `json:"last_billed_at"`
}

// GenerateInstanceID generates a new resource instance ID.
func GenerateInstanceID() string {
	return "inst_" + uuid.New().String()[:8]
}

// NewResourceInstance creates a new resource instance in the provisioning
// state with the billing checkpoint initialized to creation time.
func NewResourceInstance(orgID, providerID, planID, label, region string) (*ResourceInstance, error) {
	if orgID == "" {
		return nil, ErrInstanceOrgRequired
	}
	if providerID == "" {
		return nil, ErrInstanceProviderRequired
	}
	if planID == "" {
		return nil, ErrInstancePlanRequired
	}
	if label == "" {
		return nil, ErrInstanceLabelRequired
	}

	now := time.Now()
	return &ResourceInstance{
		ID:           GenerateInstanceID(),
		OrgID:        orgID,
		ProviderID:   providerID,
		PlanID:       planID,
		Label:        label,
		Region:       region,
		Status:       StatusProvisioning,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastBilledAt: now,
	}, nil
}

// Transition attempts to move the instance to a new status.
func (i *ResourceInstance) Transition(to InstanceStatus) error {
	if err := ValidateStatusTransition(i.Status, to); err != nil {
		return err
	}
	i.Status = to
	i.UpdatedAt = time.Now()
	if to != StatusError {
		i.ErrorMessage = ""
	}
	return nil
}

// TransitionToError records an adapter-reported failure.
func (i *ResourceInstance) TransitionToError(message string) error {
	if err := ValidateStatusTransition(i.Status, StatusError); err != nil {
		return err
	}
	i.Status = StatusError
	i.ErrorMessage = message
	i.UpdatedAt = time.Now()
	return nil
}

// AdvanceCheckpoint moves the billing checkpoint forward by whole hours.
// The checkpoint advances by exactly the hours paid for, never to now(),
// so sub-hour remainders are carried into the next pass.
func (i *ResourceInstance) AdvanceCheckpoint(hours int64) {
	i.LastBilledAt = i.LastBilledAt.Add(time.Duration(hours) * time.Hour)
	i.UpdatedAt = time.Now()
}
