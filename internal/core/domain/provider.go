package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// Provider Errors
// =============================================================================

var (
	ErrProviderNameRequired = errors.New("provider name is required")
	ErrInvalidProviderKind  = errors.New("invalid provider kind: must be aws, digitalocean, or hetzner")

	ErrPlanProviderRequired   = errors.New("plan provider ID is required")
	ErrPlanUpstreamIDRequired = errors.New("plan upstream plan ID is required")
	ErrPlanNegativePrice      = errors.New("plan price fields must be non-negative")
	ErrPlanInvalidStoppedRate = errors.New("plan stopped rate percent must be between 0 and 100")
)

// =============================================================================
// Provider Kind
// =============================================================================

// ProviderKind identifies an upstream cloud compute vendor.
type ProviderKind string

const (
	KindAWS          ProviderKind = "aws"
	KindDigitalOcean ProviderKind = "digitalocean"
	KindHetzner      ProviderKind = "hetzner"
)

// AllProviderKinds returns every supported provider kind.
func AllProviderKinds() []ProviderKind {
	return []ProviderKind{KindAWS, KindDigitalOcean, KindHetzner}
}

// IsValid checks if the provider kind is supported.
func (k ProviderKind) IsValid() bool {
	switch k {
	case KindAWS, KindDigitalOcean, KindHetzner:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name for the provider kind.
func (k ProviderKind) DisplayName() string {
	switch k {
	case KindAWS:
		return "AWS"
	case KindDigitalOcean:
		return "DigitalOcean"
	case KindHetzner:
		return "Hetzner"
	default:
		return string(k)
	}
}

// =============================================================================
// Provider
// =============================================================================

// Provider is an upstream cloud vendor account configured by an administrator.
// Credentials are stored encrypted and never serialized.
type Provider struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Kind                 ProviderKind `json:"kind"`
	CredentialsEncrypted []byte       `json:"-"` // Never serialize
	Active               bool         `json:"active"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// GenerateProviderID generates a new provider ID.
func GenerateProviderID() string {
	return "prov_" + uuid.New().String()[:8]
}

// NewProvider creates a new provider with validation.
func NewProvider(name string, kind ProviderKind, encryptedCreds []byte) (*Provider, error) {
	if name == "" {
		return nil, ErrProviderNameRequired
	}
	if !kind.IsValid() {
		return nil, ErrInvalidProviderKind
	}

	now := time.Now()
	return &Provider{
		ID:                   GenerateProviderID(),
		Name:                 name,
		Kind:                 kind,
		CredentialsEncrypted: encryptedCreds,
		Active:               true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// Deactivate marks the provider inactive. Historical resource instance
// associations are kept; deactivation is a soft reference only.
func (p *Provider) Deactivate() {
	p.Active = false
	p.UpdatedAt = time.Now()
}

// =============================================================================
// Plan
// =============================================================================

// Plan is a sellable instance size bound to exactly one provider.
// Prices are fixed-point decimals with 4-digit precision.
type Plan struct {
	ID             string    `json:"id"`
	ProviderID     string    `json:"provider_id"`
	UpstreamPlanID string    `json:"upstream_plan_id"`
	Name           string    `json:"name"`
	VCPUs          int       `json:"vcpus"`
	MemoryMB       int64     `json:"memory_mb"`
	DiskGB         int       `json:"disk_gb"`
	TransferGB     int64     `json:"transfer_gb"`

	// HourlyBase is the upstream cost; HourlyMarkup is added on top.
	HourlyBase   decimal.Decimal `json:"hourly_base"`
	HourlyMarkup decimal.Decimal `json:"hourly_markup"`

	// StoppedRatePercent is the percentage of the hourly rate a stopped
	// instance continues to accrue (0 = stopped instances are free).
	StoppedRatePercent int `json:"stopped_rate_percent"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GeneratePlanID generates a new plan ID.
func GeneratePlanID() string {
	return "plan_" + uuid.New().String()[:8]
}

// NewPlan creates a new plan with validation.
func NewPlan(providerID, upstreamPlanID, name string, base, markup decimal.Decimal) (*Plan, error) {
	if providerID == "" {
		return nil, ErrPlanProviderRequired
	}
	if upstreamPlanID == "" {
		return nil, ErrPlanUpstreamIDRequired
	}
	if base.IsNegative() || markup.IsNegative() {
		return nil, ErrPlanNegativePrice
	}

	now := time.Now()
	return &Plan{
		ID:             GeneratePlanID(),
		ProviderID:     providerID,
		UpstreamPlanID: upstreamPlanID,
		Name:           name,
		HourlyBase:     base.Round(4),
		HourlyMarkup:   markup.Round(4),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// HourlyRate returns the full hourly rate (base plus markup).
func (p *Plan) HourlyRate() decimal.Decimal {
	return p.HourlyBase.Add(p.HourlyMarkup)
}

// RateFor resolves the hourly rate for an instance status. Running instances
// pay the full rate; stopped instances pay the plan's stopped-rate fraction.
// All other statuses accrue nothing.
func (p *Plan) RateFor(status InstanceStatus) decimal.Decimal {
	switch status {
	case StatusRunning:
		return p.HourlyRate()
	case StatusStopped:
		if p.StoppedRatePercent <= 0 {
			return decimal.Zero
		}
		pct := decimal.NewFromInt(int64(p.StoppedRatePercent)).Div(decimal.NewFromInt(100))
		return p.HourlyRate().Mul(pct).Round(4)
	default:
		return decimal.Zero
	}
}

// Validate checks plan invariants.
func (p *Plan) Validate() error {
	if p.ProviderID == "" {
		return ErrPlanProviderRequired
	}
	if p.UpstreamPlanID == "" {
		return ErrPlanUpstreamIDRequired
	}
	if p.HourlyBase.IsNegative() || p.HourlyMarkup.IsNegative() {
		return ErrPlanNegativePrice
	}
	if p.StoppedRatePercent < 0 || p.StoppedRatePercent > 100 {
		return ErrPlanInvalidStoppedRate
	}
	return nil
}
