package api

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateProviderRequest is the request body for registering a provider.
// Credentials is the raw provider-specific credential document; it is
// validated, encrypted and never echoed back.
type CreateProviderRequest struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Credentials json.RawMessage `json:"credentials"`
}

// CreatePlanRequest is the request body for creating a sellable plan.
type CreatePlanRequest struct {
	ProviderID         string `json:"provider_id"`
	UpstreamPlanID     string `json:"upstream_plan_id"`
	Name               string `json:"name"`
	VCPUs              int    `json:"vcpus,omitempty"`
	MemoryMB           int64  `json:"memory_mb,omitempty"`
	DiskGB             int    `json:"disk_gb,omitempty"`
	TransferGB         int64  `json:"transfer_gb,omitempty"`
	HourlyBase         string `json:"hourly_base"`
	HourlyMarkup       string `json:"hourly_markup,omitempty"`
	StoppedRatePercent int    `json:"stopped_rate_percent,omitempty"`
}

// CreateInstanceRequest is the request body for provisioning an instance.
// image and app_image are mutually substitutable; app_image wins when both
// are set. public_key is inline credential material registered with the
// provider at create time.
type CreateInstanceRequest struct {
	OrgID      string   `json:"org_id"`
	ProviderID string   `json:"provider_id"`
	PlanID     string   `json:"plan_id"`
	Label      string   `json:"label"`
	Region     string   `json:"region"`
	Image      string   `json:"image,omitempty"`
	AppImage   string   `json:"app_image,omitempty"`
	PublicKey  string   `json:"public_key,omitempty"`
	SSHKeyIDs  []string `json:"ssh_key_ids,omitempty"`
	Backups    bool     `json:"backups,omitempty"`
	Monitoring bool     `json:"monitoring,omitempty"`
}

// InstanceActionRequest is the request body for a lifecycle action.
type InstanceActionRequest struct {
	Action string `json:"action"`
}

// CreateWalletRequest is the request body for opening a wallet.
type CreateWalletRequest struct {
	OrgID    string `json:"org_id"`
	Currency string `json:"currency,omitempty"`
}

// CreditWalletRequest is the request body for crediting a wallet.
type CreditWalletRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// CreateKeyRequest is the request body for adding an SSH key.
type CreateKeyRequest struct {
	UserID    string `json:"user_id"`
	Label     string `json:"label"`
	PublicKey string `json:"public_key"`
}

// =============================================================================
// Response Types
// =============================================================================

// ProviderResponse is the response for provider operations. Credentials are
// never included.
type ProviderResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlanResponse is the response for plan operations.
type PlanResponse struct {
	ID                 string    `json:"id"`
	ProviderID         string    `json:"provider_id"`
	UpstreamPlanID     string    `json:"upstream_plan_id"`
	Name               string    `json:"name"`
	VCPUs              int       `json:"vcpus"`
	MemoryMB           int64     `json:"memory_mb"`
	DiskGB             int       `json:"disk_gb"`
	TransferGB         int64     `json:"transfer_gb"`
	HourlyBase         string    `json:"hourly_base"`
	HourlyMarkup       string    `json:"hourly_markup"`
	HourlyRate         string    `json:"hourly_rate"`
	StoppedRatePercent int       `json:"stopped_rate_percent"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// InstanceResponse is the response for instance operations.
type InstanceResponse struct {
	ID                 string    `json:"id"`
	OrgID              string    `json:"org_id"`
	ProviderID         string    `json:"provider_id"`
	ProviderInstanceID string    `json:"provider_instance_id,omitempty"`
	PlanID             string    `json:"plan_id"`
	Label              string    `json:"label"`
	Region             string    `json:"region"`
	Status             string    `json:"status"`
	PublicIPv4         string    `json:"public_ipv4,omitempty"`
	PublicIPv6         string    `json:"public_ipv6,omitempty"`
	PrivateIPv4        string    `json:"private_ipv4,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	LastBilledAt       time.Time `json:"last_billed_at"`
}

// WalletResponse is the response for wallet operations.
type WalletResponse struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionResponse is one ledger entry.
type TransactionResponse struct {
	ID          string    `json:"id"`
	WalletID    string    `json:"wallet_id"`
	Amount      string    `json:"amount"`
	Type        string    `json:"type"`
	InstanceID  string    `json:"instance_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DriverStatusResponse is one billing driver's coordination row.
type DriverStatusResponse struct {
	Driver          string     `json:"driver"`
	LastHeartbeat   time.Time  `json:"last_heartbeat"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastRunSuccess  bool       `json:"last_run_success"`
	LastRunError    string     `json:"last_run_error,omitempty"`
	InstancesBilled int        `json:"instances_billed"`
	AmountBilled    string     `json:"amount_billed"`
}

// BillingStatusResponse reports both billing drivers.
type BillingStatusResponse struct {
	Drivers []DriverStatusResponse `json:"drivers"`
}

// BillingRunResponse summarizes a manually triggered billing pass.
type BillingRunResponse struct {
	InstancesSeen   int      `json:"instances_seen"`
	InstancesBilled int      `json:"instances_billed"`
	AmountBilled    string   `json:"amount_billed"`
	Suspended       []string `json:"suspended"`
	Errors          []string `json:"errors"`
}

// KeyBindingResponse is the sync outcome for one provider kind.
type KeyBindingResponse struct {
	UpstreamKeyID string `json:"upstream_key_id,omitempty"`
	SyncError     string `json:"sync_error,omitempty"`
	Synced        bool   `json:"synced"`
}

// KeyResponse is the response for SSH key operations.
type KeyResponse struct {
	ID          string                        `json:"id"`
	UserID      string                        `json:"user_id"`
	Label       string                        `json:"label"`
	PublicKey   string                        `json:"public_key"`
	Fingerprint string                        `json:"fingerprint"`
	Bindings    map[string]KeyBindingResponse `json:"bindings"`
	CreatedAt   time.Time                     `json:"created_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
}

// KeyRemovalResponse is the upstream removal outcome for one provider kind.
type KeyRemovalResponse struct {
	Removed bool   `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// DeleteKeyResponse reports per-provider removal outcomes for a deleted key.
// A failed upstream removal is a warning; the local record is gone either way.
type DeleteKeyResponse struct {
	Removals map[string]KeyRemovalResponse `json:"removals"`
}

// CatalogSizeResponse is one upstream instance size.
type CatalogSizeResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	VCPUs       int    `json:"vcpus"`
	MemoryMB    int64  `json:"memory_mb"`
	DiskGB      int    `json:"disk_gb"`
	PriceHourly string `json:"price_hourly"`
}

// CatalogImageResponse is one upstream base or application image.
type CatalogImageResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Application bool   `json:"application,omitempty"`
}

// CatalogRegionResponse is one upstream region.
type CatalogRegionResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ListProvidersResponse is the response for listing providers.
type ListProvidersResponse struct {
	Providers []ProviderResponse `json:"providers"`
	Total     int                `json:"total"`
}

// ListPlansResponse is the response for listing plans.
type ListPlansResponse struct {
	Plans []PlanResponse `json:"plans"`
	Total int            `json:"total"`
}

// ListInstancesResponse is the response for listing instances.
type ListInstancesResponse struct {
	Instances []InstanceResponse `json:"instances"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// ListTransactionsResponse is the response for a wallet's ledger.
type ListTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int                   `json:"total"`
}

// ListKeysResponse is the response for listing SSH keys.
type ListKeysResponse struct {
	Keys  []KeyResponse `json:"keys"`
	Total int           `json:"total"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
