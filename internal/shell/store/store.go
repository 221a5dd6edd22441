package store

import (
	"context"
	"time"

	"github.com/stackrent/stackrent/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for platform entities.
type Store interface {
	// Provider operations
	CreateProvider(ctx context.Context, provider *domain.Provider) error
	GetProvider(ctx context.Context, id string) (*domain.Provider, error)
	UpdateProvider(ctx context.Context, provider *domain.Provider) error
	ListProviders(ctx context.Context, opts ListOptions) ([]domain.Provider, error)
	ListActiveProviders(ctx context.Context) ([]domain.Provider, error)

	// Plan operations
	CreatePlan(ctx context.Context, plan *domain.Plan) error
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	UpdatePlan(ctx context.Context, plan *domain.Plan) error
	ListPlans(ctx context.Context, opts ListOptions) ([]domain.Plan, error)
	ListPlansByProvider(ctx context.Context, providerID string) ([]domain.Plan, error)

	// Resource instance operations
	CreateInstance(ctx context.Context, instance *domain.ResourceInstance) error
	GetInstance(ctx context.Context, id string) (*domain.ResourceInstance, error)
	UpdateInstance(ctx context.Context, instance *domain.ResourceInstance) error
	ListInstances(ctx context.Context, opts ListOptions) ([]domain.ResourceInstance, error)
	ListInstancesByOrg(ctx context.Context, orgID string, opts ListOptions) ([]domain.ResourceInstance, error)
	ListInstancesByProvider(ctx context.Context, providerID string) ([]domain.ResourceInstance, error)

	// ListBillableInstances returns running or stopped instances whose billing
	// checkpoint is at or before the cutoff.
	ListBillableInstances(ctx context.Context, cutoff time.Time) ([]domain.ResourceInstance, error)

	// Wallet operations
	CreateWallet(ctx context.Context, wallet *domain.Wallet) error
	GetWallet(ctx context.Context, id string) (*domain.Wallet, error)
	GetWalletByOrg(ctx context.Context, orgID string) (*domain.Wallet, error)
	UpdateWallet(ctx context.Context, wallet *domain.Wallet) error

	// Transaction operations (append-only ledger)
	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
	ListTransactionsByWallet(ctx context.Context, walletID string, opts ListOptions) ([]domain.Transaction, error)

	// Billing driver coordination
	UpsertDaemonStatus(ctx context.Context, status *domain.DaemonStatus) error
	GetDaemonStatus(ctx context.Context, driver string) (*domain.DaemonStatus, error)

	// User credential (SSH key) operations
	CreateUserCredential(ctx context.Context, cred *domain.UserCredential) error
	GetUserCredential(ctx context.Context, id string) (*domain.UserCredential, error)
	GetUserCredentialByFingerprint(ctx context.Context, userID, fingerprint string) (*domain.UserCredential, error)
	UpdateUserCredential(ctx context.Context, cred *domain.UserCredential) error
	DeleteUserCredential(ctx context.Context, id string) error
	ListUserCredentials(ctx context.Context, userID string, opts ListOptions) ([]domain.UserCredential, error)

	// Audit log (append-only)
	CreateAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
	ListAuditEntries(ctx context.Context, opts ListOptions) ([]domain.AuditEntry, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
