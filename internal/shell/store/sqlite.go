package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stackrent/stackrent/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Time / Money Helpers
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(op, entity, id, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, NewStoreError(op, entity, id, "invalid timestamp: "+s, ErrInvalidData)
	}
	return t, nil
}

func parseDecimal(op, entity, id, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, NewStoreError(op, entity, id, "invalid decimal: "+s, ErrInvalidData)
	}
	return d, nil
}

// =============================================================================
// Provider Operations
// =============================================================================

// providerRow represents a provider row in the database.
type providerRow struct {
	ID                   string `db:"id"`
	Name                 string `db:"name"`
	Kind                 string `db:"kind"`
	CredentialsEncrypted []byte `db:"credentials_encrypted"`
	Active               bool   `db:"active"`
	CreatedAt            string `db:"created_at"`
	UpdatedAt            string `db:"updated_at"`
}

func rowToProvider(row *providerRow) (*domain.Provider, error) {
	createdAt, err := parseTime("rowToProvider", "provider", row.ID, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime("rowToProvider", "provider", row.ID, row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Provider{
		ID:                   row.ID,
		Name:                 row.Name,
		Kind:                 domain.ProviderKind(row.Kind),
		CredentialsEncrypted: row.CredentialsEncrypted,
		Active:               row.Active,
		CreatedAt:            createdAt,
		UpdatedAt:            updatedAt,
	}, nil
}

func createProvider(ctx context.Context, exec executor, provider *domain.Provider) error {
	query := `
		INSERT INTO providers (id, name, kind, credentials_encrypted, active, created_at, updated_at)
		VALUES (:id, :name, :kind, :credentials_encrypted, :active, :created_at, :updated_at)`

	row := map[string]any{
		"id":                    provider.ID,
		"name":                  provider.Name,
		"kind":                  string(provider.Kind),
		"credentials_encrypted": provider.CredentialsEncrypted,
		"active":                provider.Active,
		"created_at":            fmtTime(provider.CreatedAt),
		"updated_at":            fmtTime(provider.UpdatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: providers.id") {
			return NewStoreError("CreateProvider", "provider", provider.ID, "provider with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateProvider", "provider", provider.ID, err.Error(), err)
	}
	return nil
}

func getProvider(ctx context.Context, exec executor, id string) (*domain.Provider, error) {
	query := `SELECT * FROM providers WHERE id = ?`

	var row providerRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProvider", "provider", id, "provider not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProvider", "provider", id, err.Error(), err)
	}
	return rowToProvider(&row)
}

func updateProvider(ctx context.Context, exec executor, provider *domain.Provider) error {
	query := `
		UPDATE providers SET
			name = :name,
			kind = :kind,
			credentials_encrypted = :credentials_encrypted,
			active = :active,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":                    provider.ID,
		"name":                  provider.Name,
		"kind":                  string(provider.Kind),
		"credentials_encrypted": provider.CredentialsEncrypted,
		"active":                provider.Active,
		"updated_at":            fmtTime(provider.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateProvider", "provider", provider.ID, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateProvider", "provider", provider.ID, "provider not found", ErrNotFound)
	}
	return nil
}

func listProviders(ctx context.Context, exec executor, opts ListOptions) ([]domain.Provider, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM providers ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []providerRow
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListProviders", "provider", "", err.Error(), err)
	}

	providers := make([]domain.Provider, 0, len(rows))
	for i := range rows {
		p, err := rowToProvider(&rows[i])
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, nil
}

func listActiveProviders(ctx context.Context, exec executor) ([]domain.Provider, error) {
	query := `SELECT * FROM providers WHERE active = 1 ORDER BY created_at ASC`

	var rows []providerRow
	if err := exec.SelectContext(ctx, &rows, query); err != nil {
		return nil, NewStoreError("ListActiveProviders", "provider", "", err.Error(), err)
	}

	providers := make([]domain.Provider, 0, len(rows))
	for i := range rows {
		p, err := rowToProvider(&rows[i])
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, nil
}

// =============================================================================
// Plan Operations
// =============================================================================

// planRow represents a plan row in the database.
type planRow struct {
	ID                 string `db:"id"`
	ProviderID         string `db:"provider_id"`
	UpstreamPlanID     string `db:"upstream_plan_id"`
	Name               string `db:"name"`
	VCPUs              int    `db:"vcpus"`
	MemoryMB           int64  `db:"memory_mb"`
	DiskGB             int    `db:"disk_gb"`
	TransferGB         int64  `db:"transfer_gb"`
	HourlyBase         string `db:"hourly_base"`
	HourlyMarkup       string `db:"hourly_markup"`
	StoppedRatePercent int    `db:"stopped_rate_percent"`
	Active             bool   `db:"active"`
	CreatedAt          string `db:"created_at"`
	UpdatedAt          string `db:"updated_at"`
}

func rowToPlan(row *planRow) (*domain.Plan, error) {
	base, err := parseDecimal("rowToPlan", "plan", row.ID, row.HourlyBase)
	if err != nil {
		return nil, err
	}
	markup, err := parseDecimal("rowToPlan", "plan", row.ID, row.HourlyMarkup)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime("rowToPlan", "plan", row.ID, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime("rowToPlan", "plan", row.ID, row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Plan{
		ID:                 row.ID,
		ProviderID:         row.ProviderID,
		UpstreamPlanID:     row.UpstreamPlanID,
		Name:               row.Name,
		VCPUs:              row.VCPUs,
		MemoryMB:           row.MemoryMB,
		DiskGB:             row.DiskGB,
		TransferGB:         row.TransferGB,
		HourlyBase:         base,
		HourlyMarkup:       markup,
		StoppedRatePercent: row.StoppedRatePercent,
		Active:             row.Active,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}

func planToRowMap(plan *domain.Plan) map[string]any {
	return map[string]any{
		"id":                   plan.ID,
		"provider_id":          plan.ProviderID,
		"upstream_plan_id":     plan.UpstreamPlanID,
		"name":                 plan.Name,
		"vcpus":                plan.VCPUs,
		"memory_mb":            plan.MemoryMB,
		"disk_gb":              plan.DiskGB,
		"transfer_gb":          plan.TransferGB,
		"hourly_base":          plan.HourlyBase.String(),
		"hourly_markup":        plan.HourlyMarkup.String(),
		"stopped_rate_percent": plan.StoppedRatePercent,
		"active":               plan.Active,
		"created_at":           fmtTime(plan.CreatedAt),
		"updated_at":           fmtTime(plan.UpdatedAt),
	}
}

func createPlan(ctx context.Context, exec executor, plan *domain.Plan) error {
	query := `
		INSERT INTO plans (
			id, provider_id, upstream_plan_id, name, vcpus, memory_mb, disk_gb,
			transfer_gb, hourly_base, hourly_markup, stopped_rate_percent,
			active, created_at, updated_at
		) VALUES (
			:id, :provider_id, :upstream_plan_id, :name, :vcpus, :memory_mb, :disk_gb,
			:transfer_gb, :hourly_base, :hourly_markup, :stopped_rate_percent,
			:active, :created_at, :updated_at
		)`

	_, err := exec.NamedExecContext(ctx, query, planToRowMap(plan))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: plans.id") {
			return NewStoreError("CreatePlan", "plan", plan.ID, "plan with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreatePlan", "plan", plan.ID, "provider not found", ErrForeignKey)
		}
		return NewStoreError("CreatePlan", "plan", plan.ID, err.Error(), err)
	}
	return nil
}

func getPlan(ctx context.Context, exec executor, id string) (*domain.Plan, error) {
	query := `SELECT * FROM plans WHERE id = ?`

	var row planRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetPlan", "plan", id, "plan not found", ErrNotFound)
		}
		return nil, NewStoreError("GetPlan", "plan", id, err.Error(), err)
	}
	return rowToPlan(&row)
}

func updatePlan(ctx context.Context, exec executor, plan *domain.Plan) error {
	query := `
		UPDATE plans SET
			provider_id = :provider_id,
			upstream_plan_id = :upstream_plan_id,
			name = :name,
			vcpus = :vcpus,
			memory_mb = :memory_mb,
			disk_gb = :disk_gb,
			transfer_gb = :transfer_gb,
			hourly_base = :hourly_base,
			hourly_markup = :hourly_markup,
			stopped_rate_percent = :stopped_rate_percent,
			active = :active,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, planToRowMap(plan))
	if err != nil {
		return NewStoreError("UpdatePlan", "plan", plan.ID, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdatePlan", "plan", plan.ID, "plan not found", ErrNotFound)
	}
	return nil
}

func listPlans(ctx context.Context, exec executor, opts ListOptions) ([]domain.Plan, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM plans ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []planRow
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListPlans", "plan", "", err.Error(), err)
	}

	plans := make([]domain.Plan, 0, len(rows))
	for i := range rows {
		p, err := rowToPlan(&rows[i])
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, nil
}

func listPlansByProvider(ctx context.Context, exec executor, providerID string) ([]domain.Plan, error) {
	query := `SELECT * FROM plans WHERE provider_id = ? ORDER BY created_at ASC`

	var rows []planRow
	if err := exec.SelectContext(ctx, &rows, query, providerID); err != nil {
		return nil, NewStoreError("ListPlansByProvider", "plan", "", err.Error(), err)
	}

	plans := make([]domain.Plan, 0, len(rows))
	for i := range rows {
		p, err := rowToPlan(&rows[i])
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, nil
}

// =============================================================================
// Resource Instance Operations
// =============================================================================

// instanceRow represents a resource instance row in the database.
type instanceRow struct {
	ID                 string `db:"id"`
	OrgID              string `db:"org_id"`
	ProviderID         string `db:"provider_id"`
	ProviderInstanceID string `db:"provider_instance_id"`
	PlanID             string `db:"plan_id"`
	Label              string `db:"label"`
	Region             string `db:"region"`
	Status             string `db:"status"`
	PublicIPv4         string `db:"public_ipv4"`
	PublicIPv6         string `db:"public_ipv6"`
	PrivateIPv4        string `db:"private_ipv4"`
	ErrorMessage       string `db:"error_message"`
	CreatedAt          string `db:"created_at"`
	UpdatedAt          string `db:"updated_at"`
	LastBilledAt       string `db:"last_billed_at"`
}

func rowToInstance(row *instanceRow) (*domain.ResourceInstance, error) {
	createdAt, err := parseTime("rowToInstance", "instance", row.ID, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime("rowToInstance", "instance", row.ID, row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	lastBilledAt, err := parseTime("rowToInstance", "instance", row.ID, row.LastBilledAt)
	if err != nil {
		return nil, err
	}
	return &domain.ResourceInstance{
		ID:                 row.ID,
		OrgID:              row.OrgID,
		ProviderID:         row.ProviderID,
		ProviderInstanceID: row.ProviderInstanceID,
		PlanID:             row.PlanID,
		Label:              row.Label,
		Region:             row.Region,
		Status:             domain.InstanceStatus(row.Status),
		PublicIPv4:         row.PublicIPv4,
		PublicIPv6:         row.PublicIPv6,
		PrivateIPv4:        row.PrivateIPv4,
		ErrorMessage:       row.ErrorMessage,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
		LastBilledAt:       lastBilledAt,
	}, nil
}

func instanceToRowMap(instance *domain.ResourceInstance) map[string]any {
	return map[string]any{
		"id":                   instance.ID,
		"org_id":               instance.OrgID,
		"provider_id":          instance.ProviderID,
		"provider_instance_id": instance.ProviderInstanceID,
		"plan_id":              instance.PlanID,
		"label":                instance.Label,
		"region":               instance.Region,
		"status":               string(instance.Status),
		"public_ipv4":          instance.PublicIPv4,
		"public_ipv6":          instance.PublicIPv6,
		"private_ipv4":         instance.PrivateIPv4,
		"error_message":        instance.ErrorMessage,
		"created_at":           fmtTime(instance.CreatedAt),
		"updated_at":           fmtTime(instance.UpdatedAt),
		"last_billed_at":       fmtTime(instance.LastBilledAt),
	}
}

func createInstance(ctx context.Context, exec executor, instance *domain.ResourceInstance) error {
	query := `
		INSERT INTO instances (
			id, org_id, provider_id, provider_instance_id, plan_id, label, region,
			status, public_ipv4, public_ipv6, private_ipv4, error_message,
			created_at, updated_at, last_billed_at
		) VALUES (
			:id, :org_id, :provider_id, :provider_instance_id, :plan_id, :label, :region,
			:status, :public_ipv4, :public_ipv6, :private_ipv4, :error_message,
			:created_at, :updated_at, :last_billed_at
		)`

	_, err := exec.NamedExecContext(ctx, query, instanceToRowMap(instance))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: instances.id") {
			return NewStoreError("CreateInstance", "instance", instance.ID, "instance with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateInstance", "instance", instance.ID, "provider or plan not found", ErrForeignKey)
		}
		return NewStoreError("CreateInstance", "instance", instance.ID, err.Error(), err)
	}
	return nil
}

func getInstance(ctx context.Context, exec executor, id string) (*domain.ResourceInstance, error) {
	query := `SELECT * FROM instances WHERE id = ?`

	var row instanceRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetInstance", "instance", id, "instance not found", ErrNotFound)
		}
		return nil, NewStoreError("GetInstance", "instance", id, err.Error(), err)
	}
	return rowToInstance(&row)
}

func updateInstance(ctx context.Context, exec executor, instance *domain.ResourceInstance) error {
	query := `
		UPDATE instances SET
			org_id = :org_id,
			provider_id = :provider_id,
			provider_instance_id = :provider_instance_id,
			plan_id = :plan_id,
			label = :label,
			region = :region,
			status = :status,
			public_ipv4 = :public_ipv4,
			public_ipv6 = :public_ipv6,
			private_ipv4 = :private_ipv4,
			error_message = :error_message,
			updated_at = :updated_at,
			last_billed_at = :last_billed_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, instanceToRowMap(instance))
	if err != nil {
		return NewStoreError("UpdateInstance", "instance", instance.ID, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateInstance", "instance", instance.ID, "instance not found", ErrNotFound)
	}
	return nil
}

func selectInstances(ctx context.Context, exec executor, op, query string, args ...any) ([]domain.ResourceInstance, error) {
	var rows []instanceRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError(op, "instance", "", err.Error(), err)
	}

	instances := make([]domain.ResourceInstance, 0, len(rows))
	for i := range rows {
		inst, err := rowToInstance(&rows[i])
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, nil
}

func listInstances(ctx context.Context, exec executor, opts ListOptions) ([]domain.ResourceInstance, error) {
	opts = opts.Normalize()
	return selectInstances(ctx, exec, "ListInstances",
		`SELECT * FROM instances ORDER BY created_at DESC LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
}

func listInstancesByOrg(ctx context.Context, exec executor, orgID string, opts ListOptions) ([]domain.ResourceInstance, error) {
	opts = opts.Normalize()
	return selectInstances(ctx, exec, "ListInstancesByOrg",
		`SELECT * FROM instances WHERE org_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		orgID, opts.Limit, opts.Offset)
}

func listInstancesByProvider(ctx context.Context, exec executor, providerID string) ([]domain.ResourceInstance, error) {
	return selectInstances(ctx, exec, "ListInstancesByProvider",
		`SELECT * FROM instances WHERE provider_id = ? ORDER BY created_at ASC`, providerID)
}

func listBillableInstances(ctx context.Context, exec executor, cutoff time.Time) ([]domain.ResourceInstance, error) {
	return selectInstances(ctx, exec, "ListBillableInstances",
		`SELECT * FROM instances
		 WHERE status IN ('running', 'stopped') AND last_billed_at <= ?
		 ORDER BY last_billed_at ASC`, fmtTime(cutoff))
}

// =============================================================================
// Wallet Operations
// =============================================================================

// walletRow represents a wallet row in the database.
type walletRow struct {
	ID        string `db:"id"`
	OrgID     string `db:"org_id"`
	Balance   string `db:"balance"`
	Currency  string `db:"currency"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func rowToWallet(row *walletRow) (*domain.Wallet, error) {
	balance, err := parseDecimal("rowToWallet", "wallet", row.ID, row.Balance)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime("rowToWallet", "wallet", row.ID, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime("rowToWallet", "wallet", row.ID, row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Wallet{
		ID:        row.ID,
		OrgID:     row.OrgID,
		Balance:   balance,
		Currency:  row.Currency,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func createWallet(ctx context.Context, exec executor, wallet *domain.Wallet) error {
	query := `
		INSERT INTO wallets (id, org_id, balance, currency, created_at, updated_at)
		VALUES (:id, :org_id, :balance, :currency, :created_at, :updated_at)`

	row := map[string]any{
		"id":         wallet.ID,
		"org_id":     wallet.OrgID,
		"balance":    wallet.Balance.String(),
		"currency":   wallet.Currency,
		"created_at": fmtTime(wallet.CreatedAt),
		"updated_at": fmtTime(wallet.UpdatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateWallet", "wallet", wallet.ID, "wallet already exists for this organization", ErrDuplicateID)
		}
		return NewStoreError("CreateWallet", "wallet", wallet.ID, err.Error(), err)
	}
	return nil
}

func getWallet(ctx context.Context, exec executor, id string) (*domain.Wallet, error) {
	query := `SELECT * FROM wallets WHERE id = ?`

	var row walletRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetWallet", "wallet", id, "wallet not found", ErrNotFound)
		}
		return nil, NewStoreError("GetWallet", "wallet", id, err.Error(), err)
	}
	return rowToWallet(&row)
}

func getWalletByOrg(ctx context.Context, exec executor, orgID string) (*domain.Wallet, error) {
	query := `SELECT * FROM wallets WHERE org_id = ?`

	var row walletRow
	err := exec.GetContext(ctx, &row, query, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetWalletByOrg", "wallet", orgID, "wallet not found", ErrNotFound)
		}
		return nil, NewStoreError("GetWalletByOrg", "wallet", orgID, err.Error(), err)
	}
	return rowToWallet(&row)
}

func updateWallet(ctx context.Context, exec executor, wallet *domain.Wallet) error {
	query := `
		UPDATE wallets SET
			balance = :balance,
			currency = :currency,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":         wallet.ID,
		"balance":    wallet.Balance.String(),
		"currency":   wallet.Currency,
		"updated_at": fmtTime(wallet.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateWallet", "wallet", wallet.ID, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateWallet", "wallet", wallet.ID, "wallet not found", ErrNotFound)
	}
	return nil
}

// =============================================================================
// Transaction (Ledger) Operations
// =============================================================================

// transactionRow represents a ledger row in the database.
type transactionRow struct {
	ID          string `db:"id"`
	WalletID    string `db:"wallet_id"`
	Amount      string `db:"amount"`
	Type        string `db:"type"`
	InstanceID  string `db:"instance_id"`
	Description string `db:"description"`
	CreatedAt   string `db:"created_at"`
}

func rowToTransaction(row *transactionRow) (*domain.Transaction, error) {
	amount, err := parseDecimal("rowToTransaction", "transaction", row.ID, row.Amount)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime("rowToTransaction", "transaction", row.ID, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		ID:          row.ID,
		WalletID:    row.WalletID,
		Amount:      amount,
		Type:        domain.TransactionType(row.Type),
		InstanceID:  row.InstanceID,
		Description: row.Description,
		CreatedAt:   createdAt,
	}, nil
}

func createTransaction(ctx context.Context, exec executor, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, wallet_id, amount, type, instance_id, description, created_at)
		VALUES (:id, :wallet_id, :amount, :type, :instance_id, :description, :created_at)`

	row := map[string]any{
		"id":          txn.ID,
		"wallet_id":   txn.WalletID,
		"amount":      txn.Amount.String(),
		"type":        string(txn.Type),
		"instance_id": txn.InstanceID,
		"description": txn.Description,
		"created_at":  fmtTime(txn.CreatedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: transactions.id") {
			return NewStoreError("CreateTransaction", "transaction", txn.ID, "transaction with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateTransaction", "transaction", txn.ID, "wallet not found", ErrForeignKey)
		}
		return NewStoreError("CreateTransaction", "transaction", txn.ID, err.Error(), err)
	}
	return nil
}

func listTransactionsByWallet(ctx context.Context, exec executor, walletID string, opts ListOptions) ([]domain.Transaction, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM transactions WHERE wallet_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []transactionRow
	if err := exec.SelectContext(ctx, &rows, query, walletID, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListTransactionsByWallet", "transaction", "", err.Error(), err)
	}

	txns := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		t, err := rowToTransaction(&rows[i])
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, nil
}

// =============================================================================
// Billing Daemon Status Operations
// =============================================================================

// daemonStatusRow represents a billing driver coordination row.
type daemonStatusRow struct {
	Driver          string  `db:"driver"`
	LastHeartbeat   string  `db:"last_heartbeat"`
	LastRunAt       *string `db:"last_run_at"`
	LastRunSuccess  bool    `db:"last_run_success"`
	LastRunError    string  `db:"last_run_error"`
	InstancesBilled int     `db:"instances_billed"`
	AmountBilled    string  `db:"amount_billed"`
}

func rowToDaemonStatus(row *daemonStatusRow) (*domain.DaemonStatus, error) {
	heartbeat, err := parseTime("rowToDaemonStatus", "daemon_status", row.Driver, row.LastHeartbeat)
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("rowToDaemonStatus", "daemon_status", row.Driver, row.AmountBilled)
	if err != nil {
		return nil, err
	}

	status := &domain.DaemonStatus{
		Driver:          row.Driver,
		LastHeartbeat:   heartbeat,
		LastRunSuccess:  row.LastRunSuccess,
		LastRunError:    row.LastRunError,
		InstancesBilled: row.InstancesBilled,
		AmountBilled:    amount,
	}
	if row.LastRunAt != nil {
		lastRun, err := parseTime("rowToDaemonStatus", "daemon_status", row.Driver, *row.LastRunAt)
		if err != nil {
			return nil, err
		}
		status.LastRunAt = &lastRun
	}
	return status, nil
}

func upsertDaemonStatus(ctx context.Context, exec executor, status *domain.DaemonStatus) error {
	query := `
		INSERT INTO billing_daemon_status (
			driver, last_heartbeat, last_run_at, last_run_success,
			last_run_error, instances_billed, amount_billed
		) VALUES (
			:driver, :last_heartbeat, :last_run_at, :last_run_success,
			:last_run_error, :instances_billed, :amount_billed
		)
		ON CONFLICT (driver) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			last_run_at = excluded.last_run_at,
			last_run_success = excluded.last_run_success,
			last_run_error = excluded.last_run_error,
			instances_billed = excluded.instances_billed,
			amount_billed = excluded.amount_billed`

	var lastRunAt *string
	if status.LastRunAt != nil {
		s := fmtTime(*status.LastRunAt)
		lastRunAt = &s
	}

	row := map[string]any{
		"driver":           status.Driver,
		"last_heartbeat":   fmtTime(status.LastHeartbeat),
		"last_run_at":      lastRunAt,
		"last_run_success": status.LastRunSuccess,
		"last_run_error":   status.LastRunError,
		"instances_billed": status.InstancesBilled,
		"amount_billed":    status.AmountBilled.String(),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("UpsertDaemonStatus", "daemon_status", status.Driver, err.Error(), err)
	}
	return nil
}

func getDaemonStatus(ctx context.Context, exec executor, driver string) (*domain.DaemonStatus, error) {
	query := `SELECT * FROM billing_daemon_status WHERE driver = ?`

	var row daemonStatusRow
	err := exec.GetContext(ctx, &row, query, driver)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDaemonStatus", "daemon_status", driver, "no status recorded", ErrNotFound)
		}
		return nil, NewStoreError("GetDaemonStatus", "daemon_status", driver, err.Error(), err)
	}
	return rowToDaemonStatus(&row)
}

// =============================================================================
// User Credential Operations
// =============================================================================

// credentialRow represents a user credential row in the database.
type credentialRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Label       string `db:"label"`
	PublicKey   string `db:"public_key"`
	Fingerprint string `db:"fingerprint"`
	Bindings    string `db:"bindings"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func rowToCredential(row *credentialRow) (*domain.UserCredential, error) {
	var bindings map[domain.ProviderKind]domain.KeyBinding
	if err := json.Unmarshal([]byte(row.Bindings), &bindings); err != nil {
		return nil, NewStoreError("rowToCredential", "credential", row.ID, "failed to parse bindings", ErrInvalidData)
	}
	createdAt, err := parseTime("rowToCredential", "credential", row.ID, row.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime("rowToCredential", "credential", row.ID, row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.UserCredential{
		ID:          row.ID,
		UserID:      row.UserID,
		Label:       row.Label,
		PublicKey:   row.PublicKey,
		Fingerprint: row.Fingerprint,
		Bindings:    bindings,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func credentialToRowMap(cred *domain.UserCredential) (map[string]any, error) {
	bindingsJSON, err := json.Marshal(cred.Bindings)
	if err != nil {
		return nil, NewStoreError("credentialToRowMap", "credential", cred.ID, "failed to serialize bindings", ErrInvalidData)
	}
	return map[string]any{
		"id":          cred.ID,
		"user_id":     cred.UserID,
		"label":       cred.Label,
		"public_key":  cred.PublicKey,
		"fingerprint": cred.Fingerprint,
		"bindings":    string(bindingsJSON),
		"created_at":  fmtTime(cred.CreatedAt),
		"updated_at":  fmtTime(cred.UpdatedAt),
	}, nil
}

func createUserCredential(ctx context.Context, exec executor, cred *domain.UserCredential) error {
	row, err := credentialToRowMap(cred)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_credentials (id, user_id, label, public_key, fingerprint, bindings, created_at, updated_at)
		VALUES (:id, :user_id, :label, :public_key, :fingerprint, :bindings, :created_at, :updated_at)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: user_credentials.user_id, user_credentials.fingerprint") {
			return NewStoreError("CreateUserCredential", "credential", cred.ID, "fingerprint already registered for this user", ErrDuplicateFingerprint)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: user_credentials.id") {
			return NewStoreError("CreateUserCredential", "credential", cred.ID, "credential with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateUserCredential", "credential", cred.ID, err.Error(), err)
	}
	return nil
}

func getUserCredential(ctx context.Context, exec executor, id string) (*domain.UserCredential, error) {
	query := `SELECT * FROM user_credentials WHERE id = ?`

	var row credentialRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetUserCredential", "credential", id, "credential not found", ErrNotFound)
		}
		return nil, NewStoreError("GetUserCredential", "credential", id, err.Error(), err)
	}
	return rowToCredential(&row)
}

func getUserCredentialByFingerprint(ctx context.Context, exec executor, userID, fingerprint string) (*domain.UserCredential, error) {
	query := `SELECT * FROM user_credentials WHERE user_id = ? AND fingerprint = ?`

	var row credentialRow
	err := exec.GetContext(ctx, &row, query, userID, fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetUserCredentialByFingerprint", "credential", fingerprint, "credential not found", ErrNotFound)
		}
		return nil, NewStoreError("GetUserCredentialByFingerprint", "credential", fingerprint, err.Error(), err)
	}
	return rowToCredential(&row)
}

func updateUserCredential(ctx context.Context, exec executor, cred *domain.UserCredential) error {
	row, err := credentialToRowMap(cred)
	if err != nil {
		return err
	}

	query := `
		UPDATE user_credentials SET
			label = :label,
			bindings = :bindings,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateUserCredential", "credential", cred.ID, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateUserCredential", "credential", cred.ID, "credential not found", ErrNotFound)
	}
	return nil
}

func deleteUserCredential(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM user_credentials WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteUserCredential", "credential", id, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteUserCredential", "credential", id, "credential not found", ErrNotFound)
	}
	return nil
}

func listUserCredentials(ctx context.Context, exec executor, userID string, opts ListOptions) ([]domain.UserCredential, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM user_credentials WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []credentialRow
	if err := exec.SelectContext(ctx, &rows, query, userID, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListUserCredentials", "credential", "", err.Error(), err)
	}

	creds := make([]domain.UserCredential, 0, len(rows))
	for i := range rows {
		c, err := rowToCredential(&rows[i])
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, nil
}

// =============================================================================
// Audit Operations
// =============================================================================

// auditRow represents an audit entry row in the database.
type auditRow struct {
	ID        string `db:"id"`
	Actor     string `db:"actor"`
	Action    string `db:"action"`
	Entity    string `db:"entity"`
	EntityID  string `db:"entity_id"`
	Detail    string `db:"detail"`
	CreatedAt string `db:"created_at"`
}

func createAuditEntry(ctx context.Context, exec executor, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, actor, action, entity, entity_id, detail, created_at)
		VALUES (:id, :actor, :action, :entity, :entity_id, :detail, :created_at)`

	row := map[string]any{
		"id":         entry.ID,
		"actor":      entry.Actor,
		"action":     entry.Action,
		"entity":     entry.Entity,
		"entity_id":  entry.EntityID,
		"detail":     entry.Detail,
		"created_at": fmtTime(entry.CreatedAt),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("CreateAuditEntry", "audit", entry.ID, err.Error(), err)
	}
	return nil
}

func listAuditEntries(ctx context.Context, exec executor, opts ListOptions) ([]domain.AuditEntry, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM audit_entries ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []auditRow
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListAuditEntries", "audit", "", err.Error(), err)
	}

	entries := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		createdAt, err := parseTime("ListAuditEntries", "audit", row.ID, row.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.AuditEntry{
			ID:        row.ID,
			Actor:     row.Actor,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  row.EntityID,
			Detail:    row.Detail,
			CreatedAt: createdAt,
		})
	}
	return entries, nil
}

// =============================================================================
// Store Method Shims (database connection)
// =============================================================================

func (s *SQLiteStore) CreateProvider(ctx context.Context, provider *domain.Provider) error {
	return createProvider(ctx, s.db, provider)
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	return getProvider(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateProvider(ctx context.Context, provider *domain.Provider) error {
	return updateProvider(ctx, s.db, provider)
}

func (s *SQLiteStore) ListProviders(ctx context.Context, opts ListOptions) ([]domain.Provider, error) {
	return listProviders(ctx, s.db, opts)
}

func (s *SQLiteStore) ListActiveProviders(ctx context.Context) ([]domain.Provider, error) {
	return listActiveProviders(ctx, s.db)
}

func (s *SQLiteStore) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	return createPlan(ctx, s.db, plan)
}

func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return getPlan(ctx, s.db, id)
}

func (s *SQLiteStore) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	return updatePlan(ctx, s.db, plan)
}

func (s *SQLiteStore) ListPlans(ctx context.Context, opts ListOptions) ([]domain.Plan, error) {
	return listPlans(ctx, s.db, opts)
}

func (s *SQLiteStore) ListPlansByProvider(ctx context.Context, providerID string) ([]domain.Plan, error) {
	return listPlansByProvider(ctx, s.db, providerID)
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, instance *domain.ResourceInstance) error {
	return createInstance(ctx, s.db, instance)
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*domain.ResourceInstance, error) {
	return getInstance(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateInstance(ctx context.Context, instance *domain.ResourceInstance) error {
	return updateInstance(ctx, s.db, instance)
}

func (s *SQLiteStore) ListInstances(ctx context.Context, opts ListOptions) ([]domain.ResourceInstance, error) {
	return listInstances(ctx, s.db, opts)
}

func (s *SQLiteStore) ListInstancesByOrg(ctx context.Context, orgID string, opts ListOptions) ([]domain.ResourceInstance, error) {
	return listInstancesByOrg(ctx, s.db, orgID, opts)
}

func (s *SQLiteStore) ListInstancesByProvider(ctx context.Context, providerID string) ([]domain.ResourceInstance, error) {
	return listInstancesByProvider(ctx, s.db, providerID)
}

func (s *SQLiteStore) ListBillableInstances(ctx context.Context, cutoff time.Time) ([]domain.ResourceInstance, error) {
	return listBillableInstances(ctx, s.db, cutoff)
}

func (s *SQLiteStore) CreateWallet(ctx context.Context, wallet *domain.Wallet) error {
	return createWallet(ctx, s.db, wallet)
}

func (s *SQLiteStore) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	return getWallet(ctx, s.db, id)
}

func (s *SQLiteStore) GetWalletByOrg(ctx context.Context, orgID string) (*domain.Wallet, error) {
	return getWalletByOrg(ctx, s.db, orgID)
}

func (s *SQLiteStore) UpdateWallet(ctx context.Context, wallet *domain.Wallet) error {
	return updateWallet(ctx, s.db, wallet)
}

func (s *SQLiteStore) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	return createTransaction(ctx, s.db, txn)
}

func (s *SQLiteStore) ListTransactionsByWallet(ctx context.Context, walletID string, opts ListOptions) ([]domain.Transaction, error) {
	return listTransactionsByWallet(ctx, s.db, walletID, opts)
}

func (s *SQLiteStore) UpsertDaemonStatus(ctx context.Context, status *domain.DaemonStatus) error {
	return upsertDaemonStatus(ctx, s.db, status)
}

func (s *SQLiteStore) GetDaemonStatus(ctx context.Context, driver string) (*domain.DaemonStatus, error) {
	return getDaemonStatus(ctx, s.db, driver)
}

func (s *SQLiteStore) CreateUserCredential(ctx context.Context, cred *domain.UserCredential) error {
	return createUserCredential(ctx, s.db, cred)
}

func (s *SQLiteStore) GetUserCredential(ctx context.Context, id string) (*domain.UserCredential, error) {
	return getUserCredential(ctx, s.db, id)
}

func (s *SQLiteStore) GetUserCredentialByFingerprint(ctx context.Context, userID, fingerprint string) (*domain.UserCredential, error) {
	return getUserCredentialByFingerprint(ctx, s.db, userID, fingerprint)
}

func (s *SQLiteStore) UpdateUserCredential(ctx context.Context, cred *domain.UserCredential) error {
	return updateUserCredential(ctx, s.db, cred)
}

func (s *SQLiteStore) DeleteUserCredential(ctx context.Context, id string) error {
	return deleteUserCredential(ctx, s.db, id)
}

func (s *SQLiteStore) ListUserCredentials(ctx context.Context, userID string, opts ListOptions) ([]domain.UserCredential, error) {
	return listUserCredentials(ctx, s.db, userID, opts)
}

func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	return createAuditEntry(ctx, s.db, entry)
}

func (s *SQLiteStore) ListAuditEntries(ctx context.Context, opts ListOptions) ([]domain.AuditEntry, error) {
	return listAuditEntries(ctx, s.db, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateProvider(ctx context.Context, provider *domain.Provider) error {
	return createProvider(ctx, s.tx, provider)
}

func (s *txSQLiteStore) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	return getProvider(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateProvider(ctx context.Context, provider *domain.Provider) error {
	return updateProvider(ctx, s.tx, provider)
}

func (s *txSQLiteStore) ListProviders(ctx context.Context, opts ListOptions) ([]domain.Provider, error) {
	return listProviders(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListActiveProviders(ctx context.Context) ([]domain.Provider, error) {
	return listActiveProviders(ctx, s.tx)
}

func (s *txSQLiteStore) CreatePlan(ctx context.Context, plan *domain.Plan) error {
	return createPlan(ctx, s.tx, plan)
}

func (s *txSQLiteStore) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return getPlan(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdatePlan(ctx context.Context, plan *domain.Plan) error {
	return updatePlan(ctx, s.tx, plan)
}

func (s *txSQLiteStore) ListPlans(ctx context.Context, opts ListOptions) ([]domain.Plan, error) {
	return listPlans(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListPlansByProvider(ctx context.Context, providerID string) ([]domain.Plan, error) {
	return listPlansByProvider(ctx, s.tx, providerID)
}

func (s *txSQLiteStore) CreateInstance(ctx context.Context, instance *domain.ResourceInstance) error {
	return createInstance(ctx, s.tx, instance)
}

func (s *txSQLiteStore) GetInstance(ctx context.Context, id string) (*domain.ResourceInstance, error) {
	return getInstance(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateInstance(ctx context.Context, instance *domain.ResourceInstance) error {
	return updateInstance(ctx, s.tx, instance)
}

func (s *txSQLiteStore) ListInstances(ctx context.Context, opts ListOptions) ([]domain.ResourceInstance, error) {
	return listInstances(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListInstancesByOrg(ctx context.Context, orgID string, opts ListOptions) ([]domain.ResourceInstance, error) {
	return listInstancesByOrg(ctx, s.tx, orgID, opts)
}

func (s *txSQLiteStore) ListInstancesByProvider(ctx context.Context, providerID string) ([]domain.ResourceInstance, error) {
	return listInstancesByProvider(ctx, s.tx, providerID)
}

func (s *txSQLiteStore) ListBillableInstances(ctx context.Context, cutoff time.Time) ([]domain.ResourceInstance, error) {
	return listBillableInstances(ctx, s.tx, cutoff)
}

func (s *txSQLiteStore) CreateWallet(ctx context.Context, wallet *domain.Wallet) error {
	return createWallet(ctx, s.tx, wallet)
}

func (s *txSQLiteStore) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	return getWallet(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetWalletByOrg(ctx context.Context, orgID string) (*domain.Wallet, error) {
	return getWalletByOrg(ctx, s.tx, orgID)
}

func (s *txSQLiteStore) UpdateWallet(ctx context.Context, wallet *domain.Wallet) error {
	return updateWallet(ctx, s.tx, wallet)
}

func (s *txSQLiteStore) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	return createTransaction(ctx, s.tx, txn)
}

func (s *txSQLiteStore) ListTransactionsByWallet(ctx context.Context, walletID string, opts ListOptions) ([]domain.Transaction, error) {
	return listTransactionsByWallet(ctx, s.tx, walletID, opts)
}

func (s *txSQLiteStore) UpsertDaemonStatus(ctx context.Context, status *domain.DaemonStatus) error {
	return upsertDaemonStatus(ctx, s.tx, status)
}

func (s *txSQLiteStore) GetDaemonStatus(ctx context.Context, driver string) (*domain.DaemonStatus, error) {
	return getDaemonStatus(ctx, s.tx, driver)
}

func (s *txSQLiteStore) CreateUserCredential(ctx context.Context, cred *domain.UserCredential) error {
	return createUserCredential(ctx, s.tx, cred)
}

func (s *txSQLiteStore) GetUserCredential(ctx context.Context, id string) (*domain.UserCredential, error) {
	return getUserCredential(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetUserCredentialByFingerprint(ctx context.Context, userID, fingerprint string) (*domain.UserCredential, error) {
	return getUserCredentialByFingerprint(ctx, s.tx, userID, fingerprint)
}

func (s *txSQLiteStore) UpdateUserCredential(ctx context.Context, cred *domain.UserCredential) error {
	return updateUserCredential(ctx, s.tx, cred)
}

func (s *txSQLiteStore) DeleteUserCredential(ctx context.Context, id string) error {
	return deleteUserCredential(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListUserCredentials(ctx context.Context, userID string, opts ListOptions) ([]domain.UserCredential, error) {
	return listUserCredentials(ctx, s.tx, userID, opts)
}

func (s *txSQLiteStore) CreateAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	return createAuditEntry(ctx, s.tx, entry)
}

func (s *txSQLiteStore) ListAuditEntries(ctx context.Context, opts ListOptions) ([]domain.AuditEntry, error) {
	return listAuditEntries(ctx, s.tx, opts)
}

// Nested transactions are not supported; reuse the current one.
func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	return nil
}
