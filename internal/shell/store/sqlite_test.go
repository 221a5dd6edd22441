package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackrent/stackrent/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestProvider(t *testing.T, store Store) *domain.Provider {
	t.Helper()
	provider, err := domain.NewProvider("Test DO Account", domain.KindDigitalOcean, []byte("encrypted-blob"))
	require.NoError(t, err)

	err = store.CreateProvider(context.Background(), provider)
	require.NoError(t, err)
	return provider
}

func createTestPlan(t *testing.T, store Store, providerID string) *domain.Plan {
	t.Helper()
	plan, err := domain.NewPlan(providerID, "s-1vcpu-1gb", "Basic 1GB",
		decimal.RequireFromString("0.0065"), decimal.RequireFromString("0.0035"))
	require.NoError(t, err)

	err = store.CreatePlan(context.Background(), plan)
	require.NoError(t, err)
	return plan
}

func createTestInstance(t *testing.T, store Store, providerID, planID string) *domain.ResourceInstance {
	t.Helper()
	instance, err := domain.NewResourceInstance("org-1", providerID, planID, "web-1", "nyc3")
	require.NoError(t, err)

	err = store.CreateInstance(context.Background(), instance)
	require.NoError(t, err)
	return instance
}

func createTestWallet(t *testing.T, store Store, orgID string) *domain.Wallet {
	t.Helper()
	wallet, err := domain.NewWallet(orgID, "USD")
	require.NoError(t, err)

	err = store.CreateWallet(context.Background(), wallet)
	require.NoError(t, err)
	return wallet
}

// =============================================================================
// Provider Tests
// =============================================================================

func TestCreateProvider_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	provider := createTestProvider(t, store)

	retrieved, err := store.GetProvider(ctx, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.ID, retrieved.ID)
	assert.Equal(t, provider.Name, retrieved.Name)
	assert.Equal(t, domain.KindDigitalOcean, retrieved.Kind)
	assert.Equal(t, []byte("encrypted-blob"), retrieved.CredentialsEncrypted)
	assert.True(t, retrieved.Active)
}

func TestCreateProvider_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	provider := createTestProvider(t, store)

	duplicate := *provider
	err := store.CreateProvider(ctx, &duplicate)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetProvider_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetProvider(context.Background(), "prov_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActiveProviders_ExcludesDeactivated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	active := createTestProvider(t, store)
	inactive := createTestProvider(t, store)
	inactive.Deactivate()
	require.NoError(t, store.UpdateProvider(ctx, inactive))

	providers, err := store.ListActiveProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, active.ID, providers[0].ID)
}

// =============================================================================
// Plan Tests
// =============================================================================

func TestCreatePlan_RoundTripsDecimals(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	provider := createTestProvider(t, store)
	plan := createTestPlan(t, store, provider.ID)

	retrieved, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, retrieved.HourlyBase.Equal(decimal.RequireFromString("0.0065")),
		"got %s", retrieved.HourlyBase)
	assert.True(t, retrieved.HourlyMarkup.Equal(decimal.RequireFromString("0.0035")))
	assert.True(t, retrieved.HourlyRate().Equal(decimal.RequireFromString("0.0100")))
}

func TestCreatePlan_UnknownProvider(t *testing.T) {
	store := setupTestStore(t)

	plan, err := domain.NewPlan("prov_missing", "s-1vcpu-1gb", "Basic",
		decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	err = store.CreatePlan(context.Background(), plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForeignKey)
}

func TestListPlansByProvider(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p1 := createTestProvider(t, store)
	p2 := createTestProvider(t, store)
	createTestPlan(t, store, p1.ID)
	createTestPlan(t, store, p1.ID)
	createTestPlan(t, store, p2.ID)

	plans, err := store.ListPlansByProvider(ctx, p1.ID)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

// =============================================================================
// Instance Tests
// =============================================================================

func TestCreateInstance_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	provider := createTestProvider(t, store)
	plan := createTestPlan(t, store, provider.ID)
	instance := createTestInstance(t, store, provider.ID, plan.ID)

	retrieved, err := store.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProvisioning, retrieved.Status)
	assert.Equal(t, "org-1", retrieved.OrgID)
	assert.WithinDuration(t, instance.LastBilledAt, retrieved.LastBilledAt, time.Millisecond)
}

func TestUpdateInstance_PersistsCheckpoint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	provider := createTestProvider(t, store)
	plan := createTestPlan(t, store, provider.ID)
	instance := createTestInstance(t, store, provider.ID, plan.ID)

	require.NoError(t, instance.Transition(domain.StatusRunning))
	instance.AdvanceCheckpoint(3)
	require.NoError(t, store.UpdateInstance(ctx, instance))

	retrieved, err := store.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, retrieved.Status)
	assert.WithinDuration(t, instance.LastBilledAt, retrieved.LastBilledAt, time.Millisecond)
}

func TestListBillableInstances(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	provider := createTestProvider(t, store)
	plan := createTestPlan(t, store, provider.ID)

	// Running, checkpoint 2h in the past: billable.
	overdue := createTestInstance(t, store, provider.ID, plan.ID)
	require.NoError(t, overdue.Transition(domain.StatusRunning))
	overdue.LastBilledAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.UpdateInstance(ctx, overdue))

	// Running, checkpoint fresh: not yet billable.
	fresh := createTestInstance(t, store, provider.ID, plan.ID)
	require.NoError(t, fresh.Transition(domain.StatusRunning))
	require.NoError(t, store.UpdateInstance(ctx, fresh))

	// Stopped with an old checkpoint: billable (stopped instances may accrue).
	stopped := createTestInstance(t, store, provider.ID, plan.ID)
	require.NoError(t, stopped.Transition(domain.StatusRunning))
	require.NoError(t, stopped.Transition(domain.StatusStopped))
	stopped.LastBilledAt = time.Now().Add(-3 * time.Hour)
	require.NoError(t, store.UpdateInstance(ctx, stopped))

	// Provisioning never bills.
	createTestInstance(t, store, provider.ID, plan.ID)

	cutoff := time.Now().Add(-time.Hour)
	billable, err := store.ListBillableInstances(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, billable, 2)
	// Oldest checkpoint first.
	assert.Equal(t, stopped.ID, billable[0].ID)
	assert.Equal(t, overdue.ID, billable[1].ID)
}

// =============================================================================
// Wallet and Ledger Tests
// =============================================================================

func TestWallet_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wallet := createTestWallet(t, store, "org-1")
	wallet.Credit(decimal.RequireFromString("25.50"))
	require.NoError(t, store.UpdateWallet(ctx, wallet))

	retrieved, err := store.GetWalletByOrg(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, retrieved.ID)
	assert.True(t, retrieved.Balance.Equal(decimal.RequireFromString("25.50")))
}

func TestCreateWallet_OnePerOrg(t *testing.T) {
	store := setupTestStore(t)

	createTestWallet(t, store, "org-1")

	second, err := domain.NewWallet("org-1", "USD")
	require.NoError(t, err)
	err = store.CreateWallet(context.Background(), second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestCreateTransaction_Ledger(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wallet := createTestWallet(t, store, "org-1")

	credit, err := domain.NewTransaction(wallet.ID, decimal.RequireFromString("10.00"), domain.TxnCredit)
	require.NoError(t, err)
	require.NoError(t, store.CreateTransaction(ctx, credit))

	charge, err := domain.NewTransaction(wallet.ID, decimal.RequireFromString("-0.03"), domain.TxnCharge)
	require.NoError(t, err)
	charge.InstanceID = "inst_abc"
	charge.Description = "3 hours @ 0.01/h"
	require.NoError(t, store.CreateTransaction(ctx, charge))

	txns, err := store.ListTransactionsByWallet(ctx, wallet.ID, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, txns, 2)

	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.Amount)
	}
	assert.True(t, sum.Equal(decimal.RequireFromString("9.97")), "ledger sum %s", sum)
}

func TestCreateTransaction_UnknownWallet(t *testing.T) {
	store := setupTestStore(t)

	txn, err := domain.NewTransaction("wal_missing", decimal.RequireFromString("1"), domain.TxnCredit)
	require.NoError(t, err)

	err = store.CreateTransaction(context.Background(), txn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForeignKey)
}

// =============================================================================
// Daemon Status Tests
// =============================================================================

func TestDaemonStatus_UpsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetDaemonStatus(ctx, domain.DriverDaemon)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	status := &domain.DaemonStatus{
		Driver:        domain.DriverDaemon,
		LastHeartbeat: now,
		AmountBilled:  decimal.Zero,
	}
	require.NoError(t, store.UpsertDaemonStatus(ctx, status))

	// Second upsert overwrites the same row.
	runAt := now.Add(time.Minute)
	status.LastHeartbeat = runAt
	status.LastRunAt = &runAt
	status.LastRunSuccess = true
	status.InstancesBilled = 7
	status.AmountBilled = decimal.RequireFromString("1.23")
	require.NoError(t, store.UpsertDaemonStatus(ctx, status))

	retrieved, err := store.GetDaemonStatus(ctx, domain.DriverDaemon)
	require.NoError(t, err)
	assert.WithinDuration(t, runAt, retrieved.LastHeartbeat, time.Millisecond)
	require.NotNil(t, retrieved.LastRunAt)
	assert.True(t, retrieved.LastRunSuccess)
	assert.Equal(t, 7, retrieved.InstancesBilled)
	assert.True(t, retrieved.AmountBilled.Equal(decimal.RequireFromString("1.23")))
}

func TestDaemonStatus_DriversIndependent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.UpsertDaemonStatus(ctx, &domain.DaemonStatus{
		Driver: domain.DriverDaemon, LastHeartbeat: now, AmountBilled: decimal.Zero,
	}))
	require.NoError(t, store.UpsertDaemonStatus(ctx, &domain.DaemonStatus{
		Driver: domain.DriverScheduler, LastHeartbeat: now.Add(-time.Hour), AmountBilled: decimal.Zero,
	}))

	daemon, err := store.GetDaemonStatus(ctx, domain.DriverDaemon)
	require.NoError(t, err)
	scheduler, err := store.GetDaemonStatus(ctx, domain.DriverScheduler)
	require.NoError(t, err)
	assert.True(t, daemon.LastHeartbeat.After(scheduler.LastHeartbeat))
}

// =============================================================================
// User Credential Tests
// =============================================================================

func TestUserCredential_BindingsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cred, err := domain.NewUserCredential("user-1", "laptop", "ssh-ed25519 AAAA... test", "SHA256:abc")
	require.NoError(t, err)
	require.NoError(t, store.CreateUserCredential(ctx, cred))

	cred.RecordBinding(domain.KindDigitalOcean, "12345", nil)
	cred.RecordBinding(domain.KindHetzner, "", errors.New("rate limited"))
	require.NoError(t, store.UpdateUserCredential(ctx, cred))

	retrieved, err := store.GetUserCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345", retrieved.Bindings[domain.KindDigitalOcean].UpstreamKeyID)
	assert.Equal(t, "rate limited", retrieved.Bindings[domain.KindHetzner].SyncError)
	assert.Equal(t, []domain.ProviderKind{domain.KindDigitalOcean}, retrieved.SyncedKinds())
}

func TestUserCredential_FingerprintUniquePerUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := domain.NewUserCredential("user-1", "laptop", "ssh-ed25519 AAAA... a", "SHA256:same")
	require.NoError(t, err)
	require.NoError(t, store.CreateUserCredential(ctx, first))

	dup, err := domain.NewUserCredential("user-1", "desktop", "ssh-ed25519 AAAA... a", "SHA256:same")
	require.NoError(t, err)
	err = store.CreateUserCredential(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateFingerprint)

	// Same fingerprint under a different user is fine.
	other, err := domain.NewUserCredential("user-2", "laptop", "ssh-ed25519 AAAA... a", "SHA256:same")
	require.NoError(t, err)
	require.NoError(t, store.CreateUserCredential(ctx, other))
}

func TestUserCredential_LookupByFingerprint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cred, err := domain.NewUserCredential("user-1", "laptop", "ssh-ed25519 AAAA... a", "SHA256:xyz")
	require.NoError(t, err)
	require.NoError(t, store.CreateUserCredential(ctx, cred))

	found, err := store.GetUserCredentialByFingerprint(ctx, "user-1", "SHA256:xyz")
	require.NoError(t, err)
	assert.Equal(t, cred.ID, found.ID)

	_, err = store.GetUserCredentialByFingerprint(ctx, "user-2", "SHA256:xyz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserCredential(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cred, err := domain.NewUserCredential("user-1", "laptop", "ssh-ed25519 AAAA... a", "SHA256:del")
	require.NoError(t, err)
	require.NoError(t, store.CreateUserCredential(ctx, cred))

	require.NoError(t, store.DeleteUserCredential(ctx, cred.ID))
	_, err = store.GetUserCredential(ctx, cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteUserCredential(ctx, cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Transaction (WithTx) Tests
// =============================================================================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wallet := createTestWallet(t, store, "org-1")
	wallet.Credit(decimal.RequireFromString("10"))
	require.NoError(t, store.UpdateWallet(ctx, wallet))

	err := store.WithTx(ctx, func(tx Store) error {
		w, err := tx.GetWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}
		if err := w.Debit(decimal.RequireFromString("4")); err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		txn, err := domain.NewTransaction(w.ID, decimal.RequireFromString("-4"), domain.TxnCharge)
		if err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, txn)
	})
	require.NoError(t, err)

	retrieved, err := store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, retrieved.Balance.Equal(decimal.RequireFromString("6")))

	txns, err := store.ListTransactionsByWallet(ctx, wallet.ID, DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	wallet := createTestWallet(t, store, "org-1")
	wallet.Credit(decimal.RequireFromString("10"))
	require.NoError(t, store.UpdateWallet(ctx, wallet))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx Store) error {
		w, err := tx.GetWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}
		if err := w.Debit(decimal.RequireFromString("10")); err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The debit must not have been committed.
	retrieved, err := store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, retrieved.Balance.Equal(decimal.RequireFromString("10")))
}

// =============================================================================
// Audit Tests
// =============================================================================

func TestAuditEntries_AppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := domain.NewAuditEntry("user-1", "instance.create", "instance", "inst_abc", "label=web-1")
	require.NoError(t, store.CreateAuditEntry(ctx, entry))

	entries, err := store.ListAuditEntries(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "instance.create", entries[0].Action)
	assert.Equal(t, "inst_abc", entries[0].EntityID)
}
