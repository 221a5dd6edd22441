package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

// recordingSuspender collects suspension requests.
type recordingSuspender struct {
	mu        sync.Mutex
	suspended []string
}

func (r *recordingSuspender) Suspend(ctx context.Context, instanceID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspended = append(r.suspended, instanceID)
	return nil
}

type billingFixture struct {
	store     store.Store
	engine    *Engine
	suspender *recordingSuspender
	now       time.Time

	provider *domain.Provider
	plan     *domain.Plan
	wallet   *domain.Wallet
	instance *domain.ResourceInstance
}

// setupBilling creates a running instance with the given rate, balance and
// hours elapsed past its checkpoint.
func setupBilling(t *testing.T, rate, balance string, elapsed time.Duration) *billingFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	prov, err := domain.NewProvider("Test", domain.KindDigitalOcean, []byte("enc"))
	require.NoError(t, err)
	require.NoError(t, st.CreateProvider(ctx, prov))

	plan, err := domain.NewPlan(prov.ID, "s-1vcpu-1gb", "Basic",
		decimal.RequireFromString(rate), decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, st.CreatePlan(ctx, plan))

	wallet, err := domain.NewWallet("org-1", "USD")
	require.NoError(t, err)
	wallet.Credit(decimal.RequireFromString(balance))
	require.NoError(t, st.CreateWallet(ctx, wallet))

	instance, err := domain.NewResourceInstance("org-1", prov.ID, plan.ID, "web-1", "nyc3")
	require.NoError(t, err)
	require.NoError(t, instance.Transition(domain.StatusRunning))
	require.NoError(t, st.CreateInstance(ctx, instance))

	now := time.Now()
	instance.LastBilledAt = now.Add(-elapsed)
	require.NoError(t, st.UpdateInstance(ctx, instance))

	susp := &recordingSuspender{}
	engine := NewEngine(st, susp, nil)
	engine.now = func() time.Time { return now }

	return &billingFixture{
		store:     st,
		engine:    engine,
		suspender: susp,
		now:       now,
		provider:  prov,
		plan:      plan,
		wallet:    wallet,
		instance:  instance,
	}
}

func (f *billingFixture) reload(t *testing.T) (*domain.ResourceInstance, *domain.Wallet) {
	t.Helper()
	ctx := context.Background()
	instance, err := f.store.GetInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	wallet, err := f.store.GetWallet(ctx, f.wallet.ID)
	require.NoError(t, err)
	return instance, wallet
}

// =============================================================================
// Engine Tests
// =============================================================================

func TestRunPass_ChargesWholeHoursOnly(t *testing.T) {
	// 2.5 hours elapsed at 0.01/h with plenty of balance: charge 2 hours,
	// carry the half hour to the next pass.
	f := setupBilling(t, "0.01", "10.00", 150*time.Minute)

	result := f.engine.RunPass(context.Background())
	require.Empty(t, result.Errors)
	assert.Equal(t, 1, result.InstancesBilled)
	assert.True(t, result.AmountBilled.Equal(decimal.RequireFromString("0.02")))

	instance, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("9.98")))

	// Checkpoint advanced by exactly 2 hours; 30 minutes remain unbilled.
	remaining := f.now.Sub(instance.LastBilledAt)
	assert.Equal(t, 30*time.Minute, remaining)
	assert.Empty(t, f.suspender.suspended)
}

func TestRunPass_SecondPassIsNoOp(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 150*time.Minute)
	ctx := context.Background()

	first := f.engine.RunPass(ctx)
	require.Equal(t, 1, first.InstancesBilled)

	// The checkpoint advanced, so an immediate re-run finds nothing to bill.
	second := f.engine.RunPass(ctx)
	assert.Equal(t, 0, second.InstancesBilled)
	assert.True(t, second.AmountBilled.IsZero())

	_, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("9.98")))

	txns, err := f.store.ListTransactionsByWallet(ctx, f.wallet.ID, store.DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestRunPass_PartialChargeDrainsWalletExactly(t *testing.T) {
	// 200 hours owed at 0.03/h = 6.00 against a 5.00 balance: the whole
	// balance is charged, the checkpoint advances by the 166 whole hours it
	// pays for, and the instance is suspended.
	f := setupBilling(t, "0.03", "5.00", 200*time.Hour)

	result := f.engine.RunPass(context.Background())
	require.Empty(t, result.Errors)
	assert.Equal(t, 1, result.InstancesBilled)
	assert.True(t, result.AmountBilled.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, []string{f.instance.ID}, result.Suspended)
	assert.Equal(t, []string{f.instance.ID}, f.suspender.suspended)

	instance, wallet := f.reload(t)
	assert.True(t, wallet.Balance.IsZero(), "balance must land on exactly zero, got %s", wallet.Balance)

	advanced := instance.LastBilledAt.Sub(f.instance.LastBilledAt)
	assert.Equal(t, 166*time.Hour, advanced)
}

func TestRunPass_CannotAffordOneHour(t *testing.T) {
	// Balance below a single hour: nothing is charged, the checkpoint stays
	// put, and the instance is suspended.
	f := setupBilling(t, "0.03", "0.01", 2*time.Hour)

	result := f.engine.RunPass(context.Background())
	require.Empty(t, result.Errors)
	assert.Equal(t, 0, result.InstancesBilled)
	assert.Equal(t, []string{f.instance.ID}, f.suspender.suspended)

	instance, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, instance.LastBilledAt.Equal(f.instance.LastBilledAt),
		"checkpoint must not advance when nothing was paid")

	txns, err := f.store.ListTransactionsByWallet(context.Background(), f.wallet.ID, store.DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestRunPass_ZeroRateAdvancesWithoutCharge(t *testing.T) {
	// Stopped instance on a free-when-stopped plan: no money moves but the
	// checkpoint still advances so hours don't pile up.
	f := setupBilling(t, "0.01", "10.00", 3*time.Hour)
	ctx := context.Background()

	instance, err := f.store.GetInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	require.NoError(t, instance.Transition(domain.StatusStopped))
	require.NoError(t, f.store.UpdateInstance(ctx, instance))

	result := f.engine.RunPass(ctx)
	require.Empty(t, result.Errors)
	assert.Equal(t, 0, result.InstancesBilled)

	reloaded, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("10.00")))
	advanced := reloaded.LastBilledAt.Sub(instance.LastBilledAt)
	assert.Equal(t, 3*time.Hour, advanced)
}

func TestRunPass_StoppedRateCharges(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 2*time.Hour)
	ctx := context.Background()

	plan, err := f.store.GetPlan(ctx, f.plan.ID)
	require.NoError(t, err)
	plan.StoppedRatePercent = 50
	require.NoError(t, f.store.UpdatePlan(ctx, plan))

	instance, err := f.store.GetInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	require.NoError(t, instance.Transition(domain.StatusStopped))
	require.NoError(t, f.store.UpdateInstance(ctx, instance))

	result := f.engine.RunPass(ctx)
	require.Empty(t, result.Errors)
	assert.Equal(t, 1, result.InstancesBilled)
	// 2 hours at half of 0.01.
	assert.True(t, result.AmountBilled.Equal(decimal.RequireFromString("0.01")))
}

func TestRunPass_NoWalletSuspends(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 2*time.Hour)
	ctx := context.Background()

	// Point the instance at an org with no wallet.
	instance, err := f.store.GetInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	instance.OrgID = "org-walletless"
	require.NoError(t, f.store.UpdateInstance(ctx, instance))

	result := f.engine.RunPass(ctx)
	require.Empty(t, result.Errors)
	assert.Equal(t, []string{f.instance.ID}, f.suspender.suspended)
	assert.Equal(t, 0, result.InstancesBilled)
}

func TestRunPass_SubHourInstanceNotDue(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 30*time.Minute)

	result := f.engine.RunPass(context.Background())
	require.Empty(t, result.Errors)
	assert.Equal(t, 0, result.InstancesSeen)
}

// =============================================================================
// Driver Coordination Tests
// =============================================================================

func newTestDriver(f *billingFixture, name string) *Driver {
	driver := NewDriver(f.engine, f.store, name, DriverConfig{
		Interval:           time.Minute,
		StalenessThreshold: 90 * time.Minute,
	}, nil)
	driver.now = func() time.Time { return f.now }
	return driver
}

func TestDriver_DaemonAlwaysRuns(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 2*time.Hour)
	ctx := context.Background()

	daemon := newTestDriver(f, domain.DriverDaemon)
	daemon.RunCycle(ctx)

	status, err := f.store.GetDaemonStatus(ctx, domain.DriverDaemon)
	require.NoError(t, err)
	assert.True(t, status.LastRunSuccess)
	assert.Equal(t, 1, status.InstancesBilled)
	assert.True(t, status.AmountBilled.Equal(decimal.RequireFromString("0.02")))
}

func TestDriver_SchedulerStandsDownWhileDaemonFresh(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 2*time.Hour)
	ctx := context.Background()

	// Daemon heartbeated 10 minutes ago.
	require.NoError(t, f.store.UpsertDaemonStatus(ctx, &domain.DaemonStatus{
		Driver:        domain.DriverDaemon,
		LastHeartbeat: f.now.Add(-10 * time.Minute),
		AmountBilled:  decimal.Zero,
	}))

	scheduler := newTestDriver(f, domain.DriverScheduler)
	scheduler.RunCycle(ctx)

	// No pass ran: the instance is still unbilled.
	_, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("10.00")))

	// But the scheduler still heartbeated its own row.
	status, err := f.store.GetDaemonStatus(ctx, domain.DriverScheduler)
	require.NoError(t, err)
	assert.WithinDuration(t, f.now, status.LastHeartbeat, time.Millisecond)
	assert.Nil(t, status.LastRunAt)
}

func TestDriver_SchedulerTakesOverWhenDaemonStale(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 2*time.Hour)
	ctx := context.Background()

	// Daemon heartbeated two hours ago - past the 90 minute threshold.
	require.NoError(t, f.store.UpsertDaemonStatus(ctx, &domain.DaemonStatus{
		Driver:        domain.DriverDaemon,
		LastHeartbeat: f.now.Add(-2 * time.Hour),
		AmountBilled:  decimal.Zero,
	}))

	scheduler := newTestDriver(f, domain.DriverScheduler)
	scheduler.RunCycle(ctx)

	_, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("9.98")))

	status, err := f.store.GetDaemonStatus(ctx, domain.DriverScheduler)
	require.NoError(t, err)
	assert.True(t, status.LastRunSuccess)
	assert.Equal(t, 1, status.InstancesBilled)
}

func TestDriver_SchedulerRunsWhenNoDaemonRow(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 2*time.Hour)
	ctx := context.Background()

	scheduler := newTestDriver(f, domain.DriverScheduler)
	scheduler.RunCycle(ctx)

	_, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("9.98")))
}

func TestDriver_BothDriversCannotDoubleBill(t *testing.T) {
	f := setupBilling(t, "0.01", "10.00", 2*time.Hour)
	ctx := context.Background()

	// Daemon runs, then the scheduler runs in the same window believing the
	// daemon is stale. The checkpoint makes the second pass a no-op.
	daemon := newTestDriver(f, domain.DriverDaemon)
	daemon.RunCycle(ctx)

	scheduler := newTestDriver(f, domain.DriverScheduler)
	scheduler.config.StalenessThreshold = time.Nanosecond
	scheduler.RunCycle(ctx)

	_, wallet := f.reload(t)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("9.98")),
		"exactly one driver's charge must land")

	txns, err := f.store.ListTransactionsByWallet(ctx, f.wallet.ID, store.DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}
