package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Status Transition Tests
// =============================================================================

func TestValidateStatusTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    InstanceStatus
		to      InstanceStatus
		wantErr bool
	}{
		{"provisioning to running", StatusProvisioning, StatusRunning, false},
		{"provisioning to error", StatusProvisioning, StatusError, false},
		{"running to stopped", StatusRunning, StatusStopped, false},
		{"stopped to running", StatusStopped, StatusRunning, false},
		{"running to deleted", StatusRunning, StatusDeleted, false},
		{"stopped to deleted", StatusStopped, StatusDeleted, false},
		{"error to running", StatusError, StatusRunning, false},
		{"same status is a no-op", StatusRunning, StatusRunning, false},
		{"deleted is terminal", StatusDeleted, StatusRunning, true},
		{"provisioning cannot skip to stopped", StatusProvisioning, StatusStopped, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStatusTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStatusTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewResourceInstance(t *testing.T) {
	inst, err := NewResourceInstance("org-1", "prov_abc", "plan_abc", "web-1", "fsn1")
	require.NoError(t, err)

	assert.Equal(t, StatusProvisioning, inst.Status)
	assert.False(t, inst.LastBilledAt.IsZero())
	assert.LessOrEqual(t, inst.LastBilledAt, time.Now())
	assert.Contains(t, inst.ID, "inst_")
}

func TestNewResourceInstance_Validation(t *testing.T) {
	_, err := NewResourceInstance("", "prov_abc", "plan_abc", "web-1", "fsn1")
	assert.ErrorIs(t, err, ErrInstanceOrgRequired)

	_, err = NewResourceInstance("org-1", "", "plan_abc", "web-1", "fsn1")
	assert.ErrorIs(t, err, ErrInstanceProviderRequired)

	_, err = NewResourceInstance("org-1", "prov_abc", "plan_abc", "", "fsn1")
	assert.ErrorIs(t, err, ErrInstanceLabelRequired)
}

func TestTransitionToError_ClearsOnRecovery(t *testing.T) {
	inst, err := NewResourceInstance("org-1", "prov_abc", "plan_abc", "web-1", "fsn1")
	require.NoError(t, err)

	require.NoError(t, inst.TransitionToError("upstream exploded"))
	assert.Equal(t, StatusError, inst.Status)
	assert.Equal(t, "upstream exploded", inst.ErrorMessage)

	require.NoError(t, inst.Transition(StatusRunning))
	assert.Empty(t, inst.ErrorMessage)
}

func TestAdvanceCheckpoint(t *testing.T) {
	inst, err := NewResourceInstance("org-1", "prov_abc", "plan_abc", "web-1", "fsn1")
	require.NoError(t, err)

	before := inst.LastBilledAt
	inst.AdvanceCheckpoint(3)
	assert.Equal(t, before.Add(3*time.Hour), inst.LastBilledAt)
}

// =============================================================================
// Action Tests
// =============================================================================

func TestInstanceAction_IsValid(t *testing.T) {
	for _, a := range []InstanceAction{ActionBoot, ActionShutdown, ActionReboot, ActionPowerCycle, ActionDelete} {
		assert.True(t, a.IsValid(), string(a))
	}
	assert.False(t, InstanceAction("explode").IsValid())
}

// =============================================================================
// Plan Rate Tests
// =============================================================================

func TestPlanRateFor(t *testing.T) {
	plan, err := NewPlan("prov_abc", "cx22", "CX22",
		decimal.RequireFromString("0.0065"), decimal.RequireFromString("0.0035"))
	require.NoError(t, err)

	assert.True(t, plan.HourlyRate().Equal(decimal.RequireFromString("0.0100")))
	assert.True(t, plan.RateFor(StatusRunning).Equal(decimal.RequireFromString("0.0100")))
	assert.True(t, plan.RateFor(StatusStopped).IsZero(), "stopped rate defaults to zero")
	assert.True(t, plan.RateFor(StatusDeleted).IsZero())

	plan.StoppedRatePercent = 50
	assert.True(t, plan.RateFor(StatusStopped).Equal(decimal.RequireFromString("0.0050")))
}

func TestNewPlan_RejectsNegativePrices(t *testing.T) {
	_, err := NewPlan("prov_abc", "cx22", "CX22",
		decimal.RequireFromString("-0.01"), decimal.Zero)
	assert.ErrorIs(t, err, ErrPlanNegativePrice)
}

// =============================================================================
// Wallet Tests
// =============================================================================

func TestWalletDebit_NeverNegative(t *testing.T) {
	w, err := NewWallet("org-1", "USD")
	require.NoError(t, err)

	w.Credit(decimal.RequireFromString("5.00"))
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("5.00")))

	err = w.Debit(decimal.RequireFromString("6.00"))
	assert.ErrorIs(t, err, ErrWalletNegativeBalance)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("5.00")), "balance unchanged after rejected debit")

	require.NoError(t, w.Debit(decimal.RequireFromString("5.00")))
	assert.True(t, w.Balance.IsZero())
}

// =============================================================================
// Credential Binding Tests
// =============================================================================

func TestRecordBinding(t *testing.T) {
	cred, err := NewUserCredential("user-1", "laptop", "ssh-ed25519 AAAA...", "SHA256:abc")
	require.NoError(t, err)

	cred.RecordBinding(KindDigitalOcean, "12345", nil)
	cred.RecordBinding(KindHetzner, "", assert.AnError)

	assert.True(t, cred.Bindings[KindDigitalOcean].Synced())
	assert.False(t, cred.Bindings[KindHetzner].Synced())
	assert.NotEmpty(t, cred.Bindings[KindHetzner].SyncError)
	assert.Equal(t, []ProviderKind{KindDigitalOcean}, cred.SyncedKinds())
}

// =============================================================================
// Error Taxonomy Tests
// =============================================================================

func TestErrorCodeOf(t *testing.T) {
	err := NewError(CodeRateLimited, KindDigitalOcean, "too many requests")
	assert.Equal(t, CodeRateLimited, CodeOf(err))
	assert.True(t, IsCode(err, CodeRateLimited))
	assert.Contains(t, err.Error(), "digitalocean")

	wrapped := WrapError(CodeProviderUnavailable, KindHetzner, "timeout", assert.AnError)
	assert.Equal(t, CodeProviderUnavailable, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, assert.AnError)

	assert.Equal(t, CodeInternal, CodeOf(assert.AnError))
}
