package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// Billing Errors
// =============================================================================

var (
	ErrWalletOrgRequired      = errors.New("wallet organization ID is required")
	ErrWalletNegativeBalance  = errors.New("wallet balance cannot go negative")
	ErrTxnWalletRequired      = errors.New("transaction wallet ID is required")
	ErrTxnZeroAmount          = errors.New("transaction amount cannot be zero")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
)

// =============================================================================
// Wallet
// =============================================================================

// Wallet is an organization's prepaid balance. The billing reconciliation
// engine only ever debits; credits come from the payment capture subsystem.
type Wallet struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GenerateWalletID generates a new wallet ID.
func GenerateWalletID() string {
	return "wal_" + uuid.New().String()[:8]
}

// NewWallet creates a new empty wallet for an organization.
func NewWallet(orgID, currency string) (*Wallet, error) {
	if orgID == "" {
		return nil, ErrWalletOrgRequired
	}
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	return &Wallet{
		ID:        GenerateWalletID(),
		OrgID:     orgID,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Debit subtracts amount from the balance. The balance invariant is enforced
// here: a debit that would overdraw fails instead of going negative.
func (w *Wallet) Debit(amount decimal.Decimal) error {
	if amount.GreaterThan(w.Balance) {
		return ErrWalletNegativeBalance
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now()
	return nil
}

// Credit adds amount to the balance.
func (w *Wallet) Credit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now()
}

// =============================================================================
// Transaction
// =============================================================================

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxnCharge     TransactionType = "charge"
	TxnCredit     TransactionType = "credit"
	TxnRefund     TransactionType = "refund"
	TxnAdjustment TransactionType = "adjustment"
)

// IsValid checks if the transaction type is valid.
func (t TransactionType) IsValid() bool {
	switch t {
	case TxnCharge, TxnCredit, TxnRefund, TxnAdjustment:
		return true
	default:
		return false
	}
}

// Transaction is an immutable ledger entry. The sum of a wallet's
// transactions always equals its current balance.
type Transaction struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	Amount      decimal.Decimal `json:"amount"` // signed: charges negative, credits positive
	Type        TransactionType `json:"type"`
	InstanceID  string          `json:"instance_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// GenerateTransactionID generates a new transaction ID.
func GenerateTransactionID() string {
	return "txn_" + uuid.New().String()[:8]
}

// NewTransaction creates a new ledger entry with validation.
func NewTransaction(walletID string, amount decimal.Decimal, txnType TransactionType) (*Transaction, error) {
	if walletID == "" {
		return nil, ErrTxnWalletRequired
	}
	if amount.IsZero() {
		return nil, ErrTxnZeroAmount
	}
	if !txnType.IsValid() {
		return nil, ErrInvalidTransactionType
	}

	return &Transaction{
		ID:        GenerateTransactionID(),
		WalletID:  walletID,
		Amount:    amount,
		Type:      txnType,
		CreatedAt: time.Now(),
	}, nil
}

// =============================================================================
// Billing Daemon Status
// =============================================================================

// Driver identities for the two cooperating billing drivers.
const (
	DriverDaemon    = "daemon"    // standalone stackrent-billd process
	DriverScheduler = "scheduler" // in-process periodic job
)

// DaemonStatus is the coordination record shared by the two billing drivers.
// Each driver upserts its own row every heartbeat; the in-process driver
// reads the daemon's row to decide whether to stand down. This is a soft
// mutual exclusion - the checkpoint advance is the true correctness guard.
type DaemonStatus struct {
	Driver          string          `json:"driver"`
	LastHeartbeat   time.Time       `json:"last_heartbeat"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	LastRunSuccess  bool            `json:"last_run_success"`
	LastRunError    string          `json:"last_run_error,omitempty"`
	InstancesBilled int             `json:"instances_billed"`
	AmountBilled    decimal.Decimal `json:"amount_billed"`
}

// HeartbeatFresherThan reports whether the last heartbeat is younger than
// the given staleness threshold.
func (s *DaemonStatus) HeartbeatFresherThan(threshold time.Duration, now time.Time) bool {
	return now.Sub(s.LastHeartbeat) < threshold
}
