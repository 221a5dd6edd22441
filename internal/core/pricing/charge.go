// Package pricing contains the pure billing computation for the
// reconciliation engine. This is part of the Functional Core - all functions
// are pure with no I/O.
//
// The persisted billing checkpoint is the idempotency token: a charge is
// always derived from (checkpoint, now, rate, balance) and the checkpoint
// advances by exactly the hours paid for. Re-running a pass re-derives the
// same window, so double execution is harmless by construction.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ElapsedHours returns the whole hours elapsed between the billing checkpoint
// and now, rounded down so partial hours are never billed early.
func ElapsedHours(checkpoint, now time.Time) int64 {
	if !now.After(checkpoint) {
		return 0
	}
	return int64(now.Sub(checkpoint) / time.Hour)
}

// Charge is the outcome of the per-instance billing computation.
type Charge struct {
	// Amount is the amount to debit from the wallet. Zero means no ledger
	// entry is written.
	Amount decimal.Decimal

	// Hours is the number of whole hours covered by Amount; the billing
	// checkpoint advances by exactly this much.
	Hours int64

	// Shortfall is true when the balance could not cover the full owed
	// amount. The caller emits a suspension request.
	Shortfall bool
}

// Compute resolves the charge for an instance given the elapsed whole hours,
// the resolved hourly rate and the wallet balance.
//
// When the balance covers the owed amount the full amount is charged and the
// checkpoint advances by every elapsed hour. When it does not, the entire
// remaining balance is charged and the checkpoint advances only by the whole
// hours that balance pays for - the wallet lands on exactly zero and the
// unpaid hours stay behind the checkpoint for a later retry.
func Compute(elapsedHours int64, rate, balance decimal.Decimal) Charge {
	if elapsedHours <= 0 {
		return Charge{Amount: decimal.Zero}
	}

	// A zero rate (e.g. stopped instance on a free-when-stopped plan) accrues
	// nothing but still advances the checkpoint.
	if !rate.IsPositive() {
		return Charge{Amount: decimal.Zero, Hours: elapsedHours}
	}

	owed := rate.Mul(decimal.NewFromInt(elapsedHours))
	if balance.GreaterThanOrEqual(owed) {
		return Charge{Amount: owed, Hours: elapsedHours}
	}

	// Partial charge: whole hours the balance can pay for.
	hoursCovered := balance.Div(rate).IntPart()
	if hoursCovered > elapsedHours {
		hoursCovered = elapsedHours
	}
	if hoursCovered <= 0 {
		// Cannot afford a single hour; charging anything here without
		// advancing the checkpoint would double-bill on the next pass.
		return Charge{Amount: decimal.Zero, Shortfall: true}
	}

	return Charge{Amount: balance, Hours: hoursCovered, Shortfall: true}
}
