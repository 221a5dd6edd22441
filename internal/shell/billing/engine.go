// Package billing implements the usage reconciliation engine and the two
// cooperating drivers that run it.
//
// Correctness rests on the per-instance billing checkpoint, not on mutual
// exclusion: every charge is computed inside a transaction from the freshly
// re-read checkpoint, and the checkpoint advances by exactly the hours paid
// for. Two drivers racing over the same instance cannot double-charge; the
// loser of the race simply finds nothing left to bill.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/core/pricing"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// Suspender receives suspension requests for instances whose wallet ran dry.
type Suspender interface {
	Suspend(ctx context.Context, instanceID, reason string) error
}

// Engine executes billing passes.
type Engine struct {
	store     store.Store
	suspender Suspender
	logger    *slog.Logger

	// now is the clock, swappable in tests.
	now func() time.Time
}

// NewEngine creates a billing engine. The suspender may be nil, in which case
// shortfalls are only logged.
func NewEngine(s store.Store, suspender Suspender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     s,
		suspender: suspender,
		logger:    logger.With("component", "billing"),
		now:       time.Now,
	}
}

// PassResult summarizes one billing pass.
type PassResult struct {
	InstancesSeen   int
	InstancesBilled int
	AmountBilled    decimal.Decimal
	Suspended       []string
	Errors          []error
}

// RunPass bills every instance whose checkpoint is at least one whole hour
// behind. Per-instance failures are collected, never fatal to the pass.
func (e *Engine) RunPass(ctx context.Context) *PassResult {
	now := e.now()
	result := &PassResult{AmountBilled: decimal.Zero}

	// An instance is due once a full hour has elapsed past its checkpoint.
	cutoff := now.Add(-time.Hour)
	instances, err := e.store.ListBillableInstances(ctx, cutoff)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}
	result.InstancesSeen = len(instances)

	for i := range instances {
		outcome, err := e.billInstance(ctx, instances[i].ID, now)
		if err != nil {
			e.logger.Error("failed to bill instance",
				"instance_id", instances[i].ID, "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("instance %s: %w", instances[i].ID, err))
			continue
		}

		if outcome.charged {
			result.InstancesBilled++
			result.AmountBilled = result.AmountBilled.Add(outcome.amount)
		}
		if outcome.shortfall {
			result.Suspended = append(result.Suspended, instances[i].ID)
			e.suspend(ctx, instances[i].ID)
		}
	}

	e.logger.Info("billing pass complete",
		"seen", result.InstancesSeen,
		"billed", result.InstancesBilled,
		"amount", result.AmountBilled,
		"suspended", len(result.Suspended),
		"errors", len(result.Errors),
	)
	return result
}

// billOutcome is the per-instance result propagated out of the transaction.
type billOutcome struct {
	charged   bool
	amount    decimal.Decimal
	shortfall bool
}

// billInstance charges one instance inside a single transaction. The
// instance and wallet are re-read inside the transaction so the computation
// always sees the latest committed checkpoint - this is what makes a
// concurrent second driver harmless.
func (e *Engine) billInstance(ctx context.Context, instanceID string, now time.Time) (billOutcome, error) {
	var outcome billOutcome

	err := e.store.WithTx(ctx, func(tx store.Store) error {
		instance, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if !instance.Status.IsBillable() {
			return nil
		}

		elapsed := pricing.ElapsedHours(instance.LastBilledAt, now)
		if elapsed == 0 {
			// Another driver got here first.
			return nil
		}

		plan, err := tx.GetPlan(ctx, instance.PlanID)
		if err != nil {
			return err
		}
		rate := plan.RateFor(instance.Status)

		wallet, err := tx.GetWalletByOrg(ctx, instance.OrgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// No wallet means nothing can be charged; treat as a
				// shortfall so the instance gets suspended.
				outcome.shortfall = true
				return nil
			}
			return err
		}

		charge := pricing.Compute(elapsed, rate, wallet.Balance)
		outcome.shortfall = charge.Shortfall

		if charge.Amount.IsPositive() {
			txn, err := domain.NewTransaction(wallet.ID, charge.Amount.Neg(), domain.TxnCharge)
			if err != nil {
				return err
			}
			txn.InstanceID = instance.ID
			txn.Description = fmt.Sprintf("usage: %d hours @ %s/h", charge.Hours, rate)
			if err := tx.CreateTransaction(ctx, txn); err != nil {
				return err
			}

			if err := wallet.Debit(charge.Amount); err != nil {
				return err
			}
			if err := tx.UpdateWallet(ctx, wallet); err != nil {
				return err
			}

			outcome.charged = true
			outcome.amount = charge.Amount
		}

		if charge.Hours > 0 {
			instance.AdvanceCheckpoint(charge.Hours)
			if err := tx.UpdateInstance(ctx, instance); err != nil {
				return err
			}
		}
		return nil
	})
	return outcome, err
}

func (e *Engine) suspend(ctx context.Context, instanceID string) {
	if e.suspender == nil {
		e.logger.Warn("shortfall with no suspender configured", "instance_id", instanceID)
		return
	}
	if err := e.suspender.Suspend(ctx, instanceID, "insufficient funds"); err != nil {
		e.logger.Error("failed to suspend instance", "instance_id", instanceID, "error", err)
	}
}
