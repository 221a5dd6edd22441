// Package audit records administrative and billing events to the audit log.
// Recording is fire-and-forget: a failed write is logged and never fails the
// operation that triggered it.
package audit

import (
	"context"
	"log/slog"

	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// Recorder appends entries to the audit log.
type Recorder interface {
	Record(ctx context.Context, actor, action, entity, entityID, detail string)
}

// StoreRecorder persists entries through the store.
type StoreRecorder struct {
	store  store.Store
	logger *slog.Logger
}

// NewStoreRecorder creates a store-backed recorder.
func NewStoreRecorder(s store.Store, logger *slog.Logger) *StoreRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreRecorder{
		store:  s,
		logger: logger.With("component", "audit"),
	}
}

func (r *StoreRecorder) Record(ctx context.Context, actor, action, entity, entityID, detail string) {
	entry := domain.NewAuditEntry(actor, action, entity, entityID, detail)
	if err := r.store.CreateAuditEntry(ctx, entry); err != nil {
		r.logger.Warn("failed to record audit entry",
			"action", action,
			"entity", entity,
			"entity_id", entityID,
			"error", err,
		)
	}
}

// Noop discards all entries. Used in tests and the standalone billing daemon
// when auditing is disabled.
type Noop struct{}

func (Noop) Record(context.Context, string, string, string, string, string) {}
