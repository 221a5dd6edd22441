package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry records an administrative or billing-relevant event.
// Entries are append-only; nothing in the system updates or deletes them.
type AuditEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"` // user ID, or a driver identity for system events
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerateAuditID generates a new audit entry ID.
func GenerateAuditID() string {
	return "aud_" + uuid.New().String()[:8]
}

// NewAuditEntry creates an audit entry stamped with the current time.
func NewAuditEntry(actor, action, entity, entityID, detail string) *AuditEntry {
	return &AuditEntry{
		ID:        GenerateAuditID(),
		Actor:     actor,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
}
