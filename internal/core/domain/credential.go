package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Credential Errors
// =============================================================================

var (
	ErrCredentialUserRequired  = errors.New("credential user ID is required")
	ErrCredentialLabelRequired = errors.New("credential label is required")
	ErrCredentialKeyRequired   = errors.New("credential public key is required")
	ErrDuplicateFingerprint    = errors.New("a key with this fingerprint already exists for the user")
)

// =============================================================================
// User Credential (SSH Key)
// =============================================================================

// KeyBinding records the outcome of registering a key with one provider kind.
// An empty UpstreamKeyID with a non-empty SyncError means the registration
// failed; both empty means it has not been attempted.
type KeyBinding struct {
	UpstreamKeyID string `json:"upstream_key_id,omitempty"`
	SyncError     string `json:"sync_error,omitempty"`
}

// Synced reports whether the binding holds a usable upstream key ID.
func (b KeyBinding) Synced() bool {
	return b.UpstreamKeyID != ""
}

// UserCredential is one logical SSH key propagated to every configured
// provider. Bindings maps provider kind to that provider's own key identifier
// (or the last sync failure). Fingerprint is unique per user.
type UserCredential struct {
	ID          string                      `json:"id"`
	UserID      string                      `json:"user_id"`
	Label       string                      `json:"label"`
	PublicKey   string                      `json:"public_key"`
	Fingerprint string                      `json:"fingerprint"`
	Bindings    map[ProviderKind]KeyBinding `json:"bindings"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// GenerateCredentialID generates a new user credential ID.
func GenerateCredentialID() string {
	return "key_" + uuid.New().String()[:8]
}

// NewUserCredential creates a new user credential with validation.
// The fingerprint must already be derived from the public key material.
func NewUserCredential(userID, label, publicKey, fingerprint string) (*UserCredential, error) {
	if userID == "" {
		return nil, ErrCredentialUserRequired
	}
	if label == "" {
		return nil, ErrCredentialLabelRequired
	}
	if publicKey == "" || fingerprint == "" {
		return nil, ErrCredentialKeyRequired
	}

	now := time.Now()
	return &UserCredential{
		ID:          GenerateCredentialID(),
		UserID:      userID,
		Label:       label,
		PublicKey:   publicKey,
		Fingerprint: fingerprint,
		Bindings:    make(map[ProviderKind]KeyBinding),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// RecordBinding stores the sync outcome for one provider kind.
func (c *UserCredential) RecordBinding(kind ProviderKind, upstreamKeyID string, syncErr error) {
	if c.Bindings == nil {
		c.Bindings = make(map[ProviderKind]KeyBinding)
	}
	b := KeyBinding{UpstreamKeyID: upstreamKeyID}
	if syncErr != nil {
		b.SyncError = syncErr.Error()
	}
	c.Bindings[kind] = b
	c.UpdatedAt = time.Now()
}

// SyncedKinds returns the provider kinds holding a usable upstream key ID.
func (c *UserCredential) SyncedKinds() []ProviderKind {
	kinds := make([]ProviderKind, 0, len(c.Bindings))
	for _, k := range AllProviderKinds() {
		if b, ok := c.Bindings[k]; ok && b.Synced() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// OwnedBy reports whether the credential belongs to the given user.
func (c *UserCredential) OwnedBy(userID string) bool {
	return c.UserID == userID
}
