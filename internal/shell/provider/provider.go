// Package provider implements cloud infrastructure provider clients.
// This is part of the Imperative Shell - handles I/O with cloud APIs.
//
// Every adapter exposes the same capability set and translates its upstream's
// error shapes into the normalized taxonomy in the domain package; no
// provider-specific error type escapes this package.
package provider

import (
	"context"
	"time"

	"github.com/stackrent/stackrent/internal/core/domain"
	coreprovider "github.com/stackrent/stackrent/internal/core/provider"
)

// callTimeout bounds every single upstream call. A timeout surfaces as a
// normalized ProviderUnavailable error, not a crash.
const callTimeout = 30 * time.Second

// CreateSpec contains normalized parameters for creating a cloud instance.
// Image and AppImage are mutually substitutable - at most one is sent
// upstream; AppImage wins when both are set.
type CreateSpec struct {
	Label  string
	PlanID string // upstream plan/size identifier
	Region string

	Image    string // base OS image identifier
	AppImage string // pre-baked application image identifier

	PublicKey string   // optional credential material, registered inline
	SSHKeyIDs []string // pre-shared upstream key identifiers

	Backups           bool
	Monitoring        bool
	PrivateNetworking bool
}

// ImageRef returns the single image identifier to send upstream.
func (s CreateSpec) ImageRef() string {
	if s.AppImage != "" {
		return s.AppImage
	}
	return s.Image
}

// Instance is the normalized view of an upstream server.
type Instance struct {
	ExternalID  string
	Label       string
	Status      domain.InstanceStatus
	Region      string
	PublicIPv4  string
	PublicIPv6  string
	PrivateIPv4 string
	CreatedAt   time.Time
}

// Client is the capability set every provider adapter implements.
type Client interface {
	// Kind returns the provider kind this client talks to.
	Kind() domain.ProviderKind

	// CreateInstance provisions a new instance. The returned record carries
	// the provider-assigned external ID and the initial provisioning status;
	// persistence is the caller's responsibility.
	CreateInstance(ctx context.Context, spec CreateSpec) (*Instance, error)

	// GetInstance fetches the current upstream state of an instance.
	GetInstance(ctx context.Context, externalID string) (*Instance, error)

	// ListInstances returns all instances managed by this platform.
	ListInstances(ctx context.Context) ([]Instance, error)

	// PerformAction applies a lifecycle action. Actions are fire-and-forget:
	// the upstream reports completion asynchronously and this call does not
	// block for it.
	PerformAction(ctx context.Context, externalID string, action domain.InstanceAction) error

	// ListPlans returns available instance sizes (live, falling back to the
	// static catalog when the upstream call fails).
	ListPlans(ctx context.Context) ([]coreprovider.Size, error)

	// ListImages returns available base and application images.
	ListImages(ctx context.Context) ([]coreprovider.Image, error)

	// ListRegions returns available regions.
	ListRegions(ctx context.Context) ([]coreprovider.Region, error)

	// ValidateCredentials performs a cheap authenticated call to verify the
	// configured credentials work.
	ValidateCredentials(ctx context.Context) error

	// RegisterSSHKey uploads a public key and returns the provider's own
	// identifier for it.
	RegisterSSHKey(ctx context.Context, name, publicKey string) (string, error)

	// RemoveSSHKey deletes a previously registered key by its provider ID.
	RemoveSSHKey(ctx context.Context, keyID string) error
}
