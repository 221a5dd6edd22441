// Package compute orchestrates resource instance lifecycle across cloud
// providers. It resolves a provider record to a live adapter client,
// persists lifecycle state, and keeps local status in step with confirmed
// upstream status.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stackrent/stackrent/internal/core/crypto"
	"github.com/stackrent/stackrent/internal/core/domain"
	coreprovider "github.com/stackrent/stackrent/internal/core/provider"
	"github.com/stackrent/stackrent/internal/shell/audit"
	"github.com/stackrent/stackrent/internal/shell/provider"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// clientFactory builds an adapter client from decrypted credentials.
// Indirection so tests can substitute a stub adapter.
type clientFactory func(kind domain.ProviderKind, credJSON []byte, logger *slog.Logger) (provider.Client, error)

// Service is the provider abstraction layer.
type Service struct {
	store         store.Store
	encryptionKey []byte
	audit         audit.Recorder
	logger        *slog.Logger
	newClient     clientFactory
}

// NewService creates a compute service. The encryption key protects provider
// credentials at rest.
func NewService(s store.Store, encryptionKey []byte, rec audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = audit.Noop{}
	}
	return &Service{
		store:         s,
		encryptionKey: encryptionKey,
		audit:         rec,
		logger:        logger.With("component", "compute"),
		newClient:     provider.New,
	}
}

// =============================================================================
// Provider Administration
// =============================================================================

// AddProvider validates and encrypts credentials, then registers a provider.
func (s *Service) AddProvider(ctx context.Context, name string, kind domain.ProviderKind, credJSON []byte) (*domain.Provider, error) {
	if err := coreprovider.ValidateCredentialsJSON(kind, credJSON); err != nil {
		return nil, domain.WrapError(domain.CodeInvalidCredentialFormat, kind, err.Error(), err)
	}

	encrypted, err := crypto.Encrypt(credJSON, s.encryptionKey)
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, kind, "failed to encrypt credentials", err)
	}

	prov, err := domain.NewProvider(name, kind, encrypted)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateProvider(ctx, prov); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, "admin", "provider.create", "provider", prov.ID, string(kind))
	s.logger.Info("provider registered", "provider_id", prov.ID, "kind", kind)
	return prov, nil
}

// DeactivateProvider marks a provider inactive. Existing instances keep their
// association; new lifecycle operations against the provider are refused.
func (s *Service) DeactivateProvider(ctx context.Context, providerID string) error {
	prov, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewError(domain.CodeProviderNotFound, "", providerID)
		}
		return err
	}

	prov.Deactivate()
	if err := s.store.UpdateProvider(ctx, prov); err != nil {
		return err
	}

	s.audit.Record(ctx, "admin", "provider.deactivate", "provider", prov.ID, "")
	return nil
}

// ForProvider resolves a provider record into a live adapter client:
// load, check active, decrypt credentials, build the adapter.
func (s *Service) ForProvider(ctx context.Context, providerID string) (provider.Client, *domain.Provider, error) {
	prov, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, domain.NewError(domain.CodeProviderNotFound, "", providerID)
		}
		return nil, nil, err
	}
	if !prov.Active {
		return nil, nil, domain.NewError(domain.CodeProviderInactive, prov.Kind, providerID)
	}

	credJSON, err := crypto.Decrypt(prov.CredentialsEncrypted, s.encryptionKey)
	if err != nil {
		return nil, nil, domain.WrapError(domain.CodeMissingCredentials, prov.Kind,
			"failed to decrypt provider credentials", err)
	}

	client, err := s.newClient(prov.Kind, credJSON, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return client, prov, nil
}

// ValidateProviderCredentials checks the stored credentials against the
// upstream API with a cheap authenticated call.
func (s *Service) ValidateProviderCredentials(ctx context.Context, providerID string) error {
	client, _, err := s.ForProvider(ctx, providerID)
	if err != nil {
		return err
	}
	return client.ValidateCredentials(ctx)
}

// =============================================================================
// Catalog Passthrough
// =============================================================================

// ListProviderPlans returns the provider's live size catalog.
func (s *Service) ListProviderPlans(ctx context.Context, providerID string) ([]coreprovider.Size, error) {
	client, _, err := s.ForProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return client.ListPlans(ctx)
}

// ListProviderImages returns the provider's live image catalog.
func (s *Service) ListProviderImages(ctx context.Context, providerID string) ([]coreprovider.Image, error) {
	client, _, err := s.ForProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return client.ListImages(ctx)
}

// ListProviderRegions returns the provider's live region catalog.
func (s *Service) ListProviderRegions(ctx context.Context, providerID string) ([]coreprovider.Region, error) {
	client, _, err := s.ForProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return client.ListRegions(ctx)
}

// =============================================================================
// Instance Lifecycle
// =============================================================================

// CreateInstanceRequest carries the parameters for provisioning an instance.
// Image and AppImage are mutually substitutable; AppImage wins when both are
// set. PublicKey is inline credential material registered with the provider
// at create time, alongside any pre-shared SSHKeyIDs.
type CreateInstanceRequest struct {
	ProviderID string
	PlanID     string
	Label      string
	Region     string
	Image      string
	AppImage   string
	PublicKey  string
	SSHKeyIDs  []string
	Backups    bool
	Monitoring bool
}

// CreateInstance provisions an instance: the local record is written first in
// the provisioning state, then the upstream create runs. An upstream failure
// moves the record to error rather than deleting it, so the attempt is
// visible and retryable.
func (s *Service) CreateInstance(ctx context.Context, orgID string, req CreateInstanceRequest) (*domain.ResourceInstance, error) {
	client, prov, err := s.ForProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, prov.Kind, "plan not found: "+req.PlanID)
		}
		return nil, err
	}
	if plan.ProviderID != prov.ID {
		return nil, domain.NewError(domain.CodeUpstreamValidation, prov.Kind,
			fmt.Sprintf("plan %s does not belong to provider %s", plan.ID, prov.ID))
	}
	if !plan.Active {
		return nil, domain.NewError(domain.CodeUpstreamValidation, prov.Kind, "plan is not active: "+plan.ID)
	}

	instance, err := domain.NewResourceInstance(orgID, prov.ID, plan.ID, req.Label, req.Region)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateInstance(ctx, instance); err != nil {
		return nil, err
	}

	upstream, err := client.CreateInstance(ctx, provider.CreateSpec{
		Label:      req.Label,
		PlanID:     plan.UpstreamPlanID,
		Region:     req.Region,
		Image:      req.Image,
		AppImage:   req.AppImage,
		PublicKey:  req.PublicKey,
		SSHKeyIDs:  req.SSHKeyIDs,
		Backups:    req.Backups,
		Monitoring: req.Monitoring,
	})
	if err != nil {
		if terr := instance.TransitionToError(err.Error()); terr == nil {
			if uerr := s.store.UpdateInstance(ctx, instance); uerr != nil {
				s.logger.Error("failed to persist instance error state",
					"instance_id", instance.ID, "error", uerr)
			}
		}
		return nil, err
	}

	instance.ProviderInstanceID = upstream.ExternalID
	instance.PublicIPv4 = upstream.PublicIPv4
	instance.PublicIPv6 = upstream.PublicIPv6
	instance.PrivateIPv4 = upstream.PrivateIPv4
	if err := s.store.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, orgID, "instance.create", "instance", instance.ID,
		fmt.Sprintf("provider=%s plan=%s region=%s", prov.ID, plan.ID, req.Region))
	s.logger.Info("instance created",
		"instance_id", instance.ID,
		"provider_instance_id", instance.ProviderInstanceID,
		"provider", prov.Kind,
	)
	return instance, nil
}

// GetInstance returns the locally persisted instance record.
func (s *Service) GetInstance(ctx context.Context, id string) (*domain.ResourceInstance, error) {
	instance, err := s.store.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "", "instance not found: "+id)
		}
		return nil, err
	}
	return instance, nil
}

// ListInstances returns an organization's instances.
func (s *Service) ListInstances(ctx context.Context, orgID string, opts store.ListOptions) ([]domain.ResourceInstance, error) {
	return s.store.ListInstancesByOrg(ctx, orgID, opts)
}

// RefreshInstance polls upstream and applies the confirmed status to the
// local record. Upstream is the only source of truth for status transitions
// after the initial optimistic provisioning state.
func (s *Service) RefreshInstance(ctx context.Context, id string) (*domain.ResourceInstance, error) {
	instance, err := s.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance.Status == domain.StatusDeleted {
		return instance, nil
	}
	if instance.ProviderInstanceID == "" {
		return instance, nil
	}

	client, _, err := s.ForProvider(ctx, instance.ProviderID)
	if err != nil {
		return nil, err
	}

	upstream, err := client.GetInstance(ctx, instance.ProviderInstanceID)
	if err != nil {
		if domain.IsCode(err, domain.CodeNotFound) {
			// Gone upstream: mark deleted locally.
			if terr := instance.Transition(domain.StatusDeleted); terr == nil {
				if uerr := s.store.UpdateInstance(ctx, instance); uerr != nil {
					return nil, uerr
				}
			}
			return instance, nil
		}
		return nil, err
	}

	changed := false
	if upstream.Status != instance.Status {
		if terr := instance.Transition(upstream.Status); terr != nil {
			s.logger.Warn("skipping invalid status transition",
				"instance_id", instance.ID,
				"from", instance.Status,
				"to", upstream.Status,
			)
		} else {
			changed = true
		}
	}
	if upstream.PublicIPv4 != "" && upstream.PublicIPv4 != instance.PublicIPv4 {
		instance.PublicIPv4 = upstream.PublicIPv4
		changed = true
	}
	if upstream.PublicIPv6 != "" && upstream.PublicIPv6 != instance.PublicIPv6 {
		instance.PublicIPv6 = upstream.PublicIPv6
		changed = true
	}
	if upstream.PrivateIPv4 != "" && upstream.PrivateIPv4 != instance.PrivateIPv4 {
		instance.PrivateIPv4 = upstream.PrivateIPv4
		changed = true
	}

	if changed {
		if err := s.store.UpdateInstance(ctx, instance); err != nil {
			return nil, err
		}
	}
	return instance, nil
}

// PerformAction applies a lifecycle action. Actions are fire-and-forget:
// except for delete, local status is only updated once a later refresh
// confirms the upstream state.
func (s *Service) PerformAction(ctx context.Context, id string, action domain.InstanceAction) error {
	if !action.IsValid() {
		return domain.NewError(domain.CodeUnsupportedAction, "", string(action))
	}

	instance, err := s.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if instance.Status == domain.StatusDeleted {
		return domain.NewError(domain.CodeUpstreamValidation, "", "instance is deleted: "+id)
	}

	client, prov, err := s.ForProvider(ctx, instance.ProviderID)
	if err != nil {
		return err
	}

	if instance.ProviderInstanceID != "" {
		if err := client.PerformAction(ctx, instance.ProviderInstanceID, action); err != nil {
			// A delete for an instance already gone upstream still succeeds
			// locally.
			if !(action == domain.ActionDelete && domain.IsCode(err, domain.CodeNotFound)) {
				return err
			}
		}
	}

	if action == domain.ActionDelete {
		if err := instance.Transition(domain.StatusDeleted); err != nil {
			return err
		}
		if err := s.store.UpdateInstance(ctx, instance); err != nil {
			return err
		}
	}

	s.audit.Record(ctx, instance.OrgID, "instance."+string(action), "instance", instance.ID, string(prov.Kind))
	s.logger.Info("instance action dispatched",
		"instance_id", instance.ID,
		"action", action,
		"provider", prov.Kind,
	)
	return nil
}

// Suspend shuts an instance down in response to a billing shortfall. The
// upstream shutdown is best-effort; the suspension itself is recorded either
// way so operators can follow up.
func (s *Service) Suspend(ctx context.Context, instanceID, reason string) error {
	instance, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.ProviderInstanceID != "" {
		client, _, err := s.ForProvider(ctx, instance.ProviderID)
		if err == nil {
			if aerr := client.PerformAction(ctx, instance.ProviderInstanceID, domain.ActionShutdown); aerr != nil {
				s.logger.Warn("upstream shutdown failed during suspension",
					"instance_id", instance.ID, "error", aerr)
			}
		} else {
			s.logger.Warn("provider unavailable during suspension",
				"instance_id", instance.ID, "error", err)
		}
	}

	s.audit.Record(ctx, "billing", "instance.suspend", "instance", instance.ID, reason)
	s.logger.Warn("instance suspended", "instance_id", instance.ID, "reason", reason)
	return nil
}
