// Package keysync propagates user SSH keys to every configured provider.
// Registration fans out in parallel and is deliberately best-effort: a
// provider that refuses the key leaves a recorded failure on its binding
// while the others proceed, and a later resync can fill the gaps.
package keysync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/core/sshkey"
	"github.com/stackrent/stackrent/internal/shell/audit"
	"github.com/stackrent/stackrent/internal/shell/provider"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// ProviderResolver turns a provider record ID into a live adapter client.
// Satisfied by the compute service.
type ProviderResolver interface {
	ForProvider(ctx context.Context, providerID string) (provider.Client, *domain.Provider, error)
}

// Service manages user SSH credentials and their provider bindings.
type Service struct {
	store    store.Store
	resolver ProviderResolver
	audit    audit.Recorder
	logger   *slog.Logger
}

// NewService creates a key sync service.
func NewService(s store.Store, resolver ProviderResolver, rec audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = audit.Noop{}
	}
	return &Service{
		store:    s,
		resolver: resolver,
		audit:    rec,
		logger:   logger.With("component", "keysync"),
	}
}

// Add validates and stores a public key, then registers it with every active
// provider in parallel. Per-provider registration failures do not fail the
// call; they are recorded on the credential's bindings.
func (s *Service) Add(ctx context.Context, userID, label, publicKey string) (*domain.UserCredential, error) {
	normalized, err := sshkey.Parse(publicKey)
	if err != nil {
		return nil, err
	}
	fingerprint, err := sshkey.Fingerprint(normalized)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetUserCredentialByFingerprint(ctx, userID, fingerprint); err == nil {
		return nil, domain.ErrDuplicateFingerprint
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cred, err := domain.NewUserCredential(userID, label, normalized, fingerprint)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateUserCredential(ctx, cred); err != nil {
		if errors.Is(err, store.ErrDuplicateFingerprint) {
			return nil, domain.ErrDuplicateFingerprint
		}
		return nil, err
	}

	s.syncBindings(ctx, cred, nil)

	if err := s.store.UpdateUserCredential(ctx, cred); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, userID, "key.create", "credential", cred.ID, fingerprint)
	s.logger.Info("ssh key added",
		"credential_id", cred.ID,
		"user_id", userID,
		"synced", len(cred.SyncedKinds()),
	)
	return cred, nil
}

// Resync re-attempts registration for every provider kind that does not yet
// hold a usable upstream key ID.
func (s *Service) Resync(ctx context.Context, userID, credID string) (*domain.UserCredential, error) {
	cred, err := s.get(ctx, userID, credID)
	if err != nil {
		return nil, err
	}

	skip := make(map[domain.ProviderKind]bool)
	for _, k := range cred.SyncedKinds() {
		skip[k] = true
	}

	s.syncBindings(ctx, cred, skip)

	if err := s.store.UpdateUserCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Get returns a credential after an ownership check.
func (s *Service) Get(ctx context.Context, userID, credID string) (*domain.UserCredential, error) {
	return s.get(ctx, userID, credID)
}

// List returns a user's credentials.
func (s *Service) List(ctx context.Context, userID string, opts store.ListOptions) ([]domain.UserCredential, error) {
	return s.store.ListUserCredentials(ctx, userID, opts)
}

// RemovalResult is the upstream deregistration outcome for one provider kind.
type RemovalResult struct {
	Removed bool
	Error   string
}

// Delete removes a credential. Upstream deregistration is attempted for every
// synced binding but never blocks the local delete: a provider that is down
// or has already lost the key must not pin the record forever. The returned
// map reports the per-kind outcome so callers can surface partial failures.
func (s *Service) Delete(ctx context.Context, userID, credID string) (map[domain.ProviderKind]RemovalResult, error) {
	cred, err := s.get(ctx, userID, credID)
	if err != nil {
		return nil, err
	}

	providers, err := s.activeByKind(ctx)
	if err != nil {
		s.logger.Warn("failed to list providers during key delete", "error", err)
		providers = nil
	}

	results := make(map[domain.ProviderKind]RemovalResult, len(cred.Bindings))
	for kind, binding := range cred.Bindings {
		if !binding.Synced() {
			continue
		}
		prov, ok := providers[kind]
		if !ok {
			s.logger.Warn("no active provider for synced binding",
				"credential_id", cred.ID, "kind", kind)
			results[kind] = RemovalResult{Error: "no active provider for kind " + string(kind)}
			continue
		}
		client, _, err := s.resolver.ForProvider(ctx, prov.ID)
		if err != nil {
			s.logger.Warn("provider unavailable during key delete",
				"credential_id", cred.ID, "kind", kind, "error", err)
			results[kind] = RemovalResult{Error: err.Error()}
			continue
		}
		if err := client.RemoveSSHKey(ctx, binding.UpstreamKeyID); err != nil && !domain.IsCode(err, domain.CodeNotFound) {
			s.logger.Warn("upstream key removal failed",
				"credential_id", cred.ID, "kind", kind, "error", err)
			results[kind] = RemovalResult{Error: err.Error()}
			continue
		}
		results[kind] = RemovalResult{Removed: true}
	}

	if err := s.store.DeleteUserCredential(ctx, cred.ID); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, userID, "key.delete", "credential", cred.ID, cred.Fingerprint)
	s.logger.Info("ssh key deleted", "credential_id", cred.ID, "user_id", userID)
	return results, nil
}

func (s *Service) get(ctx context.Context, userID, credID string) (*domain.UserCredential, error) {
	cred, err := s.store.GetUserCredential(ctx, credID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "", "credential not found: "+credID)
		}
		return nil, err
	}
	if !cred.OwnedBy(userID) {
		return nil, domain.NewError(domain.CodeForbidden, "", "credential belongs to another user")
	}
	return cred, nil
}

// syncBindings registers the key with one active provider per kind, in
// parallel. Outcomes land on cred.Bindings; kinds in skip are left alone.
// The caller persists the credential afterwards.
func (s *Service) syncBindings(ctx context.Context, cred *domain.UserCredential, skip map[domain.ProviderKind]bool) {
	providers, err := s.activeByKind(ctx)
	if err != nil {
		s.logger.Error("failed to list providers for key sync", "error", err)
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for kind, prov := range providers {
		if skip[kind] {
			continue
		}
		g.Go(func() error {
			keyID, err := s.registerWith(gctx, prov.ID, cred)
			mu.Lock()
			cred.RecordBinding(kind, keyID, err)
			mu.Unlock()
			if err != nil {
				s.logger.Warn("key registration failed",
					"credential_id", cred.ID, "kind", kind, "error", err)
			}
			return nil
		})
	}
	// Goroutines always return nil; partial failure is recorded per binding.
	_ = g.Wait()
}

func (s *Service) registerWith(ctx context.Context, providerID string, cred *domain.UserCredential) (string, error) {
	client, _, err := s.resolver.ForProvider(ctx, providerID)
	if err != nil {
		return "", err
	}
	return client.RegisterSSHKey(ctx, cred.Label, cred.PublicKey)
}

// activeByKind returns one active provider per kind, the oldest configured
// one winning when an administrator registered several of the same kind.
func (s *Service) activeByKind(ctx context.Context) (map[domain.ProviderKind]domain.Provider, error) {
	providers, err := s.store.ListActiveProviders(ctx)
	if err != nil {
		return nil, err
	}
	byKind := make(map[domain.ProviderKind]domain.Provider, len(providers))
	for _, p := range providers {
		if _, ok := byKind[p.Kind]; !ok {
			byKind[p.Kind] = p
		}
	}
	return byKind, nil
}
