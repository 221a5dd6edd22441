package keysync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackrent/stackrent/internal/core/domain"
	coreprovider "github.com/stackrent/stackrent/internal/core/provider"
	"github.com/stackrent/stackrent/internal/core/sshkey"
	"github.com/stackrent/stackrent/internal/shell/provider"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// A throwaway Ed25519 public key, generated for tests only.
const testPublicKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGJl1BSHTNVGO3XNkGWSfqyLv0g+4pY2AcEhOoeS54Km test@example"

// =============================================================================
// Stubs
// =============================================================================

// stubClient is a scriptable provider.Client for key operations.
type stubClient struct {
	kind domain.ProviderKind

	registerID  string
	registerErr error
	registered  int

	removed   []string
	removeErr error
}

func (c *stubClient) Kind() domain.ProviderKind { return c.kind }

func (c *stubClient) RegisterSSHKey(ctx context.Context, name, publicKey string) (string, error) {
	c.registered++
	if c.registerErr != nil {
		return "", c.registerErr
	}
	return c.registerID, nil
}

func (c *stubClient) RemoveSSHKey(ctx context.Context, keyID string) error {
	c.removed = append(c.removed, keyID)
	return c.removeErr
}

func (c *stubClient) CreateInstance(ctx context.Context, spec provider.CreateSpec) (*provider.Instance, error) {
	return nil, errors.New("not implemented")
}
func (c *stubClient) GetInstance(ctx context.Context, externalID string) (*provider.Instance, error) {
	return nil, errors.New("not implemented")
}
func (c *stubClient) ListInstances(ctx context.Context) ([]provider.Instance, error) {
	return nil, errors.New("not implemented")
}
func (c *stubClient) PerformAction(ctx context.Context, externalID string, action domain.InstanceAction) error {
	return errors.New("not implemented")
}
func (c *stubClient) ListPlans(ctx context.Context) ([]coreprovider.Size, error)     { return nil, nil }
func (c *stubClient) ListImages(ctx context.Context) ([]coreprovider.Image, error)   { return nil, nil }
func (c *stubClient) ListRegions(ctx context.Context) ([]coreprovider.Region, error) { return nil, nil }
func (c *stubClient) ValidateCredentials(ctx context.Context) error                  { return nil }

// stubResolver maps provider record IDs to stub clients.
type stubResolver struct {
	clients map[string]*stubClient
	errs    map[string]error
}

func (r *stubResolver) ForProvider(ctx context.Context, providerID string) (provider.Client, *domain.Provider, error) {
	if err, ok := r.errs[providerID]; ok {
		return nil, nil, err
	}
	client, ok := r.clients[providerID]
	if !ok {
		return nil, nil, domain.NewError(domain.CodeProviderNotFound, "", providerID)
	}
	return client, nil, nil
}

// =============================================================================
// Fixture
// =============================================================================

type keysyncFixture struct {
	store    store.Store
	service  *Service
	resolver *stubResolver

	// provider record ID and stub client per kind
	providerIDs map[domain.ProviderKind]string
	clients     map[domain.ProviderKind]*stubClient
}

func setupKeysync(t *testing.T, kinds ...domain.ProviderKind) *keysyncFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	resolver := &stubResolver{
		clients: make(map[string]*stubClient),
		errs:    make(map[string]error),
	}
	f := &keysyncFixture{
		store:       st,
		resolver:    resolver,
		providerIDs: make(map[domain.ProviderKind]string),
		clients:     make(map[domain.ProviderKind]*stubClient),
	}

	for _, kind := range kinds {
		prov, err := domain.NewProvider(kind.DisplayName(), kind, []byte("enc"))
		require.NoError(t, err)
		require.NoError(t, st.CreateProvider(ctx, prov))

		client := &stubClient{kind: kind, registerID: "upkey-" + string(kind)}
		resolver.clients[prov.ID] = client
		f.providerIDs[kind] = prov.ID
		f.clients[kind] = client
	}

	f.service = NewService(st, resolver, nil, nil)
	return f
}

// =============================================================================
// Add
// =============================================================================

func TestAdd_SyncsAllProviders(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean, domain.KindHetzner, domain.KindAWS)
	ctx := context.Background()

	cred, err := f.service.Add(ctx, "user-1", "laptop", testPublicKey)
	require.NoError(t, err)

	assert.Len(t, cred.SyncedKinds(), 3)
	assert.Equal(t, "upkey-digitalocean", cred.Bindings[domain.KindDigitalOcean].UpstreamKeyID)
	assert.Equal(t, "upkey-hetzner", cred.Bindings[domain.KindHetzner].UpstreamKeyID)
	assert.Equal(t, "upkey-aws", cred.Bindings[domain.KindAWS].UpstreamKeyID)

	// The comment is stripped from the stored key material.
	assert.NotContains(t, cred.PublicKey, "test@example")
	assert.NotEmpty(t, cred.Fingerprint)

	// Bindings are persisted.
	reloaded, err := f.store.GetUserCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, cred.Bindings, reloaded.Bindings)
}

func TestAdd_PartialFailureStillSucceeds(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean, domain.KindHetzner)
	f.clients[domain.KindHetzner].registerErr = domain.NewError(
		domain.CodeRateLimited, domain.KindHetzner, "rate limited")

	cred, err := f.service.Add(context.Background(), "user-1", "laptop", testPublicKey)
	require.NoError(t, err, "one provider failing must not fail the add")

	assert.Equal(t, []domain.ProviderKind{domain.KindDigitalOcean}, cred.SyncedKinds())
	hetzner := cred.Bindings[domain.KindHetzner]
	assert.False(t, hetzner.Synced())
	assert.Contains(t, hetzner.SyncError, "rate limited")
}

func TestAdd_InvalidKey(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean)

	_, err := f.service.Add(context.Background(), "user-1", "laptop", "not a key")
	assert.ErrorIs(t, err, sshkey.ErrInvalidPublicKey)
}

func TestAdd_DuplicateFingerprint(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean)
	ctx := context.Background()

	_, err := f.service.Add(ctx, "user-1", "laptop", testPublicKey)
	require.NoError(t, err)

	// Same key again, even under a different label and comment.
	_, err = f.service.Add(ctx, "user-1", "desktop", testPublicKey+"-other-comment")
	assert.ErrorIs(t, err, domain.ErrDuplicateFingerprint)

	// A different user may register the same key.
	_, err = f.service.Add(ctx, "user-2", "laptop", testPublicKey)
	assert.NoError(t, err)
}

func TestAdd_NoActiveProviders(t *testing.T) {
	f := setupKeysync(t)

	cred, err := f.service.Add(context.Background(), "user-1", "laptop", testPublicKey)
	require.NoError(t, err)
	assert.Empty(t, cred.Bindings)
}

// =============================================================================
// Resync
// =============================================================================

func TestResync_FillsFailedBindings(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean, domain.KindHetzner)
	ctx := context.Background()

	f.clients[domain.KindHetzner].registerErr = domain.NewError(
		domain.CodeProviderUnavailable, domain.KindHetzner, "upstream down")
	cred, err := f.service.Add(ctx, "user-1", "laptop", testPublicKey)
	require.NoError(t, err)
	require.Len(t, cred.SyncedKinds(), 1)

	// Upstream recovers.
	f.clients[domain.KindHetzner].registerErr = nil

	cred, err = f.service.Resync(ctx, "user-1", cred.ID)
	require.NoError(t, err)
	assert.Len(t, cred.SyncedKinds(), 2)
	assert.Equal(t, "upkey-hetzner", cred.Bindings[domain.KindHetzner].UpstreamKeyID)

	// The already-synced provider was not re-registered.
	assert.Equal(t, 1, f.clients[domain.KindDigitalOcean].registered)
	assert.Equal(t, 2, f.clients[domain.KindHetzner].registered)
}

// =============================================================================
// Delete
// =============================================================================

func TestDelete_RemovesUpstreamKeys(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean, domain.KindHetzner)
	ctx := context.Background()

	cred, err := f.service.Add(ctx, "user-1", "laptop", testPublicKey)
	require.NoError(t, err)

	removals, err := f.service.Delete(ctx, "user-1", cred.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"upkey-digitalocean"}, f.clients[domain.KindDigitalOcean].removed)
	assert.Equal(t, []string{"upkey-hetzner"}, f.clients[domain.KindHetzner].removed)
	assert.True(t, removals[domain.KindDigitalOcean].Removed)
	assert.True(t, removals[domain.KindHetzner].Removed)

	_, err = f.store.GetUserCredential(ctx, cred.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_WrongUserForbidden(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean)
	ctx := context.Background()

	cred, err := f.service.Add(ctx, "user-1", "laptop", testPublicKey)
	require.NoError(t, err)

	_, err = f.service.Delete(ctx, "user-2", cred.ID)
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))

	// Record untouched.
	_, err = f.store.GetUserCredential(ctx, cred.ID)
	assert.NoError(t, err)
}

func TestDelete_ProceedsWhenUpstreamFails(t *testing.T) {
	f := setupKeysync(t, domain.KindDigitalOcean, domain.KindHetzner)
	ctx := context.Background()

	cred, err := f.service.Add(ctx, "user-1", "laptop", testPublicKey)
	require.NoError(t, err)

	f.clients[domain.KindHetzner].removeErr = domain.NewError(
		domain.CodeProviderUnavailable, domain.KindHetzner, "upstream down")

	removals, err := f.service.Delete(ctx, "user-1", cred.ID)
	require.NoError(t, err, "an unreachable provider must not pin the record")

	// The failure is reported to the caller, not just logged.
	assert.True(t, removals[domain.KindDigitalOcean].Removed)
	hetzner := removals[domain.KindHetzner]
	assert.False(t, hetzner.Removed)
	assert.Contains(t, hetzner.Error, "upstream down")

	_, err = f.store.GetUserCredential(ctx, cred.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
