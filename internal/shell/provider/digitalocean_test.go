package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digitalocean/godo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackrent/stackrent/internal/core/domain"
)

func doTestClient(t *testing.T, handler http.Handler) *DigitalOceanClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := godo.New(http.DefaultClient, godo.SetBaseURL(server.URL+"/"))
	require.NoError(t, err)
	return newDigitalOcean(client, nil)
}

const dropletJSON = `{
	"droplet": {
		"id": 4201,
		"name": "web-1",
		"status": "active",
		"created_at": "2026-01-02T15:04:05Z",
		"region": {"slug": "nyc3"},
		"networks": {
			"v4": [
				{"ip_address": "10.10.0.2", "type": "private"},
				{"ip_address": "203.0.113.5", "type": "public"}
			]
		}
	}
}`

func TestDigitalOcean_GetInstance(t *testing.T) {
	client := doTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/droplets/4201", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(dropletJSON))
	}))

	inst, err := client.GetInstance(context.Background(), "4201")
	require.NoError(t, err)

	assert.Equal(t, "4201", inst.ExternalID)
	assert.Equal(t, "web-1", inst.Label)
	assert.Equal(t, domain.StatusRunning, inst.Status)
	assert.Equal(t, "nyc3", inst.Region)
	assert.Equal(t, "203.0.113.5", inst.PublicIPv4)
	assert.Equal(t, "10.10.0.2", inst.PrivateIPv4)
	assert.Equal(t, 2026, inst.CreatedAt.Year())
}

func TestDigitalOcean_GetInstance_InvalidID(t *testing.T) {
	client := newDigitalOcean(godo.NewFromToken("t"), nil)

	_, err := client.GetInstance(context.Background(), "not-a-number")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeUpstreamValidation))
}

func TestDigitalOcean_RateLimitRetried(t *testing.T) {
	zeroBackoff(t)

	calls := 0
	client := doTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"id": "too_many_requests", "message": "API rate limit exceeded"}`))
			return
		}
		w.Write([]byte(dropletJSON))
	}))

	inst, err := client.GetInstance(context.Background(), "4201")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, domain.StatusRunning, inst.Status)
}

func TestDigitalOcean_UnauthorizedNotRetried(t *testing.T) {
	zeroBackoff(t)

	calls := 0
	client := doTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"id": "unauthorized", "message": "Unable to authenticate you"}`))
	}))

	err := client.ValidateCredentials(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeMissingCredentials))
	assert.Equal(t, 1, calls)
}

func TestDigitalOcean_CreateInstance_InlinePublicKey(t *testing.T) {
	var createBody struct {
		Name    string `json:"name"`
		SSHKeys []any  `json:"ssh_keys"`
	}
	client := doTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/account/keys":
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"ssh_key": {"id": 777, "name": "web-1"}}`))
		case "/v2/droplets":
			if err := json.NewDecoder(r.Body).Decode(&createBody); err != nil {
				t.Errorf("decoding droplet create request: %v", err)
			}
			w.Write([]byte(dropletJSON))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	inst, err := client.CreateInstance(context.Background(), CreateSpec{
		Label:     "web-1",
		PlanID:    "s-1vcpu-1gb",
		Region:    "nyc3",
		Image:     "ubuntu-22-04-x64",
		PublicKey: "ssh-ed25519 AAAA web-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProvisioning, inst.Status)

	// The inline key was registered and attached to the droplet by ID.
	require.Len(t, createBody.SSHKeys, 1)
	assert.Equal(t, float64(777), createBody.SSHKeys[0])
}

func TestDigitalOcean_PerformAction_Unsupported(t *testing.T) {
	client := newDigitalOcean(godo.NewFromToken("t"), nil)

	err := client.PerformAction(context.Background(), "4201", domain.InstanceAction("resize"))
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeUnsupportedAction))
}

func TestDropletStatus(t *testing.T) {
	assert.Equal(t, domain.StatusProvisioning, dropletStatus("new"))
	assert.Equal(t, domain.StatusRunning, dropletStatus("active"))
	assert.Equal(t, domain.StatusStopped, dropletStatus("off"))
	assert.Equal(t, domain.StatusDeleted, dropletStatus("archive"))
	assert.Equal(t, domain.StatusError, dropletStatus("weird"))
}
