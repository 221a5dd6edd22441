package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/stackrent/stackrent/internal/core/domain"
	coreprovider "github.com/stackrent/stackrent/internal/core/provider"
)

// managedLabel selects servers provisioned by this platform.
const managedLabel = "managed-by=stackrent"

// HetznerClient implements Client for Hetzner Cloud.
type HetznerClient struct {
	client *hcloud.Client
	logger *slog.Logger
}

// NewHetzner creates a new Hetzner Cloud client.
func NewHetzner(apiToken string, logger *slog.Logger) *HetznerClient {
	return newHetzner(hcloud.NewClient(hcloud.WithToken(apiToken)), logger)
}

func newHetzner(client *hcloud.Client, logger *slog.Logger) *HetznerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HetznerClient{
		client: client,
		logger: logger.With("provider", "hetzner"),
	}
}

// Kind returns the provider kind.
func (c *HetznerClient) Kind() domain.ProviderKind {
	return domain.KindHetzner
}

// CreateInstance provisions a Hetzner Cloud server.
func (c *HetznerClient) CreateInstance(ctx context.Context, spec CreateSpec) (*Instance, error) {
	sshKeys := make([]*hcloud.SSHKey, 0, len(spec.SSHKeyIDs))
	for _, id := range spec.SSHKeyIDs {
		keyID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, domain.NewError(domain.CodeUpstreamValidation, domain.KindHetzner,
				fmt.Sprintf("invalid SSH key ID %q", id))
		}
		sshKeys = append(sshKeys, &hcloud.SSHKey{ID: keyID})
	}

	// Inline credential material is registered first, then attached by ID.
	if spec.PublicKey != "" {
		keyID, err := c.RegisterSSHKey(ctx, spec.Label, spec.PublicKey)
		if err != nil {
			return nil, err
		}
		id, _ := strconv.ParseInt(keyID, 10, 64)
		sshKeys = append(sshKeys, &hcloud.SSHKey{ID: id})
	}

	var server *hcloud.Server
	err := withRetry(ctx, c.logger, "create_server", func(ctx context.Context) error {
		serverType, _, err := c.client.ServerType.GetByName(ctx, spec.PlanID)
		if err != nil {
			return normalizeHetzner(err)
		}
		if serverType == nil {
			return domain.NewError(domain.CodeUpstreamValidation, domain.KindHetzner,
				fmt.Sprintf("unknown server type %q", spec.PlanID))
		}

		location, _, err := c.client.Location.GetByName(ctx, spec.Region)
		if err != nil {
			return normalizeHetzner(err)
		}
		if location == nil {
			return domain.NewError(domain.CodeUpstreamValidation, domain.KindHetzner,
				fmt.Sprintf("unknown location %q", spec.Region))
		}

		image, _, err := c.client.Image.GetByNameAndArchitecture(ctx, spec.ImageRef(), hcloud.ArchitectureX86)
		if err != nil {
			return normalizeHetzner(err)
		}
		if image == nil {
			return domain.NewError(domain.CodeUpstreamValidation, domain.KindHetzner,
				fmt.Sprintf("unknown image %q", spec.ImageRef()))
		}

		result, _, err := c.client.Server.Create(ctx, hcloud.ServerCreateOpts{
			Name:       spec.Label,
			ServerType: serverType,
			Image:      image,
			Location:   location,
			SSHKeys:    sshKeys,
			Labels: map[string]string{
				"managed-by": "stackrent",
			},
		})
		if err != nil {
			return normalizeHetzner(err)
		}
		server = result.Server
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("server created", "server_id", server.ID, "location", spec.Region)

	if spec.Backups {
		// Best effort: a billing-relevant extra, not worth failing the create.
		if _, _, err := c.client.Server.EnableBackup(ctx, server, ""); err != nil {
			c.logger.Warn("failed to enable backups", "server_id", server.ID, "error", err)
		}
	}

	inst := normalizeServer(server)
	inst.Status = domain.StatusProvisioning
	return inst, nil
}

// GetInstance fetches the current state of a server.
func (c *HetznerClient) GetInstance(ctx context.Context, externalID string) (*Instance, error) {
	serverID, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return nil, domain.NewError(domain.CodeUpstreamValidation, domain.KindHetzner,
			fmt.Sprintf("invalid server ID %q", externalID))
	}

	var server *hcloud.Server
	err = withRetry(ctx, c.logger, "get_server", func(ctx context.Context) error {
		s, _, err := c.client.Server.GetByID(ctx, serverID)
		if err != nil {
			return normalizeHetzner(err)
		}
		if s == nil {
			return domain.NewError(domain.CodeNotFound, domain.KindHetzner,
				fmt.Sprintf("server %d not found", serverID))
		}
		server = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return normalizeServer(server), nil
}

// ListInstances returns all servers carrying the managed label.
func (c *HetznerClient) ListInstances(ctx context.Context) ([]Instance, error) {
	var servers []*hcloud.Server
	err := withRetry(ctx, c.logger, "list_servers", func(ctx context.Context) error {
		ss, err := c.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
			ListOpts: hcloud.ListOpts{LabelSelector: managedLabel},
		})
		if err != nil {
			return normalizeHetzner(err)
		}
		servers = ss
		return nil
	})
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(servers))
	for _, s := range servers {
		instances = append(instances, *normalizeServer(s))
	}
	return instances, nil
}

// PerformAction applies a lifecycle action to a server.
func (c *HetznerClient) PerformAction(ctx context.Context, externalID string, action domain.InstanceAction) error {
	serverID, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return domain.NewError(domain.CodeUpstreamValidation, domain.KindHetzner,
			fmt.Sprintf("invalid server ID %q", externalID))
	}
	server := &hcloud.Server{ID: serverID}

	return withRetry(ctx, c.logger, "server_action", func(ctx context.Context) error {
		var err error
		switch action {
		case domain.ActionBoot:
			_, _, err = c.client.Server.Poweron(ctx, server)
		case domain.ActionShutdown:
			_, _, err = c.client.Server.Shutdown(ctx, server)
		case domain.ActionReboot:
			_, _, err = c.client.Server.Reboot(ctx, server)
		case domain.ActionPowerCycle:
			// Hetzner's reset is the hard power cycle.
			_, _, err = c.client.Server.Reset(ctx, server)
		case domain.ActionDelete:
			_, _, err = c.client.Server.DeleteWithResult(ctx, server)
		default:
			return domain.NewError(domain.CodeUnsupportedAction, domain.KindHetzner, string(action))
		}
		return normalizeHetzner(err)
	})
}

// ListPlans returns shared-CPU server types, falling back to the static
// catalog when the upstream call fails.
func (c *HetznerClient) ListPlans(ctx context.Context) ([]coreprovider.Size, error) {
	var serverTypes []*hcloud.ServerType
	err := withRetry(ctx, c.logger, "list_server_types", func(ctx context.Context) error {
		sts, err := c.client.ServerType.All(ctx)
		if err != nil {
			return normalizeHetzner(err)
		}
		serverTypes = sts
		return nil
	})
	if err != nil {
		c.logger.Warn("server type list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticSizes(domain.KindHetzner), nil
	}

	sizes := make([]coreprovider.Size, 0, len(serverTypes))
	for _, st := range serverTypes {
		if st.CPUType != hcloud.CPUTypeShared {
			continue
		}
		price := "0"
		if len(st.Pricings) > 0 {
			price = st.Pricings[0].Hourly.Gross
		}
		sizes = append(sizes, coreprovider.Size{
			ID:          st.Name,
			Name:        fmt.Sprintf("%s (%d vCPU, %.0f GB)", st.Name, st.Cores, st.Memory),
			VCPUs:       st.Cores,
			MemoryMB:    int64(st.Memory * 1024),
			DiskGB:      st.Disk,
			PriceHourly: price,
		})
	}
	return sizes, nil
}

// ListImages returns system images for the x86 architecture.
func (c *HetznerClient) ListImages(ctx context.Context) ([]coreprovider.Image, error) {
	var hcImages []*hcloud.Image
	err := withRetry(ctx, c.logger, "list_images", func(ctx context.Context) error {
		imgs, err := c.client.Image.AllWithOpts(ctx, hcloud.ImageListOpts{
			Type:         []hcloud.ImageType{hcloud.ImageTypeSystem},
			Architecture: []hcloud.Architecture{hcloud.ArchitectureX86},
		})
		if err != nil {
			return normalizeHetzner(err)
		}
		hcImages = imgs
		return nil
	})
	if err != nil {
		c.logger.Warn("image list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticImages(domain.KindHetzner), nil
	}

	images := make([]coreprovider.Image, 0, len(hcImages))
	for _, img := range hcImages {
		images = append(images, coreprovider.Image{ID: img.Name, Name: img.Description})
	}
	return images, nil
}

// ListRegions returns available locations.
func (c *HetznerClient) ListRegions(ctx context.Context) ([]coreprovider.Region, error) {
	var locations []*hcloud.Location
	err := withRetry(ctx, c.logger, "list_locations", func(ctx context.Context) error {
		locs, err := c.client.Location.All(ctx)
		if err != nil {
			return normalizeHetzner(err)
		}
		locations = locs
		return nil
	})
	if err != nil {
		c.logger.Warn("location list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticRegions(domain.KindHetzner), nil
	}

	regions := make([]coreprovider.Region, 0, len(locations))
	for _, loc := range locations {
		regions = append(regions, coreprovider.Region{
			ID:        loc.Name,
			Name:      fmt.Sprintf("%s (%s)", loc.City, loc.Country),
			Available: true,
		})
	}
	return regions, nil
}

// ValidateCredentials verifies the API token with a location listing.
func (c *HetznerClient) ValidateCredentials(ctx context.Context) error {
	return withRetry(ctx, c.logger, "validate_credentials", func(ctx context.Context) error {
		_, err := c.client.Location.All(ctx)
		return normalizeHetzner(err)
	})
}

// RegisterSSHKey uploads a public key and returns Hetzner's key ID.
func (c *HetznerClient) RegisterSSHKey(ctx context.Context, name, publicKey string) (string, error) {
	var key *hcloud.SSHKey
	err := withRetry(ctx, c.logger, "register_ssh_key", func(ctx context.Context) error {
		k, _, err := c.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
			Name:      name,
			PublicKey: publicKey,
		})
		if err != nil {
			return normalizeHetzner(err)
		}
		key = k
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("SSH key registered", "key_id", key.ID)
	return strconv.FormatInt(key.ID, 10), nil
}

// RemoveSSHKey deletes a key by its Hetzner ID.
func (c *HetznerClient) RemoveSSHKey(ctx context.Context, keyID string) error {
	id, err := strconv.ParseInt(keyID, 10, 64)
	if err != nil {
		return domain.NewError(domain.CodeUpstreamValidation, domain.KindHetzner,
			fmt.Sprintf("invalid SSH key ID %q", keyID))
	}

	return withRetry(ctx, c.logger, "remove_ssh_key", func(ctx context.Context) error {
		_, err := c.client.SSHKey.Delete(ctx, &hcloud.SSHKey{ID: id})
		return normalizeHetzner(err)
	})
}

// normalizeServer converts an hcloud server into the normalized instance view.
func normalizeServer(s *hcloud.Server) *Instance {
	inst := &Instance{
		ExternalID: strconv.FormatInt(s.ID, 10),
		Label:      s.Name,
		Status:     serverStatus(s.Status),
		CreatedAt:  s.Created,
	}
	if s.Datacenter != nil && s.Datacenter.Location != nil {
		inst.Region = s.Datacenter.Location.Name
	}
	if s.PublicNet.IPv4.IP != nil && !s.PublicNet.IPv4.IP.IsUnspecified() {
		inst.PublicIPv4 = s.PublicNet.IPv4.IP.String()
	}
	if s.PublicNet.IPv6.IP != nil {
		inst.PublicIPv6 = s.PublicNet.IPv6.IP.String()
	}
	if len(s.PrivateNet) > 0 && s.PrivateNet[0].IP != nil {
		inst.PrivateIPv4 = s.PrivateNet[0].IP.String()
	}
	return inst
}

// serverStatus maps Hetzner server statuses to the domain state machine.
func serverStatus(status hcloud.ServerStatus) domain.InstanceStatus {
	switch status {
	case hcloud.ServerStatusInitializing, hcloud.ServerStatusStarting,
		hcloud.ServerStatusMigrating, hcloud.ServerStatusRebuilding:
		return domain.StatusProvisioning
	case hcloud.ServerStatusRunning:
		return domain.StatusRunning
	case hcloud.ServerStatusOff, hcloud.ServerStatusStopping:
		return domain.StatusStopped
	case hcloud.ServerStatusDeleting:
		return domain.StatusDeleted
	default:
		return domain.StatusError
	}
}
