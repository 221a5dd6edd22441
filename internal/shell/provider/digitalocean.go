package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/digitalocean/godo"

	"github.com/stackrent/stackrent/internal/core/domain"
	coreprovider "github.com/stackrent/stackrent/internal/core/provider"
)

// managedTag marks droplets provisioned by this platform.
const managedTag = "stackrent"

// DigitalOceanClient implements Client for DigitalOcean.
type DigitalOceanClient struct {
	client *godo.Client
	logger *slog.Logger
}

// NewDigitalOcean creates a new DigitalOcean client.
func NewDigitalOcean(apiToken string, logger *slog.Logger) *DigitalOceanClient {
	return newDigitalOcean(godo.NewFromToken(apiToken), logger)
}

func newDigitalOcean(client *godo.Client, logger *slog.Logger) *DigitalOceanClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigitalOceanClient{
		client: client,
		logger: logger.With("provider", "digitalocean"),
	}
}

// Kind returns the provider kind.
func (c *DigitalOceanClient) Kind() domain.ProviderKind {
	return domain.KindDigitalOcean
}

// CreateInstance provisions a DigitalOcean droplet.
func (c *DigitalOceanClient) CreateInstance(ctx context.Context, spec CreateSpec) (*Instance, error) {
	req := &godo.DropletCreateRequest{
		Name:   spec.Label,
		Region: spec.Region,
		Size:   spec.PlanID,
		Image: godo.DropletCreateImage{
			Slug: spec.ImageRef(),
		},
		Backups:           spec.Backups,
		Monitoring:        spec.Monitoring,
		PrivateNetworking: spec.PrivateNetworking,
		Tags:              []string{managedTag},
	}

	for _, id := range spec.SSHKeyIDs {
		keyID, err := strconv.Atoi(id)
		if err != nil {
			return nil, domain.NewError(domain.CodeUpstreamValidation, domain.KindDigitalOcean,
				fmt.Sprintf("invalid SSH key ID %q", id))
		}
		req.SSHKeys = append(req.SSHKeys, godo.DropletCreateSSHKey{ID: keyID})
	}

	// Inline credential material is registered first, then attached by ID.
	if spec.PublicKey != "" {
		keyID, err := c.RegisterSSHKey(ctx, spec.Label, spec.PublicKey)
		if err != nil {
			return nil, err
		}
		// RegisterSSHKey returns DigitalOcean's numeric key ID.
		id, _ := strconv.Atoi(keyID)
		req.SSHKeys = append(req.SSHKeys, godo.DropletCreateSSHKey{ID: id})
	}

	var droplet *godo.Droplet
	err := withRetry(ctx, c.logger, "create_droplet", func(ctx context.Context) error {
		d, _, err := c.client.Droplets.Create(ctx, req)
		if err != nil {
			return normalizeDigitalOcean(err)
		}
		droplet = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("droplet created", "droplet_id", droplet.ID, "region", spec.Region)

	inst := normalizeDroplet(droplet)
	// The droplet is still booting; report the optimistic initial state.
	inst.Status = domain.StatusProvisioning
	return inst, nil
}

// GetInstance fetches the current state of a droplet.
func (c *DigitalOceanClient) GetInstance(ctx context.Context, externalID string) (*Instance, error) {
	dropletID, err := strconv.Atoi(externalID)
	if err != nil {
		return nil, domain.NewError(domain.CodeUpstreamValidation, domain.KindDigitalOcean,
			fmt.Sprintf("invalid droplet ID %q", externalID))
	}

	var droplet *godo.Droplet
	err = withRetry(ctx, c.logger, "get_droplet", func(ctx context.Context) error {
		d, _, err := c.client.Droplets.Get(ctx, dropletID)
		if err != nil {
			return normalizeDigitalOcean(err)
		}
		droplet = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return normalizeDroplet(droplet), nil
}

// ListInstances returns all droplets carrying the managed tag.
func (c *DigitalOceanClient) ListInstances(ctx context.Context) ([]Instance, error) {
	var droplets []godo.Droplet
	err := withRetry(ctx, c.logger, "list_droplets", func(ctx context.Context) error {
		ds, _, err := c.client.Droplets.ListByTag(ctx, managedTag, &godo.ListOptions{PerPage: 200})
		if err != nil {
			return normalizeDigitalOcean(err)
		}
		droplets = ds
		return nil
	})
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(droplets))
	for i := range droplets {
		instances = append(instances, *normalizeDroplet(&droplets[i]))
	}
	return instances, nil
}

// PerformAction applies a lifecycle action to a droplet. Fire-and-forget:
// DigitalOcean reports action completion asynchronously.
func (c *DigitalOceanClient) PerformAction(ctx context.Context, externalID string, action domain.InstanceAction) error {
	dropletID, err := strconv.Atoi(externalID)
	if err != nil {
		return domain.NewError(domain.CodeUpstreamValidation, domain.KindDigitalOcean,
			fmt.Sprintf("invalid droplet ID %q", externalID))
	}

	return withRetry(ctx, c.logger, "droplet_action", func(ctx context.Context) error {
		var err error
		switch action {
		case domain.ActionBoot:
			_, _, err = c.client.DropletActions.PowerOn(ctx, dropletID)
		case domain.ActionShutdown:
			_, _, err = c.client.DropletActions.Shutdown(ctx, dropletID)
		case domain.ActionReboot:
			_, _, err = c.client.DropletActions.Reboot(ctx, dropletID)
		case domain.ActionPowerCycle:
			_, _, err = c.client.DropletActions.PowerCycle(ctx, dropletID)
		case domain.ActionDelete:
			_, err = c.client.Droplets.Delete(ctx, dropletID)
		default:
			return domain.NewError(domain.CodeUnsupportedAction, domain.KindDigitalOcean, string(action))
		}
		return normalizeDigitalOcean(err)
	})
}

// ListPlans returns available droplet sizes, falling back to the static
// catalog when the upstream call fails.
func (c *DigitalOceanClient) ListPlans(ctx context.Context) ([]coreprovider.Size, error) {
	var doSizes []godo.Size
	err := withRetry(ctx, c.logger, "list_sizes", func(ctx context.Context) error {
		ss, _, err := c.client.Sizes.List(ctx, &godo.ListOptions{PerPage: 200})
		if err != nil {
			return normalizeDigitalOcean(err)
		}
		doSizes = ss
		return nil
	})
	if err != nil {
		c.logger.Warn("size list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticSizes(domain.KindDigitalOcean), nil
	}

	sizes := make([]coreprovider.Size, 0, len(doSizes))
	for _, s := range doSizes {
		if !s.Available {
			continue
		}
		sizes = append(sizes, coreprovider.Size{
			ID:          s.Slug,
			Name:        fmt.Sprintf("%s (%d vCPU, %d MB)", s.Slug, s.Vcpus, s.Memory),
			VCPUs:       s.Vcpus,
			MemoryMB:    int64(s.Memory),
			DiskGB:      s.Disk,
			PriceHourly: fmt.Sprintf("%.4f", s.PriceHourly),
		})
	}
	return sizes, nil
}

// ListImages returns distribution and application images.
func (c *DigitalOceanClient) ListImages(ctx context.Context) ([]coreprovider.Image, error) {
	var images []coreprovider.Image
	err := withRetry(ctx, c.logger, "list_images", func(ctx context.Context) error {
		dist, _, err := c.client.Images.ListDistribution(ctx, &godo.ListOptions{PerPage: 200})
		if err != nil {
			return normalizeDigitalOcean(err)
		}
		apps, _, err := c.client.Images.ListApplication(ctx, &godo.ListOptions{PerPage: 200})
		if err != nil {
			return normalizeDigitalOcean(err)
		}

		images = images[:0]
		for _, img := range dist {
			images = append(images, coreprovider.Image{ID: img.Slug, Name: img.Name})
		}
		for _, img := range apps {
			images = append(images, coreprovider.Image{ID: img.Slug, Name: img.Name, Application: true})
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("image list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticImages(domain.KindDigitalOcean), nil
	}
	return images, nil
}

// ListRegions returns available regions.
func (c *DigitalOceanClient) ListRegions(ctx context.Context) ([]coreprovider.Region, error) {
	var doRegions []godo.Region
	err := withRetry(ctx, c.logger, "list_regions", func(ctx context.Context) error {
		rs, _, err := c.client.Regions.List(ctx, &godo.ListOptions{PerPage: 200})
		if err != nil {
			return normalizeDigitalOcean(err)
		}
		doRegions = rs
		return nil
	})
	if err != nil {
		c.logger.Warn("region list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticRegions(domain.KindDigitalOcean), nil
	}

	regions := make([]coreprovider.Region, 0, len(doRegions))
	for _, r := range doRegions {
		regions = append(regions, coreprovider.Region{
			ID:        r.Slug,
			Name:      r.Name,
			Available: r.Available,
		})
	}
	return regions, nil
}

// ValidateCredentials verifies the API token with an account lookup.
func (c *DigitalOceanClient) ValidateCredentials(ctx context.Context) error {
	return withRetry(ctx, c.logger, "validate_credentials", func(ctx context.Context) error {
		_, _, err := c.client.Account.Get(ctx)
		return normalizeDigitalOcean(err)
	})
}

// RegisterSSHKey uploads a public key and returns DigitalOcean's key ID.
func (c *DigitalOceanClient) RegisterSSHKey(ctx context.Context, name, publicKey string) (string, error) {
	var key *godo.Key
	err := withRetry(ctx, c.logger, "register_ssh_key", func(ctx context.Context) error {
		k, _, err := c.client.Keys.Create(ctx, &godo.KeyCreateRequest{
			Name:      name,
			PublicKey: publicKey,
		})
		if err != nil {
			return normalizeDigitalOcean(err)
		}
		key = k
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("SSH key registered", "key_id", key.ID)
	return strconv.Itoa(key.ID), nil
}

// RemoveSSHKey deletes a key by its DigitalOcean ID.
func (c *DigitalOceanClient) RemoveSSHKey(ctx context.Context, keyID string) error {
	id, err := strconv.Atoi(keyID)
	if err != nil {
		return domain.NewError(domain.CodeUpstreamValidation, domain.KindDigitalOcean,
			fmt.Sprintf("invalid SSH key ID %q", keyID))
	}

	return withRetry(ctx, c.logger, "remove_ssh_key", func(ctx context.Context) error {
		_, err := c.client.Keys.DeleteByID(ctx, id)
		return normalizeDigitalOcean(err)
	})
}

// =============================================================================
// Normalization Helpers
// =============================================================================

// normalizeDroplet converts a godo droplet into the normalized instance view.
func normalizeDroplet(d *godo.Droplet) *Instance {
	inst := &Instance{
		ExternalID: strconv.Itoa(d.ID),
		Label:      d.Name,
		Status:     dropletStatus(d.Status),
	}
	if d.Region != nil {
		inst.Region = d.Region.Slug
	}
	if created, err := time.Parse(time.RFC3339, d.Created); err == nil {
		inst.CreatedAt = created
	}
	if ip, err := d.PublicIPv4(); err == nil {
		inst.PublicIPv4 = ip
	}
	if ip, err := d.PublicIPv6(); err == nil {
		inst.PublicIPv6 = ip
	}
	if ip, err := d.PrivateIPv4(); err == nil {
		inst.PrivateIPv4 = ip
	}
	return inst
}

// dropletStatus maps DigitalOcean droplet status strings to the domain
// state machine. Transitions are driven only by confirmed upstream status.
func dropletStatus(status string) domain.InstanceStatus {
	switch status {
	case "new":
		return domain.StatusProvisioning
	case "active":
		return domain.StatusRunning
	case "off":
		return domain.StatusStopped
	case "archive":
		return domain.StatusDeleted
	default:
		return domain.StatusError
	}
}
