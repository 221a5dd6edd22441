package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/stackrent/stackrent/internal/core/domain"
	coreprovider "github.com/stackrent/stackrent/internal/core/provider"
)

// canonicalOwnerID is Canonical's AWS account, publisher of official Ubuntu AMIs.
const canonicalOwnerID = "099720109477"

// AWSClient implements Client for AWS EC2.
type AWSClient struct {
	client *ec2.Client
	logger *slog.Logger
}

// NewAWS creates a new EC2 client scoped to the credential's default region.
func NewAWS(creds coreprovider.AWSCredentials, logger *slog.Logger) *AWSClient {
	region := creds.DefaultRegion
	if region == "" {
		region = "us-east-1"
	}
	client := ec2.New(ec2.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
	})
	return newAWS(client, logger)
}

func newAWS(client *ec2.Client, logger *slog.Logger) *AWSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSClient{
		client: client,
		logger: logger.With("provider", "aws"),
	}
}

// Kind returns the provider kind.
func (c *AWSClient) Kind() domain.ProviderKind {
	return domain.KindAWS
}

// CreateInstance launches an EC2 instance.
func (c *AWSClient) CreateInstance(ctx context.Context, spec CreateSpec) (*Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageRef()),
		InstanceType: ec2types.InstanceType(spec.PlanID),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.Label)},
					{Key: aws.String("ManagedBy"), Value: aws.String(managedTag)},
				},
			},
		},
	}
	// EC2 attaches a single named key pair, not a key list. Inline credential
	// material is imported first and attached by name.
	if len(spec.SSHKeyIDs) > 0 {
		input.KeyName = aws.String(spec.SSHKeyIDs[0])
	} else if spec.PublicKey != "" {
		keyName, err := c.RegisterSSHKey(ctx, spec.Label, spec.PublicKey)
		if err != nil {
			return nil, err
		}
		input.KeyName = aws.String(keyName)
	}
	if spec.Monitoring {
		input.Monitoring = &ec2types.RunInstancesMonitoringEnabled{Enabled: aws.Bool(true)}
	}

	var ec2Inst ec2types.Instance
	err := withRetry(ctx, c.logger, "run_instances", func(ctx context.Context) error {
		out, err := c.client.RunInstances(ctx, input)
		if err != nil {
			return normalizeAWS(err)
		}
		if len(out.Instances) == 0 {
			return domain.NewError(domain.CodeProviderUnavailable, domain.KindAWS,
				"no instance returned from RunInstances")
		}
		ec2Inst = out.Instances[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("instance launched", "instance_id", aws.ToString(ec2Inst.InstanceId))

	inst := normalizeEC2Instance(ec2Inst)
	inst.Label = spec.Label
	inst.Status = domain.StatusProvisioning
	return inst, nil
}

// GetInstance fetches the current state of an EC2 instance.
func (c *AWSClient) GetInstance(ctx context.Context, externalID string) (*Instance, error) {
	var ec2Inst ec2types.Instance
	err := withRetry(ctx, c.logger, "describe_instance", func(ctx context.Context) error {
		out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{externalID},
		})
		if err != nil {
			return normalizeAWS(err)
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				ec2Inst = inst
				return nil
			}
		}
		return domain.NewError(domain.CodeNotFound, domain.KindAWS,
			fmt.Sprintf("instance %s not found", externalID))
	})
	if err != nil {
		return nil, err
	}
	return normalizeEC2Instance(ec2Inst), nil
}

// ListInstances returns all EC2 instances carrying the managed tag.
func (c *AWSClient) ListInstances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	err := withRetry(ctx, c.logger, "list_instances", func(ctx context.Context) error {
		paginator := ec2.NewDescribeInstancesPaginator(c.client, &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("tag:ManagedBy"), Values: []string{managedTag}},
			},
		})

		instances = instances[:0]
		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return normalizeAWS(err)
			}
			for _, res := range out.Reservations {
				for _, inst := range res.Instances {
					instances = append(instances, *normalizeEC2Instance(inst))
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// PerformAction applies a lifecycle action to an EC2 instance. EC2 has no
// distinct power-cycle API, so power_cycle maps to reboot.
func (c *AWSClient) PerformAction(ctx context.Context, externalID string, action domain.InstanceAction) error {
	ids := []string{externalID}

	return withRetry(ctx, c.logger, "instance_action", func(ctx context.Context) error {
		var err error
		switch action {
		case domain.ActionBoot:
			_, err = c.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: ids})
		case domain.ActionShutdown:
			_, err = c.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: ids})
		case domain.ActionReboot, domain.ActionPowerCycle:
			_, err = c.client.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: ids})
		case domain.ActionDelete:
			_, err = c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
		default:
			return domain.NewError(domain.CodeUnsupportedAction, domain.KindAWS, string(action))
		}
		return normalizeAWS(err)
	})
}

// ListPlans serves the static catalog. DescribeInstanceTypes returns hundreds
// of types with no pricing attached, so the curated list is more useful.
func (c *AWSClient) ListPlans(ctx context.Context) ([]coreprovider.Size, error) {
	return coreprovider.StaticSizes(domain.KindAWS), nil
}

// ListImages returns recent Canonical Ubuntu AMIs, falling back to the static
// catalog when the upstream call fails.
func (c *AWSClient) ListImages(ctx context.Context) ([]coreprovider.Image, error) {
	var amis []ec2types.Image
	err := withRetry(ctx, c.logger, "describe_images", func(ctx context.Context) error {
		out, err := c.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("name"), Values: []string{"ubuntu/images/hvm-ssd*/ubuntu-*-server-*"}},
				{Name: aws.String("state"), Values: []string{"available"}},
				{Name: aws.String("architecture"), Values: []string{"x86_64"}},
			},
			Owners: []string{canonicalOwnerID},
		})
		if err != nil {
			return normalizeAWS(err)
		}
		amis = out.Images
		return nil
	})
	if err != nil {
		c.logger.Warn("image list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticImages(domain.KindAWS), nil
	}

	images := make([]coreprovider.Image, 0, len(amis))
	for _, ami := range amis {
		images = append(images, coreprovider.Image{
			ID:   aws.ToString(ami.ImageId),
			Name: aws.ToString(ami.Name),
		})
	}
	return images, nil
}

// ListRegions returns enabled AWS regions.
func (c *AWSClient) ListRegions(ctx context.Context) ([]coreprovider.Region, error) {
	var awsRegions []ec2types.Region
	err := withRetry(ctx, c.logger, "describe_regions", func(ctx context.Context) error {
		out, err := c.client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("opt-in-status"), Values: []string{"opt-in-not-required", "opted-in"}},
			},
		})
		if err != nil {
			return normalizeAWS(err)
		}
		awsRegions = out.Regions
		return nil
	})
	if err != nil {
		c.logger.Warn("region list unavailable, serving static catalog", "error", err)
		return coreprovider.StaticRegions(domain.KindAWS), nil
	}

	regions := make([]coreprovider.Region, 0, len(awsRegions))
	for _, r := range awsRegions {
		regions = append(regions, coreprovider.Region{
			ID:        aws.ToString(r.RegionName),
			Name:      aws.ToString(r.RegionName),
			Available: true,
		})
	}
	return regions, nil
}

// ValidateCredentials verifies the key pair with a region listing.
func (c *AWSClient) ValidateCredentials(ctx context.Context) error {
	return withRetry(ctx, c.logger, "validate_credentials", func(ctx context.Context) error {
		_, err := c.client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
		return normalizeAWS(err)
	})
}

// RegisterSSHKey imports a public key as an EC2 key pair. EC2 addresses key
// pairs by name, so the name doubles as the upstream key ID.
func (c *AWSClient) RegisterSSHKey(ctx context.Context, name, publicKey string) (string, error) {
	err := withRetry(ctx, c.logger, "import_key_pair", func(ctx context.Context) error {
		_, err := c.client.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
			KeyName:           aws.String(name),
			PublicKeyMaterial: []byte(publicKey),
			TagSpecifications: []ec2types.TagSpecification{
				{
					ResourceType: ec2types.ResourceTypeKeyPair,
					Tags: []ec2types.Tag{
						{Key: aws.String("ManagedBy"), Value: aws.String(managedTag)},
					},
				},
			},
		})
		return normalizeAWS(err)
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("SSH key imported", "key_name", name)
	return name, nil
}

// RemoveSSHKey deletes a key pair by name.
func (c *AWSClient) RemoveSSHKey(ctx context.Context, keyID string) error {
	return withRetry(ctx, c.logger, "delete_key_pair", func(ctx context.Context) error {
		_, err := c.client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
			KeyName: aws.String(keyID),
		})
		return normalizeAWS(err)
	})
}

// normalizeEC2Instance converts an EC2 instance into the normalized view.
func normalizeEC2Instance(inst ec2types.Instance) *Instance {
	out := &Instance{
		ExternalID:  aws.ToString(inst.InstanceId),
		PublicIPv4:  aws.ToString(inst.PublicIpAddress),
		PublicIPv6:  aws.ToString(inst.Ipv6Address),
		PrivateIPv4: aws.ToString(inst.PrivateIpAddress),
	}
	if inst.State != nil {
		out.Status = ec2Status(inst.State.Name)
	}
	if inst.LaunchTime != nil {
		out.CreatedAt = *inst.LaunchTime
	}
	if inst.Placement != nil {
		out.Region = aws.ToString(inst.Placement.AvailabilityZone)
	}
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == "Name" {
			out.Label = aws.ToString(tag.Value)
			break
		}
	}
	return out
}

// ec2Status maps EC2 instance states to the domain state machine.
func ec2Status(state ec2types.InstanceStateName) domain.InstanceStatus {
	switch state {
	case ec2types.InstanceStateNamePending:
		return domain.StatusProvisioning
	case ec2types.InstanceStateNameRunning:
		return domain.StatusRunning
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameStopped:
		return domain.StatusStopped
	case ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameTerminated:
		return domain.StatusDeleted
	default:
		return domain.StatusError
	}
}
