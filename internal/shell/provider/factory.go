package provider

import (
	"fmt"
	"log/slog"

	"github.com/stackrent/stackrent/internal/core/domain"
	coreprovider "github.com/stackrent/stackrent/internal/core/provider"
)

// New creates a cloud provider client from decrypted credentials JSON.
// The kind field of the provider record selects the adapter; business logic
// never branches on kind inline.
func New(kind domain.ProviderKind, credJSON []byte, logger *slog.Logger) (Client, error) {
	switch kind {
	case domain.KindAWS:
		creds, err := coreprovider.ParseAWSCredentials(credJSON)
		if err != nil {
			return nil, domain.WrapError(domain.CodeInvalidCredentialFormat, domain.KindAWS,
				fmt.Sprintf("invalid AWS credentials: %v", err), err)
		}
		return NewAWS(creds, logger), nil

	case domain.KindDigitalOcean:
		creds, err := coreprovider.ParseDigitalOceanCredentials(credJSON)
		if err != nil {
			return nil, domain.WrapError(domain.CodeInvalidCredentialFormat, domain.KindDigitalOcean,
				fmt.Sprintf("invalid DigitalOcean credentials: %v", err), err)
		}
		return NewDigitalOcean(creds.APIToken, logger), nil

	case domain.KindHetzner:
		creds, err := coreprovider.ParseHetznerCredentials(credJSON)
		if err != nil {
			return nil, domain.WrapError(domain.CodeInvalidCredentialFormat, domain.KindHetzner,
				fmt.Sprintf("invalid Hetzner credentials: %v", err), err)
		}
		return NewHetzner(creds.APIToken, logger), nil

	default:
		return nil, domain.NewError(domain.CodeUpstreamValidation, kind,
			fmt.Sprintf("unsupported provider kind: %s", kind))
	}
}
