// Package provider contains pure functions for cloud provider logic:
// credential parsing and the static fallback catalog.
// This is part of the Functional Core - all functions are pure with no I/O.
package provider

import (
	"encoding/json"
	"errors"

	"github.com/stackrent/stackrent/internal/core/domain"
)

// =============================================================================
// Credential Parsing (Pure - no I/O)
// =============================================================================

var (
	ErrAWSAccessKeyRequired = errors.New("AWS access key ID is required")
	ErrAWSSecretKeyRequired = errors.New("AWS secret access key is required")
	ErrDOTokenRequired      = errors.New("DigitalOcean API token is required")
	ErrHetznerTokenRequired = errors.New("Hetzner API token is required")
	ErrUnknownProviderKind  = errors.New("unknown provider kind")
)

// AWSCredentials represents AWS access credentials.
type AWSCredentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	DefaultRegion   string `json:"default_region,omitempty"`
}

// DigitalOceanCredentials represents DigitalOcean API credentials.
type DigitalOceanCredentials struct {
	APIToken string `json:"api_token"`
}

// HetznerCredentials represents Hetzner Cloud API credentials.
type HetznerCredentials struct {
	APIToken string `json:"api_token"`
}

// ParseAWSCredentials parses and validates AWS credentials from JSON.
func ParseAWSCredentials(data []byte) (AWSCredentials, error) {
	var creds AWSCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, err
	}
	if creds.AccessKeyID == "" {
		return creds, ErrAWSAccessKeyRequired
	}
	if creds.SecretAccessKey == "" {
		return creds, ErrAWSSecretKeyRequired
	}
	return creds, nil
}

// ParseDigitalOceanCredentials parses and validates DigitalOcean credentials from JSON.
func ParseDigitalOceanCredentials(data []byte) (DigitalOceanCredentials, error) {
	var creds DigitalOceanCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, err
	}
	if creds.APIToken == "" {
		return creds, ErrDOTokenRequired
	}
	return creds, nil
}

// ParseHetznerCredentials parses and validates Hetzner credentials from JSON.
func ParseHetznerCredentials(data []byte) (HetznerCredentials, error) {
	var creds HetznerCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, err
	}
	if creds.APIToken == "" {
		return creds, ErrHetznerTokenRequired
	}
	return creds, nil
}

// ValidateCredentialsJSON validates a credential blob for a given provider kind.
func ValidateCredentialsJSON(kind domain.ProviderKind, credJSON []byte) error {
	switch kind {
	case domain.KindAWS:
		_, err := ParseAWSCredentials(credJSON)
		return err
	case domain.KindDigitalOcean:
		_, err := ParseDigitalOceanCredentials(credJSON)
		return err
	case domain.KindHetzner:
		_, err := ParseHetznerCredentials(credJSON)
		return err
	default:
		return ErrUnknownProviderKind
	}
}
