package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/digitalocean/godo"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/stackrent/stackrent/internal/core/domain"
)

// =============================================================================
// Error Normalization
// =============================================================================

// normalizeDigitalOcean translates godo error shapes into the normalized
// taxonomy. Returns nil when err is nil.
func normalizeDigitalOcean(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := transportErrorCode(err); ok {
		return domain.WrapError(code, domain.KindDigitalOcean, err.Error(), err)
	}

	var errResp *godo.ErrorResponse
	if errors.As(err, &errResp) {
		code := codeForHTTPStatus(statusOf(errResp.Response))
		return domain.WrapError(code, domain.KindDigitalOcean, errResp.Message, err)
	}

	return domain.WrapError(domain.CodeProviderUnavailable, domain.KindDigitalOcean, err.Error(), err)
}

// normalizeHetzner translates hcloud error shapes into the normalized taxonomy.
func normalizeHetzner(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := transportErrorCode(err); ok {
		return domain.WrapError(code, domain.KindHetzner, err.Error(), err)
	}

	var hcErr hcloud.Error
	if errors.As(err, &hcErr) {
		var code domain.ErrorCode
		switch hcErr.Code {
		case hcloud.ErrorCodeRateLimitExceeded:
			code = domain.CodeRateLimited
		case hcloud.ErrorCodeUnauthorized:
			code = domain.CodeMissingCredentials
		case hcloud.ErrorCodeForbidden:
			code = domain.CodeForbidden
		case hcloud.ErrorCodeNotFound:
			code = domain.CodeNotFound
		case hcloud.ErrorCodeInvalidInput, hcloud.ErrorCodeUniquenessError, hcloud.ErrorCodeResourceLimitExceeded:
			code = domain.CodeUpstreamValidation
		default:
			code = domain.CodeProviderUnavailable
		}
		return domain.WrapError(code, domain.KindHetzner, hcErr.Message, err)
	}

	return domain.WrapError(domain.CodeProviderUnavailable, domain.KindHetzner, err.Error(), err)
}

// awsThrottleCodes are EC2 API error codes that signal rate limiting.
var awsThrottleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
}

// awsAuthCodes are EC2 API error codes that signal bad or missing credentials.
var awsAuthCodes = map[string]bool{
	"AuthFailure":                true,
	"UnauthorizedOperation":      true,
	"InvalidClientTokenId":       true,
	"MissingAuthenticationToken": true,
	"SignatureDoesNotMatch":      true,
}

// normalizeAWS translates smithy API error shapes into the normalized taxonomy.
func normalizeAWS(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := transportErrorCode(err); ok {
		return domain.WrapError(code, domain.KindAWS, err.Error(), err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		errCode := apiErr.ErrorCode()
		var code domain.ErrorCode
		switch {
		case awsThrottleCodes[errCode]:
			code = domain.CodeRateLimited
		case awsAuthCodes[errCode]:
			code = domain.CodeMissingCredentials
		case strings.HasSuffix(errCode, ".NotFound"):
			code = domain.CodeNotFound
		case strings.HasPrefix(errCode, "Invalid") || strings.HasPrefix(errCode, "Unsupported"):
			code = domain.CodeUpstreamValidation
		default:
			code = domain.CodeProviderUnavailable
		}
		return domain.WrapError(code, domain.KindAWS, apiErr.ErrorMessage(), err)
	}

	return domain.WrapError(domain.CodeProviderUnavailable, domain.KindAWS, err.Error(), err)
}

// =============================================================================
// Shared Helpers
// =============================================================================

// transportErrorCode recognizes network-level failures that never carried an
// upstream response: timeouts, cancellations, connection errors.
func transportErrorCode(err error) (domain.ErrorCode, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.CodeProviderUnavailable, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.CodeProviderUnavailable, true
	}
	return "", false
}

// codeForHTTPStatus maps a raw HTTP status to a normalized code.
func codeForHTTPStatus(status int) domain.ErrorCode {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.CodeRateLimited
	case status == http.StatusUnauthorized:
		return domain.CodeMissingCredentials
	case status == http.StatusForbidden:
		return domain.CodeForbidden
	case status == http.StatusNotFound:
		return domain.CodeNotFound
	case status >= 400 && status < 500:
		return domain.CodeUpstreamValidation
	default:
		return domain.CodeProviderUnavailable
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
