package awsx

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/cloudpivot/metamirror/pkg/errors"
)

// throttleCodes are API error codes that indicate the caller should back off
// and retry.
var throttleCodes = map[string]struct{}{
	"Throttling":                             {},
	"ThrottlingException":                    {},
	"ThrottledException":                     {},
	"TooManyRequestsException":               {},
	"RequestLimitExceeded":                   {},
	"RequestThrottled":                       {},
	"RequestThrottledException":              {},
	"SlowDown":                               {},
	"LimitExceededException":                 {},
	"ProvisionedThroughputExceededException": {},
}

// permissionCodes indicate the caller is not authorized; never retried.
var permissionCodes = map[string]struct{}{
	"AccessDenied":                {},
	"AccessDeniedException":       {},
	"UnauthorizedOperation":       {},
	"UnrecognizedClientException": {},
	"ExpiredToken":                {},
	"ExpiredTokenException":       {},
	"InvalidClientTokenId":        {},
}

// notFoundCodes indicate the requested resource does not exist; never retried.
var notFoundCodes = map[string]struct{}{
	"ResourceNotFound":          {},
	"ResourceNotFoundException": {},
	"NotFoundException":         {},
	"EntityNotFoundException":   {},
	"NoSuchBucket":              {},
	"StateMachineDoesNotExist":  {},
	"ExecutionDoesNotExist":     {},
	"MetadataException":         {},
	"StackNotFoundException":    {},
}

// Classify translates an SDK call error into the engine's taxonomy so the
// pager can decide between retry and immediate propagation.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, msg)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeCancelled, msg)
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case isThrottleCode(code):
			return errors.Wrap(err, errors.ErrorTypeRateLimit, msg).WithDetail("code", code)
		case isPermissionCode(code):
			return errors.Wrap(err, errors.ErrorTypePermission, msg).WithDetail("code", code)
		case isNotFoundCode(code):
			return errors.Wrap(err, errors.ErrorTypeNotFound, msg).WithDetail("code", code)
		}
	}

	var respErr *smithyhttp.ResponseError
	if stderrors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return errors.Wrap(err, errors.ErrorTypeRateLimit, msg)
		case http.StatusForbidden, http.StatusUnauthorized:
			return errors.Wrap(err, errors.ErrorTypePermission, msg)
		case http.StatusNotFound:
			return errors.Wrap(err, errors.ErrorTypeNotFound, msg)
		}
		if respErr.HTTPStatusCode() >= 500 {
			return errors.Wrap(err, errors.ErrorTypeConnection, msg)
		}
	}

	return errors.Wrap(err, errors.ErrorTypeInternal, msg)
}

func isThrottleCode(code string) bool {
	_, ok := throttleCodes[code]
	return ok
}

func isPermissionCode(code string) bool {
	_, ok := permissionCodes[code]
	return ok
}

func isNotFoundCode(code string) bool {
	_, ok := notFoundCodes[code]
	return ok
}
