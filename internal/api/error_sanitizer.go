package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/audience-crm/internal/auth"
	"github.com/ignite/audience-crm/internal/pkg/httputil"
	"github.com/ignite/audience-crm/internal/pkg/logger"
	"github.com/ignite/audience-crm/internal/segmentation"
	"github.com/ignite/audience-crm/internal/service/campaign"
	"github.com/ignite/audience-crm/internal/service/customer"
	"github.com/ignite/audience-crm/internal/service/segment"
)

// =============================================================================
// ERROR SANITIZER
// Service errors are mapped to status codes here. Internal details (SQL, raw
// model output, upstream bodies) are logged and never written to the client.
// =============================================================================

const (
	msgPromptFailed   = "Failed to process your prompt"
	msgModelUnusable  = "Could not understand the generated filter, please rephrase your prompt"
	msgUpstreamFailed = "The text generation service is unavailable, please try again later"
)

// sanitizedError logs the full internal error and returns a public-safe message.
func sanitizedError(code int, internalErr error, publicMsg string) string {
	if internalErr != nil {
		logger.Error("api: request failed", "status", code, "public", publicMsg, "error", internalErr)
	}
	return publicMsg
}

// respondSafeError logs the internal error and sends a sanitized JSON error.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	httputil.Error(w, code, sanitizedError(code, internalErr, publicMsg))
}

// respondServiceError picks the status for err and writes the envelope.
// 4xx messages come from the sentinel chain; 5xx are always generic.
func respondServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	switch {
	case errors.Is(err, segmentation.ErrDisallowedFilterContent):
		// The offending key was already logged by the segment service.
		httputil.Error(w, code, msgPromptFailed)
	case errors.Is(err, segmentation.ErrEmptyModelResponse),
		errors.Is(err, segmentation.ErrMalformedModelResponse):
		httputil.Error(w, code, msgModelUnusable)
	case errors.Is(err, segmentation.ErrUpstream):
		respondSafeError(w, code, err, msgUpstreamFailed)
	case code >= http.StatusInternalServerError:
		respondSafeError(w, code, err, safeErrorMessage(code, err))
	default:
		httputil.Error(w, code, safeErrorMessage(code, err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, segment.ErrInvalidPrompt),
		errors.Is(err, segmentation.ErrEmptyPrompt),
		errors.Is(err, segment.ErrInvalidSegmentDefinition),
		errors.Is(err, campaign.ErrInvalidCampaignDefinition),
		errors.Is(err, customer.ErrInvalidCustomer),
		errors.Is(err, customer.ErrInvalidOrder),
		errors.Is(err, auth.ErrMissingFields),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, segmentation.ErrDisallowedFilterContent),
		errors.Is(err, segmentation.ErrEmptyModelResponse),
		errors.Is(err, segmentation.ErrMalformedModelResponse):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrGoogleExchange):
		return http.StatusUnauthorized
	case errors.Is(err, segment.ErrNotFound),
		errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, campaign.ErrNoSuchSegments),
		errors.Is(err, customer.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, customer.ErrDuplicate),
		errors.Is(err, auth.ErrUserExists),
		errors.Is(err, campaign.ErrCreateInProgress):
		return http.StatusConflict
	case errors.Is(err, segmentation.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, auth.ErrGoogleDisabled),
		errors.Is(err, campaign.ErrAsyncUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// For 4xx the error text itself is returned since it describes the caller's input.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return upperFirst(internalErr.Error())
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	switch {
	case errors.Is(internalErr, campaign.ErrCampaignCreationFailed):
		return "Failed to create campaign"
	case code == http.StatusServiceUnavailable:
		return upperFirst(internalErr.Error())
	}

	errStr := strings.ToLower(internalErr.Error())
	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "scan") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"
	}

	return "Server error"
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
