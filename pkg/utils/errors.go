package utils

import (
	"context"
	"errors"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrNetwork            = errors.New("network error")           // All endpoints exhausted or timed out
	ErrMixedContent       = errors.New("mixed content blocked")   // https origin calling an http endpoint
	ErrSerialization      = errors.New("serialization error")     // Patch is not JSON-safe
	ErrFeatureUnavailable = errors.New("feature unavailable")     // Gated operation without entitlement
	ErrPersistence        = errors.New("persistence error")       // Durable write failed after successful computation
	ErrCrawlInFlight      = errors.New("crawl already in flight") // Re-entrancy guard rejection
	ErrInvalidTransition  = errors.New("invalid project status transition")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRetryFailed        = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError    = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError    = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError     = errors.New("other HTTP error (non-2xx)")
	ErrParsing            = errors.New("parsing error") // Wraps specific parsing error (HTML, URL, JSON)
	ErrDatabase           = errors.New("database error")
	ErrConfigValidation   = errors.New("configuration validation error")
	ErrBlockedAddress     = errors.New("target address not allowed") // Loopback/private target refused
)

// NetworkError is returned once every endpoint of every attempt has failed.
type NetworkError struct {
	Endpoints []string
	Timeout   bool  // Last failure was an abort/timeout
	Err       error // Last underlying error
}

func (e *NetworkError) Error() string {
	msg := "network connection failed"
	if e.Timeout {
		msg = "request timed out"
	}
	if e.Err != nil {
		return msg + " (endpoints: " + strings.Join(e.Endpoints, ", ") + "): " + e.Err.Error()
	}
	return msg + " (endpoints: " + strings.Join(e.Endpoints, ", ") + ")"
}

// Unwrap exposes both the ErrNetwork sentinel and the last underlying error.
func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNetwork}
	}
	return []error{ErrNetwork, e.Err}
}

// MixedContentError reports an https caller targeting a plain http endpoint.
type MixedContentError struct {
	Endpoint string
}

func (e *MixedContentError) Error() string {
	return "mixed content: https origin cannot call insecure endpoint " + e.Endpoint
}

func (e *MixedContentError) Unwrap() error { return ErrMixedContent }

// IsTimeout reports whether err was caused by a deadline or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// UserMessage maps an error to the message shown to the person who triggered the operation.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var netErr *NetworkError
	switch {
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "Scraping service may be overloaded, please try again in a few minutes."
		}
		return "Could not reach the scraping service. Check your internet connection and try again."
	case errors.Is(err, ErrMixedContent):
		return "The scraping service address is insecure and was blocked. Contact support."
	case errors.Is(err, ErrSerialization):
		return "The crawl result could not be saved because it contained invalid data."
	case errors.Is(err, ErrFeatureUnavailable):
		return "This feature is not available on your current plan."
	case errors.Is(err, ErrPersistence):
		return "Results were computed but could not be saved. They may not appear after a reload."
	case errors.Is(err, ErrCrawlInFlight):
		return "An audit is already running for this project."
	case errors.Is(err, ErrInvalidTransition):
		return "This project cannot be audited in its current state. Reset it to try again."
	case errors.Is(err, ErrNotFound):
		return "Project not found."
	}
	return "Something went wrong. Please try again."
}

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	var netErr *NetworkError
	switch {
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "Network_Timeout"
		}
		if errors.Is(netErr.Err, ErrServerHTTPError) {
			return "Network_HTTPServer"
		}
		if errors.Is(netErr.Err, ErrClientHTTPError) {
			return "Network_HTTPClient"
		}
		return "Network_Connectivity"
	case errors.Is(err, ErrMixedContent):
		return "Policy_MixedContent"
	case errors.Is(err, ErrSerialization):
		return "Data_Serialization"
	case errors.Is(err, ErrFeatureUnavailable):
		return "Policy_Feature"
	case errors.Is(err, ErrCrawlInFlight):
		return "State_InFlight"
	case errors.Is(err, ErrInvalidTransition):
		return "State_Transition"
	case errors.Is(err, ErrNotFound):
		return "Data_NotFound"
	case errors.Is(err, ErrUnauthorized):
		return "Auth_Unauthorized"
	case errors.Is(err, ErrBlockedAddress):
		return "Policy_BlockedAddress"
	case errors.Is(err, ErrPersistence), errors.Is(err, ErrDatabase):
		return "Persistence"
	case errors.Is(err, ErrRetryFailed):
		return "RetryFailed"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if IsTimeout(err) {
		return "System_Timeout"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}

	return "Unknown"
}
