package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FailReason categorizes why a provider request failed, driving retry
// decisions in the adapters and failure reporting in the agent loop.
type FailReason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit FailReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth FailReason = "auth"

	// ReasonBilling indicates payment or quota issues (HTTP 402).
	ReasonBilling FailReason = "billing"

	// ReasonTimeout indicates a request timeout.
	ReasonTimeout FailReason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx).
	ReasonServerError FailReason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400).
	ReasonInvalidRequest FailReason = "invalid_request"

	// ReasonModelUnavailable indicates the requested model does not exist
	// or is not accessible to this account.
	ReasonModelUnavailable FailReason = "model_unavailable"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown FailReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM adapter.
type ProviderError struct {
	Reason   FailReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause with provider context and a classified
// reason.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = Classify(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// Classify inspects an error and returns a FailReason. Typed errors win;
// otherwise the message text is pattern-matched, which is as much structure
// as some SDK errors expose.
func Classify(err error) FailReason {
	if err == nil {
		return ReasonUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "etimedout"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "payment"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "402"):
		return ReasonBilling
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "unavailable"):
		return ReasonModelUnavailable
	case strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "invalid_request"),
		strings.Contains(msg, "400"):
		return ReasonInvalidRequest
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyStatus(status int) FailReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	return Classify(err).IsRetryable()
}

// retrySettings holds the shared backoff configuration of the adapters.
type retrySettings struct {
	maxRetries int
	retryDelay time.Duration
}

func (s retrySettings) normalized() retrySettings {
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.retryDelay <= 0 {
		s.retryDelay = time.Second
	}
	return s
}

// retry runs op up to maxRetries times with linear backoff, stopping early
// on non-retryable errors or context cancellation.
func (s retrySettings) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt >= s.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
