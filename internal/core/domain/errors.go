package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the principal could not be resolved to a tenant
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the tenant is inactive or the role is insufficient
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrInvalidProvider indicates an unknown generation provider was requested
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrRateLimited indicates the tenant's quota window is exhausted
	ErrRateLimited = errors.New("rate limited")

	// ErrEmbeddingUnavailable indicates the query could not be embedded
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrRetrievalUnavailable indicates the vector store could not be searched
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailed indicates the generation provider failed
	ErrGenerationFailed = errors.New("generation failed")

	// ErrLedgerWriteFailed indicates a query could not be recorded
	ErrLedgerWriteFailed = errors.New("ledger write failed")

	// ErrIsolationViolation indicates a store returned a chunk outside the tenant namespace
	ErrIsolationViolation = errors.New("tenant isolation violation")

	// ErrMissingTenant indicates a vector store call was attempted without a tenant scope
	ErrMissingTenant = errors.New("missing tenant context")
)

// ErrorKind is the stable, client-visible name of a failure class.
type ErrorKind string

const (
	KindUnauthorized         ErrorKind = "unauthorized"
	KindForbidden            ErrorKind = "forbidden"
	KindInvalidInput         ErrorKind = "invalid_input"
	KindNotFound             ErrorKind = "not_found"
	KindRateLimited          ErrorKind = "rate_limited"
	KindEmbeddingUnavailable ErrorKind = "embedding_unavailable"
	KindRetrievalUnavailable ErrorKind = "retrieval_unavailable"
	KindGenerationFailed     ErrorKind = "generation_failed"
	KindLedgerWriteFailed    ErrorKind = "ledger_write_failed"
	KindInternal             ErrorKind = "internal"
)

var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindUnauthorized, ErrUnauthorized},
	{KindUnauthorized, ErrTokenExpired},
	{KindUnauthorized, ErrTokenInvalid},
	{KindForbidden, ErrForbidden},
	{KindInvalidInput, ErrInvalidInput},
	{KindInvalidInput, ErrInvalidProvider},
	{KindNotFound, ErrNotFound},
	{KindRateLimited, ErrRateLimited},
	{KindEmbeddingUnavailable, ErrEmbeddingUnavailable},
	{KindRetrievalUnavailable, ErrRetrievalUnavailable},
	{KindGenerationFailed, ErrGenerationFailed},
	{KindLedgerWriteFailed, ErrLedgerWriteFailed},
}

// QueryError carries the details of a pipeline failure.
// It matches its sentinel through errors.Is, so callers can keep using
// the `errors.Is(err, domain.ErrRateLimited)` style.
type QueryError struct {
	Sentinel error
	Message  string

	// RetryAfter is set for rate-limit rejections.
	RetryAfter time.Duration

	// UpstreamClass preserves the provider failure class (timeout,
	// connection_reset, rate_limited, upstream, canceled).
	UpstreamClass string

	Err error
}

func (e *QueryError) Error() string {
	msg := e.Sentinel.Error()
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *QueryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

// NewQueryError wraps cause under the given sentinel.
func NewQueryError(sentinel error, message string, cause error) *QueryError {
	return &QueryError{Sentinel: sentinel, Message: message, Err: cause}
}

// RateLimitedError builds a rejection carrying a retry-after hint.
func RateLimitedError(reason string, retryAfter time.Duration) *QueryError {
	return &QueryError{
		Sentinel:   ErrRateLimited,
		Message:    reason + " quota exceeded",
		RetryAfter: retryAfter,
	}
}

// KindOf maps an error to its stable kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether err was raised before any paid provider
// call started, which makes an automatic retry safe.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindEmbeddingUnavailable, KindRetrievalUnavailable:
		return true
	}
	return false
}

// RetryAfter extracts the retry hint from a rate-limit error.
func RetryAfter(err error) time.Duration {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.RetryAfter
	}
	return 0
}

// UpstreamClass extracts the provider failure class, if any.
func UpstreamClass(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) && qe.UpstreamClass != "" {
		return qe.UpstreamClass
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return string(pe.Class)
	}
	return ""
}

// ProviderErrorClass classifies generation provider failures.
type ProviderErrorClass string

const (
	ProviderTimeout         ProviderErrorClass = "timeout"
	ProviderConnectionReset ProviderErrorClass = "connection_reset"
	ProviderRateLimited     ProviderErrorClass = "rate_limited"
	ProviderCanceled        ProviderErrorClass = "canceled"
	ProviderUpstream        ProviderErrorClass = "upstream"
)

// ProviderError is returned by generation adapters.
type ProviderError struct {
	Provider string
	Class    ProviderErrorClass
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s: %v", e.Provider, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsConnectionReset reports whether err is a provider connection reset.
func IsConnectionReset(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Class == ProviderConnectionReset
}
