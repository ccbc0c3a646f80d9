package ai

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// classify wraps a provider failure with its class.
// Already classified errors pass through unchanged.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.ProviderError{Provider: provider, Class: classOf(err), Err: err}
}

func classOf(err error) domain.ProviderErrorClass {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.ProviderCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ProviderTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF):
		return domain.ProviderConnectionReset
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classOfStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classOfStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ProviderTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return domain.ProviderConnectionReset
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return domain.ProviderRateLimited
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return domain.ProviderTimeout
	}
	return domain.ProviderUpstream
}

func classOfStatus(code int) domain.ProviderErrorClass {
	switch code {
	case http.StatusTooManyRequests:
		return domain.ProviderRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.ProviderTimeout
	}
	return domain.ProviderUpstream
}
