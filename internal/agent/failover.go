package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
)

// FailoverClient tries the primary provider, then each fallback in order,
// moving on only when a provider fails with a retryable error.
type FailoverClient struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client over the registry's providers.
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Name returns the primary provider name.
func (f *FailoverClient) Name() string {
	return f.primary
}

// Complete tries the providers in order.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	tried := make(map[llm.Client]bool)

	var lastErr error
	for _, name := range append([]string{f.primary}, f.fallbacks...) {
		client, err := f.registry.Resolve(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("no provider, skipping")
			lastErr = err
			continue
		}
		// Unknown names resolve to the registry fallback; never call the
		// same client twice for one request.
		if tried[client] {
			continue
		}
		tried[client] = true

		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) {
			return nil, err
		}
		f.log.Warn().Str("provider", name).Err(err).Msg("retryable error, trying next provider")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no LLM provider configured")
	}
	return nil, lastErr
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity")
}
