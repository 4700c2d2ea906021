package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
)

func failing(code int) *llm.MockClient {
	return &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "p", Code: code, Message: "boom"}
	}}
}

func TestFailoverClient(t *testing.T) {
	t.Run("falls back on retryable error", func(t *testing.T) {
		reg := llm.NewRegistry(logging.Nop())
		primary := failing(529)
		backup := &llm.MockClient{Responses: []*llm.CompletionResponse{{Content: "from backup"}}}
		reg.Register("primary", primary)
		reg.Register("backup", backup)

		f := NewFailoverClient(reg, "primary", []string{"backup"}, logging.Nop())
		resp, err := f.Complete(context.Background(), llm.CompletionRequest{})

		require.NoError(t, err)
		assert.Equal(t, "from backup", resp.Content)
		assert.Equal(t, "primary", f.Name())
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		reg := llm.NewRegistry(logging.Nop())
		backup := &llm.MockClient{}
		reg.Register("primary", failing(400))
		reg.Register("backup", backup)

		f := NewFailoverClient(reg, "primary", []string{"backup"}, logging.Nop())
		_, err := f.Complete(context.Background(), llm.CompletionRequest{})

		require.Error(t, err)
		assert.Zero(t, backup.Calls())
	})

	t.Run("calls a shared client once", func(t *testing.T) {
		reg := llm.NewRegistry(logging.Nop())
		only := failing(503)
		reg.Register("primary", only)
		reg.SetFallback("primary")

		f := NewFailoverClient(reg, "primary", []string{"missing"}, logging.Nop())
		_, err := f.Complete(context.Background(), llm.CompletionRequest{})

		require.Error(t, err)
		assert.Equal(t, 1, only.Calls())
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&llm.ProviderError{Code: 429}))
	assert.False(t, isRetryable(&llm.ProviderError{Code: 400}))
	assert.True(t, isRetryable(errors.New("model overloaded")))
	assert.False(t, isRetryable(errors.New("bad request")))
	assert.False(t, isRetryable(nil))
}
