package llm

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 2048

// ProviderError is returned when a model provider fails. Message may hold
// raw provider output and must only reach logs.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.), 0 for transport errors
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Retryable reports whether another provider may succeed where this one
// failed.
func (e *ProviderError) Retryable() bool {
	switch e.Code {
	case 0, 401, 403, 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

// readProviderError turns a non-2xx HTTP response into a ProviderError.
func readProviderError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ProviderError{
		Provider: provider,
		Code:     resp.StatusCode,
		Message:  strings.TrimSpace(string(body)),
	}
}

// transportError wraps a failure that happened before any HTTP status.
func transportError(provider string, err error) error {
	return &ProviderError{Provider: provider, Message: err.Error()}
}

// schemaOrEmpty returns schema, or an empty object schema when nil, since
// providers reject tools without parameters.
func schemaOrEmpty(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}
