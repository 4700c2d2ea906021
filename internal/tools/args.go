package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/domain"
)

// Args are the raw arguments the model supplied. Handlers read them through
// the typed accessors, which report invalid input as business errors.
type Args map[string]any

// ParseArgs decodes a JSON object. Empty input is an empty argument set.
func ParseArgs(raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Args{}, nil
	}
	var a Args
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, backend.Business("arg.invalidJSON")
	}
	if a == nil {
		a = Args{}
	}
	return a, nil
}

// String returns the trimmed string value of key, or "" when absent.
// Numbers are formatted so "apartment": 204 still reads as "204".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// RequiredString returns the value of key or an arg.required error.
func (a Args) RequiredString(key string) (string, error) {
	s := a.String(key)
	if s == "" {
		return "", backend.Business("arg.required", key)
	}
	return s, nil
}

// UUID returns key as a canonical UUID string.
func (a Args) UUID(key string) (string, error) {
	s, err := a.RequiredString(key)
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", backend.Business("arg.invalidUUID", key, s)
	}
	return id.String(), nil
}

// Date parses key as a YYYY-MM-DD date.
func (a Args) Date(key string) (time.Time, error) {
	s, err := a.RequiredString(key)
	if err != nil {
		return time.Time{}, err
	}
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, backend.Business("arg.invalidDate", key, s)
	}
	return d, nil
}
