package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/config"
)

func TestResolveAuth(t *testing.T) {
	t.Setenv("CONCIERGE_GATEWAY_TOKEN", "")
	t.Setenv("CONCIERGE_GATEWAY_PASSWORD", "")

	t.Run("config token", func(t *testing.T) {
		a := ResolveAuth(config.GatewayAuth{Token: "abc"})
		assert.Equal(t, "token", a.Mode)
		assert.Equal(t, "abc", a.Token)
	})

	t.Run("password implies password mode", func(t *testing.T) {
		a := ResolveAuth(config.GatewayAuth{Password: "pw"})
		assert.Equal(t, "password", a.Mode)
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("CONCIERGE_GATEWAY_TOKEN", "from-env")
		a := ResolveAuth(config.GatewayAuth{})
		assert.Equal(t, "from-env", a.Token)
	})

	t.Run("explicit mode wins", func(t *testing.T) {
		a := ResolveAuth(config.GatewayAuth{Mode: "token", Password: "pw"})
		assert.Equal(t, "token", a.Mode)
	})
}

func TestAuthorize(t *testing.T) {
	tokenAuth := ResolvedAuth{Mode: "token", Token: "s3cret"}
	passAuth := ResolvedAuth{Mode: "password", Password: "hunter"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		reason string
	}{
		{"nil credentials", tokenAuth, nil, false, "no credentials provided"},
		{"token ok", tokenAuth, &ConnectAuth{Token: "s3cret"}, true, ""},
		{"token missing", tokenAuth, &ConnectAuth{}, false, "token required"},
		{"token mismatch", tokenAuth, &ConnectAuth{Token: "nope"}, false, "token_mismatch"},
		{"token prefix", tokenAuth, &ConnectAuth{Token: "s3c"}, false, "token_mismatch"},
		{"server token unset", ResolvedAuth{Mode: "token"}, &ConnectAuth{Token: "x"}, false, "server token not configured"},
		{"password ok", passAuth, &ConnectAuth{Password: "hunter"}, true, ""},
		{"password mismatch", passAuth, &ConnectAuth{Password: "hunter2"}, false, "password_mismatch"},
		{"password missing", passAuth, &ConnectAuth{Token: "hunter"}, false, "password required"},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, false, "unknown auth mode: oauth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/status", nil)
	assert.Nil(t, credentialsFromRequest(r))

	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Nil(t, credentialsFromRequest(r))

	r.Header.Set("Authorization", "Bearer tok")
	creds := credentialsFromRequest(r)
	require.NotNil(t, creds)
	assert.Equal(t, "tok", creds.Token)
	assert.Equal(t, "tok", creds.Password)
}

func TestAuthLimiter(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	l := newAuthLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < authRateMaxFails; i++ {
		require.True(t, l.allow("10.0.0.1:5000"))
		l.recordFailure("10.0.0.1:5000")
	}
	assert.False(t, l.allow("10.0.0.1:6000"), "port does not matter")
	assert.True(t, l.allow("10.0.0.2:5000"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, l.allow("10.0.0.1:5000"))
	assert.Empty(t, l.failures)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "10.0.0.1", hostOf("10.0.0.1:80"))
	assert.Equal(t, "::1", hostOf("[::1]:80"))
	assert.Equal(t, "pipe", hostOf("pipe"))
}
