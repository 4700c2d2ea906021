package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/store"
)

const probeCatalog = `
tools:
  - name: probe
  - name: secret
    private: true
  - name: admin_probe
`

// fakeScope records how the executor settles it. Unused capabilities panic
// through the nil embedded Backend.
type fakeScope struct {
	backend.Backend
	accounts   map[string]domain.Account
	lookupErr  error
	committed  bool
	rolledBack bool
}

func (s *fakeScope) FindAccountByChatID(_ context.Context, chatID string) (domain.Account, error) {
	if s.lookupErr != nil {
		return domain.Account{}, s.lookupErr
	}
	if a, ok := s.accounts[chatID]; ok {
		return a, nil
	}
	return domain.Account{}, backend.Business("account.notFound")
}

func (s *fakeScope) Commit() error   { s.committed = true; return nil }
func (s *fakeScope) Rollback() error { s.rolledBack = true; return nil }

type fakeTransactor struct {
	scope  *fakeScope
	begins int
}

func (f *fakeTransactor) Begin(context.Context) (backend.Scope, error) {
	f.begins++
	return f.scope, nil
}

func probeExecutor(t *testing.T, scope *fakeScope) (*Executor, *fakeTransactor) {
	t.Helper()
	c, err := LoadCatalog(strings.NewReader(probeCatalog))
	require.NoError(t, err)
	tx := &fakeTransactor{scope: scope}
	e := NewExecutor(ExecutorConfig{
		Catalog:    c,
		Transactor: tx,
		Translator: i18n.MustNew("en"),
		Logger:     logging.Nop(),
	})
	return e, tx
}

func TestExecute_DMGateBeforeBackend(t *testing.T) {
	scope := &fakeScope{}
	e, tx := probeExecutor(t, scope)
	called := false
	e.Handle("secret", func(context.Context, *Call) (string, error) {
		called = true
		return "", nil
	})

	ac := auth.New("@ghost:server", "irc:#hall", false, nil)
	for _, name := range []string{"secret", "admin_probe"} {
		res := e.Execute(context.Background(), name, Args{}, ac)
		assert.True(t, res.IsError)
		assert.Equal(t, e.tr.T("en", "mcp.error.requiresDM"), res.Text())
	}
	assert.False(t, called)
	assert.Zero(t, tx.begins, "no scope may be opened for a refused private call")
}

func TestExecute_UnknownTool(t *testing.T) {
	e, tx := probeExecutor(t, &fakeScope{})
	ac := auth.New("@a:server", "irc:a", true, nil)

	res := e.Execute(context.Background(), "does_not_exist", Args{}, ac)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "does_not_exist")

	// In the catalog but without a handler.
	res = e.Execute(context.Background(), "probe", Args{}, ac)
	assert.True(t, res.IsError)
	assert.Equal(t, []string{"probe", "secret", "admin_probe"}, e.Missing())
	assert.Zero(t, tx.begins)
}

func TestExecute_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantError    bool
		wantCommit   bool
		wantRollback bool
		wantText     string
	}{
		{"success", nil, false, true, false, "ok"},
		{"business", backend.Business("space.notFound", "x"), true, true, false, "Space not found (x)."},
		{"storage", backend.Storage("insert", errors.New("disk full")), true, false, true, "Something went wrong: please try again in a moment."},
		{"wrapped storage", errors.Join(errors.New("outer"), backend.Storage("insert", errors.New("locked"))), true, false, true, "Something went wrong: please try again in a moment."},
		{"other", errors.New("boom"), true, true, false, "Something went wrong: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := &fakeScope{}
			e, _ := probeExecutor(t, scope)
			e.Handle("probe", func(context.Context, *Call) (string, error) {
				if tt.err != nil {
					return "", tt.err
				}
				return "ok", nil
			})

			res := e.Execute(context.Background(), "probe", Args{}, auth.New("@a:server", "irc:#hall", false, nil))
			assert.Equal(t, tt.wantError, res.IsError)
			assert.Equal(t, tt.wantText, res.Text())
			assert.Equal(t, tt.wantCommit, scope.committed)
			assert.Equal(t, tt.wantRollback, scope.rolledBack)
		})
	}
}

func TestExecute_PublicToolDegradesWithoutAccount(t *testing.T) {
	scope := &fakeScope{lookupErr: backend.Storage("find", errors.New("locked"))}
	e, _ := probeExecutor(t, scope)
	var got *Call
	e.Handle("probe", func(_ context.Context, c *Call) (string, error) {
		got = c
		return "ok", nil
	})

	res := e.Execute(context.Background(), "probe", Args{}, auth.New("@a:server", "irc:#hall", false, nil))
	assert.False(t, res.IsError)
	require.NotNil(t, got)
	assert.False(t, got.HasAccount)
	assert.Equal(t, "en", got.Locale)
}

func TestExecute_AdminGate(t *testing.T) {
	scope := &fakeScope{accounts: map[string]domain.Account{
		"@bob:server":    {ID: "b", Role: domain.RoleOwner, Locale: "en"},
		"@claire:server": {ID: "c", Role: domain.RoleAdmin, Locale: "en"},
	}}
	e, _ := probeExecutor(t, scope)
	e.Handle("admin_probe", func(context.Context, *Call) (string, error) { return "secret stuff", nil })

	res := e.Execute(context.Background(), "admin_probe", Args{}, auth.New("@bob:server", "irc:bob", true, nil))
	assert.True(t, res.IsError)
	assert.Equal(t, e.tr.T("en", "mcp.error.adminOnly"), res.Text())

	res = e.Execute(context.Background(), "admin_probe", Args{}, auth.New("@claire:server", "irc:claire", true, nil))
	assert.False(t, res.IsError)
	assert.Equal(t, "secret stuff", res.Text())
}

func TestExecute_PrivateToolNeedsAccount(t *testing.T) {
	e, _ := probeExecutor(t, &fakeScope{})
	e.Handle("secret", func(context.Context, *Call) (string, error) { return "ok", nil })

	res := e.Execute(context.Background(), "secret", Args{}, auth.New("@ghost:server", "irc:ghost", true, nil))
	assert.True(t, res.IsError)
	assert.Equal(t, e.tr.T("en", "mcp.error.requiresDM"), res.Text())
}

func TestExecute_SettlesAfterCancellation(t *testing.T) {
	scope := &fakeScope{}
	e, _ := probeExecutor(t, scope)
	e.Handle("probe", func(ctx context.Context, _ *Call) (string, error) {
		return "ok", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, "probe", Args{}, auth.New("@a:server", "irc:a", true, nil))
	assert.False(t, res.IsError)
	assert.True(t, scope.committed)
}

func TestExecuteJSON_Malformed(t *testing.T) {
	e, tx := probeExecutor(t, &fakeScope{})
	res := e.ExecuteJSON(context.Background(), "probe", `{"spaceId":`, auth.New("@a:server", "irc:a", true, nil))
	assert.True(t, res.IsError)
	assert.Equal(t, e.tr.T("en", "arg.invalidJSON"), res.Text())
	assert.Zero(t, tx.begins)
}

// --- handlers against a seeded database ---

const (
	aliceChat  = "@alice:neohoods.local"
	bobChat    = "@bob:neohoods.local"
	claireChat = "@claire:neohoods.local"
	guestRoom1 = "6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0001"
	commonRoom = "6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0003"
)

func seededExecutor(t *testing.T) (*Executor, *store.DB) {
	t.Helper()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	db, err := store.Open(":memory:", logging.Nop(),
		store.WithClock(func() time.Time { return now }),
		store.WithCheckoutURL("https://pay.example.org/checkout"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	seed, err := store.DemoSeed()
	require.NoError(t, err)
	_, err = db.ApplySeed(context.Background(), seed)
	require.NoError(t, err)

	c, err := DefaultCatalog()
	require.NoError(t, err)
	return NewExecutor(ExecutorConfig{
		Catalog:     c,
		Transactor:  db,
		Translator:  i18n.MustNew("fr"),
		FrontendURL: "https://app.example.org",
		Logger:      logging.Nop(),
	}), db
}

func dm(chatID string) auth.Context {
	return auth.New(chatID, "irc:"+chatID, true, nil)
}

func TestHandlers_ListAndCheck(t *testing.T) {
	e, _ := seededExecutor(t)
	ctx := context.Background()
	public := auth.New(bobChat, "irc:#hall", false, nil)

	res := e.Execute(ctx, "list_spaces", Args{"type": "guest_room"}, public)
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), guestRoom1)
	assert.NotContains(t, res.Text(), commonRoom)

	res = e.Execute(ctx, "check_space_availability",
		Args{"spaceId": guestRoom1, "startDate": "2026-10-20", "endDate": "2026-10-22"}, public)
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "90.00 EUR")

	res = e.Execute(ctx, "check_space_availability",
		Args{"spaceId": "not-a-uuid", "startDate": "2026-10-20", "endDate": "2026-10-22"}, public)
	assert.True(t, res.IsError)

	res = e.Execute(ctx, "check_space_availability",
		Args{"spaceId": guestRoom1, "startDate": "2026-10-22", "endDate": "2026-10-20"}, public)
	assert.True(t, res.IsError)
	assert.Equal(t, e.tr.T("en", "reservation.invalidPeriod"), res.Text())
}

func TestHandlers_CreatePaidReservationThenPay(t *testing.T) {
	e, db := seededExecutor(t)
	ctx := context.Background()

	res := e.Execute(ctx, "create_reservation",
		Args{"spaceId": guestRoom1, "startDate": "2026-10-20", "endDate": "2026-10-22"}, dm(aliceChat))
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "90.00 EUR")

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	list, err := tx.ListReservations(ctx, "3f0c1a52-8d2e-4d7a-9a51-0b6c7e1d2a01")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.Len(t, list, 1)
	id := list[0].ID
	assert.Equal(t, domain.StatusPendingPayment, list[0].Status)

	res = e.Execute(ctx, "get_reservation_access_code", Args{"reservationId": id}, dm(aliceChat))
	assert.True(t, res.IsError)

	res = e.Execute(ctx, "generate_payment_link", Args{"reservationId": id}, dm(aliceChat))
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "https://pay.example.org/checkout/")

	// Bob may not see Alice's reservation; Claire is an admin.
	res = e.Execute(ctx, "get_reservation_details", Args{"reservationId": id}, dm(bobChat))
	assert.True(t, res.IsError)
	assert.Equal(t, e.tr.T("en", "reservation.noAccess"), res.Text())

	res = e.Execute(ctx, "get_reservation_details", Args{"reservationId": id}, dm(claireChat))
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "https://app.example.org/spaces/reservations/"+id)

	// The same nights are no longer available; the business error commits.
	res = e.Execute(ctx, "create_reservation",
		Args{"spaceId": guestRoom1, "startDate": "2026-10-21", "endDate": "2026-10-23"}, dm(bobChat))
	assert.True(t, res.IsError)
}

func TestHandlers_FreeReservationIsConfirmed(t *testing.T) {
	e, _ := seededExecutor(t)
	ctx := context.Background()

	res := e.Execute(ctx, "create_reservation",
		Args{"spaceId": commonRoom, "startDate": "2026-10-16", "endDate": "2026-10-16"}, dm(aliceChat))
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "https://app.example.org/spaces/reservations/")

	res = e.Execute(ctx, "list_my_reservations", Args{"status": "CONFIRMED"}, dm(aliceChat))
	require.False(t, res.IsError)
	assert.Contains(t, res.Text(), "Salle commune")
}

func TestHandlers_Directory(t *testing.T) {
	e, _ := seededExecutor(t)
	ctx := context.Background()
	public := auth.New(bobChat, "irc:#hall", false, nil)

	res := e.Execute(ctx, "get_resident_info", Args{"apartment": "B", "floor": 2}, public)
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "Alice Martin")
	assert.Contains(t, res.Text(), "Bob Durand")
	assert.NotContains(t, res.Text(), "alice@example.org")

	res = e.Execute(ctx, "get_resident_info", Args{}, public)
	assert.True(t, res.IsError)

	res = e.Execute(ctx, "get_emergency_numbers", Args{}, public)
	require.False(t, res.IsError)
	assert.Contains(t, res.Text(), "Pompiers")

	res = e.Execute(ctx, "get_infos", Args{}, public)
	require.False(t, res.IsError)
	assert.Contains(t, res.Text(), "Collecte des déchets")
}

func TestHandlers_AdminListings(t *testing.T) {
	e, _ := seededExecutor(t)
	ctx := context.Background()

	res := e.Execute(ctx, "admin_get_users", Args{}, dm(claireChat))
	require.False(t, res.IsError, res.Text())
	assert.Contains(t, res.Text(), "alice")

	res = e.Execute(ctx, "admin_get_spaces", Args{}, dm(aliceChat))
	assert.True(t, res.IsError)
}

func TestArgs(t *testing.T) {
	a, err := ParseArgs(`{"n": 204, "s": "  B-204 ", "d": "2026-10-20", "id": "6B1E9F4E-0C3A-4F57-8F0E-5D2B7A9C0001"}`)
	require.NoError(t, err)
	assert.Equal(t, "204", a.String("n"))
	assert.Equal(t, "B-204", a.String("s"))
	assert.Empty(t, a.String("missing"))

	id, err := a.UUID("id")
	require.NoError(t, err)
	assert.Equal(t, guestRoom1, id)

	d, err := a.Date("d")
	require.NoError(t, err)
	assert.Equal(t, 20, d.Day())

	_, err = a.Date("s")
	be, ok := backend.AsBusiness(err)
	require.True(t, ok)
	assert.Equal(t, "arg.invalidDate", be.Key)

	_, err = a.RequiredString("missing")
	be, ok = backend.AsBusiness(err)
	require.True(t, ok)
	assert.Equal(t, "arg.required", be.Key)

	empty, err := ParseArgs("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseArgs("[1,2]")
	assert.Error(t, err)
}
