package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceID    = "3f0c1a52-8d2e-4d7a-9a51-0b6c7e1d2a01"
	guestRoom1 = "6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0001"
	commonRoom = "6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0003"
)

var testNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log,
		WithClock(func() time.Time { return testNow }),
		WithCheckoutURL("https://pay.example.org/checkout/"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seededDB(t *testing.T) *DB {
	t.Helper()
	db := testDB(t)
	seed, err := DemoSeed()
	require.NoError(t, err)
	_, err = db.ApplySeed(context.Background(), seed)
	require.NoError(t, err)
	return db
}

func day(s string) time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func begin(t *testing.T, db *DB) *Tx {
	t.Helper()
	tx, err := db.BeginTx(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

// --- DB/Migration tests ---

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"accounts", "spaces", "reservations", "payment_sessions", "contacts", "knowledge", "knowledge_fts", "conversation_contexts"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

// --- Seed ---

func TestApplySeed(t *testing.T) {
	db := testDB(t)
	seed, err := DemoSeed()
	require.NoError(t, err)

	stats, err := db.ApplySeed(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Accounts)
	assert.Equal(t, 4, stats.Spaces)
	assert.Equal(t, 4, stats.Contacts)
	assert.Equal(t, 3, stats.Articles)

	// Re-applying upserts instead of duplicating.
	_, err = db.ApplySeed(context.Background(), seed)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM contacts").Scan(&n))
	assert.Equal(t, 4, n)
}

func TestParseSeedValidation(t *testing.T) {
	_, err := ParseSeed(strings.NewReader("accounts:\n  - username: x\n"))
	assert.ErrorContains(t, err, "id and username")

	_, err = ParseSeed(strings.NewReader("spaces: [oops"))
	assert.Error(t, err)
}

func TestParseSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("spaces:\n  - id: p1\n    name: Parking 12\n    type: PARKING\n"), 0o600))

	s, err := ParseSeedFile(path)
	require.NoError(t, err)
	require.Len(t, s.Spaces, 1)
	assert.Equal(t, "Parking 12", s.Spaces[0].Name)

	_, err = ParseSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "open seed")
}

// --- Accounts ---

func TestFindAccountByChatID(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	a, err := db.FindAccountByChatID(ctx, "@alice:neohoods.local")
	require.NoError(t, err)
	assert.Equal(t, aliceID, a.ID)
	assert.Equal(t, "B-204", a.Unit)

	// Falls back to the normalized username when the server differs.
	a, err = db.FindAccountByChatID(ctx, "@Alice:matrix.org")
	require.NoError(t, err)
	assert.Equal(t, aliceID, a.ID)

	_, err = db.FindAccountByChatID(ctx, "@nobody:neohoods.local")
	be, ok := backend.AsBusiness(err)
	require.True(t, ok)
	assert.Equal(t, "account.notFound", be.Key)

	_, err = db.FindAccountByChatID(ctx, "not-a-chat-id")
	_, ok = backend.AsBusiness(err)
	assert.True(t, ok)
}

func TestResidentsByUnit(t *testing.T) {
	tx := begin(t, seededDB(t))

	res, err := tx.ResidentsByUnit(context.Background(), "b-2")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "B-204", res[0].Unit)
	assert.Equal(t, "B-207", res[1].Unit)

	res, err = tx.ResidentsByUnit(context.Background(), "C-")
	require.NoError(t, err)
	assert.Empty(t, res)
}

// --- Spaces & reservations ---

func TestListSpaces(t *testing.T) {
	tx := begin(t, seededDB(t))
	ctx := context.Background()

	spaces, err := tx.ListSpaces(ctx)
	require.NoError(t, err)
	assert.Len(t, spaces, 4)

	s, err := tx.GetSpace(ctx, guestRoom1)
	require.NoError(t, err)
	assert.Equal(t, domain.SpaceGuestRoom, s.Type)
	assert.Equal(t, int64(4500), s.PriceCents)
	assert.True(t, s.Active)

	_, err = tx.GetSpace(ctx, "00000000-0000-0000-0000-000000000000")
	be, ok := backend.AsBusiness(err)
	require.True(t, ok)
	assert.Equal(t, "space.notFound", be.Key)
}

func TestCreateReservation(t *testing.T) {
	tx := begin(t, seededDB(t))
	ctx := context.Background()

	r, err := tx.CreateReservation(ctx, domain.Reservation{
		SpaceID: guestRoom1, AccountID: aliceID,
		StartDate: day("2026-10-20"), EndDate: day("2026-10-23"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, domain.StatusPendingPayment, r.Status)
	assert.Equal(t, int64(3*4500), r.TotalCents)
	assert.Equal(t, "Chambre d'amis 1", r.SpaceName)

	got, err := tx.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.StartDate, got.StartDate)
	assert.Equal(t, r.EndDate, got.EndDate)

	mine, err := tx.ListReservations(ctx, aliceID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestCreateReservationRules(t *testing.T) {
	tests := []struct {
		name    string
		space   string
		start   string
		end     string
		wantKey string
	}{
		{"overlap", guestRoom1, "2026-10-22", "2026-10-24", "space.unavailable"},
		{"reversed", guestRoom1, "2026-10-25", "2026-10-24", "reservation.invalidPeriod"},
		{"past", guestRoom1, "2026-10-10", "2026-10-11", "reservation.pastDate"},
		{"too long", guestRoom1, "2026-11-01", "2026-11-20", "space.tooLong"},
		{"unknown space", "00000000-0000-0000-0000-000000000000", "2026-11-01", "2026-11-02", "space.notFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := begin(t, seededDB(t))
			ctx := context.Background()
			_, err := tx.CreateReservation(ctx, domain.Reservation{
				SpaceID: guestRoom1, AccountID: aliceID,
				StartDate: day("2026-10-20"), EndDate: day("2026-10-23"),
			})
			require.NoError(t, err)

			_, err = tx.CreateReservation(ctx, domain.Reservation{
				SpaceID: tt.space, AccountID: aliceID,
				StartDate: day(tt.start), EndDate: day(tt.end),
			})
			be, ok := backend.AsBusiness(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.wantKey, be.Key)
		})
	}
}

func TestAvailabilityBoundaries(t *testing.T) {
	tx := begin(t, seededDB(t))
	ctx := context.Background()

	_, err := tx.CreateReservation(ctx, domain.Reservation{
		SpaceID: commonRoom, AccountID: aliceID,
		StartDate: day("2026-10-20"), EndDate: day("2026-10-20"),
	})
	require.NoError(t, err)

	ok, err := tx.IsAvailable(ctx, commonRoom, day("2026-10-20"), day("2026-10-20"))
	require.NoError(t, err)
	assert.False(t, ok, "same-day booking occupies its day")

	ok, err = tx.IsAvailable(ctx, commonRoom, day("2026-10-21"), day("2026-10-21"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tx.IsAvailable(ctx, commonRoom, day("2026-10-19"), day("2026-10-20"))
	require.NoError(t, err)
	assert.True(t, ok, "checkout day is free for the next guest")
}

func TestConfirmReservation(t *testing.T) {
	tx := begin(t, seededDB(t))
	ctx := context.Background()

	r, err := tx.CreateReservation(ctx, domain.Reservation{
		SpaceID: commonRoom, AccountID: aliceID,
		StartDate: day("2026-10-20"), EndDate: day("2026-10-20"),
	})
	require.NoError(t, err)
	assert.True(t, r.IsFree())

	confirmed, err := tx.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
	assert.Len(t, confirmed.AccessCode, 6)

	again, err := tx.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, confirmed.AccessCode, again.AccessCode)

	_, err = tx.CreatePaymentSession(ctx, again)
	be, ok := backend.AsBusiness(err)
	require.True(t, ok)
	assert.Equal(t, "reservation.notPayable", be.Key)
}

func TestCreatePaymentSession(t *testing.T) {
	tx := begin(t, seededDB(t))
	ctx := context.Background()

	r, err := tx.CreateReservation(ctx, domain.Reservation{
		SpaceID: guestRoom1, AccountID: aliceID,
		StartDate: day("2026-10-20"), EndDate: day("2026-10-21"),
	})
	require.NoError(t, err)

	ps, err := tx.CreatePaymentSession(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, r.ID, ps.ReservationID)
	assert.Equal(t, int64(4500), ps.AmountCents)
	assert.Equal(t, "https://pay.example.org/checkout/"+ps.ID, ps.URL)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	r, err := tx.CreateReservation(ctx, domain.Reservation{
		SpaceID: guestRoom1, AccountID: aliceID,
		StartDate: day("2026-10-20"), EndDate: day("2026-10-21"),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	tx2 := begin(t, db)
	_, err = tx2.GetReservation(ctx, r.ID)
	_, ok := backend.AsBusiness(err)
	assert.True(t, ok)
}

func TestCommitSurvivesCancelledContext(t *testing.T) {
	db := seededDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	scope, err := db.Begin(ctx)
	require.NoError(t, err)
	cancel()

	r, err := scope.CreateReservation(context.WithoutCancel(ctx), domain.Reservation{
		SpaceID: guestRoom1, AccountID: aliceID,
		StartDate: day("2026-10-20"), EndDate: day("2026-10-21"),
	})
	require.NoError(t, err)
	require.NoError(t, scope.Commit())

	tx := begin(t, db)
	_, err = tx.GetReservation(context.Background(), r.ID)
	assert.NoError(t, err)
}

// --- Directory ---

func TestDirectory(t *testing.T) {
	tx := begin(t, seededDB(t))
	ctx := context.Background()

	contacts, err := tx.EmergencyContacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 4)
	assert.Equal(t, "Pompiers", contacts[0].Name)

	infos, err := tx.BuildingInfos(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 3)
}

// --- Knowledge ---

func TestKnowledgeSearch(t *testing.T) {
	db := seededDB(t)
	k := NewKnowledgeStore(db)
	ctx := context.Background()

	res, err := k.Search(ctx, "Quand passe la collecte des poubelles ?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "info-waste", res[0].ID)

	text, err := k.Retrieve(ctx, "parking badge")
	require.NoError(t, err)
	assert.Contains(t, text, "### Parking")

	text, err = k.Retrieve(ctx, "?? !")
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, k.Delete(ctx, "info-parking"))
	res, err = k.Search(ctx, "parking", 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"horaires" OR "gardien"`, ftsQuery("Horaires du gardien? horaires"))
	assert.Equal(t, "", ftsQuery(`"" OR *`))
}

// --- Contexts ---

func TestContextStore(t *testing.T) {
	db := testDB(t)
	s := NewContextStore(db, time.Hour)
	ctx := context.Background()

	c, err := s.Load(ctx, "irc:alice")
	require.NoError(t, err)
	assert.False(t, c.InWorkflow())

	c.Step = "CHOOSE_PERIOD"
	c.Slots.ResourceID = guestRoom1
	c.Slots.Period = convctx.Period{StartDate: "2026-10-16"}
	c.Append(llm.Message{Role: llm.RoleUser, Content: "je veux réserver"})
	require.NoError(t, s.Save(ctx, c))

	got, err := s.Load(ctx, "irc:alice")
	require.NoError(t, err)
	assert.Equal(t, "CHOOSE_PERIOD", got.Step)
	assert.Equal(t, guestRoom1, got.Slots.ResourceID)
	assert.Equal(t, "2026-10-16", got.Slots.Period.StartDate)
	require.Len(t, got.History, 1)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"irc:alice"}, ids)

	require.NoError(t, s.Clear(ctx, "irc:alice"))
	got, err = s.Load(ctx, "irc:alice")
	require.NoError(t, err)
	assert.Empty(t, got.Step)
}

func TestContextStoreExpiry(t *testing.T) {
	db := testDB(t)
	s := NewContextStore(db, time.Minute)
	ctx := context.Background()

	c := convctx.New("room")
	c.Step = "CHOOSE_SPACE"
	require.NoError(t, s.Save(ctx, c))

	db.now = func() time.Time { return testNow.Add(time.Hour) }
	got, err := s.Load(ctx, "room")
	require.NoError(t, err)
	assert.Empty(t, got.Step)

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
