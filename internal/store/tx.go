package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/domain"
)

// Tx is an open transaction implementing backend.Scope. Every capability
// method runs on the transaction; none touch the pool directly.
type Tx struct {
	tx   *sql.Tx
	db   *DB
	done bool
}

var _ backend.Scope = (*Tx)(nil)

// Commit commits the transaction. A failed commit is a storage error.
func (t *Tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return backend.Storage("commit", t.tx.Commit())
}

// Rollback aborts the transaction. Rolling back a finished scope is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return backend.Storage("rollback", err)
}

func (t *Tx) today() time.Time {
	now := t.db.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// --- Resources ---

const spaceColumns = `id, name, type, description, rules, price_cents, currency, max_nights, active`

// ListSpaces returns active spaces ordered by name.
func (t *Tx) ListSpaces(ctx context.Context) ([]domain.Space, error) {
	return t.querySpaces(ctx, `SELECT `+spaceColumns+` FROM spaces WHERE active = 1 ORDER BY name`)
}

// ListAllSpaces returns every space, active or not.
func (t *Tx) ListAllSpaces(ctx context.Context) ([]domain.Space, error) {
	return t.querySpaces(ctx, `SELECT `+spaceColumns+` FROM spaces ORDER BY name`)
}

// GetSpace returns the space or a space.notFound business error.
func (t *Tx) GetSpace(ctx context.Context, id string) (domain.Space, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+spaceColumns+` FROM spaces WHERE id = ?`, id)
	s, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Space{}, backend.Business("space.notFound", id)
	}
	if err != nil {
		return domain.Space{}, backend.Storage("get space", err)
	}
	return s, nil
}

// IsAvailable reports whether no pending or confirmed reservation overlaps
// the period. Same-day bookings occupy their whole day.
func (t *Tx) IsAvailable(ctx context.Context, spaceID string, start, end time.Time) (bool, error) {
	effEnd := end
	if !effEnd.After(start) {
		effEnd = start.AddDate(0, 0, 1)
	}
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE space_id = ?
		  AND status != ?
		  AND start_date < ?
		  AND (CASE WHEN end_date <= start_date THEN date(start_date, '+1 day') ELSE end_date END) > ?`,
		spaceID, domain.StatusCancelled, effEnd.Format(domain.DateLayout), start.Format(domain.DateLayout),
	).Scan(&n)
	if err != nil {
		return false, backend.Storage("check availability", err)
	}
	return n == 0, nil
}

func (t *Tx) querySpaces(ctx context.Context, query string, args ...any) ([]domain.Space, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backend.Storage("list spaces", err)
	}
	defer rows.Close()

	var out []domain.Space
	for rows.Next() {
		s, err := scanSpace(rows)
		if err != nil {
			return nil, backend.Storage("scan space", err)
		}
		out = append(out, s)
	}
	return out, backend.Storage("list spaces", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSpace(row scanner) (domain.Space, error) {
	var s domain.Space
	var typ string
	err := row.Scan(&s.ID, &s.Name, &typ, &s.Description, &s.Rules, &s.PriceCents, &s.Currency, &s.MaxNights, &s.Active)
	s.Type = domain.SpaceType(typ)
	return s, err
}

// --- Reservations ---

const reservationColumns = `r.id, r.space_id, s.name, r.account_id, r.start_date, r.end_date,
	r.status, r.total_cents, r.currency, r.access_code, r.created_at`

// CreateReservation validates the request against the space and existing
// bookings, prices it and stores it as pending payment.
func (t *Tx) CreateReservation(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	space, err := t.GetSpace(ctx, r.SpaceID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !space.Active {
		return domain.Reservation{}, backend.Business("space.inactive", space.Name)
	}
	if r.EndDate.Before(r.StartDate) {
		return domain.Reservation{}, backend.Business("reservation.invalidPeriod")
	}
	if r.StartDate.Before(t.today()) {
		return domain.Reservation{}, backend.Business("reservation.pastDate")
	}
	nights := domain.NightsBetween(r.StartDate, r.EndDate)
	if space.MaxNights > 0 && nights > space.MaxNights {
		return domain.Reservation{}, backend.Business("space.tooLong", space.Name, space.MaxNights)
	}

	free, err := t.IsAvailable(ctx, space.ID, r.StartDate, r.EndDate)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !free {
		return domain.Reservation{}, backend.Business("space.unavailable",
			space.Name, r.StartDate.Format(domain.DateLayout), r.EndDate.Format(domain.DateLayout))
	}

	r.ID = newID()
	r.SpaceName = space.Name
	r.Status = domain.StatusPendingPayment
	r.TotalCents = int64(nights) * space.PriceCents
	r.Currency = space.Currency
	if r.Currency == "" {
		r.Currency = t.db.currency
	}
	r.CreatedAt = t.db.now().UTC()

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, space_id, account_id, start_date, end_date, status, total_cents, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SpaceID, r.AccountID,
		r.StartDate.Format(domain.DateLayout), r.EndDate.Format(domain.DateLayout),
		r.Status, r.TotalCents, r.Currency, r.CreatedAt.Format(time.DateTime),
	)
	if err != nil {
		return domain.Reservation{}, backend.Storage("insert reservation", err)
	}

	t.db.log.Info().
		Str("reservationId", r.ID).
		Str("spaceId", r.SpaceID).
		Str("accountId", r.AccountID).
		Int64("totalCents", r.TotalCents).
		Msg("reservation created")
	return r, nil
}

// GetReservation returns the reservation or a reservation.notFound business
// error.
func (t *Tx) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+reservationColumns+`
		FROM reservations r JOIN spaces s ON s.id = r.space_id WHERE r.id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, backend.Business("reservation.notFound", id)
	}
	if err != nil {
		return domain.Reservation{}, backend.Storage("get reservation", err)
	}
	return r, nil
}

// ListReservations returns an account's reservations, most recent first.
func (t *Tx) ListReservations(ctx context.Context, accountID string) ([]domain.Reservation, error) {
	return t.queryReservations(ctx, `SELECT `+reservationColumns+`
		FROM reservations r JOIN spaces s ON s.id = r.space_id
		WHERE r.account_id = ? ORDER BY r.start_date DESC`, accountID)
}

// ListAllReservations returns every reservation, most recent first.
func (t *Tx) ListAllReservations(ctx context.Context) ([]domain.Reservation, error) {
	return t.queryReservations(ctx, `SELECT `+reservationColumns+`
		FROM reservations r JOIN spaces s ON s.id = r.space_id
		ORDER BY r.start_date DESC`)
}

// ConfirmReservation marks a pending reservation confirmed and assigns its
// access code. Confirming an already confirmed reservation returns it as is.
func (t *Tx) ConfirmReservation(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := t.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	switch r.Status {
	case domain.StatusConfirmed:
		return r, nil
	case domain.StatusCancelled:
		return domain.Reservation{}, backend.Business("reservation.cancelled", id)
	}

	code, err := accessCode()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("generate access code: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, access_code = ? WHERE id = ?`,
		domain.StatusConfirmed, code, id,
	); err != nil {
		return domain.Reservation{}, backend.Storage("confirm reservation", err)
	}
	r.Status = domain.StatusConfirmed
	r.AccessCode = code
	return r, nil
}

func (t *Tx) queryReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backend.Storage("list reservations", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, backend.Storage("scan reservation", err)
		}
		out = append(out, r)
	}
	return out, backend.Storage("list reservations", rows.Err())
}

func scanReservation(row scanner) (domain.Reservation, error) {
	var r domain.Reservation
	var start, end, status, created string
	if err := row.Scan(&r.ID, &r.SpaceID, &r.SpaceName, &r.AccountID, &start, &end,
		&status, &r.TotalCents, &r.Currency, &r.AccessCode, &created); err != nil {
		return r, err
	}
	r.StartDate, _ = time.Parse(domain.DateLayout, start)
	r.EndDate, _ = time.Parse(domain.DateLayout, end)
	r.Status = domain.ReservationStatus(status)
	r.CreatedAt, _ = time.Parse(time.DateTime, created)
	return r, nil
}

// --- Payments ---

// CreatePaymentSession records a checkout session for a pending reservation
// and returns its URL.
func (t *Tx) CreatePaymentSession(ctx context.Context, r domain.Reservation) (domain.PaymentSession, error) {
	if r.Status != domain.StatusPendingPayment {
		return domain.PaymentSession{}, backend.Business("reservation.notPayable", r.ID)
	}
	ps := domain.PaymentSession{
		ID:            newID(),
		ReservationID: r.ID,
		AmountCents:   r.TotalCents,
		Currency:      r.Currency,
		CreatedAt:     t.db.now().UTC(),
	}
	ps.URL = t.db.checkoutURL + "/" + ps.ID

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_sessions (id, reservation_id, url, amount_cents, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ps.ID, ps.ReservationID, ps.URL, ps.AmountCents, ps.Currency, ps.CreatedAt.Format(time.DateTime),
	); err != nil {
		return domain.PaymentSession{}, backend.Storage("insert payment session", err)
	}
	return ps, nil
}

// --- Accounts ---

const accountColumns = `id, username, display_name, email, phone, locale, role, unit`

// FindAccountByChatID matches the exact chat id first, then the username
// derived from an "@user:server" identity.
func (t *Tx) FindAccountByChatID(ctx context.Context, chatID string) (domain.Account, error) {
	return findAccountByChatID(ctx, t.tx, chatID)
}

// GetAccount returns the account or an account.notFound business error.
func (t *Tx) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, backend.Business("account.notFound")
	}
	if err != nil {
		return domain.Account{}, backend.Storage("get account", err)
	}
	return a, nil
}

// ListAccounts returns every account ordered by unit.
func (t *Tx) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return queryAccounts(ctx, t.tx, `SELECT `+accountColumns+` FROM accounts ORDER BY unit, username`)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findAccountByChatID(ctx context.Context, q querier, chatID string) (domain.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE chat_id = ?`, chatID))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, backend.Storage("find account", err)
	}

	username := domain.UsernameFromChatID(chatID)
	if username == "" {
		return domain.Account{}, backend.Business("account.notFound")
	}
	a, err = scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, backend.Business("account.notFound")
	}
	if err != nil {
		return domain.Account{}, backend.Storage("find account", err)
	}
	return a, nil
}

func queryAccounts(ctx context.Context, q querier, query string, args ...any) ([]domain.Account, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backend.Storage("list accounts", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, backend.Storage("scan account", err)
		}
		out = append(out, a)
	}
	return out, backend.Storage("list accounts", rows.Err())
}

func scanAccount(row scanner) (domain.Account, error) {
	var a domain.Account
	var role string
	err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Email, &a.Phone, &a.Locale, &role, &a.Unit)
	a.Role = domain.Role(role)
	return a, err
}

// --- Directory ---

// ResidentsByUnit returns accounts whose unit starts with prefix.
func (t *Tx) ResidentsByUnit(ctx context.Context, prefix string) ([]domain.Account, error) {
	return queryAccounts(ctx, t.tx,
		`SELECT `+accountColumns+` FROM accounts WHERE unit != '' AND upper(unit) LIKE upper(?) || '%' ORDER BY unit, username`,
		prefix)
}

// EmergencyContacts returns the building directory in insertion order.
func (t *Tx) EmergencyContacts(ctx context.Context) ([]domain.Contact, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT name, category, phone, email, notes FROM contacts ORDER BY id`)
	if err != nil {
		return nil, backend.Storage("list contacts", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.Name, &c.Category, &c.Phone, &c.Email, &c.Notes); err != nil {
			return nil, backend.Storage("scan contact", err)
		}
		out = append(out, c)
	}
	return out, backend.Storage("list contacts", rows.Err())
}

// BuildingInfos returns knowledge articles in the "info" category.
func (t *Tx) BuildingInfos(ctx context.Context) ([]domain.Article, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, title, category, body FROM knowledge WHERE category = 'info' ORDER BY title`)
	if err != nil {
		return nil, backend.Storage("list infos", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

func scanArticles(rows *sql.Rows) ([]domain.Article, error) {
	var out []domain.Article
	for rows.Next() {
		var a domain.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Category, &a.Body); err != nil {
			return nil, backend.Storage("scan article", err)
		}
		out = append(out, a)
	}
	return out, backend.Storage("list articles", rows.Err())
}

// accessCode returns a random 6-digit door code.
func accessCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
