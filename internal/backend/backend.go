// Package backend declares the capabilities the assistant's tools call into.
//
// Every capability is consumed through an explicit transaction scope: the
// tool executor opens a Scope, hands it to exactly one handler, then
// commits or rolls back depending on the error class.
package backend

import (
	"context"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

// Resources exposes bookable spaces.
type Resources interface {
	ListSpaces(ctx context.Context) ([]domain.Space, error)
	GetSpace(ctx context.Context, id string) (domain.Space, error)
	// IsAvailable reports whether no active reservation overlaps [start, end].
	IsAvailable(ctx context.Context, spaceID string, start, end time.Time) (bool, error)
}

// Reservations manages a resident's bookings.
type Reservations interface {
	CreateReservation(ctx context.Context, r domain.Reservation) (domain.Reservation, error)
	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
	ListReservations(ctx context.Context, accountID string) ([]domain.Reservation, error)
	ConfirmReservation(ctx context.Context, id string) (domain.Reservation, error)
}

// Payments creates opaque checkout sessions for pending reservations.
type Payments interface {
	CreatePaymentSession(ctx context.Context, r domain.Reservation) (domain.PaymentSession, error)
}

// Accounts resolves chat identities to backend users.
type Accounts interface {
	FindAccountByChatID(ctx context.Context, chatID string) (domain.Account, error)
	GetAccount(ctx context.Context, id string) (domain.Account, error)
}

// Directory holds building information residents may ask about.
type Directory interface {
	// ResidentsByUnit returns accounts whose unit starts with prefix
	// (an apartment like "B-204" or a floor like "B-2").
	ResidentsByUnit(ctx context.Context, prefix string) ([]domain.Account, error)
	EmergencyContacts(ctx context.Context) ([]domain.Contact, error)
	BuildingInfos(ctx context.Context) ([]domain.Article, error)
}

// Admin lists everything regardless of ownership.
type Admin interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListAllReservations(ctx context.Context) ([]domain.Reservation, error)
	ListAllSpaces(ctx context.Context) ([]domain.Space, error)
}

// Backend is the full capability set available inside a scope.
type Backend interface {
	Resources
	Reservations
	Payments
	Accounts
	Directory
	Admin
}

// Scope is one open transaction. Exactly one of Commit or Rollback must be
// called.
type Scope interface {
	Backend
	Commit() error
	Rollback() error
}

// Transactor opens transaction scopes.
type Transactor interface {
	Begin(ctx context.Context) (Scope, error)
}
