package domain

import (
	"fmt"
	"time"
)

// SpaceType categorizes a bookable shared space.
type SpaceType string

const (
	SpaceGuestRoom  SpaceType = "GUEST_ROOM"
	SpaceCommonRoom SpaceType = "COMMON_ROOM"
	SpaceCoworking  SpaceType = "COWORKING"
	SpaceParking    SpaceType = "PARKING"
)

// Space is a shared resource residents can reserve.
type Space struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        SpaceType `json:"type"`
	Description string    `json:"description,omitempty"`
	Rules       string    `json:"rules,omitempty"`
	PriceCents  int64     `json:"priceCents"` // per night for residents
	Currency    string    `json:"currency"`
	MaxNights   int       `json:"maxNights,omitempty"`
	Active      bool      `json:"active"`
}

// IsFree reports whether reservations of the space cost nothing.
func (s Space) IsFree() bool {
	return s.PriceCents == 0
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPendingPayment ReservationStatus = "PENDING_PAYMENT"
	StatusConfirmed      ReservationStatus = "CONFIRMED"
	StatusCancelled      ReservationStatus = "CANCELLED"
)

// DateLayout is the calendar date format used across tools and slots.
const DateLayout = "2006-01-02"

// Reservation books a space for a contiguous range of days. EndDate is the
// checkout day; a same-day reservation has StartDate == EndDate.
type Reservation struct {
	ID         string            `json:"id"`
	SpaceID    string            `json:"spaceId"`
	SpaceName  string            `json:"spaceName"`
	AccountID  string            `json:"accountId"`
	StartDate  time.Time         `json:"startDate"`
	EndDate    time.Time         `json:"endDate"`
	Status     ReservationStatus `json:"status"`
	TotalCents int64             `json:"totalCents"`
	Currency   string            `json:"currency"`
	AccessCode string            `json:"accessCode,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Nights returns the number of nights covered; same-day bookings count as
// one unit so they are still priced.
func (r Reservation) Nights() int {
	return NightsBetween(r.StartDate, r.EndDate)
}

// IsFree reports whether nothing is owed for the reservation.
func (r Reservation) IsFree() bool {
	return r.TotalCents == 0
}

// NightsBetween counts billable units between two calendar dates.
func NightsBetween(start, end time.Time) int {
	n := int(end.Sub(start).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

// FormatPrice renders an amount in cents, e.g. "45.00 EUR".
func FormatPrice(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}

// PaymentSession is an opaque checkout created for a pending reservation.
type PaymentSession struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservationId"`
	URL           string    `json:"url"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Contact is an entry in the building directory (emergency numbers,
// caretaker, management company).
type Contact struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Article is a piece of building knowledge (rules, opening hours, contacts)
// used for get_infos and retrieval.
type Article struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Body     string `json:"body"`
}
