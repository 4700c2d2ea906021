package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/domain"
)

// StartReservationTool hands the conversation over to the reservation
// workflow.
const StartReservationTool = "start_space_reservation"

func builtinHandlers() map[string]Handler {
	return map[string]Handler{
		"list_spaces":                 listSpaces,
		"get_space_info":              getSpaceInfo,
		"check_space_availability":    checkAvailability,
		StartReservationTool:          startReservation,
		"create_reservation":          createReservation,
		"list_my_reservations":        listMyReservations,
		"get_reservation_details":     getReservationDetails,
		"get_reservation_access_code": getAccessCode,
		"generate_payment_link":       generatePaymentLink,
		"get_resident_info":           getResidentInfo,
		"get_emergency_numbers":       getEmergencyNumbers,
		"get_infos":                   getInfos,
		"admin_get_users":             adminGetUsers,
		"admin_get_reservations":      adminGetReservations,
		"admin_get_spaces":            adminGetSpaces,
	}
}

// --- spaces ---

func listSpaces(ctx context.Context, c *Call) (string, error) {
	spaces, err := c.Backend.ListSpaces(ctx)
	if err != nil {
		return "", err
	}
	kind := domain.SpaceType(strings.ToUpper(c.Args.String("type")))

	var b strings.Builder
	for _, s := range spaces {
		if kind != "" && s.Type != kind {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s) id=%s %s\n", s.Name, s.Type, s.ID, priceLine(c, s))
	}
	if b.Len() == 0 {
		return c.T("tool.noSpaces"), nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func getSpaceInfo(ctx context.Context, c *Call) (string, error) {
	id, err := c.Args.UUID("spaceId")
	if err != nil {
		return "", err
	}
	s, err := c.Backend.GetSpace(ctx, id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) id=%s\n", s.Name, s.Type, s.ID)
	if s.Description != "" {
		b.WriteString(s.Description + "\n")
	}
	fmt.Fprintf(&b, "%s\n", priceLine(c, s))
	if s.MaxNights > 0 {
		b.WriteString(c.T("space.maxNights", s.MaxNights) + "\n")
	}
	if s.Rules != "" {
		b.WriteString(c.T("space.rules", s.Rules) + "\n")
	}
	if !s.Active {
		b.WriteString(c.T("space.inactive", s.Name) + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func checkAvailability(ctx context.Context, c *Call) (string, error) {
	id, err := c.Args.UUID("spaceId")
	if err != nil {
		return "", err
	}
	start, end, err := period(c.Args)
	if err != nil {
		return "", err
	}
	s, err := c.Backend.GetSpace(ctx, id)
	if err != nil {
		return "", err
	}
	free, err := c.Backend.IsAvailable(ctx, id, start, end)
	if err != nil {
		return "", err
	}
	from, to := start.Format(domain.DateLayout), end.Format(domain.DateLayout)
	if !free {
		return c.T("space.unavailable", s.Name, from, to), nil
	}
	nights := domain.NightsBetween(start, end)
	total := domain.FormatPrice(int64(nights)*s.PriceCents, s.Currency)
	if s.IsFree() {
		total = c.T("space.free")
	}
	return c.T("space.available", s.Name, from, to, nights, total), nil
}

func priceLine(c *Call, s domain.Space) string {
	if s.IsFree() {
		return c.T("space.free")
	}
	return c.T("space.pricePerNight", domain.FormatPrice(s.PriceCents, s.Currency))
}

func period(a Args) (time.Time, time.Time, error) {
	start, err := a.Date("startDate")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := a.Date("endDate")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, backend.Business("reservation.invalidPeriod")
	}
	return start, end, nil
}

// --- reservations ---

// startReservation only acknowledges; the router switches the conversation
// to the workflow when it sees a successful call.
func startReservation(_ context.Context, c *Call) (string, error) {
	if t := c.Args.String("spaceType"); t != "" {
		switch domain.SpaceType(strings.ToUpper(t)) {
		case domain.SpaceGuestRoom, domain.SpaceCommonRoom, domain.SpaceCoworking, domain.SpaceParking:
		default:
			return "", backend.Business("arg.invalidValue", "spaceType", t)
		}
	}
	return c.T("tool.workflowStarted"), nil
}

func createReservation(ctx context.Context, c *Call) (string, error) {
	id, err := c.Args.UUID("spaceId")
	if err != nil {
		return "", err
	}
	start, end, err := period(c.Args)
	if err != nil {
		return "", err
	}

	r, err := c.Backend.CreateReservation(ctx, domain.Reservation{
		SpaceID:   id,
		AccountID: c.Account.ID,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		return "", err
	}
	if r.IsFree() {
		if r, err = c.Backend.ConfirmReservation(ctx, r.ID); err != nil {
			return "", err
		}
		return c.T("reservation.confirmed", r.SpaceName, r.StartDate.Format(domain.DateLayout),
			r.EndDate.Format(domain.DateLayout), r.ID, c.ReservationLink(r.ID)), nil
	}
	return c.T("reservation.pending", r.SpaceName, r.StartDate.Format(domain.DateLayout),
		r.EndDate.Format(domain.DateLayout), domain.FormatPrice(r.TotalCents, r.Currency), r.ID), nil
}

func listMyReservations(ctx context.Context, c *Call) (string, error) {
	list, err := c.Backend.ListReservations(ctx, c.Account.ID)
	if err != nil {
		return "", err
	}
	status := domain.ReservationStatus(strings.ToUpper(c.Args.String("status")))

	var b strings.Builder
	for _, r := range list {
		if status != "" && r.Status != status {
			continue
		}
		b.WriteString(reservationLine(r) + "\n")
	}
	if b.Len() == 0 {
		return c.T("tool.noReservations"), nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func getReservationDetails(ctx context.Context, c *Call) (string, error) {
	id, err := c.Args.UUID("reservationId")
	if err != nil {
		return "", err
	}
	r, err := c.OwnReservation(ctx, id)
	if err != nil {
		return "", err
	}
	out := reservationLine(r)
	if link := c.ReservationLink(r.ID); link != "" {
		out += "\n" + link
	}
	return out, nil
}

func getAccessCode(ctx context.Context, c *Call) (string, error) {
	id, err := c.Args.UUID("reservationId")
	if err != nil {
		return "", err
	}
	r, err := c.OwnReservation(ctx, id)
	if err != nil {
		return "", err
	}
	if r.Status != domain.StatusConfirmed || r.AccessCode == "" {
		return "", backend.Business("reservation.notConfirmed", r.ID)
	}
	return c.T("reservation.accessCode", r.SpaceName, r.AccessCode, r.StartDate.Format(domain.DateLayout)), nil
}

func generatePaymentLink(ctx context.Context, c *Call) (string, error) {
	id, err := c.Args.UUID("reservationId")
	if err != nil {
		return "", err
	}
	r, err := c.OwnReservation(ctx, id)
	if err != nil {
		return "", err
	}
	ps, err := c.Backend.CreatePaymentSession(ctx, r)
	if err != nil {
		return "", err
	}
	return c.T("payment.link", domain.FormatPrice(ps.AmountCents, ps.Currency), ps.URL), nil
}

func reservationLine(r domain.Reservation) string {
	return fmt.Sprintf("- %s %s → %s (%d) %s %s id=%s",
		r.SpaceName, r.StartDate.Format(domain.DateLayout), r.EndDate.Format(domain.DateLayout),
		r.Nights(), r.Status, domain.FormatPrice(r.TotalCents, r.Currency), r.ID)
}

// --- directory ---

func getResidentInfo(ctx context.Context, c *Call) (string, error) {
	apartment := strings.ToUpper(c.Args.String("apartment"))
	floor := c.Args.String("floor")

	prefix := apartment
	if floor != "" {
		building, _, _ := strings.Cut(apartment, "-")
		if building == "" {
			return "", backend.Business("arg.required", "apartment")
		}
		prefix = building + "-" + floor
	}
	if prefix == "" {
		return "", backend.Business("arg.required", "apartment")
	}

	residents, err := c.Backend.ResidentsByUnit(ctx, prefix)
	if err != nil {
		return "", err
	}
	if len(residents) == 0 {
		return c.T("directory.noResident", prefix), nil
	}
	var b strings.Builder
	for _, a := range residents {
		fmt.Fprintf(&b, "- %s: %s\n", a.Unit, a.DisplayName)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func getEmergencyNumbers(ctx context.Context, c *Call) (string, error) {
	contacts, err := c.Backend.EmergencyContacts(ctx)
	if err != nil {
		return "", err
	}
	if len(contacts) == 0 {
		return c.T("directory.noContacts"), nil
	}
	var b strings.Builder
	for _, ct := range contacts {
		fmt.Fprintf(&b, "- %s (%s): %s", ct.Name, ct.Category, ct.Phone)
		if ct.Email != "" {
			b.WriteString(" " + ct.Email)
		}
		if ct.Notes != "" {
			b.WriteString(" " + ct.Notes)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func getInfos(ctx context.Context, c *Call) (string, error) {
	infos, err := c.Backend.BuildingInfos(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return c.T("directory.noInfos"), nil
	}
	var b strings.Builder
	for _, a := range infos {
		fmt.Fprintf(&b, "## %s\n%s\n\n", a.Title, strings.TrimSpace(a.Body))
	}
	return strings.TrimSpace(b.String()), nil
}

// --- admin ---

func adminGetUsers(ctx context.Context, c *Call) (string, error) {
	accounts, err := c.Backend.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, a := range accounts {
		fmt.Fprintf(&b, "- %s %s (%s) %s %s\n", a.Unit, a.DisplayName, a.Username, a.Role, a.Email)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func adminGetReservations(ctx context.Context, c *Call) (string, error) {
	list, err := c.Backend.ListAllReservations(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return c.T("tool.noReservations"), nil
	}
	var b strings.Builder
	for _, r := range list {
		b.WriteString(reservationLine(r) + " account=" + r.AccountID + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func adminGetSpaces(ctx context.Context, c *Call) (string, error) {
	spaces, err := c.Backend.ListAllSpaces(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, s := range spaces {
		fmt.Fprintf(&b, "- %s (%s) id=%s active=%t %s\n", s.Name, s.Type, s.ID, s.Active, priceLine(c, s))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
