package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/agent"
	"github.com/soyeahso/concierge/internal/backend"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/prompt"
	"github.com/soyeahso/concierge/internal/tools"
)

// Responder runs a structured model turn.
type Responder interface {
	RespondStructured(ctx context.Context, req agent.Request) (string, agent.Reply)
}

// Scoper runs backend work in a transaction settled by error class, and
// localizes the errors it returns.
type Scoper interface {
	InScope(ctx context.Context, fn func(ctx context.Context, b backend.Backend) error) error
	Message(locale string, err error) string
}

// StepDeps wires the built-in handlers.
type StepDeps struct {
	Responder   Responder
	Prompts     *prompt.Assembler
	Catalog     *tools.Catalog
	Scope       Scoper
	Translator  *i18n.Translator
	FrontendURL string
	Logger      *logging.Logger
}

// DefaultHandlers returns one handler per reservation step.
func DefaultHandlers(d StepDeps) []Handler {
	b := base{d: d, log: d.Logger.Sub("workflow.steps")}
	return []Handler{
		&modelStep{base: b, step: convctx.StepRequestSpaceInfo},
		&modelStep{base: b, step: convctx.StepChooseSpace},
		&modelStep{base: b, step: convctx.StepChoosePeriod},
		&confirmStep{base: b},
		&completeStep{base: b},
		&paymentStep{base: b},
	}
}

type base struct {
	d   StepDeps
	log *logging.Logger
}

func (b base) t(in StepInput, key string, args ...any) string {
	return b.d.Translator.T(in.Locale, key, args...)
}

func (b base) cancelled(in StepInput) (Response, bool) {
	if !IsCancel(in.Message) {
		return Response{}, false
	}
	return Response{Status: StatusCancel, Message: b.t(in, "workflow.cancelled")}, true
}

func (b base) fail(in StepInput, key string, args ...any) Response {
	return Response{Status: StatusError, Message: b.t(in, key, args...)}
}

func (b base) failErr(in StepInput, err error) Response {
	return Response{Status: StatusError, Message: b.d.Scope.Message(in.Locale, err)}
}

// --- model steps ---

type modelStep struct {
	base
	step string
}

func (s *modelStep) Step() string      { return s.step }
func (s *modelStep) BackendOnly() bool { return false }

func (s *modelStep) Handle(ctx context.Context, in StepInput) Response {
	if r, ok := s.cancelled(in); ok {
		return r
	}
	if err := Requires(s.step, *in.Slots); err != nil {
		s.log.Warn().Err(err).Msg("step entered without its data")
		return s.fail(in, "workflow.missingData")
	}

	raw, reply := s.d.Responder.RespondStructured(ctx, agent.Request{
		UserMessage: in.Message,
		History:     in.History,
		Tools:       s.d.Catalog.Definitions(prompt.StepTools(s.step)...),
		System:      s.d.Prompts.BuildStep(in.Auth, s.step, *in.Slots),
		Auth:        in.Auth,
	})
	if reply.Err != nil {
		return Response{Status: StatusError, Message: reply.Text}
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("step", s.step).Str("raw", logging.Truncate(raw, 300)).Msg("unreadable step answer")
		return s.fail(in, "workflow.unreadable")
	}

	switch resp.Status {
	case StatusCompleted, StatusSwitchStep:
		// A model step never ends the workflow; finishing it means
		// moving on.
		resp.Status = StatusSwitchStep
		merged := *in.Slots
		merge(&merged, resp)
		if resp.NextStep == "" {
			resp.NextStep = successor(s.step, merged)
		}
		if r, ok := s.validate(ctx, in, resp, merged, true); !ok {
			return r
		}
	case StatusAskUser, StatusRetry, StatusAnswerUser:
		// What the model noted while asking is kept, so it is checked the
		// same way.
		merged := *in.Slots
		merge(&merged, resp)
		if r, ok := s.validate(ctx, in, resp, merged, false); !ok {
			return r
		}
	case StatusError:
		if resp.Message == "" {
			resp.Message = s.t(in, "workflow.unreadable")
		}
	}
	return resp
}

// validate checks what the model collected before the machine acts on it.
// finishing means the step is done and its own slot must be filled.
func (s *modelStep) validate(ctx context.Context, in StepInput, resp Response, slots convctx.Slots, finishing bool) (Response, bool) {
	if finishing {
		if s.step == convctx.StepChooseSpace && slots.ResourceID == "" {
			return s.fail(in, "workflow.missingData"), false
		}
		if s.step == convctx.StepChoosePeriod && !slots.Period.Complete() {
			return s.fail(in, "workflow.missingData"), false
		}
	}
	if !validPeriodFields(resp.Period) {
		return s.fail(in, "reservation.invalidPeriod"), false
	}
	if slots.Period.Complete() {
		if _, _, err := slots.Period.Dates(); err != nil {
			return s.fail(in, "reservation.invalidPeriod"), false
		}
	}
	if resp.ResourceID != "" || (finishing && s.step == convctx.StepChooseSpace) {
		err := s.d.Scope.InScope(ctx, func(ctx context.Context, b backend.Backend) error {
			sp, err := b.GetSpace(ctx, slots.ResourceID)
			if err != nil {
				return err
			}
			if !sp.Active {
				return backend.Business("space.inactive", sp.Name)
			}
			return nil
		})
		if err != nil {
			return s.failErr(in, err), false
		}
	}
	return Response{}, true
}

// validPeriodFields reports whether every field set in p parses.
func validPeriodFields(p convctx.Period) bool {
	for _, d := range []string{p.StartDate, p.EndDate} {
		if _, err := time.Parse(domain.DateLayout, d); d != "" && err != nil {
			return false
		}
	}
	for _, c := range []string{p.StartTime, p.EndTime} {
		if _, err := time.Parse("15:04", c); c != "" && err != nil {
			return false
		}
	}
	return true
}

// --- backend steps ---

type confirmStep struct{ base }

func (s *confirmStep) Step() string      { return convctx.StepConfirmSummary }
func (s *confirmStep) BackendOnly() bool { return true }

func (s *confirmStep) Handle(ctx context.Context, in StepInput) Response {
	if r, ok := s.cancelled(in); ok {
		return r
	}
	if in.Slots.SummaryShown {
		if step, ok := changeTarget(in.Message); ok {
			in.Slots.SummaryShown = false
			return Response{Status: StatusSwitchStep, NextStep: step}
		}
		if isAffirmative(in.Message) {
			return Response{
				Status:          StatusSwitchStep,
				NextStep:        convctx.StepCompleteReservation,
				InternalMessage: in.Message,
			}
		}
		return Response{Status: StatusAskUser, Message: s.t(in, "workflow.confirmQuestion")}
	}

	start, end, err := in.Slots.Period.Dates()
	if err != nil || in.Slots.ResourceID == "" {
		return s.fail(in, "workflow.missingData")
	}

	var summary, refusal string
	err = s.d.Scope.InScope(ctx, func(ctx context.Context, b backend.Backend) error {
		sp, err := b.GetSpace(ctx, in.Slots.ResourceID)
		if err != nil {
			return err
		}
		nights := domain.NightsBetween(start, end)
		if sp.MaxNights > 0 && nights > sp.MaxNights {
			refusal = s.t(in, "space.tooLong", sp.Name, sp.MaxNights)
			return nil
		}
		free, err := b.IsAvailable(ctx, sp.ID, start, end)
		if err != nil {
			return err
		}
		if !free {
			refusal = s.t(in, "space.unavailable", sp.Name, in.Slots.Period.StartDate, in.Slots.Period.EndDate)
			return nil
		}
		summary = s.summary(in, sp, nights)
		return nil
	})
	if err != nil {
		return s.failErr(in, err)
	}

	if refusal != "" {
		in.Slots.Period = convctx.Period{}
		return Response{
			Status:   StatusAskUser,
			Message:  refusal + "\n\n" + s.t(in, "workflow.askPeriod"),
			NextStep: convctx.StepChoosePeriod,
		}
	}
	in.Slots.SummaryShown = true
	return Response{Status: StatusAskUser, Message: summary}
}

func (s *confirmStep) summary(in StepInput, sp domain.Space, nights int) string {
	p := in.Slots.Period
	at := func(date, clock string) string {
		if clock == "" {
			return date
		}
		return date + " " + clock
	}
	price := s.t(in, "space.free")
	if !sp.IsFree() {
		price = domain.FormatPrice(sp.PriceCents*int64(nights), sp.Currency)
	}
	lines := []string{
		s.t(in, "workflow.summary"),
		"",
		s.t(in, "workflow.summarySpace", sp.Name),
		s.t(in, "workflow.summaryStart", at(p.StartDate, p.StartTime)),
		s.t(in, "workflow.summaryEnd", at(p.EndDate, p.EndTime)),
		s.t(in, "workflow.summaryPrice", price),
		"",
		s.t(in, "workflow.confirmQuestion"),
	}
	return strings.Join(lines, "\n")
}

type completeStep struct{ base }

func (s *completeStep) Step() string      { return convctx.StepCompleteReservation }
func (s *completeStep) BackendOnly() bool { return true }

func (s *completeStep) Handle(ctx context.Context, in StepInput) Response {
	if r, ok := s.cancelled(in); ok {
		return r
	}
	if in.Slots.ReservationCreated && in.Slots.ReservationID != "" {
		return s.done(in)
	}

	acct, ok := in.Auth.Account()
	if !ok {
		return s.fail(in, "account.notFound")
	}
	start, end, err := in.Slots.Period.Dates()
	if err != nil || in.Slots.ResourceID == "" {
		return s.fail(in, "workflow.missingData")
	}

	var r domain.Reservation
	err = s.d.Scope.InScope(ctx, func(ctx context.Context, b backend.Backend) error {
		created, err := b.CreateReservation(ctx, domain.Reservation{
			SpaceID:   in.Slots.ResourceID,
			AccountID: acct.ID,
			StartDate: start,
			EndDate:   end,
		})
		if err != nil {
			return err
		}
		if created.IsFree() {
			if created, err = b.ConfirmReservation(ctx, created.ID); err != nil {
				return err
			}
		}
		r = created
		return nil
	})
	if err != nil {
		return s.failErr(in, err)
	}

	s.log.Info().Str("reservationId", r.ID).Str("status", string(r.Status)).Msg("reservation created")
	in.Slots.ReservationID = r.ID
	in.Slots.ReservationCreated = true
	in.Slots.PaymentRequired = r.Status == domain.StatusPendingPayment
	return s.done(in)
}

// done answers for a reservation already recorded in the slots.
func (s *completeStep) done(in StepInput) Response {
	id := in.Slots.ReservationID
	msg := s.t(in, "workflow.created") + "\n\n" + s.t(in, "workflow.reference", id)
	if s.d.FrontendURL != "" {
		msg += "\n\n[" + s.t(in, "workflow.viewLink") + "](" + s.d.FrontendURL + "/spaces/reservations/" + id + ")"
	}
	if in.Slots.PaymentRequired {
		return Response{Status: StatusSwitchStep, NextStep: convctx.StepPaymentInstructions, Message: msg}
	}
	return Response{Status: StatusCompleted, Message: msg}
}

type paymentStep struct{ base }

func (s *paymentStep) Step() string      { return convctx.StepPaymentInstructions }
func (s *paymentStep) BackendOnly() bool { return true }

func (s *paymentStep) Handle(ctx context.Context, in StepInput) Response {
	if r, ok := s.cancelled(in); ok {
		return r
	}
	id := in.Slots.ReservationID
	if id == "" {
		return s.fail(in, "workflow.missingReservation")
	}
	acct, ok := in.Auth.Account()
	if !ok {
		return s.fail(in, "account.notFound")
	}

	var ps domain.PaymentSession
	err := s.d.Scope.InScope(ctx, func(ctx context.Context, b backend.Backend) error {
		r, err := b.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.AccountID != acct.ID {
			return backend.Business("reservation.noAccess")
		}
		ps, err = b.CreatePaymentSession(ctx, r)
		return err
	})
	if err != nil {
		return s.failErr(in, err)
	}

	msg := s.t(in, "workflow.paymentInstructions", domain.FormatPrice(ps.AmountCents, ps.Currency)) +
		"\n\n" + ps.URL + "\n\n" + s.t(in, "workflow.paymentNote")
	return Response{Status: StatusAnswerUser, Message: msg}
}
