package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/agent"
	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/prompt"
	"github.com/soyeahso/concierge/internal/store"
	"github.com/soyeahso/concierge/internal/tools"
)

const (
	aliceChat  = "@alice:neohoods.local"
	guestRoom1 = "6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0001"
	commonRoom = "6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0003"
	tomorrow   = "2026-10-16"
)

type harness struct {
	db      *store.DB
	mock    *llm.MockClient
	machine *Machine
	tr      *i18n.Translator
	alice   auth.Context
}

// scriptedModel answers each step the way a well-behaved model would.
func scriptedModel(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	user := req.Messages[len(req.Messages)-1].Content
	var out string
	switch {
	case strings.Contains(req.System, "## Step: identify the space"):
		out = `{"status":"SWITCH_STEP","nextStep":"CHOOSE_SPACE","response":"Let's pick a space."}`
	case strings.Contains(req.System, "## Step: choose the space"):
		switch {
		case strings.Contains(user, "resource 7"):
			out = fmt.Sprintf(`{"status":"SWITCH_STEP","spaceId":%q,"response":"Guest room 1."}`, guestRoom1)
		case strings.Contains(user, "resource 99"):
			out = `{"status":"SWITCH_STEP","spaceId":"00000000-0000-0000-0000-000000000099"}`
		case strings.Contains(user, "resource 42 maybe"):
			out = `{"status":"ASK_USER","spaceId":"00000000-0000-0000-0000-000000000042","response":"Shall I take that one?"}`
		default:
			out = `{"status":"ASK_USER","response":"Which space would you like?"}`
		}
	case strings.Contains(req.System, "## Step: choose the period"):
		switch {
		case strings.Contains(user, "tomorrow"):
			out = fmt.Sprintf(`{"status":"SWITCH_STEP","period":{"startDate":%q,"endDate":%q}}`, tomorrow, tomorrow)
		case strings.Contains(user, "the 45th"):
			out = `{"status":"ASK_USER","period":{"startDate":"2026-13-45"},"response":"Until when?"}`
		default:
			out = `{"status":"ASK_USER","response":"For which dates?"}`
		}
	default:
		return nil, fmt.Errorf("unexpected prompt")
	}
	return &llm.CompletionResponse{Content: out}, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	db, err := store.Open(":memory:", logging.Nop(),
		store.WithClock(clock),
		store.WithCheckoutURL("https://pay.example.org/checkout"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	seed, err := store.DemoSeed()
	require.NoError(t, err)
	_, err = db.ApplySeed(context.Background(), seed)
	require.NoError(t, err)

	tr := i18n.MustNew("fr")
	catalog, err := tools.DefaultCatalog()
	require.NoError(t, err)
	exec := tools.NewExecutor(tools.ExecutorConfig{
		Catalog:     catalog,
		Transactor:  db,
		Translator:  tr,
		FrontendURL: "https://app.example.org",
		Logger:      logging.Nop(),
	})
	mock := &llm.MockClient{CompleteFunc: scriptedModel}
	loop := agent.NewLoop(mock, exec, tr, nil, agent.Config{}, logging.Nop())
	prompts, err := prompt.New(prompt.WithClock(clock))
	require.NoError(t, err)

	reg, err := NewRegistry(DefaultHandlers(StepDeps{
		Responder:   loop,
		Prompts:     prompts,
		Catalog:     catalog,
		Scope:       exec,
		Translator:  tr,
		FrontendURL: "https://app.example.org",
		Logger:      logging.Nop(),
	})...)
	require.NoError(t, err)

	acct, err := db.FindAccountByChatID(context.Background(), aliceChat)
	require.NoError(t, err)

	return &harness{
		db:      db,
		mock:    mock,
		machine: NewMachine(reg, tr, logging.Nop()),
		tr:      tr,
		alice:   auth.New(aliceChat, "!dm-alice", true, &acct),
	}
}

func (h *harness) send(conv *convctx.Context, msg string) Outcome {
	return h.machine.Handle(context.Background(), Input{Message: msg, Auth: h.alice, Conv: conv})
}

func (h *harness) reservations(t *testing.T) []domain.Reservation {
	t.Helper()
	tx, err := h.db.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	list, err := tx.ListAllReservations(context.Background())
	require.NoError(t, err)
	return list
}

func TestWorkflow_EndToEndPaidReservation(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	h.machine.Start(conv, "GUEST_ROOM", "fr")

	out := h.send(conv, "I'd like to book a guest room")
	assert.Equal(t, StatusAskUser, out.Status)
	assert.Equal(t, convctx.StepChooseSpace, out.Step)

	out = h.send(conv, "resource 7")
	assert.Equal(t, StatusAskUser, out.Status)
	assert.Equal(t, convctx.StepChoosePeriod, out.Step)
	assert.Equal(t, guestRoom1, conv.Slots.ResourceID)

	out = h.send(conv, "tomorrow")
	assert.Equal(t, convctx.StepConfirmSummary, out.Step)
	assert.True(t, conv.Slots.SummaryShown)
	assert.Contains(t, out.Text, "Chambre d'amis 1")
	assert.Contains(t, out.Text, "45.00 EUR")
	assert.Contains(t, out.Text, tomorrow)
	assert.Empty(t, h.reservations(t))

	out = h.send(conv, "yes")
	require.NoError(t, out.Err)
	assert.Equal(t, StatusAnswerUser, out.Status)
	assert.Contains(t, out.Text, h.tr.T("fr", "workflow.created"))
	assert.Contains(t, out.Text, "https://pay.example.org/checkout/")

	list := h.reservations(t)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusPendingPayment, list[0].Status)
	assert.Equal(t, guestRoom1, list[0].SpaceID)
	assert.Contains(t, out.Text, "/spaces/reservations/"+list[0].ID)

	assert.False(t, conv.InWorkflow())
	assert.Equal(t, convctx.Slots{}, conv.Slots)
}

func TestWorkflow_FreeReservationCompletes(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepConfirmSummary
	conv.Slots = convctx.Slots{
		ResourceID:   commonRoom,
		Period:       convctx.Period{StartDate: tomorrow, EndDate: tomorrow},
		SummaryShown: true,
	}

	out := h.send(conv, "oui")

	assert.Equal(t, StatusCompleted, out.Status)
	list := h.reservations(t)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusConfirmed, list[0].Status)
	assert.False(t, conv.InWorkflow())
	assert.Zero(t, h.mock.Calls())
}

func TestWorkflow_CompleteIsIdempotent(t *testing.T) {
	h := newHarness(t)
	step := &completeStep{base: base{d: StepDeps{Translator: h.tr, FrontendURL: "https://app.example.org"}, log: logging.Nop()}}
	slots := &convctx.Slots{
		ResourceID:         guestRoom1,
		Period:             convctx.Period{StartDate: tomorrow, EndDate: tomorrow},
		ReservationID:      "already-there",
		ReservationCreated: true,
		PaymentRequired:    true,
	}

	resp := step.Handle(context.Background(), StepInput{Message: "yes", Auth: h.alice, Slots: slots, Locale: "fr"})

	assert.Equal(t, StatusSwitchStep, resp.Status)
	assert.Equal(t, convctx.StepPaymentInstructions, resp.NextStep)
	assert.Contains(t, resp.Message, "already-there")
	assert.Empty(t, h.reservations(t))
}

func TestWorkflow_CancelClearsContext(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepChoosePeriod
	conv.Slots.ResourceID = guestRoom1

	out := h.send(conv, "Non finalement, on annule")

	assert.Equal(t, StatusCancel, out.Status)
	assert.Equal(t, h.tr.T("fr", "workflow.cancelled"), out.Text)
	assert.False(t, conv.InWorkflow())
	assert.Zero(t, h.mock.Calls())
}

func TestWorkflow_UnknownSpaceKeepsStep(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepChooseSpace

	out := h.send(conv, "resource 99")

	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, convctx.StepChooseSpace, conv.Step)
	assert.Empty(t, conv.Slots.ResourceID)
}

func TestWorkflow_UnavailablePeriodAsksAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx, err := h.db.BeginTx(ctx)
	require.NoError(t, err)
	day, _ := time.Parse(domain.DateLayout, tomorrow)
	_, err = tx.CreateReservation(ctx, domain.Reservation{
		SpaceID: guestRoom1, AccountID: "3f0c1a52-8d2e-4d7a-9a51-0b6c7e1d2a02", StartDate: day, EndDate: day,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepChoosePeriod
	conv.Slots.ResourceID = guestRoom1

	out := h.send(conv, "tomorrow")

	assert.Equal(t, StatusAskUser, out.Status)
	assert.Equal(t, convctx.StepChoosePeriod, conv.Step)
	assert.True(t, conv.Slots.Period.IsZero())
	assert.False(t, conv.Slots.SummaryShown)
}

func TestWorkflow_SummaryWaitsForConfirmation(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepConfirmSummary
	conv.Slots = convctx.Slots{
		ResourceID:   guestRoom1,
		Period:       convctx.Period{StartDate: tomorrow, EndDate: "2026-10-18"},
		SummaryShown: true,
	}

	out := h.send(conv, "hmm, let me think")

	assert.Equal(t, StatusAskUser, out.Status)
	assert.Equal(t, h.tr.T("fr", "workflow.confirmQuestion"), out.Text)
	assert.Equal(t, convctx.StepConfirmSummary, conv.Step)
	assert.Empty(t, h.reservations(t))
}

func TestWorkflow_RefusedSummaryCreatesNothing(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	h.machine.Start(conv, "GUEST_ROOM", "fr")
	h.send(conv, "I'd like to book a guest room")
	h.send(conv, "resource 7")
	out := h.send(conv, "tomorrow")
	require.Equal(t, convctx.StepConfirmSummary, out.Step)

	for _, msg := range []string{"no, I'm not sure", "non, pas ok", "no I don't want to go", "ok?"} {
		out = h.send(conv, msg)
		assert.Equal(t, StatusAskUser, out.Status, msg)
		assert.Equal(t, convctx.StepConfirmSummary, conv.Step, msg)
		assert.True(t, conv.Slots.SummaryShown, msg)
	}
	assert.Empty(t, h.reservations(t))
	assert.False(t, conv.Slots.ReservationCreated)
}

func TestWorkflow_SummaryChangeGoesBackToPeriod(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepConfirmSummary
	conv.Slots = convctx.Slots{
		ResourceID:   guestRoom1,
		Period:       convctx.Period{StartDate: tomorrow, EndDate: "2026-10-18"},
		SummaryShown: true,
	}

	out := h.send(conv, "je voudrais changer la date")

	assert.Equal(t, StatusAskUser, out.Status)
	assert.Equal(t, convctx.StepChoosePeriod, conv.Step)
	assert.Equal(t, guestRoom1, conv.Slots.ResourceID)
	assert.False(t, conv.Slots.SummaryShown)
	assert.Empty(t, h.reservations(t))

	out = h.send(conv, "tomorrow")

	assert.Equal(t, convctx.StepConfirmSummary, out.Step)
	assert.True(t, conv.Slots.SummaryShown)
	assert.Equal(t, tomorrow, conv.Slots.Period.EndDate)
	assert.Empty(t, h.reservations(t))
}

func TestWorkflow_SummaryChangeGoesBackToSpace(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepConfirmSummary
	conv.Slots = convctx.Slots{
		ResourceID:   guestRoom1,
		Period:       convctx.Period{StartDate: tomorrow, EndDate: tomorrow},
		SummaryShown: true,
	}

	out := h.send(conv, "une autre salle s'il vous plaît")

	assert.Equal(t, StatusAskUser, out.Status)
	assert.Equal(t, convctx.StepChooseSpace, conv.Step)
	assert.Equal(t, "Which space would you like?", out.Text)
	assert.Empty(t, h.reservations(t))
}

func TestWorkflow_QuestionAboutCancellingKeepsWorkflow(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepChooseSpace

	out := h.send(conv, "Is there a cancellation policy?")

	assert.Equal(t, StatusAskUser, out.Status)
	assert.True(t, conv.InWorkflow())
	assert.Equal(t, convctx.StepChooseSpace, conv.Step)
	assert.Equal(t, 1, h.mock.Calls())
}

func TestWorkflow_AskUserWithUnknownSpaceRejected(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepChooseSpace

	out := h.send(conv, "resource 42 maybe")

	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, convctx.StepChooseSpace, conv.Step)
	assert.Empty(t, conv.Slots.ResourceID)
}

func TestWorkflow_AskUserWithInvalidDateRejected(t *testing.T) {
	h := newHarness(t)
	conv := convctx.New("!dm-alice")
	conv.Step = convctx.StepChoosePeriod
	conv.Slots.ResourceID = guestRoom1

	out := h.send(conv, "from the 45th")

	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, h.tr.T("fr", "reservation.invalidPeriod"), out.Text)
	assert.Equal(t, convctx.StepChoosePeriod, conv.Step)
	assert.True(t, conv.Slots.Period.IsZero())
}

func TestValidPeriodFields(t *testing.T) {
	assert.True(t, validPeriodFields(convctx.Period{}))
	assert.True(t, validPeriodFields(convctx.Period{StartDate: tomorrow, StartTime: "14:30"}))
	assert.False(t, validPeriodFields(convctx.Period{StartDate: "2026-13-45"}))
	assert.False(t, validPeriodFields(convctx.Period{EndDate: tomorrow, EndTime: "25:00"}))
}
