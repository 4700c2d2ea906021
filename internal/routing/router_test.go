package routing

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/agent"
	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/prompt"
	"github.com/soyeahso/concierge/internal/store"
	"github.com/soyeahso/concierge/internal/tools"
	"github.com/soyeahso/concierge/internal/workflow"
)

const (
	aliceChat  = "@alice:neohoods.local"
	guestRoom1 = "6b1e9f4e-0c3a-4f57-8f0e-5d2b7a9c0001"
	tomorrow   = "2026-10-16"
)

// mockChannel is a test double for domain.Channel.
type mockChannel struct {
	id      string
	mu      sync.Mutex
	sent    []domain.OutboundMessage
	handler func(domain.InboundMessage)
}

func (m *mockChannel) ID() string                    { return m.id }
func (m *mockChannel) Start(_ context.Context) error { return nil }
func (m *mockChannel) Stop(_ context.Context) error  { return nil }
func (m *mockChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}
func (m *mockChannel) OnMessage(handler func(domain.InboundMessage)) { m.handler = handler }
func (m *mockChannel) Status() domain.ChannelStatus {
	return domain.ChannelStatus{ChannelID: m.id, Running: true}
}

func (m *mockChannel) Sent() []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboundMessage(nil), m.sent...)
}

// assistantModel plays the model: small talk outside the workflow, a
// reservation start when the resident wants to book, and well-formed
// step answers inside the workflow.
func assistantModel(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	user := last.Content
	var out string
	switch {
	case strings.Contains(req.System, "## Step: identify the space"):
		out = `{"status":"SWITCH_STEP","nextStep":"CHOOSE_SPACE"}`
	case strings.Contains(req.System, "## Step: choose the space"):
		if strings.Contains(user, "resource 7") {
			out = fmt.Sprintf(`{"status":"SWITCH_STEP","spaceId":%q}`, guestRoom1)
		} else {
			out = `{"status":"ASK_USER","response":"Which space would you like?"}`
		}
	case strings.Contains(req.System, "## Step: choose the period"):
		if strings.Contains(user, "tomorrow") {
			out = fmt.Sprintf(`{"status":"SWITCH_STEP","period":{"startDate":%q,"endDate":%q}}`, tomorrow, tomorrow)
		} else {
			out = `{"status":"ASK_USER","response":"For which dates?"}`
		}
	case last.Role == llm.RoleUser && strings.Contains(user, "book"):
		return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
			ID: "call-1", Name: tools.StartReservationTool, Input: `{"spaceType":"guest_room"}`,
		}}}, nil
	default:
		out = "Bonjour !"
	}
	return &llm.CompletionResponse{Content: out}, nil
}

type fixture struct {
	router   *Router
	channel  *mockChannel
	mock     *llm.MockClient
	db       *store.DB
	contexts *convctx.MemoryStore
	hooks    *hooks.Manager
	tr       *i18n.Translator
}

func newFixture(t *testing.T, complete func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error), cfg Config) *fixture {
	t.Helper()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	log := logging.Nop()

	db, err := store.Open(":memory:", log,
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
		Logger:      log,
	})
	mock := &llm.MockClient{CompleteFunc: complete}
	loop := agent.NewLoop(mock, exec, tr, nil, agent.Config{}, log)
	prompts, err := prompt.New(prompt.WithClock(clock))
	require.NoError(t, err)

	reg, err := workflow.NewRegistry(workflow.DefaultHandlers(workflow.StepDeps{
		Responder:   loop,
		Prompts:     prompts,
		Catalog:     catalog,
		Scope:       exec,
		Translator:  tr,
		FrontendURL: "https://app.example.org",
		Logger:      log,
	})...)
	require.NoError(t, err)

	ch := &mockChannel{id: "irc"}
	channels := channel.NewRegistry(log)
	channels.Register(ch)
	contexts := convctx.NewMemoryStore(0)
	hm := hooks.NewManager(log)

	r := NewRouter(Deps{
		Channels:   channels,
		Resolver:   auth.NewResolver(db, nil, log),
		Contexts:   contexts,
		Loop:       loop,
		Machine:    workflow.NewMachine(reg, tr, log),
		Prompts:    prompts,
		Catalog:    catalog,
		Translator: tr,
		Hooks:      hm,
	}, cfg, log)

	return &fixture{router: r, channel: ch, mock: mock, db: db, contexts: contexts, hooks: hm, tr: tr}
}

func dm(body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "msg-" + body,
		ChannelID: "irc",
		From:      aliceChat,
		ChatID:    "alice",
		ChatType:  domain.ChatTypeDM,
		Body:      body,
		Timestamp: time.Now(),
	}
}

func (f *fixture) reservations(t *testing.T) []domain.Reservation {
	t.Helper()
	tx, err := f.db.BeginTx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	list, err := tx.ListAllReservations(context.Background())
	require.NoError(t, err)
	return list
}

func TestRouter_HandleInbound_DM(t *testing.T) {
	f := newFixture(t, assistantModel, Config{})

	f.router.HandleInbound(context.Background(), dm("hello"))

	sent := f.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Bonjour !", sent[0].Body)
	assert.Equal(t, aliceChat, sent[0].To)
	assert.Equal(t, "msg-hello", sent[0].ReplyToID)

	conv, err := f.contexts.Load(context.Background(), "irc:alice")
	require.NoError(t, err)
	require.Len(t, conv.History, 2)
	assert.Equal(t, llm.RoleUser, conv.History[0].Role)
	assert.Equal(t, "Bonjour !", conv.History[1].Content)
}

func TestRouter_GroupReplyGoesToChat(t *testing.T) {
	f := newFixture(t, assistantModel, Config{})
	msg := dm("hello")
	msg.ChatType = domain.ChatTypeGroup
	msg.ChatID = "#residents"

	f.router.HandleInbound(context.Background(), msg)

	sent := f.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "#residents", sent[0].To)

	reqs := f.mock.Requests()
	require.NotEmpty(t, reqs)
	for _, d := range reqs[0].Tools {
		assert.NotEqual(t, tools.StartReservationTool, d.Name, "private tools are hidden in rooms")
	}
}

func TestRouter_EmptyMessageIgnored(t *testing.T) {
	f := newFixture(t, assistantModel, Config{})

	f.router.HandleInbound(context.Background(), dm("   "))

	assert.Empty(t, f.channel.Sent())
	assert.Zero(t, f.mock.Calls())
}

func TestRouter_ReservationEndToEnd(t *testing.T) {
	f := newFixture(t, assistantModel, Config{})
	var started atomic.Int32
	f.hooks.On(hooks.EventWorkflowStart, "test", func(_ context.Context, p hooks.Payload) error {
		started.Add(1)
		assert.Equal(t, "GUEST_ROOM", p.Data["spaceType"])
		return nil
	})
	ctx := context.Background()

	res := f.router.Handle(ctx, dm("I'd like to book a guest room"))
	require.NoError(t, res.Err)
	assert.True(t, res.Workflow)
	assert.Equal(t, convctx.StepChooseSpace, res.Step)
	assert.Equal(t, "Which space would you like?", res.Text)
	assert.Equal(t, int32(1), started.Load())

	res = f.router.Handle(ctx, dm("resource 7"))
	assert.Equal(t, convctx.StepChoosePeriod, res.Step)

	res = f.router.Handle(ctx, dm("tomorrow"))
	assert.Equal(t, convctx.StepConfirmSummary, res.Step)
	assert.Contains(t, res.Text, "45.00 EUR")
	assert.Empty(t, f.reservations(t))

	res = f.router.Handle(ctx, dm("yes"))
	require.NoError(t, res.Err)
	assert.Empty(t, res.Step)
	assert.Contains(t, res.Text, "https://pay.example.org/checkout/")

	list := f.reservations(t)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusPendingPayment, list[0].Status)

	conv, err := f.contexts.Load(ctx, "irc:alice")
	require.NoError(t, err)
	assert.False(t, conv.InWorkflow())
	assert.Equal(t, convctx.Slots{}, conv.Slots)
	assert.NotEmpty(t, conv.History)
}

func TestRouter_CancelEndsWorkflow(t *testing.T) {
	f := newFixture(t, assistantModel, Config{})
	ctx := context.Background()

	res := f.router.Handle(ctx, dm("I'd like to book a guest room"))
	require.Equal(t, convctx.StepChooseSpace, res.Step)

	calls := f.mock.Calls()
	res = f.router.Handle(ctx, dm("annuler"))
	assert.Empty(t, res.Step)
	assert.Equal(t, calls, f.mock.Calls())
	assert.Empty(t, f.reservations(t))
}

func TestRouter_Timeout(t *testing.T) {
	slow := func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f := newFixture(t, slow, Config{MessageTimeout: 20 * time.Millisecond})

	res := f.router.Handle(context.Background(), dm("hello"))

	assert.Equal(t, f.tr.T("fr", "assistant.timeout"), res.Text)
	assert.Error(t, res.Err)
}

func TestRouter_PanicRecovered(t *testing.T) {
	boom := func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		panic("boom")
	}
	f := newFixture(t, boom, Config{})

	f.router.HandleInbound(context.Background(), dm("hello"))

	sent := f.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, f.tr.T("fr", "assistant.generic"), sent[0].Body)

	conv, err := f.contexts.Load(context.Background(), "irc:alice")
	require.NoError(t, err)
	assert.Empty(t, conv.History)
}

func TestRouter_SerializesConversation(t *testing.T) {
	var inFlight, peak atomic.Int32
	model := func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return &llm.CompletionResponse{Content: "ok"}, nil
	}
	f := newFixture(t, model, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.router.Handle(context.Background(), dm(fmt.Sprintf("hello %d", i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	conv, err := f.contexts.Load(context.Background(), "irc:alice")
	require.NoError(t, err)
	assert.Len(t, conv.History, 10)
}

func TestRouter_HistoryTrimmed(t *testing.T) {
	f := newFixture(t, assistantModel, Config{MaxHistory: 4})

	for i := 0; i < 5; i++ {
		f.router.Handle(context.Background(), dm(fmt.Sprintf("hello %d", i)))
	}

	conv, err := f.contexts.Load(context.Background(), "irc:alice")
	require.NoError(t, err)
	require.Len(t, conv.History, 4)
	assert.Equal(t, llm.RoleUser, conv.History[0].Role)
	assert.Equal(t, "hello 3", conv.History[0].Content)
}

func TestRouter_WireDispatchesMessages(t *testing.T) {
	f := newFixture(t, assistantModel, Config{})
	var received atomic.Int32
	f.hooks.On(hooks.EventMessageReceived, "test", func(context.Context, hooks.Payload) error {
		received.Add(1)
		return nil
	})

	f.router.Wire()
	require.NotNil(t, f.channel.handler)
	f.channel.handler(dm("hello"))

	require.Eventually(t, func() bool { return len(f.channel.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), received.Load())
}

func TestRouter_WireKeepsConversationOrder(t *testing.T) {
	numbered := regexp.MustCompile(`message (\d+)`)
	var mu sync.Mutex
	var seen []string
	model := func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		m := numbered.FindStringSubmatch(req.Messages[len(req.Messages)-1].Content)
		if m == nil {
			return nil, fmt.Errorf("unexpected message %q", req.Messages[len(req.Messages)-1].Content)
		}
		n, _ := strconv.Atoi(m[1])
		// Earlier messages take longer, so any overtaking shows up.
		time.Sleep(time.Duration(5-n%5) * time.Millisecond)
		mu.Lock()
		seen = append(seen, m[0])
		mu.Unlock()
		return &llm.CompletionResponse{Content: "ack"}, nil
	}
	f := newFixture(t, model, Config{})
	f.router.Wire()
	require.NotNil(t, f.channel.handler)

	var want []string
	for i := 0; i < 20; i++ {
		body := fmt.Sprintf("message %d", i)
		want = append(want, body)
		f.channel.handler(dm(body))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.router.Wait(ctx))

	mu.Lock()
	assert.Equal(t, want, seen)
	mu.Unlock()

	sent := f.channel.Sent()
	require.Len(t, sent, len(want))
	for i, msg := range sent {
		assert.Equal(t, "msg-"+want[i], msg.ReplyToID)
	}
}

func TestRouter_SendTo(t *testing.T) {
	f := newFixture(t, assistantModel, Config{})

	require.NoError(t, f.router.SendTo(context.Background(), "irc", "#residents", "notice"))
	assert.Error(t, f.router.SendTo(context.Background(), "matrix", "#residents", "notice"))

	sent := f.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "notice", sent[0].Body)
}

func TestScopeMessage(t *testing.T) {
	group := domain.InboundMessage{ChannelID: "irc", From: "@bob:x", ChatID: "#hall", ChatType: domain.ChatTypeGroup}
	direct := domain.InboundMessage{ChannelID: "irc", From: "@bob:x", ChatID: "bob", ChatType: domain.ChatTypeDM}

	tests := []struct {
		name  string
		msg   domain.InboundMessage
		scope string
		want  string
	}{
		{"group per chat", group, ScopePerChat, "irc:#hall"},
		{"group per sender", group, ScopePerSender, "irc:#hall/@bob:x"},
		{"direct per sender", direct, ScopePerSender, "irc:bob"},
		{"unknown scope", group, "", "irc:#hall"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scopeMessage(tt.msg, tt.scope).ConversationID())
		})
	}
}
