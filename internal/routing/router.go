// Package routing connects messaging channels to the assistant: it resolves
// who is speaking, loads the conversation, runs either the reservation
// workflow or the free-form loop, and sends the answer back.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

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
	"github.com/soyeahso/concierge/internal/tools"
	"github.com/soyeahso/concierge/internal/workflow"
)

// Defaults applied when Config leaves them unset.
const (
	DefaultMessageTimeout = 2 * time.Minute
	DefaultMaxHistory     = 20
)

// Responder answers free-form messages.
type Responder interface {
	Respond(ctx context.Context, req agent.Request) agent.Reply
}

// Config tunes the router.
type Config struct {
	MessageTimeout time.Duration
	MaxHistory     int
	Scope          string // "per-chat" | "per-sender"
}

// Deps are the collaborators a Router dispatches to. Hooks may be nil.
type Deps struct {
	Channels   *channel.Registry
	Resolver   *auth.Resolver
	Contexts   convctx.Store
	Locker     *convctx.Locker
	Loop       Responder
	Machine    *workflow.Machine
	Prompts    *prompt.Assembler
	Catalog    *tools.Catalog
	Translator *i18n.Translator
	Hooks      *hooks.Manager
}

// Result is the router's answer to one inbound message.
type Result struct {
	ConversationID string
	Text           string
	Step           string // current workflow step after the message, "" outside a workflow
	Workflow       bool   // the workflow handled the message
	ToolCalls      int
	Duration       time.Duration
	Err            error
}

// Router routes inbound messages to the assistant and replies through the
// originating channel.
type Router struct {
	Deps
	cfg      Config
	log      *logging.Logger
	dispatch *dispatcher
}

// NewRouter creates a message router.
func NewRouter(deps Deps, cfg Config, log *logging.Logger) *Router {
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = DefaultMessageTimeout
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopePerChat
	}
	if deps.Locker == nil {
		deps.Locker = convctx.NewLocker()
	}
	r := &Router{
		Deps: deps,
		cfg:  cfg,
		log:  log.Sub("router"),
	}
	r.dispatch = newDispatcher(func(msg domain.InboundMessage) {
		r.HandleInbound(context.Background(), msg)
	})
	return r
}

// HandleInbound processes an inbound message from any channel and sends the
// answer back through the originating channel.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("chatId", msg.ChatID).
		Str("chatType", string(msg.ChatType)).
		Msg("routing inbound message")

	res := r.Handle(ctx, msg)
	if res.Text == "" {
		return
	}

	reply := domain.OutboundMessage{
		ChannelID: msg.ChannelID,
		To:        replyTarget(msg),
		Body:      res.Text,
		ReplyToID: msg.ID,
	}
	r.emit(ctx, hooks.EventMessageSending, map[string]any{
		"conversationId": res.ConversationID,
		"channel":        msg.ChannelID,
		"to":             reply.To,
	})

	if err := r.Channels.Send(ctx, reply); err != nil {
		r.log.Error().Err(err).
			Str("channel", msg.ChannelID).
			Str("to", reply.To).
			Msg("failed to send reply")
		return
	}

	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("to", reply.To).
		Str("conversationId", res.ConversationID).
		Str("step", res.Step).
		Dur("duration", res.Duration).
		Msg("reply sent")
}

// Handle answers one message. Messages of the same conversation are
// processed one at a time in arrival order; different conversations run in
// parallel. The returned Text is always set unless the message was empty.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) (res Result) {
	start := time.Now()
	routed := scopeMessage(msg, r.cfg.Scope)
	convID := routed.ConversationID()
	res.ConversationID = convID

	if strings.TrimSpace(msg.Body) == "" {
		return res
	}

	unlock := r.Locker.Lock(convID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.MessageTimeout)
	defer cancel()

	log := r.log.With("conversationId", convID)
	var ac auth.Context
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("panic", fmt.Sprint(p)).
				Str("stack", string(debug.Stack())).
				Msg("message handling panicked")
			res.Text = r.Translator.T(ac.Locale(), "assistant.generic")
			res.Err = fmt.Errorf("routing: panic: %v", p)
		}
		res.Duration = time.Since(start)
	}()

	ac = r.Resolver.Resolve(ctx, routed)

	r.emit(ctx, hooks.EventMessageReceived, map[string]any{
		"conversationId": convID,
		"channel":        msg.ChannelID,
		"from":           msg.From,
		"direct":         ac.IsDirect(),
	})

	conv, err := r.Contexts.Load(ctx, convID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load conversation context")
		res.Text = r.Translator.T(ac.Locale(), "assistant.generic")
		res.Err = err
		return res
	}

	if conv.InWorkflow() {
		r.runWorkflow(ctx, &res, conv, ac, msg.Body)
	} else {
		r.runFree(ctx, &res, conv, ac, msg.Body)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn().Dur("timeout", r.cfg.MessageTimeout).Msg("message timed out")
		res.Text = r.Translator.T(ac.Locale(), "assistant.timeout")
		if res.Err == nil {
			res.Err = ctx.Err()
		}
	}

	conv.TrimHistory(r.cfg.MaxHistory)
	// Tool effects may already be committed, so the context is stored even
	// when the deadline passed.
	if err := r.Contexts.Save(context.WithoutCancel(ctx), conv); err != nil {
		log.Error().Err(err).Msg("failed to save conversation context")
	}
	res.Step = conv.Step

	log.Debug().
		Str("step", res.Step).
		Bool("workflow", res.Workflow).
		Int("toolCalls", res.ToolCalls).
		Str("answer", logging.Truncate(res.Text, 500)).
		Msg("message handled")
	return res
}

// runFree answers with the orchestration loop and hands over to the
// workflow when the model starts a reservation.
func (r *Router) runFree(ctx context.Context, res *Result, conv *convctx.Context, ac auth.Context, body string) {
	visible := r.Catalog.Visible(ac.IsDirect(), ac.IsAdmin())
	req := agent.Request{
		UserMessage: body,
		History:     conv.History,
		Tools:       tools.DefinitionsOf(visible),
		System:      r.Prompts.Build(len(conv.History) == 0, ac, ""),
		Auth:        ac,
		Handoff:     []string{tools.StartReservationTool},
	}

	r.emit(ctx, hooks.EventBeforeAgentRun, map[string]any{
		"conversationId": conv.ConversationID,
		"tools":          len(req.Tools),
	})
	reply := r.Loop.Respond(ctx, req)
	r.emitCalls(ctx, conv.ConversationID, reply.Calls)
	r.emit(ctx, hooks.EventAfterAgentRun, map[string]any{
		"conversationId": conv.ConversationID,
		"depth":          reply.Depth,
		"toolCalls":      len(reply.Calls),
		"handoff":        reply.Handoff,
	})
	res.ToolCalls = len(reply.Calls)
	res.Err = reply.Err

	user := llm.Message{Role: llm.RoleUser, Content: body}
	if reply.Handoff != tools.StartReservationTool {
		conv.Append(user)
		if reply.Err != nil {
			conv.Append(llm.Message{Role: llm.RoleAssistant, Content: reply.Text})
		} else {
			conv.Append(reply.Messages...)
		}
		res.Text = reply.Text
		return
	}

	call, _ := reply.Succeeded(tools.StartReservationTool)
	r.Machine.Start(conv, spaceTypeOf(call.Input), ac.Locale())
	r.log.Info().
		Str("conversationId", conv.ConversationID).
		Str("spaceType", conv.Slots.SpaceType).
		Msg("reservation workflow started")
	r.emit(ctx, hooks.EventWorkflowStart, map[string]any{
		"conversationId": conv.ConversationID,
		"spaceType":      conv.Slots.SpaceType,
	})

	out := r.Machine.Handle(ctx, workflow.Input{Message: body, Auth: ac, Conv: conv})
	conv.Append(user)
	conv.Append(reply.Messages...)
	conv.Append(llm.Message{Role: llm.RoleAssistant, Content: out.Text})
	res.Workflow = true
	res.Text = out.Text
	if out.Err != nil {
		res.Err = out.Err
	}
}

func (r *Router) runWorkflow(ctx context.Context, res *Result, conv *convctx.Context, ac auth.Context, body string) {
	out := r.Machine.Handle(ctx, workflow.Input{Message: body, Auth: ac, Conv: conv})
	conv.Append(
		llm.Message{Role: llm.RoleUser, Content: body},
		llm.Message{Role: llm.RoleAssistant, Content: out.Text},
	)
	res.Workflow = true
	res.Text = out.Text
	res.Err = out.Err
}

func (r *Router) emitCalls(ctx context.Context, convID string, calls []agent.CallRecord) {
	for _, c := range calls {
		r.emit(ctx, hooks.EventToolExecuted, map[string]any{
			"conversationId": convID,
			"tool":           c.Name,
			"isError":        c.Result.IsError,
			"depth":          c.Depth,
		})
	}
}

func (r *Router) emit(ctx context.Context, event string, data map[string]any) {
	if r.Hooks != nil {
		r.Hooks.Emit(ctx, event, data)
	}
}

// spaceTypeOf reads the optional spaceType argument of a workflow start.
func spaceTypeOf(input string) string {
	var args struct {
		SpaceType string `json:"spaceType"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return ""
	}
	return args.SpaceType
}

// Wire registers the router as the message handler on all channels. The
// channel callback only queues the message under its conversation; each
// conversation is then handled by one worker in arrival order while
// separate conversations run in parallel.
func (r *Router) Wire() {
	for _, id := range r.Channels.List() {
		ch, ok := r.Channels.Get(id)
		if !ok {
			continue
		}
		ch.OnMessage(r.Dispatch)
		r.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}

// Dispatch queues msg behind the earlier messages of its conversation and
// returns without waiting for it to be handled.
func (r *Router) Dispatch(msg domain.InboundMessage) {
	r.dispatch.enqueue(scopeMessage(msg, r.cfg.Scope).ConversationID(), msg)
}

// Wait blocks until every dispatched message has been handled or ctx is
// done.
func (r *Router) Wait(ctx context.Context) error {
	return r.dispatch.wait(ctx)
}

// replyTarget determines where to send the response.
func replyTarget(msg domain.InboundMessage) string {
	switch msg.ChatType {
	case domain.ChatTypeDM:
		return msg.From
	default:
		return msg.ChatID
	}
}

// SendTo sends a message to a specific channel.
func (r *Router) SendTo(ctx context.Context, channelID, target, body string) error {
	return r.Channels.Send(ctx, domain.OutboundMessage{
		ChannelID: channelID,
		To:        target,
		Body:      body,
	})
}
