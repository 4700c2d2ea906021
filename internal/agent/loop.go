// Package agent runs the model conversation for one resident message: it
// sends the prompt, executes the tools the model asks for in bounded
// rounds, and checks the final answer before it reaches the resident.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/tools"
)

// DefaultMaxChainDepth bounds tool rounds per turn when unconfigured.
const DefaultMaxChainDepth = 5

// ErrProtocol reports a tool round whose results do not pair one to one
// with the model's calls.
var ErrProtocol = errors.New("agent: tool call/result mismatch")

// Executor runs one tool call from raw JSON arguments.
type Executor interface {
	ExecuteJSON(ctx context.Context, name, raw string, ac auth.Context) tools.Result
}

// Retriever returns reference text relevant to a query, or "".
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Config tunes the loop.
type Config struct {
	MaxChainDepth int
	MaxTokens     int
	Temperature   *float64
}

// Request is one turn.
type Request struct {
	UserMessage string
	History     []llm.Message
	Tools       []llm.ToolDefinition
	System      string
	Auth        auth.Context
	// Handoff names tools that end the turn as soon as one succeeds.
	Handoff []string
}

// CallRecord is one executed tool call.
type CallRecord struct {
	ID     string
	Name   string
	Input  string
	Result tools.Result
	Depth  int
}

// Reply is the outcome of a turn. Err is set for protocol and provider
// failures; Text then holds the localized apology.
type Reply struct {
	Text     string
	Calls    []CallRecord
	Depth    int
	Messages []llm.Message // assistant and tool messages produced this turn
	Handoff  string
	Err      error
}

// Succeeded reports whether the named tool ran without error this turn.
func (r Reply) Succeeded(name string) (CallRecord, bool) {
	for _, c := range r.Calls {
		if c.Name == name && !c.Result.IsError {
			return c, true
		}
	}
	return CallRecord{}, false
}

// Loop is the orchestration loop. It is safe for concurrent use.
type Loop struct {
	client    llm.Client
	exec      Executor
	tr        *i18n.Translator
	retriever Retriever
	cfg       Config
	log       *logging.Logger
}

// NewLoop creates a loop. retriever may be nil.
func NewLoop(client llm.Client, exec Executor, tr *i18n.Translator, retriever Retriever, cfg Config, log *logging.Logger) *Loop {
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = DefaultMaxChainDepth
	}
	return &Loop{
		client:    client,
		exec:      exec,
		tr:        tr,
		retriever: retriever,
		cfg:       cfg,
		log:       log.Sub("agent"),
	}
}

// MaxChainDepth returns the configured bound.
func (l *Loop) MaxChainDepth() int {
	return l.cfg.MaxChainDepth
}

type turn struct {
	req        Request
	format     llm.Format
	system     string
	provenance strings.Builder
	messages   []llm.Message
	reply      Reply
	log        *logging.Logger
}

// Respond answers a free-form resident message.
func (l *Loop) Respond(ctx context.Context, req Request) Reply {
	t := l.newTurn(ctx, req, llm.FormatText)
	choice := ToolChoiceFor(req.UserMessage, len(req.Tools) > 0)
	l.chain(ctx, t, choice, true)
	return t.reply
}

// RespondStructured runs the same chain in JSON mode and returns the JSON
// object the model produced. Answer guardrails do not apply.
func (l *Loop) RespondStructured(ctx context.Context, req Request) (string, Reply) {
	t := l.newTurn(ctx, req, llm.FormatJSON)
	choice := llm.ToolChoiceAuto
	if len(req.Tools) == 0 {
		choice = llm.ToolChoiceNone
	}
	l.chain(ctx, t, choice, false)
	if t.reply.Err != nil {
		return "", t.reply
	}
	return extractJSON(t.reply.Text), t.reply
}

func (l *Loop) newTurn(ctx context.Context, req Request, format llm.Format) *turn {
	t := &turn{
		req:    req,
		format: format,
		system: req.System,
		log:    l.log.With("conversationId", req.Auth.ConversationID()),
	}

	for _, m := range req.History {
		if m.Role == llm.RoleTool || m.Role == llm.RoleUser {
			t.provenance.WriteString(m.Content + "\n")
		}
	}
	t.provenance.WriteString(req.UserMessage + "\n")

	if l.retriever != nil && strings.TrimSpace(req.UserMessage) != "" {
		doc, err := l.retriever.Retrieve(ctx, req.UserMessage)
		if err != nil {
			t.log.Warn().Err(err).Msg("retrieval failed")
		} else if doc != "" {
			t.system += "\n\n## Building information\n" + doc
			t.provenance.WriteString(doc + "\n")
		}
	}

	t.messages = make([]llm.Message, 0, len(req.History)+1)
	t.messages = append(t.messages, req.History...)
	t.messages = append(t.messages, llm.Message{Role: llm.RoleUser, Content: req.UserMessage})
	return t
}

func (l *Loop) locale(t *turn) string {
	return l.tr.Resolve(t.req.Auth.Locale())
}

func (l *Loop) chain(ctx context.Context, t *turn, choice llm.ToolChoice, guard bool) {
	start := time.Now()
	forced := false
	depth := 0

	for {
		resp, err := l.client.Complete(ctx, llm.CompletionRequest{
			System:      t.system,
			Messages:    t.messages,
			Tools:       t.req.Tools,
			ToolChoice:  choice,
			Format:      t.format,
			MaxTokens:   l.cfg.MaxTokens,
			Temperature: l.cfg.Temperature,
		})
		if err != nil {
			t.log.Error().Err(err).Int("depth", depth).Msg("model call failed")
			key := "assistant.providerError"
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				key = "assistant.timeout"
			}
			l.fail(t, depth, key, err)
			return
		}

		if len(resp.ToolCalls) == 0 {
			text := resp.Content
			if guard && !forced && len(t.reply.Calls) == 0 && len(t.req.Tools) > 0 &&
				depth < l.cfg.MaxChainDepth && AnnouncesLookup(text) && NeedsLookup(t.req.UserMessage) {
				t.log.Warn().Str("answer", logging.Truncate(text, 200)).Msg("model announced a lookup without calling a tool, forcing one")
				forced = true
				choice = llm.ToolChoiceRequired
				depth++
				continue
			}
			l.finish(t, depth, text, guard)
			t.log.Info().
				Int("depth", depth).
				Int("toolCalls", len(t.reply.Calls)).
				Dur("duration", time.Since(start)).
				Msg("turn answered")
			return
		}

		if depth >= l.cfg.MaxChainDepth {
			t.log.Warn().Int("depth", depth).Int("pending", len(resp.ToolCalls)).Msg("tool chain limit reached")
			t.reply.Depth = depth
			t.reply.Text = l.tr.T(l.locale(t), "assistant.chainLimit")
			return
		}
		depth++

		assistant := llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		results, handoff := l.runCalls(ctx, t, resp.ToolCalls, depth)
		if err := checkParity(resp.ToolCalls, results); err != nil {
			t.log.Error().Err(err).Int("calls", len(resp.ToolCalls)).Int("results", len(results)).Msg("protocol violation")
			l.fail(t, depth, "assistant.generic", err)
			return
		}

		t.messages = append(t.messages, assistant)
		t.messages = append(t.messages, results...)
		t.reply.Messages = append(t.reply.Messages, assistant)
		t.reply.Messages = append(t.reply.Messages, results...)

		if handoff != "" {
			t.reply.Depth = depth
			t.reply.Handoff = handoff
			return
		}
		choice = llm.ToolChoiceAuto
	}
}

// runCalls executes every call of a round independently. A call whose id
// repeats an earlier one in the round is not executed again.
func (l *Loop) runCalls(ctx context.Context, t *turn, calls []llm.ToolCall, depth int) ([]llm.Message, string) {
	seen := make(map[string]bool, len(calls))
	results := make([]llm.Message, 0, len(calls))
	handoff := ""

	for _, call := range calls {
		if seen[call.ID] {
			continue
		}
		seen[call.ID] = true

		res := l.exec.ExecuteJSON(ctx, call.Name, call.Input, t.req.Auth)
		text := res.Text()
		t.provenance.WriteString(text + "\n")
		t.reply.Calls = append(t.reply.Calls, CallRecord{
			ID: call.ID, Name: call.Name, Input: call.Input, Result: res, Depth: depth,
		})
		results = append(results, llm.ToolResultMessage(call, text))

		if !res.IsError && handoff == "" && contains(t.req.Handoff, call.Name) {
			handoff = call.Name
		}
	}
	return results, handoff
}

func checkParity(calls []llm.ToolCall, results []llm.Message) error {
	if len(calls) != len(results) {
		return fmt.Errorf("%w: %d calls, %d results", ErrProtocol, len(calls), len(results))
	}
	for i, c := range calls {
		if results[i].Role != llm.RoleTool || results[i].ToolCallID != c.ID {
			return fmt.Errorf("%w: result %d does not answer call %q", ErrProtocol, i, c.ID)
		}
	}
	return nil
}

func (l *Loop) finish(t *turn, depth int, text string, guard bool) {
	t.reply.Depth = depth
	if guard {
		text = sanitize(text, t.log)
		if claims := Unverified(text, t.provenance.String()); len(claims) > 0 {
			t.log.Warn().
				Int("claims", len(claims)).
				Str("first", claims[0].Text).
				Str("answer", logging.Truncate(text, 500)).
				Msg("answer states unverified facts, suppressed")
			text = l.tr.T(l.locale(t), "assistant.noInformation")
		}
	}
	if strings.TrimSpace(text) == "" {
		text = l.tr.T(l.locale(t), "assistant.noInformation")
	}
	t.reply.Text = text
	t.reply.Messages = append(t.reply.Messages, llm.Message{Role: llm.RoleAssistant, Content: text})
}

func (l *Loop) fail(t *turn, depth int, key string, err error) {
	t.reply.Depth = depth
	t.reply.Err = err
	t.reply.Text = l.tr.T(l.locale(t), key)
}

// extractJSON returns the outermost JSON object in s, tolerating code
// fences or prose around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
