package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/i18n"
	"github.com/soyeahso/concierge/internal/logging"
)

// DefaultMaxSwitches bounds consecutive step switches within one message.
const DefaultMaxSwitches = 10

// Input is one resident message for a conversation in a workflow.
type Input struct {
	Message string
	Auth    auth.Context
	Conv    *convctx.Context
}

// Outcome is what the machine answers. Step is the current step after the
// message, "" once the workflow ended.
type Outcome struct {
	Text       string
	Status     Status
	Step       string
	Iterations int
	Err        error
}

// Machine runs workflow steps against a conversation context. It holds no
// per-conversation state and is safe for concurrent use; callers serialize
// messages of the same conversation.
type Machine struct {
	registry    *Registry
	tr          *i18n.Translator
	observers   []Observer
	maxSwitches int
	log         *logging.Logger
}

// Option customizes a Machine.
type Option func(*Machine)

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// WithMaxSwitches overrides DefaultMaxSwitches.
func WithMaxSwitches(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxSwitches = n
		}
	}
}

// NewMachine creates a machine over the registered handlers.
func NewMachine(reg *Registry, tr *i18n.Translator, log *logging.Logger, opts ...Option) *Machine {
	m := &Machine{
		registry:    reg,
		tr:          tr,
		maxSwitches: DefaultMaxSwitches,
		log:         log.Sub("workflow"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start puts conv at the first step, dropping any previous workflow state.
// The history is kept.
func (m *Machine) Start(conv *convctx.Context, spaceType, locale string) {
	endWorkflow(conv)
	conv.Step = convctx.StepRequestSpaceInfo
	conv.Slots.SpaceType = strings.ToUpper(strings.TrimSpace(spaceType))
	if locale != "" {
		conv.Slots.Locale = i18n.Normalize(locale)
	}
}

// Handle runs the current step with the message, following switches until
// a step answers the resident.
func (m *Machine) Handle(ctx context.Context, in Input) Outcome {
	conv := in.Conv
	if !conv.InWorkflow() {
		m.Start(conv, "", in.Auth.Locale())
	}
	msg := in.Message
	var texts []string

	for i := 0; ; i++ {
		step := conv.Step
		if i >= m.maxSwitches {
			err := fmt.Errorf("workflow: more than %d step switches", m.maxSwitches)
			m.emit(ctx, Event{Kind: Error, ConversationID: conv.ConversationID, Step: step, Err: err})
			texts = append(texts, m.t(conv, in.Auth, "workflow.tooManySwitches"))
			return m.outcome(conv, StatusError, i, texts, err)
		}

		h, ok := m.registry.Get(step)
		if !ok {
			err := fmt.Errorf("workflow: no handler for step %q", step)
			m.emit(ctx, Event{Kind: Error, ConversationID: conv.ConversationID, Step: step, Err: err})
			endWorkflow(conv)
			return m.outcome(conv, StatusError, i, []string{m.t(conv, in.Auth, "assistant.generic")}, err)
		}

		before := conv.Slots
		work := conv.Slots
		locale := m.locale(conv, in.Auth)

		m.emit(ctx, Event{Kind: StepEntered, ConversationID: conv.ConversationID, Step: step})
		resp := h.Handle(ctx, StepInput{
			Message: msg,
			Auth:    in.Auth,
			History: conv.History,
			Slots:   &work,
			Locale:  locale,
		})
		m.emit(ctx, Event{Kind: StepExited, ConversationID: conv.ConversationID, Step: step, Status: resp.Status})

		if resp.Status == StatusError {
			err := fmt.Errorf("workflow: step %s failed", step)
			m.emit(ctx, Event{Kind: Error, ConversationID: conv.ConversationID, Step: step, Err: err})
			texts = append(texts, m.text(conv, in.Auth, step, resp.Message))
			return m.outcome(conv, StatusError, i, texts, err)
		}

		merge(&work, resp)
		conv.Slots = work

		switch resp.Status {
		case StatusSwitchStep:
			next := resp.NextStep
			if next == "" {
				next = successor(step, conv.Slots)
			}
			if err := m.transition(ctx, conv, step, next); err != nil {
				conv.Slots = before
				key := "workflow.invalidTransition"
				if errors.Is(err, ErrMissingData) {
					key = "workflow.missingData"
				}
				texts = append(texts, m.t(conv, in.Auth, key))
				return m.outcome(conv, StatusError, i, texts, err)
			}
			// Model steps answer again from the next step; only backend
			// steps have something to show on the way.
			if h.BackendOnly() && resp.Message != "" {
				texts = append(texts, resp.Message)
			}
			if resp.InternalMessage != "" {
				msg = resp.InternalMessage
			}
			m.emit(ctx, Event{Kind: SwitchIteration, ConversationID: conv.ConversationID, Step: next, Iteration: i + 1})
			continue

		case StatusCancel, StatusCompleted:
			endWorkflow(conv)

		case StatusAnswerUser:
			if terminal(step) {
				endWorkflow(conv)
			}

		case StatusAskUser, StatusRetry:
			if resp.Status == StatusAskUser && resp.NextStep != "" && resp.NextStep != step {
				// The resident's next message belongs to another step.
				if err := m.transition(ctx, conv, step, resp.NextStep); err != nil {
					m.log.Debug().Err(err).Msg("ignoring next step of ASK_USER")
				}
			}
			conv.Slots.AwaitingStep = conv.Step
		}

		texts = append(texts, m.text(conv, in.Auth, step, resp.Message))
		return m.outcome(conv, resp.Status, i, texts, nil)
	}
}

func (m *Machine) transition(ctx context.Context, conv *convctx.Context, from, to string) error {
	m.emit(ctx, Event{Kind: TransitionStarted, ConversationID: conv.ConversationID, From: from, To: to})
	if err := checkTransition(from, to, conv.Slots); err != nil {
		m.emit(ctx, Event{Kind: TransitionRejected, ConversationID: conv.ConversationID, Step: from, From: from, To: to, Err: err})
		return err
	}
	conv.Step = to
	m.emit(ctx, Event{Kind: TransitionCompleted, ConversationID: conv.ConversationID, From: from, To: to})
	return nil
}

func (m *Machine) outcome(conv *convctx.Context, st Status, iterations int, texts []string, err error) Outcome {
	return Outcome{
		Text:       strings.Join(texts, "\n\n"),
		Status:     st,
		Step:       conv.Step,
		Iterations: iterations,
		Err:        err,
	}
}

// text returns msg, or a step-appropriate prompt when the step said
// nothing.
func (m *Machine) text(conv *convctx.Context, ac auth.Context, step, msg string) string {
	if msg != "" {
		return msg
	}
	switch step {
	case convctx.StepRequestSpaceInfo, convctx.StepChooseSpace:
		return m.t(conv, ac, "workflow.askSpace")
	case convctx.StepChoosePeriod:
		return m.t(conv, ac, "workflow.askPeriod")
	}
	return m.t(conv, ac, "workflow.unreadable")
}

func (m *Machine) t(conv *convctx.Context, ac auth.Context, key string, args ...any) string {
	return m.tr.T(m.locale(conv, ac), key, args...)
}

func (m *Machine) locale(conv *convctx.Context, ac auth.Context) string {
	if conv.Slots.Locale != "" {
		return m.tr.Resolve(conv.Slots.Locale)
	}
	return m.tr.Resolve(ac.Locale())
}

func (m *Machine) emit(ctx context.Context, ev Event) {
	for _, o := range m.observers {
		o.Observe(ctx, ev)
	}
}

// merge copies the data a step reported into the slots. A changed space or
// period invalidates a summary already shown.
func merge(s *convctx.Slots, r Response) {
	changed := false
	if r.ResourceID != "" && r.ResourceID != s.ResourceID {
		s.ResourceID = r.ResourceID
		changed = true
	}
	set := func(dst *string, v string) {
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	set(&s.Period.StartDate, r.Period.StartDate)
	set(&s.Period.EndDate, r.Period.EndDate)
	set(&s.Period.StartTime, r.Period.StartTime)
	set(&s.Period.EndTime, r.Period.EndTime)
	if changed {
		s.SummaryShown = false
	}
	if r.Locale != "" {
		s.Locale = i18n.Normalize(r.Locale)
	}
}

// endWorkflow ends the workflow, keeping the conversation history.
func endWorkflow(conv *convctx.Context) {
	history := conv.History
	conv.Reset()
	conv.History = history
}
