package workflow

import (
	"context"

	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
)

// EventKind names a machine lifecycle event.
type EventKind string

const (
	StepEntered         EventKind = "step_entered"
	StepExited          EventKind = "step_exited"
	TransitionStarted   EventKind = "transition_started"
	TransitionCompleted EventKind = "transition_completed"
	TransitionRejected  EventKind = "transition_rejected"
	SwitchIteration     EventKind = "switch_iteration"
	Error               EventKind = "error"
)

// Event describes something the machine did.
type Event struct {
	Kind           EventKind
	ConversationID string
	Step           string
	From, To       string
	Status         Status
	Iteration      int
	Err            error
}

// Observer is notified of machine events. Observers run synchronously on
// the message path and must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// LoggingObserver writes every event to the log.
type LoggingObserver struct {
	log *logging.Logger
}

func NewLoggingObserver(log *logging.Logger) *LoggingObserver {
	return &LoggingObserver{log: log.Sub("workflow")}
}

func (o *LoggingObserver) Observe(_ context.Context, ev Event) {
	l := o.log.With("conversationId", ev.ConversationID)
	switch ev.Kind {
	case StepEntered:
		l.Debug().Str("step", ev.Step).Msg("step entered")
	case StepExited:
		l.Info().Str("step", ev.Step).Str("status", string(ev.Status)).Msg("step exited")
	case TransitionStarted:
		l.Debug().Str("from", ev.From).Str("to", ev.To).Msg("transition started")
	case TransitionCompleted:
		l.Info().Str("from", ev.From).Str("to", ev.To).Msg("transition completed")
	case TransitionRejected:
		l.Warn().Str("from", ev.From).Str("to", ev.To).Err(ev.Err).Msg("transition rejected")
	case SwitchIteration:
		l.Debug().Int("iteration", ev.Iteration).Str("step", ev.Step).Msg("switch iteration")
	case Error:
		l.Error().Str("step", ev.Step).Err(ev.Err).Msg("workflow error")
	}
}

// HookObserver forwards workflow events to the hook manager.
type HookObserver struct {
	hooks *hooks.Manager
}

func NewHookObserver(m *hooks.Manager) *HookObserver {
	return &HookObserver{hooks: m}
}

func (o *HookObserver) Observe(ctx context.Context, ev Event) {
	data := map[string]any{
		"conversationId": ev.ConversationID,
		"kind":           string(ev.Kind),
	}
	switch ev.Kind {
	case StepExited:
		data["step"] = ev.Step
		data["status"] = string(ev.Status)
		o.hooks.Emit(ctx, hooks.EventWorkflowStep, data)
		switch ev.Status {
		case StatusCompleted, StatusCancel:
			o.hooks.Emit(ctx, hooks.EventWorkflowEnd, data)
		}
	case TransitionRejected, Error:
		data["step"] = ev.Step
		data["from"] = ev.From
		data["to"] = ev.To
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
		o.hooks.Emit(ctx, hooks.EventWorkflowError, data)
	}
}
