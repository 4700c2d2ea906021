// Package convctx holds per-conversation state: the current workflow step,
// the typed slots collected so far, and the recent message history.
package convctx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/llm"
)

// Reservation workflow steps, in their usual order.
const (
	StepRequestSpaceInfo    = "REQUEST_SPACE_INFO"
	StepChooseSpace         = "CHOOSE_SPACE"
	StepChoosePeriod        = "CHOOSE_PERIOD"
	StepConfirmSummary      = "CONFIRM_RESERVATION_SUMMARY"
	StepCompleteReservation = "COMPLETE_RESERVATION"
	StepPaymentInstructions = "PAYMENT_INSTRUCTIONS"
)

// Period is a requested reservation window. Dates use domain.DateLayout;
// times are optional "15:04" strings.
type Period struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// Complete reports whether both dates are set.
func (p Period) Complete() bool {
	return p.StartDate != "" && p.EndDate != ""
}

// IsZero reports whether nothing has been collected.
func (p Period) IsZero() bool {
	return p == Period{}
}

// Dates parses the period. The end must not precede the start.
func (p Period) Dates() (start, end time.Time, err error) {
	if !p.Complete() {
		return time.Time{}, time.Time{}, errors.New("period incomplete")
	}
	start, err = time.Parse(domain.DateLayout, p.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start date: %w", err)
	}
	end, err = time.Parse(domain.DateLayout, p.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end date: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end date before start date")
	}
	return start, end, nil
}

// Slots is the typed data a workflow accumulates across turns.
type Slots struct {
	SpaceType          string `json:"spaceType,omitempty"`
	ResourceID         string `json:"resourceId,omitempty"`
	Period             Period `json:"period,omitempty"`
	Locale             string `json:"locale,omitempty"`
	SummaryShown       bool   `json:"summaryShown,omitempty"`
	ReservationID      string `json:"reservationId,omitempty"`
	ReservationCreated bool   `json:"reservationCreated,omitempty"`
	PaymentRequired    bool   `json:"paymentRequired,omitempty"`
	AwaitingStep       string `json:"awaitingStep,omitempty"`
}

// Context is the stored state of one conversation.
type Context struct {
	ConversationID string        `json:"conversationId"`
	Step           string        `json:"step,omitempty"` // empty when no workflow runs
	Slots          Slots         `json:"slots"`
	History        []llm.Message `json:"history,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// New returns an empty context for id.
func New(id string) *Context {
	return &Context{ConversationID: id}
}

// InWorkflow reports whether a workflow step is current.
func (c *Context) InWorkflow() bool {
	return c.Step != ""
}

// Reset drops the workflow and all collected slots, keeping only the
// conversation id.
func (c *Context) Reset() {
	*c = Context{ConversationID: c.ConversationID}
}

// Append adds messages to the history.
func (c *Context) Append(msgs ...llm.Message) {
	c.History = append(c.History, msgs...)
}

// TrimHistory keeps at most max messages. The kept window never starts with
// an assistant tool call or a tool result, so provider requests stay well
// formed.
func (c *Context) TrimHistory(max int) {
	if max <= 0 || len(c.History) <= max {
		return
	}
	h := c.History[len(c.History)-max:]
	for len(h) > 0 && h[0].Role != llm.RoleUser {
		h = h[1:]
	}
	c.History = append([]llm.Message(nil), h...)
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	out := *c
	out.History = make([]llm.Message, len(c.History))
	for i, m := range c.History {
		m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
		out.History[i] = m
	}
	return &out
}

// Store persists conversation contexts.
type Store interface {
	// Load returns the stored context, or a new empty one when absent.
	Load(ctx context.Context, id string) (*Context, error)
	// Save stores c and stamps UpdatedAt.
	Save(ctx context.Context, c *Context) error
	// Clear removes the context entirely.
	Clear(ctx context.Context, id string) error
}
