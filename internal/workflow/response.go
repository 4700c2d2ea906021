// Package workflow drives the guided space reservation: a bounded state
// machine over named steps, each handled either by the model in JSON mode
// or by plain backend calls.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/concierge/internal/auth"
	"github.com/soyeahso/concierge/internal/convctx"
	"github.com/soyeahso/concierge/internal/llm"
)

// Status tells the machine what to do after a step ran.
type Status string

const (
	StatusAskUser    Status = "ASK_USER"
	StatusSwitchStep Status = "SWITCH_STEP"
	StatusCompleted  Status = "COMPLETED"
	StatusCancel     Status = "CANCEL"
	StatusError      Status = "ERROR"
	StatusAnswerUser Status = "ANSWER_USER"
	// StatusRetry asks the resident again without touching the state.
	StatusRetry Status = "RETRY"
)

func (s Status) valid() bool {
	switch s {
	case StatusAskUser, StatusSwitchStep, StatusCompleted, StatusCancel,
		StatusError, StatusAnswerUser, StatusRetry:
		return true
	}
	return false
}

// Response is the result of one step. Only the fields meaningful for
// Status are set.
type Response struct {
	Status          Status
	Message         string
	NextStep        string
	ResourceID      string
	Period          convctx.Period
	Locale          string
	InternalMessage string // user message handed to the next step on a switch
}

// StepInput is what a handler sees. Handlers may update Slots; the changes
// are dropped when they answer ERROR.
type StepInput struct {
	Message string
	Auth    auth.Context
	History []llm.Message
	Slots   *convctx.Slots
	Locale  string
}

// Handler runs one step.
type Handler interface {
	Step() string
	// BackendOnly reports whether the step runs without the model.
	BackendOnly() bool
	Handle(ctx context.Context, in StepInput) Response
}

// stepPayload is the JSON object the model answers with in LLM steps.
type stepPayload struct {
	Status          string          `json:"status"`
	Response        string          `json:"response"`
	SpaceID         string          `json:"spaceId"`
	Period          *convctx.Period `json:"period"`
	NextStep        string          `json:"nextStep"`
	Locale          string          `json:"locale"`
	InternalMessage string          `json:"internalMessage"`
}

// ParseResponse decodes a model step answer.
func ParseResponse(raw string) (Response, error) {
	var p stepPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Response{}, fmt.Errorf("decode step response: %w", err)
	}
	st := Status(strings.ToUpper(strings.TrimSpace(p.Status)))
	if !st.valid() {
		return Response{}, fmt.Errorf("unknown step status %q", p.Status)
	}
	r := Response{
		Status:          st,
		Message:         strings.TrimSpace(p.Response),
		NextStep:        strings.ToUpper(strings.TrimSpace(p.NextStep)),
		ResourceID:      strings.TrimSpace(p.SpaceID),
		Locale:          p.Locale,
		InternalMessage: p.InternalMessage,
	}
	if p.Period != nil {
		r.Period = *p.Period
	}
	return r, nil
}
