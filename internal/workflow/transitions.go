package workflow

import (
	"errors"
	"fmt"

	"github.com/soyeahso/concierge/internal/convctx"
)

var transitions = map[string][]string{
	convctx.StepRequestSpaceInfo: {convctx.StepRequestSpaceInfo, convctx.StepChooseSpace},
	convctx.StepChooseSpace: {convctx.StepChooseSpace, convctx.StepChoosePeriod,
		convctx.StepConfirmSummary},
	convctx.StepChoosePeriod: {convctx.StepChoosePeriod, convctx.StepChooseSpace,
		convctx.StepConfirmSummary},
	convctx.StepConfirmSummary: {convctx.StepConfirmSummary, convctx.StepCompleteReservation,
		convctx.StepChooseSpace, convctx.StepChoosePeriod},
	convctx.StepCompleteReservation: {convctx.StepPaymentInstructions},
	convctx.StepPaymentInstructions: {convctx.StepPaymentInstructions},
}

var (
	// ErrTransition reports a move the step graph does not allow.
	ErrTransition = errors.New("transition not allowed")
	// ErrMissingData reports a step entered without the slots it needs.
	ErrMissingData = errors.New("missing required data")
)

// CanTransition reports whether the graph allows from → to.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Requires checks that slots hold what step needs on entry.
func Requires(step string, s convctx.Slots) error {
	switch step {
	case convctx.StepChoosePeriod:
		if s.ResourceID == "" {
			return fmt.Errorf("%w: %s needs a space", ErrMissingData, step)
		}
	case convctx.StepConfirmSummary, convctx.StepCompleteReservation:
		if s.ResourceID == "" || !s.Period.Complete() {
			return fmt.Errorf("%w: %s needs a space and a period", ErrMissingData, step)
		}
	case convctx.StepPaymentInstructions:
		if s.ReservationID == "" {
			return fmt.Errorf("%w: %s needs a reservation", ErrMissingData, step)
		}
	}
	return nil
}

// checkTransition validates from → to against the graph and the slots.
func checkTransition(from, to string, s convctx.Slots) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrTransition, from, to)
	}
	return Requires(to, s)
}

// successor is where an LLM step goes when it finishes without naming the
// next step.
func successor(step string, s convctx.Slots) string {
	switch step {
	case convctx.StepRequestSpaceInfo:
		return convctx.StepChooseSpace
	case convctx.StepChooseSpace:
		if s.Period.Complete() {
			return convctx.StepConfirmSummary
		}
		return convctx.StepChoosePeriod
	case convctx.StepChoosePeriod:
		return convctx.StepConfirmSummary
	}
	return ""
}

// terminal steps end the workflow whatever they answer.
func terminal(step string) bool {
	return step == convctx.StepPaymentInstructions
}
