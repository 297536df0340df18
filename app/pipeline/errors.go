package pipeline

import (
	"errors"
	"fmt"

	"github.com/curioread/curioread/app/llm"
	"github.com/curioread/curioread/app/scrape"
)

// Step names recorded in a session's lastError.
const (
	StepArticle   = "article"
	StepQuiz      = "quiz"
	StepAnalysis  = "analysis"
	StepQuestions = "questions"
)

// maxReasonLength bounds error strings surfaced to clients.
const maxReasonLength = 500

type Class int

const (
	// ClassRetryable: transient failure, the session stays eligible for
	// re-processing.
	ClassRetryable Class = iota
	// ClassTerminal: the session can never succeed and is skipped.
	ClassTerminal
	// ClassInvalidState: the pipeline found a resource in a status it
	// should never see. Indicates a bug; treated as terminal for safety.
	ClassInvalidState
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	case ClassInvalidState:
		return "invalid_state"
	}
	return "unknown"
}

// StepError is a classified pipeline failure tied to the step it happened in.
type StepError struct {
	Step   string
	Class  Class
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (%s): %s", e.Step, e.Class, e.Reason)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func retryable(step, reason string, err error) *StepError {
	return &StepError{Step: step, Class: ClassRetryable, Reason: truncateReason(reason), Err: err}
}

func terminal(step, reason string, err error) *StepError {
	return &StepError{Step: step, Class: ClassTerminal, Reason: truncateReason(reason), Err: err}
}

func invalidState(step, reason string) *StepError {
	return &StepError{Step: step, Class: ClassInvalidState, Reason: truncateReason(reason)}
}

// classify turns an adapter error into a StepError using the typed error
// hierarchy. Errors outside the hierarchy (storage, context) default to
// retryable: re-running the idempotent pipeline is always safe.
func classify(step string, err error) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr
	}

	var scrapeErr *scrape.Error
	if errors.As(err, &scrapeErr) {
		if scrapeErr.Retryable() {
			return retryable(step, scrapeErr.Error(), err)
		}
		return terminal(step, scrapeErr.Error(), err)
	}

	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		if llmErr.Retryable() {
			return retryable(step, llmErr.Error(), err)
		}
		return terminal(step, llmErr.Error(), err)
	}

	return retryable(step, err.Error(), err)
}

func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	return reason[:maxReasonLength]
}
