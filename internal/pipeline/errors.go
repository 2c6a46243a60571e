package pipeline

import "fmt"

// StepError is a step that could not produce a usable result: the bus was
// unhealthy, the call timed out or failed, or the reply did not decode.
type StepError struct {
	Subject string
	Pattern Pattern
	Message string
	Cause   error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %s (%s): %s: %v", e.Subject, e.Pattern, e.Message, e.Cause)
	}
	return fmt.Sprintf("step %s (%s): %s", e.Subject, e.Pattern, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

func newStepError(subject string, pattern Pattern, message string, cause error) *StepError {
	return &StepError{Subject: subject, Pattern: pattern, Message: message, Cause: cause}
}
