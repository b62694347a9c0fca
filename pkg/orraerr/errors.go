// Package orraerr defines the error taxonomy shared across the SDK: one
// base error carrying a message and structured details, and a small set of
// named kinds that callers can distinguish with errors.As.
package orraerr

import "fmt"

// OrraError is the base error shape the control plane expects: a short
// message plus an arbitrary details payload (validation errors, a wrapped
// cause, etc).
type OrraError struct {
	Message string
	Details any
}

func New(message string, details any) *OrraError {
	return &OrraError{Message: message, Details: details}
}

func (e *OrraError) Error() string {
	if e.Details == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %+v", e.Message, e.Details)
}

// ServiceRegistrationError wraps failures from the one-shot HTTP
// registration call (C2).
type ServiceRegistrationError struct{ *OrraError }

func NewServiceRegistrationError(cause error) *ServiceRegistrationError {
	return &ServiceRegistrationError{New("failed to register service", map[string]string{"error": cause.Error()})}
}

// ConnectionError is returned when a caller attempts to (re)connect a
// session that has already been shut down.
type ConnectionError struct{ *OrraError }

func NewConnectionError(msg string) *ConnectionError {
	return &ConnectionError{New(msg, nil)}
}

// MissingRevertHandlerError is returned from Start when a handler was
// registered as revertible without a matching revert handler.
type MissingRevertHandlerError struct{ *OrraError }

func NewMissingRevertHandlerError() *MissingRevertHandlerError {
	return &MissingRevertHandlerError{New("cannot find revert handler", nil)}
}

// InputValidationError carries the per-field diagnostics produced by the
// schema layer (C4) when an inbound task payload fails its input schema.
type InputValidationError struct{ *OrraError }

func NewInputValidationError(validationErrors any) *InputValidationError {
	return &InputValidationError{New("Input validation failed", map[string]any{"validation_errors": validationErrors})}
}

// OutputValidationError mirrors InputValidationError for a handler's return
// value.
type OutputValidationError struct{ *OrraError }

func NewOutputValidationError(validationErrors any) *OutputValidationError {
	return &OutputValidationError{New("Output validation failed", map[string]any{"validation_errors": validationErrors})}
}

// HandlerError wraps any error escaping user handler code.
type HandlerError struct{ *OrraError }

func NewHandlerError(cause error) *HandlerError {
	return &HandlerError{New("Service error", map[string]string{"error": cause.Error()})}
}

// ProtocolError marks a malformed or unroutable inbound frame. It is never
// returned to a caller — only logged — but is typed so tests can assert on
// it precisely.
type ProtocolError struct{ *OrraError }

func NewProtocolError(msg string) *ProtocolError {
	return &ProtocolError{New(msg, nil)}
}

// InvalidArgument reports a construction-time misconfiguration (bad API key
// format, missing custom persistence callbacks, a non-object schema, a
// missing handler). It reuses the bare OrraError shape, matching the Python
// original's reuse of plain OrraError for construction failures.
func InvalidArgument(msg string) *OrraError {
	return New(msg, nil)
}
