package daemon

import "fmt"

// ServiceErrorKind classifies a ServiceError for the HTTP status mapping.
type ServiceErrorKind string

const (
	ServiceErrorInvalid       ServiceErrorKind = "invalid"
	ServiceErrorNotFound      ServiceErrorKind = "not_found"
	ServiceErrorUnavailable   ServiceErrorKind = "unavailable"
	ServiceErrorConflict      ServiceErrorKind = "conflict"
	ServiceErrorNotConfigured ServiceErrorKind = "not_configured"
)

// ServiceError is the boundary error type every handler returns
// instead of a bare error, so writeServiceError can pick an HTTP status.
type ServiceError struct {
	Kind    ServiceErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func invalidError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorInvalid, Message: message, Err: err}
}

func notFoundError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorNotFound, Message: message, Err: err}
}

func unavailableError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorUnavailable, Message: message, Err: err}
}

// conflictError reports a request that can't be honored because of the
// resource's current state rather than a bad request or a missing
// resource — e.g. re-initializing a soul profile that already exists
// without asking to overwrite it.
func conflictError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorConflict, Message: message, Err: err}
}

// notConfiguredError reports a request against a feature whose engine
// is absent — the handlers return it when the API's Soul, Memory, or
// Compact field is nil, a case the always-on core (vault, queue, to-do
// store) the teacher's ServiceError vocabulary was originally built for
// never had.
func notConfiguredError(feature string) *ServiceError {
	return &ServiceError{Kind: ServiceErrorNotConfigured, Message: feature + " is not configured"}
}
