// Package services holds the external collaborators jobs depend on: backend
// authentication, captcha solving and the throwaway email inbox. Every
// failure is typed with an ErrorKind so callers can tell a transient
// timeout from a request that will never succeed.
package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a collaborator failure.
type ErrorKind string

const (
	ErrorUnknown            ErrorKind = "unknown"
	ErrorTimeout            ErrorKind = "timeout"
	ErrorInvalidRequest     ErrorKind = "invalidRequest"
	ErrorCriticalFailure    ErrorKind = "criticalFailure"
	ErrorCannotFindResource ErrorKind = "cannotFindResource"
	ErrorParsing            ErrorKind = "parsing"
)

// ServiceError is a typed collaborator failure.
type ServiceError struct {
	Kind    ErrorKind
	Op      string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
}

// IsKind reports whether err is a ServiceError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == kind
}
