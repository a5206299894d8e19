package tsncase

// errors.go holds the error values returned by the generators, the router and the validator.
// Callers match them with errors.Is; context is added by wrapping.

import (
	"errors"
	"fmt"
)

var (
	// graph construction misuse
	ErrDuplicateLink   = errors.New("duplicate link")
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// parameter/resource mismatch, the caller may adjust parameters and retry
	ErrInfeasibleTopology  = errors.New("infeasible topology")
	ErrUnsatisfiableStream = errors.New("unsatisfiable stream")
	ErrInvalidParams       = errors.New("invalid parameters")

	// per-stream admission failures
	ErrRouteNotFound    = errors.New("route not found")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// structurally invalid input to the validator
	ErrMalformedCase = errors.New("malformed case")

	ErrCaseIDMismatch = errors.New("case id does not match parameters")
)

// AdmissionError reports why a single stream was not admitted by the router.
type AdmissionError struct {
	Stream string
	Err    error
}

func (ae *AdmissionError) Error() string {
	return fmt.Sprintf("stream %s: %v", ae.Stream, ae.Err)
}

func (ae *AdmissionError) Unwrap() error {
	return ae.Err
}

// admissionKinds maps the admission failure sentinels to the names used in case files
var admissionKinds = map[string]error{
	"route-not-found":   ErrRouteNotFound,
	"capacity-exceeded": ErrCapacityExceeded,
	"deadline-exceeded": ErrDeadlineExceeded,
}

// AdmissionKind returns the short name of the admission failure class of err,
// or "unknown" when err does not wrap one of them
func AdmissionKind(err error) string {
	for _, kind := range []string{"route-not-found", "capacity-exceeded", "deadline-exceeded"} {
		if errors.Is(err, admissionKinds[kind]) {
			return kind
		}
	}
	return "unknown"
}
