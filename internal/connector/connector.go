package connector

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/probestack/medic/internal/config"
)

// Session is a live connection to a target tool server.
type Session interface {
	// ListOperations returns the operation names the server exposes.
	// forceRefresh bypasses any cached capability list.
	ListOperations(ctx context.Context, forceRefresh bool) ([]string, error)
	// Invoke executes a named operation with the given arguments.
	Invoke(ctx context.Context, operation string, args map[string]any) (json.RawMessage, error)
	Close() error
}

// Factory opens sessions to target servers. The engine never interprets the
// wire protocol itself; it goes through this capability.
type Factory interface {
	Open(ctx context.Context, spec config.ServerSpec) (Session, error)
}

// ErrDeadline is returned whenever a context deadline trips at the connector
// boundary. Deadline expiry is surfaced as this typed timeout, never as a
// generic error, and the underlying request is treated as cancelled.
var ErrDeadline = errors.New("connector: deadline exceeded")

// ErrOperationNotFound indicates the server does not expose the requested operation.
var ErrOperationNotFound = errors.New("connector: operation not found")

// IsTimeout reports whether err represents a boundary deadline trip.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDeadline) || errors.Is(err, context.DeadlineExceeded)
}

// ValidationOutcome reports whether a server rejected bad input on purpose.
// BestEffort is always true for text-derived classifications: the signal
// comes from matching words in the error message and is not a correctness
// guarantee.
type ValidationOutcome struct {
	Secure     bool
	BestEffort bool
	Detail     string
}

var validationMarkers = []string{"validation", "invalid", "schema", "bad request", "malformed"}

// ClassifyInvokeError inspects an invocation error and estimates whether the
// failure was deliberate input validation by the server.
func ClassifyInvokeError(err error) ValidationOutcome {
	if err == nil {
		return ValidationOutcome{}
	}
	text := strings.ToLower(err.Error())
	for _, marker := range validationMarkers {
		if strings.Contains(text, marker) {
			return ValidationOutcome{Secure: true, BestEffort: true, Detail: err.Error()}
		}
	}
	return ValidationOutcome{Secure: false, BestEffort: true, Detail: err.Error()}
}
