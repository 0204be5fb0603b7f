package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Backend opens sessions against a document database.
// Implementations own any pooled client and must be safe for concurrent use.
type Backend interface {
	// Connect opens a session against cfg.Database.
	Connect(ctx context.Context, cfg Config) (Session, error)
}

// Session is one scoped connection to a database.
//
// Errors returned by a Session should carry a transport status through a
// StatusCode() int method (see StatusError): 404 for an absent document,
// 409 for a stale revision or an id collision, 401/403 for rejected
// credentials. Errors without a status are treated as transport failures.
type Session interface {
	// DatabaseExists reports whether the configured database exists.
	DatabaseExists(ctx context.Context) (bool, error)

	// Revision returns the current revision of a live document.
	// ok is false when the id does not resolve to a stored document.
	Revision(ctx context.Context, id string) (rev string, ok bool, err error)

	// Fetch returns the stored document. ok is false when it is absent.
	// Numbers in Fields are json.Number so integer precision is kept.
	Fetch(ctx context.Context, id string) (rec Record, ok bool, err error)

	// Create stores fields as a new document. An empty id lets the
	// backend assign one. Creating over a live id fails with status 409.
	Create(ctx context.Context, id string, fields map[string]any) (Record, error)

	// Delete removes the document at id and rev, returning the tombstone revision.
	Delete(ctx context.Context, id, rev string) (string, error)

	// Close releases the session. It must be safe to call more than once.
	Close() error
}

// Record is a document as exchanged with a Backend.
type Record struct {
	ID     string
	Rev    string
	Fields map[string]any
}

// StatusError attaches a transport status code to a backend error.
type StatusError struct {
	Status int
	Err    error
}

// NewStatusError returns an error carrying status, wrapping err.
func NewStatusError(status int, err error) *StatusError {
	return &StatusError{Status: status, Err: err}
}

// Errorf returns a StatusError with a formatted message.
func Errorf(status int, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Err: fmt.Errorf(format, args...)}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode returns the transport status.
func (e *StatusError) StatusCode() int { return e.Status }

// StatusCode extracts the transport status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}
	return 0
}
