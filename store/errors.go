package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the backend cannot be reached at all during Open.
	ErrUnavailable = errors.New("sofa: document store unavailable")

	// ErrConfiguration is returned for a missing or malformed configuration value.
	ErrConfiguration = errors.New("sofa: invalid configuration")

	// ErrAuth is returned when the document store rejects the configured credentials.
	ErrAuth = errors.New("sofa: credentials rejected")

	// ErrDatabaseNotFound is returned when the configured database does not exist.
	ErrDatabaseNotFound = errors.New("sofa: database not found")

	// ErrNotFound is returned when a document id does not resolve to a stored document.
	ErrNotFound = errors.New("sofa: document not found")

	// ErrAlreadyExists is returned when creating a document under a live id without override.
	ErrAlreadyExists = errors.New("sofa: document already exists")

	// ErrInvalidContent is returned when document content is not an object.
	ErrInvalidContent = errors.New("sofa: invalid document content")

	// ErrConflict is returned when a mutation carries a stale revision.
	ErrConflict = errors.New("sofa: document revision conflict")

	// ErrConnection is returned when the transport fails during an operation.
	ErrConnection = errors.New("sofa: connection failed")
)

// Kind classifies an Error.
type Kind uint8

const (
	KindUnavailable Kind = iota + 1
	KindConfiguration
	KindAuth
	KindDatabaseNotFound
	KindNotFound
	KindAlreadyExists
	KindInvalidContent
	KindConflict
	KindConnection
)

// Status codes carried by errors that have no transport status of their own.
const (
	StatusUnavailable      = 101
	StatusConfiguration    = 102
	StatusDatabaseNotFound = 400
	StatusNotFound         = 404
	StatusAlreadyExists    = 405
	StatusConflict         = 409
	StatusNoResponse       = 503
	StatusTimeout          = 504
	StatusInvalidContent   = 700
)

var kindNames = map[Kind]string{
	KindUnavailable:      "unavailable",
	KindConfiguration:    "configuration",
	KindAuth:             "auth",
	KindDatabaseNotFound: "database_not_found",
	KindNotFound:         "not_found",
	KindAlreadyExists:    "already_exists",
	KindInvalidContent:   "invalid_content",
	KindConflict:         "conflict",
	KindConnection:       "connection",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnavailable:
		return ErrUnavailable
	case KindConfiguration:
		return ErrConfiguration
	case KindAuth:
		return ErrAuth
	case KindDatabaseNotFound:
		return ErrDatabaseNotFound
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindInvalidContent:
		return ErrInvalidContent
	case KindConflict:
		return ErrConflict
	default:
		return ErrConnection
	}
}

// Error is the single error type returned by Store and Document operations.
// Callers branch on Kind (or errors.Is against the sentinels) and Status.
type Error struct {
	Kind   Kind
	Status int

	// Subject is the context of the failure: a field name, username,
	// database name, document id or operation, depending on Kind.
	Subject string

	// Expected is the expected type name for KindInvalidContent.
	Expected string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (status %d)", e.Kind.sentinel().Error(), e.Status)
	if e.Subject != "" {
		msg += ": " + e.Subject
	}
	if e.Expected != "" {
		msg += ", expected " + e.Expected
	}
	return msg
}

// Unwrap returns the sentinel for the error's kind so errors.Is works.
func (e *Error) Unwrap() error {
	return e.Kind.sentinel()
}

// StatusCode returns the status carried by the error.
func (e *Error) StatusCode() int {
	return e.Status
}

// KindOf returns the Kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func unavailableError() *Error {
	return &Error{Kind: KindUnavailable, Status: StatusUnavailable}
}

func configurationError(field string) *Error {
	return &Error{Kind: KindConfiguration, Status: StatusConfiguration, Subject: field}
}

func authError(status int, user string) *Error {
	return &Error{Kind: KindAuth, Status: status, Subject: user}
}

func databaseNotFoundError(database string) *Error {
	return &Error{Kind: KindDatabaseNotFound, Status: StatusDatabaseNotFound, Subject: database}
}

func notFoundError(id string) *Error {
	return &Error{Kind: KindNotFound, Status: StatusNotFound, Subject: id}
}

func alreadyExistsError(id string) *Error {
	return &Error{Kind: KindAlreadyExists, Status: StatusAlreadyExists, Subject: id}
}

func invalidContentError(field, expected string) *Error {
	return &Error{Kind: KindInvalidContent, Status: StatusInvalidContent, Subject: field, Expected: expected}
}

func conflictError(id string) *Error {
	return &Error{Kind: KindConflict, Status: StatusConflict, Subject: id}
}

func connectionError(status int, op string) *Error {
	return &Error{Kind: KindConnection, Status: status, Subject: op}
}
