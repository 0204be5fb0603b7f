package store

import (
	"context"
	"errors"
	"net/http"
)

// mapError translates a backend failure into the error taxonomy.
// subject is the document id for document operations; op names the
// operation for connection failures. The raw error is logged, never returned.
func (s *Store) mapError(err error, op, subject string) error {
	if err == nil {
		return nil
	}
	var domain *Error
	if errors.As(err, &domain) {
		return domain
	}

	status := StatusCode(err)
	s.logger.Debug("backend error",
		"op", op,
		"subject", subject,
		"status", status,
		"error", err,
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return connectionError(StatusTimeout, op)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return authError(status, s.config.User)
	case status == http.StatusNotFound:
		return notFoundError(subject)
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return conflictError(subject)
	case status == 0:
		return connectionError(StatusNoResponse, op)
	default:
		return connectionError(status, op)
	}
}
