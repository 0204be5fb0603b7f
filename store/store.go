package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Store is the entry point for document operations against one database.
// A Store is safe for concurrent use when its Backend is.
type Store struct {
	backend Backend
	config  Config
	logger  *slog.Logger
	conns   connCounters
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates cfg and creates a Store without contacting the backend.
func New(backend Backend, cfg Config, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, unavailableError()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Store{
		backend: backend,
		config:  cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open creates a Store and confirms, through one scoped connection, that the
// configured database exists and accepts the configured credentials.
func Open(ctx context.Context, backend Backend, cfg Config, opts ...Option) (*Store, error) {
	s, err := New(backend, cfg, opts...)
	if err != nil {
		return nil, err
	}

	err = s.withConn(ctx, "open", s.config.Database, func(ctx context.Context, sess Session) error {
		exists, err := sess.DatabaseExists(ctx)
		if err != nil {
			if StatusCode(err) == StatusNotFound {
				return databaseNotFoundError(s.config.Database)
			}
			return err
		}
		if !exists {
			return databaseNotFoundError(s.config.Database)
		}
		return nil
	})

	var e *Error
	if errors.As(err, &e) && e.Kind == KindConnection && e.Status == StatusNoResponse {
		return nil, unavailableError()
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("document store opened",
		"database", s.config.Database,
		"url", s.config.URL,
	)
	return s, nil
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Database returns the configured database name.
func (s *Store) Database() string {
	return s.config.Database
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Get returns the document stored under id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	doc := newDocument(s, id)
	err := s.withConn(ctx, "get", id, doc.fetch)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Exists reports whether id resolves to a stored document.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return newDocument(s, id).Exists(ctx)
}

// PutOptions configures Put.
type PutOptions struct {
	// ID is the document id. Empty lets the backend assign one.
	ID string

	// Override replaces a document already stored under ID.
	// The existing document is fetched and deleted before the new one is created.
	Override bool
}

// Put creates a document from content. Content is validated before any
// remote change is made. Without Override, a live document under opts.ID
// fails with ErrAlreadyExists.
func (s *Store) Put(ctx context.Context, content any, opts PutOptions) (*Document, error) {
	fields, err := NewContent(content)
	if err != nil {
		return nil, err
	}

	doc := newDocument(s, opts.ID)
	err = s.withConn(ctx, "put", opts.ID, func(ctx context.Context, sess Session) error {
		if opts.ID != "" {
			_, exists, err := sess.Revision(ctx, opts.ID)
			if err != nil {
				return err
			}
			if exists {
				if !opts.Override {
					return alreadyExistsError(opts.ID)
				}
				if err := s.removeExisting(ctx, sess, opts.ID); err != nil {
					return err
				}
			}
		}
		doc.merge(fields)
		return doc.save(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// removeExisting fetches and deletes the live document at id.
func (s *Store) removeExisting(ctx context.Context, sess Session, id string) error {
	rec, ok, err := sess.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := sess.Delete(ctx, rec.ID, rec.Rev); err != nil {
		return err
	}
	s.logger.Info("overriding document", "docID", id, "rev", rec.Rev)
	return nil
}

// Delete removes the document stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return doc.Delete(ctx)
}
