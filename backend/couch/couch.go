// Package couch provides a store.Backend for CouchDB over HTTP, built on
// kivik and its couchdb driver.
package couch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"

	"github.com/jacentio/sofa/store"
)

// Backend lazily creates one kivik client per URL and credentials, and
// reuses it for every session. Safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	clients map[clientKey]*kivik.Client
}

type clientKey struct {
	url      string
	user     string
	password string
}

// New creates a Backend. No connection is made until the first Connect.
func New() *Backend {
	return &Backend{clients: make(map[clientKey]*kivik.Client)}
}

// client returns the cached client for cfg, creating it on first use.
func (b *Backend) client(cfg store.Config) (*kivik.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := clientKey{url: cfg.URL, user: cfg.User, password: cfg.Password}
	if c, ok := b.clients[key]; ok {
		return c, nil
	}

	var opts []kivik.Option
	if cfg.User != "" {
		opts = append(opts, couchdb.BasicAuth(cfg.User, cfg.Password))
	}
	c, err := kivik.New("couch", cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("couch: create client: %w", err)
	}
	b.clients[key] = c
	return c, nil
}

// Connect opens a session on cfg.Database.
func (b *Backend) Connect(_ context.Context, cfg store.Config) (store.Session, error) {
	c, err := b.client(cfg)
	if err != nil {
		return nil, err
	}
	return &session{client: c, name: cfg.Database}, nil
}

// Close closes every client created by the Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for key, c := range b.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.clients, key)
	}
	return first
}

type session struct {
	client *kivik.Client
	name   string

	once sync.Once
	db   *kivik.DB
}

func (s *session) database() *kivik.DB {
	s.once.Do(func() {
		s.db = s.client.DB(s.name)
	})
	return s.db
}

func (s *session) DatabaseExists(ctx context.Context) (bool, error) {
	ok, err := s.client.DBExists(ctx, s.name)
	if err != nil {
		return false, wrap(err, "check database %q", s.name)
	}
	return ok, nil
}

func (s *session) Revision(ctx context.Context, id string) (string, bool, error) {
	rev, err := s.database().GetRev(ctx, id)
	if kivik.HTTPStatus(err) == http.StatusNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err, "revision of %q", id)
	}
	return rev, true, nil
}

func (s *session) Fetch(ctx context.Context, id string) (store.Record, bool, error) {
	row := s.database().Get(ctx, id)
	var raw json.RawMessage
	err := row.ScanDoc(&raw)
	if kivik.HTTPStatus(err) == http.StatusNotFound {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, wrap(err, "fetch %q", id)
	}
	fields, err := store.DecodeObject(raw)
	if err != nil {
		return store.Record{}, false, fmt.Errorf("couch: decode %q: %w", id, err)
	}

	rec := store.Record{ID: id, Fields: fields}
	if v, ok := fields[store.FieldID].(string); ok {
		rec.ID = v
	}
	if v, ok := fields[store.FieldRev].(string); ok {
		rec.Rev = v
	}
	return rec, true, nil
}

func (s *session) Create(ctx context.Context, id string, fields map[string]any) (store.Record, error) {
	db := s.database()
	if id == "" {
		newID, rev, err := db.CreateDoc(ctx, fields)
		if err != nil {
			return store.Record{}, wrap(err, "create document")
		}
		return store.Record{ID: newID, Rev: rev, Fields: fields}, nil
	}

	rev, err := db.Put(ctx, id, fields)
	if err != nil {
		return store.Record{}, wrap(err, "put %q", id)
	}
	return store.Record{ID: id, Rev: rev, Fields: fields}, nil
}

func (s *session) Delete(ctx context.Context, id, rev string) (string, error) {
	newRev, err := s.database().Delete(ctx, id, rev)
	if err != nil {
		return "", wrap(err, "delete %q", id)
	}
	return newRev, nil
}

// Close is a no-op: the kivik client is shared by all sessions and closed
// with the Backend.
func (s *session) Close() error { return nil }

// wrap attaches kivik's HTTP status to err. Failures that never got a
// response from the server are returned without a status.
func wrap(err error, format string, args ...any) error {
	err = fmt.Errorf("couch: "+format+": %w", append(args, err)...)
	var netErr net.Error
	if errors.As(err, &netErr) {
		return err
	}
	return store.NewStatusError(kivik.HTTPStatus(err), err)
}
