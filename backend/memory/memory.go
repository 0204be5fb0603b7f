// Package memory provides an in-process store.Backend. Data is lost on
// restart. Safe for concurrent use.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jacentio/sofa/internal/revision"
	"github.com/jacentio/sofa/store"
)

type entry struct {
	rev     string
	fields  map[string]any
	deleted bool
}

// Backend keeps databases of documents in memory.
type Backend struct {
	mu        sync.RWMutex
	databases map[string]map[string]*entry
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{databases: make(map[string]map[string]*entry)}
}

// CreateDatabase adds an empty database. Creating an existing one is a no-op.
func (b *Backend) CreateDatabase(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.databases[name]; !ok {
		b.databases[name] = make(map[string]*entry)
	}
}

// Connect opens a session on cfg.Database.
func (b *Backend) Connect(_ context.Context, cfg store.Config) (store.Session, error) {
	return &session{backend: b, database: cfg.Database}, nil
}

// deepCopy returns a deep copy of a document by round-tripping through JSON.
// Numbers stay json.Number.
func deepCopy(src map[string]any) (map[string]any, error) {
	if src == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("memory: encode document: %w", err)
	}
	dst, err := store.DecodeObject(b)
	if err != nil {
		return nil, fmt.Errorf("memory: decode document: %w", err)
	}
	return dst, nil
}

type session struct {
	backend  *Backend
	database string
}

func (s *session) docs() (map[string]*entry, error) {
	docs, ok := s.backend.databases[s.database]
	if !ok {
		return nil, store.Errorf(http.StatusNotFound, "database %q does not exist", s.database)
	}
	return docs, nil
}

func (s *session) DatabaseExists(_ context.Context) (bool, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	_, ok := s.backend.databases[s.database]
	return ok, nil
}

func (s *session) Revision(_ context.Context, id string) (string, bool, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	docs, err := s.docs()
	if err != nil {
		return "", false, err
	}
	e, ok := docs[id]
	if !ok || e.deleted {
		return "", false, nil
	}
	return e.rev, true, nil
}

func (s *session) Fetch(_ context.Context, id string) (store.Record, bool, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	docs, err := s.docs()
	if err != nil {
		return store.Record{}, false, err
	}
	e, ok := docs[id]
	if !ok || e.deleted {
		return store.Record{}, false, nil
	}
	fields, err := deepCopy(e.fields)
	if err != nil {
		return store.Record{}, false, err
	}
	return store.Record{ID: id, Rev: e.rev, Fields: fields}, true, nil
}

func (s *session) Create(_ context.Context, id string, fields map[string]any) (store.Record, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	docs, err := s.docs()
	if err != nil {
		return store.Record{}, err
	}
	if id == "" {
		id = revision.NewID()
	}

	var prev string
	if e, ok := docs[id]; ok {
		if !e.deleted {
			return store.Record{}, store.Errorf(http.StatusConflict, "document %q already exists", id)
		}
		prev = e.rev
	}

	stored, err := deepCopy(fields)
	if err != nil {
		return store.Record{}, err
	}
	out, err := deepCopy(stored)
	if err != nil {
		return store.Record{}, err
	}
	rev := revision.Next(prev, stored)
	docs[id] = &entry{rev: rev, fields: stored}
	return store.Record{ID: id, Rev: rev, Fields: out}, nil
}

func (s *session) Delete(_ context.Context, id, rev string) (string, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	docs, err := s.docs()
	if err != nil {
		return "", err
	}
	e, ok := docs[id]
	if !ok || e.deleted {
		return "", store.Errorf(http.StatusNotFound, "document %q not found", id)
	}
	if e.rev != rev {
		return "", store.Errorf(http.StatusConflict, "document %q is at revision %s, not %s", id, e.rev, rev)
	}
	e.rev = revision.Tombstone(e.rev)
	e.fields = nil
	e.deleted = true
	return e.rev, nil
}

func (s *session) Close() error { return nil }
