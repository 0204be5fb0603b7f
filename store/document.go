package store

import (
	"context"
	"strings"
)

// Document is a handle on one addressable document. It caches the last
// fetched revision and content; mutations through SetContent stay local
// until Save.
type Document struct {
	store  *Store
	id     string
	rev    string
	fields Content
	exists bool
}

func newDocument(s *Store, id string) *Document {
	return &Document{store: s, id: id, fields: Content{}}
}

// ID returns the document id, empty until a new document is saved
// without an explicit id.
func (d *Document) ID() string { return d.id }

// Rev returns the last known revision.
func (d *Document) Rev() string { return d.rev }

// Persisted reports whether the handle last observed the document as stored.
func (d *Document) Persisted() bool { return d.exists }

// String returns the document id.
func (d *Document) String() string { return d.id }

// tryFetch loads the stored document into d. ok is false when it is absent.
func (d *Document) tryFetch(ctx context.Context, sess Session) (bool, error) {
	if d.id == "" {
		return false, nil
	}
	rec, ok, err := sess.Fetch(ctx, d.id)
	if err != nil {
		return false, err
	}
	d.exists = ok
	if !ok {
		return false, nil
	}
	d.apply(rec)
	return true, nil
}

// fetch loads the stored document into d, failing with ErrNotFound if absent.
func (d *Document) fetch(ctx context.Context, sess Session) error {
	ok, err := d.tryFetch(ctx, sess)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundError(d.id)
	}
	return nil
}

func (d *Document) apply(rec Record) {
	if rec.ID != "" {
		d.id = rec.ID
	}
	d.rev = rec.Rev
	d.fields = make(Content, len(rec.Fields))
	for k, v := range rec.Fields {
		if strings.HasPrefix(k, "_") {
			continue
		}
		d.fields[k] = cloneValue(v)
	}
}

func (d *Document) merge(fields Content) {
	for k, v := range fields {
		d.fields[k] = v
	}
}

func (d *Document) save(ctx context.Context, sess Session) error {
	rec, err := sess.Create(ctx, d.id, d.fields.Clone())
	if err != nil {
		if StatusCode(err) == StatusConflict {
			return alreadyExistsError(d.id)
		}
		return err
	}
	d.id = rec.ID
	d.rev = rec.Rev
	d.exists = true
	return nil
}

// Refresh reloads content and revision from the store.
func (d *Document) Refresh(ctx context.Context) error {
	return d.store.withConn(ctx, "refresh", d.id, d.fetch)
}

// Content refreshes the document and returns a copy of its fields,
// including the store-managed _id and _rev.
func (d *Document) Content(ctx context.Context) (Content, error) {
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d.Snapshot(), nil
}

// Snapshot returns a copy of the cached fields with _id and _rev, without
// contacting the store.
func (d *Document) Snapshot() Content {
	out := d.fields.Clone()
	out[FieldID] = d.id
	out[FieldRev] = d.rev
	return out
}

// SetContent merges v into the local field set without persisting it.
// v must be a map or struct encoding to a JSON object; a nil map merges
// nothing. Anything else, including a nil interface, fails with
// ErrInvalidContent.
func (d *Document) SetContent(v any) error {
	fields, err := NewContent(v)
	if err != nil {
		return err
	}
	d.merge(fields)
	return nil
}

// Save creates the document from its local content. Saving under a live id
// fails with ErrAlreadyExists.
func (d *Document) Save(ctx context.Context) error {
	return d.store.withConn(ctx, "save", d.id, d.save)
}

// Delete removes the document at its current revision. A stale revision
// fails with ErrConflict.
func (d *Document) Delete(ctx context.Context) error {
	if d.id == "" {
		return notFoundError(d.id)
	}
	return d.store.withConn(ctx, "delete", d.id, func(ctx context.Context, sess Session) error {
		rev, err := sess.Delete(ctx, d.id, d.rev)
		if err != nil {
			return err
		}
		d.rev = rev
		d.exists = false
		d.store.logger.Info("document deleted", "docID", d.id)
		return nil
	})
}

// Exists reports whether the id currently resolves to a stored document,
// regardless of what this handle has cached.
func (d *Document) Exists(ctx context.Context) (bool, error) {
	if d.id == "" {
		return false, nil
	}
	var exists bool
	err := d.store.withConn(ctx, "exists", d.id, func(ctx context.Context, sess Session) error {
		_, ok, err := sess.Revision(ctx, d.id)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	d.exists = exists
	return exists, nil
}
