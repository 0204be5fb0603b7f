// Package store provides a document-store client core: configuration,
// scoped connections, document handles and a small error taxonomy over a
// pluggable Backend.
//
// The Store validates its Config once, confirms the database through one
// scoped connection, and then opens and releases a Session around every
// operation, on success and failure alike.
//
// # Backends
//
// Backends live in their own packages:
//
//   - backend/couch   - CouchDB over HTTP (kivik)
//   - backend/dynamo  - a DynamoDB table
//   - backend/sqldb   - SQLite or PostgreSQL
//   - backend/memory  - in-process, for tests
//
// # Usage
//
//	cfg, err := store.LoadConfig(".env")
//	s, err := store.Open(ctx, couch.New(), cfg)
//
//	doc, err := s.Put(ctx, map[string]any{"name": "a"}, store.PutOptions{ID: "doc1"})
//	doc, err = s.Get(ctx, "doc1")
//	content, err := doc.Content(ctx) // {"_id": "doc1", "_rev": "1-...", "name": "a"}
//	err = s.Delete(ctx, "doc1")
//
// Put refuses to replace a live document unless PutOptions.Override is set,
// in which case the existing document is fetched and deleted first.
//
// # Errors
//
// Every failure is returned as an [*Error] carrying a [Kind] and a status:
//
//   - [ErrUnavailable] - backend unreachable during Open (101)
//   - [ErrConfiguration] - missing or malformed setting (102)
//   - [ErrAuth] - credentials rejected (transport status)
//   - [ErrDatabaseNotFound] - configured database absent (400)
//   - [ErrNotFound] - document id absent (404)
//   - [ErrAlreadyExists] - put without override on a live id (405)
//   - [ErrInvalidContent] - content is not an object (700)
//   - [ErrConflict] - stale revision (409)
//   - [ErrConnection] - transport failure (transport status, 503, 504)
package store
