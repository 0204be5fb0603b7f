// Package storetest provides a conformance suite for store.Backend
// implementations.
package storetest

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/jacentio/sofa/internal/revision"
	"github.com/jacentio/sofa/store"
)

// RunBackend exercises b against cfg.Database, which must already exist.
// Document ids are random so the suite can run against shared databases.
func RunBackend(t *testing.T, b store.Backend, cfg store.Config) {
	t.Helper()
	ctx := context.Background()

	connect := func(t *testing.T) store.Session {
		t.Helper()
		sess, err := b.Connect(ctx, cfg)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() {
			if err := sess.Close(); err != nil {
				t.Errorf("close: %v", err)
			}
		})
		return sess
	}

	t.Run("database exists", func(t *testing.T) {
		sess := connect(t)
		ok, err := sess.DatabaseExists(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected database %q to exist", cfg.Database)
		}
	})

	t.Run("missing database", func(t *testing.T) {
		missing := cfg
		missing.Database = "sofa_missing_" + shortID()
		sess, err := b.Connect(ctx, missing)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer sess.Close()
		ok, err := sess.DatabaseExists(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatalf("expected database %q to be absent", missing.Database)
		}
	})

	t.Run("missing document", func(t *testing.T) {
		sess := connect(t)
		id := "missing-" + shortID()
		if _, ok, err := sess.Revision(ctx, id); err != nil || ok {
			t.Fatalf("Revision: ok=%v err=%v, want absent", ok, err)
		}
		if _, ok, err := sess.Fetch(ctx, id); err != nil || ok {
			t.Fatalf("Fetch: ok=%v err=%v, want absent", ok, err)
		}
	})

	t.Run("create and fetch", func(t *testing.T) {
		sess := connect(t)
		id := "doc-" + shortID()
		rec, err := sess.Create(ctx, id, map[string]any{
			"name":  "a",
			"count": json.Number("2"),
			"big":   int64(9007199254740993),
		})
		if err != nil {
			t.Fatal(err)
		}
		if rec.ID != id {
			t.Errorf("expected id %q, got %q", id, rec.ID)
		}
		if !revision.Valid(rec.Rev) {
			t.Errorf("expected a <generation>-<hash> revision, got %q", rec.Rev)
		}

		rev, ok, err := sess.Revision(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Revision: ok=%v err=%v", ok, err)
		}
		if rev != rec.Rev {
			t.Errorf("expected revision %q, got %q", rec.Rev, rev)
		}

		got, ok, err := sess.Fetch(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Fetch: ok=%v err=%v", ok, err)
		}
		if got.Rev != rec.Rev {
			t.Errorf("expected revision %q, got %q", rec.Rev, got.Rev)
		}
		if got.Fields["name"] != "a" {
			t.Errorf("expected name a, got %v", got.Fields["name"])
		}
		if got.Fields["count"] != json.Number("2") {
			t.Errorf("expected count 2 as json.Number, got %v (%T)", got.Fields["count"], got.Fields["count"])
		}
		if got.Fields["big"] != json.Number("9007199254740993") {
			t.Errorf("expected big 9007199254740993, got %v (%T)", got.Fields["big"], got.Fields["big"])
		}
	})

	t.Run("create assigns id", func(t *testing.T) {
		sess := connect(t)
		rec, err := sess.Create(ctx, "", map[string]any{"name": "anon"})
		if err != nil {
			t.Fatal(err)
		}
		if rec.ID == "" {
			t.Fatal("expected an assigned id")
		}
		if _, ok, err := sess.Revision(ctx, rec.ID); err != nil || !ok {
			t.Fatalf("Revision(%q): ok=%v err=%v", rec.ID, ok, err)
		}
	})

	t.Run("create over live id conflicts", func(t *testing.T) {
		sess := connect(t)
		id := "dup-" + shortID()
		if _, err := sess.Create(ctx, id, map[string]any{"v": "1"}); err != nil {
			t.Fatal(err)
		}
		_, err := sess.Create(ctx, id, map[string]any{"v": "2"})
		if got := store.StatusCode(err); got != http.StatusConflict {
			t.Fatalf("expected status 409, got %d (%v)", got, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		sess := connect(t)
		id := "del-" + shortID()
		rec, err := sess.Create(ctx, id, map[string]any{"v": "1"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sess.Delete(ctx, id, rec.Rev); err != nil {
			t.Fatal(err)
		}
		if _, ok, err := sess.Fetch(ctx, id); err != nil || ok {
			t.Fatalf("Fetch after delete: ok=%v err=%v, want absent", ok, err)
		}
		if _, ok, err := sess.Revision(ctx, id); err != nil || ok {
			t.Fatalf("Revision after delete: ok=%v err=%v, want absent", ok, err)
		}
	})

	t.Run("delete stale revision conflicts", func(t *testing.T) {
		sess := connect(t)
		id := "stale-" + shortID()
		if _, err := sess.Create(ctx, id, map[string]any{"v": "1"}); err != nil {
			t.Fatal(err)
		}
		_, err := sess.Delete(ctx, id, "1-00000000000000000000000000000000")
		if got := store.StatusCode(err); got != http.StatusConflict {
			t.Fatalf("expected status 409, got %d (%v)", got, err)
		}
	})

	t.Run("delete missing", func(t *testing.T) {
		sess := connect(t)
		_, err := sess.Delete(ctx, "missing-"+shortID(), "1-00000000000000000000000000000000")
		if got := store.StatusCode(err); got != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d (%v)", got, err)
		}
	})

	t.Run("recreate after delete", func(t *testing.T) {
		sess := connect(t)
		id := "again-" + shortID()
		first, err := sess.Create(ctx, id, map[string]any{"v": "1"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sess.Delete(ctx, id, first.Rev); err != nil {
			t.Fatal(err)
		}
		second, err := sess.Create(ctx, id, map[string]any{"v": "2"})
		if err != nil {
			t.Fatal(err)
		}
		if second.Rev == first.Rev {
			t.Errorf("expected a new revision, got %q twice", first.Rev)
		}
		got, ok, err := sess.Fetch(ctx, id)
		if err != nil || !ok {
			t.Fatalf("Fetch: ok=%v err=%v", ok, err)
		}
		if got.Fields["v"] != "2" {
			t.Errorf("expected v=2, got %v", got.Fields["v"])
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		sess, err := b.Connect(ctx, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if err := sess.Close(); err != nil {
			t.Fatal(err)
		}
		if err := sess.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
	})
}

func shortID() string {
	return uuid.New().String()[:8]
}
