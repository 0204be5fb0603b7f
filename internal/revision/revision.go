// Package revision generates CouchDB-style revision tokens and document ids
// for backends that do not assign them natively.
package revision

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Next computes the revision following prev for a document holding fields.
// Revisions take the form "<generation>-<md5 hex>"; the generation is one
// more than prev's (1 when prev is empty or malformed). The digest covers
// prev and the JSON encoding of fields, so identical edits on the same
// parent produce the same token.
func Next(prev string, fields map[string]any) string {
	body, err := json.Marshal(fields)
	if err != nil {
		body = []byte(fmt.Sprintf("%v", fields))
	}
	h := md5.New()
	h.Write([]byte(prev))
	h.Write(body)
	return fmt.Sprintf("%d-%s", Generation(prev)+1, hex.EncodeToString(h.Sum(nil)))
}

// Tombstone computes the revision recorded when a document is deleted.
func Tombstone(prev string) string {
	return Next(prev, map[string]any{"_deleted": true})
}

// Generation returns the numeric prefix of rev, or 0 if rev is malformed.
func Generation(rev string) int {
	prefix, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Valid reports whether rev has the "<generation>-<hash>" form.
func Valid(rev string) bool {
	_, hash, ok := strings.Cut(rev, "-")
	return ok && hash != "" && Generation(rev) > 0
}

// NewID returns a random 32-character hex document id.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
