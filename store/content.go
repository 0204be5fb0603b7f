package store

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Store-managed fields surfaced by Document.Content.
const (
	FieldID  = "_id"
	FieldRev = "_rev"
)

// Content is the field set of a document. Values are JSON-shaped:
// nil, bool, json.Number, string, []any or map[string]any. Numbers keep
// their decimal text so integers beyond 2^53 survive a round trip.
type Content map[string]any

// Clone returns a deep copy of c.
func (c Content) Clone() Content {
	if c == nil {
		return Content{}
	}
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// NewContent validates v as document content. v must be a map or a struct
// (or a pointer to one) that encodes to a JSON object. A nil map is empty
// content; a nil interface or nil pointer is rejected. The store-managed
// fields _id and _rev are dropped; any other key with a leading underscore
// is rejected.
func NewContent(v any) (Content, error) {
	raw, err := toObject(v)
	if err != nil {
		return nil, err
	}
	out := make(Content, len(raw))
	for k, val := range raw {
		if k == FieldID || k == FieldRev {
			continue
		}
		if strings.HasPrefix(k, "_") {
			return nil, invalidContentError(k, "field name without leading underscore")
		}
		out[k] = val
	}
	return out, nil
}

// toObject normalizes v into a JSON-shaped map.
func toObject(v any) (map[string]any, error) {
	if v == nil {
		return nil, invalidContentError("content", "object")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, invalidContentError("content", "object")
	}
	out, err := DecodeObject(b)
	if err != nil {
		return nil, invalidContentError("content", "object")
	}
	if out == nil {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Map {
			return map[string]any{}, nil
		}
		return nil, invalidContentError("content", "object")
	}
	return out, nil
}

// DecodeObject decodes a JSON object, keeping numbers as json.Number.
// A JSON null decodes to a nil map.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
