package dynamo

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// toAttrNumbers copies v with json.Number values retyped so MarshalMap
// writes them as N attributes instead of strings.
func toAttrNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		return attributevalue.Number(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toAttrNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toAttrNumbers(e)
		}
		return out
	default:
		return v
	}
}

// fromAttrNumbers reverses toAttrNumbers on a decoded document.
func fromAttrNumbers(v any) any {
	switch t := v.(type) {
	case attributevalue.Number:
		return json.Number(t)
	case map[string]any:
		for k, e := range t {
			t[k] = fromAttrNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = fromAttrNumbers(e)
		}
		return t
	default:
		return v
	}
}
