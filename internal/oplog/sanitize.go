package oplog

import (
	"encoding/json"
	"fmt"
	"time"
)

// encodeDetails renders log details as JSON. Values that do not marshal
// cleanly are coerced to strings rather than dropped, so a surprising value
// in a detail map can never lose the entry.
func encodeDetails(details map[string]any) string {
	if len(details) == 0 {
		return "{}"
	}
	sanitized := make(map[string]any, len(details))
	for key, value := range details {
		sanitized[key] = jsonSafe(value)
	}
	encoded, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Sprintf(`{"encode_error":%q}`, err.Error())
	}
	return string(encoded)
}

func jsonSafe(value any) any {
	switch typed := value.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		json.RawMessage:
		return typed
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case time.Duration:
		return typed.String()
	case error:
		return typed.Error()
	case fmt.Stringer:
		return typed.String()
	case map[string]any:
		nested := make(map[string]any, len(typed))
		for key, item := range typed {
			nested[key] = jsonSafe(item)
		}
		return nested
	case []any:
		nested := make([]any, len(typed))
		for index, item := range typed {
			nested[index] = jsonSafe(item)
		}
		return nested
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return json.RawMessage(encoded)
	}
}
