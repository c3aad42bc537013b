// Package attrs works on slog style key/value lists.
package attrs

import (
	"context"

	"membership/pkg/requestcontext"
)

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}

// Audit returns the arguments of an audit log line: the caller's attributes,
// the request id when the context has one and the caller did not set it, and
// the event and log_type markers.
func Audit(ctx context.Context, event string, attributes ...any) []any {
	args := make([]any, 0, len(attributes)+6)
	args = append(args, attributes...)
	if ExtractString(attributes, "request_id") == "" {
		if requestID := requestcontext.RequestID(ctx); requestID != "" {
			args = append(args, "request_id", requestID)
		}
	}
	return append(args, "event", event, "log_type", "audit")
}
