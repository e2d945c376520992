package api

import "context"

// requestIDContextKeyType is a private type for the request ID context key.
type requestIDContextKeyType string

const requestIDContextKey requestIDContextKeyType = "requestID"

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDContextKey).(string); ok {
		return v
	}
	return ""
}

// appendRequestID appends the request ID to log attributes when present.
func appendRequestID(ctx context.Context, attrs []any) []any {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	return attrs
}
