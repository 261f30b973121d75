package logging

import "context"

type requestIDKey struct{}

// ContextWithRequestID attaches a request correlation ID to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID attached to ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// FromContext returns a request-scoped logger for category, using the
// request ID attached to ctx.
func FromContext(ctx context.Context, category Category) *RequestLogger {
	return WithRequestID(category, RequestIDFromContext(ctx))
}
