package requestctx

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithIdentityKey records the resolved identity key for downstream logging.
func WithIdentityKey(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, key)
}

func IdentityKey(ctx context.Context) string {
	return stringValue(ctx, identityKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
