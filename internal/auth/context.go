package auth

import "context"

type contextKey string

const adminKeyPrefixKey contextKey = "admin_key_prefix"

// ContextWithAdmin marks ctx as authenticated by the admin key with prefix.
func ContextWithAdmin(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, adminKeyPrefixKey, prefix)
}

// AdminFromContext returns the prefix of the admin key that authenticated
// the request, if any.
func AdminFromContext(ctx context.Context) (string, bool) {
	prefix, ok := ctx.Value(adminKeyPrefixKey).(string)
	return prefix, ok
}
