package marketauth

import "context"

type clientIPContextKey struct{}
type authContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP rate limiting and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ContextWithAuth attaches a verified identity to ctx.
func ContextWithAuth(ctx context.Context, auth AuthenticatedContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the identity attached by [ContextWithAuth].
func AuthFromContext(ctx context.Context) (AuthenticatedContext, bool) {
	if ctx == nil {
		return AuthenticatedContext{}, false
	}
	auth, ok := ctx.Value(authContextKey{}).(AuthenticatedContext)
	if !ok || auth.IsZero() {
		return AuthenticatedContext{}, false
	}
	return auth, true
}

// ClientIPFromContext returns the address attached by [WithClientIP].
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
