package goGuard

import (
	"context"

	"github.com/MrEthical07/goGuard/store"
)

// UnknownClient is recorded when a request carries no IP or User-Agent.
// Per-IP analytics ignore it.
const UnknownClient = store.UnknownIP

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for the per-IP login limit, audit events and last-login tracking.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return UnknownClient
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	if ip == "" {
		return UnknownClient
	}
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return UnknownClient
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	if userAgent == "" {
		return UnknownClient
	}
	return userAgent
}

// knownClientIP is the caller IP, or "" when it was not supplied.
func knownClientIP(ctx context.Context) string {
	ip := clientIPFromContext(ctx)
	if ip == UnknownClient {
		return ""
	}
	return ip
}
