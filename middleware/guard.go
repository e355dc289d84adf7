package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// SessionCookie is the cookie RequireSession reads when no Authorization
// header is present.
const SessionCookie = "goguard_session"

// RefreshedTokenHeader carries the re-signed token after revalidation.
const RefreshedTokenHeader = "X-Session-Token"

type sessionContextKey struct{}

// SessionFromContext returns the session validated by RequireSession.
func SessionFromContext(ctx context.Context) (*goGuard.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*goGuard.SessionInfo)
	return info, ok
}

// RequestContext copies the caller IP and User-Agent into the request
// context. With trustProxy set, the first X-Forwarded-For entry (or
// X-Real-IP) wins over RemoteAddr.
func RequestContext(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := goGuard.WithClientIP(r.Context(), clientIP(r, trustProxy))
			ctx = goGuard.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireSession rejects requests without a valid session token. When the
// engine revalidates the session, the new token is returned in
// RefreshedTokenHeader and, for cookie clients, a replacement cookie.
func RequireSession(engine *goGuard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, fromCookie := sessionToken(r)
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, goGuard.ErrUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if info.Refreshed {
				w.Header().Set(RefreshedTokenHeader, info.Token)
				if fromCookie {
					SetSessionCookie(w, info)
				}
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSessionCookie writes info.Token as an HTTP-only session cookie.
func SetSessionCookie(w http.ResponseWriter, info *goGuard.SessionInfo) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    info.Token,
		Path:     "/",
		Expires:  info.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, false
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
