package api

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"stockguard/internal/auth"
	"stockguard/internal/throttle"
)

// authedHandler is a handler that runs after session authentication.
type authedHandler func(w http.ResponseWriter, r *http.Request, session *auth.Session)

// requireAuth wraps a handler with bearer-token session authentication.
func (h *Handler) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing_token", "authorization required")
			return
		}

		session, err := h.auth.Authenticate(r.Context(), token)
		switch {
		case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionExpired):
			h.writeError(w, http.StatusUnauthorized, "invalid_session", "session is invalid or expired")
		case err != nil:
			h.logger.Error("session lookup failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "session_error", "session store unavailable")
		default:
			next(w, r, session)
		}
	}
}

// requirePermission wraps a handler with authentication plus a role
// permission check.
func (h *Handler) requirePermission(perm auth.Permission, next authedHandler) http.HandlerFunc {
	return h.requireAuth(func(w http.ResponseWriter, r *http.Request, session *auth.Session) {
		if !auth.HasPermission(session.Role, perm) {
			h.writeError(w, http.StatusForbidden, "forbidden", "role does not permit this operation")
			return
		}
		next(w, r, session)
	})
}

// RateLimitMiddleware enforces the per-client request limit before any
// route handling.
func RateLimitMiddleware(guard *throttle.Guard, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := getClientIP(r, trustProxy)
			decision := guard.AllowRequest(client)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				retry := int(decision.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"code":"RATE_LIMITED","message":"too many requests","retry_after":` + strconv.Itoa(retry) + `}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware sets defensive response headers on every
// response.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("X-Content-Type-Options", "nosniff")
		hdr.Set("X-Frame-Options", "DENY")
		hdr.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		hdr.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			hdr.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// getClientIP returns the client address used for rate limiting. When
// trustProxy is set, the rightmost X-Forwarded-For entry wins since it
// was appended by our own proxy.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientAddr(r *http.Request) string {
	return getClientIP(r, false)
}
