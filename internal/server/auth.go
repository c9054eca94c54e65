package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
)

const authRealm = "tscbot"

// apiKeyGuard checks "Authorization: Bearer <key>" on the /api routes. Only
// the key's digest is held so comparisons take the same time whatever the
// presented token's length.
type apiKeyGuard struct {
	digest [sha256.Size]byte
}

// authMiddleware wraps next with the guard. An empty apiKey disables auth;
// New warns about that once at startup.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	g := apiKeyGuard{digest: sha256.Sum256([]byte(apiKey))}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reason := g.reject(r); reason != "" {
			logging.FromContext(r.Context()).Warn("auth: request rejected",
				slog.String("reason", reason),
				slog.String("path", r.URL.Path),
			)
			challenge(w, r, reason)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reject returns "" for an accepted request, otherwise the RFC 6750 error
// code: "invalid_request" without a bearer token, "invalid_token" for a
// wrong one.
func (g apiKeyGuard) reject(r *http.Request) string {
	token := bearerToken(r)
	if token == "" {
		return "invalid_request"
	}
	sum := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(sum[:], g.digest[:]) != 1 {
		return "invalid_token"
	}
	return ""
}

func challenge(w http.ResponseWriter, r *http.Request, code string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q, error=%q", authRealm, code))
	msg := "authorization required"
	if code == "invalid_token" {
		msg = "invalid token"
	}
	writeError(w, r, http.StatusUnauthorized, msg)
}

// bearerToken returns the credentials of a Bearer Authorization header, or
// "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
