// Package admin guards operator endpoints with shared tokens.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"membership/pkg/requestcontext"
)

const HeaderToken = "X-Admin-Token"

// ParseTokens splits a comma-separated token list, dropping blanks. Several
// tokens let operators rotate without downtime.
func ParseTokens(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RequireToken admits requests whose X-Admin-Token matches one of tokens.
// With no tokens every request is refused.
func RequireToken(tokens []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !matches(r.Header.Get(HeaderToken), tokens) {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// matches compares against every token so timing does not reveal which one
// was close.
func matches(got string, tokens []string) bool {
	if got == "" {
		return false
	}
	ok := 0
	for _, t := range tokens {
		ok |= subtle.ConstantTimeCompare([]byte(got), []byte(t))
	}
	return ok == 1
}
