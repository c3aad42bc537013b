// Package actor resolves the acting account for a request.
//
// Federated login terminates at the gateway in front of this service, which
// forwards the authenticated account in the X-Account-ID header.
package actor

import (
	"log/slog"
	"net/http"

	id "membership/pkg/domain"
	"membership/pkg/requestcontext"
)

const HeaderAccountID = "X-Account-ID"

// RequireActor rejects requests without a valid account header and stores the
// account in the request context.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			accountID, err := id.ParseAccountID(r.Header.Get(HeaderAccountID))
			if err != nil {
				logger.WarnContext(ctx, "missing or invalid actor",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"authenticated account required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActorID(ctx, accountID)))
		})
	}
}
