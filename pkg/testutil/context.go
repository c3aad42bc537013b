package testutil

import (
	"context"
	"net/http"
	"time"

	id "membership/pkg/domain"
	"membership/pkg/requestcontext"
)

// WithActor sets the gateway-forwarded account header on a request.
func WithActor(req *http.Request, accountID id.AccountID) *http.Request {
	req.Header.Set("X-Account-ID", accountID.String())
	return req
}

// At returns a context pinned to the given instant, acting as actor when non-zero.
func At(now time.Time, actor id.AccountID) context.Context {
	ctx := requestcontext.WithTime(context.Background(), now)
	if !actor.IsNil() {
		ctx = requestcontext.WithActorID(ctx, actor)
	}
	return ctx
}

// Day builds a midnight-UTC date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
