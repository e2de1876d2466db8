package httpx

import (
	"context"
	"net/http"
	"strings"
)

// OwnerHeader carries the business identity set by the upstream gateway.
const OwnerHeader = "X-Owner-ID"

type ownerKey struct{}

// ContextWithOwner stores the owner identity in ctx.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner identity, empty when absent.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// OwnerMiddleware copies the owner header into the request context.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner != "" {
			r = r.WithContext(ContextWithOwner(r.Context(), owner))
		}
		next.ServeHTTP(w, r)
	})
}
