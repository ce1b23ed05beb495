package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
)

// Authentication happens upstream; the gateway forwards the resolved
// principal in these headers.
const (
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalRole = "X-Principal-Role"
)

type principalKey struct{}

func withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", HeaderPrincipalID+" header is required")
			return
		}
		role, err := domain.ParseRole(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderPrincipalRole))))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, domain.Principal{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey{}).(domain.Principal)
	return p
}
