package middleware

import (
	"net/http"
	"strings"

	"github.com/sunutaxe/payment-service/internal"
	"github.com/sunutaxe/payment-service/internal/auth"
	"github.com/sunutaxe/payment-service/pkg/logger"
)

// ServiceAuth authenticates machine clients by their bearer service token
// and places the client ID in the request context. Webhook routes never
// pass through here; providers authenticate with signatures instead.
func ServiceAuth(authService auth.ServiceAPI) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := authService.ValidateAccessToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := internal.ContextWithClientID(r.Context(), claims.ClientID)
			ctx = logger.With(ctx, "client_id", claims.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
