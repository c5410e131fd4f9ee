package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/onnwee/clockguard/internal/auth"
)

// authError writes a minimal JSON error body without importing the api
// package (which would create an import cycle).
func authError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
}

// Auth validates the bearer token and stores the actor's user ID and role in
// the request context. Requests without a valid token are rejected with 401.
func Auth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				UpdateResponseContext(w, SetErrorCode(r.Context(), "auth_failed"))
				authError(w, http.StatusUnauthorized, "auth_failed", "Missing bearer token")
				return
			}

			claims, err := jwtService.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				UpdateResponseContext(w, SetErrorCode(r.Context(), "auth_failed"))
				authError(w, http.StatusUnauthorized, "auth_failed", "Invalid or expired token")
				return
			}

			ctx := SetActor(r.Context(), claims.Subject, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose authenticated actor does not hold the
// given role. Must be applied after Auth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetActorRole(r.Context()) != role {
				UpdateResponseContext(w, SetErrorCode(r.Context(), "forbidden"))
				authError(w, http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
