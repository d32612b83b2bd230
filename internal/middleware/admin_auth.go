package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aquaflow/sensorhub/internal/tokens"
)

const subjectKey contextKey = "admin_subject"

// SubjectFrom returns the operator subject of the validated admin
// token, or empty outside an AdminAuth-guarded handler.
func SubjectFrom(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey).(string)
	return subject
}

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

// AdminAuth guards administrative endpoints with a bearer token.
// Device submission and the read paths stay open; only destructive
// operations sit behind this.
type AdminAuth struct {
	tokens TokenValidator
}

func NewAdminAuth(t TokenValidator) *AdminAuth {
	return &AdminAuth{tokens: t}
}

func (m *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil || claims.Role != tokens.RoleAdmin {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, claims.Subject)))
	})
}
